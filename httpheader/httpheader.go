// Package httpheader implements the small set of HTTP header codecs the
// UPnP control/description/presentation endpoints need: Range,
// Accept-Language, a cached User-Agent string, and content-type sniffing.
// The teacher builds headers with ad hoc fmt.Sprintf calls inline
// (upnp/server.go's ServeXML); this package factors that into reusable,
// testable codecs.
package httpheader

import (
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// Range is a byte range request, resolved to an absolute offset/length.
type Range struct {
	Offset int64
	Length int64
}

// ParseRange parses a "Range: bytes=a-b" or "bytes=a-" header against a
// resource of defaultLength bytes. "bytes=-b" (suffix range) is rejected,
// per spec.
func ParseRange(header string, defaultLength int64) (Range, error) {
	const prefix = "bytes="
	if !strings.HasPrefix(header, prefix) {
		return Range{}, fmt.Errorf("httpheader: invalid range header %q", header)
	}
	spec := strings.TrimPrefix(header, prefix)
	if strings.Contains(spec, ",") {
		return Range{}, fmt.Errorf("httpheader: multi-range not supported: %q", header)
	}
	dash := strings.IndexByte(spec, '-')
	if dash < 0 {
		return Range{}, fmt.Errorf("httpheader: malformed range %q", header)
	}
	startStr, endStr := spec[:dash], spec[dash+1:]
	if startStr == "" {
		return Range{}, fmt.Errorf("httpheader: suffix ranges (bytes=-b) are rejected")
	}

	start, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil || start < 0 {
		return Range{}, fmt.Errorf("httpheader: invalid range start %q", startStr)
	}

	if endStr == "" {
		if start >= defaultLength {
			return Range{}, fmt.Errorf("httpheader: range start %d beyond length %d", start, defaultLength)
		}
		return Range{Offset: start, Length: defaultLength - start}, nil
	}

	end, err := strconv.ParseInt(endStr, 10, 64)
	if err != nil || end < start {
		return Range{}, fmt.Errorf("httpheader: invalid range end %q", endStr)
	}
	if end >= defaultLength {
		end = defaultLength - 1
	}
	return Range{Offset: start, Length: end - start + 1}, nil
}

// LocaleTag is a single Accept-Language entry: a language tag with its
// quality weight.
type LocaleTag struct {
	Tag string
	Q   float64
}

// ParseAcceptLanguage parses an Accept-Language header into an ordered
// list of locales, highest quality first. Ties preserve header order
// (stable sort). Wildcard ("*") and empty entries are dropped.
func ParseAcceptLanguage(header string) []string {
	var tags []LocaleTag
	for _, part := range strings.Split(header, ",") {
		part = strings.TrimSpace(part)
		if part == "" || part == "*" {
			continue
		}
		tag, q := part, 1.0
		if i := strings.IndexByte(part, ';'); i >= 0 {
			tag = strings.TrimSpace(part[:i])
			qPart := strings.TrimSpace(part[i+1:])
			if strings.HasPrefix(qPart, "q=") {
				if parsed, err := strconv.ParseFloat(strings.TrimPrefix(qPart, "q="), 64); err == nil {
					q = parsed
				}
			}
		}
		if tag == "" || tag == "*" {
			continue
		}
		tags = append(tags, LocaleTag{Tag: tag, Q: q})
	}

	sort.SliceStable(tags, func(i, j int) bool { return tags[i].Q > tags[j].Q })

	out := make([]string, len(tags))
	for i, t := range tags {
		out[i] = t.Tag
	}
	return out
}

// AcceptLanguageFromLocale converts a process locale string (e.g.
// "en_US.UTF-8") into an Accept-Language header value, e.g.
// "en-US;q=1, en;q=0.5".
func AcceptLanguageFromLocale(locale string) string {
	locale = strings.SplitN(locale, ".", 2)[0] // drop encoding suffix
	locale = strings.ReplaceAll(locale, "_", "-")
	if locale == "" || locale == "C" || locale == "POSIX" {
		return "en;q=1"
	}
	tag := locale
	if dash := strings.IndexByte(locale, '-'); dash > 0 {
		lang := locale[:dash]
		return fmt.Sprintf("%s;q=1, %s;q=0.5", tag, lang)
	}
	return fmt.Sprintf("%s;q=1", tag)
}

var (
	userAgentMu    sync.Mutex
	userAgentCache = map[string]string{}
)

// UserAgentFor builds (and process-wide caches) a User-Agent string in the
// shape UPnP control points expect: "<app> GUPnP/<ver> DLNADOC/1.50".
func UserAgentFor(appName, libVersion string) string {
	key := appName + "\x00" + libVersion
	userAgentMu.Lock()
	defer userAgentMu.Unlock()
	if ua, ok := userAgentCache[key]; ok {
		return ua
	}
	ua := fmt.Sprintf("%s GUPnP/%s DLNADOC/1.50", appName, libVersion)
	userAgentCache[key] = ua
	return ua
}

// ServerHeader builds the "Server:" string the runtime advertises on
// description/SCPD/SOAP responses, grounded on upnp/server.go's
// "<os>/<arch> UPnP/1.1 <app>/<ver>" format.
func ServerHeader(osName, arch, appName, appVersion string) string {
	return fmt.Sprintf("%s/%s UPnP/1.1 %s/%s", osName, arch, appName, appVersion)
}

// GuessContentType guesses the content type of a resource from its path
// extension, falling back to sniffing prefixBytes, and finally to
// application/octet-stream.
func GuessContentType(path string, prefixBytes []byte) string {
	if ext := filepath.Ext(path); ext != "" {
		if ct := mime.TypeByExtension(ext); ct != "" {
			return ct
		}
	}
	if len(prefixBytes) > 0 {
		if ct := http.DetectContentType(prefixBytes); ct != "" && ct != "application/octet-stream" {
			return ct
		}
	}
	return "application/octet-stream"
}

// processLocale reads the process locale the way a Unix process would,
// from the standard LC_ALL/LC_MESSAGES/LANG environment fallback chain.
func processLocale() string {
	for _, name := range []string{"LC_ALL", "LC_MESSAGES", "LANG"} {
		if v := os.Getenv(name); v != "" {
			return v
		}
	}
	return "C"
}

// AcceptLanguageFromProcessLocale is the zero-argument convenience that
// proxy.Call uses when building outbound request headers; it
// wraps AcceptLanguageFromLocale(processLocale()).
func AcceptLanguageFromProcessLocale() string {
	return AcceptLanguageFromLocale(processLocale())
}
