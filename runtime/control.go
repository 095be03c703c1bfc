package runtime

import (
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/coissac-labs/halyard/httpheader"
	"github.com/coissac-labs/halyard/soapenvelope"
	"github.com/coissac-labs/halyard/upnptype"
)

const maxControlBodyBytes = 4 << 20 // 4 MiB

// handleControl is the SOAP control endpoint. Grounded on
// pmoupnp/serviceinstance.go's ControlHandler, generalized with the
// method/Content-Type/Host-header/ACL checks spec.md §4.5 adds and the
// teacher never performs.
func (s *Service) handleControl(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ct := r.Header.Get("Content-Type")
	if !strings.Contains(ct, "text/xml") && !strings.Contains(ct, "application/xml") && !strings.Contains(ct, "application/soap+xml") {
		w.WriteHeader(http.StatusUnsupportedMediaType)
		return
	}

	if s.host != nil {
		if boundIP, boundPort, ok := s.host.boundAddr(); ok {
			if !ValidateHostHeader(r.Host, boundIP, boundPort) {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
		}
	}

	action, urn, ok := parseSOAPAction(r.Header.Get("SOAPACTION"))
	if !ok {
		s.writeFault(w, 401, "")
		return
	}

	if !s.checkACL(r, r.URL.Path) {
		w.WriteHeader(http.StatusForbidden)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxControlBodyBytes))
	if err != nil {
		s.writeFault(w, 501, "Action Failed")
		return
	}

	env, err := soapenvelope.Parse(body)
	if err != nil {
		s.writeFault(w, 401, "")
		return
	}
	req, err := soapenvelope.ParseAction(env)
	if err != nil {
		s.writeFault(w, 401, "")
		return
	}
	if req.Action != action {
		s.writeFault(w, 401, "")
		return
	}

	desc, ok := s.Desc.FindAction(action)
	if !ok {
		s.writeFault(w, 401, "")
		return
	}

	// namespace preservation invariant: the action element's namespace
	// must equal this service's serviceType URN, on both the SOAPACTION
	// header and the body element itself.
	if urn != "" && urn != s.Desc.ServiceType {
		s.writeFault(w, 401, "")
		return
	}
	if req.URN != "" && req.URN != s.Desc.ServiceType {
		s.writeFault(w, 401, "")
		return
	}

	s.mu.RLock()
	handler := s.handlers[action]
	s.mu.RUnlock()
	if handler == nil {
		s.writeFault(w, 401, "")
		return
	}

	in := make(map[string]string, len(req.Args))
	for _, a := range req.Args {
		in[a.Name] = a.Value
	}

	aa := &ActiveAction{
		svc:        s,
		desc:       desc,
		in:         in,
		out:        make(map[string]upnptype.Value),
		acceptGzip: acceptsGzip(r),
		locales:    localesFromRequest(r),
	}

	if s.metrics != nil {
		s.metrics.actionsTotal.WithLabelValues(action).Inc()
	}
	start := time.Now()
	handler(aa)
	if s.metrics != nil {
		s.metrics.actionDuration.WithLabelValues(action).Observe(time.Since(start).Seconds())
	}

	if !aa.frozen {
		log.Warnf("runtime: action %s/%s returned without ReturnSuccess/ReturnError", s.Desc.ServiceID, action)
		s.writeFault(w, 501, "Action Failed")
		return
	}

	if aa.failed() {
		s.writeFault(w, aa.errCode, aa.errDesc)
		return
	}

	var outArgs []soapenvelope.Arg
	for _, arg := range desc.OutArgs() {
		v, ok := aa.out[arg.Name]
		if !ok {
			s.writeFault(w, 501, "Action Failed")
			return
		}
		outArgs = append(outArgs, soapenvelope.Arg{Name: arg.Name, Value: v.String()})
	}

	resp, err := soapenvelope.BuildResponse(s.Desc.ServiceType, action, outArgs)
	if err != nil {
		s.writeFault(w, 501, "Action Failed")
		return
	}

	w.Header().Set("Content-Type", `text/xml; charset="utf-8"`)
	if s.host != nil {
		w.Header().Set("Server", s.host.serverHeaderValue(s.AppName, s.AppVersion))
	}
	w.Header().Set("EXT", "")
	writeMaybeGzipped(w, r, resp)
}

func (s *Service) writeFault(w http.ResponseWriter, code int, description string) {
	if description == "" {
		description = defaultErrorMessages[code]
	}
	body, err := soapenvelope.BuildFault(code, description)
	w.Header().Set("Content-Type", `text/xml; charset="utf-8"`)
	w.WriteHeader(http.StatusInternalServerError)
	if err == nil {
		_, _ = w.Write(body)
	}
}

// parseSOAPAction extracts the action name and serviceType URN from a
// SOAPACTION header of the form `"urn:...#ActionName"`.
func parseSOAPAction(header string) (action, urn string, ok bool) {
	h := strings.Trim(strings.TrimSpace(header), `"`)
	idx := strings.LastIndex(h, "#")
	if idx < 0 {
		return "", "", false
	}
	return h[idx+1:], h[:idx], true
}

func localesFromRequest(r *http.Request) []string {
	al := r.Header.Get("Accept-Language")
	if al == "" {
		return nil
	}
	return httpheader.ParseAcceptLanguage(al)
}

func (h *Host) boundAddr() (net.IP, int, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.httpSrv == nil {
		return nil, 0, false
	}
	host, portStr, err := net.SplitHostPort(h.httpSrv.Addr)
	if err != nil || host == "" {
		// bound on all interfaces; Host header validation is skipped
		// since there is no single bound address to compare against.
		return nil, 0, false
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return nil, 0, false
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, 0, false
	}
	return ip, port, true
}

// handleSubscribe implements GENA SUBSCRIBE: NT+CALLBACK for a new
// subscription, SID-only for a renewal.
func (s *Service) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	if !s.checkACL(r, r.URL.Path) {
		w.WriteHeader(http.StatusForbidden)
		return
	}

	if sid := r.Header.Get("SID"); sid != "" {
		if r.Header.Get("NT") != "" || r.Header.Get("CALLBACK") != "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		timeout := parseTimeoutHeader(r.Header.Get("TIMEOUT"))
		eff, ok := s.subs.renew(sid, timeout)
		if !ok {
			w.WriteHeader(http.StatusPreconditionFailed)
			return
		}
		w.Header().Set("SID", sid)
		w.Header().Set("TIMEOUT", formatTimeoutHeader(eff))
		w.WriteHeader(http.StatusOK)
		return
	}

	nt := r.Header.Get("NT")
	callbackURLs := parseCallbackHeader(r.Header.Get("CALLBACK"))
	if nt != "upnp:event" || len(callbackURLs) == 0 {
		w.WriteHeader(http.StatusPreconditionFailed)
		return
	}

	timeout := parseTimeoutHeader(r.Header.Get("TIMEOUT"))
	sid, eff := s.subs.subscribe(callbackURLs, timeout)
	if s.metrics != nil {
		s.metrics.subscriptionsActive.Inc()
	}

	w.Header().Set("SID", sid)
	w.Header().Set("TIMEOUT", formatTimeoutHeader(eff))
	if s.host != nil {
		w.Header().Set("Server", s.host.serverHeaderValue(s.AppName, s.AppVersion))
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Service) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	if !s.checkACL(r, r.URL.Path) {
		w.WriteHeader(http.StatusForbidden)
		return
	}

	sid := r.Header.Get("SID")
	if sid == "" {
		w.WriteHeader(http.StatusPreconditionFailed)
		return
	}
	if !s.subs.unsubscribe(sid) {
		w.WriteHeader(http.StatusPreconditionFailed)
		return
	}
	if s.metrics != nil {
		s.metrics.subscriptionsActive.Dec()
	}
	w.WriteHeader(http.StatusOK)
}

// parseCallbackHeader splits a GENA CALLBACK header of the form
// "<http://a/cb><http://b/cb>" into its ordered list of URLs, per
// spec.md §3's callback_urls: ordered list<URL>. Each "<...>" segment is
// one URL; anything outside a pair of angle brackets is ignored.
func parseCallbackHeader(h string) []string {
	var urls []string
	for {
		start := strings.IndexByte(h, '<')
		if start < 0 {
			break
		}
		end := strings.IndexByte(h[start:], '>')
		if end < 0 {
			break
		}
		end += start
		if url := strings.TrimSpace(h[start+1 : end]); url != "" {
			urls = append(urls, url)
		}
		h = h[end+1:]
	}
	return urls
}

func parseTimeoutHeader(h string) time.Duration {
	const prefix = "Second-"
	if !strings.HasPrefix(h, prefix) {
		return defaultSubscriptionTimeout
	}
	n, err := strconv.Atoi(strings.TrimPrefix(h, prefix))
	if err != nil {
		return defaultSubscriptionTimeout
	}
	return time.Duration(n) * time.Second
}

func formatTimeoutHeader(d time.Duration) string {
	return "Second-" + strconv.Itoa(int(d.Seconds()))
}
