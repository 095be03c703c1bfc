package runtime

import (
	"net"
	"strconv"
	"strings"
)

// ValidateHostHeader implements spec.md §4.5's validate_host_header: the
// Host header must name the exact IP and port this runtime is bound to.
// Accepts "IPv4[:port]" and "[IPv6][:port]"; rejects hostnames, a bare
// (unbracketed) IPv6 literal, and any zone-ID ("%..."). A missing port
// implies 80. The teacher never performs this check at all — every SOAP
// control request is accepted regardless of Host header.
func ValidateHostHeader(header string, boundIP net.IP, boundPort int) bool {
	header = strings.TrimSpace(header)
	if header == "" || strings.Contains(header, "%") {
		return false
	}

	var hostPart string
	var portPart string
	hasPort := false

	if strings.HasPrefix(header, "[") {
		end := strings.IndexByte(header, ']')
		if end < 0 {
			return false
		}
		hostPart = header[1:end]
		rest := header[end+1:]
		if rest == "" {
			// no port
		} else if strings.HasPrefix(rest, ":") {
			portPart = rest[1:]
			hasPort = true
		} else {
			return false
		}
	} else {
		if strings.Count(header, ":") > 1 {
			// a bare, unbracketed IPv6 literal
			return false
		}
		if idx := strings.LastIndexByte(header, ':'); idx >= 0 {
			hostPart = header[:idx]
			portPart = header[idx+1:]
			hasPort = true
		} else {
			hostPart = header
		}
	}

	ip := net.ParseIP(hostPart)
	if ip == nil {
		return false
	}

	port := 80
	if hasPort {
		p, err := strconv.Atoi(portPart)
		if err != nil || p < 0 || p > 65535 {
			return false
		}
		port = p
	}

	return ip.Equal(boundIP) && port == boundPort
}
