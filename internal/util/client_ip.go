package util

import (
	"net"
	"net/http"
	"strings"
)

// ClientIP resolves the caller IP from request metadata. Forwarded headers
// are only acknowledged when they parse; the direct peer wins otherwise.
func ClientIP(r *http.Request) string {
	if ip := parseIP(firstForwarded(r.Header.Get("X-Forwarded-For"))); ip != nil {
		return ip.String()
	}
	if ip := parseIP(r.Header.Get("X-Real-IP")); ip != nil {
		return ip.String()
	}
	if ip := parseRemoteIP(r.RemoteAddr); ip != nil {
		return ip.String()
	}
	return strings.TrimSpace(r.RemoteAddr)
}

func firstForwarded(raw string) string {
	if raw == "" {
		return ""
	}
	parts := strings.Split(raw, ",")
	return strings.TrimSpace(parts[0])
}

func parseRemoteIP(addr string) net.IP {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil
	}
	host, _, err := net.SplitHostPort(addr)
	if err == nil {
		return parseIP(host)
	}
	return parseIP(addr)
}

func parseIP(raw string) net.IP {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	return net.ParseIP(raw)
}
