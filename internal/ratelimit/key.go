package ratelimit

import (
	"net"
	"net/http"
	"strings"
)

// UnknownClient is the shared bucket used when no client address is usable.
// Every such request competes for the same budget.
const UnknownClient = "unknown"

// ClientKey derives the limiter key from the first valid X-Forwarded-For
// address, then the connection's remote address.
func ClientKey(r *http.Request) string {
	if xf := r.Header.Get("X-Forwarded-For"); xf != "" {
		for _, part := range strings.Split(xf, ",") {
			ip := strings.TrimSpace(part)
			if ip == "" {
				continue
			}
			if net.ParseIP(ip) != nil {
				return ip
			}
		}
	}

	remote := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(remote); err == nil {
		if net.ParseIP(host) != nil {
			return host
		}
	} else if net.ParseIP(remote) != nil {
		return remote
	}
	return UnknownClient
}
