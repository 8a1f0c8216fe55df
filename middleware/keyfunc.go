package middleware

import (
	"net"
	"net/http"
	"strings"
)

// KeyFunc derives the rate-limit partition key for a request. It must be a
// pure function of request metadata: same request, same key.
type KeyFunc func(*http.Request) string

// SourceAddr resolves the key from the connection's source address with the
// port stripped.
func SourceAddr() KeyFunc {
	return func(r *http.Request) string {
		ip, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			// RemoteAddr without a port in some edge cases
			return r.RemoteAddr
		}
		return ip
	}
}

// SourceAddrTrustingProxy resolves the key from proxy headers when present,
// falling back to the source address. Only configure this behind a trusted
// reverse proxy: the headers are client-controlled otherwise.
func SourceAddrTrustingProxy() KeyFunc {
	direct := SourceAddr()
	return func(r *http.Request) string {
		// X-Forwarded-For is a comma-separated chain; the first entry is the
		// original client.
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first := strings.TrimSpace(strings.SplitN(xff, ",", 2)[0])
			if first != "" {
				return first
			}
		}
		if xri := r.Header.Get("X-Real-IP"); xri != "" {
			return xri
		}
		return direct(r)
	}
}
