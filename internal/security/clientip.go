package security

import (
	"net"
	"net/http"
)

// ClientIP returns the caller address of r. The router runs chi's RealIP
// middleware first, so RemoteAddr already reflects X-Forwarded-For or
// X-Real-IP when a proxy set them.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
