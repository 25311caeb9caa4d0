// Package security implements the worker-facing gateway: HMAC request
// signing, an IP allowlist and per-address rate limiting. Every check reads
// its toggle and parameters from the live settings on each request.
package security

import (
	"fmt"
	"net/http"
	"time"
)

// Check names a gateway stage.
type Check string

const (
	CheckSignature Check = "signature"
	CheckAllowlist Check = "allowlist"
	CheckRateLimit Check = "rate_limit"
	CheckBody      Check = "body"
)

// Rejection reasons.
const (
	ReasonMissing       = "missing"
	ReasonMalformed     = "malformed"
	ReasonExpired       = "expired"
	ReasonInvalid       = "invalid"
	ReasonNoSecret      = "secret not configured"
	ReasonNotAllowed    = "address not allowed"
	ReasonLimitExceeded = "rate limit exceeded"
	ReasonTooLarge      = "request body too large"
)

// Rejection is returned when a request fails a gateway check.
type Rejection struct {
	Check      Check
	Reason     string
	Status     int
	RetryAfter time.Duration
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("security: %s rejected: %s", r.Check, r.Reason)
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds, at least 1.
func (r *Rejection) RetryAfterSeconds() int {
	secs := int((r.RetryAfter + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

func unauthorized(reason string) *Rejection {
	return &Rejection{Check: CheckSignature, Reason: reason, Status: http.StatusUnauthorized}
}
