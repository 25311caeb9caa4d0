package security

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/HoangAnhDev1805/checkpool/internal/settings"
)

// maxBodyBytes bounds the body read for signature verification.
const maxBodyBytes = 1 << 20

// RejectFunc writes the response for a failed check.
type RejectFunc func(w http.ResponseWriter, r *http.Request, rej *Rejection)

// IdentifyFunc names the caller of a request for the rejection audit log.
// It sees the raw body and returns "" when the request carries no identity.
type IdentifyFunc func(r *http.Request, body []byte) string

// Gateway applies signature, allowlist and rate-limit checks in that order.
type Gateway struct {
	settings settings.Provider
	limiter  Limiter
	now      func() time.Time
}

// NewGateway returns a Gateway reading live settings from p.
func NewGateway(p settings.Provider, limiter Limiter) *Gateway {
	return &Gateway{settings: p, limiter: limiter, now: time.Now}
}

// Check runs every enabled check against r, whose body has already been
// read into body. It returns nil or a *Rejection.
func (g *Gateway) Check(ctx context.Context, r *http.Request, body []byte) *Rejection {
	cfg := g.settings.Security(ctx)
	ip := ClientIP(r)

	if cfg.Signature.Enabled {
		if err := VerifySignature(cfg.Signature, r, body, g.now()); err != nil {
			var rej *Rejection
			if errors.As(err, &rej) {
				return rej
			}
			return unauthorized(ReasonInvalid)
		}
	}

	if cfg.Allowlist.Enabled && !Allowed(cfg.Allowlist.Entries, ip) {
		return &Rejection{Check: CheckAllowlist, Reason: ReasonNotAllowed, Status: http.StatusForbidden}
	}

	if cfg.RateLimit.Enabled && g.limiter != nil {
		window := time.Duration(cfg.RateLimit.WindowSecs) * time.Second
		d, err := g.limiter.Allow(ctx, ip, cfg.RateLimit.MaxRequests, window)
		if err != nil {
			// Counters are best effort; an unreachable counter store
			// must not take the worker endpoint down with it.
			zap.L().Error("security: rate limiter unavailable, admitting request",
				zap.String("ip", ip), zap.Error(err))
			return nil
		}
		if !d.Allowed {
			return &Rejection{
				Check:      CheckRateLimit,
				Reason:     ReasonLimitExceeded,
				Status:     http.StatusTooManyRequests,
				RetryAfter: d.RetryAfter,
			}
		}
	}
	return nil
}

// Middleware wraps next with the gateway chain. The request body is read
// once for signing and replaced so handlers can decode it again. Bodies over
// maxBodyBytes are rejected rather than verified in part. identify may be nil.
func (g *Gateway) Middleware(reject RejectFunc, identify IdentifyFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
			if err != nil {
				reject(w, r, &Rejection{Check: CheckBody, Reason: ReasonMalformed, Status: http.StatusBadRequest})
				return
			}
			if len(body) > maxBodyBytes {
				rej := &Rejection{Check: CheckBody, Reason: ReasonTooLarge, Status: http.StatusRequestEntityTooLarge}
				zap.L().Warn("security: request rejected", auditFields(r, rej, "")...)
				reject(w, r, rej)
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			if rej := g.Check(r.Context(), r, body); rej != nil {
				caller := ""
				if identify != nil {
					caller = identify(r, body)
				}
				fields := auditFields(r, rej, caller)
				if rej.Status >= http.StatusInternalServerError {
					zap.L().Error("security: gateway misconfigured", fields...)
				} else {
					zap.L().Warn("security: request rejected", fields...)
				}
				reject(w, r, rej)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func auditFields(r *http.Request, rej *Rejection, caller string) []zap.Field {
	if caller == "" {
		caller = "anonymous"
	}
	return []zap.Field{
		zap.String("check", string(rej.Check)),
		zap.String("reason", rej.Reason),
		zap.String("caller", caller),
		zap.String("ip", ClientIP(r)),
		zap.String("path", r.URL.Path),
	}
}
