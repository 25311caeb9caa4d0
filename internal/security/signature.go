package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/HoangAnhDev1805/checkpool/internal/config"
)

// Signing headers.
const (
	HeaderSignature = "X-Signature"
	HeaderTimestamp = "X-Timestamp"
)

const defaultMaxSkew = 5 * time.Minute

// Sign returns the hex HMAC-SHA256 of method, path, unix timestamp and body
// joined by newlines.
func Sign(secret, method, path string, ts int64, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strings.ToUpper(method)))
	mac.Write([]byte{'\n'})
	mac.Write([]byte(path))
	mac.Write([]byte{'\n'})
	mac.Write([]byte(strconv.FormatInt(ts, 10)))
	mac.Write([]byte{'\n'})
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks the signing headers of r against body. A timestamp
// outside the skew window fails as expired before the signature is
// compared. An empty secret is a server misconfiguration, reported with a
// 500 status rather than letting requests through.
func VerifySignature(cfg config.SignatureConfig, r *http.Request, body []byte, now time.Time) error {
	if cfg.Secret == "" {
		return &Rejection{Check: CheckSignature, Reason: ReasonNoSecret, Status: http.StatusInternalServerError}
	}

	sig := r.Header.Get(HeaderSignature)
	tsRaw := r.Header.Get(HeaderTimestamp)
	if sig == "" || tsRaw == "" {
		return unauthorized(ReasonMissing)
	}
	ts, err := strconv.ParseInt(tsRaw, 10, 64)
	if err != nil {
		return unauthorized(ReasonMalformed)
	}

	skew := time.Duration(cfg.MaxSkewSecs) * time.Second
	if skew <= 0 {
		skew = defaultMaxSkew
	}
	if d := now.Sub(time.Unix(ts, 0)); d > skew || d < -skew {
		return unauthorized(ReasonExpired)
	}

	given, err := hex.DecodeString(strings.ToLower(sig))
	if err != nil {
		return unauthorized(ReasonMalformed)
	}
	want, _ := hex.DecodeString(Sign(cfg.Secret, r.Method, r.URL.Path, ts, body))
	if !hmac.Equal(given, want) {
		return unauthorized(ReasonInvalid)
	}
	return nil
}
