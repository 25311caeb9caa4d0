package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/HoangAnhDev1805/checkpool/internal/lease"
	"github.com/HoangAnhDev1805/checkpool/internal/legacy"
	"github.com/HoangAnhDev1805/checkpool/internal/resilience"
	"github.com/HoangAnhDev1805/checkpool/internal/security"
	"github.com/HoangAnhDev1805/checkpool/internal/session"
	"github.com/HoangAnhDev1805/checkpool/internal/store"
)

// Worker envelope codes. Fetch succeeds with ErrorOK but report succeeds
// with ErrorReported; existing checkers depend on both.
const (
	ErrorOK           = 0
	ErrorReported     = 1
	ErrorInvalid      = 2
	ErrorUnauthorized = 3
	ErrorForbidden    = 4
	ErrorRateLimited  = 5
	ErrorConflict     = 6
	ErrorUnavailable  = 7
	ErrorInternal     = 8
)

// WorkerEnvelope is the response shape of the checker-facing endpoints.
type WorkerEnvelope struct {
	ErrorId int    `json:"ErrorId"` //nolint:revive
	Title   string `json:"Title"`
	Message string `json:"Message"`
	Content any    `json:"Content"`
}

// Envelope is the response shape of the operator endpoints.
type Envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// failure is the transport view of an error.
type failure struct {
	status  int // operator HTTP status
	code    int // worker ErrorId
	title   string
	message string
}

// classify maps an error to its transport view. Only unavailability and
// unexpected errors are logged above Debug.
func classify(err error) failure {
	switch {
	case errors.Is(err, lease.ErrInvalid), errors.Is(err, session.ErrInvalid), errors.Is(err, legacy.ErrUnmapped):
		return failure{http.StatusBadRequest, ErrorInvalid, "InvalidRequest", err.Error()}
	case errors.Is(err, store.ErrNotFound):
		return failure{http.StatusNotFound, ErrorConflict, "NotFound", "not found"}
	case errors.Is(err, store.ErrDuplicate):
		return failure{http.StatusConflict, ErrorConflict, "Duplicate", "content already submitted"}
	case errors.Is(err, store.ErrConflict):
		return failure{http.StatusConflict, ErrorConflict, "Conflict", "item is not leased"}
	case resilience.IsUnavailable(err):
		zap.L().Error("api: backing store unavailable", zap.Error(err))
		return failure{http.StatusServiceUnavailable, ErrorUnavailable, "Unavailable", "service temporarily unavailable"}
	default:
		zap.L().Error("api: internal error", zap.Error(err))
		return failure{http.StatusInternalServerError, ErrorInternal, "InternalError", "internal error"}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("api: write response", zap.Error(err))
	}
}

func writeWorker(w http.ResponseWriter, code int, title, message string, content any) {
	writeJSON(w, http.StatusOK, WorkerEnvelope{ErrorId: code, Title: title, Message: message, Content: content})
}

// writeWorkerError answers a worker. Expected failures travel in the
// envelope with HTTP 200; unavailable and internal errors keep their status.
func writeWorkerError(w http.ResponseWriter, err error) {
	f := classify(err)
	status := http.StatusOK
	if f.code == ErrorUnavailable || f.code == ErrorInternal {
		status = f.status
	}
	writeJSON(w, status, WorkerEnvelope{ErrorId: f.code, Title: f.title, Message: f.message})
}

func writeOK(w http.ResponseWriter, status int, message string, data any) {
	writeJSON(w, status, Envelope{Success: true, Message: message, Data: data})
}

func writeError(w http.ResponseWriter, err error) {
	f := classify(err)
	writeJSON(w, f.status, Envelope{Success: false, Message: f.message})
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, Envelope{Success: false, Message: message})
}

// rejectWorker answers a request stopped by the security gateway.
func rejectWorker(w http.ResponseWriter, _ *http.Request, rej *security.Rejection) {
	code := ErrorInternal
	switch rej.Status {
	case http.StatusBadRequest, http.StatusRequestEntityTooLarge:
		code = ErrorInvalid
	case http.StatusUnauthorized:
		code = ErrorUnauthorized
	case http.StatusForbidden:
		code = ErrorForbidden
	case http.StatusTooManyRequests:
		code = ErrorRateLimited
		w.Header().Set("Retry-After", strconv.Itoa(rej.RetryAfterSeconds()))
	}
	writeJSON(w, rej.Status, WorkerEnvelope{
		ErrorId: code,
		Title:   string(rej.Check),
		Message: rej.Reason,
	})
}
