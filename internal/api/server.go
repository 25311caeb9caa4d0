// Package api exposes the lease protocol to checkers and the session
// controls to operators over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/HoangAnhDev1805/checkpool/internal/lease"
	"github.com/HoangAnhDev1805/checkpool/internal/model"
	"github.com/HoangAnhDev1805/checkpool/internal/security"
	"github.com/HoangAnhDev1805/checkpool/internal/session"
)

// maxOperatorBody bounds operator request bodies. Session item lists can be long.
const maxOperatorBody = 8 << 20

// Leaser is the lease protocol as the handlers use it.
type Leaser interface {
	Fetch(ctx context.Context, req lease.FetchRequest) (*lease.FetchResult, error)
	Report(ctx context.Context, req lease.ReportRequest) (*model.WorkItem, error)
	Evict(ctx context.Context, sessionID string) (int, error)
	Lookup(ctx context.Context, req lease.LookupRequest) (map[string]lease.LookupHit, error)
}

// Sessions is the session manager as the handlers use it.
type Sessions interface {
	Start(ctx context.Context, req session.StartRequest) (*model.Session, error)
	Stop(ctx context.Context, id string) (*session.StopResult, error)
	Status(ctx context.Context, id string) (*session.View, error)
}

// ItemStore is the read access the legacy and health endpoints need.
type ItemStore interface {
	GetItem(ctx context.Context, itemID string) (*model.WorkItem, error)
	Ping(ctx context.Context) error
}

// Deps are the collaborators of a Server.
type Deps struct {
	Lease    Leaser
	Sessions Sessions
	Items    ItemStore
	Gateway  *security.Gateway
	// Tokens maps worker tokens to caller identities.
	Tokens      map[string]string
	CORSOrigins []string
}

// Server routes HTTP requests to the lease and session services.
type Server struct {
	lease    Leaser
	sessions Sessions
	items    ItemStore
	gateway  *security.Gateway
	tokens   map[string]string
	origins  []string
}

// NewServer builds a Server from deps.
func NewServer(d Deps) *Server {
	return &Server{
		lease:    d.Lease,
		sessions: d.Sessions,
		items:    d.Items,
		gateway:  d.Gateway,
		tokens:   d.Tokens,
		origins:  d.CORSOrigins,
	}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	// Preflight requests only reach middleware on the root router.
	origins := s.origins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)

	// Checker-facing routes run the gateway chain before the handler.
	r.Group(func(r chi.Router) {
		if s.gateway != nil {
			r.Use(s.gateway.Middleware(rejectWorker, s.identify))
		}
		r.Post("/api/v1/checker", s.handleChecker)
		r.Get("/api/v1/legacy/items/{id}", s.handleLegacyItem)
		r.Post("/api/v1/legacy/report", s.handleLegacyReport)
	})

	// Operator routes.
	r.Group(func(r chi.Router) {
		r.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				r.Body = http.MaxBytesReader(w, r.Body, maxOperatorBody)
				next.ServeHTTP(w, r)
			})
		})
		r.Post("/api/v1/sessions", s.handleStartSession)
		r.Get("/api/v1/sessions/{id}", s.handleSessionStatus)
		r.Post("/api/v1/sessions/{id}/stop", s.handleStopSession)
		r.Post("/api/v1/sessions/{id}/evict", s.handleEvict)
		r.Post("/api/v1/items/lookup", s.handleLookup)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.items.Ping(ctx); err != nil {
		zap.L().Error("api: health check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Debug("api: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.String("ip", security.ClientIP(r)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
}
