package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/tollchat/tollchat/internal/chat"
	"github.com/tollchat/tollchat/internal/ledger"
	"github.com/tollchat/tollchat/internal/metrics"
	"github.com/tollchat/tollchat/internal/ratelimit"
	"github.com/tollchat/tollchat/internal/usage"
)

// LedgerRouterDeps holds the dependencies for the ledger service router.
type LedgerRouterDeps struct {
	Service *ledger.Service
	Metrics *metrics.Metrics
}

// NewLedgerRouter builds the chi router for the ledger service.
func NewLedgerRouter(deps LedgerRouterDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(slogRequestLogger)
	if deps.Metrics != nil {
		r.Use(metricsMiddleware(deps.Metrics))
	}

	h := newLedgerHandler(deps.Service)

	mountHealth(r)
	mountMetrics(r, deps.Metrics)

	r.Post("/api/v1/balance/check", h.CheckBalance)
	r.Post("/api/v1/debit", h.Debit)
	r.Post("/api/v1/credit", h.Credit)

	return r
}

// ChatRouterDeps holds the dependencies for the chat service router.
type ChatRouterDeps struct {
	Orchestrator *chat.Orchestrator
	UsageStore   *usage.Store
	Limiter      *ratelimit.Limiter
	Metrics      *metrics.Metrics
}

// NewChatRouter builds the chi router for the chat service.
func NewChatRouter(deps ChatRouterDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(slogRequestLogger)
	if deps.Metrics != nil {
		r.Use(metricsMiddleware(deps.Metrics))
	}

	h := newChatHandler(deps.Orchestrator, deps.UsageStore, deps.Limiter)

	mountHealth(r)
	mountMetrics(r, deps.Metrics)

	r.Post("/api/v1/chat", h.Chat)
	r.Get("/api/v1/usage", h.GetUsage)

	return r
}

func mountHealth(r chi.Router) {
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
}

func mountMetrics(r chi.Router, m *metrics.Metrics) {
	if m == nil {
		return
	}
	r.Get("/metrics", m.Handler())
}

// slogRequestLogger is a simple structured logging middleware using slog.
func slogRequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"bytes", ww.BytesWritten(),
		)
	})
}

// metricsMiddleware records request counts and latency per route pattern so
// cardinality stays bounded regardless of raw URL contents.
func metricsMiddleware(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			pattern := chi.RouteContext(r.Context()).RoutePattern()
			if pattern == "" {
				pattern = "unmatched"
			}
			m.IncHTTPRequest(r.Method, pattern, ww.Status())
			m.ObserveHTTPDuration(r.Method, pattern, time.Since(start).Seconds())
		})
	}
}
