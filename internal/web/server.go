// Package web provides the HTTP server and handlers for the import dashboard.
//
// The web layer is a thin adapter over core.Service: it starts runs in the
// background, streams their progress over server-sent events and exposes
// the stored resume cursors. It holds no import logic of its own.
package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"github.com/JonMunkholm/qaimport/internal/config"
	"github.com/JonMunkholm/qaimport/internal/core"
	mw "github.com/JonMunkholm/qaimport/internal/web/middleware"
)

// ProgressStore is the subset of the progress store the web layer uses.
type ProgressStore interface {
	All(ctx context.Context) (map[string]core.Cursor, error)
	Save(ctx context.Context, targetID string, c core.Cursor) error
	Reset(ctx context.Context, targetID string) error
}

// Options configures a Server.
type Options struct {
	Server     config.ServerConfig
	Security   config.SecurityConfig
	QATrackURL string

	// RequestsPerMinute limits API calls per client IP; 0 disables it.
	RequestsPerMinute int
}

// Server is the HTTP server for the import dashboard.
type Server struct {
	service  *core.Service
	progress ProgressStore
	opts     Options
	router   *chi.Mux
	server   *http.Server
}

// NewServer creates a new Server instance.
func NewServer(service *core.Service, progress ProgressStore, opts Options) *Server {
	s := &Server{
		service:  service,
		progress: progress,
		opts:     opts,
		router:   chi.NewRouter(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	s.server = &http.Server{
		Addr:         opts.Server.Addr(),
		Handler:      s.router,
		ReadTimeout:  opts.Server.ReadTimeout,
		WriteTimeout: opts.Server.WriteTimeout, // 0 keeps event streams open
		IdleTimeout:  opts.Server.IdleTimeout,
	}
	return s
}

// setupMiddleware configures middleware for all routes.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	proxies, err := mw.ParseTrustedProxies(s.opts.Security.TrustedProxies)
	if err != nil {
		slog.Warn("ignoring invalid trusted proxies", "error", err)
	}
	s.router.Use(mw.TrustedRealIP(proxies))
	s.router.Use(mw.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(securityHeaders(s.opts.Security.EnableCSP))

	if s.opts.RequestsPerMinute > 0 {
		limiter := newRateLimiter(s.opts.RequestsPerMinute, time.Minute)
		s.router.Use(limiter.middleware)
	}
}

// setupRoutes configures all HTTP routes. The event stream is kept outside
// the timeout and compression middleware so it can stay open for a whole run.
func (s *Server) setupRoutes() {
	s.router.Group(func(r chi.Router) {
		r.Use(middleware.Compress(5))
		r.Use(middleware.Timeout(60 * time.Second))
		r.Get("/", s.handleDashboard)
	})

	s.router.Route("/api", func(r chi.Router) {
		r.Use(mw.APIKeyAuth(&s.opts.Security))

		r.Get("/health", s.handleHealth)
		r.Get("/runs/{runID}/events", s.handleRunEvents)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(60 * time.Second))

			r.Get("/targets", s.handleListTargets)

			r.Get("/runs", s.handleListRuns)
			r.Post("/runs", s.handleStartRun)
			r.Get("/runs/{runID}", s.handleRunStatus)
			r.Post("/runs/{runID}/cancel", s.handleCancelRun)

			r.Get("/progress", s.handleListProgress)
			r.Put("/progress/{targetID}", s.handleSetProgress)
			r.Delete("/progress/{targetID}", s.handleResetProgress)
		})
	})
}

// Start begins listening for HTTP requests.
func (s *Server) Start() error {
	slog.Info("starting server", "addr", s.server.Addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// securityHeaders adds security headers to all responses.
func securityHeaders(enableCSP bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

			// The dashboard ships its script and styles inline.
			if enableCSP {
				w.Header().Set("Content-Security-Policy", "default-src 'self'; script-src 'self' 'unsafe-inline'; style-src 'self' 'unsafe-inline'; img-src 'self' data:")
			}

			next.ServeHTTP(w, r)
		})
	}
}

// rateLimiter keeps one token bucket per client IP.
type rateLimiter struct {
	mu        sync.Mutex
	visitors  map[string]*visitor
	limit     rate.Limit
	burst     int
	idle      time.Duration
	lastSweep time.Time
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// newRateLimiter allows n requests per window per IP.
func newRateLimiter(n int, window time.Duration) *rateLimiter {
	return &rateLimiter{
		visitors:  make(map[string]*visitor),
		limit:     rate.Limit(float64(n) / window.Seconds()),
		burst:     n,
		idle:      2 * window,
		lastSweep: time.Now(),
	}
}

// allow consumes a token for ip. Idle visitors are swept at most once per
// idle period.
func (rl *rateLimiter) allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	if now.Sub(rl.lastSweep) > rl.idle {
		for k, v := range rl.visitors {
			if now.Sub(v.lastSeen) > rl.idle {
				delete(rl.visitors, k)
			}
		}
		rl.lastSweep = now
	}

	v, ok := rl.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.visitors[ip] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1)
}

// middleware returns an HTTP middleware that rate limits by IP.
func (rl *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.allow(mw.ClientIP(r)) {
			w.Header().Set("Retry-After", "60")
			respondErrorJSON(w, core.UserMessage{
				Message: "Too many requests",
				Action:  "Wait a minute and try again",
				Code:    "HTTP429",
			}, http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// writeJSON encodes v as JSON with the given status.
// Encoding errors are only logged since headers are already sent.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode error", "error", err)
	}
}
