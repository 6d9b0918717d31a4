// Package httpapi serves the daemon's local HTTP interface: health,
// readiness, Prometheus metrics, location and transition ingestion, and
// read/clear access to saved reminders.
package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/njoerd114/pinreminder/internal/geofence"
	"github.com/njoerd114/pinreminder/internal/model"
)

// transitionTimeout bounds a transition accepted over HTTP, which outlives
// its request.
const transitionTimeout = 30 * time.Second

// Readiness reports the auth state. Implemented by [auth.Signal].
type Readiness interface {
	Current() (signedIn, known bool)
}

// LocationSink receives device positions. Implemented by [geofence.Monitor].
type LocationSink interface {
	OnLocation(ctx context.Context, fix model.Fix)
	RemoveAll(ctx context.Context) error
}

// TransitionHandler processes transition events. Implemented by
// [transition.Handler].
type TransitionHandler interface {
	HandleWithTimeout(ctx context.Context, ev geofence.Event, timeout time.Duration)
}

// Repository reads and clears reminders. Implemented by
// [reminders.Repository].
type Repository interface {
	GetReminders(ctx context.Context) model.Result[[]model.Reminder]
	GetReminder(ctx context.Context, id string) model.Result[model.Reminder]
	DeleteAllReminders(ctx context.Context) model.Result[int]
}

// Deps are the components the routes call into.
type Deps struct {
	Ready       Readiness
	Locations   LocationSink
	Transitions TransitionHandler
	Reminders   Repository
	// Gatherer backs /metrics; nil means the default registry.
	Gatherer prometheus.Gatherer
}

// Server exposes the HTTP routes.
type Server struct {
	httpServer *http.Server
	deps       Deps
	validate   *validator.Validate
	clock      func() time.Time
	logger     *slog.Logger
}

// NewServer creates a server listening on addr.
func NewServer(addr string, deps Deps, logger *slog.Logger) *Server {
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}
	s := &Server{
		deps:     deps,
		validate: validator.New(),
		clock:    time.Now,
		logger:   logger,
	}
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{}))

	r.Route("/v1", func(r chi.Router) {
		r.Post("/locations", s.postLocation)
		r.Post("/transitions", s.postTransition)

		r.Route("/reminders", func(r chi.Router) {
			r.Get("/", s.listReminders)
			r.Delete("/", s.clearReminders)
			r.Get("/{id}", s.getReminder)
		})
	})
	return r
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

type errorResponse struct {
	Error string `json:"error"`
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, errorResponse{Error: message})
}
