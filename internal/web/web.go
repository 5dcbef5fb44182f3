package web

import (
	"context"
	"embed"
	"io/fs"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"

	"freeslots/internal/config"
	appLog "freeslots/internal/log"
	"freeslots/internal/metrics"
	"freeslots/internal/slots"
	"freeslots/internal/usagelog"
)

// SlotGenerator runs the free-slot pipeline. *slots.Service implements it.
type SlotGenerator interface {
	Generate(ctx context.Context, req slots.Request) (slots.Result, error)
}

// Server provides the slot API, health check, metrics and the embedded form page.
type Server struct {
	cfg      *config.Config
	slots    SlotGenerator
	recorder *usagelog.Recorder
	metrics  *metrics.Metrics

	router   *mux.Router
	validate *validator.Validate
	limiter  *ipLimiter
}

// embeddedStatic holds the single-page form served at "/".
//
//go:embed all:static
var embeddedStatic embed.FS

// NewServer wires routes and middleware. recorder and m may be nil.
func NewServer(cfg *config.Config, gen SlotGenerator, recorder *usagelog.Recorder, m *metrics.Metrics) *Server {
	if recorder == nil {
		recorder = usagelog.NewRecorder(nil, 0)
	}
	s := &Server{
		cfg:      cfg,
		slots:    gen,
		recorder: recorder,
		metrics:  m,
		router:   mux.NewRouter(),
		validate: newValidator(),
		limiter:  newIPLimiter(cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.Burst, m),
	}
	s.registerRoutes()
	return s
}

// Handler returns the root http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// PruneLimiters drops rate-limiter state for clients idle longer than idle.
func (s *Server) PruneLimiters(idle time.Duration) int {
	return s.limiter.prune(idle, time.Now())
}

func (s *Server) registerRoutes() {
	r := s.router
	r.Use(requestIDMiddleware, s.accessLogMiddleware, s.recoverMiddleware)

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet, http.MethodHead)
	if s.cfg.Metrics.Enabled && s.metrics != nil {
		r.Handle(s.cfg.Metrics.Path, s.metrics.Handler()).Methods(http.MethodGet)
	}

	api := r.PathPrefix("/api").Subrouter()
	api.Use(s.rateLimitMiddleware)
	api.HandleFunc("/generate-slots", s.handleGenerate).Methods(http.MethodPost)
	api.PathPrefix("/").HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "Not found", "")
	})

	r.PathPrefix("/").Handler(s.staticFileServer())
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// staticFileServer serves the embedded files under internal/web/static.
func (s *Server) staticFileServer() http.Handler {
	sub, err := fs.Sub(embeddedStatic, "static")
	if err != nil {
		appLog.Error("failed to initialize embedded static filesystem", err)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "static UI not available", http.StatusServiceUnavailable)
		})
	}

	fileServer := http.FileServer(http.FS(sub))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			writeError(w, http.StatusMethodNotAllowed, "Method not allowed", "")
			return
		}
		fileServer.ServeHTTP(w, r)
	})
}
