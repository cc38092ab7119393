package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/smartclin/smart-app-clinic-sub000/internal/config"
	"github.com/smartclin/smart-app-clinic-sub000/internal/gate"
	"github.com/smartclin/smart-app-clinic-sub000/internal/handler"
	"github.com/smartclin/smart-app-clinic-sub000/internal/model"
	"github.com/smartclin/smart-app-clinic-sub000/internal/openapi"
	"github.com/smartclin/smart-app-clinic-sub000/internal/rpc"
	"github.com/smartclin/smart-app-clinic-sub000/internal/server/middleware"
	"github.com/smartclin/smart-app-clinic-sub000/internal/service"
	"github.com/smartclin/smart-app-clinic-sub000/internal/session"
	"github.com/smartclin/smart-app-clinic-sub000/internal/telemetry"
	"github.com/smartclin/smart-app-clinic-sub000/internal/ui"
)

// Config holds the HTTP server configuration.
type Config struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration
	CORSOrigins     []string
	// SignInRatePerMinute caps sign-in and sign-up attempts per client IP.
	SignInRatePerMinute int
	// PurgeInterval is how often expired sessions are deleted. Zero disables
	// the background purge.
	PurgeInterval time.Duration
	Version       string
}

// DefaultConfig returns a Config with sensible production defaults.
func DefaultConfig() Config {
	return Config{
		Host:                "0.0.0.0",
		Port:                8080,
		ShutdownTimeout:     30 * time.Second,
		CORSOrigins:         []string{"http://localhost:3000"},
		SignInRatePerMinute: 10,
		PurgeInterval:       time.Hour,
		Version:             "dev",
	}
}

// Deps are the components the server routes requests to. Metrics is
// optional.
type Deps struct {
	Store    *config.Store
	Auth     *service.AuthService
	Resolver *session.Resolver
	Gate     *gate.Gate
	Policy   *gate.Policy
	Metrics  *telemetry.Metrics
}

// Server is the top-level HTTP server for SmartClin. It owns the chi router
// and the procedure registry.
type Server struct {
	cfg        Config
	deps       Deps
	router     chi.Router
	registry   *rpc.Registry
	doc        *openapi3.T
	httpServer *http.Server
	logger     *slog.Logger
}

// New creates a Server, registers the procedures, wires up all routes and
// middleware, and returns it ready to listen.
func New(cfg Config, deps Deps, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if deps.Policy == nil {
		deps.Policy = gate.DefaultPolicy()
	}
	s := &Server{
		cfg:      cfg,
		deps:     deps,
		registry: rpc.NewRegistry(deps.Gate),
		logger:   logger,
	}
	handler.NewProcedures(deps.Auth, deps.Resolver).Register(s.registry)

	doc, err := openapi.Generate(s.registry.Procedures(), openapi.DefaultInfo(cfg.Version))
	if err != nil {
		return nil, fmt.Errorf("openapi: %w", err)
	}
	s.doc = doc

	pages, err := ui.LoadPages()
	if err != nil {
		return nil, fmt.Errorf("load pages: %w", err)
	}
	s.setupRouter(pages)
	return s, nil
}

func (s *Server) setupRouter(pages *ui.Pages) {
	r := chi.NewRouter()

	// --- Global middleware ---
	r.Use(middleware.RequestID)
	r.Use(s.deps.Resolver.Middleware)
	r.Use(middleware.Logger(s.logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	if s.deps.Metrics != nil {
		r.Use(s.deps.Metrics.Instrument)
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Requested-With", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(chimw.Compress(5))

	// --- Health checks, metrics and catalogue (public) ---
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	if s.deps.Metrics != nil {
		r.Handle("/metrics", s.deps.Metrics.Handler())
	}
	r.Get("/openapi.json", s.handleOpenAPI)
	r.Handle("/assets/*", http.StripPrefix("/assets/", http.FileServer(http.FS(ui.AssetsFS()))))

	// --- Credential exchange ---
	authHandler := handler.NewAuthHandler(s.deps.Auth, s.deps.Resolver, s.deps.Gate, s.logger)
	r.Route("/api/auth", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.CredentialLimit(s.cfg.SignInRatePerMinute))
			r.Post("/sign-up/email", authHandler.SignUp)
			r.Post("/sign-in/email", authHandler.SignIn)
		})
		r.Post("/sign-out", authHandler.SignOut)
		r.Get("/get-session", authHandler.GetSession)
	})

	// --- Procedures ---
	r.Mount("/api/rpc", rpc.Handler(s.registry, s.deps.Resolver, s.logger))

	// --- Operator endpoints ---
	r.Route("/api/admin", func(r chi.Router) {
		r.Use(middleware.RequireRole(s.deps.Gate, "admin"))
		r.Get("/policy", s.handlePolicy)
	})

	// --- Pages behind the route policy ---
	pageHandler := handler.NewPageHandler(pages, s.deps.Gate, s.deps.Policy, s.deps.Resolver, s.deps.Auth, s.logger)
	r.Group(func(r chi.Router) {
		r.Use(pageHandler.Gate)
		pageHandler.Routes(r)
	})

	s.router = r
}

// handleHealthz is a liveness probe. Returns 200 if the process is running.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// handleReadyz is a readiness probe. Returns 200 when the credential store
// answers, or 503 otherwise.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	httpStatus := http.StatusOK
	checks := map[string]string{}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.deps.Store.Ping(ctx); err != nil {
		s.logger.Warn("readiness check failed", "driver", s.deps.Store.Driver(), "error", err)
		checks["store"] = "unavailable"
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	} else {
		checks["store"] = "ok"
	}

	writeJSON(w, httpStatus, map[string]any{
		"status": status,
		"checks": checks,
	})
}

// handleOpenAPI serves the procedure catalogue document.
func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.doc)
}

// handlePolicy lists the route policy entries for operators.
func (s *Server) handlePolicy(w http.ResponseWriter, r *http.Request) {
	entries := s.deps.Policy.Entries()
	writeJSON(w, http.StatusOK, model.ListResponse[gate.Entry]{
		Resource: entries,
		Meta:     &model.ResponseMeta{Count: len(entries)},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// ListenAndServe starts the HTTP server and blocks until a SIGINT or SIGTERM
// is received, then shuts down gracefully.
func (s *Server) ListenAndServe() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return s.Run(ctx)
}

// Run serves until ctx is cancelled and then drains in-flight requests
// within the configured shutdown timeout. While running it purges expired
// sessions every PurgeInterval.
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	purgeCtx, stopPurge := context.WithCancel(ctx)
	defer stopPurge()
	if s.cfg.PurgeInterval > 0 {
		go s.purgeLoop(purgeCtx)
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "addr", addr, "store", s.deps.Store.Driver())
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server listen: %w", err)
	case <-ctx.Done():
		s.logger.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	s.logger.Info("server stopped")
	return nil
}

func (s *Server) purgeLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.PurgeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.deps.Auth.PurgeExpiredSessions(ctx)
			if err != nil {
				s.logger.Error("purge expired sessions", "error", err)
				continue
			}
			if n > 0 {
				s.logger.Info("purged expired sessions", "count", n)
			}
		}
	}
}

// Registry returns the procedure registry, useful for tooling and tests.
func (s *Server) Registry() *rpc.Registry {
	return s.registry
}

// Router returns the underlying chi router, useful for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// ServeHTTP implements http.Handler, delegating to the router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
