// Package server assembles the opsboard process: per-tenant connection
// registry, session manager, health check engine, deployment manager, and
// the HTTP surface that exposes them.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/opsboard/opsboard/pkg/api"
	"github.com/opsboard/opsboard/pkg/config"
	"github.com/opsboard/opsboard/pkg/deploy"
	"github.com/opsboard/opsboard/pkg/guest"
	"github.com/opsboard/opsboard/pkg/health"
	"github.com/opsboard/opsboard/pkg/healthcheck"
	"github.com/opsboard/opsboard/pkg/pipeline"
	"github.com/opsboard/opsboard/pkg/registry"
	"github.com/opsboard/opsboard/pkg/session"
	"github.com/opsboard/opsboard/pkg/store"
	pgstore "github.com/opsboard/opsboard/pkg/store/postgres"
)

// Version is set at build time.
var Version = "dev"

const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 15 * time.Second
)

// Server owns the process-wide components and the HTTP listener.
type Server struct {
	cfg      *config.Config
	registry *registry.Registry
	sessions *session.Manager
	checker  *health.Checker
	httpSrv  *http.Server
}

// New wires the components from configuration. Nothing starts listening
// until Run.
func New(cfg *config.Config) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration is required")
	}

	reg := registry.New(registry.Config{
		DialTimeout: cfg.DialTimeout.Std(),
		OnConnect:   pgstore.Migrate,
	})

	guests := guest.NewStore()
	sessions := session.NewManager(session.Config{
		Registry: reg,
		Guests:   guests,
		StoreFactory: func(db *sql.DB) store.TenantStore {
			return pgstore.New(db)
		},
		IdleTTL: cfg.SessionTTL.Std(),
	})

	status := pipeline.NewStatus()
	handler := api.NewHandler(api.Config{
		Sessions: sessions,
		Cookies:  session.NewCookieCodec([]byte(cfg.CookieSecret)),
		Engine:   healthcheck.New(healthcheck.Config{Timeout: cfg.ProbeTimeout.Std()}),
		Deploys: deploy.NewManager(deploy.Config{
			CompletionDelay: cfg.DeployDelay.Std(),
			Pipeline:        status,
		}),
		Pipeline:     status,
		Registry:     reg,
		Guests:       guests,
		AdminKeyHash: cfg.AdminKeyHash,
	})

	checker := health.NewChecker()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", checker.LivenessHandler())
	mux.HandleFunc("GET /readyz", checker.ReadinessHandler())
	mux.Handle("/", handler)

	return &Server{
		cfg:      cfg,
		registry: reg,
		sessions: sessions,
		checker:  checker,
		httpSrv: &http.Server{
			Addr:              cfg.Listen,
			Handler:           mux,
			ReadHeaderTimeout: readHeaderTimeout,
		},
	}, nil
}

// Handler exposes the full route surface, including the probes.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

// Run starts the background maintenance loops and serves HTTP until ctx
// is cancelled or the listener fails. On cancellation it drains in-flight
// requests before releasing session resources.
func (s *Server) Run(ctx context.Context) error {
	s.registry.StartSweep(s.cfg.SweepInterval.Std())
	s.sessions.StartCleanup(s.cfg.SweepInterval.Std())
	s.checker.SetReady()

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server: listening", "addr", s.cfg.Listen, "version", Version)
		errCh <- s.httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serving http: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.checker.SetDraining()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server: shutdown", "error", err)
	}
	return s.Close()
}

// Close releases every session-held resource. Safe after Run returns.
func (s *Server) Close() error {
	var errs []error
	if err := s.sessions.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing session manager: %w", err))
	}
	if err := s.registry.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing connection registry: %w", err))
	}
	return errors.Join(errs...)
}
