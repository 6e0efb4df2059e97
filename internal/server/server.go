// ABOUTME: HTTP server orchestrator for mission-control
// ABOUTME: Owns the API mux, the listener (TCP or tailnet), the lifecycle sweeper and graceful shutdown

package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"tailscale.com/tsnet"

	"github.com/2389/mission-control/internal/auth"
	"github.com/2389/mission-control/internal/config"
	"github.com/2389/mission-control/internal/lifecycle"
	"github.com/2389/mission-control/internal/messaging"
	"github.com/2389/mission-control/internal/store"
)

// Deps are the collaborators the server routes requests to.
type Deps struct {
	Store        store.Store
	Lifecycle    *lifecycle.Service
	Dispatcher   *messaging.Dispatcher
	Onboarding   *messaging.OnboardingService
	Coordination *messaging.CoordinationService
	Verifier     auth.TokenVerifier

	// Sweeper is optional; when set it runs for the lifetime of Run.
	Sweeper *lifecycle.Sweeper
}

// Server exposes the lifecycle and messaging services over HTTP.
type Server struct {
	config       *config.Config
	store        store.Store
	lifecycle    *lifecycle.Service
	dispatcher   *messaging.Dispatcher
	onboarding   *messaging.OnboardingService
	coordination *messaging.CoordinationService
	sweeper      *lifecycle.Sweeper
	httpServer   *http.Server
	tsnetServer  *tsnet.Server
	logger       *slog.Logger
}

// New wires the HTTP API. It does not listen until Run is called.
func New(cfg *config.Config, deps Deps, logger *slog.Logger) (*Server, error) {
	if deps.Store == nil || deps.Lifecycle == nil {
		return nil, errors.New("server: store and lifecycle service are required")
	}
	if deps.Onboarding == nil || deps.Coordination == nil {
		return nil, errors.New("server: messaging services are required")
	}
	if deps.Verifier == nil {
		return nil, errors.New("server: token verifier is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		config:       cfg,
		store:        deps.Store,
		lifecycle:    deps.Lifecycle,
		dispatcher:   deps.Dispatcher,
		onboarding:   deps.Onboarding,
		coordination: deps.Coordination,
		sweeper:      deps.Sweeper,
		logger:       logger.With("component", "server"),
	}

	mux := http.NewServeMux()
	s.registerRoutes(mux, deps.Verifier)

	s.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) registerRoutes(mux *http.ServeMux, verifier auth.TokenVerifier) {
	authMiddleware := auth.HTTPAuthMiddleware(s.store, verifier, s.logger)
	protected := func(h http.HandlerFunc) http.Handler {
		return authMiddleware(h)
	}

	mux.HandleFunc("GET /health", s.handleHealth)

	mux.Handle("POST /api/v1/gateways/{id}/main-agent", protected(s.handleEnsureMainAgent))
	mux.Handle("POST /api/v1/gateways/{id}/templates/sync", protected(s.handleSyncTemplates))
	mux.Handle("POST /api/v1/boards/{id}/onboarding/start", protected(s.handleOnboardingStart))
	mux.Handle("POST /api/v1/boards/{id}/onboarding/{session_id}/answer", protected(s.handleOnboardingAnswer))
	mux.Handle("POST /api/v1/boards/{id}/agents/{agent_id}/nudge", protected(s.handleNudgeAgent))
	mux.Handle("DELETE /api/v1/agents/{id}", protected(s.handleDeleteAgent))
}

func (s *Server) setupTCPListener() (net.Listener, error) {
	s.logger.Info("starting server", "http_addr", s.config.Server.HTTPAddr)
	ln, err := net.Listen("tcp", s.config.Server.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on HTTP address: %w", err)
	}
	return ln, nil
}

func (s *Server) setupListener(ctx context.Context) (net.Listener, error) {
	if s.config.Tailscale.Enabled {
		if s.config.Server.HTTPAddr != "" {
			s.logger.Warn("server.http_addr is ignored when tailscale is enabled",
				"http_addr", s.config.Server.HTTPAddr)
		}
		return s.setupTailscaleListener(ctx)
	}
	return s.setupTCPListener()
}

// Run serves until ctx is canceled or the listener fails, then shuts down.
func (s *Server) Run(ctx context.Context) error {
	ln, err := s.setupListener(ctx)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	sweepCtx, stopSweep := context.WithCancel(ctx)
	var wg sync.WaitGroup
	if s.sweeper != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.sweeper.Run(sweepCtx)
		}()
	}

	var serverErr error
	select {
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")
	case serverErr = <-errCh:
		s.logger.Error("server error", "error", serverErr)
	}

	stopSweep()
	wg.Wait()

	shutdownErr := s.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown uses a fresh context because the run context is already canceled.
func (s *Server) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.Shutdown(ctx)
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown stops the HTTP server and releases the tailnet node, dispatcher and store.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", s.httpServer.Shutdown(ctx))
	if s.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", s.tsnetServer.Close())
	}
	if s.dispatcher != nil {
		s.dispatcher.Close()
	}
	errs = appendCloseError(errs, "store close", s.store.Close())

	return errors.Join(errs...)
}

// handleHealth returns 200 OK if the server is alive.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
