// ABOUTME: Command implementations: wires config, logging, tracing, store and services
// ABOUTME: serve runs the HTTP server, sweep runs one healing pass, token mints a JWT

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/fatih/color"

	"github.com/2389/mission-control/internal/auth"
	"github.com/2389/mission-control/internal/config"
	"github.com/2389/mission-control/internal/lifecycle"
	"github.com/2389/mission-control/internal/logging"
	"github.com/2389/mission-control/internal/messaging"
	"github.com/2389/mission-control/internal/openclaw"
	"github.com/2389/mission-control/internal/provisioning"
	"github.com/2389/mission-control/internal/server"
	"github.com/2389/mission-control/internal/store"
	"github.com/2389/mission-control/internal/tracing"
)

func resolveConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return config.DefaultPath()
}

// app holds the services shared by serve and sweep.
type app struct {
	cfg        *config.Config
	logger     *slog.Logger
	store      store.Store
	lifecycle  *lifecycle.Service
	dispatcher *messaging.Dispatcher
}

func newApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	s, err := store.Open(cfg.DatabaseTarget())
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	rpc := openclaw.NewClient(openclaw.Options{
		DialTimeout: cfg.OpenClaw.DialTimeout,
		CallTimeout: cfg.OpenClaw.CallTimeout,
		ClientID:    cfg.OpenClaw.ClientID,
		Logger:      logger,
	})

	prov, err := provisioning.New(rpc, s, provisioning.Options{
		BaseURL: cfg.Server.BaseURL,
		Logger:  logger,
	})
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("creating provisioner: %w", err)
	}

	svc := lifecycle.NewService(s, rpc, prov, lifecycle.Options{
		LockTimeout: cfg.Lifecycle.ProvisionLockTimeout,
		Logger:      logger,
	})
	dispatcher := messaging.NewDispatcher(s, rpc, messaging.Options{
		ReplayGuard: cfg.Messaging.ReplayGuard,
		ReplayTTL:   cfg.Messaging.ReplayTTL,
		ReplaySize:  cfg.Messaging.ReplaySize,
		Logger:      logger,
	})

	return &app{cfg: cfg, logger: logger, store: s, lifecycle: svc, dispatcher: dispatcher}, nil
}

func loadConfig() (*config.Config, string, error) {
	path := resolveConfigPath()
	cfg, err := config.Load(path)
	if err != nil {
		return nil, path, fmt.Errorf("loading config: %w", err)
	}
	return cfg, path, nil
}

func runServe(ctx context.Context) error {
	printBanner()

	cfg, configPath, err := loadConfig()
	if err != nil {
		return err
	}
	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format, os.Stdout)
	slog.SetDefault(logger)

	printStartup(cfg, configPath)

	shutdownTracing, err := tracing.Setup(ctx, tracing.Options{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		Insecure:    cfg.Tracing.Insecure,
		ServiceName: cfg.Tracing.ServiceName,
		Version:     version,
	})
	if err != nil {
		return fmt.Errorf("setting up tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("tracing shutdown failed", "error", err)
		}
	}()

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}

	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		_ = a.store.Close()
		return fmt.Errorf("creating JWT verifier: %w", err)
	}

	srv, err := server.New(cfg, server.Deps{
		Store:        a.store,
		Lifecycle:    a.lifecycle,
		Dispatcher:   a.dispatcher,
		Onboarding:   messaging.NewOnboardingService(a.dispatcher),
		Coordination: messaging.NewCoordinationService(a.dispatcher),
		Verifier:     verifier,
		Sweeper:      lifecycle.NewSweeper(a.lifecycle, cfg.Lifecycle.SweepInterval, logger),
	}, logger)
	if err != nil {
		a.dispatcher.Close()
		_ = a.store.Close()
		return fmt.Errorf("creating server: %w", err)
	}

	logger.Info("starting mission-control",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"sweep_interval", cfg.Lifecycle.SweepInterval,
	)
	return srv.Run(ctx)
}

func printStartup(cfg *config.Config, configPath string) {
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)
	cyan := color.New(color.FgCyan)
	gray := color.New(color.FgHiBlack)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Database:  %s\n", databaseLabel(cfg))
	green.Print("    ▶ ")
	if cfg.Lifecycle.SweepInterval > 0 {
		fmt.Printf("Sweep:     every %s\n", cfg.Lifecycle.SweepInterval)
	} else {
		fmt.Print("Sweep:     ")
		yellow.Println("disabled")
	}

	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Tailscale: ")
		cyan.Print(cfg.Tailscale.Hostname)
		if cfg.Tailscale.Funnel {
			yellow.Print(" [funnel]")
		}
		if cfg.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	}
	fmt.Println()
}

// databaseLabel avoids printing credentials embedded in a DSN.
func databaseLabel(cfg *config.Config) string {
	if cfg.Database.DSN != "" {
		return "postgres"
	}
	return cfg.Database.Path
}

func runSweep(ctx context.Context) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format, os.Stderr)

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		a.dispatcher.Close()
		_ = a.store.Close()
	}()

	sweeper := lifecycle.NewSweeper(a.lifecycle, 0, logger)
	if err := sweeper.RunOnce(ctx); err != nil {
		return fmt.Errorf("sweep finished with failures: %w", err)
	}
	color.New(color.FgGreen).Println("sweep complete")
	return nil
}

func runToken(userID, ttl string) error {
	if userID == "" {
		return errors.New("--user is required")
	}
	lifetime, err := time.ParseDuration(ttl)
	if err != nil {
		return fmt.Errorf("parsing --ttl: %w", err)
	}

	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	s, err := store.Open(cfg.DatabaseTarget())
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer func() { _ = s.Close() }()

	user, err := s.GetUser(context.Background(), userID)
	if err != nil {
		return fmt.Errorf("looking up user %s: %w", userID, err)
	}

	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return fmt.Errorf("creating JWT verifier: %w", err)
	}
	token, err := verifier.Generate(user.ID, lifetime)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}
	fmt.Println(token)
	return nil
}
