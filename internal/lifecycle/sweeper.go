// ABOUTME: Periodic self-healing sweep across every gateway in the store
// ABOUTME: Runs EnsureGatewayAgentsExist on an interval until the context ends

package lifecycle

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper repeatedly heals main agents for all gateways.
type Sweeper struct {
	service  *Service
	interval time.Duration
	logger   *slog.Logger
}

// NewSweeper creates a sweeper. A zero interval disables Run.
func NewSweeper(service *Service, interval time.Duration, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{service: service, interval: interval, logger: logger.With("component", "sweeper")}
}

// RunOnce sweeps every gateway once.
func (sw *Sweeper) RunOnce(ctx context.Context) error {
	gateways, err := sw.service.store.ListAllGateways(ctx)
	if err != nil {
		return err
	}
	start := time.Now()
	err = sw.service.EnsureGatewayAgentsExist(ctx, gateways)
	sw.logger.Debug("sweep complete", "gateways", len(gateways), "duration", time.Since(start), "failed", err != nil)
	return err
}

// Run sweeps immediately and then on every tick until ctx is cancelled.
func (sw *Sweeper) Run(ctx context.Context) {
	if sw.interval <= 0 {
		sw.logger.Info("periodic sweep disabled")
		return
	}
	sw.logger.Info("periodic sweep started", "interval", sw.interval)

	ticker := time.NewTicker(sw.interval)
	defer ticker.Stop()
	for {
		if err := sw.RunOnce(ctx); err != nil && ctx.Err() == nil {
			sw.logger.Warn("sweep finished with errors", "error", err)
		}
		select {
		case <-ctx.Done():
			sw.logger.Info("periodic sweep stopped")
			return
		case <-ticker.C:
		}
	}
}
