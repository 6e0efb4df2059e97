// ABOUTME: Shared gateway message dispatch with tracing, opt-in replay suppression and error translation
// ABOUTME: Gateway errors and timeouts become apierr responses; anything else is returned as-is

package messaging

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/2389/mission-control/internal/apierr"
	"github.com/2389/mission-control/internal/dedupe"
	"github.com/2389/mission-control/internal/logging"
	"github.com/2389/mission-control/internal/openclaw"
	"github.com/2389/mission-control/internal/store"
)

const tracerName = "github.com/2389/mission-control/internal/messaging"

// Replay window defaults.
const (
	DefaultReplayTTL  = 10 * time.Minute
	DefaultReplaySize = 4096
)

// ResolveTraceID returns the trimmed correlation id, or a fresh prefix:uuid id.
func ResolveTraceID(correlationID, prefix string) string {
	if id := strings.TrimSpace(correlationID); id != "" {
		return id
	}
	return prefix + ":" + uuid.NewString()
}

// Options configure a Dispatcher.
type Options struct {
	// ReplayGuard drops a resend of the same text under the same correlation id
	// within ReplayTTL. Off by default.
	ReplayGuard bool
	ReplayTTL   time.Duration
	ReplaySize int
	Logger     *slog.Logger
}

// Dispatcher sends messages into gateway sessions on behalf of a flow.
type Dispatcher struct {
	store  store.Store
	rpc    openclaw.RPC
	replay *dedupe.Cache // nil unless Options.ReplayGuard
	tracer trace.Tracer
	logger *slog.Logger
}

// NewDispatcher creates a dispatcher. Close releases the replay cache.
func NewDispatcher(s store.Store, rpc openclaw.RPC, opts Options) *Dispatcher {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	d := &Dispatcher{
		store:  s,
		rpc:    rpc,
		tracer: otel.Tracer(tracerName),
		logger: opts.Logger.With("component", "messaging"),
	}
	if opts.ReplayGuard {
		if opts.ReplayTTL <= 0 {
			opts.ReplayTTL = DefaultReplayTTL
		}
		if opts.ReplaySize <= 0 {
			opts.ReplaySize = DefaultReplaySize
		}
		d.replay = dedupe.New(opts.ReplayTTL, opts.ReplaySize)
	}
	return d
}

// Close stops background work.
func (d *Dispatcher) Close() {
	if d.replay != nil {
		d.replay.Close()
	}
}

// GatewayForBoard resolves the configured gateway a board talks through.
func (d *Dispatcher) GatewayForBoard(ctx context.Context, board *store.Board) (*store.Gateway, openclaw.Config, error) {
	if board.GatewayID == nil || *board.GatewayID == "" {
		return nil, openclaw.Config{}, apierr.New(http.StatusUnprocessableEntity, apierr.CodeNotConfigured,
			"Board is not attached to a gateway.")
	}
	gw, err := d.store.GetGateway(ctx, *board.GatewayID, board.OrganizationID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, openclaw.Config{}, apierr.NotFound("gateway")
	}
	if err != nil {
		return nil, openclaw.Config{}, err
	}
	if !gw.Configured() {
		return nil, openclaw.Config{}, apierr.New(http.StatusUnprocessableEntity, apierr.CodeNotConfigured,
			"Gateway is not configured.")
	}
	return gw, openclaw.Config{URL: gw.URL, Token: gw.Token}, nil
}

// message is one dispatch into a session.
type message struct {
	op            apierr.Operation
	event         string // log/span name prefix, e.g. gateway.onboarding.start_dispatch
	traceID       string
	correlationID string
	config        openclaw.Config
	sessionKey    string
	label         string
	text          string
	deliver       bool
	attrs         []any
}

// replayKey identifies one delivered message. Empty when the guard is off or the
// caller sent no correlation id.
func (d *Dispatcher) replayKey(m message) string {
	id := strings.TrimSpace(m.correlationID)
	if d.replay == nil || id == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(m.text))
	return string(m.op) + ":" + m.sessionKey + ":" + id + ":" + hex.EncodeToString(sum[:16])
}

// send ensures the session exists and posts the message. With the replay guard on,
// an identical message already delivered inside the window is acknowledged
// without resending. Keys are only recorded after a successful delivery.
func (d *Dispatcher) send(ctx context.Context, m message) error {
	ctx, span := d.tracer.Start(ctx, m.event, trace.WithAttributes(
		attribute.String("mc.operation", string(m.op)),
		attribute.String("mc.trace_id", m.traceID),
		attribute.String("mc.session_key", m.sessionKey),
	))
	defer span.End()

	attrs := append([]any{"trace_id", m.traceID, "session_key", m.sessionKey}, m.attrs...)
	d.logger.Log(ctx, logging.LevelTrace, m.event+".start", attrs...)

	replayKey := d.replayKey(m)
	if replayKey != "" && d.replay.Held(replayKey) {
		span.SetAttributes(attribute.Bool("mc.replayed", true))
		d.logger.Info(m.event+".replayed", attrs...)
		return nil
	}

	err := d.deliver(ctx, m)
	if err == nil {
		if replayKey != "" {
			d.replay.Claim(replayKey)
		}
		d.logger.Info(m.event+".success", attrs...)
		return nil
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	if openclaw.IsGatewayError(err) || errors.Is(err, context.DeadlineExceeded) {
		d.logger.Warn(m.event+".failed", append(attrs, "error", err)...)
		return apierr.MapGatewayError(m.op, err)
	}
	d.logger.Log(ctx, logging.LevelCritical, m.event+".failed_unexpected",
		append(attrs, "error", err, "error_type", fmt.Sprintf("%T", err))...)
	return err
}

func (d *Dispatcher) deliver(ctx context.Context, m message) error {
	if err := d.rpc.EnsureSession(ctx, m.config, m.sessionKey, m.label); err != nil {
		return err
	}
	return d.rpc.SendMessage(ctx, m.config, m.text, m.sessionKey, m.deliver)
}
