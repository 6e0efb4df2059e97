// ABOUTME: Websocket RPC client for OpenClaw agent gateways
// ABOUTME: Each call dials, authenticates with connect, sends one request and awaits its response

package openclaw

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Config addresses one gateway. An empty URL means the gateway is not configured.
type Config struct {
	URL   string
	Token string
}

// RPC is the gateway capability the lifecycle core depends on.
type RPC interface {
	Call(ctx context.Context, cfg Config, method string, params any) (json.RawMessage, error)
	SendMessage(ctx context.Context, cfg Config, text, sessionKey string, deliver bool) error
	EnsureSession(ctx context.Context, cfg Config, sessionKey, label string) error
}

// Options tune a Client. Zero values fall back to defaults.
type Options struct {
	DialTimeout time.Duration
	CallTimeout time.Duration
	ClientID    string
	Logger      *slog.Logger
}

const (
	defaultDialTimeout = 10 * time.Second
	defaultCallTimeout = 30 * time.Second
	defaultClientID    = "mission-control"
)

// Client implements RPC over gorilla/websocket.
type Client struct {
	dialer      *websocket.Dialer
	callTimeout time.Duration
	clientID    string
	logger      *slog.Logger
	tracer      trace.Tracer
}

// NewClient creates a gateway client.
func NewClient(opts Options) *Client {
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = defaultDialTimeout
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = defaultCallTimeout
	}
	if opts.ClientID == "" {
		opts.ClientID = defaultClientID
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Client{
		dialer: &websocket.Dialer{
			HandshakeTimeout: opts.DialTimeout,
			Proxy:            websocket.DefaultDialer.Proxy,
		},
		callTimeout: opts.CallTimeout,
		clientID:    opts.ClientID,
		logger:      opts.Logger.With("component", "openclaw"),
		tracer:      otel.Tracer("github.com/2389/mission-control/internal/openclaw"),
	}
}

// Call invokes method on the gateway and returns the raw response payload.
func (c *Client) Call(ctx context.Context, cfg Config, method string, params any) (json.RawMessage, error) {
	if cfg.URL == "" {
		return nil, ErrNotConfigured
	}

	ctx, span := c.tracer.Start(ctx, "openclaw."+method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("rpc.method", method)))
	defer span.End()

	payload, err := c.call(ctx, cfg, method, params)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.logger.Debug("gateway call failed", "method", method, "error", err)
		return nil, err
	}
	return payload, nil
}

func (c *Client) call(ctx context.Context, cfg Config, method string, params any) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	conn, _, err := c.dialer.DialContext(ctx, cfg.URL, nil)
	if err != nil {
		return nil, transportError(ctx, method, "dial", err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
		_ = conn.SetWriteDeadline(deadline)
	}
	// Unblock reads if the caller cancels before the deadline.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	hello := connectParams{Token: cfg.Token, Client: clientInfo{ID: c.clientID, Mode: "backend"}}
	if _, err := roundTrip(ctx, conn, MethodConnect, hello); err != nil {
		return nil, err
	}
	return roundTrip(ctx, conn, method, params)
}

// roundTrip writes one request and reads frames until the matching response.
// Event frames interleaved by the gateway are skipped.
func roundTrip(ctx context.Context, conn *websocket.Conn, method string, params any) (json.RawMessage, error) {
	var raw json.RawMessage
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("encoding %s params: %w", method, err)
		}
		raw = data
	}

	req := RequestFrame{Type: FrameTypeRequest, ID: uuid.NewString(), Method: method, Params: raw}
	if err := conn.WriteJSON(req); err != nil {
		return nil, transportError(ctx, method, "write", err)
	}

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return nil, transportError(ctx, method, "read", err)
		}

		var hdr frameHeader
		if err := json.Unmarshal(msg, &hdr); err != nil {
			return nil, &GatewayError{Method: method, Message: "malformed frame", Err: err}
		}
		if hdr.Type != FrameTypeResponse || hdr.ID != req.ID {
			continue
		}

		var resp ResponseFrame
		if err := json.Unmarshal(msg, &resp); err != nil {
			return nil, &GatewayError{Method: method, Message: "malformed response", Err: err}
		}
		if !resp.OK {
			gwErr := &GatewayError{Method: method, Message: "request rejected"}
			if resp.Error != nil {
				gwErr.Code = resp.Error.Code
				gwErr.Message = resp.Error.Message
			}
			return nil, gwErr
		}
		return resp.Payload, nil
	}
}

// transportError wraps a network failure. Deadline hits unwrap to
// context.DeadlineExceeded so callers can tell timeouts apart.
func transportError(ctx context.Context, method, stage string, err error) error {
	cause := err
	if ctxErr := ctx.Err(); ctxErr != nil {
		cause = ctxErr
	} else {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			cause = context.DeadlineExceeded
		}
	}
	return &GatewayError{Method: method, Message: stage + ": " + err.Error(), Err: cause}
}

// SendMessage posts text into a gateway session. deliver asks the gateway to
// forward the agent's reply to the session's outbound channel.
func (c *Client) SendMessage(ctx context.Context, cfg Config, text, sessionKey string, deliver bool) error {
	_, err := c.Call(ctx, cfg, MethodChatSend, chatSendParams{
		SessionKey:     sessionKey,
		Message:        text,
		Deliver:        deliver,
		IdempotencyKey: uuid.NewString(),
	})
	return err
}

// EnsureSession creates the session if missing and sets its label.
func (c *Client) EnsureSession(ctx context.Context, cfg Config, sessionKey, label string) error {
	_, err := c.Call(ctx, cfg, MethodSessionsPatch, sessionPatchParams{Key: sessionKey, Label: label})
	return err
}

var _ RPC = (*Client)(nil)
