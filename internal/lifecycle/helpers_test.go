// ABOUTME: Shared fixtures for lifecycle tests: seeded mock store, stub provisioner, log capture
// ABOUTME: The stub provisioner can fail or panic on demand

package lifecycle

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/2389/mission-control/internal/openclaw/openclawtest"
	"github.com/2389/mission-control/internal/provisioning"
	"github.com/2389/mission-control/internal/store"
)

type stubProvisioner struct {
	mu         sync.Mutex
	provisions []provisioning.MainAgentRequest
	syncs      []provisioning.SyncOptions
	err        error
	panicWith  any
	syncErr    error
}

func (p *stubProvisioner) ProvisionMainAgent(ctx context.Context, agent *store.Agent, req provisioning.MainAgentRequest) error {
	p.mu.Lock()
	p.provisions = append(p.provisions, req)
	err, panicWith := p.err, p.panicWith
	p.mu.Unlock()
	if panicWith != nil {
		panic(panicWith)
	}
	return err
}

func (p *stubProvisioner) SyncGatewayTemplates(ctx context.Context, gw *store.Gateway, opts provisioning.SyncOptions) (*provisioning.SyncResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.syncs = append(p.syncs, opts)
	if p.syncErr != nil {
		return nil, p.syncErr
	}
	return &provisioning.SyncResult{GatewayID: gw.ID, IncludeMain: opts.IncludeMain, AgentsUpdated: 2, Errors: []provisioning.SyncError{}}, nil
}

func (p *stubProvisioner) provisionCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.provisions)
}

type logRecord struct {
	level   slog.Level
	message string
	attrs   map[string]any
}

// captureHandler keeps every record for assertions.
type captureHandler struct {
	mu      *sync.Mutex
	records *[]logRecord
	attrs   []slog.Attr
}

func newCaptureHandler() *captureHandler {
	return &captureHandler{mu: &sync.Mutex{}, records: &[]logRecord{}}
}

func (h *captureHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *captureHandler) Handle(_ context.Context, r slog.Record) error {
	rec := logRecord{level: r.Level, message: r.Message, attrs: map[string]any{}}
	for _, a := range h.attrs {
		rec.attrs[a.Key] = a.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		rec.attrs[a.Key] = a.Value.Any()
		return true
	})
	h.mu.Lock()
	defer h.mu.Unlock()
	*h.records = append(*h.records, rec)
	return nil
}

func (h *captureHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &captureHandler{mu: h.mu, records: h.records, attrs: append(append([]slog.Attr(nil), h.attrs...), attrs...)}
}

func (h *captureHandler) WithGroup(string) slog.Handler { return h }

func (h *captureHandler) find(message string) (logRecord, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, r := range *h.records {
		if r.message == message {
			return r, true
		}
	}
	return logRecord{}, false
}

type testEnv struct {
	store   *store.MockStore
	rpc     *openclawtest.Fake
	prov    *stubProvisioner
	logs    *captureHandler
	svc     *Service
	org     *store.Organization
	gateway *store.Gateway
	board   *store.Board
	user    *store.User
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()
	s := store.NewMockStore()

	org := &store.Organization{Name: "Acme"}
	require.NoError(t, s.CreateOrganization(ctx, org))
	gw := &store.Gateway{OrganizationID: org.ID, Name: "Primary", URL: "ws://gw.test", Token: "gw-secret"}
	require.NoError(t, s.CreateGateway(ctx, gw))
	board := &store.Board{OrganizationID: org.ID, GatewayID: &gw.ID, Name: "Launch", Slug: "launch"}
	require.NoError(t, s.CreateBoard(ctx, board))
	user := &store.User{OrganizationID: org.ID, Email: "ops@acme.test", Name: "Ops"}
	require.NoError(t, s.CreateUser(ctx, user))

	rpc := &openclawtest.Fake{}
	prov := &stubProvisioner{}
	logs := newCaptureHandler()
	svc := NewService(s, rpc, prov, Options{
		LockTimeout: time.Second,
		Logger:      slog.New(logs),
	})
	return &testEnv{store: s, rpc: rpc, prov: prov, logs: logs, svc: svc, org: org, gateway: gw, board: board, user: user}
}

// listRoster makes agents.list report the given ids.
func (e *testEnv) listRoster(ids ...string) {
	payload := `{"agents":[`
	for i, id := range ids {
		if i > 0 {
			payload += ","
		}
		payload += `{"id":"` + id + `"}`
	}
	e.rpc.Respond("agents.list", payload+`]}`)
}
