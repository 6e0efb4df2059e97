// ABOUTME: Tests for the HTTP API: auth, gateway lifecycle routes, onboarding and coordination
// ABOUTME: Runs the real services against a mock store and a fake gateway RPC

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/mission-control/internal/agentid"
	"github.com/2389/mission-control/internal/apierr"
	"github.com/2389/mission-control/internal/auth"
	"github.com/2389/mission-control/internal/config"
	"github.com/2389/mission-control/internal/lifecycle"
	"github.com/2389/mission-control/internal/messaging"
	"github.com/2389/mission-control/internal/openclaw"
	"github.com/2389/mission-control/internal/openclaw/openclawtest"
	"github.com/2389/mission-control/internal/provisioning"
	"github.com/2389/mission-control/internal/store"
)

var testSecret = []byte("server-test-secret-that-is-long-enough")

type testEnv struct {
	store   *store.MockStore
	rpc     *openclawtest.Fake
	server  *Server
	handler http.Handler
	token   string
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
	prov, err := provisioning.New(rpc, s, provisioning.Options{BaseURL: "http://mc.test"})
	require.NoError(t, err)
	svc := lifecycle.NewService(s, rpc, prov, lifecycle.Options{LockTimeout: time.Second})
	dispatcher := messaging.NewDispatcher(s, rpc, messaging.Options{})

	verifier, err := auth.NewJWTVerifier(testSecret)
	require.NoError(t, err)
	token, err := verifier.Generate(user.ID, time.Hour)
	require.NoError(t, err)

	cfg := &config.Config{Server: config.ServerConfig{HTTPAddr: "127.0.0.1:0"}}
	srv, err := New(cfg, Deps{
		Store:        s,
		Lifecycle:    svc,
		Dispatcher:   dispatcher,
		Onboarding:   messaging.NewOnboardingService(dispatcher),
		Coordination: messaging.NewCoordinationService(dispatcher),
		Verifier:     verifier,
	}, nil)
	require.NoError(t, err)
	t.Cleanup(dispatcher.Close)

	return &testEnv{
		store:   s,
		rpc:     rpc,
		server:  srv,
		handler: srv.Handler(),
		token:   token,
		org:     org,
		gateway: gw,
		board:   board,
		user:    user,
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Authorization", "Bearer "+e.token)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var resp errorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func TestNew_RequiresDependencies(t *testing.T) {
	_, err := New(&config.Config{}, Deps{}, nil)
	require.Error(t, err)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestAPI_RequiresAuth(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/gateways/"+env.gateway.ID+"/main-agent", nil)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, env.rpc.Calls())
}

func TestEnsureMainAgent(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/gateways/"+env.gateway.ID+"/main-agent", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp AgentResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "Primary Gateway Agent", resp.Name)
	assert.Equal(t, env.gateway.ID, resp.GatewayID)
	assert.Nil(t, resp.BoardID)
	assert.Equal(t, agentid.SessionKey(env.gateway), resp.SessionKey)
	assert.Equal(t, "provision", resp.ProvisionAction)

	assert.Len(t, env.rpc.CallsTo(openclaw.MethodAgentsCreate), 1)
	msgs := env.rpc.Messages()
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].Deliver)

	main, err := env.store.FindMainAgent(context.Background(), env.gateway.ID)
	require.NoError(t, err)
	assert.Equal(t, resp.ID, main.ID)
	assert.NotEmpty(t, main.AgentTokenHash)
}

func TestEnsureMainAgent_UpdateAction(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/gateways/"+env.gateway.ID+"/main-agent?action=update", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp AgentResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "update", resp.ProvisionAction)
}

func TestEnsureMainAgent_InvalidAction(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/gateways/"+env.gateway.ID+"/main-agent?action=destroy", nil)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, apierr.CodeInvalidRequest, decodeError(t, rec).Code)
	assert.Empty(t, env.rpc.Calls())
}

func TestEnsureMainAgent_OtherOrganization(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	other := &store.Organization{Name: "Other"}
	require.NoError(t, env.store.CreateOrganization(ctx, other))
	foreign := &store.Gateway{OrganizationID: other.ID, Name: "Foreign", URL: "ws://foreign.test"}
	require.NoError(t, env.store.CreateGateway(ctx, foreign))

	rec := env.do(t, http.MethodPost, "/api/v1/gateways/"+foreign.ID+"/main-agent", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	resp := decodeError(t, rec)
	assert.Equal(t, apierr.CodeNotFound, resp.Code)
	assert.Equal(t, apierr.CodeNotFound, resp.Detail.Code)
	assert.False(t, resp.Retryable)
}

func TestSyncTemplates_DefaultsIncludeMain(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/gateways/"+env.gateway.ID+"/templates/sync", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var result provisioning.SyncResult
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&result))
	assert.Equal(t, env.gateway.ID, result.GatewayID)
	assert.True(t, result.IncludeMain)
	assert.True(t, result.MainUpdated)
	assert.Empty(t, result.Errors)
}

func TestSyncTemplates_Flags(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost,
		"/api/v1/gateways/"+env.gateway.ID+"/templates/sync?include_main=false&reset_sessions=true", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var result provisioning.SyncResult
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&result))
	assert.False(t, result.IncludeMain)
	assert.True(t, result.ResetSessions)
	assert.False(t, result.MainUpdated)
}

func TestSyncTemplates_InvalidFlag(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/gateways/"+env.gateway.ID+"/templates/sync?rotate_tokens=maybe", nil)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, apierr.CodeInvalidRequest, decodeError(t, rec).Code)
}

func TestSyncTemplates_UnconfiguredGateway(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	bare := &store.Gateway{OrganizationID: env.org.ID, Name: "Bare"}
	require.NoError(t, env.store.CreateGateway(ctx, bare))

	rec := env.do(t, http.MethodPost, "/api/v1/gateways/"+bare.ID+"/templates/sync", nil)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, apierr.CodeNotConfigured, decodeError(t, rec).Code)
	assert.Empty(t, env.rpc.Calls())
}

func TestOnboardingStart(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/boards/"+env.board.ID+"/onboarding/start",
		OnboardingStartRequest{Prompt: "Plan the launch", CorrelationID: "corr-1"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp OnboardingResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, env.board.ID, resp.BoardID)
	assert.Equal(t, agentid.SessionKey(env.gateway), resp.SessionKey)
	assert.Equal(t, "active", resp.Status)

	msgs := env.rpc.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "Plan the launch", msgs[0].Text)
	assert.False(t, msgs[0].Deliver)

	sess, err := env.store.GetOnboardingSession(context.Background(), resp.ID, env.board.ID)
	require.NoError(t, err)
	assert.Contains(t, sess.Messages, "Plan the launch")
}

func TestOnboardingStart_RequiresPrompt(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/boards/"+env.board.ID+"/onboarding/start",
		OnboardingStartRequest{Prompt: "   "})

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Empty(t, env.rpc.Messages())
}

func TestOnboardingStart_MalformedBody(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/boards/"+env.board.ID+"/onboarding/start",
		bytes.NewBufferString("{not json"))
	req.Header.Set("Authorization", "Bearer "+env.token)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, apierr.CodeInvalidRequest, decodeError(t, rec).Code)
}

func TestOnboardingStart_GatewayFailure(t *testing.T) {
	env := newTestEnv(t)
	env.rpc.Fail(openclaw.MethodChatSend, &openclaw.GatewayError{
		Method: openclaw.MethodChatSend, Code: "UNAVAILABLE", Message: "agent offline",
	})

	rec := env.do(t, http.MethodPost, "/api/v1/boards/"+env.board.ID+"/onboarding/start",
		OnboardingStartRequest{Prompt: "Plan the launch"})

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	resp := decodeError(t, rec)
	assert.Equal(t, apierr.CodeGatewayError, resp.Code)
	assert.Equal(t, string(apierr.OpOnboardingStartDispatch), resp.Detail.Operation)
	assert.Contains(t, resp.Detail.Message, "agent offline")
}

func TestOnboardingStart_GatewayTimeout(t *testing.T) {
	env := newTestEnv(t)
	env.rpc.Fail(openclaw.MethodChatSend, fmt.Errorf("chat.send: %w", context.DeadlineExceeded))

	rec := env.do(t, http.MethodPost, "/api/v1/boards/"+env.board.ID+"/onboarding/start",
		OnboardingStartRequest{Prompt: "Plan the launch"})

	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
	resp := decodeError(t, rec)
	assert.Equal(t, apierr.CodeGatewayTimeout, resp.Code)
	assert.True(t, resp.Retryable)
}

func TestOnboardingStart_BoardWithoutGateway(t *testing.T) {
	env := newTestEnv(t)
	board := &store.Board{OrganizationID: env.org.ID, Name: "Loose", Slug: "loose"}
	require.NoError(t, env.store.CreateBoard(context.Background(), board))

	rec := env.do(t, http.MethodPost, "/api/v1/boards/"+board.ID+"/onboarding/start",
		OnboardingStartRequest{Prompt: "hello"})

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, apierr.CodeNotConfigured, decodeError(t, rec).Code)
}

func TestOnboardingAnswer(t *testing.T) {
	env := newTestEnv(t)
	sess := &store.BoardOnboardingSession{BoardID: env.board.ID, SessionKey: "agent:mc-gateway-x:main"}
	require.NoError(t, env.store.CreateOnboardingSession(context.Background(), sess))

	req := httptest.NewRequest(http.MethodPost,
		"/api/v1/boards/"+env.board.ID+"/onboarding/"+sess.ID+"/answer",
		bytes.NewBufferString(`{"answer":"Ship on Friday"}`))
	req.Header.Set("Authorization", "Bearer "+env.token)
	req.Header.Set(correlationHeader, "corr-answer")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var resp DispatchResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.True(t, resp.OK)
	assert.Equal(t, sess.SessionKey, resp.SessionKey)

	msgs := env.rpc.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, sess.SessionKey, msgs[0].SessionKey)
	assert.Equal(t, "Ship on Friday", msgs[0].Text)
}

func TestOnboardingAnswer_UnknownSession(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/boards/"+env.board.ID+"/onboarding/missing/answer",
		OnboardingAnswerRequest{Answer: "yes"})

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Empty(t, env.rpc.Messages())
}

func TestNudgeAgent(t *testing.T) {
	env := newTestEnv(t)
	agent := &store.Agent{Name: "Researcher", GatewayID: env.gateway.ID, BoardID: &env.board.ID}
	require.NoError(t, env.store.CreateAgent(context.Background(), agent))

	rec := env.do(t, http.MethodPost,
		"/api/v1/boards/"+env.board.ID+"/agents/"+agent.ID+"/nudge",
		NudgeRequest{Message: "Status update please"})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	msgs := env.rpc.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "Status update please", msgs[0].Text)
	assert.True(t, msgs[0].Deliver)
	assert.Equal(t, agentid.AgentSessionKey(env.gateway, agent), msgs[0].SessionKey)
}

func TestNudgeAgent_AgentOnAnotherBoard(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	other := &store.Board{OrganizationID: env.org.ID, GatewayID: &env.gateway.ID, Name: "Other", Slug: "other"}
	require.NoError(t, env.store.CreateBoard(ctx, other))
	agent := &store.Agent{Name: "Elsewhere", GatewayID: env.gateway.ID, BoardID: &other.ID}
	require.NoError(t, env.store.CreateAgent(ctx, agent))

	rec := env.do(t, http.MethodPost,
		"/api/v1/boards/"+env.board.ID+"/agents/"+agent.ID+"/nudge",
		NudgeRequest{Message: "hi"})

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Empty(t, env.rpc.Messages())
}

func TestDeleteAgent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	agent := &store.Agent{Name: "Temp", GatewayID: env.gateway.ID, BoardID: &env.board.ID}
	require.NoError(t, env.store.CreateAgent(ctx, agent))

	rec := env.do(t, http.MethodDelete, "/api/v1/agents/"+agent.ID, nil)
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	_, err := env.store.GetAgent(ctx, agent.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDeleteAgent_Missing(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodDelete, "/api/v1/agents/nope", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestToAPIError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		status    int
		code      string
		retryable bool
	}{
		{"not found", fmt.Errorf("gateway x: %w", store.ErrNotFound), http.StatusNotFound, apierr.CodeNotFound, false},
		{"not configured", openclaw.ErrNotConfigured, http.StatusUnprocessableEntity, apierr.CodeNotConfigured, false},
		{"busy", fmt.Errorf("gateway x: %w", lifecycle.ErrGatewayBusy), http.StatusConflict, apierr.CodeConflict, true},
		{"api error passes through", apierr.NotFound("board"), http.StatusNotFound, apierr.CodeNotFound, false},
		{"unknown", errors.New("disk on fire"), http.StatusInternalServerError, apierr.CodeInternal, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := toAPIError(tt.err)
			assert.Equal(t, tt.status, got.Status)
			assert.Equal(t, tt.code, got.Code)
			assert.Equal(t, tt.retryable, got.Retryable)
		})
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- env.server.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestResolveTailscaleStateDir(t *testing.T) {
	home := func() (string, error) { return "/home/ops", nil }
	noHome := func() (string, error) { return "", errors.New("no $HOME") }

	tests := []struct {
		name    string
		cfg     config.Config
		home    func() (string, error)
		want    string
		wantErr bool
	}{
		{"configured", config.Config{
			Tailscale: config.TailscaleConfig{StateDir: "/var/lib/mc/ts"},
			Database:  config.DatabaseConfig{Path: "/data/mc.db"},
		}, noHome, "/var/lib/mc/ts", false},
		{"beside sqlite database", config.Config{
			Database: config.DatabaseConfig{Path: "/data/mc.db"},
		}, noHome, "/data/tailscale", false},
		{"postgres falls back to home", config.Config{
			Database: config.DatabaseConfig{DSN: "postgres://db/mc"},
		}, home, "/home/ops/.local/share/mission-control/tailscale", false},
		{"no home directory", config.Config{
			Database: config.DatabaseConfig{DSN: "postgres://db/mc"},
		}, noHome, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolveTailscaleStateDir(&tt.cfg, tt.home)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveTailscaleAuthKey(t *testing.T) {
	loggedIn := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(loggedIn, tsnetStateFile), []byte("{}"), 0600))
	fresh := t.TempDir()

	env := func(key string) func(string) string {
		return func(name string) string {
			if name == config.EnvTailscaleAuthKey {
				return key
			}
			return ""
		}
	}

	tests := []struct {
		name     string
		ts       config.TailscaleConfig
		stateDir string
		getenv   func(string) string
		want     string
		wantErr  error
	}{
		{"configured wins over env", config.TailscaleConfig{AuthKey: "tskey-cfg"}, fresh, env("tskey-env"), "tskey-cfg", nil},
		{"env fallback", config.TailscaleConfig{}, fresh, env("tskey-env"), "tskey-env", nil},
		{"stored login needs no key", config.TailscaleConfig{}, loggedIn, env(""), "", nil},
		{"ephemeral ignores stored login", config.TailscaleConfig{Ephemeral: true}, loggedIn, env(""), "", errNoTailnetCredentials},
		{"first login without key", config.TailscaleConfig{}, fresh, env(""), "", errNoTailnetCredentials},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolveTailscaleAuthKey(tt.ts, tt.stateDir, tt.getenv)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPlanTailnetListener(t *testing.T) {
	tests := []struct {
		name string
		ts   config.TailscaleConfig
		want tailnetListener
	}{
		{"plain http", config.TailscaleConfig{}, tailnetListener{addr: ":80"}},
		{"tailnet https", config.TailscaleConfig{HTTPS: true}, tailnetListener{addr: ":443", wrapTLS: true}},
		{"funnel", config.TailscaleConfig{Funnel: true}, tailnetListener{addr: ":443", funnel: true}},
		{"funnel on alternate port", config.TailscaleConfig{Funnel: true, HTTPS: true, Port: 8443}, tailnetListener{addr: ":8443", funnel: true}},
		{"custom plain port", config.TailscaleConfig{Port: 8080}, tailnetListener{addr: ":8080"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, planTailnetListener(tt.ts))
		})
	}
}
