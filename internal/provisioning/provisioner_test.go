// ABOUTME: Tests for main-agent provisioning and gateway template sync
// ABOUTME: Uses the mock store and a recording fake gateway

package provisioning

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/mission-control/internal/auth"
	"github.com/2389/mission-control/internal/openclaw"
	"github.com/2389/mission-control/internal/openclaw/openclawtest"
	"github.com/2389/mission-control/internal/store"
)

var testNow = time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)

type testEnv struct {
	store   *store.MockStore
	rpc     *openclawtest.Fake
	prov    *Provisioner
	org     *store.Organization
	gateway *store.Gateway
	board   *store.Board
	user    *store.User
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()
	s := store.NewMockStore()
	rpc := &openclawtest.Fake{}

	org := &store.Organization{Name: "Acme"}
	require.NoError(t, s.CreateOrganization(ctx, org))
	gw := &store.Gateway{OrganizationID: org.ID, Name: "Primary", URL: "ws://gw.test", Token: "gw-secret"}
	require.NoError(t, s.CreateGateway(ctx, gw))
	board := &store.Board{OrganizationID: org.ID, GatewayID: &gw.ID, Name: "Launch", Slug: "launch"}
	require.NoError(t, s.CreateBoard(ctx, board))
	user := &store.User{OrganizationID: org.ID, Email: "ops@acme.test", Name: "Ops"}
	require.NoError(t, s.CreateUser(ctx, user))

	prov, err := New(rpc, s, Options{
		BaseURL: "https://mc.acme.test/",
		Now:     func() time.Time { return testNow },
	})
	require.NoError(t, err)

	return &testEnv{store: s, rpc: rpc, prov: prov, org: org, gateway: gw, board: board, user: user}
}

func (e *testEnv) addAgent(t *testing.T, name string, boardID *string, tokenHash string) *store.Agent {
	t.Helper()
	a := &store.Agent{
		Name:            name,
		Status:          store.AgentStatusOnline,
		GatewayID:       e.gateway.ID,
		BoardID:         boardID,
		AgentTokenHash:  tokenHash,
		HeartbeatConfig: store.DefaultHeartbeatConfig(),
	}
	if boardID == nil {
		a.IdentityProfile = &store.IdentityProfile{Role: "Gateway Agent", CommunicationStyle: "direct", Emoji: ":compass:"}
	}
	require.NoError(t, e.store.CreateAgent(context.Background(), a))
	return a
}

func fileNames(calls []openclawtest.Call) []string {
	var names []string
	for _, c := range calls {
		var p fileSetParams
		_ = json.Unmarshal(c.Params, &p)
		names = append(names, p.Name)
	}
	return names
}

func fileContent(t *testing.T, calls []openclawtest.Call, name string) string {
	t.Helper()
	for _, c := range calls {
		var p fileSetParams
		require.NoError(t, json.Unmarshal(c.Params, &p))
		if p.Name == name {
			return p.Content
		}
	}
	t.Fatalf("file %s was not pushed", name)
	return ""
}

func TestRenderer_AllTemplates(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)

	data := TemplateData{
		AgentName:      "Primary Gateway Agent",
		AgentID:        "mc-gateway-1",
		IsMain:         true,
		GatewayName:    "Primary",
		BaseURL:        "https://mc.test",
		AuthToken:      "tok",
		HeartbeatEvery: "10m",
		Role:           "Gateway Agent",
	}
	for _, name := range []string{FileAgents, FileSoul, FileUser, FileIdentity, FileTools, FileHeartbeat, FileBootstrap} {
		out, err := r.Render(name, data)
		require.NoError(t, err, name)
		assert.NotEmpty(t, out, name)
	}

	_, err = r.Render("MISSING.md", data)
	assert.ErrorIs(t, err, ErrTemplate)
}

func TestProvisionMainAgent_CreatesAndPushesFiles(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	agent := e.addAgent(t, "Primary Gateway Agent", nil, "")

	err := e.prov.ProvisionMainAgent(ctx, agent, MainAgentRequest{
		Gateway:    e.gateway,
		AuthToken:  "raw-token",
		User:       e.user,
		SessionKey: "agent:mc-gateway-" + e.gateway.ID + ":main",
		Action:     "provision",
	})
	require.NoError(t, err)

	creates := e.rpc.CallsTo(openclaw.MethodAgentsCreate)
	require.Len(t, creates, 1)
	var params agentParams
	require.NoError(t, json.Unmarshal(creates[0].Params, &params))
	assert.Equal(t, "mc-gateway-"+e.gateway.ID, params.ID)
	assert.Equal(t, "~/.openclaw/workspace-mc-gateway-"+e.gateway.ID, params.Workspace)
	assert.Equal(t, "Gateway Agent", params.Identity.Role)
	assert.Equal(t, "gw-secret", creates[0].Config.Token)
	assert.Empty(t, e.rpc.CallsTo(openclaw.MethodAgentsUpdate))

	files := e.rpc.CallsTo(openclaw.MethodAgentsFilesSet)
	assert.Equal(t, append(append([]string(nil), workspaceFiles...), FileBootstrap), fileNames(files))

	tools := fileContent(t, files, FileTools)
	assert.Contains(t, tools, "raw-token")
	assert.Contains(t, tools, "https://mc.acme.test")
	assert.NotContains(t, tools, "https://mc.acme.test/")
	assert.Contains(t, fileContent(t, files, FileUser), "ops@acme.test")
}

func TestProvisionMainAgent_UpdateSkipsBootstrap(t *testing.T) {
	e := newTestEnv(t)
	agent := e.addAgent(t, "Primary Gateway Agent", nil, "")

	err := e.prov.ProvisionMainAgent(context.Background(), agent, MainAgentRequest{
		Gateway: e.gateway, AuthToken: "t", Action: "update",
	})
	require.NoError(t, err)
	assert.NotContains(t, fileNames(e.rpc.CallsTo(openclaw.MethodAgentsFilesSet)), FileBootstrap)
}

func TestProvisionMainAgent_FallsBackToUpdate(t *testing.T) {
	e := newTestEnv(t)
	agent := e.addAgent(t, "Primary Gateway Agent", nil, "")
	e.rpc.Fail(openclaw.MethodAgentsCreate, &openclaw.GatewayError{
		Method: openclaw.MethodAgentsCreate, Code: "ALREADY_EXISTS", Message: "agent exists",
	})

	err := e.prov.ProvisionMainAgent(context.Background(), agent, MainAgentRequest{
		Gateway: e.gateway, AuthToken: "t", Action: "update",
	})
	require.NoError(t, err)
	assert.Len(t, e.rpc.CallsTo(openclaw.MethodAgentsUpdate), 1)
	assert.Len(t, e.rpc.CallsTo(openclaw.MethodAgentsFilesSet), len(workspaceFiles))
}

func TestProvisionMainAgent_OtherCreateErrorsPropagate(t *testing.T) {
	e := newTestEnv(t)
	agent := e.addAgent(t, "Primary Gateway Agent", nil, "")
	e.rpc.Fail(openclaw.MethodAgentsCreate, &openclaw.GatewayError{
		Method: openclaw.MethodAgentsCreate, Code: "UNAVAILABLE", Message: "down",
	})

	err := e.prov.ProvisionMainAgent(context.Background(), agent, MainAgentRequest{Gateway: e.gateway})
	require.Error(t, err)
	assert.True(t, openclaw.IsGatewayError(err))
	assert.Empty(t, e.rpc.CallsTo(openclaw.MethodAgentsUpdate))
	assert.Empty(t, e.rpc.CallsTo(openclaw.MethodAgentsFilesSet))
}

func TestProvisionMainAgent_NotConfigured(t *testing.T) {
	e := newTestEnv(t)
	agent := e.addAgent(t, "Primary Gateway Agent", nil, "")
	gw := *e.gateway
	gw.URL = ""

	err := e.prov.ProvisionMainAgent(context.Background(), agent, MainAgentRequest{Gateway: &gw})
	assert.ErrorIs(t, err, openclaw.ErrNotConfigured)
	assert.Empty(t, e.rpc.Calls())
}

func TestSyncGatewayTemplates_BoardAgentsOnly(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	e.addAgent(t, "Primary Gateway Agent", nil, "pbkdf2_sha256$1$s$k")
	worker := e.addAgent(t, "Worker", &e.board.ID, "pbkdf2_sha256$1$s$k")

	result, err := e.prov.SyncGatewayTemplates(ctx, e.gateway, SyncOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, result.AgentsUpdated)
	assert.Equal(t, 1, result.AgentsSkipped)
	assert.False(t, result.MainUpdated)
	assert.Equal(t, 0, result.TokensRotated)
	assert.Empty(t, result.Errors)

	files := e.rpc.CallsTo(openclaw.MethodAgentsFilesSet)
	names := fileNames(files)
	assert.NotContains(t, names, FileTools)
	assert.NotContains(t, names, FileBootstrap)
	assert.Contains(t, fileContent(t, files, FileAgents), "Launch")

	var p fileSetParams
	require.NoError(t, json.Unmarshal(files[0].Params, &p))
	assert.Equal(t, "mc-"+worker.ID, p.AgentID)
	assert.Empty(t, e.rpc.CallsTo(openclaw.MethodSessionsReset))
}

func TestSyncGatewayTemplates_RotateTokensPersistsHash(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	main := e.addAgent(t, "Primary Gateway Agent", nil, "old-hash")

	result, err := e.prov.SyncGatewayTemplates(ctx, e.gateway, SyncOptions{
		IncludeMain:    true,
		RotateTokens:   true,
		ResetSessions:  true,
		ForceBootstrap: true,
	})
	require.NoError(t, err)
	assert.True(t, result.MainUpdated)
	assert.Equal(t, 1, result.TokensRotated)

	stored, err := e.store.GetAgent(ctx, main.ID)
	require.NoError(t, err)
	assert.NotEqual(t, "old-hash", stored.AgentTokenHash)
	assert.Equal(t, "update", stored.ProvisionAction)
	require.NotNil(t, stored.ProvisionRequestedAt)
	assert.Equal(t, testNow, *stored.ProvisionRequestedAt)
	assert.Equal(t, testNow, stored.UpdatedAt)

	files := e.rpc.CallsTo(openclaw.MethodAgentsFilesSet)
	assert.Contains(t, fileNames(files), FileBootstrap)
	tools := fileContent(t, files, FileTools)
	token := extractToken(t, tools)
	ok, err := auth.VerifyAgentToken(token, stored.AgentTokenHash)
	require.NoError(t, err)
	assert.True(t, ok)

	resets := e.rpc.CallsTo(openclaw.MethodSessionsReset)
	require.Len(t, resets, 1)
	assert.JSONEq(t, `{"key":"agent:mc-gateway-`+e.gateway.ID+`:main"}`, string(resets[0].Params))
}

func TestSyncGatewayTemplates_MintsTokenWhenMissing(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	worker := e.addAgent(t, "Worker", &e.board.ID, "")

	result, err := e.prov.SyncGatewayTemplates(ctx, e.gateway, SyncOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, result.TokensRotated)
	assert.Contains(t, fileNames(e.rpc.CallsTo(openclaw.MethodAgentsFilesSet)), FileTools)

	stored, err := e.store.GetAgent(ctx, worker.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, stored.AgentTokenHash)
}

func TestSyncGatewayTemplates_BoardFilter(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	other := &store.Board{OrganizationID: e.org.ID, GatewayID: &e.gateway.ID, Name: "Other", Slug: "other"}
	require.NoError(t, e.store.CreateBoard(ctx, other))
	e.addAgent(t, "Primary Gateway Agent", nil, "h")
	e.addAgent(t, "Launch worker", &e.board.ID, "h")
	e.addAgent(t, "Other worker", &other.ID, "h")

	result, err := e.prov.SyncGatewayTemplates(ctx, e.gateway, SyncOptions{IncludeMain: true, BoardID: &other.ID})
	require.NoError(t, err)
	assert.Equal(t, 2, result.AgentsUpdated)
	assert.Equal(t, 1, result.AgentsSkipped)
	assert.True(t, result.MainUpdated)
}

func TestSyncGatewayTemplates_CollectsPerAgentErrors(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	a := e.addAgent(t, "Worker A", &e.board.ID, "h")
	e.addAgent(t, "Worker B", &e.board.ID, "h")

	failing := "mc-" + a.ID
	// Fail only the first agent's file pushes by inspecting recorded params.
	e.rpc.OnCall(func(method string) error {
		calls := e.rpc.Calls()
		last := calls[len(calls)-1]
		if method == openclaw.MethodAgentsFilesSet && strings.Contains(string(last.Params), failing) {
			return &openclaw.GatewayError{Method: method, Message: "disk full"}
		}
		return nil
	})

	result, err := e.prov.SyncGatewayTemplates(ctx, e.gateway, SyncOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, result.AgentsUpdated)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, a.ID, result.Errors[0].AgentID)
	assert.Equal(t, &e.board.ID, result.Errors[0].BoardID)
	assert.Contains(t, result.Errors[0].Message, "disk full")
}

func TestSyncGatewayTemplates_NotConfigured(t *testing.T) {
	e := newTestEnv(t)
	gw := *e.gateway
	gw.URL = ""

	_, err := e.prov.SyncGatewayTemplates(context.Background(), &gw, SyncOptions{})
	assert.True(t, errors.Is(err, openclaw.ErrNotConfigured))
}

func TestSyncGatewayTemplates_StopsOnCancel(t *testing.T) {
	e := newTestEnv(t)
	e.addAgent(t, "Worker", &e.board.ID, "h")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.prov.SyncGatewayTemplates(ctx, e.gateway, SyncOptions{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, e.rpc.Calls())
}

func extractToken(t *testing.T, tools string) string {
	t.Helper()
	const marker = "**Auth token:** `"
	i := strings.Index(tools, marker)
	require.GreaterOrEqual(t, i, 0)
	rest := tools[i+len(marker):]
	j := strings.Index(rest, "`")
	require.Greater(t, j, 0)
	return rest[:j]
}
