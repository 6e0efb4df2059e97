// ABOUTME: Registers agents on their OpenClaw gateway and pushes rendered workspace files
// ABOUTME: Used for main-agent provisioning and bulk template synchronization

package provisioning

import (
	"context"
	"errors"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/2389/mission-control/internal/agentid"
	"github.com/2389/mission-control/internal/openclaw"
	"github.com/2389/mission-control/internal/store"
)

const defaultWorkspaceRoot = "~/.openclaw"

// Remote error codes meaning the agent is already registered.
var alreadyExistsCodes = map[string]bool{"ALREADY_EXISTS": true, "CONFLICT": true}

// fallbackIdentity is used for board agents created without a profile.
var fallbackIdentity = store.IdentityProfile{
	Role:               "Board Agent",
	CommunicationStyle: "clear, concise, collaborative",
	Emoji:              ":robot:",
}

// Options configure a Provisioner.
type Options struct {
	// BaseURL is where agents reach Mission Control; rendered into TOOLS.md.
	BaseURL string
	Logger  *slog.Logger
	// Now stamps token rotations. Defaults to UTC wall time.
	Now func() time.Time
}

// Provisioner pushes agent registrations and workspace files to gateways.
type Provisioner struct {
	rpc      openclaw.RPC
	store    store.Store
	renderer *Renderer
	baseURL  string
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a Provisioner.
func New(rpc openclaw.RPC, s store.Store, opts Options) (*Provisioner, error) {
	renderer, err := NewRenderer()
	if err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Provisioner{
		rpc:      rpc,
		store:    s,
		renderer: renderer,
		baseURL:  strings.TrimRight(opts.BaseURL, "/"),
		logger:   opts.Logger.With("component", "provisioning"),
		now:      opts.Now,
	}, nil
}

// MainAgentRequest carries everything needed to provision a gateway's main agent.
type MainAgentRequest struct {
	Gateway    *store.Gateway
	AuthToken  string // raw token; sent once, never stored
	User       *store.User
	SessionKey string
	Action     string
}

// ProvisionMainAgent registers the main agent on its gateway and writes its workspace.
// BOOTSTRAP.md is only written on the initial "provision" action.
func (p *Provisioner) ProvisionMainAgent(ctx context.Context, agent *store.Agent, req MainAgentRequest) error {
	gw := req.Gateway
	if !gw.Configured() {
		return openclaw.ErrNotConfigured
	}
	cfg := openclaw.Config{URL: gw.URL, Token: gw.Token}
	remoteID := agentid.OpenClawAgentID(gw)

	if err := p.registerAgent(ctx, cfg, gw, agent, remoteID); err != nil {
		return err
	}

	data := p.templateData(gw, agent, remoteID, req.SessionKey, req.AuthToken, req.User, "")
	files := workspaceFiles
	if req.Action == "provision" {
		files = append(append([]string(nil), workspaceFiles...), FileBootstrap)
	}
	return p.pushFiles(ctx, cfg, remoteID, files, data)
}

type remoteIdentity struct {
	Name  string `json:"name"`
	Role  string `json:"role"`
	Emoji string `json:"emoji"`
}

type agentParams struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	Workspace string                 `json:"workspace"`
	Identity  remoteIdentity         `json:"identity"`
	Heartbeat *store.HeartbeatConfig `json:"heartbeat,omitempty"`
}

type fileSetParams struct {
	AgentID string `json:"agentId"`
	Name    string `json:"name"`
	Content string `json:"content"`
}

// registerAgent creates the remote agent, falling back to update when it exists.
func (p *Provisioner) registerAgent(ctx context.Context, cfg openclaw.Config, gw *store.Gateway, agent *store.Agent, remoteID string) error {
	identity := identityFor(agent)
	params := agentParams{
		ID:        remoteID,
		Name:      agent.Name,
		Workspace: workspacePath(gw, remoteID),
		Identity:  remoteIdentity{Name: agent.Name, Role: identity.Role, Emoji: identity.Emoji},
		Heartbeat: agent.HeartbeatConfig,
	}

	_, err := p.rpc.Call(ctx, cfg, openclaw.MethodAgentsCreate, params)
	var gwErr *openclaw.GatewayError
	if errors.As(err, &gwErr) && alreadyExistsCodes[gwErr.Code] {
		p.logger.Debug("remote agent exists, updating", "agent_id", remoteID)
		_, err = p.rpc.Call(ctx, cfg, openclaw.MethodAgentsUpdate, params)
	}
	return err
}

func (p *Provisioner) pushFiles(ctx context.Context, cfg openclaw.Config, remoteID string, files []string, data TemplateData) error {
	for _, name := range files {
		content, err := p.renderer.Render(name, data)
		if err != nil {
			return err
		}
		if _, err := p.rpc.Call(ctx, cfg, openclaw.MethodAgentsFilesSet, fileSetParams{
			AgentID: remoteID,
			Name:    name,
			Content: content,
		}); err != nil {
			return err
		}
	}
	return nil
}

func (p *Provisioner) templateData(gw *store.Gateway, agent *store.Agent, remoteID, sessionKey, token string, user *store.User, boardName string) TemplateData {
	identity := identityFor(agent)
	heartbeat := agent.HeartbeatConfig
	if heartbeat == nil {
		heartbeat = store.DefaultHeartbeatConfig()
	}
	data := TemplateData{
		AgentName:          agent.Name,
		AgentID:            remoteID,
		SessionKey:         sessionKey,
		Role:               identity.Role,
		CommunicationStyle: identity.CommunicationStyle,
		Emoji:              identity.Emoji,
		IsMain:             agent.IsMain(),
		GatewayName:        gw.Name,
		BoardName:          boardName,
		WorkspaceRoot:      workspacePath(gw, remoteID),
		BaseURL:            p.baseURL,
		AuthToken:          token,
		HeartbeatEvery:     heartbeat.Every,
	}
	if user != nil {
		data.UserName = user.Name
		data.UserEmail = user.Email
	}
	return data
}

func identityFor(agent *store.Agent) store.IdentityProfile {
	if agent.IdentityProfile != nil && agent.IdentityProfile.Validate() == nil {
		return *agent.IdentityProfile
	}
	return fallbackIdentity
}

func workspacePath(gw *store.Gateway, remoteID string) string {
	root := gw.WorkspaceRoot
	if root == "" {
		root = defaultWorkspaceRoot
	}
	return path.Join(root, "workspace-"+remoteID)
}
