// ABOUTME: Bulk re-render of workspace templates for every agent on a gateway
// ABOUTME: Optional token rotation, bootstrap re-run and session reset per agent

package provisioning

import (
	"context"
	"errors"

	"github.com/2389/mission-control/internal/agentid"
	"github.com/2389/mission-control/internal/auth"
	"github.com/2389/mission-control/internal/openclaw"
	"github.com/2389/mission-control/internal/store"
)

// SyncOptions select which agents are synced and what happens to them.
type SyncOptions struct {
	User           *store.User
	IncludeMain    bool
	ResetSessions  bool
	RotateTokens   bool
	ForceBootstrap bool
	// BoardID limits board agents to one board. The main agent is unaffected.
	BoardID *string
}

// SyncError records a failure for one agent; the rest of the sync continues.
type SyncError struct {
	AgentID string  `json:"agent_id"`
	BoardID *string `json:"board_id,omitempty"`
	Message string  `json:"message"`
}

// SyncResult summarizes a template sync run.
type SyncResult struct {
	GatewayID     string      `json:"gateway_id"`
	IncludeMain   bool        `json:"include_main"`
	ResetSessions bool        `json:"reset_sessions"`
	AgentsUpdated int         `json:"agents_updated"`
	AgentsSkipped int         `json:"agents_skipped"`
	MainUpdated   bool        `json:"main_updated"`
	TokensRotated int         `json:"tokens_rotated"`
	Errors        []SyncError `json:"errors"`
}

type sessionResetParams struct {
	Key string `json:"key"`
}

// SyncGatewayTemplates re-renders and pushes workspace files for the gateway's agents.
// Per-agent failures are collected into the result. An unconfigured gateway returns
// openclaw.ErrNotConfigured before any agent is touched.
func (p *Provisioner) SyncGatewayTemplates(ctx context.Context, gw *store.Gateway, opts SyncOptions) (*SyncResult, error) {
	if !gw.Configured() {
		return nil, openclaw.ErrNotConfigured
	}

	agents, err := p.store.ListAgentsByGateway(ctx, gw.ID)
	if err != nil {
		return nil, err
	}

	result := &SyncResult{
		GatewayID:     gw.ID,
		IncludeMain:   opts.IncludeMain,
		ResetSessions: opts.ResetSessions,
		Errors:        []SyncError{},
	}
	boardNames := map[string]string{}

	for _, agent := range agents {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if !p.selected(agent, opts) {
			result.AgentsSkipped++
			continue
		}

		rotated, err := p.syncAgent(ctx, gw, agent, opts, boardNames)
		if rotated {
			result.TokensRotated++
		}
		if err != nil {
			p.logger.Warn("template sync failed for agent",
				"gateway_id", gw.ID, "agent_id", agent.ID, "error", err)
			result.Errors = append(result.Errors, SyncError{
				AgentID: agent.ID,
				BoardID: agent.BoardID,
				Message: err.Error(),
			})
			continue
		}
		result.AgentsUpdated++
		if agent.IsMain() {
			result.MainUpdated = true
		}
	}

	p.logger.Info("templates synced",
		"gateway_id", gw.ID,
		"updated", result.AgentsUpdated,
		"skipped", result.AgentsSkipped,
		"errors", len(result.Errors))
	return result, nil
}

func (p *Provisioner) selected(agent *store.Agent, opts SyncOptions) bool {
	if agent.IsMain() {
		return opts.IncludeMain
	}
	if opts.BoardID != nil && *agent.BoardID != *opts.BoardID {
		return false
	}
	return true
}

// syncAgent pushes one agent's files. TOOLS.md carries the raw token, so it is only
// rewritten when a new token was minted in this run.
func (p *Provisioner) syncAgent(ctx context.Context, gw *store.Gateway, agent *store.Agent, opts SyncOptions, boardNames map[string]string) (bool, error) {
	cfg := openclaw.Config{URL: gw.URL, Token: gw.Token}
	remoteID := agentid.ForAgent(gw, agent)
	sessionKey := agentid.AgentSessionKey(gw, agent)

	var token string
	rotated := false
	if opts.RotateTokens || agent.AgentTokenHash == "" {
		var err error
		token, err = p.rotateToken(ctx, agent)
		if err != nil {
			return false, err
		}
		rotated = true
	}

	boardName := ""
	if agent.BoardID != nil {
		boardName = p.boardName(ctx, gw, *agent.BoardID, boardNames)
	}

	files := make([]string, 0, len(workspaceFiles)+1)
	for _, f := range workspaceFiles {
		if f == FileTools && token == "" {
			continue
		}
		files = append(files, f)
	}
	if opts.ForceBootstrap {
		files = append(files, FileBootstrap)
	}

	data := p.templateData(gw, agent, remoteID, sessionKey, token, opts.User, boardName)
	if err := p.pushFiles(ctx, cfg, remoteID, files, data); err != nil {
		return rotated, err
	}

	if opts.ResetSessions {
		if _, err := p.rpc.Call(ctx, cfg, openclaw.MethodSessionsReset, sessionResetParams{Key: sessionKey}); err != nil {
			return rotated, err
		}
	}
	return rotated, nil
}

func (p *Provisioner) rotateToken(ctx context.Context, agent *store.Agent) (string, error) {
	token, err := auth.GenerateAgentToken()
	if err != nil {
		return "", err
	}
	hash, err := auth.HashAgentToken(token)
	if err != nil {
		return "", err
	}
	now := p.now()
	agent.AgentTokenHash = hash
	agent.ProvisionRequestedAt = &now
	agent.ProvisionAction = "update"
	agent.UpdatedAt = now
	if err := p.store.UpdateAgent(ctx, agent); err != nil {
		return "", err
	}
	return token, nil
}

func (p *Provisioner) boardName(ctx context.Context, gw *store.Gateway, boardID string, cache map[string]string) string {
	if name, ok := cache[boardID]; ok {
		return name
	}
	name := boardID
	board, err := p.store.GetBoard(ctx, boardID, gw.OrganizationID)
	switch {
	case err == nil:
		name = board.Name
	case !errors.Is(err, store.ErrNotFound):
		p.logger.Debug("board lookup failed during sync", "board_id", boardID, "error", err)
	}
	cache[boardID] = name
	return name
}
