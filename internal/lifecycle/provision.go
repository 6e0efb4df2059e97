// ABOUTME: Main agent provisioning: rotate the credential locally, then best-effort remote setup
// ABOUTME: Remote failures are classified and logged by severity, never returned

package lifecycle

import (
	"context"
	"fmt"

	"github.com/2389/mission-control/internal/agentid"
	"github.com/2389/mission-control/internal/auth"
	"github.com/2389/mission-control/internal/logging"
	"github.com/2389/mission-control/internal/openclaw"
	"github.com/2389/mission-control/internal/provisioning"
	"github.com/2389/mission-control/internal/store"
)

// ProvisionRequest describes one provisioning run.
type ProvisionRequest struct {
	User   *store.User
	Action string
	Notify bool
}

// ProvisionMainAgentRecord rotates the agent's credential and pushes it to the gateway.
// The new hash is persisted before any remote call. Only local persistence failures are
// returned; every failure in the remote phase is logged and swallowed.
func (s *Service) ProvisionMainAgentRecord(ctx context.Context, gw *store.Gateway, agent *store.Agent, req ProvisionRequest) (*store.Agent, error) {
	if req.Action == "" {
		req.Action = DefaultAction
	}

	token, err := auth.GenerateAgentToken()
	if err != nil {
		return agent, err
	}
	hash, err := auth.HashAgentToken(token)
	if err != nil {
		return agent, err
	}

	now := s.now()
	agent.AgentTokenHash = hash
	agent.ProvisionRequestedAt = &now
	agent.ProvisionAction = req.Action
	if agent.HeartbeatConfig == nil {
		agent.HeartbeatConfig = store.DefaultHeartbeatConfig()
	}
	agent.UpdatedAt = now
	if err := s.store.UpdateAgent(ctx, agent); err != nil {
		return agent, fmt.Errorf("persisting agent credential: %w", err)
	}
	if fresh, err := s.store.GetAgent(ctx, agent.ID); err == nil {
		agent = fresh
	}

	if !gw.Configured() {
		return agent, nil
	}

	if err := s.provisionRemote(ctx, gw, agent, token, req); err != nil {
		s.logProvisionFailure(ctx, gw, agent, req.Action, err)
		return agent, nil
	}

	s.logger.Info("gateway.main_agent.provision_success",
		"gateway_id", gw.ID, "agent_id", agent.ID, "action", req.Action)
	s.recordActivity(ctx, &store.ActivityEvent{
		EventType: store.ActivityMainAgentProvisioned,
		Message:   fmt.Sprintf("Provisioned main agent %s (%s).", agent.Name, req.Action),
		AgentID:   &agent.ID,
	})
	return agent, nil
}

// provisionRemote runs the remote steps in order. A panic in any collaborator is
// returned as a PanicError.
func (s *Service) provisionRemote(ctx context.Context, gw *store.Gateway, agent *store.Agent, token string, req ProvisionRequest) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r}
		}
	}()

	sessionKey := agentid.SessionKey(gw)
	if err := s.provisioner.ProvisionMainAgent(ctx, agent, provisioning.MainAgentRequest{
		Gateway:    gw,
		AuthToken:  token,
		User:       req.User,
		SessionKey: sessionKey,
		Action:     req.Action,
	}); err != nil {
		return err
	}

	cfg := openclaw.Config{URL: gw.URL, Token: gw.Token}
	if err := s.rpc.EnsureSession(ctx, cfg, sessionKey, agent.Name); err != nil {
		return err
	}
	if req.Notify {
		if err := s.rpc.SendMessage(ctx, cfg, notifyMessage(agent.Name), sessionKey, true); err != nil {
			return err
		}
	}
	return nil
}

func notifyMessage(agentName string) string {
	return fmt.Sprintf("Hello %s. Your gateway provisioning was updated.\n\n"+
		"Please re-read AGENTS.md, USER.md, HEARTBEAT.md, and TOOLS.md. "+
		"If BOOTSTRAP.md exists, run it once then delete it. Begin heartbeats after startup.",
		agentName)
}

func (s *Service) logProvisionFailure(ctx context.Context, gw *store.Gateway, agent *store.Agent, action string, err error) {
	attrs := []any{"gateway_id", gw.ID, "agent_id", agent.ID, "action", action, "error", err}
	switch kind := Classify(err); kind {
	case KindGateway:
		s.logger.Warn("gateway.main_agent.provision_failed_gateway", attrs...)
	case KindLocal:
		s.logger.Error("gateway.main_agent.provision_failed", attrs...)
	case KindUnknown:
		s.logger.Log(ctx, logging.LevelCritical, "gateway.main_agent.provision_failed_unexpected",
			append(attrs, "error_type", errorType(err))...)
	default:
		panic(fmt.Sprintf("unhandled error kind %v", kind))
	}
}
