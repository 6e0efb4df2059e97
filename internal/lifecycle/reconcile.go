// ABOUTME: Find-or-create of a gateway's main agent record with idempotent field correction
// ABOUTME: Returns whether anything changed so callers know to reprovision

package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"github.com/2389/mission-control/internal/agentid"
	"github.com/2389/mission-control/internal/store"
)

// UpsertMainAgentRecord loads the gateway's main agent, creating it if missing, and
// corrects any field that drifted from what the gateway implies. Changed records are
// persisted before returning.
func (s *Service) UpsertMainAgentRecord(ctx context.Context, gw *store.Gateway) (*store.Agent, bool, error) {
	agent, err := s.store.FindMainAgent(ctx, gw.ID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, false, fmt.Errorf("finding main agent: %w", err)
	}

	if agent == nil {
		now := s.now()
		agent = &store.Agent{
			Name:            s.manager.AgentName(gw),
			Status:          store.AgentStatusProvisioning,
			GatewayID:       gw.ID,
			SessionKey:      agentid.SessionKey(gw),
			HeartbeatConfig: store.DefaultHeartbeatConfig(),
			IdentityProfile: s.manager.IdentityProfile(gw),
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		err := s.store.CreateAgent(ctx, agent)
		if err == nil {
			return agent, true, nil
		}
		if !errors.Is(err, store.ErrDuplicate) {
			return nil, false, fmt.Errorf("creating main agent: %w", err)
		}
		// Lost a creation race; reconcile the winner instead.
		agent, err = s.store.FindMainAgent(ctx, gw.ID)
		if err != nil {
			return nil, false, fmt.Errorf("finding main agent: %w", err)
		}
	}

	if !s.reconcileFields(gw, agent) {
		return agent, false, nil
	}
	agent.UpdatedAt = s.now()
	if err := s.store.UpdateAgent(ctx, agent); err != nil {
		return nil, false, fmt.Errorf("updating main agent: %w", err)
	}
	return agent, true, nil
}

func (s *Service) reconcileFields(gw *store.Gateway, agent *store.Agent) bool {
	changed := false
	if agent.BoardID != nil {
		agent.BoardID = nil
		changed = true
	}
	if agent.GatewayID != gw.ID {
		agent.GatewayID = gw.ID
		changed = true
	}
	if agent.IsBoardLead {
		agent.IsBoardLead = false
		changed = true
	}
	if name := s.manager.AgentName(gw); agent.Name != name {
		agent.Name = name
		changed = true
	}
	if key := agentid.SessionKey(gw); agent.SessionKey != key {
		agent.SessionKey = key
		changed = true
	}
	if agent.HeartbeatConfig == nil {
		agent.HeartbeatConfig = store.DefaultHeartbeatConfig()
		changed = true
	}
	if agent.IdentityProfile.Validate() != nil {
		agent.IdentityProfile = s.manager.IdentityProfile(gw)
		changed = true
	}
	if agent.Status == "" {
		agent.Status = store.AgentStatusProvisioning
		changed = true
	}
	return changed
}
