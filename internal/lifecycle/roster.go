// ABOUTME: Checks the remote gateway's agent roster for the main agent entry
// ABOUTME: Fails open: an unreachable gateway is assumed to still have the agent

package lifecycle

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/2389/mission-control/internal/agentid"
	"github.com/2389/mission-control/internal/openclaw"
	"github.com/2389/mission-control/internal/store"
)

var agentIDKeys = []string{"id", "agentId", "agent_id"}

// GatewayHasMainAgentEntry reports whether the gateway lists its main agent.
// An unconfigured gateway returns false; a failed listing returns true.
func (s *Service) GatewayHasMainAgentEntry(ctx context.Context, gw *store.Gateway) bool {
	if !gw.Configured() {
		return false
	}
	cfg := openclaw.Config{URL: gw.URL, Token: gw.Token}
	payload, err := s.rpc.Call(ctx, cfg, openclaw.MethodAgentsList, nil)
	if err != nil {
		s.logger.Debug("agent roster unavailable, assuming main agent present",
			"gateway_id", gw.ID, "error", err)
		return true
	}

	target := agentid.OpenClawAgentID(gw)
	for _, entry := range extractAgentsList(payload) {
		if extractAgentID(entry) == target {
			return true
		}
	}
	return false
}

// extractAgentsList accepts a bare list or an object with an "agents" list.
func extractAgentsList(payload json.RawMessage) []any {
	var decoded any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return nil
	}
	switch v := decoded.(type) {
	case []any:
		return v
	case map[string]any:
		agents, _ := v["agents"].([]any)
		return agents
	default:
		return nil
	}
}

// extractAgentID reads an id from a plain string or from an object's id keys.
func extractAgentID(entry any) string {
	switch v := entry.(type) {
	case string:
		return strings.TrimSpace(v)
	case map[string]any:
		for _, key := range agentIDKeys {
			if raw, ok := v[key].(string); ok {
				if id := strings.TrimSpace(raw); id != "" {
					return id
				}
			}
		}
	}
	return ""
}
