// ABOUTME: Deterministic agent identifiers and session keys derived from gateway and agent ids
// ABOUTME: Pure functions; the same input always yields the same string

package agentid

import (
	"strings"

	"github.com/2389/mission-control/internal/store"
)

const (
	gatewayPrefix = "mc-gateway-"
	boardPrefix   = "mc-"
	mainRest      = "main"
)

// OpenClawAgentID is the id the gateway's main agent is registered under remotely.
func OpenClawAgentID(gw *store.Gateway) string {
	return gatewayPrefix + gw.ID
}

// SessionKey is the gateway main agent's session handle.
func SessionKey(gw *store.Gateway) string {
	return BuildSessionKey(OpenClawAgentID(gw), mainRest)
}

// BoardAgentID is the remote id of a board-scoped agent.
func BoardAgentID(a *store.Agent) string {
	return boardPrefix + a.ID
}

// ForAgent returns the remote id for any agent record.
func ForAgent(gw *store.Gateway, a *store.Agent) string {
	if a.IsMain() {
		return OpenClawAgentID(gw)
	}
	return BoardAgentID(a)
}

// AgentSessionKey returns the stored session key, or derives the default one.
func AgentSessionKey(gw *store.Gateway, a *store.Agent) string {
	if a.SessionKey != "" {
		return a.SessionKey
	}
	return BuildSessionKey(ForAgent(gw, a), mainRest)
}

// BuildSessionKey formats agent:{agentID}:{rest}.
func BuildSessionKey(agentID, rest string) string {
	return "agent:" + agentID + ":" + rest
}

// ParseSessionKey splits a session key into agent id and remainder.
func ParseSessionKey(key string) (agentID, rest string, ok bool) {
	after, found := strings.CutPrefix(key, "agent:")
	if !found {
		return "", "", false
	}
	agentID, rest, ok = strings.Cut(after, ":")
	if !ok || agentID == "" || rest == "" {
		return "", "", false
	}
	return agentID, rest, true
}
