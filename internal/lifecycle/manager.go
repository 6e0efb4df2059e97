// ABOUTME: Naming and persona policy for gateway main agents
// ABOUTME: Swappable so tests and deployments can supply their own conventions

package lifecycle

import (
	"strings"

	"github.com/2389/mission-control/internal/store"
)

// MainAgentManager decides how a gateway's main agent is named and presented.
type MainAgentManager interface {
	AgentName(gw *store.Gateway) string
	IdentityProfile(gw *store.Gateway) *store.IdentityProfile
}

// DefaultMainAgentManager names the agent after its gateway.
type DefaultMainAgentManager struct{}

func (DefaultMainAgentManager) AgentName(gw *store.Gateway) string {
	name := strings.TrimSpace(gw.Name)
	if name == "" {
		name = "Gateway"
	}
	return name + " Gateway Agent"
}

func (DefaultMainAgentManager) IdentityProfile(*store.Gateway) *store.IdentityProfile {
	return &store.IdentityProfile{
		Role:               "Gateway Agent",
		CommunicationStyle: "direct, concise, practical",
		Emoji:              ":compass:",
	}
}
