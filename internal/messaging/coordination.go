// ABOUTME: Coordination flow: operators nudge a board agent through its gateway session
// ABOUTME: Nudges request delivery so the agent acts on them immediately

package messaging

import (
	"context"
	"net/http"
	"strings"

	"github.com/2389/mission-control/internal/agentid"
	"github.com/2389/mission-control/internal/apierr"
	"github.com/2389/mission-control/internal/store"
)

// CoordinationService sends operator nudges to agents.
type CoordinationService struct {
	*Dispatcher
}

// NewCoordinationService wraps a dispatcher.
func NewCoordinationService(d *Dispatcher) *CoordinationService {
	return &CoordinationService{Dispatcher: d}
}

// NudgeAgent posts text into the agent's session. The agent must belong to the board.
func (s *CoordinationService) NudgeAgent(ctx context.Context, board *store.Board, agent *store.Agent, text, correlationID string) error {
	if agent.BoardID == nil || *agent.BoardID != board.ID {
		return apierr.NotFound("agent")
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return apierr.New(http.StatusUnprocessableEntity, apierr.CodeInvalidRequest, "Nudge message is required.")
	}
	gw, cfg, err := s.GatewayForBoard(ctx, board)
	if err != nil {
		return err
	}

	return s.send(ctx, message{
		op:            apierr.OpCoordinationNudge,
		event:         "gateway.coordination.nudge",
		traceID:       ResolveTraceID(correlationID, "coordination.nudge"),
		correlationID: correlationID,
		config:        cfg,
		sessionKey:    agentid.AgentSessionKey(gw, agent),
		label:         agent.Name,
		text:          text,
		deliver:       true,
		attrs:         []any{"board_id", board.ID, "gateway_id", gw.ID, "agent_id", agent.ID},
	})
}
