// ABOUTME: Board onboarding flow: send the start prompt and relay answers to the gateway agent
// ABOUTME: Messages go to the gateway main agent session without delivery confirmation

package messaging

import (
	"context"

	"github.com/2389/mission-control/internal/agentid"
	"github.com/2389/mission-control/internal/apierr"
	"github.com/2389/mission-control/internal/store"
)

const onboardingAgentLabel = "Gateway Agent"

// OnboardingService dispatches onboarding prompts for boards.
type OnboardingService struct {
	*Dispatcher
}

// NewOnboardingService wraps a dispatcher.
func NewOnboardingService(d *Dispatcher) *OnboardingService {
	return &OnboardingService{Dispatcher: d}
}

// DispatchStartPrompt sends the opening prompt and returns the session key used.
func (s *OnboardingService) DispatchStartPrompt(ctx context.Context, board *store.Board, prompt, correlationID string) (string, error) {
	gw, cfg, err := s.GatewayForBoard(ctx, board)
	if err != nil {
		return "", err
	}
	sessionKey := agentid.SessionKey(gw)

	err = s.send(ctx, message{
		op:            apierr.OpOnboardingStartDispatch,
		event:         "gateway.onboarding.start_dispatch",
		traceID:       ResolveTraceID(correlationID, "onboarding.start"),
		correlationID: correlationID,
		config:        cfg,
		sessionKey:    sessionKey,
		label:         onboardingAgentLabel,
		text:          prompt,
		attrs:         []any{"board_id", board.ID, "gateway_id", gw.ID},
	})
	if err != nil {
		return "", err
	}
	return sessionKey, nil
}

// DispatchAnswer relays an answer to the session stored on the onboarding record.
func (s *OnboardingService) DispatchAnswer(ctx context.Context, board *store.Board, onboarding *store.BoardOnboardingSession, answer, correlationID string) error {
	gw, cfg, err := s.GatewayForBoard(ctx, board)
	if err != nil {
		return err
	}

	return s.send(ctx, message{
		op:            apierr.OpOnboardingAnswerDispatch,
		event:         "gateway.onboarding.answer_dispatch",
		traceID:       ResolveTraceID(correlationID, "onboarding.answer"),
		correlationID: correlationID,
		config:        cfg,
		sessionKey:    onboarding.SessionKey,
		label:         onboardingAgentLabel,
		text:          answer,
		attrs:         []any{"board_id", board.ID, "gateway_id", gw.ID, "onboarding_id", onboarding.ID},
	})
}
