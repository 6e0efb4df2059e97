// ABOUTME: HTTP API handlers for gateway lifecycle, template sync, onboarding and coordination
// ABOUTME: Every handler is scoped to the caller's organization from the auth context

package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/2389/mission-control/internal/apierr"
	"github.com/2389/mission-control/internal/auth"
	"github.com/2389/mission-control/internal/lifecycle"
	"github.com/2389/mission-control/internal/store"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 1 << 20

// correlationHeader lets callers supply a correlation id without a body field.
const correlationHeader = "X-Correlation-ID"

// AgentResponse is the JSON view of an agent record.
type AgentResponse struct {
	ID                   string     `json:"id"`
	Name                 string     `json:"name"`
	Status               string     `json:"status"`
	GatewayID            string     `json:"gateway_id"`
	BoardID              *string    `json:"board_id"`
	IsBoardLead          bool       `json:"is_board_lead"`
	SessionKey           string     `json:"session_key"`
	ProvisionAction      string     `json:"provision_action,omitempty"`
	ProvisionRequestedAt *time.Time `json:"provision_requested_at,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

func agentResponse(a *store.Agent) AgentResponse {
	return AgentResponse{
		ID:                   a.ID,
		Name:                 a.Name,
		Status:               string(a.Status),
		GatewayID:            a.GatewayID,
		BoardID:              a.BoardID,
		IsBoardLead:          a.IsBoardLead,
		SessionKey:           a.SessionKey,
		ProvisionAction:      a.ProvisionAction,
		ProvisionRequestedAt: a.ProvisionRequestedAt,
		CreatedAt:            a.CreatedAt,
		UpdatedAt:            a.UpdatedAt,
	}
}

// OnboardingStartRequest is the JSON body for POST /api/v1/boards/{id}/onboarding/start.
type OnboardingStartRequest struct {
	Prompt        string `json:"prompt"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// OnboardingAnswerRequest is the JSON body for POST .../onboarding/{session_id}/answer.
type OnboardingAnswerRequest struct {
	Answer        string `json:"answer"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// NudgeRequest is the JSON body for POST .../agents/{agent_id}/nudge.
type NudgeRequest struct {
	Message       string `json:"message"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// OnboardingResponse describes an onboarding session.
type OnboardingResponse struct {
	ID         string `json:"id"`
	BoardID    string `json:"board_id"`
	SessionKey string `json:"session_key"`
	Status     string `json:"status"`
}

// DispatchResponse acknowledges a message handed to the gateway.
type DispatchResponse struct {
	OK         bool   `json:"ok"`
	SessionKey string `json:"session_key,omitempty"`
}

type transcriptEntry struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// handleEnsureMainAgent serves POST /api/v1/gateways/{id}/main-agent?action=provision|update.
func (s *Server) handleEnsureMainAgent(w http.ResponseWriter, r *http.Request) {
	ac := auth.MustFromContext(r.Context())

	action := r.URL.Query().Get("action")
	switch action {
	case "":
		action = lifecycle.DefaultAction
	case "provision", "update":
	default:
		s.writeError(w, r, invalidRequest(fmt.Sprintf("Unknown action %q.", action)))
		return
	}

	gw, err := s.lifecycle.RequireGateway(r.Context(), r.PathValue("id"), ac.OrganizationID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	agent, err := s.lifecycle.EnsureMainAgent(r.Context(), gw, ac, action)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, agentResponse(agent))
}

// handleSyncTemplates serves POST /api/v1/gateways/{id}/templates/sync.
// Flags come from the query string; include_main defaults to true.
func (s *Server) handleSyncTemplates(w http.ResponseWriter, r *http.Request) {
	ac := auth.MustFromContext(r.Context())

	q, err := parseSyncQuery(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	gw, err := s.lifecycle.RequireGateway(r.Context(), r.PathValue("id"), ac.OrganizationID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	result, err := s.lifecycle.SyncTemplates(r.Context(), gw, q, ac)
	if err != nil {
		if lifecycle.Classify(err) == lifecycle.KindGateway {
			err = apierr.MapGatewayError(apierr.OpTemplateSync, err)
		}
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func parseSyncQuery(r *http.Request) (lifecycle.TemplateSyncQuery, error) {
	values := r.URL.Query()
	q := lifecycle.TemplateSyncQuery{}
	flags := []struct {
		name string
		def  bool
		dst  *bool
	}{
		{"include_main", true, &q.IncludeMain},
		{"reset_sessions", false, &q.ResetSessions},
		{"rotate_tokens", false, &q.RotateTokens},
		{"force_bootstrap", false, &q.ForceBootstrap},
	}
	for _, f := range flags {
		raw := values.Get(f.name)
		if raw == "" {
			*f.dst = f.def
			continue
		}
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return q, invalidRequest(fmt.Sprintf("%s must be a boolean.", f.name))
		}
		*f.dst = v
	}
	if boardID := strings.TrimSpace(values.Get("board_id")); boardID != "" {
		q.BoardID = &boardID
	}
	return q, nil
}

// handleOnboardingStart serves POST /api/v1/boards/{id}/onboarding/start.
func (s *Server) handleOnboardingStart(w http.ResponseWriter, r *http.Request) {
	ac := auth.MustFromContext(r.Context())

	var req OnboardingStartRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		s.writeError(w, r, invalidRequest("Prompt is required."))
		return
	}

	board, err := s.store.GetBoard(r.Context(), r.PathValue("id"), ac.OrganizationID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	sessionKey, err := s.onboarding.DispatchStartPrompt(r.Context(), board, req.Prompt, correlationID(r, req.CorrelationID))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	now := time.Now().UTC()
	transcript, err := json.Marshal([]transcriptEntry{{Role: "user", Content: req.Prompt, Timestamp: now}})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	sess := &store.BoardOnboardingSession{
		BoardID:    board.ID,
		SessionKey: sessionKey,
		Status:     "active",
		Messages:   string(transcript),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.store.CreateOnboardingSession(r.Context(), sess); err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, OnboardingResponse{
		ID:         sess.ID,
		BoardID:    sess.BoardID,
		SessionKey: sess.SessionKey,
		Status:     sess.Status,
	})
}

// handleOnboardingAnswer serves POST /api/v1/boards/{id}/onboarding/{session_id}/answer.
func (s *Server) handleOnboardingAnswer(w http.ResponseWriter, r *http.Request) {
	ac := auth.MustFromContext(r.Context())

	var req OnboardingAnswerRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Answer) == "" {
		s.writeError(w, r, invalidRequest("Answer is required."))
		return
	}

	board, err := s.store.GetBoard(r.Context(), r.PathValue("id"), ac.OrganizationID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	sess, err := s.store.GetOnboardingSession(r.Context(), r.PathValue("session_id"), board.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if err := s.onboarding.DispatchAnswer(r.Context(), board, sess, req.Answer, correlationID(r, req.CorrelationID)); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, DispatchResponse{OK: true, SessionKey: sess.SessionKey})
}

// handleNudgeAgent serves POST /api/v1/boards/{id}/agents/{agent_id}/nudge.
func (s *Server) handleNudgeAgent(w http.ResponseWriter, r *http.Request) {
	ac := auth.MustFromContext(r.Context())

	var req NudgeRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	board, err := s.store.GetBoard(r.Context(), r.PathValue("id"), ac.OrganizationID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	agent, err := s.store.GetAgent(r.Context(), r.PathValue("agent_id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if err := s.coordination.NudgeAgent(r.Context(), board, agent, req.Message, correlationID(r, req.CorrelationID)); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, DispatchResponse{OK: true})
}

// handleDeleteAgent serves DELETE /api/v1/agents/{id}.
func (s *Server) handleDeleteAgent(w http.ResponseWriter, r *http.Request) {
	ac := auth.MustFromContext(r.Context())

	if err := s.lifecycle.DeleteAgent(r.Context(), r.PathValue("id"), ac.OrganizationID); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return invalidRequest("Request body is required.")
		}
		return invalidRequest("Invalid JSON body: " + err.Error())
	}
	return nil
}

// correlationID prefers the body field and falls back to the header.
func correlationID(r *http.Request, fromBody string) string {
	if id := strings.TrimSpace(fromBody); id != "" {
		return id
	}
	return strings.TrimSpace(r.Header.Get(correlationHeader))
}
