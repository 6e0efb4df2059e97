// ABOUTME: SQL store methods for agent records and their cascading cleanup
// ABOUTME: Heartbeat and identity columns are stored as JSON text

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const agentColumns = `id, name, status, gateway_id, board_id, is_board_lead, session_key,
	agent_token_hash, heartbeat_config, identity_profile, provision_requested_at,
	provision_action, created_at, updated_at`

// marshalJSONColumn encodes v as JSON text, or NULL when v is nil.
func marshalJSONColumn[T any](v *T) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func unmarshalJSONColumn[T any](col sql.NullString) (*T, error) {
	if !col.Valid || col.String == "" {
		return nil, nil
	}
	var v T
	if err := json.Unmarshal([]byte(col.String), &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// agentArgs returns the column values shared by insert and update, in agentColumns
// order minus id and created_at.
func agentArgs(a *Agent) ([]any, error) {
	heartbeat, err := marshalJSONColumn(a.HeartbeatConfig)
	if err != nil {
		return nil, fmt.Errorf("marshaling heartbeat config: %w", err)
	}
	identity, err := marshalJSONColumn(a.IdentityProfile)
	if err != nil {
		return nil, fmt.Errorf("marshaling identity profile: %w", err)
	}
	return []any{
		a.Name,
		string(a.Status),
		a.GatewayID,
		nullableString(a.BoardID),
		a.IsBoardLead,
		a.SessionKey,
		a.AgentTokenHash,
		heartbeat,
		identity,
		formatTimePtr(a.ProvisionRequestedAt),
		a.ProvisionAction,
	}, nil
}

// CreateAgent inserts a new agent. Inserting a second main agent for the same
// gateway returns ErrDuplicate.
func (s *SQLStore) CreateAgent(ctx context.Context, a *Agent) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	if a.UpdatedAt.IsZero() {
		a.UpdatedAt = a.CreatedAt
	}

	args, err := agentArgs(a)
	if err != nil {
		return err
	}
	args = append([]any{a.ID}, args...)
	args = append(args, formatTime(a.CreatedAt), formatTime(a.UpdatedAt))

	_, err = s.exec(ctx, `
		INSERT INTO agents (`+agentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, args...)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting agent: %w", err)
	}

	s.logger.Debug("created agent", "id", a.ID, "gateway_id", a.GatewayID, "main", a.IsMain())
	return nil
}

// UpdateAgent overwrites every mutable column of an existing agent.
func (s *SQLStore) UpdateAgent(ctx context.Context, a *Agent) error {
	args, err := agentArgs(a)
	if err != nil {
		return err
	}
	args = append(args, formatTime(a.UpdatedAt), a.ID)

	result, err := s.exec(ctx, `
		UPDATE agents SET
			name = ?, status = ?, gateway_id = ?, board_id = ?, is_board_lead = ?,
			session_key = ?, agent_token_hash = ?, heartbeat_config = ?, identity_profile = ?,
			provision_requested_at = ?, provision_action = ?, updated_at = ?
		WHERE id = ?
	`, args...)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("updating agent: %w", err)
	}
	return requireAffected(result)
}

func scanAgent(scanner interface{ Scan(dest ...any) error }) (*Agent, error) {
	var a Agent
	var status, createdAt, updatedAt string
	var boardID, heartbeat, identity, provisionAt sql.NullString

	if err := scanner.Scan(&a.ID, &a.Name, &status, &a.GatewayID, &boardID, &a.IsBoardLead,
		&a.SessionKey, &a.AgentTokenHash, &heartbeat, &identity, &provisionAt,
		&a.ProvisionAction, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	var err error
	if a.Status, err = ParseAgentStatus(status); err != nil {
		return nil, err
	}
	a.BoardID = stringPtr(boardID)
	if a.HeartbeatConfig, err = unmarshalJSONColumn[HeartbeatConfig](heartbeat); err != nil {
		return nil, fmt.Errorf("unmarshaling heartbeat config: %w", err)
	}
	if a.IdentityProfile, err = unmarshalJSONColumn[IdentityProfile](identity); err != nil {
		return nil, fmt.Errorf("unmarshaling identity profile: %w", err)
	}
	if a.ProvisionRequestedAt, err = parseTimePtr(provisionAt); err != nil {
		return nil, fmt.Errorf("parsing provision_requested_at: %w", err)
	}
	if a.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if a.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &a, nil
}

// GetAgent retrieves an agent by ID.
func (s *SQLStore) GetAgent(ctx context.Context, id string) (*Agent, error) {
	a, err := scanAgent(s.queryRow(ctx, `SELECT `+agentColumns+` FROM agents WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying agent: %w", err)
	}
	return a, nil
}

// FindMainAgent returns the agent with the given gateway and no board.
func (s *SQLStore) FindMainAgent(ctx context.Context, gatewayID string) (*Agent, error) {
	a, err := scanAgent(s.queryRow(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE gateway_id = ? AND board_id IS NULL`, gatewayID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying main agent: %w", err)
	}
	return a, nil
}

// ListAgentsByGateway returns every agent bound to a gateway, oldest first.
func (s *SQLStore) ListAgentsByGateway(ctx context.Context, gatewayID string) ([]*Agent, error) {
	rows, err := s.query(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE gateway_id = ? ORDER BY created_at, id`, gatewayID)
	if err != nil {
		return nil, fmt.Errorf("querying agents: %w", err)
	}
	defer func() { _ = rows.Close() }()

	agents := []*Agent{}
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning agent: %w", err)
		}
		agents = append(agents, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating agents: %w", err)
	}
	return agents, nil
}

// DeleteAgent removes an agent row. References must be cleared first.
func (s *SQLStore) DeleteAgent(ctx context.Context, id string) error {
	result, err := s.exec(ctx, `DELETE FROM agents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting agent: %w", err)
	}
	return requireAffected(result)
}

// ClearAgentReferences detaches tasks, activity events and approvals from an agent.
// The in-progress update must run before the general unassign so those tasks can
// still be found by assignee.
func (s *SQLStore) ClearAgentReferences(ctx context.Context, agentID string, now time.Time) error {
	ts := formatTime(now)

	if _, err := s.exec(ctx, `
		UPDATE tasks SET status = ?, assigned_agent_id = NULL, in_progress_at = NULL, updated_at = ?
		WHERE assigned_agent_id = ? AND status = ?
	`, TaskStatusInbox, ts, agentID, TaskStatusInProgress); err != nil {
		return fmt.Errorf("resetting in-progress tasks: %w", err)
	}

	if _, err := s.exec(ctx, `
		UPDATE tasks SET assigned_agent_id = NULL, updated_at = ?
		WHERE assigned_agent_id = ?
	`, ts, agentID); err != nil {
		return fmt.Errorf("unassigning tasks: %w", err)
	}

	if _, err := s.exec(ctx, `UPDATE activity_events SET agent_id = NULL WHERE agent_id = ?`, agentID); err != nil {
		return fmt.Errorf("clearing activity references: %w", err)
	}

	if _, err := s.exec(ctx, `UPDATE approvals SET agent_id = NULL WHERE agent_id = ?`, agentID); err != nil {
		return fmt.Errorf("clearing approval references: %w", err)
	}

	s.logger.Debug("cleared agent references", "agent_id", agentID)
	return nil
}
