// ABOUTME: Activity event entity and store methods for the board activity feed
// ABOUTME: Records what happened to which agent or task for operators to review

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Activity event types written by the lifecycle core.
const (
	ActivityMainAgentProvisioned = "gateway.main_agent.provisioned"
	ActivityMainAgentDeleted     = "agent.deleted"
	ActivityTemplatesSynced      = "gateway.templates.synced"
)

// ActivityEvent is a single entry in the activity feed.
type ActivityEvent struct {
	ID        string  // UUID v4
	EventType string  // dotted event name
	Message   string  // human readable summary
	AgentID   *string // nil once the agent is removed
	TaskID    *string
	CreatedAt time.Time
}

// ActivityFilter narrows ListActivity results.
type ActivityFilter struct {
	AgentID   *string
	EventType *string
	Limit     int // default 100, max 1000
}

// AppendActivity appends a new event to the feed.
// Generates ID and CreatedAt if not set.
func (s *SQLStore) AppendActivity(ctx context.Context, e *ActivityEvent) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	_, err := s.exec(ctx, `
		INSERT INTO activity_events (id, event_type, message, agent_id, task_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, e.ID, e.EventType, e.Message, nullableString(e.AgentID), nullableString(e.TaskID), formatTime(e.CreatedAt))
	if err != nil {
		return fmt.Errorf("inserting activity event: %w", err)
	}

	s.logger.Debug("appended activity", "id", e.ID, "type", e.EventType)
	return nil
}

const activityColumns = `id, event_type, message, agent_id, task_id, created_at`

// scanActivity scans a row into an ActivityEvent.
func scanActivity(scanner interface{ Scan(dest ...any) error }) (*ActivityEvent, error) {
	var e ActivityEvent
	var agentID, taskID sql.NullString
	var createdAt string

	if err := scanner.Scan(&e.ID, &e.EventType, &e.Message, &agentID, &taskID, &createdAt); err != nil {
		return nil, err
	}
	e.AgentID = stringPtr(agentID)
	e.TaskID = stringPtr(taskID)

	var err error
	if e.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &e, nil
}

// GetActivity retrieves an activity event by ID.
func (s *SQLStore) GetActivity(ctx context.Context, id string) (*ActivityEvent, error) {
	row := s.queryRow(ctx, `SELECT `+activityColumns+` FROM activity_events WHERE id = ?`, id)
	e, err := scanActivity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying activity event: %w", err)
	}
	return e, nil
}

// normalizeActivityLimit applies default (100) and cap (1000).
func normalizeActivityLimit(limit int) int {
	switch {
	case limit <= 0:
		return 100
	case limit > 1000:
		return 1000
	default:
		return limit
	}
}

// ListActivity returns events matching the filter, newest first.
func (s *SQLStore) ListActivity(ctx context.Context, f ActivityFilter) ([]*ActivityEvent, error) {
	query := `SELECT ` + activityColumns + ` FROM activity_events WHERE 1=1`
	var args []any
	if f.AgentID != nil {
		query += ` AND agent_id = ?`
		args = append(args, *f.AgentID)
	}
	if f.EventType != nil {
		query += ` AND event_type = ?`
		args = append(args, *f.EventType)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, normalizeActivityLimit(f.Limit))

	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying activity: %w", err)
	}
	defer func() { _ = rows.Close() }()

	events := []*ActivityEvent{}
	for rows.Next() {
		e, err := scanActivity(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning activity event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating activity: %w", err)
	}
	return events, nil
}
