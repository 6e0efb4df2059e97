// ABOUTME: SQL store methods for tasks, approvals and board onboarding sessions
// ABOUTME: These rows reference agents and are touched by agent cleanup

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreateOnboardingSession inserts a new onboarding session.
func (s *SQLStore) CreateOnboardingSession(ctx context.Context, sess *BoardOnboardingSession) error {
	if sess.ID == "" {
		sess.ID = uuid.New().String()
	}
	if sess.Status == "" {
		sess.Status = "active"
	}
	if sess.Messages == "" {
		sess.Messages = "[]"
	}
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now().UTC()
	}
	if sess.UpdatedAt.IsZero() {
		sess.UpdatedAt = sess.CreatedAt
	}

	_, err := s.exec(ctx, `
		INSERT INTO board_onboarding_sessions (id, board_id, session_key, status, messages, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, sess.ID, sess.BoardID, sess.SessionKey, sess.Status, sess.Messages,
		formatTime(sess.CreatedAt), formatTime(sess.UpdatedAt))
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting onboarding session: %w", err)
	}
	return nil
}

// GetOnboardingSession retrieves an onboarding session belonging to a board.
func (s *SQLStore) GetOnboardingSession(ctx context.Context, id, boardID string) (*BoardOnboardingSession, error) {
	var sess BoardOnboardingSession
	var createdAt, updatedAt string
	err := s.queryRow(ctx, `
		SELECT id, board_id, session_key, status, messages, created_at, updated_at
		FROM board_onboarding_sessions WHERE id = ? AND board_id = ?
	`, id, boardID).Scan(&sess.ID, &sess.BoardID, &sess.SessionKey, &sess.Status, &sess.Messages,
		&createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying onboarding session: %w", err)
	}

	if sess.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if sess.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &sess, nil
}

// CreateTask inserts a new task.
func (s *SQLStore) CreateTask(ctx context.Context, t *Task) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.Status == "" {
		t.Status = TaskStatusInbox
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = t.CreatedAt
	}

	_, err := s.exec(ctx, `
		INSERT INTO tasks (id, board_id, title, status, assigned_agent_id, in_progress_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.BoardID, t.Title, t.Status, nullableString(t.AssignedAgentID),
		formatTimePtr(t.InProgressAt), formatTime(t.CreatedAt), formatTime(t.UpdatedAt))
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting task: %w", err)
	}
	return nil
}

// GetTask retrieves a task by ID.
func (s *SQLStore) GetTask(ctx context.Context, id string) (*Task, error) {
	var t Task
	var assigned, inProgressAt sql.NullString
	var createdAt, updatedAt string
	err := s.queryRow(ctx, `
		SELECT id, board_id, title, status, assigned_agent_id, in_progress_at, created_at, updated_at
		FROM tasks WHERE id = ?
	`, id).Scan(&t.ID, &t.BoardID, &t.Title, &t.Status, &assigned, &inProgressAt, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying task: %w", err)
	}

	t.AssignedAgentID = stringPtr(assigned)
	if t.InProgressAt, err = parseTimePtr(inProgressAt); err != nil {
		return nil, fmt.Errorf("parsing in_progress_at: %w", err)
	}
	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if t.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &t, nil
}

// CreateApproval inserts a new approval.
func (s *SQLStore) CreateApproval(ctx context.Context, a *Approval) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.Status == "" {
		a.Status = "pending"
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}

	_, err := s.exec(ctx, `
		INSERT INTO approvals (id, board_id, agent_id, action_type, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, a.ID, a.BoardID, nullableString(a.AgentID), a.ActionType, a.Status, formatTime(a.CreatedAt))
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting approval: %w", err)
	}
	return nil
}

// GetApproval retrieves an approval by ID.
func (s *SQLStore) GetApproval(ctx context.Context, id string) (*Approval, error) {
	var a Approval
	var agentID sql.NullString
	var createdAt string
	err := s.queryRow(ctx, `
		SELECT id, board_id, agent_id, action_type, status, created_at
		FROM approvals WHERE id = ?
	`, id).Scan(&a.ID, &a.BoardID, &agentID, &a.ActionType, &a.Status, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying approval: %w", err)
	}

	a.AgentID = stringPtr(agentID)
	if a.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &a, nil
}
