// ABOUTME: SQL store methods for organizations, users, gateways and boards
// ABOUTME: Gateway and board lookups are scoped to the caller's organization

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreateOrganization inserts a new organization.
func (s *SQLStore) CreateOrganization(ctx context.Context, org *Organization) error {
	if org.ID == "" {
		org.ID = uuid.New().String()
	}
	if org.CreatedAt.IsZero() {
		org.CreatedAt = time.Now().UTC()
	}

	_, err := s.exec(ctx, `INSERT INTO organizations (id, name, created_at) VALUES (?, ?, ?)`,
		org.ID, org.Name, formatTime(org.CreatedAt))
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting organization: %w", err)
	}
	return nil
}

// CreateUser inserts a new user.
func (s *SQLStore) CreateUser(ctx context.Context, user *User) error {
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.exec(ctx, `
		INSERT INTO users (id, organization_id, email, name, is_super_admin, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, user.ID, user.OrganizationID, user.Email, user.Name, user.IsSuperAdmin, formatTime(user.CreatedAt))
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting user: %w", err)
	}
	return nil
}

// GetUser retrieves a user by ID.
func (s *SQLStore) GetUser(ctx context.Context, id string) (*User, error) {
	var u User
	var createdAt string
	err := s.queryRow(ctx, `
		SELECT id, organization_id, email, name, is_super_admin, created_at
		FROM users WHERE id = ?
	`, id).Scan(&u.ID, &u.OrganizationID, &u.Email, &u.Name, &u.IsSuperAdmin, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}
	if u.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &u, nil
}

// CreateGateway inserts a new gateway.
func (s *SQLStore) CreateGateway(ctx context.Context, gw *Gateway) error {
	if gw.ID == "" {
		gw.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if gw.CreatedAt.IsZero() {
		gw.CreatedAt = now
	}
	if gw.UpdatedAt.IsZero() {
		gw.UpdatedAt = gw.CreatedAt
	}

	_, err := s.exec(ctx, `
		INSERT INTO gateways (id, organization_id, name, url, token, workspace_root, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, gw.ID, gw.OrganizationID, gw.Name, gw.URL, gw.Token, gw.WorkspaceRoot,
		formatTime(gw.CreatedAt), formatTime(gw.UpdatedAt))
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting gateway: %w", err)
	}

	s.logger.Debug("created gateway", "id", gw.ID, "name", gw.Name)
	return nil
}

const gatewayColumns = `id, organization_id, name, url, token, workspace_root, created_at, updated_at`

func scanGateway(scanner interface{ Scan(dest ...any) error }) (*Gateway, error) {
	var gw Gateway
	var createdAt, updatedAt string
	if err := scanner.Scan(&gw.ID, &gw.OrganizationID, &gw.Name, &gw.URL, &gw.Token,
		&gw.WorkspaceRoot, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	var err error
	if gw.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if gw.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &gw, nil
}

// GetGateway retrieves a gateway by ID within one organization. A gateway owned by
// a different organization is reported as ErrNotFound.
func (s *SQLStore) GetGateway(ctx context.Context, id, organizationID string) (*Gateway, error) {
	row := s.queryRow(ctx, `SELECT `+gatewayColumns+` FROM gateways WHERE id = ? AND organization_id = ?`,
		id, organizationID)
	gw, err := scanGateway(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying gateway: %w", err)
	}
	return gw, nil
}

// GetGatewayByID retrieves a gateway without organization scoping. Used by
// background jobs that act on behalf of the system.
func (s *SQLStore) GetGatewayByID(ctx context.Context, id string) (*Gateway, error) {
	row := s.queryRow(ctx, `SELECT `+gatewayColumns+` FROM gateways WHERE id = ?`, id)
	gw, err := scanGateway(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying gateway: %w", err)
	}
	return gw, nil
}

// ListGateways returns the gateways of one organization ordered by creation time.
func (s *SQLStore) ListGateways(ctx context.Context, organizationID string) ([]*Gateway, error) {
	return s.listGateways(ctx,
		`SELECT `+gatewayColumns+` FROM gateways WHERE organization_id = ? ORDER BY created_at, id`,
		organizationID)
}

// ListAllGateways returns every gateway across organizations.
func (s *SQLStore) ListAllGateways(ctx context.Context) ([]*Gateway, error) {
	return s.listGateways(ctx, `SELECT `+gatewayColumns+` FROM gateways ORDER BY created_at, id`)
}

func (s *SQLStore) listGateways(ctx context.Context, query string, args ...any) ([]*Gateway, error) {
	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying gateways: %w", err)
	}
	defer func() { _ = rows.Close() }()

	gateways := []*Gateway{}
	for rows.Next() {
		gw, err := scanGateway(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning gateway: %w", err)
		}
		gateways = append(gateways, gw)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating gateways: %w", err)
	}
	return gateways, nil
}

// CreateBoard inserts a new board.
func (s *SQLStore) CreateBoard(ctx context.Context, board *Board) error {
	if board.ID == "" {
		board.ID = uuid.New().String()
	}
	if board.CreatedAt.IsZero() {
		board.CreatedAt = time.Now().UTC()
	}
	if board.UpdatedAt.IsZero() {
		board.UpdatedAt = board.CreatedAt
	}

	_, err := s.exec(ctx, `
		INSERT INTO boards (id, organization_id, gateway_id, name, slug, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, board.ID, board.OrganizationID, nullableString(board.GatewayID), board.Name, board.Slug,
		formatTime(board.CreatedAt), formatTime(board.UpdatedAt))
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting board: %w", err)
	}
	return nil
}

// GetBoard retrieves a board by ID within one organization.
func (s *SQLStore) GetBoard(ctx context.Context, id, organizationID string) (*Board, error) {
	var b Board
	var gatewayID sql.NullString
	var createdAt, updatedAt string
	err := s.queryRow(ctx, `
		SELECT id, organization_id, gateway_id, name, slug, created_at, updated_at
		FROM boards WHERE id = ? AND organization_id = ?
	`, id, organizationID).Scan(&b.ID, &b.OrganizationID, &gatewayID, &b.Name, &b.Slug, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying board: %w", err)
	}

	b.GatewayID = stringPtr(gatewayID)
	if b.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if b.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &b, nil
}
