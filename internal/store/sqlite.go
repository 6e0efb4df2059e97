// ABOUTME: SQL implementation of the Store interface over SQLite or Postgres
// ABOUTME: Provides schema creation, dialect rebinding and transaction scoping

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLStore implements the Store interface using database/sql.
// A store returned by InTx shares the parent's *sql.DB and routes every query
// through the open transaction.
type SQLStore struct {
	db      *sql.DB
	q       querier
	dialect dialect
	inTx    bool
	logger  *slog.Logger
}

// Open picks the backend from the DSN: postgres:// and postgresql:// URLs use
// Postgres, anything else is treated as a SQLite file path.
func Open(dsn string) (*SQLStore, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return NewPostgresStore(dsn)
	}
	return NewSQLiteStore(dsn)
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	// Pragmas go in the DSN so every pooled connection gets them.
	dsn := "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	if path != ":memory:" {
		dsn += "&_pragma=journal_mode(WAL)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if path == ":memory:" {
		// Each connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	s := &SQLStore{db: db, q: db, dialect: dialectSQLite, logger: logger}
	if err := s.createSchema(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// NewPostgresStore connects to Postgres through the pgx stdlib driver.
func NewPostgresStore(dsn string) (*SQLStore, error) {
	logger := slog.Default().With("component", "store")

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}

	s := &SQLStore{db: db, q: db, dialect: dialectPostgres, logger: logger}
	if err := s.createSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("Postgres store initialized")
	return s, nil
}

// schema is written in the subset of SQL both SQLite and Postgres accept.
// Timestamps are RFC3339 text and structured columns are JSON text.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS organizations (
		id         TEXT PRIMARY KEY,
		name       TEXT NOT NULL,
		created_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS users (
		id              TEXT PRIMARY KEY,
		organization_id TEXT NOT NULL REFERENCES organizations(id),
		email           TEXT NOT NULL UNIQUE,
		name            TEXT NOT NULL,
		is_super_admin  BOOLEAN NOT NULL DEFAULT FALSE,
		created_at      TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS gateways (
		id              TEXT PRIMARY KEY,
		organization_id TEXT NOT NULL REFERENCES organizations(id),
		name            TEXT NOT NULL,
		url             TEXT NOT NULL DEFAULT '',
		token           TEXT NOT NULL DEFAULT '',
		workspace_root  TEXT NOT NULL DEFAULT '',
		created_at      TEXT NOT NULL,
		updated_at      TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_gateways_org ON gateways(organization_id)`,
	`CREATE TABLE IF NOT EXISTS boards (
		id              TEXT PRIMARY KEY,
		organization_id TEXT NOT NULL REFERENCES organizations(id),
		gateway_id      TEXT REFERENCES gateways(id),
		name            TEXT NOT NULL,
		slug            TEXT NOT NULL,
		created_at      TEXT NOT NULL,
		updated_at      TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_boards_org ON boards(organization_id)`,
	`CREATE TABLE IF NOT EXISTS agents (
		id                     TEXT PRIMARY KEY,
		name                   TEXT NOT NULL,
		status                 TEXT NOT NULL DEFAULT '',
		gateway_id             TEXT NOT NULL REFERENCES gateways(id),
		board_id               TEXT REFERENCES boards(id),
		is_board_lead          BOOLEAN NOT NULL DEFAULT FALSE,
		session_key            TEXT NOT NULL DEFAULT '',
		agent_token_hash       TEXT NOT NULL DEFAULT '',
		heartbeat_config       TEXT,
		identity_profile       TEXT,
		provision_requested_at TEXT,
		provision_action       TEXT NOT NULL DEFAULT '',
		created_at             TEXT NOT NULL,
		updated_at             TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_agents_gateway ON agents(gateway_id)`,
	`CREATE INDEX IF NOT EXISTS idx_agents_board ON agents(board_id)`,
	// At most one main agent per gateway.
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_agents_main_per_gateway
		ON agents(gateway_id) WHERE board_id IS NULL`,
	`CREATE TABLE IF NOT EXISTS board_onboarding_sessions (
		id          TEXT PRIMARY KEY,
		board_id    TEXT NOT NULL REFERENCES boards(id),
		session_key TEXT NOT NULL,
		status      TEXT NOT NULL DEFAULT 'active',
		messages    TEXT NOT NULL DEFAULT '[]',
		created_at  TEXT NOT NULL,
		updated_at  TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS tasks (
		id                TEXT PRIMARY KEY,
		board_id          TEXT NOT NULL REFERENCES boards(id),
		title             TEXT NOT NULL,
		status            TEXT NOT NULL DEFAULT 'inbox',
		assigned_agent_id TEXT REFERENCES agents(id),
		in_progress_at    TEXT,
		created_at        TEXT NOT NULL,
		updated_at        TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_assignee ON tasks(assigned_agent_id)`,
	`CREATE TABLE IF NOT EXISTS activity_events (
		id         TEXT PRIMARY KEY,
		event_type TEXT NOT NULL,
		message    TEXT NOT NULL DEFAULT '',
		agent_id   TEXT REFERENCES agents(id),
		task_id    TEXT REFERENCES tasks(id),
		created_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_activity_agent ON activity_events(agent_id)`,
	`CREATE TABLE IF NOT EXISTS approvals (
		id          TEXT PRIMARY KEY,
		board_id    TEXT NOT NULL REFERENCES boards(id),
		agent_id    TEXT REFERENCES agents(id),
		action_type TEXT NOT NULL,
		status      TEXT NOT NULL DEFAULT 'pending',
		created_at  TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_approvals_agent ON approvals(agent_id)`,
}

// createSchema creates the database tables if they don't exist
func (s *SQLStore) createSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the database connection. Closing a transaction-scoped store is a no-op.
func (s *SQLStore) Close() error {
	if s.inTx {
		return nil
	}
	s.logger.Info("closing SQL store")
	return s.db.Close()
}

// InTx runs fn against a store bound to a single transaction. The transaction
// commits when fn returns nil and rolls back otherwise.
func (s *SQLStore) InTx(ctx context.Context, fn func(tx Store) error) error {
	if s.inTx {
		return fn(s)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	txStore := &SQLStore{db: s.db, q: tx, dialect: s.dialect, inTx: true, logger: s.logger}

	if err := fn(txStore); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			s.logger.Warn("rollback failed", "error", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// rebind rewrites ? placeholders into $n for Postgres.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != dialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func (s *SQLStore) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.q.ExecContext(ctx, s.rebind(query), args...)
}

func (s *SQLStore) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.q.QueryContext(ctx, s.rebind(query), args...)
}

func (s *SQLStore) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.q.QueryRowContext(ctx, s.rebind(query), args...)
}

// isConstraintViolation checks for UNIQUE violations from either backend
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "SQLSTATE 23505")
}

// requireAffected maps a zero-row update or delete to ErrNotFound.
func requireAffected(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// timeFormat is fixed width so TEXT columns sort chronologically.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func parseTimePtr(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullableString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}
