// Package store provides persistent storage for mission-control on SQLite or Postgres.
//
// # Architecture
//
// A single Store interface covers every entity the lifecycle core touches.
// SQLStore implements it over database/sql with two backends:
//
//   - SQLite via modernc.org/sqlite (default, file path DSN)
//   - Postgres via the pgx stdlib driver (postgres:// DSN)
//
// Queries are written with ? placeholders and rebound to $n for Postgres.
//
// # Data Models
//
//   - Organization, User: tenancy and the acting operator
//   - Gateway: a remote OpenClaw endpoint owned by one organization
//   - Board: groups tasks and board-scoped agents
//   - Agent: local agent record; a main agent has no board
//   - BoardOnboardingSession: onboarding conversation for a board
//   - Task, Approval, ActivityEvent: work items that may reference an agent
//
// The schema carries a partial unique index so a gateway has at most one
// main agent:
//
//	CREATE UNIQUE INDEX idx_agents_main_per_gateway ON agents(gateway_id) WHERE board_id IS NULL
//
// # Transactions
//
// InTx hands the callback a Store bound to one transaction. Calls made on that
// store join the transaction, including nested InTx calls.
//
// # Error Handling
//
//   - ErrNotFound: requested entity does not exist (or belongs to another organization)
//   - ErrDuplicate: insert or update violated a uniqueness constraint
//
// # Testing
//
// Use NewMockStore() for unit tests and NewSQLiteStore(path) with t.TempDir()
// for integration tests against real SQLite.
package store
