// ABOUTME: Store interface and data types for mission-control persistence
// ABOUTME: Defines gateways, boards, agents, onboarding sessions and work items

package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when an insert violates a uniqueness constraint
var ErrDuplicate = errors.New("already exists")

// Organization owns gateways and boards.
type Organization struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

// User is a human operator acting inside an organization.
type User struct {
	ID             string
	OrganizationID string
	Email          string
	Name           string
	IsSuperAdmin   bool
	CreatedAt      time.Time
}

// Gateway is a remote OpenClaw agent-gateway endpoint owned by one organization.
// An empty URL means the gateway is not configured yet.
type Gateway struct {
	ID             string
	OrganizationID string
	Name           string
	URL            string
	Token          string
	WorkspaceRoot  string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Configured reports whether remote calls against the gateway are possible.
func (g *Gateway) Configured() bool {
	return g != nil && g.URL != ""
}

// Board groups tasks and board-scoped agents. GatewayID is nil until a gateway is attached.
type Board struct {
	ID             string
	OrganizationID string
	GatewayID      *string
	Name           string
	Slug           string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// AgentStatus is the lifecycle label of an agent record.
type AgentStatus string

const (
	AgentStatusProvisioning AgentStatus = "provisioning"
	AgentStatusOnline       AgentStatus = "online"
	AgentStatusOffline      AgentStatus = "offline"
	AgentStatusUpdating     AgentStatus = "updating"
	AgentStatusDeleting     AgentStatus = "deleting"
)

// ParseAgentStatus validates a stored status label. The empty string is accepted
// and means "unset".
func ParseAgentStatus(s string) (AgentStatus, error) {
	switch st := AgentStatus(s); st {
	case "", AgentStatusProvisioning, AgentStatusOnline, AgentStatusOffline,
		AgentStatusUpdating, AgentStatusDeleting:
		return st, nil
	default:
		return "", fmt.Errorf("unknown agent status %q", s)
	}
}

// HeartbeatConfig controls how often an agent checks in with its gateway.
type HeartbeatConfig struct {
	Every            string `json:"every"`
	Target           string `json:"target"`
	IncludeReasoning bool   `json:"includeReasoning"`
}

// DefaultHeartbeatConfig returns a fresh copy of the heartbeat template used for new agents.
func DefaultHeartbeatConfig() *HeartbeatConfig {
	return &HeartbeatConfig{Every: "10m", Target: "none", IncludeReasoning: false}
}

// IdentityProfile is the persona metadata rendered into an agent's workspace files.
type IdentityProfile struct {
	Role               string `json:"role"`
	CommunicationStyle string `json:"communication_style"`
	Emoji              string `json:"emoji"`
}

// Validate checks the profile carries the fields templates depend on.
func (p *IdentityProfile) Validate() error {
	if p == nil {
		return errors.New("identity profile is nil")
	}
	if p.Role == "" {
		return errors.New("identity profile role is required")
	}
	return nil
}

// Agent is the local record of an agent. A main agent has no board and is never a
// board lead; board agents carry a BoardID.
type Agent struct {
	ID                   string
	Name                 string
	Status               AgentStatus
	GatewayID            string
	BoardID              *string
	IsBoardLead          bool
	SessionKey           string
	AgentTokenHash       string
	HeartbeatConfig      *HeartbeatConfig
	IdentityProfile      *IdentityProfile
	ProvisionRequestedAt *time.Time
	ProvisionAction      string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// IsMain reports whether the agent represents its gateway rather than a board.
func (a *Agent) IsMain() bool {
	return a.BoardID == nil
}

// BoardOnboardingSession is an in-progress onboarding conversation for a board.
type BoardOnboardingSession struct {
	ID         string
	BoardID    string
	SessionKey string
	Status     string
	Messages   string // opaque JSON transcript owned by the onboarding flow
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Task status values
const (
	TaskStatusInbox      = "inbox"
	TaskStatusInProgress = "in_progress"
	TaskStatusReview     = "review"
	TaskStatusDone       = "done"
)

// Task is a unit of board work that may be assigned to an agent.
type Task struct {
	ID              string
	BoardID         string
	Title           string
	Status          string
	AssignedAgentID *string
	InProgressAt    *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Approval is a pending or resolved request raised by an agent.
type Approval struct {
	ID         string
	BoardID    string
	AgentID    *string
	ActionType string
	Status     string
	CreatedAt  time.Time
}

// Store defines the persistence operations used by mission-control.
type Store interface {
	// Organizations and users
	CreateOrganization(ctx context.Context, org *Organization) error
	CreateUser(ctx context.Context, user *User) error
	GetUser(ctx context.Context, id string) (*User, error)

	// Gateways, scoped by organization
	CreateGateway(ctx context.Context, gw *Gateway) error
	GetGateway(ctx context.Context, id, organizationID string) (*Gateway, error)
	GetGatewayByID(ctx context.Context, id string) (*Gateway, error)
	ListGateways(ctx context.Context, organizationID string) ([]*Gateway, error)
	ListAllGateways(ctx context.Context) ([]*Gateway, error)

	// Boards
	CreateBoard(ctx context.Context, board *Board) error
	GetBoard(ctx context.Context, id, organizationID string) (*Board, error)

	// Agents
	CreateAgent(ctx context.Context, agent *Agent) error
	UpdateAgent(ctx context.Context, agent *Agent) error
	GetAgent(ctx context.Context, id string) (*Agent, error)
	FindMainAgent(ctx context.Context, gatewayID string) (*Agent, error)
	ListAgentsByGateway(ctx context.Context, gatewayID string) ([]*Agent, error)
	DeleteAgent(ctx context.Context, id string) error

	// Onboarding sessions
	CreateOnboardingSession(ctx context.Context, sess *BoardOnboardingSession) error
	GetOnboardingSession(ctx context.Context, id, boardID string) (*BoardOnboardingSession, error)

	// Work items referencing agents
	CreateTask(ctx context.Context, task *Task) error
	GetTask(ctx context.Context, id string) (*Task, error)
	CreateApproval(ctx context.Context, approval *Approval) error
	GetApproval(ctx context.Context, id string) (*Approval, error)
	AppendActivity(ctx context.Context, event *ActivityEvent) error
	GetActivity(ctx context.Context, id string) (*ActivityEvent, error)
	ListActivity(ctx context.Context, f ActivityFilter) ([]*ActivityEvent, error)

	// ClearAgentReferences detaches every task, activity event and approval from the
	// agent. In-progress tasks go back to the inbox. It does not open a transaction;
	// callers wrap it with InTx.
	ClearAgentReferences(ctx context.Context, agentID string, now time.Time) error

	// InTx runs fn inside a single transaction. Nested calls join the outer one.
	InTx(ctx context.Context, fn func(tx Store) error) error

	// Close releases any resources held by the store
	Close() error
}
