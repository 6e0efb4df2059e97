// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockStore is an in-memory Store implementation for testing.
// It enforces the one-main-agent-per-gateway rule the SQL schema enforces.
type MockStore struct {
	mu         sync.RWMutex
	orgs       map[string]*Organization
	users      map[string]*User
	gateways   map[string]*Gateway
	boards     map[string]*Board
	agents     map[string]*Agent
	onboarding map[string]*BoardOnboardingSession
	tasks      map[string]*Task
	approvals  map[string]*Approval
	activity   map[string]*ActivityEvent

	// Hooks for injecting failures. A nil hook means success.
	CreateAgentHook func(*Agent) error
	UpdateAgentHook func(*Agent) error
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		orgs:       make(map[string]*Organization),
		users:      make(map[string]*User),
		gateways:   make(map[string]*Gateway),
		boards:     make(map[string]*Board),
		agents:     make(map[string]*Agent),
		onboarding: make(map[string]*BoardOnboardingSession),
		tasks:      make(map[string]*Task),
		approvals:  make(map[string]*Approval),
		activity:   make(map[string]*ActivityEvent),
	}
}

func copyAgent(a *Agent) *Agent {
	c := *a
	if a.BoardID != nil {
		v := *a.BoardID
		c.BoardID = &v
	}
	if a.HeartbeatConfig != nil {
		v := *a.HeartbeatConfig
		c.HeartbeatConfig = &v
	}
	if a.IdentityProfile != nil {
		v := *a.IdentityProfile
		c.IdentityProfile = &v
	}
	if a.ProvisionRequestedAt != nil {
		v := *a.ProvisionRequestedAt
		c.ProvisionRequestedAt = &v
	}
	return &c
}

func newID(id string) string {
	if id == "" {
		return uuid.New().String()
	}
	return id
}

// CreateOrganization stores a new organization.
func (m *MockStore) CreateOrganization(ctx context.Context, org *Organization) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	org.ID = newID(org.ID)
	if _, ok := m.orgs[org.ID]; ok {
		return ErrDuplicate
	}
	o := *org
	m.orgs[o.ID] = &o
	return nil
}

// CreateUser stores a new user.
func (m *MockStore) CreateUser(ctx context.Context, user *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	user.ID = newID(user.ID)
	for _, u := range m.users {
		if u.ID == user.ID || u.Email == user.Email {
			return ErrDuplicate
		}
	}
	u := *user
	m.users[u.ID] = &u
	return nil
}

// GetUser retrieves a user by ID.
func (m *MockStore) GetUser(ctx context.Context, id string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	result := *u
	return &result, nil
}

// CreateGateway stores a new gateway.
func (m *MockStore) CreateGateway(ctx context.Context, gw *Gateway) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	gw.ID = newID(gw.ID)
	if _, ok := m.gateways[gw.ID]; ok {
		return ErrDuplicate
	}
	if gw.CreatedAt.IsZero() {
		gw.CreatedAt = time.Now().UTC()
	}
	if gw.UpdatedAt.IsZero() {
		gw.UpdatedAt = gw.CreatedAt
	}
	g := *gw
	m.gateways[g.ID] = &g
	return nil
}

// GetGateway retrieves a gateway scoped to an organization.
func (m *MockStore) GetGateway(ctx context.Context, id, organizationID string) (*Gateway, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	gw, ok := m.gateways[id]
	if !ok || gw.OrganizationID != organizationID {
		return nil, ErrNotFound
	}
	result := *gw
	return &result, nil
}

// GetGatewayByID retrieves a gateway without organization scoping.
func (m *MockStore) GetGatewayByID(ctx context.Context, id string) (*Gateway, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	gw, ok := m.gateways[id]
	if !ok {
		return nil, ErrNotFound
	}
	result := *gw
	return &result, nil
}

// ListGateways returns the gateways of one organization.
func (m *MockStore) ListGateways(ctx context.Context, organizationID string) ([]*Gateway, error) {
	return m.listGateways(func(gw *Gateway) bool { return gw.OrganizationID == organizationID }), nil
}

// ListAllGateways returns every gateway.
func (m *MockStore) ListAllGateways(ctx context.Context) ([]*Gateway, error) {
	return m.listGateways(func(*Gateway) bool { return true }), nil
}

func (m *MockStore) listGateways(keep func(*Gateway) bool) []*Gateway {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := []*Gateway{}
	for _, gw := range m.gateways {
		if keep(gw) {
			g := *gw
			result = append(result, &g)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result
}

// CreateBoard stores a new board.
func (m *MockStore) CreateBoard(ctx context.Context, board *Board) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	board.ID = newID(board.ID)
	if _, ok := m.boards[board.ID]; ok {
		return ErrDuplicate
	}
	b := *board
	m.boards[b.ID] = &b
	return nil
}

// GetBoard retrieves a board scoped to an organization.
func (m *MockStore) GetBoard(ctx context.Context, id, organizationID string) (*Board, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, ok := m.boards[id]
	if !ok || b.OrganizationID != organizationID {
		return nil, ErrNotFound
	}
	result := *b
	return &result, nil
}

// conflictingMain reports whether another main agent already exists for a's gateway.
func (m *MockStore) conflictingMain(a *Agent) bool {
	if !a.IsMain() {
		return false
	}
	for _, existing := range m.agents {
		if existing.ID != a.ID && existing.IsMain() && existing.GatewayID == a.GatewayID {
			return true
		}
	}
	return false
}

// CreateAgent stores a new agent.
func (m *MockStore) CreateAgent(ctx context.Context, agent *Agent) error {
	if m.CreateAgentHook != nil {
		if err := m.CreateAgentHook(agent); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	agent.ID = newID(agent.ID)
	if _, ok := m.agents[agent.ID]; ok {
		return ErrDuplicate
	}
	if m.conflictingMain(agent) {
		return ErrDuplicate
	}
	if agent.CreatedAt.IsZero() {
		agent.CreatedAt = time.Now().UTC()
	}
	if agent.UpdatedAt.IsZero() {
		agent.UpdatedAt = agent.CreatedAt
	}
	m.agents[agent.ID] = copyAgent(agent)
	return nil
}

// UpdateAgent replaces an existing agent.
func (m *MockStore) UpdateAgent(ctx context.Context, agent *Agent) error {
	if m.UpdateAgentHook != nil {
		if err := m.UpdateAgentHook(agent); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.agents[agent.ID]; !ok {
		return ErrNotFound
	}
	if m.conflictingMain(agent) {
		return ErrDuplicate
	}
	m.agents[agent.ID] = copyAgent(agent)
	return nil
}

// GetAgent retrieves an agent by ID.
func (m *MockStore) GetAgent(ctx context.Context, id string) (*Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.agents[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyAgent(a), nil
}

// FindMainAgent returns the board-less agent of a gateway.
func (m *MockStore) FindMainAgent(ctx context.Context, gatewayID string) (*Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, a := range m.agents {
		if a.GatewayID == gatewayID && a.IsMain() {
			return copyAgent(a), nil
		}
	}
	return nil, ErrNotFound
}

// ListAgentsByGateway returns the agents bound to a gateway, oldest first.
func (m *MockStore) ListAgentsByGateway(ctx context.Context, gatewayID string) ([]*Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := []*Agent{}
	for _, a := range m.agents {
		if a.GatewayID == gatewayID {
			result = append(result, copyAgent(a))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// DeleteAgent removes an agent.
func (m *MockStore) DeleteAgent(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.agents[id]; !ok {
		return ErrNotFound
	}
	delete(m.agents, id)
	return nil
}

// CreateOnboardingSession stores a new onboarding session.
func (m *MockStore) CreateOnboardingSession(ctx context.Context, sess *BoardOnboardingSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess.ID = newID(sess.ID)
	if sess.Status == "" {
		sess.Status = "active"
	}
	s := *sess
	m.onboarding[s.ID] = &s
	return nil
}

// GetOnboardingSession retrieves an onboarding session belonging to a board.
func (m *MockStore) GetOnboardingSession(ctx context.Context, id, boardID string) (*BoardOnboardingSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.onboarding[id]
	if !ok || s.BoardID != boardID {
		return nil, ErrNotFound
	}
	result := *s
	return &result, nil
}

// CreateTask stores a new task.
func (m *MockStore) CreateTask(ctx context.Context, task *Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	task.ID = newID(task.ID)
	if task.Status == "" {
		task.Status = TaskStatusInbox
	}
	t := *task
	m.tasks[t.ID] = &t
	return nil
}

// GetTask retrieves a task by ID.
func (m *MockStore) GetTask(ctx context.Context, id string) (*Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	result := *t
	return &result, nil
}

// CreateApproval stores a new approval.
func (m *MockStore) CreateApproval(ctx context.Context, approval *Approval) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	approval.ID = newID(approval.ID)
	if approval.Status == "" {
		approval.Status = "pending"
	}
	a := *approval
	m.approvals[a.ID] = &a
	return nil
}

// GetApproval retrieves an approval by ID.
func (m *MockStore) GetApproval(ctx context.Context, id string) (*Approval, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.approvals[id]
	if !ok {
		return nil, ErrNotFound
	}
	result := *a
	return &result, nil
}

// AppendActivity stores a new activity event.
func (m *MockStore) AppendActivity(ctx context.Context, event *ActivityEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	event.ID = newID(event.ID)
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	e := *event
	m.activity[e.ID] = &e
	return nil
}

// GetActivity retrieves an activity event by ID.
func (m *MockStore) GetActivity(ctx context.Context, id string) (*ActivityEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.activity[id]
	if !ok {
		return nil, ErrNotFound
	}
	result := *e
	return &result, nil
}

// ListActivity returns matching events, newest first.
func (m *MockStore) ListActivity(ctx context.Context, f ActivityFilter) ([]*ActivityEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := []*ActivityEvent{}
	for _, e := range m.activity {
		if f.AgentID != nil && (e.AgentID == nil || *e.AgentID != *f.AgentID) {
			continue
		}
		if f.EventType != nil && e.EventType != *f.EventType {
			continue
		}
		c := *e
		result = append(result, &c)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if limit := normalizeActivityLimit(f.Limit); len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// ClearAgentReferences detaches tasks, activity events and approvals from an agent.
func (m *MockStore) ClearAgentReferences(ctx context.Context, agentID string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, t := range m.tasks {
		if t.AssignedAgentID == nil || *t.AssignedAgentID != agentID {
			continue
		}
		if t.Status == TaskStatusInProgress {
			t.Status = TaskStatusInbox
			t.InProgressAt = nil
		}
		t.AssignedAgentID = nil
		t.UpdatedAt = now
	}
	for _, e := range m.activity {
		if e.AgentID != nil && *e.AgentID == agentID {
			e.AgentID = nil
		}
	}
	for _, a := range m.approvals {
		if a.AgentID != nil && *a.AgentID == agentID {
			a.AgentID = nil
		}
	}
	return nil
}

// InTx runs fn against the mock directly. Writes are not rolled back on error.
func (m *MockStore) InTx(ctx context.Context, fn func(tx Store) error) error {
	return fn(m)
}

// Close is a no-op for the mock store.
func (m *MockStore) Close() error {
	return nil
}

// Verify MockStore implements Store
var _ Store = (*MockStore)(nil)
