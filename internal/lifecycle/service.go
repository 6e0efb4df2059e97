// ABOUTME: Gateway lifecycle service: ensure main agents, self-healing sweeps, cleanup, template sync
// ABOUTME: Coordinates the store, the gateway RPC and the provisioner under per-gateway locks

package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/mission-control/internal/auth"
	"github.com/2389/mission-control/internal/logging"
	"github.com/2389/mission-control/internal/openclaw"
	"github.com/2389/mission-control/internal/provisioning"
	"github.com/2389/mission-control/internal/store"
)

// DefaultAction is the provision action used when callers pass none.
const DefaultAction = "provision"

// Provisioner performs the remote half of provisioning and template sync.
type Provisioner interface {
	ProvisionMainAgent(ctx context.Context, agent *store.Agent, req provisioning.MainAgentRequest) error
	SyncGatewayTemplates(ctx context.Context, gw *store.Gateway, opts provisioning.SyncOptions) (*provisioning.SyncResult, error)
}

// Options configure a Service.
type Options struct {
	Manager     MainAgentManager
	LockTimeout time.Duration
	Logger      *slog.Logger
	Now         func() time.Time
}

// Service owns main-agent lifecycle for every gateway.
type Service struct {
	store       store.Store
	rpc         openclaw.RPC
	provisioner Provisioner
	manager     MainAgentManager
	locks       *gatewayLocks
	logger      *slog.Logger
	now         func() time.Time
}

// NewService creates a lifecycle service.
func NewService(s store.Store, rpc openclaw.RPC, prov Provisioner, opts Options) *Service {
	if opts.Manager == nil {
		opts.Manager = DefaultMainAgentManager{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Service{
		store:       s,
		rpc:         rpc,
		provisioner: prov,
		manager:     opts.Manager,
		locks:       newGatewayLocks(opts.LockTimeout),
		logger:      opts.Logger.With("component", "lifecycle"),
		now:         opts.Now,
	}
}

// RequireGateway loads a gateway scoped to the organization. Gateways in other
// organizations are reported as store.ErrNotFound.
func (s *Service) RequireGateway(ctx context.Context, gatewayID, organizationID string) (*store.Gateway, error) {
	gw, err := s.store.GetGateway(ctx, gatewayID, organizationID)
	if err != nil {
		return nil, fmt.Errorf("gateway %s: %w", gatewayID, err)
	}
	return gw, nil
}

// EnsureMainAgent reconciles and reprovisions the gateway's main agent, notifying it
// afterwards. Remote failures are logged, not returned.
func (s *Service) EnsureMainAgent(ctx context.Context, gw *store.Gateway, ac *auth.AuthContext, action string) (*store.Agent, error) {
	if action == "" {
		action = DefaultAction
	}
	s.logger.Log(ctx, logging.LevelTrace, "gateway.main_agent.ensure.start",
		"gateway_id", gw.ID, "action", action)

	release, err := s.locks.acquire(ctx, gw.ID)
	if err != nil {
		return nil, err
	}
	defer release()

	agent, _, err := s.UpsertMainAgentRecord(ctx, gw)
	if err != nil {
		return nil, err
	}
	return s.ProvisionMainAgentRecord(ctx, gw, agent, ProvisionRequest{
		User:   s.actingUser(ctx, ac),
		Action: action,
		Notify: true,
	})
}

// EnsureGatewayAgentsExist is the self-healing sweep. Each gateway is handled on its
// own; a failure for one does not stop the rest. Provisioning only runs when the
// record changed, has no credential, or is missing from the remote roster.
func (s *Service) EnsureGatewayAgentsExist(ctx context.Context, gateways []*store.Gateway) error {
	var errs []error
	for _, gw := range gateways {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := s.ensureGatewayAgent(ctx, gw); err != nil {
			s.logger.Error("gateway.main_agent.ensure_failed", "gateway_id", gw.ID, "error", err)
			errs = append(errs, fmt.Errorf("gateway %s: %w", gw.ID, err))
		}
	}
	return errors.Join(errs...)
}

func (s *Service) ensureGatewayAgent(ctx context.Context, gw *store.Gateway) error {
	release, err := s.locks.acquire(ctx, gw.ID)
	if err != nil {
		return err
	}
	defer release()

	agent, changed, err := s.UpsertMainAgentRecord(ctx, gw)
	if err != nil {
		return err
	}
	hasEntry := s.GatewayHasMainAgentEntry(ctx, gw)
	if !changed && agent.AgentTokenHash != "" && hasEntry {
		return nil
	}

	s.logger.Debug("main agent needs provisioning",
		"gateway_id", gw.ID,
		"changed", changed,
		"has_token", agent.AgentTokenHash != "",
		"has_gateway_entry", hasEntry)
	_, err = s.ProvisionMainAgentRecord(ctx, gw, agent, ProvisionRequest{Action: DefaultAction})
	return err
}

// ClearAgentForeignKeys detaches tasks, activity events and approvals from the agent
// in one transaction. In-progress tasks go back to the inbox.
func (s *Service) ClearAgentForeignKeys(ctx context.Context, agentID string) error {
	return s.store.InTx(ctx, func(tx store.Store) error {
		return tx.ClearAgentReferences(ctx, agentID, s.now())
	})
}

// DeleteAgent removes an agent after clearing everything that references it. The
// agent must belong to a gateway in the organization.
func (s *Service) DeleteAgent(ctx context.Context, agentID, organizationID string) error {
	return s.store.InTx(ctx, func(tx store.Store) error {
		agent, err := tx.GetAgent(ctx, agentID)
		if err != nil {
			return fmt.Errorf("agent %s: %w", agentID, err)
		}
		if _, err := tx.GetGateway(ctx, agent.GatewayID, organizationID); err != nil {
			return fmt.Errorf("agent %s: %w", agentID, err)
		}
		if err := tx.ClearAgentReferences(ctx, agentID, s.now()); err != nil {
			return fmt.Errorf("clearing agent references: %w", err)
		}
		if err := tx.DeleteAgent(ctx, agentID); err != nil {
			return fmt.Errorf("deleting agent: %w", err)
		}
		return tx.AppendActivity(ctx, &store.ActivityEvent{
			EventType: store.ActivityMainAgentDeleted,
			Message:   fmt.Sprintf("Deleted agent %s.", agent.Name),
		})
	})
}

// TemplateSyncQuery selects what SyncTemplates touches.
type TemplateSyncQuery struct {
	IncludeMain    bool
	ResetSessions  bool
	RotateTokens   bool
	ForceBootstrap bool
	BoardID        *string
}

// SyncTemplates heals the gateway's main agent, then pushes templates to its agents.
// Sync failures are returned unchanged.
func (s *Service) SyncTemplates(ctx context.Context, gw *store.Gateway, q TemplateSyncQuery, ac *auth.AuthContext) (*provisioning.SyncResult, error) {
	s.logger.Log(ctx, logging.LevelTrace, "gateway.templates.sync.start",
		"gateway_id", gw.ID,
		"include_main", q.IncludeMain,
		"reset_sessions", q.ResetSessions,
		"rotate_tokens", q.RotateTokens,
		"force_bootstrap", q.ForceBootstrap)

	if err := s.EnsureGatewayAgentsExist(ctx, []*store.Gateway{gw}); err != nil {
		return nil, err
	}

	result, err := s.provisioner.SyncGatewayTemplates(ctx, gw, provisioning.SyncOptions{
		User:           s.actingUser(ctx, ac),
		IncludeMain:    q.IncludeMain,
		ResetSessions:  q.ResetSessions,
		RotateTokens:   q.RotateTokens,
		ForceBootstrap: q.ForceBootstrap,
		BoardID:        q.BoardID,
	})
	if err != nil {
		return nil, err
	}

	s.recordActivity(ctx, &store.ActivityEvent{
		EventType: store.ActivityTemplatesSynced,
		Message: fmt.Sprintf("Synced templates for gateway %s: %d updated, %d failed.",
			gw.Name, result.AgentsUpdated, len(result.Errors)),
	})
	s.logger.Info("gateway.templates.sync.success",
		"gateway_id", gw.ID,
		"agents_updated", result.AgentsUpdated,
		"errors", len(result.Errors))
	return result, nil
}

// actingUser resolves the human behind ac. System actors and unknown users yield nil.
func (s *Service) actingUser(ctx context.Context, ac *auth.AuthContext) *store.User {
	if ac == nil || ac.IsSystem() || ac.UserID == "" {
		return nil
	}
	user, err := s.store.GetUser(ctx, ac.UserID)
	if err != nil {
		s.logger.Debug("acting user lookup failed", "user_id", ac.UserID, "error", err)
		return nil
	}
	return user
}

func (s *Service) recordActivity(ctx context.Context, event *store.ActivityEvent) {
	if err := s.store.AppendActivity(ctx, event); err != nil {
		s.logger.Warn("failed to record activity", "event_type", event.EventType, "error", err)
	}
}
