package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/account-hierarchy/internal/auth"
	"github.com/spec-kit/account-hierarchy/internal/domain"
	"github.com/spec-kit/account-hierarchy/internal/events"
	"github.com/spec-kit/account-hierarchy/internal/observability"
	"github.com/spec-kit/account-hierarchy/internal/repository"
	apperrors "github.com/spec-kit/account-hierarchy/pkg/util"
)

// HierarchyService scopes user visibility and runs every hierarchy transition.
type HierarchyService struct {
	store      repository.Store
	policy     *auth.Policy
	clock      Clock
	dispatcher events.Dispatcher
	metrics    *observability.Metrics
	logger     *zap.Logger
}

// HierarchyDependencies bundles collaborators for the hierarchy service.
type HierarchyDependencies struct {
	Store      repository.Store
	Policy     *auth.Policy
	Clock      Clock
	Dispatcher events.Dispatcher
	Metrics    *observability.Metrics
	Logger     *zap.Logger
}

// VisibilityFilters narrow a visibility query. They never widen the scope
// granted by the actor's role.
type VisibilityFilters struct {
	Role          *domain.Role
	Active        *bool
	Blocked       *bool
	CanViewAdmins *bool
	Limit         int
	Offset        int
}

// NewHierarchyService constructs the service.
func NewHierarchyService(deps HierarchyDependencies) *HierarchyService {
	clock := deps.Clock
	if clock == nil {
		clock = SystemClock{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HierarchyService{
		store:      deps.Store,
		policy:     deps.Policy,
		clock:      clock,
		dispatcher: deps.Dispatcher,
		metrics:    deps.Metrics,
		logger:     logger,
	}
}

// GetVisibleUsers lists the users actor may enumerate, narrowed by filters.
func (s *HierarchyService) GetVisibleUsers(ctx context.Context, actor *domain.User, filters VisibilityFilters) ([]domain.User, error) {
	if actor == nil {
		return nil, apperrors.NewUnauthorized("authentication required")
	}

	repoFilter := repository.UserFilter{
		Active:        filters.Active,
		Blocked:       filters.Blocked,
		CanViewAdmins: filters.CanViewAdmins,
		Limit:         filters.Limit,
		Offset:        filters.Offset,
	}

	switch actor.Role {
	case domain.RoleMaster:
		repoFilter.Roles = nil
	case domain.RoleAdmin:
		repoFilter.Roles = []domain.Role{domain.RoleUser}
		if actor.CanViewAdmins {
			repoFilter.Roles = append(repoFilter.Roles, domain.RoleAdmin)
		}
	case domain.RoleUser:
		repoFilter.ID = &actor.ID
		repoFilter.Roles = []domain.Role{domain.RoleUser}
	default:
		return nil, apperrors.NewForbidden("unknown role")
	}

	if filters.Role != nil {
		if repoFilter.Roles != nil && !containsRole(repoFilter.Roles, *filters.Role) {
			return []domain.User{}, nil
		}
		repoFilter.Roles = []domain.Role{*filters.Role}
	}

	users, err := s.store.Users().List(ctx, repoFilter)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	if users == nil {
		users = []domain.User{}
	}
	return users, nil
}

func containsRole(roles []domain.Role, role domain.Role) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}

// PromoteToAdmin turns a USER into an ADMIN. Only a MASTER may do this.
func (s *HierarchyService) PromoteToAdmin(ctx context.Context, actor *domain.User, targetID, reason string) (*domain.User, error) {
	return s.run(ctx, actor, targetID, transition{
		action:    domain.AuditUserPromoted,
		event:     events.EventUserPromoted,
		authorize: requireMaster("promote users"),
		apply: func(target domain.User, actor *domain.User, now time.Time) (domain.User, error) {
			return domain.Promote(target, actor.ID, now)
		},
		describe: func(before, after domain.User) (string, map[string]any, any) {
			return fmt.Sprintf("promoted %s to ADMIN", after.Email),
				map[string]any{"old_role": before.Role, "new_role": after.Role, "reason": reason},
				events.RoleChangedPayload{OldRole: before.Role, NewRole: after.Role, Reason: reason}
		},
	})
}

// DemoteToUser turns an ADMIN back into a USER and revokes admin visibility.
func (s *HierarchyService) DemoteToUser(ctx context.Context, actor *domain.User, targetID, reason string) (*domain.User, error) {
	return s.run(ctx, actor, targetID, transition{
		action:    domain.AuditUserDemoted,
		event:     events.EventUserDemoted,
		authorize: requireMaster("demote users"),
		apply: func(target domain.User, actor *domain.User, now time.Time) (domain.User, error) {
			return domain.Demote(target, actor.ID, now)
		},
		describe: func(before, after domain.User) (string, map[string]any, any) {
			return fmt.Sprintf("demoted %s to USER", after.Email),
				map[string]any{
					"old_role":                 before.Role,
					"new_role":                 after.Role,
					"previous_can_view_admins": before.CanViewAdmins,
					"reason":                   reason,
				},
				events.RoleChangedPayload{OldRole: before.Role, NewRole: after.Role, Reason: reason}
		},
	})
}

// ToggleAdminVisibility sets whether an ADMIN may see other ADMINs.
func (s *HierarchyService) ToggleAdminVisibility(ctx context.Context, actor *domain.User, targetID string, canViewAdmins bool) (*domain.User, error) {
	return s.run(ctx, actor, targetID, transition{
		action:    domain.AuditAdminVisibilityChanged,
		event:     events.EventAdminVisibilityChanged,
		authorize: requireMaster("change admin visibility"),
		apply: func(target domain.User, _ *domain.User, now time.Time) (domain.User, error) {
			return domain.SetAdminVisibility(target, canViewAdmins, now)
		},
		describe: func(before, after domain.User) (string, map[string]any, any) {
			return fmt.Sprintf("set can_view_admins=%t for %s", after.CanViewAdmins, after.Email),
				map[string]any{"old_value": before.CanViewAdmins, "new_value": after.CanViewAdmins},
				events.VisibilityChangedPayload{CanViewAdmins: after.CanViewAdmins}
		},
	})
}

// BlockUser blocks target on behalf of actor.
func (s *HierarchyService) BlockUser(ctx context.Context, actor *domain.User, targetID, reason string) (*domain.User, error) {
	return s.run(ctx, actor, targetID, transition{
		action:    domain.AuditUserBlocked,
		event:     events.EventUserBlocked,
		authorize: s.gate(s.policy.CanBlockUser),
		apply: func(target domain.User, actor *domain.User, now time.Time) (domain.User, error) {
			return domain.Block(target, actor.ID, now)
		},
		describe: func(_, after domain.User) (string, map[string]any, any) {
			return fmt.Sprintf("blocked %s", after.Email),
				map[string]any{"blocked_at": after.BlockedAt, "reason": reason},
				events.BlockChangedPayload{BlockedAt: after.BlockedAt, Reason: reason}
		},
	})
}

// UnblockUser lifts a block. The permission gate is the same as BlockUser.
func (s *HierarchyService) UnblockUser(ctx context.Context, actor *domain.User, targetID, reason string) (*domain.User, error) {
	return s.run(ctx, actor, targetID, transition{
		action:    domain.AuditUserUnblocked,
		event:     events.EventUserUnblocked,
		authorize: s.gate(s.policy.CanBlockUser),
		apply: func(target domain.User, _ *domain.User, now time.Time) (domain.User, error) {
			return domain.Unblock(target, now)
		},
		describe: func(before, after domain.User) (string, map[string]any, any) {
			return fmt.Sprintf("unblocked %s", after.Email),
				map[string]any{"previously_blocked_at": before.BlockedAt, "reason": reason},
				events.BlockChangedPayload{Reason: reason}
		},
	})
}

// SetUserActive deactivates or reactivates an account. It does not touch the
// block fields, so a deactivated user has IsActive=false with BlockedAt unset.
func (s *HierarchyService) SetUserActive(ctx context.Context, actor *domain.User, targetID string, active bool, reason string) (*domain.User, error) {
	action := domain.AuditUserDeactivated
	verb := "deactivated"
	if active {
		action = domain.AuditUserActivated
		verb = "activated"
	}
	return s.run(ctx, actor, targetID, transition{
		action:    action,
		event:     events.EventUserActivationChanged,
		authorize: s.gate(s.policy.CanDisableUser),
		apply: func(target domain.User, _ *domain.User, now time.Time) (domain.User, error) {
			return domain.SetActive(target, active, now)
		},
		describe: func(_, after domain.User) (string, map[string]any, any) {
			return fmt.Sprintf("%s %s", verb, after.Email),
				map[string]any{"active": active, "reason": reason},
				events.ActivationChangedPayload{Active: active, Reason: reason}
		},
	})
}

// DeleteUser removes target after the deletion gate passes. The audit entry is
// written in the same transaction as the delete.
func (s *HierarchyService) DeleteUser(ctx context.Context, actor *domain.User, targetID, reason string) error {
	if actor == nil {
		return apperrors.NewUnauthorized("authentication required")
	}
	authorize := s.gate(s.policy.CanDeleteUser)
	var deleted domain.User

	err := s.store.WithinTx(ctx, func(tx repository.Store) error {
		current, target, err := s.load(ctx, tx, actor, targetID)
		if err != nil {
			return err
		}
		if err := authorize(current, target); err != nil {
			return err
		}
		if err := tx.Users().Delete(ctx, target.ID); err != nil {
			return mapStoreErr(err, target.ID)
		}
		entry := &domain.AuditEntry{
			Action:       domain.AuditUserDeleted,
			TargetUserID: target.ID,
			PerformedBy:  strPtr(current.ID),
			Description:  fmt.Sprintf("deleted %s", target.Email),
			Details:      map[string]any{"role": target.Role, "email": target.Email, "reason": reason},
		}
		if err := tx.Audit().Create(ctx, entry); err != nil {
			return fmt.Errorf("write audit entry: %w", err)
		}
		deleted = *target
		return nil
	})
	s.metrics.RecordTransition(string(domain.AuditUserDeleted), outcomeOf(err))
	if err != nil {
		s.logFailure(domain.AuditUserDeleted, actor, targetID, err)
		return apperrors.MapError(err)
	}

	s.logger.Info("user deleted", zap.String("actor_id", actor.ID), zap.String("target_id", deleted.ID))
	publish(ctx, s.dispatcher, s.logger, events.Event{
		Type:        events.EventUserDeleted,
		UserID:      deleted.ID,
		PerformedBy: strPtr(actor.ID),
		Timestamp:   s.clock.Now(),
		Payload:     map[string]any{"reason": reason},
	})
	return nil
}

type transition struct {
	action    domain.AuditAction
	event     events.EventType
	authorize func(actor, target *domain.User) error
	apply     func(target domain.User, actor *domain.User, now time.Time) (domain.User, error)
	describe  func(before, after domain.User) (string, map[string]any, any)
}

// run executes one transition as a single transaction: lock target, reload
// actor, authorize, compute next state, persist, audit.
func (s *HierarchyService) run(ctx context.Context, actor *domain.User, targetID string, t transition) (*domain.User, error) {
	if actor == nil {
		return nil, apperrors.NewUnauthorized("authentication required")
	}

	now := s.clock.Now()
	var (
		result  domain.User
		payload any
	)

	err := s.store.WithinTx(ctx, func(tx repository.Store) error {
		current, target, err := s.load(ctx, tx, actor, targetID)
		if err != nil {
			return err
		}
		if err := t.authorize(current, target); err != nil {
			return err
		}

		next, err := t.apply(*target, current, now)
		if err != nil {
			return err
		}
		if err := tx.Users().Update(ctx, &next); err != nil {
			return mapStoreErr(err, next.ID)
		}

		description, details, p := t.describe(*target, next)
		entry := &domain.AuditEntry{
			Action:       t.action,
			TargetUserID: next.ID,
			PerformedBy:  strPtr(current.ID),
			Description:  description,
			Details:      details,
		}
		if err := tx.Audit().Create(ctx, entry); err != nil {
			return fmt.Errorf("write audit entry: %w", err)
		}

		result = next
		payload = p
		return nil
	})
	s.metrics.RecordTransition(string(t.action), outcomeOf(err))
	if err != nil {
		s.logFailure(t.action, actor, targetID, err)
		return nil, apperrors.MapError(err)
	}

	s.logger.Info("hierarchy transition applied",
		zap.String("action", string(t.action)),
		zap.String("actor_id", actor.ID),
		zap.String("target_id", result.ID),
	)
	publish(ctx, s.dispatcher, s.logger, events.Event{
		Type:        t.event,
		UserID:      result.ID,
		PerformedBy: strPtr(actor.ID),
		Timestamp:   now,
		Payload:     payload,
	})
	return &result, nil
}

// load reads the actor's current record and locks the target row.
func (s *HierarchyService) load(ctx context.Context, tx repository.Store, actor *domain.User, targetID string) (*domain.User, *domain.User, error) {
	target, err := tx.Users().GetByIDForUpdate(ctx, targetID)
	if err != nil {
		return nil, nil, mapStoreErr(err, targetID)
	}
	current, err := tx.Users().GetByID(ctx, actor.ID)
	if err != nil {
		return nil, nil, mapStoreErr(err, actor.ID)
	}
	return current, target, nil
}

func (s *HierarchyService) logFailure(action domain.AuditAction, actor *domain.User, targetID string, err error) {
	fields := []zap.Field{
		zap.String("action", string(action)),
		zap.String("actor_id", actor.ID),
		zap.String("target_id", targetID),
		zap.Error(err),
	}
	if apperrors.ToDomainError(err).HTTPStatus >= 500 {
		s.logger.Error("hierarchy transition failed", fields...)
		return
	}
	s.logger.Info("hierarchy transition rejected", fields...)
}

// gate combines the seniority check with a fine-grained policy decision.
func (s *HierarchyService) gate(check func(target, actor *domain.User) auth.Decision) func(actor, target *domain.User) error {
	return func(actor, target *domain.User) error {
		if !s.policy.CanManageUser(actor, target) {
			return apperrors.NewForbidden("insufficient hierarchy level")
		}
		if decision := check(target, actor); !decision.Allowed {
			return apperrors.NewForbidden(decision.Reason)
		}
		return nil
	}
}

func requireMaster(operation string) func(actor, target *domain.User) error {
	return func(actor, _ *domain.User) error {
		if actor.Role != domain.RoleMaster {
			return apperrors.NewForbidden("only MASTER can " + operation)
		}
		return nil
	}
}

func mapStoreErr(err error, id string) error {
	if errors.Is(err, repository.ErrNotFound) {
		return apperrors.NewNotFound("user", map[string]any{"id": id})
	}
	return err
}
