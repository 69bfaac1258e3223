package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/account-hierarchy/internal/auth"
	"github.com/spec-kit/account-hierarchy/internal/domain"
	"github.com/spec-kit/account-hierarchy/internal/repository"
	apperrors "github.com/spec-kit/account-hierarchy/pkg/util"
)

// AuthService coordinates login and password changes.
type AuthService struct {
	store    repository.Store
	hasher   auth.PasswordHasher
	tokenMgr *auth.TokenManager
	clock    Clock
	logger   *zap.Logger
}

// AuthDependencies encapsulates collaborators for the auth service.
type AuthDependencies struct {
	Store        repository.Store
	Hasher       auth.PasswordHasher
	TokenManager *auth.TokenManager
	Clock        Clock
	Logger       *zap.Logger
}

// NewAuthService builds the service.
func NewAuthService(deps AuthDependencies) *AuthService {
	clock := deps.Clock
	if clock == nil {
		clock = SystemClock{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthService{
		store:    deps.Store,
		hasher:   deps.Hasher,
		tokenMgr: deps.TokenManager,
		clock:    clock,
		logger:   logger,
	}
}

// Login authenticates by username or email. Blocked and inactive accounts are
// refused with the same error as a wrong password.
func (s *AuthService) Login(ctx context.Context, login, password string) (*domain.User, string, time.Time, error) {
	user, err := s.store.Users().GetByUsernameOrEmail(ctx, login)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, "", time.Time{}, apperrors.NewUnauthorized("invalid credentials")
		}
		return nil, "", time.Time{}, apperrors.MapError(err)
	}
	if !s.hasher.Verify(password, user.PasswordHash) {
		return nil, "", time.Time{}, apperrors.NewUnauthorized("invalid credentials")
	}
	if user.IsBlocked() || !user.IsActive {
		s.logger.Info("login refused for disabled account", zap.String("user_id", user.ID))
		return nil, "", time.Time{}, apperrors.NewUnauthorized("invalid credentials")
	}

	token, exp, err := s.tokenMgr.GenerateToken(user)
	if err != nil {
		return nil, "", time.Time{}, apperrors.NewInternalError(err)
	}
	return user, token, exp, nil
}

// ChangePassword verifies the current password before storing the new hash.
func (s *AuthService) ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) error {
	user, err := s.store.Users().GetByID(ctx, userID)
	if err != nil {
		return mapStoreErr(err, userID)
	}
	if !s.hasher.Verify(currentPassword, user.PasswordHash) {
		return apperrors.NewUnauthorized("invalid credentials")
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return apperrors.NewInternalError(err)
	}

	err = s.store.WithinTx(ctx, func(tx repository.Store) error {
		current, err := tx.Users().GetByIDForUpdate(ctx, userID)
		if err != nil {
			return mapStoreErr(err, userID)
		}
		next := domain.ResetPassword(*current, hash, s.clock.Now())
		return tx.Users().Update(ctx, &next)
	})
	return apperrors.MapError(err)
}

// BootstrapMaster creates the protected MASTER account if no account uses
// email yet. It reports whether an account was created.
func (s *AuthService) BootstrapMaster(ctx context.Context, username, email, password string) (bool, error) {
	if email == "" || password == "" {
		return false, apperrors.NewValidationError("master email and password required", nil)
	}
	if _, err := s.store.Users().GetByUsernameOrEmail(ctx, email); err == nil {
		return false, nil
	} else if !errors.Is(err, repository.ErrNotFound) {
		return false, apperrors.MapError(err)
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return false, apperrors.NewInternalError(err)
	}
	user := &domain.User{
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		Role:         domain.RoleMaster,
		IsActive:     true,
	}
	if err := s.store.Users().Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return false, apperrors.NewConflict("username already taken", map[string]any{"username": username})
		}
		return false, apperrors.MapError(err)
	}
	s.logger.Info("master account created", zap.String("user_id", user.ID))
	return true, nil
}

// TokenManager exposes the underlying token manager for middleware usage.
func (s *AuthService) TokenManager() *auth.TokenManager {
	return s.tokenMgr
}
