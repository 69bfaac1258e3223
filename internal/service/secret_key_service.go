package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/account-hierarchy/internal/auth"
	"github.com/spec-kit/account-hierarchy/internal/config"
	"github.com/spec-kit/account-hierarchy/internal/domain"
	"github.com/spec-kit/account-hierarchy/internal/events"
	"github.com/spec-kit/account-hierarchy/internal/observability"
	"github.com/spec-kit/account-hierarchy/internal/repository"
	apperrors "github.com/spec-kit/account-hierarchy/pkg/util"
)

// AttemptCounter counts recovery attempts per key within a sliding window.
type AttemptCounter interface {
	Increment(ctx context.Context, key string, window time.Duration) (int64, error)
	Reset(ctx context.Context, key string) error
}

// SecretKeyService issues and redeems single-use recovery keys for MASTER accounts.
type SecretKeyService struct {
	store       repository.Store
	hasher      auth.PasswordHasher
	clock       Clock
	attempts    AttemptCounter
	dispatcher  events.Dispatcher
	metrics     *observability.Metrics
	logger      *zap.Logger
	keyLength   int
	alphabet    string
	validity    time.Duration
	maxAttempts int
	window      time.Duration
}

// SecretKeyDependencies bundles collaborators for the secret key service.
type SecretKeyDependencies struct {
	Store      repository.Store
	Hasher     auth.PasswordHasher
	Clock      Clock
	Attempts   AttemptCounter
	Dispatcher events.Dispatcher
	Metrics    *observability.Metrics
	Logger     *zap.Logger
}

// NewSecretKeyService builds the service.
func NewSecretKeyService(cfg config.RecoveryConfig, deps SecretKeyDependencies) *SecretKeyService {
	clock := deps.Clock
	if clock == nil {
		clock = SystemClock{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	keyLength := cfg.KeyLength
	if keyLength <= 0 {
		keyLength = config.DefaultRecoveryKeyLength
	}
	alphabet := cfg.Alphabet
	if alphabet == "" {
		alphabet = config.DefaultRecoveryKeyAlphabet
	}
	return &SecretKeyService{
		store:       deps.Store,
		hasher:      deps.Hasher,
		clock:       clock,
		attempts:    deps.Attempts,
		dispatcher:  deps.Dispatcher,
		metrics:     deps.Metrics,
		logger:      logger,
		keyLength:   keyLength,
		alphabet:    alphabet,
		validity:    cfg.Validity(),
		maxAttempts: cfg.MaxAttempts,
		window:      cfg.AttemptWindow(),
	}
}

// GenerateSecretKey returns a random key of the given length. A non-positive
// length selects the configured default.
func (s *SecretKeyService) GenerateSecretKey(length int) (string, error) {
	if length <= 0 {
		length = s.keyLength
	}
	max := big.NewInt(int64(len(s.alphabet)))

	var b strings.Builder
	b.Grow(length)
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate secret key: %w", err)
		}
		b.WriteByte(s.alphabet[n.Int64()])
	}
	return b.String(), nil
}

// HashSecretKey returns a salted one-way hash of key.
func (s *SecretKeyService) HashSecretKey(key string) (string, error) {
	return s.hasher.Hash(key)
}

// VerifySecretKey reports whether candidate matches hashed.
func (s *SecretKeyService) VerifySecretKey(candidate, hashed string) bool {
	if candidate == "" || hashed == "" {
		return false
	}
	return s.hasher.Verify(candidate, hashed)
}

// CreateSecretKeyForMaster issues a new key for the MASTER account userID and
// returns its plaintext. Any earlier key stops working.
func (s *SecretKeyService) CreateSecretKeyForMaster(ctx context.Context, userID string) (string, error) {
	key, _, err := s.IssueSecretKey(ctx, userID)
	return key, err
}

// IssueSecretKey is CreateSecretKeyForMaster that also returns the instant the
// key stops being redeemable.
func (s *SecretKeyService) IssueSecretKey(ctx context.Context, userID string) (string, time.Time, error) {
	key, err := s.GenerateSecretKey(s.keyLength)
	if err != nil {
		return "", time.Time{}, apperrors.NewInternalError(err)
	}
	hash, err := s.HashSecretKey(key)
	if err != nil {
		return "", time.Time{}, apperrors.NewInternalError(err)
	}

	now := s.clock.Now()
	expiresAt := now.Add(s.validity)
	var issued domain.User
	err = s.store.WithinTx(ctx, func(tx repository.Store) error {
		user, err := tx.Users().GetByIDForUpdate(ctx, userID)
		if err != nil {
			return mapStoreErr(err, userID)
		}
		next, err := domain.IssueSecretKey(*user, hash, now)
		if err != nil {
			return err
		}
		if err := tx.Users().Update(ctx, &next); err != nil {
			return mapStoreErr(err, userID)
		}
		entry := &domain.AuditEntry{
			Action:       domain.AuditSecretKeyIssued,
			TargetUserID: next.ID,
			Description:  "recovery key issued",
			Details: map[string]any{
				"previous_key_revoked": user.HasSecretKey() && user.SecretKeyUsedAt == nil,
				"expires_at":           expiresAt,
			},
		}
		if err := tx.Audit().Create(ctx, entry); err != nil {
			return fmt.Errorf("write audit entry: %w", err)
		}
		issued = next
		return nil
	})
	if err != nil {
		return "", time.Time{}, apperrors.MapError(err)
	}

	s.logger.Info("recovery key issued", zap.String("user_id", issued.ID), zap.Time("expires_at", expiresAt))
	publish(ctx, s.dispatcher, s.logger, events.Event{
		Type:      events.EventSecretKeyIssued,
		UserID:    issued.ID,
		Timestamp: now,
		Payload:   events.SecretKeyPayload{Email: issued.Email},
	})
	return key, expiresAt, nil
}

// ValidateSecretKeyForReset checks candidate for the named account and, if it
// matches a live key, claims it in the same atomic step. A key can therefore
// validate successfully only once. Every failure is the same generic error.
func (s *SecretKeyService) ValidateSecretKeyForReset(ctx context.Context, username, candidate string) (*domain.User, error) {
	return s.redeem(ctx, username, candidate, "")
}

// RedeemSecretKey claims the key and sets newPassword in one transaction.
func (s *SecretKeyService) RedeemSecretKey(ctx context.Context, username, candidate, newPassword string) (*domain.User, error) {
	if newPassword == "" {
		return nil, apperrors.NewValidationError("new password required", nil)
	}
	return s.redeem(ctx, username, candidate, newPassword)
}

// MarkSecretKeyAsUsed burns the currently stored key of user. It fails with the
// generic recovery error if the key was already used or replaced.
func (s *SecretKeyService) MarkSecretKeyAsUsed(ctx context.Context, user *domain.User) error {
	err := s.markUsed(ctx, user)
	s.metrics.RecordRecoveryAttempt(outcomeOf(err))
	return err
}

func (s *SecretKeyService) markUsed(ctx context.Context, user *domain.User) error {
	if user == nil || !user.HasSecretKey() {
		return apperrors.NewInvalidRecoveryKey()
	}
	now := s.clock.Now()
	err := s.store.WithinTx(ctx, func(tx repository.Store) error {
		claimed, err := tx.Users().ClaimSecretKey(ctx, repository.SecretKeyClaim{
			UserID:           user.ID,
			KeyHash:          *user.SecretKeyHash,
			UsedAt:           now,
			NotCreatedBefore: now.Add(-s.validity),
		})
		if err != nil {
			return err
		}
		if !claimed {
			return apperrors.NewInvalidRecoveryKey()
		}
		entry := &domain.AuditEntry{
			Action:       domain.AuditSecretKeyRedeemed,
			TargetUserID: user.ID,
			PerformedBy:  strPtr(user.ID),
			Description:  "recovery key marked as used",
			Details:      map[string]any{"password_reset": false},
		}
		if err := tx.Audit().Create(ctx, entry); err != nil {
			return fmt.Errorf("write audit entry: %w", err)
		}
		return nil
	})
	if err != nil {
		return apperrors.MapError(err)
	}

	used := now
	user.SecretKeyUsedAt = &used
	s.logger.Info("recovery key marked as used", zap.String("user_id", user.ID))
	publish(ctx, s.dispatcher, s.logger, events.Event{
		Type:        events.EventSecretKeyRedeemed,
		UserID:      user.ID,
		PerformedBy: strPtr(user.ID),
		Timestamp:   now,
		Payload:     events.SecretKeyPayload{Email: user.Email},
	})
	return nil
}

// HasValidSecretKey reports whether userID holds an unused, unexpired key.
func (s *SecretKeyService) HasValidSecretKey(ctx context.Context, userID string) (bool, error) {
	user, err := s.store.Users().GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return false, apperrors.NewNotFound("user", map[string]any{"id": userID})
		}
		return false, apperrors.MapError(err)
	}
	return domain.SecretKeyRedeemable(*user, s.clock.Now(), s.validity), nil
}

// redeem verifies candidate against a snapshot, then claims the key with a
// conditional write. When newPassword is set the password changes in the same
// transaction as the claim.
func (s *SecretKeyService) redeem(ctx context.Context, username, candidate, newPassword string) (*domain.User, error) {
	user, err := s.redeemUnmetered(ctx, username, candidate, newPassword)
	s.metrics.RecordRecoveryAttempt(outcomeOf(err))
	if err != nil {
		s.logger.Info("recovery key rejected", zap.String("username", username), zap.Error(err))
		return nil, err
	}
	return user, nil
}

func (s *SecretKeyService) redeemUnmetered(ctx context.Context, username, candidate, newPassword string) (*domain.User, error) {
	now := s.clock.Now()
	snapshot, err := s.store.Users().GetByUsernameOrEmail(ctx, username)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.MapError(err)
	}
	counter := attemptKey(snapshot)
	if err := s.checkAttempts(ctx, counter); err != nil {
		return nil, err
	}
	if snapshot == nil {
		return nil, apperrors.NewInvalidRecoveryKey()
	}
	if !domain.SecretKeyRedeemable(*snapshot, now, s.validity) {
		return nil, apperrors.NewInvalidRecoveryKey()
	}
	if !s.VerifySecretKey(candidate, *snapshot.SecretKeyHash) {
		return nil, apperrors.NewInvalidRecoveryKey()
	}

	var newHash string
	if newPassword != "" {
		if newHash, err = s.hasher.Hash(newPassword); err != nil {
			return nil, apperrors.NewInternalError(err)
		}
	}

	var redeemed domain.User
	err = s.store.WithinTx(ctx, func(tx repository.Store) error {
		claimed, err := tx.Users().ClaimSecretKey(ctx, repository.SecretKeyClaim{
			UserID:           snapshot.ID,
			KeyHash:          *snapshot.SecretKeyHash,
			UsedAt:           now,
			NotCreatedBefore: now.Add(-s.validity),
		})
		if err != nil {
			return err
		}
		if !claimed {
			return apperrors.NewInvalidRecoveryKey()
		}

		current, err := tx.Users().GetByIDForUpdate(ctx, snapshot.ID)
		if err != nil {
			return mapStoreErr(err, snapshot.ID)
		}
		if newHash != "" {
			next := domain.ResetPassword(*current, newHash, now)
			if err := tx.Users().Update(ctx, &next); err != nil {
				return mapStoreErr(err, next.ID)
			}
			current = &next
		}

		entry := &domain.AuditEntry{
			Action:       domain.AuditSecretKeyRedeemed,
			TargetUserID: current.ID,
			PerformedBy:  strPtr(current.ID),
			Description:  "recovery key redeemed",
			Details:      map[string]any{"password_reset": newHash != ""},
		}
		if err := tx.Audit().Create(ctx, entry); err != nil {
			return fmt.Errorf("write audit entry: %w", err)
		}
		redeemed = *current
		return nil
	})
	if err != nil {
		return nil, apperrors.MapError(err)
	}

	s.resetAttempts(ctx, counter)
	s.logger.Info("recovery key redeemed", zap.String("user_id", redeemed.ID))
	publish(ctx, s.dispatcher, s.logger, events.Event{
		Type:        events.EventSecretKeyRedeemed,
		UserID:      redeemed.ID,
		PerformedBy: strPtr(redeemed.ID),
		Timestamp:   now,
		Payload:     events.SecretKeyPayload{Email: redeemed.Email},
	})
	return &redeemed, nil
}

// unknownLoginAttemptKey counts every attempt against a login that matches no account.
const unknownLoginAttemptKey = "recovery_attempts:unknown"

// attemptKey keys the counter on the account, so its username and email share
// one budget.
func attemptKey(user *domain.User) string {
	if user == nil {
		return unknownLoginAttemptKey
	}
	return "recovery_attempts:" + user.ID
}

// checkAttempts throttles guessing. A counter outage is logged and does not
// block legitimate recovery.
func (s *SecretKeyService) checkAttempts(ctx context.Context, key string) error {
	if s.attempts == nil || s.maxAttempts <= 0 {
		return nil
	}
	count, err := s.attempts.Increment(ctx, key, s.window)
	if err != nil {
		s.logger.Warn("recovery attempt counter unavailable", zap.Error(err))
		return nil
	}
	if count > int64(s.maxAttempts) {
		return apperrors.NewTooManyAttempts("too many recovery attempts, try again later")
	}
	return nil
}

func (s *SecretKeyService) resetAttempts(ctx context.Context, key string) {
	if s.attempts == nil {
		return
	}
	if err := s.attempts.Reset(ctx, key); err != nil {
		s.logger.Warn("reset recovery attempts", zap.Error(err))
	}
}
