package repository

import (
	"context"
	"errors"
	"time"

	"github.com/spec-kit/account-hierarchy/internal/domain"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("record not found")

// ErrDuplicate is returned when a unique username or email is taken.
var ErrDuplicate = errors.New("record already exists")

// UserFilter narrows user listings. Nil fields do not constrain the query.
type UserFilter struct {
	// Roles restricts results to the listed roles when non-nil.
	Roles         []domain.Role
	ID            *string
	Active        *bool
	Blocked       *bool
	CanViewAdmins *bool
	Limit         int
	Offset        int
}

// SecretKeyClaim describes a conditional single-use claim of a recovery key.
// The claim succeeds only if the stored hash still equals KeyHash, the key is
// unused, and it was not created before NotCreatedBefore.
type SecretKeyClaim struct {
	UserID           string
	KeyHash          string
	UsedAt           time.Time
	NotCreatedBefore time.Time
}

// UserRepository defines persistence access for users.
type UserRepository interface {
	Create(ctx context.Context, user *domain.User) error
	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetByUsernameOrEmail(ctx context.Context, login string) (*domain.User, error)
	// GetByIDForUpdate loads the row and locks it until the surrounding
	// transaction ends.
	GetByIDForUpdate(ctx context.Context, id string) (*domain.User, error)
	List(ctx context.Context, filter UserFilter) ([]domain.User, error)
	Update(ctx context.Context, user *domain.User) error
	Delete(ctx context.Context, id string) error
	// ClaimSecretKey atomically marks the key used; false means another
	// caller won or the key is no longer valid.
	ClaimSecretKey(ctx context.Context, claim SecretKeyClaim) (bool, error)
}

// AuditRepository stores audit entries.
type AuditRepository interface {
	Create(ctx context.Context, entry *domain.AuditEntry) error
}

// Store groups the repositories that must share a transaction boundary.
type Store interface {
	Users() UserRepository
	Audit() AuditRepository
	// WithinTx runs fn inside one transaction. Any error returned by fn rolls
	// back every write made through the Store passed to it.
	WithinTx(ctx context.Context, fn func(tx Store) error) error
}
