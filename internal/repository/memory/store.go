// Package memory provides an in-process Store used by tests and by the
// service when no database is configured.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/spec-kit/account-hierarchy/internal/domain"
	"github.com/spec-kit/account-hierarchy/internal/repository"
)

type state struct {
	users map[string]domain.User
	audit []domain.AuditEntry
}

func (s *state) clone() *state {
	users := make(map[string]domain.User, len(s.users))
	for id, u := range s.users {
		users[id] = u.Clone()
	}
	audit := make([]domain.AuditEntry, len(s.audit))
	copy(audit, s.audit)
	return &state{users: users, audit: audit}
}

// Store keeps users and audit entries in memory. Transactions hold an
// exclusive lock and work on a copy that replaces the live state on commit,
// so a failed transaction leaves nothing behind.
type Store struct {
	mu    sync.Mutex
	state *state
	now   func() time.Time
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		state: &state{users: make(map[string]domain.User)},
		now:   time.Now,
	}
}

// Seed inserts or replaces users, assigning IDs and timestamps when missing.
func (s *Store) Seed(users ...domain.User) []domain.User {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.User, 0, len(users))
	for _, u := range users {
		if u.ID == "" {
			u.ID = uuid.NewString()
		}
		if u.CreatedAt.IsZero() {
			u.CreatedAt = s.now()
		}
		if u.UpdatedAt.IsZero() {
			u.UpdatedAt = u.CreatedAt
		}
		s.state.users[u.ID] = u.Clone()
		out = append(out, u.Clone())
	}
	return out
}

// AuditEntries returns a copy of every committed audit entry.
func (s *Store) AuditEntries() []domain.AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.AuditEntry, len(s.state.audit))
	copy(out, s.state.audit)
	return out
}

func (s *Store) Users() repository.UserRepository {
	return &userRepo{store: s}
}

func (s *Store) Audit() repository.AuditRepository {
	return &auditRepo{store: s}
}

// WithinTx implements repository.Store.
func (s *Store) WithinTx(ctx context.Context, fn func(tx repository.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	working := s.state.clone()
	if err := fn(&txStore{state: working, now: s.now}); err != nil {
		return err
	}
	s.state = working
	return nil
}

// view runs fn against the live state under the lock.
func (s *Store) view(fn func(st *state)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.state)
}

type txStore struct {
	state *state
	now   func() time.Time
}

func (t *txStore) Users() repository.UserRepository {
	return &userRepo{tx: t}
}

func (t *txStore) Audit() repository.AuditRepository {
	return &auditRepo{tx: t}
}

// WithinTx joins the enclosing transaction.
func (t *txStore) WithinTx(_ context.Context, fn func(tx repository.Store) error) error {
	return fn(t)
}

// userRepo works either on the live store (locking per call) or inside a
// transaction (already locked).
type userRepo struct {
	store *Store
	tx    *txStore
}

func (r *userRepo) with(fn func(st *state)) {
	if r.tx != nil {
		fn(r.tx.state)
		return
	}
	r.store.view(fn)
}

func (r *userRepo) Create(_ context.Context, user *domain.User) error {
	var err error
	r.with(func(st *state) {
		for _, u := range st.users {
			if u.Username == user.Username || u.Email == user.Email {
				err = repository.ErrDuplicate
				return
			}
		}
		now := r.now()
		user.ID = uuid.NewString()
		user.CreatedAt = now
		user.UpdatedAt = now
		st.users[user.ID] = user.Clone()
	})
	return err
}

func (r *userRepo) now() time.Time {
	if r.tx != nil {
		return r.tx.now()
	}
	return r.store.now()
}

func (r *userRepo) GetByID(_ context.Context, id string) (*domain.User, error) {
	var (
		out *domain.User
		err error
	)
	r.with(func(st *state) {
		u, ok := st.users[id]
		if !ok {
			err = repository.ErrNotFound
			return
		}
		c := u.Clone()
		out = &c
	})
	return out, err
}

// GetByIDForUpdate needs no extra locking: transactions are already exclusive.
func (r *userRepo) GetByIDForUpdate(ctx context.Context, id string) (*domain.User, error) {
	return r.GetByID(ctx, id)
}

// GetByUsernameOrEmail prefers an email match over a username match.
func (r *userRepo) GetByUsernameOrEmail(_ context.Context, login string) (*domain.User, error) {
	var out *domain.User
	r.with(func(st *state) {
		for _, u := range st.users {
			if u.Email == login {
				c := u.Clone()
				out = &c
				return
			}
			if u.Username == login && out == nil {
				c := u.Clone()
				out = &c
			}
		}
	})
	if out == nil {
		return nil, repository.ErrNotFound
	}
	return out, nil
}

func (r *userRepo) List(_ context.Context, filter repository.UserFilter) ([]domain.User, error) {
	var result []domain.User
	r.with(func(st *state) {
		for _, u := range st.users {
			if matches(u, filter) {
				result = append(result, u.Clone())
			}
		}
	})

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	if offset >= len(result) {
		return nil, nil
	}
	end := offset + limit
	if end > len(result) {
		end = len(result)
	}
	return result[offset:end], nil
}

func matches(u domain.User, filter repository.UserFilter) bool {
	if filter.Roles != nil {
		found := false
		for _, role := range filter.Roles {
			if u.Role == role {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if filter.ID != nil && u.ID != *filter.ID {
		return false
	}
	if filter.Active != nil && u.IsActive != *filter.Active {
		return false
	}
	if filter.Blocked != nil && u.IsBlocked() != *filter.Blocked {
		return false
	}
	if filter.CanViewAdmins != nil && u.CanViewAdmins != *filter.CanViewAdmins {
		return false
	}
	return true
}

func (r *userRepo) Update(_ context.Context, user *domain.User) error {
	var err error
	r.with(func(st *state) {
		if _, ok := st.users[user.ID]; !ok {
			err = repository.ErrNotFound
			return
		}
		st.users[user.ID] = user.Clone()
	})
	return err
}

func (r *userRepo) Delete(_ context.Context, id string) error {
	var err error
	r.with(func(st *state) {
		if _, ok := st.users[id]; !ok {
			err = repository.ErrNotFound
			return
		}
		delete(st.users, id)
	})
	return err
}

func (r *userRepo) ClaimSecretKey(_ context.Context, claim repository.SecretKeyClaim) (bool, error) {
	claimed := false
	r.with(func(st *state) {
		u, ok := st.users[claim.UserID]
		if !ok {
			return
		}
		if u.Role != domain.RoleMaster || u.SecretKeyHash == nil || *u.SecretKeyHash != claim.KeyHash {
			return
		}
		if u.SecretKeyUsedAt != nil {
			return
		}
		if u.SecretKeyCreatedAt != nil && u.SecretKeyCreatedAt.Before(claim.NotCreatedBefore) {
			return
		}
		usedAt := claim.UsedAt
		u.SecretKeyUsedAt = &usedAt
		u.UpdatedAt = usedAt
		st.users[u.ID] = u
		claimed = true
	})
	return claimed, nil
}

type auditRepo struct {
	store *Store
	tx    *txStore
}

func (r *auditRepo) Create(_ context.Context, entry *domain.AuditEntry) error {
	write := func(st *state, now time.Time) {
		entry.ID = uuid.NewString()
		entry.CreatedAt = now
		st.audit = append(st.audit, *entry)
	}
	if r.tx != nil {
		write(r.tx.state, r.tx.now())
		return nil
	}
	r.store.view(func(st *state) { write(st, r.store.now()) })
	return nil
}
