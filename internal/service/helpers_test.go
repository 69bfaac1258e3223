package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/spec-kit/account-hierarchy/internal/auth"
	"github.com/spec-kit/account-hierarchy/internal/domain"
	"github.com/spec-kit/account-hierarchy/internal/events"
	"github.com/spec-kit/account-hierarchy/internal/repository"
	"github.com/spec-kit/account-hierarchy/internal/repository/memory"
)

const masterEmail = "m@x"

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// recorder captures published events.
type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) handle(_ context.Context, e events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) types() []events.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.EventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

func newRecordingDispatcher(types ...events.EventType) (events.Dispatcher, *recorder) {
	d := events.NewInMemoryDispatcher()
	rec := &recorder{}
	for _, t := range types {
		d.Subscribe(t, rec.handle)
	}
	return d, rec
}

// failingAuditStore fails every audit write made inside a transaction.
type failingAuditStore struct {
	repository.Store
}

var errAuditDown = errors.New("audit sink unavailable")

type failingAudit struct{}

func (failingAudit) Create(context.Context, *domain.AuditEntry) error { return errAuditDown }

func (f failingAuditStore) Audit() repository.AuditRepository { return failingAudit{} }

func (f failingAuditStore) WithinTx(ctx context.Context, fn func(tx repository.Store) error) error {
	return f.Store.WithinTx(ctx, func(tx repository.Store) error {
		return fn(failingAuditStore{Store: tx})
	})
}

type cast struct {
	master, admin, otherAdmin, user, otherUser domain.User
}

func seedCast(t *testing.T, store *memory.Store) cast {
	t.Helper()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	seeded := store.Seed(
		domain.User{Username: "m", Email: masterEmail, Role: domain.RoleMaster, IsActive: true, CreatedAt: base},
		domain.User{Username: "a", Email: "a@x", Role: domain.RoleAdmin, IsActive: true, CreatedAt: base.Add(time.Minute)},
		domain.User{Username: "b", Email: "b@x", Role: domain.RoleAdmin, IsActive: true, CreatedAt: base.Add(2 * time.Minute)},
		domain.User{Username: "u", Email: "u@x", Role: domain.RoleUser, IsActive: true, CreatedAt: base.Add(3 * time.Minute)},
		domain.User{Username: "v", Email: "v@x", Role: domain.RoleUser, IsActive: true, CreatedAt: base.Add(4 * time.Minute)},
	)
	require.Len(t, seeded, 5)
	return cast{master: seeded[0], admin: seeded[1], otherAdmin: seeded[2], user: seeded[3], otherUser: seeded[4]}
}

func newHierarchy(store repository.Store, dispatcher events.Dispatcher) *HierarchyService {
	return NewHierarchyService(HierarchyDependencies{
		Store:      store,
		Policy:     auth.NewPolicy(masterEmail),
		Clock:      newFakeClock(),
		Dispatcher: dispatcher,
	})
}

func reload(t *testing.T, store repository.Store, id string) *domain.User {
	t.Helper()
	u, err := store.Users().GetByID(context.Background(), id)
	require.NoError(t, err)
	return u
}
