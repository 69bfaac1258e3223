package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAttemptRepo(t *testing.T) (*RecoveryAttemptRepository, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRecoveryAttemptRepository(client), mr
}

func TestRecoveryAttempts_CountsWithinWindow(t *testing.T) {
	ctx := context.Background()
	repo, mr := newAttemptRepo(t)

	for want := int64(1); want <= 3; want++ {
		got, err := repo.Increment(ctx, "recovery_attempts:m", 15*time.Minute)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	assert.Equal(t, 15*time.Minute, mr.TTL("recovery_attempts:m"))

	mr.FastForward(16 * time.Minute)
	got, err := repo.Increment(ctx, "recovery_attempts:m", 15*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got)
}

func TestRecoveryAttempts_CounterWithoutTTLHeals(t *testing.T) {
	ctx := context.Background()
	repo, mr := newAttemptRepo(t)
	require.NoError(t, mr.Set("recovery_attempts:m", "7"))

	got, err := repo.Increment(ctx, "recovery_attempts:m", 15*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(8), got)
	assert.Equal(t, 15*time.Minute, mr.TTL("recovery_attempts:m"))

	mr.FastForward(16 * time.Minute)
	got, err = repo.Increment(ctx, "recovery_attempts:m", 15*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got)
}

// failFirstScript fails the first script call before it reaches the server.
type failFirstScript struct {
	mu     sync.Mutex
	failed bool
}

func (h *failFirstScript) DialHook(next redis.DialHook) redis.DialHook { return next }

func (h *failFirstScript) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		h.mu.Lock()
		fail := !h.failed && (cmd.Name() == "evalsha" || cmd.Name() == "eval")
		if fail {
			h.failed = true
		}
		h.mu.Unlock()
		if fail {
			err := errors.New("transient")
			cmd.SetErr(err)
			return err
		}
		return next(ctx, cmd)
	}
}

func (h *failFirstScript) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return next
}

func TestRecoveryAttempts_TransientFailureLeavesNoImmortalCounter(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	client.AddHook(&failFirstScript{})
	repo := NewRecoveryAttemptRepository(client)

	_, err := repo.Increment(ctx, "recovery_attempts:m", 15*time.Minute)
	require.Error(t, err)

	for i := 0; i < 6; i++ {
		_, err := repo.Increment(ctx, "recovery_attempts:m", 15*time.Minute)
		require.NoError(t, err)
		assert.Greater(t, mr.TTL("recovery_attempts:m"), time.Duration(0))
	}

	mr.FastForward(365 * 24 * time.Hour)
	got, err := repo.Increment(ctx, "recovery_attempts:m", 15*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got)
}

func TestRecoveryAttempts_Reset(t *testing.T) {
	ctx := context.Background()
	repo, mr := newAttemptRepo(t)

	_, err := repo.Increment(ctx, "recovery_attempts:m", time.Minute)
	require.NoError(t, err)
	require.NoError(t, repo.Reset(ctx, "recovery_attempts:m"))
	assert.False(t, mr.Exists("recovery_attempts:m"))
}

func TestRecoveryAttempts_ServerDown(t *testing.T) {
	repo, mr := newAttemptRepo(t)
	mr.Close()

	_, err := repo.Increment(context.Background(), "recovery_attempts:m", time.Minute)
	assert.Error(t, err)
}
