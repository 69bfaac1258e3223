package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// incrementWithWindow bumps the counter and gives it a TTL whenever it has
// none, in one server-side step.
var incrementWithWindow = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if redis.call('PTTL', KEYS[1]) < 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return n
`)

// RecoveryAttemptRepository counts recovery attempts in Redis.
// A counter always carries a TTL of at most one window.
type RecoveryAttemptRepository struct {
	client redis.Cmdable
}

// NewRecoveryAttemptRepository wraps the given Redis client.
func NewRecoveryAttemptRepository(client redis.Cmdable) *RecoveryAttemptRepository {
	return &RecoveryAttemptRepository{client: client}
}

// Increment records one attempt and returns the count inside the current window.
func (r *RecoveryAttemptRepository) Increment(ctx context.Context, key string, window time.Duration) (int64, error) {
	n, err := incrementWithWindow.Run(ctx, r.client, []string{key}, window.Milliseconds()).Int64()
	if err != nil {
		return 0, fmt.Errorf("count recovery attempt: %w", err)
	}
	return n, nil
}

// Reset clears the counter for key.
func (r *RecoveryAttemptRepository) Reset(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("reset recovery attempts: %w", err)
	}
	return nil
}
