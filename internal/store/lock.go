package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stratumhq/stratum/internal/domain"
)

// releaseScript deletes the lock only when the caller still holds it, so
// a holder whose TTL expired cannot release a competitor's lock.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// ConsolidationLock is a set-if-absent lock with TTL for one tenant's
// consolidation. The TTL bounds how long a crashed holder can wedge the
// pipeline.
type ConsolidationLock struct {
	client *redis.Client
	key    string

	mu    sync.Mutex
	token string
}

func NewConsolidationLock(client *redis.Client, tenantID string) *ConsolidationLock {
	return &ConsolidationLock{
		client: client,
		key:    fmt.Sprintf("stratum:%s:consolidation_lock", tenantID),
	}
}

// Acquire attempts SET NX with the given TTL. Returns false when another
// holder owns the lock; that is contention, not an error.
func (l *ConsolidationLock) Acquire(ctx context.Context, ttl time.Duration) (bool, error) {
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, l.key, token, ttl).Result()
	if err != nil {
		return false, domain.Transient(fmt.Errorf("acquire lock: %w", err))
	}
	if !ok {
		return false, nil
	}

	l.mu.Lock()
	l.token = token
	l.mu.Unlock()
	return true, nil
}

// Release drops the lock if this instance still holds it. Releasing an
// expired or foreign lock is a no-op.
func (l *ConsolidationLock) Release(ctx context.Context) error {
	l.mu.Lock()
	token := l.token
	l.token = ""
	l.mu.Unlock()

	if token == "" {
		return nil
	}

	if err := releaseScript.Run(ctx, l.client, []string{l.key}, token).Err(); err != nil && err != redis.Nil {
		return domain.Transient(fmt.Errorf("release lock: %w", err))
	}
	return nil
}
