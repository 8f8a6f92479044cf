package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Lease is the single-flight guard around a batch run. Exactly one holder
// at a time; a second acquire attempt reports false instead of blocking so
// an overlapping trigger is rejected, not queued.
type Lease interface {
	TryAcquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// MemoryLease guards batch runs within a single process.
type MemoryLease struct {
	mu   sync.Mutex
	held bool
}

var _ Lease = (*MemoryLease)(nil)

func NewMemoryLease() *MemoryLease {
	return &MemoryLease{}
}

func (l *MemoryLease) TryAcquire(_ context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held {
		return false, nil
	}
	l.held = true
	return true, nil
}

func (l *MemoryLease) Release(_ context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.held = false
	return nil
}

// releaseScript deletes the lease key only when it still carries this
// holder's token, so an expired lease taken over by another process is
// never released out from under it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLease guards batch runs across processes with SET NX and a TTL. The
// TTL bounds how long a crashed holder can block the pipeline.
type RedisLease struct {
	client redis.Cmdable
	key    string
	ttl    time.Duration
	token  string
}

var _ Lease = (*RedisLease)(nil)

func NewRedisLease(client redis.Cmdable, key string, ttl time.Duration) *RedisLease {
	return &RedisLease{
		client: client,
		key:    key,
		ttl:    ttl,
		token:  uuid.NewString(),
	}
}

func (l *RedisLease) TryAcquire(ctx context.Context) (bool, error) {
	return l.client.SetNX(ctx, l.key, l.token, l.ttl).Result()
}

func (l *RedisLease) Release(ctx context.Context) error {
	return releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err()
}
