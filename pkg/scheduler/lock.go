package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Locker guards a tick so only one scheduler replica runs it at a time.
type Locker interface {
	// TryLock takes the lock for ttl. ok is false when another holder has it.
	TryLock(ctx context.Context, ttl time.Duration) (lease Lease, ok bool, err error)
}

// Lease is a held lock.
type Lease interface {
	// Renew extends the lease by ttl. It returns false once the lease was lost.
	Renew(ctx context.Context, ttl time.Duration) (bool, error)
	Release(ctx context.Context) error
}

// LocalLocker serializes ticks inside one process.
type LocalLocker struct {
	mu sync.Mutex
}

func (l *LocalLocker) TryLock(_ context.Context, _ time.Duration) (Lease, bool, error) {
	if !l.mu.TryLock() {
		return nil, false, nil
	}

	return &localLease{locker: l}, true, nil
}

type localLease struct {
	locker *LocalLocker
	once   sync.Once
}

func (l *localLease) Renew(context.Context, time.Duration) (bool, error) {
	return true, nil
}

func (l *localLease) Release(context.Context) error {
	l.once.Do(l.locker.mu.Unlock)

	return nil
}

var (
	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

	renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)
)

// RedisLocker is a lease shared by every scheduler replica. The holder renews it while
// its tick runs; a crashed holder blocks the next tick at most once.
type RedisLocker struct {
	client redis.UniversalClient
	key    string
}

func NewRedisLocker(client redis.UniversalClient, key string) *RedisLocker {
	if key == "" {
		key = "outflow:scheduler:tick"
	}

	return &RedisLocker{client: client, key: key}
}

func (l *RedisLocker) TryLock(ctx context.Context, ttl time.Duration) (Lease, bool, error) {
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, l.key, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire tick lock: %w", err)
	}

	if !ok {
		return nil, false, nil
	}

	return &redisLease{locker: l, token: token}, true, nil
}

// redisLease acts only while the key still holds its token.
type redisLease struct {
	locker *RedisLocker
	token  string
}

func (l *redisLease) Renew(ctx context.Context, ttl time.Duration) (bool, error) {
	renewed, err := renewScript.Run(ctx, l.locker.client, []string{l.locker.key}, l.token, ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("failed to renew tick lock: %w", err)
	}

	return renewed == 1, nil
}

func (l *redisLease) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.locker.client, []string{l.locker.key}, l.token).Err(); err != nil {
		return fmt.Errorf("failed to release tick lock: %w", err)
	}

	return nil
}
