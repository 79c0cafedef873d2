package heartbeat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrBusy is returned by TryLock when another beat holds the lock.
var ErrBusy = errors.New("heartbeat already running")

// Locker serializes beats. TryLock never waits: it either acquires the lock
// and returns its release function, or returns ErrBusy.
type Locker interface {
	TryLock(ctx context.Context) (release func(), err error)
}

// LocalLocker serializes beats within one process.
type LocalLocker struct {
	mu sync.Mutex
}

// NewLocalLocker creates a process-local locker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{}
}

// TryLock implements Locker.
func (l *LocalLocker) TryLock(ctx context.Context) (func(), error) {
	if !l.mu.TryLock() {
		return nil, ErrBusy
	}
	return l.mu.Unlock, nil
}

// releaseScript deletes the key only if it still holds our token, so an
// expired lock taken over by another process is never released by us.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker serializes beats across processes with SET NX PX.
type RedisLocker struct {
	client redis.UniversalClient
	key    string
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisLocker creates a locker on key. The ttl bounds how long a crashed
// holder can block other beats.
func NewRedisLocker(client redis.UniversalClient, key string, ttl time.Duration, logger *zap.Logger) *RedisLocker {
	if key == "" {
		key = "gameweek:heartbeat"
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisLocker{client: client, key: key, ttl: ttl, logger: logger}
}

// TryLock implements Locker.
func (l *RedisLocker) TryLock(ctx context.Context) (func(), error) {
	token := uuid.New().String()
	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis lock %s: %w", l.key, err)
	}
	if !ok {
		return nil, ErrBusy
	}

	return l.releaser(token), nil
}

// releaser returns the release func for token. A failed or late release
// leaves the key to expire after the ttl, so both are logged.
func (l *RedisLocker) releaser(token string) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		deleted, err := releaseScript.Run(ctx, l.client, []string{l.key}, token).Int64()
		switch {
		case err != nil:
			l.logger.Warn("redis lock release failed",
				zap.String("key", l.key),
				zap.Duration("expires_in", l.ttl),
				zap.Error(err),
			)
		case deleted == 0:
			l.logger.Warn("redis lock expired before release", zap.String("key", l.key))
		}
	}
}
