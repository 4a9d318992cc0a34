package redis

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DirectoryLockName is the directory write lock's key, relative to the client
// prefix. Servers and the CLI must agree on it.
const DirectoryLockName = "lock:directory"

const (
	defaultLockTTL   = 10 * time.Second
	defaultLockRetry = 25 * time.Millisecond
)

// releaseScript deletes the lock only while it still carries our token, so a
// holder whose TTL lapsed cannot free a lock someone else now owns.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Lock is a single-key distributed mutex (SET NX PX). Every instance sharing a
// directory uses the same key, which makes writes cluster-wide serial.
type Lock struct {
	client redis.UniversalClient
	key    string
	ttl    time.Duration
	retry  time.Duration
}

// LockOption tunes a Lock.
type LockOption func(*Lock)

// WithLockTTL bounds how long a crashed holder can block others.
func WithLockTTL(ttl time.Duration) LockOption {
	return func(l *Lock) {
		if ttl > 0 {
			l.ttl = ttl
		}
	}
}

// WithLockRetry sets the polling interval while the lock is busy.
func WithLockRetry(interval time.Duration) LockOption {
	return func(l *Lock) {
		if interval > 0 {
			l.retry = interval
		}
	}
}

// NewLock builds a lock on key.
func NewLock(client redis.UniversalClient, key string, opts ...LockOption) *Lock {
	l := &Lock{client: client, key: key, ttl: defaultLockTTL, retry: defaultLockRetry}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Acquire polls until the lock is taken or ctx is done. The returned release
// func is safe to call once.
func (l *Lock) Acquire(ctx context.Context) (func(), error) {
	token := uuid.NewString()
	ticker := time.NewTicker(l.retry)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, err
		}
		if ok {
			return func() {
				ctx, cancel := context.WithTimeout(context.Background(), time.Second)
				defer cancel()
				_ = releaseScript.Run(ctx, l.client, []string{l.key}, token).Err()
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
