// Package lock serializes membership operations on the same
// organization/user pair across processes.
package lock

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/oklog/ulid/v2"
	redis "github.com/redis/go-redis/v9"
)

var ErrNotAcquired = errors.New("lock_not_acquired")

// Release gives a held lock back. It is safe to call more than once.
type Release func(ctx context.Context) error

// Locker acquires named locks, waiting a bounded time for contended keys.
type Locker interface {
	Acquire(ctx context.Context, key string) (Release, error)
}

const lockReleaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

// RedisStore is a single-attempt SETNX lock.
type RedisStore struct {
	client *redis.Client
	script *redis.Script
}

func NewRedisStore(client *redis.Client) *RedisStore {
	if client == nil {
		return nil
	}
	return &RedisStore{
		client: client,
		script: redis.NewScript(lockReleaseScript),
	}
}

func (s *RedisStore) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	if s == nil || s.client == nil {
		return "", false, errors.New("lock client not configured")
	}
	if key == "" {
		return "", false, errors.New("lock key is empty")
	}
	if ttl <= 0 {
		return "", false, errors.New("lock ttl must be positive")
	}

	token := ulid.Make().String()
	ok, err := s.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	return token, ok, nil
}

func (s *RedisStore) Unlock(ctx context.Context, key, token string) error {
	if s == nil || s.client == nil {
		return nil
	}
	if key == "" || token == "" {
		return nil
	}
	return s.script.Run(ctx, s.client, []string{key}, token).Err()
}

type store interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error)
	Unlock(ctx context.Context, key, token string) error
}

// Options tune a WaitingLocker.
type Options struct {
	Prefix       string
	TTL          time.Duration
	Wait         time.Duration
	PollInterval time.Duration
}

// WaitingLocker polls a store until the lock is free or Wait elapses.
type WaitingLocker struct {
	store store
	opts  Options
}

func NewWaitingLocker(s store, opts Options) *WaitingLocker {
	if opts.TTL <= 0 {
		opts.TTL = 5 * time.Second
	}
	if opts.Wait <= 0 {
		opts.Wait = 2 * time.Second
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 25 * time.Millisecond
	}
	return &WaitingLocker{store: s, opts: opts}
}

func (l *WaitingLocker) Acquire(ctx context.Context, key string) (Release, error) {
	key = l.opts.Prefix + strings.TrimSpace(key)

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = l.opts.PollInterval
	policy.MaxInterval = 8 * l.opts.PollInterval

	token, err := backoff.Retry(ctx, func() (string, error) {
		token, ok, err := l.store.TryLock(ctx, key, l.opts.TTL)
		if err != nil {
			return "", backoff.Permanent(err)
		}
		if !ok {
			return "", ErrNotAcquired
		}
		return token, nil
	},
		backoff.WithBackOff(policy),
		backoff.WithMaxElapsedTime(l.opts.Wait),
	)
	if err != nil {
		return nil, err
	}

	released := false
	return func(ctx context.Context) error {
		if released {
			return nil
		}
		released = true
		return l.store.Unlock(ctx, key, token)
	}, nil
}

// Noop grants every lock immediately. It is used when Redis is not configured.
type Noop struct{}

func (Noop) Acquire(context.Context, string) (Release, error) {
	return func(context.Context) error { return nil }, nil
}

// MembershipKey builds the lock key for an organization/user pair.
func MembershipKey(orgID, userID string) string {
	return "membership:" + orgID + ":" + userID
}
