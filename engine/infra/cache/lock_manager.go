package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sethvargo/go-retry"
)

// LockManager hands out exclusive leases on resource keys.
type LockManager interface {
	Acquire(ctx context.Context, resource string, ttl time.Duration) (Lock, error)
}

// Lock is a lease held on one resource.
type Lock interface {
	Resource() string
	Refresh(ctx context.Context) error
	Release(ctx context.Context) error
	IsHeld(ctx context.Context) (bool, error)
}

// RetryPolicy controls how acquisition is retried while the key is taken.
type RetryPolicy struct {
	Count  uint64
	Delay  time.Duration
	Jitter time.Duration
}

var (
	releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`)
	refreshScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0`)
)

// RedisLockManager implements LockManager with SET NX PX and token-checked
// Lua scripts for refresh and release.
type RedisLockManager struct {
	client redis.UniversalClient
	retry  RetryPolicy
}

func NewRedisLockManager(client redis.UniversalClient, policy RetryPolicy) (*RedisLockManager, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client cannot be nil")
	}
	return &RedisLockManager{client: client, retry: policy}, nil
}

func (m *RedisLockManager) backoff() retry.Backoff {
	delay := m.retry.Delay
	if delay <= 0 {
		delay = time.Millisecond
	}
	b := retry.NewConstant(delay)
	if m.retry.Jitter > 0 {
		b = retry.WithJitter(m.retry.Jitter, b)
	}
	return retry.WithMaxRetries(m.retry.Count, b)
}

func (m *RedisLockManager) Acquire(ctx context.Context, resource string, ttl time.Duration) (Lock, error) {
	if ttl <= 0 {
		return nil, fmt.Errorf("lock ttl must be positive")
	}
	token := uuid.NewString()
	err := retry.Do(ctx, m.backoff(), func(ctx context.Context) error {
		ok, err := m.client.SetNX(ctx, resource, token, ttl).Result()
		if err != nil {
			return fmt.Errorf("failed to acquire lock %s: %w", resource, err)
		}
		if !ok {
			return retry.RetryableError(ErrLockNotAcquired)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrLockNotAcquired) {
			return nil, fmt.Errorf("%w: %s", ErrLockNotAcquired, resource)
		}
		return nil, err
	}
	return &redisLock{client: m.client, resource: resource, token: token, ttl: ttl}, nil
}

type redisLock struct {
	client   redis.UniversalClient
	resource string
	token    string
	ttl      time.Duration
}

func (l *redisLock) Resource() string {
	return l.resource
}

func (l *redisLock) Refresh(ctx context.Context) error {
	n, err := refreshScript.Run(ctx, l.client, []string{l.resource}, l.token, l.ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("failed to refresh lock %s: %w", l.resource, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrLockNotHeld, l.resource)
	}
	return nil
}

func (l *redisLock) Release(ctx context.Context) error {
	n, err := releaseScript.Run(ctx, l.client, []string{l.resource}, l.token).Int64()
	if err != nil {
		return fmt.Errorf("failed to release lock %s: %w", l.resource, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrLockNotHeld, l.resource)
	}
	return nil
}

func (l *redisLock) IsHeld(ctx context.Context) (bool, error) {
	v, err := l.client.Get(ctx, l.resource).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return v == l.token, nil
}
