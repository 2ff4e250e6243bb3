package lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/idc-core/idc/engine/infra/cache"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingRecorder struct {
	mu     sync.Mutex
	events map[Event]int
}

func (r *countingRecorder) LockEvent(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.events == nil {
		r.events = map[Event]int{}
	}
	r.events[e]++
}

func (r *countingRecorder) LockWait(time.Duration) {}

func (r *countingRecorder) count(e Event) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[e]
}

func newTestManager(t *testing.T, ttl time.Duration, policy cache.RetryPolicy) (*Manager, *miniredis.Miniredis, *countingRecorder) {
	t.Helper()
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	locks, err := cache.NewRedisLockManager(client, policy)
	require.NoError(t, err)
	rec := &countingRecorder{}
	m, err := NewManager(locks, ttl, rec)
	require.NoError(t, err)
	return m, s, rec
}

func TestKey(t *testing.T) {
	t.Run("Should scope keys by tenant", func(t *testing.T) {
		assert.Equal(t, "acme:locks:widgets~1", Key("acme", "widgets~1"))
	})
}

func TestManager_WithLock(t *testing.T) {
	ctx := context.Background()

	t.Run("Should hold the lease during fn and release it after", func(t *testing.T) {
		m, s, rec := newTestManager(t, time.Second, cache.RetryPolicy{})
		err := m.WithLock(ctx, "acme", "widgets~1", func(context.Context) error {
			assert.True(t, s.Exists("acme:locks:widgets~1"))
			return nil
		})
		require.NoError(t, err)
		assert.False(t, s.Exists("acme:locks:widgets~1"))
		assert.Equal(t, 1, rec.count(EventAcquired))
		assert.Equal(t, 1, rec.count(EventReleased))
	})

	t.Run("Should release the lease when fn fails", func(t *testing.T) {
		m, s, _ := newTestManager(t, time.Second, cache.RetryPolicy{})
		boom := errors.New("boom")
		err := m.WithLock(ctx, "acme", "widgets~1", func(context.Context) error { return boom })
		assert.ErrorIs(t, err, boom)
		assert.False(t, s.Exists("acme:locks:widgets~1"))
	})

	t.Run("Should renew the lease while fn runs", func(t *testing.T) {
		m, _, rec := newTestManager(t, 100*time.Millisecond, cache.RetryPolicy{})
		err := m.WithLock(ctx, "acme", "k", func(context.Context) error {
			time.Sleep(180 * time.Millisecond)
			return nil
		})
		require.NoError(t, err)
		assert.GreaterOrEqual(t, rec.count(EventRefreshed), 1)
	})

	t.Run("Should keep running fn when renewal fails", func(t *testing.T) {
		m, s, rec := newTestManager(t, 100*time.Millisecond, cache.RetryPolicy{})
		err := m.WithLock(ctx, "acme", "k", func(context.Context) error {
			s.Del("acme:locks:k")
			time.Sleep(120 * time.Millisecond)
			return nil
		})
		require.NoError(t, err)
		assert.GreaterOrEqual(t, rec.count(EventRefreshFailed), 1)
		assert.Equal(t, 1, rec.count(EventReleaseFailed))
	})

	t.Run("Should not contend across tenants", func(t *testing.T) {
		m, _, _ := newTestManager(t, time.Second, cache.RetryPolicy{})
		err := m.WithLock(ctx, "acme", "k", func(ctx context.Context) error {
			return m.WithLock(ctx, "globex", "k", func(context.Context) error { return nil })
		})
		assert.NoError(t, err)
	})

	t.Run("Should fail when the lease is held elsewhere", func(t *testing.T) {
		m, s, rec := newTestManager(t, time.Second, cache.RetryPolicy{Count: 1, Delay: time.Millisecond})
		require.NoError(t, s.Set("acme:locks:k", "someone-else"))
		called := false
		err := m.WithLock(ctx, "acme", "k", func(context.Context) error {
			called = true
			return nil
		})
		assert.ErrorIs(t, err, cache.ErrLockNotAcquired)
		assert.False(t, called)
		assert.Equal(t, 1, rec.count(EventAcquireFailed))
	})

	t.Run("Should serialize concurrent holders of the same key", func(t *testing.T) {
		m, _, _ := newTestManager(t, time.Second, cache.RetryPolicy{Count: 200, Delay: 2 * time.Millisecond})
		var active, maxActive int32
		var wg sync.WaitGroup
		for range 5 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := m.WithLock(ctx, "acme", "k", func(context.Context) error {
					n := atomic.AddInt32(&active, 1)
					for {
						current := atomic.LoadInt32(&maxActive)
						if n <= current || atomic.CompareAndSwapInt32(&maxActive, current, n) {
							break
						}
					}
					time.Sleep(5 * time.Millisecond)
					atomic.AddInt32(&active, -1)
					return nil
				})
				assert.NoError(t, err)
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), atomic.LoadInt32(&maxActive))
	})
}

func TestWithLockResult(t *testing.T) {
	t.Run("Should return the value produced by fn", func(t *testing.T) {
		m, _, _ := newTestManager(t, time.Second, cache.RetryPolicy{})
		v, err := WithLockResult(context.Background(), m, "acme", "k", func(context.Context) (int, error) {
			return 42, nil
		})
		require.NoError(t, err)
		assert.Equal(t, 42, v)
	})
}
