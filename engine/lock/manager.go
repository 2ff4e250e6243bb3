package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/idc-core/idc/engine/infra/cache"
	"github.com/idc-core/idc/pkg/logger"
)

const (
	DefaultTTL     = 10 * time.Second
	DefaultSegment = "locks"
)

// Event names a lock lifecycle transition reported to the Recorder.
type Event string

const (
	EventAcquired      Event = "acquired"
	EventAcquireFailed Event = "acquire_failed"
	EventRefreshed     Event = "refreshed"
	EventRefreshFailed Event = "refresh_failed"
	EventReleased      Event = "released"
	EventReleaseFailed Event = "release_failed"
)

// Recorder receives lock metrics.
type Recorder interface {
	LockEvent(event Event)
	LockWait(d time.Duration)
}

type noopRecorder struct{}

func (noopRecorder) LockEvent(Event)        {}
func (noopRecorder) LockWait(time.Duration) {}

// Manager serializes work per tenant and document key.
type Manager struct {
	locks    cache.LockManager
	ttl      time.Duration
	recorder Recorder
}

func NewManager(locks cache.LockManager, ttl time.Duration, recorder Recorder) (*Manager, error) {
	if locks == nil {
		return nil, fmt.Errorf("lock manager cannot be nil")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if recorder == nil {
		recorder = noopRecorder{}
	}
	return &Manager{locks: locks, ttl: ttl, recorder: recorder}, nil
}

// Key builds the lease key "<client_id>:locks:<key>".
func Key(clientID, key string) string {
	return clientID + ":" + DefaultSegment + ":" + key
}

// WithLock runs fn while holding the lease for key. The lease is renewed every
// TTL/2 until fn returns; renewal failures are logged and fn keeps running.
// The lease is released on every exit path.
func (m *Manager) WithLock(ctx context.Context, clientID, key string, fn func(ctx context.Context) error) error {
	resource := Key(clientID, key)
	log := logger.FromContext(ctx).With("component", "lock", "lock_key", resource)
	started := time.Now()
	lease, err := m.locks.Acquire(ctx, resource, m.ttl)
	if err != nil {
		m.recorder.LockEvent(EventAcquireFailed)
		log.Warn("Failed to acquire lock", "error", err)
		return fmt.Errorf("acquire lock %s: %w", resource, err)
	}
	m.recorder.LockEvent(EventAcquired)
	m.recorder.LockWait(time.Since(started))
	log.Debug("Lock acquired")

	renewCtx, stopRenewal := context.WithCancel(context.WithoutCancel(ctx))
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		m.renew(renewCtx, lease, log)
	}()
	defer func() {
		stopRenewal()
		wg.Wait()
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			m.recorder.LockEvent(EventReleaseFailed)
			log.Warn("Failed to release lock", "error", err)
			return
		}
		m.recorder.LockEvent(EventReleased)
		log.Debug("Lock released")
	}()
	return fn(ctx)
}

func (m *Manager) renew(ctx context.Context, lease cache.Lock, log logger.Logger) {
	ticker := time.NewTicker(m.ttl / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := lease.Refresh(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				m.recorder.LockEvent(EventRefreshFailed)
				log.Error("Failed to renew lock", "error", err)
				continue
			}
			m.recorder.LockEvent(EventRefreshed)
		}
	}
}

// WithLockResult is WithLock for functions that produce a value.
func WithLockResult[T any](
	ctx context.Context,
	m *Manager,
	clientID, key string,
	fn func(ctx context.Context) (T, error),
) (T, error) {
	var result T
	err := m.WithLock(ctx, clientID, key, func(ctx context.Context) error {
		var err error
		result, err = fn(ctx)
		return err
	})
	return result, err
}
