package helpers

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/idc-core/idc/engine/infra/cache"
	"github.com/idc-core/idc/engine/infra/sqlite"
	"github.com/idc-core/idc/engine/lock"
	"github.com/idc-core/idc/pkg/logger"
)

// StandaloneEnv bundles a migrated SQLite store and a miniredis-backed lock
// manager for tests that exercise the engine end to end.
type StandaloneEnv struct {
	Store  *sqlite.Store
	Redis  *miniredis.Miniredis
	Client redis.UniversalClient
	Locks  *lock.Manager
}

// SetupStandalone creates the environment and registers cleanup on t.
func SetupStandalone(t *testing.T) *StandaloneEnv {
	t.Helper()
	ctx := logger.ContextWithLogger(context.Background(), logger.NewForTests())
	st, err := sqlite.NewStore(ctx, &sqlite.Config{Path: filepath.Join(t.TempDir(), "idc.db")})
	require.NoError(t, err)
	require.NoError(t, st.Migrate(ctx))
	t.Cleanup(func() { _ = st.Close(ctx) })

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	leases, err := cache.NewRedisLockManager(client, cache.RetryPolicy{
		Count:  50,
		Delay:  20 * time.Millisecond,
		Jitter: 10 * time.Millisecond,
	})
	require.NoError(t, err)
	locks, err := lock.NewManager(leases, lock.DefaultTTL, nil)
	require.NoError(t, err)
	return &StandaloneEnv{Store: st, Redis: mr, Client: client, Locks: locks}
}

// Context returns a test context carrying a silent logger.
func Context(t *testing.T) context.Context {
	t.Helper()
	return logger.ContextWithLogger(t.Context(), logger.NewForTests())
}
