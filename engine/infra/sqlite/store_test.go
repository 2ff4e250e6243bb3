package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/idc-core/idc/pkg/config"
)

func TestBuildDSN(t *testing.T) {
	t.Run("Should build DSN for file path with pragmas", func(t *testing.T) {
		d := buildDSN("/tmp/test.db", 0)
		assert.Contains(t, d, "file:/tmp/test.db?")
		assert.Contains(t, d, "journal_mode%28WAL%29")
		assert.Contains(t, d, "foreign_keys%28ON%29")
		assert.Contains(t, d, "busy_timeout%285000%29")
	})
	t.Run("Should build DSN for in-memory database", func(t *testing.T) {
		d := buildDSN(":memory:", 2*time.Second)
		assert.Contains(t, d, "file::memory:?")
		assert.Contains(t, d, "busy_timeout%282000%29")
		assert.NotContains(t, d, "journal_mode")
	})
}

func TestFromAppConfig(t *testing.T) {
	t.Run("Should prefer the connection string over the path", func(t *testing.T) {
		cfg := FromAppConfig(&config.DatabaseConfig{Path: "a.db", ConnString: "b.db", BusyTimeout: time.Second})
		assert.Equal(t, "b.db", cfg.Path)
		assert.Equal(t, 1, cfg.MaxOpenConns)
		assert.Equal(t, time.Second, cfg.BusyTimeout)
	})
}

func TestStore_Lifecycle(t *testing.T) {
	t.Run("Should reject an empty path", func(t *testing.T) {
		_, err := NewStore(context.Background(), &Config{})
		require.Error(t, err)
	})
	t.Run("Should open, migrate and health check a file database", func(t *testing.T) {
		ctx := t.Context()
		s, err := NewStore(ctx, &Config{Path: filepath.Join(t.TempDir(), "idc.db")})
		require.NoError(t, err)
		defer s.Close(ctx)
		require.NoError(t, s.Migrate(ctx))
		require.NoError(t, s.Migrate(ctx))
		require.NoError(t, s.HealthCheck(ctx))
		var n int
		err = s.DB().QueryRowContext(ctx,
			`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name IN ('documents','document_versions','actions')`,
		).Scan(&n)
		require.NoError(t, err)
		assert.Equal(t, 3, n)
	})
}
