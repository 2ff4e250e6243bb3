package cache

import (
	"testing"

	"github.com/idc-core/idc/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMiniredisEmbedded_Lifecycle(t *testing.T) {
	t.Run("Should start and answer commands", func(t *testing.T) {
		ctx := logger.ContextWithLogger(t.Context(), logger.NewForTests())
		mr, err := NewMiniredisEmbedded(ctx)
		require.NoError(t, err)
		defer mr.Close(ctx)
		require.NoError(t, mr.Client().Set(ctx, "a", "1", 0).Err())
		v, err := mr.Client().Get(ctx, "a").Result()
		require.NoError(t, err)
		assert.Equal(t, "1", v)
		assert.NotEmpty(t, mr.Addr())
	})

	t.Run("Should close more than once without errors", func(t *testing.T) {
		ctx := logger.ContextWithLogger(t.Context(), logger.NewForTests())
		mr, err := NewMiniredisEmbedded(ctx)
		require.NoError(t, err)
		assert.NoError(t, mr.Close(ctx))
		assert.NoError(t, mr.Close(ctx))
	})
}
