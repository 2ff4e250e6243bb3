package core_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/idc-core/idc/engine/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateID(t *testing.T) {
	ctx := context.Background()

	t.Run("Should prefix a uuid v4 with the collection name", func(t *testing.T) {
		id, err := core.GenerateID(ctx, "widgets", nil)
		require.NoError(t, err)
		require.True(t, strings.HasPrefix(id, "widgets~"))
		parsed, err := uuid.Parse(strings.TrimPrefix(id, "widgets~"))
		require.NoError(t, err)
		assert.Equal(t, uuid.Version(4), parsed.Version())
	})

	t.Run("Should regenerate on collision", func(t *testing.T) {
		calls := 0
		id, err := core.GenerateID(ctx, "widgets", func(_ context.Context, _ string) (bool, error) {
			calls++
			return calls < 3, nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
		assert.NotEmpty(t, id)
	})

	t.Run("Should propagate lookup errors", func(t *testing.T) {
		_, err := core.GenerateID(ctx, "widgets", func(_ context.Context, _ string) (bool, error) {
			return false, errors.New("db down")
		})
		assert.ErrorContains(t, err, "db down")
	})

	t.Run("Should reject empty collection names", func(t *testing.T) {
		_, err := core.GenerateID(ctx, "", nil)
		assert.ErrorIs(t, err, core.ErrInvalidID)
	})
}

func TestCollectionFromID(t *testing.T) {
	t.Run("Should strip the trailing uuid segment", func(t *testing.T) {
		collection, err := core.CollectionFromID("widgets~0b7f2f4e-8c1a-4f55-9a59-9b8d8d1e2a11")
		require.NoError(t, err)
		assert.Equal(t, "widgets", collection)
	})

	t.Run("Should keep earlier separators in the collection name", func(t *testing.T) {
		collection, err := core.CollectionFromID("a~b~c")
		require.NoError(t, err)
		assert.Equal(t, "a~b", collection)
	})

	t.Run("Should round trip generated ids", func(t *testing.T) {
		id, err := core.GenerateID(context.Background(), core.VersionsCollection, nil)
		require.NoError(t, err)
		collection, err := core.CollectionFromID(id)
		require.NoError(t, err)
		assert.Equal(t, core.VersionsCollection, collection)
	})

	t.Run("Should reject malformed ids", func(t *testing.T) {
		for _, id := range []string{"", "widgets", "~abc", "widgets~"} {
			_, err := core.CollectionFromID(id)
			assert.ErrorIs(t, err, core.ErrInvalidID, id)
		}
	})
}
