package version_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/idc-core/idc/engine/compensation"
	"github.com/idc-core/idc/engine/core"
	"github.com/idc-core/idc/engine/infra/store"
	"github.com/idc-core/idc/engine/version"
	"github.com/idc-core/idc/test/helpers"
)

type fixture struct {
	svc   *version.Service
	store store.TenantStore
	stack *compensation.Stack
}

func (f *fixture) op() version.Op {
	return version.Op{Store: f.store, ActionID: "idc-actions~test", Compensations: f.stack}
}

func setup(t *testing.T) *fixture {
	t.Helper()
	env := helpers.SetupStandalone(t)
	return &fixture{
		svc:   version.NewService(env.Locks, nil),
		store: env.Store.Tenant("c1"),
		stack: compensation.NewStack(),
	}
}

// storeTarget applies compensations directly against the tenant store.
type storeTarget struct{ store store.TenantStore }

func (s storeTarget) DeleteDocument(ctx context.Context, collection, id string) error {
	_, err := s.store.DeleteDocument(ctx, collection, id)
	return err
}

func (s storeTarget) RestoreDocument(ctx context.Context, collection string, snapshot core.Document) error {
	return s.store.ReplaceDocument(ctx, collection, snapshot)
}

func (s storeTarget) DeleteVersion(ctx context.Context, id string) error {
	return s.store.DeleteVersion(ctx, id)
}

func (s storeTarget) ResetVersionFields(ctx context.Context, collection, id string, v, from int64) error {
	_, err := s.store.FindAndUpdate(ctx, collection, id, func(doc core.Document) (core.Document, error) {
		next := doc.Clone()
		next[core.FieldVersion] = v
		next[core.FieldFromVersion] = from
		return next, nil
	})
	return err
}

func (storeTarget) MarkTaskReverted(string)          {}
func (storeTarget) UnsetTaskResult(string, []string) {}

func versionNumbers(t *testing.T, f *fixture, id string) []int64 {
	t.Helper()
	recs, err := f.store.ListVersions(helpers.Context(t), id)
	require.NoError(t, err)
	out := make([]int64, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.IDCVersion)
	}
	return out
}

func TestService_Create(t *testing.T) {
	t.Run("Should create a document at version 1 and register its deletion", func(t *testing.T) {
		f := setup(t)
		ctx := helpers.Context(t)
		doc, err := f.svc.Create(ctx, f.op(), "widgets", map[string]any{"color": "red"})
		require.NoError(t, err)
		assert.Equal(t, "widgets", doc.Collection())
		assert.EqualValues(t, 1, doc.Version())
		assert.EqualValues(t, 0, doc.FromVersion())
		assert.Equal(t, "red", doc["color"])
		cmds := f.stack.Commands()
		require.Len(t, cmds, 1)
		assert.Equal(t, compensation.KindDeleteDocument, cmds[0].Kind)
	})
}

func TestService_Update(t *testing.T) {
	t.Run("Should snapshot the unversioned state once and bump the version", func(t *testing.T) {
		f := setup(t)
		ctx := helpers.Context(t)
		doc, err := f.svc.Create(ctx, f.op(), "widgets", map[string]any{"color": "red"})
		require.NoError(t, err)

		updated, err := f.svc.Update(ctx, f.op(), doc.ID(), map[string]any{"$set": map[string]any{"color": "blue"}})
		require.NoError(t, err)
		assert.Equal(t, "blue", updated["color"])
		assert.EqualValues(t, 2, updated.Version())
		assert.EqualValues(t, 1, updated.FromVersion())
		assert.Equal(t, []int64{1}, versionNumbers(t, f, doc.ID()))

		latest, err := f.svc.ResolveLatest(ctx, f.op(), doc.ID())
		require.NoError(t, err)
		assert.True(t, latest.DocIsLatest)
	})
	t.Run("Should fail for missing documents", func(t *testing.T) {
		f := setup(t)
		_, err := f.svc.Update(helpers.Context(t), f.op(), "widgets~missing", map[string]any{"a": 1})
		assert.ErrorIs(t, err, core.ErrDocumentNotFound)
	})
	t.Run("Should serialize concurrent updates on the same document", func(t *testing.T) {
		f := setup(t)
		ctx := helpers.Context(t)
		doc, err := f.svc.Create(ctx, f.op(), "counters", map[string]any{"n": 0})
		require.NoError(t, err)
		const workers = 8
		var wg sync.WaitGroup
		errs := make(chan error, workers)
		for range workers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := f.svc.Update(ctx, f.op(), doc.ID(), map[string]any{"$inc": map[string]any{"n": 1}})
				errs <- err
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}
		final, err := f.store.GetDocument(ctx, "counters", doc.ID())
		require.NoError(t, err)
		assert.EqualValues(t, workers, core.AsInt64(final["n"]))
		assert.EqualValues(t, workers+1, final.Version())
		assert.Len(t, versionNumbers(t, f, doc.ID()), workers)
	})
}

func TestService_RoundTrip(t *testing.T) {
	t.Run("Should revert to version 1 and keep earlier version records", func(t *testing.T) {
		f := setup(t)
		ctx := helpers.Context(t)
		doc, err := f.svc.Create(ctx, f.op(), "widgets", map[string]any{"color": "red"})
		require.NoError(t, err)
		_, err = f.svc.Update(ctx, f.op(), doc.ID(), map[string]any{"color": "green"})
		require.NoError(t, err)
		_, err = f.svc.Update(ctx, f.op(), doc.ID(), map[string]any{"color": "blue"})
		require.NoError(t, err)

		v1, err := f.store.GetVersion(ctx, doc.ID(), 1)
		require.NoError(t, err)
		reverted, err := f.svc.Revert(ctx, f.op(), doc.ID(), 1)
		require.NoError(t, err)
		assert.Equal(t, "red", reverted["color"])

		live, err := f.store.GetDocument(ctx, "widgets", doc.ID())
		require.NoError(t, err)
		assert.Equal(t, map[string]any(v1.Document), map[string]any(live))
		assert.Subset(t, versionNumbers(t, f, doc.ID()), []int64{1, 2})
	})
	t.Run("Should fail to revert to an unknown version", func(t *testing.T) {
		f := setup(t)
		ctx := helpers.Context(t)
		doc, err := f.svc.Create(ctx, f.op(), "widgets", map[string]any{"color": "red"})
		require.NoError(t, err)
		_, err = f.svc.Revert(ctx, f.op(), doc.ID(), 7)
		assert.ErrorIs(t, err, core.ErrVersionNotFound)
		_, err = f.svc.Revert(ctx, f.op(), doc.ID(), 0)
		assert.ErrorIs(t, err, core.ErrVersionNotFound)
	})
}

func TestService_Snapshot(t *testing.T) {
	t.Run("Should keep one record per document version", func(t *testing.T) {
		f := setup(t)
		ctx := helpers.Context(t)
		doc, err := f.svc.Create(ctx, f.op(), "widgets", map[string]any{"color": "red"})
		require.NoError(t, err)
		first, err := f.svc.Snapshot(ctx, f.op(), doc)
		require.NoError(t, err)
		second, err := f.svc.Snapshot(ctx, f.op(), doc)
		require.NoError(t, err)
		assert.Equal(t, first.IDCID, second.IDCID)
		assert.Equal(t, []int64{1}, versionNumbers(t, f, doc.ID()))
	})
}

func TestService_DeleteRestore(t *testing.T) {
	t.Run("Should version the deleted state and restore it later", func(t *testing.T) {
		f := setup(t)
		ctx := helpers.Context(t)
		doc, err := f.svc.Create(ctx, f.op(), "widgets", map[string]any{"color": "red"})
		require.NoError(t, err)
		_, err = f.svc.Delete(ctx, f.op(), doc.ID())
		require.NoError(t, err)
		ok, err := f.store.Exists(ctx, "widgets", doc.ID())
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Equal(t, []int64{1}, versionNumbers(t, f, doc.ID()))

		restored, err := f.svc.Restore(ctx, f.op(), doc.ID())
		require.NoError(t, err)
		assert.EqualValues(t, 2, restored.Version())
		assert.EqualValues(t, 1, restored.FromVersion())
		assert.Equal(t, "red", restored["color"])
	})
	t.Run("Should bump an already versioned state before deleting", func(t *testing.T) {
		f := setup(t)
		ctx := helpers.Context(t)
		doc, err := f.svc.Create(ctx, f.op(), "widgets", map[string]any{"color": "red"})
		require.NoError(t, err)
		_, err = f.svc.Snapshot(ctx, f.op(), doc)
		require.NoError(t, err)
		final, err := f.svc.Delete(ctx, f.op(), doc.ID())
		require.NoError(t, err)
		assert.EqualValues(t, 2, final.Version())
		assert.EqualValues(t, 1, final.FromVersion())
		assert.Equal(t, []int64{1, 2}, versionNumbers(t, f, doc.ID()))
	})
	t.Run("Should refuse to restore a live document", func(t *testing.T) {
		f := setup(t)
		ctx := helpers.Context(t)
		doc, err := f.svc.Create(ctx, f.op(), "widgets", map[string]any{"color": "red"})
		require.NoError(t, err)
		_, err = f.svc.Snapshot(ctx, f.op(), doc)
		require.NoError(t, err)
		_, err = f.svc.Restore(ctx, f.op(), doc.ID())
		assert.ErrorIs(t, err, core.ErrDocumentExists)
	})
	t.Run("Should refuse to restore without version history", func(t *testing.T) {
		f := setup(t)
		_, err := f.svc.Restore(helpers.Context(t), f.op(), "widgets~ghost")
		assert.ErrorIs(t, err, core.ErrVersionNotFound)
	})
	t.Run("Should undo delete through the compensation stack", func(t *testing.T) {
		f := setup(t)
		ctx := helpers.Context(t)
		doc, err := f.svc.Create(ctx, version.Op{Store: f.store}, "widgets", map[string]any{"color": "red"})
		require.NoError(t, err)
		_, err = f.svc.Snapshot(ctx, version.Op{Store: f.store}, doc)
		require.NoError(t, err)
		_, err = f.svc.Delete(ctx, f.op(), doc.ID())
		require.NoError(t, err)

		require.NoError(t, f.stack.Unwind(ctx, storeTarget{store: f.store}))
		live, err := f.store.GetDocument(ctx, "widgets", doc.ID())
		require.NoError(t, err)
		assert.EqualValues(t, 1, live.Version())
		assert.EqualValues(t, 0, live.FromVersion())
		assert.Equal(t, []int64{1}, versionNumbers(t, f, doc.ID()))
	})
}
