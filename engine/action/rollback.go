package action

import (
	"context"

	"github.com/idc-core/idc/engine/compensation"
	"github.com/idc-core/idc/engine/core"
	"github.com/idc-core/idc/engine/infra/store"
)

// rollbackTarget applies compensation commands to the tenant store and the
// action state of the failed invocation.
type rollbackTarget struct {
	state *State
	store store.TenantStore
}

var _ compensation.Target = (*rollbackTarget)(nil)

func (r *rollbackTarget) DeleteDocument(ctx context.Context, collection, documentID string) error {
	_, err := r.store.DeleteDocument(ctx, collection, documentID)
	return err
}

func (r *rollbackTarget) RestoreDocument(ctx context.Context, collection string, snapshot core.Document) error {
	return r.store.ReplaceDocument(ctx, collection, snapshot)
}

func (r *rollbackTarget) DeleteVersion(ctx context.Context, versionID string) error {
	return r.store.DeleteVersion(ctx, versionID)
}

func (r *rollbackTarget) ResetVersionFields(
	ctx context.Context,
	collection, documentID string,
	version, fromVersion int64,
) error {
	_, err := r.store.FindAndUpdate(ctx, collection, documentID, func(doc core.Document) (core.Document, error) {
		next := doc.Clone()
		next[core.FieldVersion] = version
		next[core.FieldFromVersion] = fromVersion
		return next, nil
	})
	return err
}

func (r *rollbackTarget) MarkTaskReverted(taskName string) {
	r.state.metricsFor(taskName).MarkReverted()
}

func (r *rollbackTarget) UnsetTaskResult(taskName string, fields []string) {
	results, ok := r.state.TasksResults[taskName]
	if !ok {
		return
	}
	for _, field := range fields {
		delete(results, field)
	}
}
