package tasks

import (
	"context"
	"fmt"

	"github.com/idc-core/idc/engine/action"
	"github.com/idc-core/idc/engine/core"
	"github.com/idc-core/idc/engine/infra/store"
	"github.com/idc-core/idc/engine/version"
)

// Documents implements the document mutation functions on top of the
// version store.
type Documents struct {
	versions *version.Service
}

func NewDocuments(versions *version.Service) *Documents {
	return &Documents{versions: versions}
}

func (d *Documents) Create(ctx context.Context, inv *action.Invocation) error {
	params, err := decodeParams[createDocumentParams](inv)
	if err != nil {
		return err
	}
	doc, err := d.versions.Create(ctx, inv.VersionOp(), params.CollectionName, params.Payload)
	if err != nil {
		return err
	}
	inv.Results["document"] = doc
	inv.Metrics.SetSuccess(true)
	return nil
}

func (d *Documents) Update(ctx context.Context, inv *action.Invocation) error {
	params, err := decodeParams[updateDocumentParams](inv)
	if err != nil {
		return err
	}
	doc, err := d.versions.Update(ctx, inv.VersionOp(), params.IDCID, params.Update)
	if err != nil {
		return err
	}
	inv.Results["document"] = doc
	inv.Metrics.SetSuccess(true)
	return nil
}

func (d *Documents) Delete(ctx context.Context, inv *action.Invocation) error {
	params, err := decodeParams[documentParams](inv)
	if err != nil {
		return err
	}
	if _, err := d.versions.Delete(ctx, inv.VersionOp(), params.IDCID); err != nil {
		return err
	}
	inv.Results["is_document_deleted"] = true
	inv.Results["document"] = map[string]any{core.FieldID: params.IDCID}
	inv.Metrics.SetSuccess(true)
	return nil
}

func (d *Documents) Restore(ctx context.Context, inv *action.Invocation) error {
	params, err := decodeParams[documentParams](inv)
	if err != nil {
		return err
	}
	doc, err := d.versions.Restore(ctx, inv.VersionOp(), params.IDCID)
	if err != nil {
		return err
	}
	inv.Results["document"] = doc
	inv.Metrics.SetSuccess(true)
	return nil
}

func (d *Documents) Revert(ctx context.Context, inv *action.Invocation) error {
	params, err := decodeParams[revertDocumentParams](inv)
	if err != nil {
		return err
	}
	doc, err := d.versions.Revert(ctx, inv.VersionOp(), params.IDCID, params.IDCVersion)
	if err != nil {
		return err
	}
	inv.Results["document"] = doc
	inv.Metrics.SetSuccess(true)
	return nil
}

// Find runs an equality filter over one collection.
func (d *Documents) Find(ctx context.Context, inv *action.Invocation) error {
	params, err := decodeParams[findDocumentsParams](inv)
	if err != nil {
		return err
	}
	docs, err := inv.Exec.Store.FindDocuments(ctx, params.CollectionName, store.Filter(params.Filter), params.Limit)
	if err != nil {
		return fmt.Errorf("failed to query %s: %w", params.CollectionName, err)
	}
	data := make([]any, 0, len(docs))
	for _, doc := range docs {
		data = append(data, doc)
	}
	inv.Results["data"] = data
	inv.Metrics.SetSuccess(true)
	return nil
}
