package version

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/idc-core/idc/engine/compensation"
	"github.com/idc-core/idc/engine/core"
	"github.com/idc-core/idc/engine/infra/store"
	"github.com/idc-core/idc/engine/lock"
	"github.com/idc-core/idc/pkg/logger"
)

// Op scopes a version store call to one tenant and one action invocation.
type Op struct {
	Store         store.TenantStore
	ActionID      string
	Compensations *compensation.Stack
}

func (o Op) push(cmd compensation.Command) {
	if o.Compensations != nil {
		o.Compensations.Push(cmd)
	}
}

// Latest is a live document together with its newest version record.
type Latest struct {
	Document core.Document
	Version  *core.VersionRecord
	// DocIsLatest reports that the live state has never been snapshotted.
	DocIsLatest bool
}

func (l *Latest) latestVersionNumber() int64 {
	if l.Version == nil {
		return 0
	}
	return l.Version.IDCVersion
}

// Service maintains the append-only version chain of documents. Every
// mutation runs under the per-document lease.
type Service struct {
	locks *lock.Manager
	clock core.Clock
}

func NewService(locks *lock.Manager, clock core.Clock) *Service {
	if clock == nil {
		clock = time.Now
	}
	return &Service{locks: locks, clock: clock}
}

func (s *Service) now() time.Time {
	return s.clock().UTC()
}

func (s *Service) withLock(
	ctx context.Context,
	op Op,
	documentID string,
	fn func(ctx context.Context) (core.Document, error),
) (core.Document, error) {
	if op.Store == nil {
		return nil, errors.New("version: tenant store is required")
	}
	if _, err := core.CollectionFromID(documentID); err != nil {
		return nil, err
	}
	return lock.WithLockResult(ctx, s.locks, op.Store.ClientID(), documentID, fn)
}

// ResolveLatest loads the document and its highest version record in one read.
func (s *Service) ResolveLatest(ctx context.Context, op Op, documentID string) (*Latest, error) {
	collection, err := core.CollectionFromID(documentID)
	if err != nil {
		return nil, err
	}
	doc, latest, err := op.Store.LatestWithVersion(ctx, collection, documentID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", core.ErrDocumentNotFound, documentID)
		}
		return nil, fmt.Errorf("failed to resolve latest version of %s: %w", documentID, err)
	}
	res := &Latest{Document: doc, Version: latest}
	res.DocIsLatest = doc.Version() > res.latestVersionNumber()
	return res, nil
}

// Snapshot records doc at its current version. Writing the same
// (document, version) pair twice keeps the first record; a compensation is
// registered only when this call created the record.
func (s *Service) Snapshot(ctx context.Context, op Op, doc core.Document) (*core.VersionRecord, error) {
	versionID, err := core.GenerateID(ctx, core.VersionsCollection, func(ctx context.Context, id string) (bool, error) {
		return op.Store.Exists(ctx, core.VersionsCollection, id)
	})
	if err != nil {
		return nil, err
	}
	stored, err := op.Store.UpsertVersion(ctx, &core.VersionRecord{
		IDCID:          versionID,
		DocumentIDCID:  doc.ID(),
		IDCVersion:     doc.Version(),
		FromIDCVersion: doc.FromVersion(),
		ActionIDCID:    op.ActionID,
		Document:       doc.Clone(),
		CreatedAt:      s.now(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot %s@%d: %w", doc.ID(), doc.Version(), err)
	}
	if stored.IDCID == versionID {
		op.push(compensation.DeleteVersion(versionID))
	} else {
		logger.FromContext(ctx).Debug("Version already recorded",
			"document_idc_id", doc.ID(), "idc_version", doc.Version())
	}
	return stored, nil
}

// Create inserts a new document at version 1.
func (s *Service) Create(ctx context.Context, op Op, collection string, payload map[string]any) (core.Document, error) {
	if op.Store == nil {
		return nil, errors.New("version: tenant store is required")
	}
	id, err := core.GenerateID(ctx, collection, func(ctx context.Context, id string) (bool, error) {
		return op.Store.Exists(ctx, collection, id)
	})
	if err != nil {
		return nil, err
	}
	doc := core.Document(core.DeepCopyMap(payload))
	if doc == nil {
		doc = core.Document{}
	}
	now := s.now()
	doc[core.FieldID] = id
	doc[core.FieldCreatedAt] = now.Format(time.RFC3339Nano)
	doc.Stamp(1, 0, now)
	if err := op.Store.InsertDocument(ctx, collection, doc); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, fmt.Errorf("%w: %s", core.ErrDocumentExists, id)
		}
		return nil, fmt.Errorf("failed to create document in %s: %w", collection, err)
	}
	op.push(compensation.DeleteDocument(collection, id))
	return doc, nil
}

// Update applies update ops to the document, snapshotting the superseded state
// when it has not been recorded yet.
func (s *Service) Update(ctx context.Context, op Op, documentID string, update any) (core.Document, error) {
	return s.withLock(ctx, op, documentID, func(ctx context.Context) (core.Document, error) {
		latest, err := s.ResolveLatest(ctx, op, documentID)
		if err != nil {
			return nil, err
		}
		current := latest.Document
		if latest.DocIsLatest {
			if _, err := s.Snapshot(ctx, op, current); err != nil {
				return nil, err
			}
		}
		newVersion := latest.latestVersionNumber() + 1
		if latest.DocIsLatest {
			newVersion = current.Version() + 1
		}
		fromVersion := current.Version()
		collection := current.Collection()
		updated, err := op.Store.FindAndUpdate(ctx, collection, documentID, func(doc core.Document) (core.Document, error) {
			next, err := core.ApplyUpdate(doc, update)
			if err != nil {
				return nil, err
			}
			next.Stamp(newVersion, fromVersion, s.now())
			return next, nil
		})
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, fmt.Errorf("%w: %s", core.ErrDocumentNotFound, documentID)
			}
			return nil, fmt.Errorf("failed to update %s: %w", documentID, err)
		}
		op.push(compensation.RestoreDocument(collection, current))
		return updated, nil
	})
}

// Delete removes the live document after making sure its final state is
// versioned. The returned document is the state that was deleted.
func (s *Service) Delete(ctx context.Context, op Op, documentID string) (core.Document, error) {
	return s.withLock(ctx, op, documentID, func(ctx context.Context) (core.Document, error) {
		latest, err := s.ResolveLatest(ctx, op, documentID)
		if err != nil {
			return nil, err
		}
		current := latest.Document
		collection := current.Collection()
		final := current
		if !latest.DocIsLatest {
			// The live state is already recorded; give the deleted state its own number.
			newVersion := latest.latestVersionNumber() + 1
			final, err = op.Store.FindAndUpdate(ctx, collection, documentID, func(doc core.Document) (core.Document, error) {
				next := doc.Clone()
				next.Stamp(newVersion, current.Version(), s.now())
				return next, nil
			})
			if err != nil {
				return nil, fmt.Errorf("failed to bump version of %s: %w", documentID, err)
			}
			op.push(compensation.ResetVersionFields(collection, documentID, current.Version(), current.FromVersion()))
		}
		if _, err := s.Snapshot(ctx, op, final); err != nil {
			return nil, err
		}
		deleted, err := op.Store.DeleteDocument(ctx, collection, documentID)
		if err != nil {
			return nil, fmt.Errorf("failed to delete %s: %w", documentID, err)
		}
		if !deleted {
			return nil, fmt.Errorf("%w: %s", core.ErrDocumentNotFound, documentID)
		}
		op.push(compensation.RestoreDocument(collection, final))
		return final, nil
	})
}

// Restore recreates a deleted document from its newest version record.
func (s *Service) Restore(ctx context.Context, op Op, documentID string) (core.Document, error) {
	return s.withLock(ctx, op, documentID, func(ctx context.Context) (core.Document, error) {
		collection, err := core.CollectionFromID(documentID)
		if err != nil {
			return nil, err
		}
		exists, err := op.Store.Exists(ctx, collection, documentID)
		if err != nil {
			return nil, fmt.Errorf("failed to check %s: %w", documentID, err)
		}
		if exists {
			return nil, fmt.Errorf("cannot restore %s: %w", documentID, core.ErrDocumentExists)
		}
		snapshot, err := op.Store.LatestVersion(ctx, documentID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, fmt.Errorf("cannot restore %s: no version history: %w", documentID, core.ErrVersionNotFound)
			}
			return nil, fmt.Errorf("failed to load versions of %s: %w", documentID, err)
		}
		doc := snapshot.Document.Clone()
		if doc == nil {
			doc = core.Document{}
		}
		doc[core.FieldID] = documentID
		doc.Stamp(snapshot.IDCVersion+1, snapshot.IDCVersion, s.now())
		if err := op.Store.InsertDocument(ctx, collection, doc); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				return nil, fmt.Errorf("cannot restore %s: %w", documentID, core.ErrDocumentExists)
			}
			return nil, fmt.Errorf("failed to restore %s: %w", documentID, err)
		}
		op.push(compensation.DeleteDocument(collection, documentID))
		return doc, nil
	})
}

// Revert overwrites the live document with the snapshot of targetVersion.
func (s *Service) Revert(ctx context.Context, op Op, documentID string, targetVersion int64) (core.Document, error) {
	if targetVersion <= 0 {
		return nil, fmt.Errorf("%w: target version must be positive", core.ErrVersionNotFound)
	}
	return s.withLock(ctx, op, documentID, func(ctx context.Context) (core.Document, error) {
		latest, err := s.ResolveLatest(ctx, op, documentID)
		if err != nil {
			return nil, err
		}
		target, err := op.Store.GetVersion(ctx, documentID, targetVersion)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, fmt.Errorf("%w: %s@%d", core.ErrVersionNotFound, documentID, targetVersion)
			}
			return nil, fmt.Errorf("failed to load %s@%d: %w", documentID, targetVersion, err)
		}
		current := latest.Document
		if latest.DocIsLatest {
			if _, err := s.Snapshot(ctx, op, current); err != nil {
				return nil, err
			}
		}
		collection := current.Collection()
		reverted := target.Document.Clone()
		reverted[core.FieldID] = documentID
		if err := op.Store.ReplaceDocument(ctx, collection, reverted); err != nil {
			return nil, fmt.Errorf("failed to revert %s: %w", documentID, err)
		}
		op.push(compensation.RestoreDocument(collection, current))
		return reverted, nil
	})
}
