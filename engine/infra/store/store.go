package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/idc-core/idc/engine/core"
)

var (
	ErrNotFound  = errors.New("store: not found")
	ErrDuplicate = errors.New("store: duplicate")
)

// Filter matches documents whose fields equal the given values. Keys may use
// dotted paths into nested objects.
type Filter map[string]any

var filterKey = regexp.MustCompile(`^[A-Za-z0-9_\-]+(\.[A-Za-z0-9_\-]+)*$`)

// Validate rejects keys that cannot be used as a field path.
func (f Filter) Validate() error {
	for key := range f {
		if !filterKey.MatchString(key) {
			return fmt.Errorf("invalid filter field %q", key)
		}
	}
	return nil
}

// UpdateFunc computes the new state of a document inside FindAndUpdate. It must
// not call back into the store.
type UpdateFunc func(current core.Document) (core.Document, error)

// TenantStore is the document store scoped to one tenant.
type TenantStore interface {
	ClientID() string
	// Exists checks an id in a document collection, the version collection or
	// the action log depending on collection.
	Exists(ctx context.Context, collection, id string) (bool, error)
	GetDocument(ctx context.Context, collection, id string) (core.Document, error)
	InsertDocument(ctx context.Context, collection string, doc core.Document) error
	// FindAndUpdate atomically reads, transforms and writes a document,
	// returning the new value.
	FindAndUpdate(ctx context.Context, collection, id string, fn UpdateFunc) (core.Document, error)
	// ReplaceDocument writes doc verbatim, creating it when absent.
	ReplaceDocument(ctx context.Context, collection string, doc core.Document) error
	DeleteDocument(ctx context.Context, collection, id string) (bool, error)
	FindDocuments(ctx context.Context, collection string, filter Filter, limit int) ([]core.Document, error)
	// LatestWithVersion loads a live document together with its highest
	// version record in one read. The record is nil when none exists.
	LatestWithVersion(ctx context.Context, collection, id string) (core.Document, *core.VersionRecord, error)
	LatestVersion(ctx context.Context, documentID string) (*core.VersionRecord, error)
	GetVersion(ctx context.Context, documentID string, version int64) (*core.VersionRecord, error)
	// UpsertVersion inserts rec unless a record for the same document and
	// version exists, and returns the stored record either way.
	UpsertVersion(ctx context.Context, rec *core.VersionRecord) (*core.VersionRecord, error)
	DeleteVersion(ctx context.Context, versionID string) error
	ListVersions(ctx context.Context, documentID string) ([]*core.VersionRecord, error)
	InsertAction(ctx context.Context, rec *core.ActionRecord) error
	GetAction(ctx context.Context, id string) (*core.ActionRecord, error)
}

// Store hands out tenant-scoped views of the shared database.
type Store interface {
	Tenant(clientID string) TenantStore
	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}
