package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/idc-core/idc/engine/core"
	"github.com/idc-core/idc/engine/infra/store"
	"github.com/idc-core/idc/pkg/logger"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const (
	tableDocuments = "documents"
	tableVersions  = "document_versions"
	tableActions   = "actions"
)

var versionColumns = []string{
	"idc_id", "document_idc_id", "idc_version", "from_idc_version", "action_idc_id", "document", "created_at",
}

// DocumentRepo implements store.TenantStore for one tenant.
type DocumentRepo struct {
	db     *sql.DB
	tenant string
	clock  func() time.Time
}

var _ store.TenantStore = (*DocumentRepo)(nil)

func (r *DocumentRepo) ClientID() string {
	return r.tenant
}

func (r *DocumentRepo) now() time.Time {
	return r.clock().UTC()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseStoredTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func isConstraintError(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		return se.Code()&0xff == sqlite3.SQLITE_CONSTRAINT
	}
	return false
}

func builder() squirrel.StatementBuilderType {
	return squirrel.StatementBuilder.PlaceholderFormat(squirrel.Question)
}

func (r *DocumentRepo) Exists(ctx context.Context, collection, id string) (bool, error) {
	sb := builder().Select("1").Where(squirrel.Eq{"tenant_id": r.tenant, "idc_id": id}).Limit(1)
	switch collection {
	case core.ActionsCollection:
		sb = sb.From(tableActions)
	case core.VersionsCollection:
		sb = sb.From(tableVersions)
	default:
		sb = sb.From(tableDocuments).Where(squirrel.Eq{"collection": collection})
	}
	query, args, err := sb.ToSql()
	if err != nil {
		return false, fmt.Errorf("sqlite: build exists query: %w", err)
	}
	var one int
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&one); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("sqlite: exists: %w", err)
	}
	return true, nil
}

func (r *DocumentRepo) GetDocument(ctx context.Context, collection, id string) (core.Document, error) {
	return r.getDocument(ctx, r.db, collection, id)
}

func (r *DocumentRepo) getDocument(ctx context.Context, q querier, collection, id string) (core.Document, error) {
	query, args, err := builder().Select("body").From(tableDocuments).
		Where(squirrel.Eq{"tenant_id": r.tenant, "collection": collection, "idc_id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("sqlite: build get query: %w", err)
	}
	var body []byte
	if err := q.QueryRowContext(ctx, query, args...).Scan(&body); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", store.ErrNotFound, id)
		}
		return nil, fmt.Errorf("sqlite: get document: %w", err)
	}
	return store.DecodeDocument(body)
}

func (r *DocumentRepo) InsertDocument(ctx context.Context, collection string, doc core.Document) error {
	body, err := store.EncodeJSON(doc)
	if err != nil {
		return err
	}
	created, updated := store.DocumentTimes(doc, r.now())
	query, args, err := builder().Insert(tableDocuments).
		Columns("tenant_id", "collection", "idc_id", "body", "created_at", "updated_at").
		Values(r.tenant, collection, doc.ID(), string(body), formatTime(created), formatTime(updated)).ToSql()
	if err != nil {
		return fmt.Errorf("sqlite: build insert: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		if isConstraintError(err) {
			return fmt.Errorf("%w: %s", store.ErrDuplicate, doc.ID())
		}
		return fmt.Errorf("sqlite: insert document: %w", err)
	}
	return nil
}

func (r *DocumentRepo) FindAndUpdate(
	ctx context.Context,
	collection, id string,
	fn store.UpdateFunc,
) (result core.Document, err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sqlite: begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			if rb := tx.Rollback(); rb != nil && !errors.Is(rb, sql.ErrTxDone) {
				logger.FromContext(ctx).Warn("sqlite: rollback failed", "error", rb)
			}
		}
	}()
	current, err := r.getDocument(ctx, tx, collection, id)
	if err != nil {
		return nil, err
	}
	next, err := fn(current)
	if err != nil {
		return nil, err
	}
	body, err := store.EncodeJSON(next)
	if err != nil {
		return nil, err
	}
	_, updated := store.DocumentTimes(next, r.now())
	query, args, err := builder().Update(tableDocuments).
		Set("body", string(body)).
		Set("updated_at", formatTime(updated)).
		Where(squirrel.Eq{"tenant_id": r.tenant, "collection": collection, "idc_id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("sqlite: build update: %w", err)
	}
	if _, err = tx.ExecContext(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("sqlite: update document: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("sqlite: commit: %w", err)
	}
	return next, nil
}

func (r *DocumentRepo) ReplaceDocument(ctx context.Context, collection string, doc core.Document) error {
	body, err := store.EncodeJSON(doc)
	if err != nil {
		return err
	}
	created, updated := store.DocumentTimes(doc, r.now())
	query, args, err := builder().Insert(tableDocuments).
		Columns("tenant_id", "collection", "idc_id", "body", "created_at", "updated_at").
		Values(r.tenant, collection, doc.ID(), string(body), formatTime(created), formatTime(updated)).
		Suffix("ON CONFLICT (tenant_id, idc_id) DO UPDATE SET " +
			"collection = excluded.collection, body = excluded.body, updated_at = excluded.updated_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("sqlite: build replace: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("sqlite: replace document: %w", err)
	}
	return nil
}

func (r *DocumentRepo) DeleteDocument(ctx context.Context, collection, id string) (bool, error) {
	query, args, err := builder().Delete(tableDocuments).
		Where(squirrel.Eq{"tenant_id": r.tenant, "collection": collection, "idc_id": id}).ToSql()
	if err != nil {
		return false, fmt.Errorf("sqlite: build delete: %w", err)
	}
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("sqlite: delete document: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlite: rows affected (delete document): %w", err)
	}
	return n > 0, nil
}

func (r *DocumentRepo) FindDocuments(
	ctx context.Context,
	collection string,
	filter store.Filter,
	limit int,
) ([]core.Document, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	sb := builder().Select("body").From(tableDocuments).
		Where(squirrel.Eq{"tenant_id": r.tenant, "collection": collection}).
		OrderBy("created_at", "idc_id")
	for key, value := range filter {
		switch value.(type) {
		case map[string]any, []any:
			return nil, fmt.Errorf("sqlite: filter on %s must be a scalar", key)
		}
		sb = sb.Where(squirrel.Expr("json_extract(body, ?) = ?", jsonPath(key), value))
	}
	if limit > 0 {
		sb = sb.Limit(uint64(limit))
	}
	query, args, err := sb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("sqlite: build find query: %w", err)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: find documents: %w", err)
	}
	defer rows.Close()
	var out []core.Document
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("sqlite: scan document: %w", err)
		}
		doc, err := store.DecodeDocument(body)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iter documents: %w", err)
	}
	return out, nil
}

func jsonPath(key string) string {
	var b strings.Builder
	b.WriteString("$")
	for _, part := range strings.Split(key, ".") {
		b.WriteString(`."`)
		b.WriteString(part)
		b.WriteString(`"`)
	}
	return b.String()
}

const latestWithVersionSQL = `
SELECT d.body, v.idc_id, v.document_idc_id, v.idc_version, v.from_idc_version,
       v.action_idc_id, v.document, v.created_at
FROM documents d
LEFT JOIN document_versions v
  ON v.tenant_id = d.tenant_id
 AND v.document_idc_id = d.idc_id
 AND v.idc_version = (
     SELECT MAX(idc_version) FROM document_versions
     WHERE tenant_id = d.tenant_id AND document_idc_id = d.idc_id
 )
WHERE d.tenant_id = ? AND d.collection = ? AND d.idc_id = ?`

func (r *DocumentRepo) LatestWithVersion(
	ctx context.Context,
	collection, id string,
) (core.Document, *core.VersionRecord, error) {
	var (
		body                      []byte
		vID, vDocID, vAction, vAt sql.NullString
		vVersion, vFrom           sql.NullInt64
		vDocument                 []byte
	)
	err := r.db.QueryRowContext(ctx, latestWithVersionSQL, r.tenant, collection, id).
		Scan(&body, &vID, &vDocID, &vVersion, &vFrom, &vAction, &vDocument, &vAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, fmt.Errorf("%w: %s", store.ErrNotFound, id)
		}
		return nil, nil, fmt.Errorf("sqlite: latest with version: %w", err)
	}
	doc, err := store.DecodeDocument(body)
	if err != nil {
		return nil, nil, err
	}
	if !vID.Valid {
		return doc, nil, nil
	}
	snapshot, err := store.DecodeDocument(vDocument)
	if err != nil {
		return nil, nil, err
	}
	return doc, &core.VersionRecord{
		IDCID:          vID.String,
		DocumentIDCID:  vDocID.String,
		IDCVersion:     vVersion.Int64,
		FromIDCVersion: vFrom.Int64,
		ActionIDCID:    vAction.String,
		Document:       snapshot,
		CreatedAt:      parseStoredTime(vAt.String),
	}, nil
}

func (r *DocumentRepo) selectVersions() squirrel.SelectBuilder {
	return builder().Select(versionColumns...).From(tableVersions).Where(squirrel.Eq{"tenant_id": r.tenant})
}

func (r *DocumentRepo) queryVersions(ctx context.Context, q querier, sb squirrel.SelectBuilder) ([]*core.VersionRecord, error) {
	query, args, err := sb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("sqlite: build version query: %w", err)
	}
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query versions: %w", err)
	}
	defer rows.Close()
	var out []*core.VersionRecord
	for rows.Next() {
		var (
			rec       core.VersionRecord
			document  []byte
			createdAt string
		)
		if err := rows.Scan(
			&rec.IDCID, &rec.DocumentIDCID, &rec.IDCVersion, &rec.FromIDCVersion,
			&rec.ActionIDCID, &document, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("sqlite: scan version: %w", err)
		}
		if rec.Document, err = store.DecodeDocument(document); err != nil {
			return nil, err
		}
		rec.CreatedAt = parseStoredTime(createdAt)
		out = append(out, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iter versions: %w", err)
	}
	return out, nil
}

func (r *DocumentRepo) firstVersion(ctx context.Context, sb squirrel.SelectBuilder, what string) (*core.VersionRecord, error) {
	recs, err := r.queryVersions(ctx, r.db, sb.Limit(1))
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("%w: %s", store.ErrNotFound, what)
	}
	return recs[0], nil
}

func (r *DocumentRepo) LatestVersion(ctx context.Context, documentID string) (*core.VersionRecord, error) {
	sb := r.selectVersions().Where(squirrel.Eq{"document_idc_id": documentID}).OrderBy("idc_version DESC")
	return r.firstVersion(ctx, sb, documentID)
}

func (r *DocumentRepo) GetVersion(ctx context.Context, documentID string, version int64) (*core.VersionRecord, error) {
	sb := r.selectVersions().Where(squirrel.Eq{"document_idc_id": documentID, "idc_version": version})
	return r.firstVersion(ctx, sb, fmt.Sprintf("%s@%d", documentID, version))
}

func (r *DocumentRepo) ListVersions(ctx context.Context, documentID string) ([]*core.VersionRecord, error) {
	sb := r.selectVersions().Where(squirrel.Eq{"document_idc_id": documentID}).OrderBy("idc_version ASC")
	return r.queryVersions(ctx, r.db, sb)
}

func (r *DocumentRepo) UpsertVersion(ctx context.Context, rec *core.VersionRecord) (*core.VersionRecord, error) {
	document, err := store.EncodeJSON(rec.Document)
	if err != nil {
		return nil, err
	}
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = r.now()
	}
	query, args, err := builder().Insert(tableVersions).
		Columns(append([]string{"tenant_id"}, versionColumns...)...).
		Values(r.tenant, rec.IDCID, rec.DocumentIDCID, rec.IDCVersion, rec.FromIDCVersion,
			rec.ActionIDCID, string(document), formatTime(createdAt)).
		Suffix("ON CONFLICT (tenant_id, document_idc_id, idc_version) DO NOTHING").ToSql()
	if err != nil {
		return nil, fmt.Errorf("sqlite: build version upsert: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("sqlite: upsert version: %w", err)
	}
	return r.GetVersion(ctx, rec.DocumentIDCID, rec.IDCVersion)
}

func (r *DocumentRepo) DeleteVersion(ctx context.Context, versionID string) error {
	query, args, err := builder().Delete(tableVersions).
		Where(squirrel.Eq{"tenant_id": r.tenant, "idc_id": versionID}).ToSql()
	if err != nil {
		return fmt.Errorf("sqlite: build version delete: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("sqlite: delete version: %w", err)
	}
	return nil
}

func (r *DocumentRepo) InsertAction(ctx context.Context, rec *core.ActionRecord) error {
	definition, err := store.EncodeJSON(rec.ActionDefinition)
	if err != nil {
		return err
	}
	metrics, err := store.EncodeJSON(rec.ActionMetrics)
	if err != nil {
		return err
	}
	tasksMetrics, err := store.EncodeJSON(rec.TasksMetrics)
	if err != nil {
		return err
	}
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = r.now()
	}
	query, args, err := builder().Insert(tableActions).
		Columns("tenant_id", "idc_id", "action_definition", "action_metrics", "tasks_metrics", "created_at").
		Values(r.tenant, rec.IDCID, string(definition), string(metrics), string(tasksMetrics), formatTime(createdAt)).
		ToSql()
	if err != nil {
		return fmt.Errorf("sqlite: build action insert: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		if isConstraintError(err) {
			return fmt.Errorf("%w: %s", store.ErrDuplicate, rec.IDCID)
		}
		return fmt.Errorf("sqlite: insert action: %w", err)
	}
	return nil
}

func (r *DocumentRepo) GetAction(ctx context.Context, id string) (*core.ActionRecord, error) {
	query, args, err := builder().
		Select("idc_id", "action_definition", "action_metrics", "tasks_metrics", "created_at").
		From(tableActions).Where(squirrel.Eq{"tenant_id": r.tenant, "idc_id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("sqlite: build action query: %w", err)
	}
	var (
		rec                               core.ActionRecord
		definition, metrics, tasksMetrics []byte
		createdAt                         string
	)
	if err := r.db.QueryRowContext(ctx, query, args...).
		Scan(&rec.IDCID, &definition, &metrics, &tasksMetrics, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", store.ErrNotFound, id)
		}
		return nil, fmt.Errorf("sqlite: get action: %w", err)
	}
	if rec.ActionDefinition, err = store.DecodeMap(definition); err != nil {
		return nil, err
	}
	if rec.ActionMetrics, err = store.DecodeMap(metrics); err != nil {
		return nil, err
	}
	if rec.TasksMetrics, err = store.DecodeMap(tasksMetrics); err != nil {
		return nil, err
	}
	rec.CreatedAt = parseStoredTime(createdAt)
	return &rec, nil
}
