package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/idc-core/idc/engine/core"
	"github.com/idc-core/idc/engine/infra/store"
	"github.com/idc-core/idc/pkg/logger"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const uniqueViolation = "23505"

// DB is the subset of pgxpool.Pool used by the repository. pgxmock satisfies it.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

type documentRow struct {
	Body []byte `db:"body"`
}

type versionRow struct {
	IDCID          string    `db:"idc_id"`
	DocumentIDCID  string    `db:"document_idc_id"`
	IDCVersion     int64     `db:"idc_version"`
	FromIDCVersion int64     `db:"from_idc_version"`
	ActionIDCID    string    `db:"action_idc_id"`
	Document       []byte    `db:"document"`
	CreatedAt      time.Time `db:"created_at"`
}

func (r *versionRow) toRecord() (*core.VersionRecord, error) {
	doc, err := store.DecodeDocument(r.Document)
	if err != nil {
		return nil, err
	}
	return &core.VersionRecord{
		IDCID:          r.IDCID,
		DocumentIDCID:  r.DocumentIDCID,
		IDCVersion:     r.IDCVersion,
		FromIDCVersion: r.FromIDCVersion,
		ActionIDCID:    r.ActionIDCID,
		Document:       doc,
		CreatedAt:      r.CreatedAt,
	}, nil
}

type latestRow struct {
	Body           []byte     `db:"body"`
	VersionID      *string    `db:"version_idc_id"`
	DocumentIDCID  *string    `db:"document_idc_id"`
	IDCVersion     *int64     `db:"idc_version"`
	FromIDCVersion *int64     `db:"from_idc_version"`
	ActionIDCID    *string    `db:"action_idc_id"`
	Document       []byte     `db:"document"`
	CreatedAt      *time.Time `db:"created_at"`
}

type actionRow struct {
	IDCID            string    `db:"idc_id"`
	ActionDefinition []byte    `db:"action_definition"`
	ActionMetrics    []byte    `db:"action_metrics"`
	TasksMetrics     []byte    `db:"tasks_metrics"`
	CreatedAt        time.Time `db:"created_at"`
}

var versionColumns = []string{
	"idc_id", "document_idc_id", "idc_version", "from_idc_version", "action_idc_id", "document", "created_at",
}

const latestWithVersionQuery = "SELECT d.body, v.idc_id AS version_idc_id, v.document_idc_id, v.idc_version, " +
	"v.from_idc_version, v.action_idc_id, v.document, v.created_at " +
	"FROM documents d " +
	"LEFT JOIN LATERAL (" +
	"SELECT * FROM document_versions dv " +
	"WHERE dv.tenant_id = d.tenant_id AND dv.document_idc_id = d.idc_id " +
	"ORDER BY dv.idc_version DESC LIMIT 1" +
	") v ON TRUE " +
	"WHERE d.tenant_id = $1 AND d.collection = $2 AND d.idc_id = $3"

// DocumentRepo implements store.TenantStore on PostgreSQL for one tenant.
type DocumentRepo struct {
	db     DB
	tenant string
	clock  func() time.Time
}

var _ store.TenantStore = (*DocumentRepo)(nil)

func NewDocumentRepo(db DB, tenant string, clock func() time.Time) *DocumentRepo {
	if clock == nil {
		clock = time.Now
	}
	return &DocumentRepo{db: db, tenant: tenant, clock: clock}
}

func (r *DocumentRepo) ClientID() string { return r.tenant }

func psql() squirrel.StatementBuilderType {
	return squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows) || pgxscan.NotFound(err)
}

func (r *DocumentRepo) withTransaction(ctx context.Context, fn func(pgx.Tx) error) (err error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				logger.FromContext(ctx).Warn("Transaction rollback failed after panic", "error", rbErr)
			}
			panic(p)
		} else if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				logger.FromContext(ctx).Warn("Transaction rollback failed", "error", rbErr)
			}
		} else {
			err = tx.Commit(ctx)
		}
	}()
	err = fn(tx)
	return err
}

func (r *DocumentRepo) Exists(ctx context.Context, collection, id string) (bool, error) {
	sb := psql().Select("1").Where(squirrel.Eq{"tenant_id": r.tenant, "idc_id": id})
	switch collection {
	case core.ActionsCollection:
		sb = sb.From("actions")
	case core.VersionsCollection:
		sb = sb.From("document_versions")
	default:
		sb = sb.From("documents").Where(squirrel.Eq{"collection": collection})
	}
	inner, args, err := sb.ToSql()
	if err != nil {
		return false, fmt.Errorf("building exists query: %w", err)
	}
	var exists bool
	if err := r.db.QueryRow(ctx, "SELECT EXISTS ("+inner+")", args...).Scan(&exists); err != nil {
		return false, fmt.Errorf("checking existence: %w", err)
	}
	return exists, nil
}

func (r *DocumentRepo) GetDocument(ctx context.Context, collection, id string) (core.Document, error) {
	query, args, err := psql().Select("body").From("documents").
		Where(squirrel.Eq{"tenant_id": r.tenant, "collection": collection, "idc_id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("building get query: %w", err)
	}
	return r.getDocument(ctx, r.db, query, args, id)
}

func (r *DocumentRepo) getDocument(
	ctx context.Context,
	q pgxscan.Querier,
	query string,
	args []any,
	id string,
) (core.Document, error) {
	var row documentRow
	if err := pgxscan.Get(ctx, q, &row, query, args...); err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("%w: %s", store.ErrNotFound, id)
		}
		return nil, fmt.Errorf("scanning document: %w", err)
	}
	return store.DecodeDocument(row.Body)
}

func (r *DocumentRepo) InsertDocument(ctx context.Context, collection string, doc core.Document) error {
	body, err := store.EncodeJSON(doc)
	if err != nil {
		return err
	}
	created, updated := store.DocumentTimes(doc, r.clock())
	query, args, err := psql().Insert("documents").
		Columns("tenant_id", "collection", "idc_id", "body", "created_at", "updated_at").
		Values(r.tenant, collection, doc.ID(), body, created, updated).ToSql()
	if err != nil {
		return fmt.Errorf("building insert: %w", err)
	}
	if _, err := r.db.Exec(ctx, query, args...); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", store.ErrDuplicate, doc.ID())
		}
		return fmt.Errorf("inserting document: %w", err)
	}
	return nil
}

func (r *DocumentRepo) FindAndUpdate(
	ctx context.Context,
	collection, id string,
	fn store.UpdateFunc,
) (core.Document, error) {
	var result core.Document
	err := r.withTransaction(ctx, func(tx pgx.Tx) error {
		query, args, err := psql().Select("body").From("documents").
			Where(squirrel.Eq{"tenant_id": r.tenant, "collection": collection, "idc_id": id}).
			Suffix("FOR UPDATE").ToSql()
		if err != nil {
			return fmt.Errorf("building select for update: %w", err)
		}
		current, err := r.getDocument(ctx, tx, query, args, id)
		if err != nil {
			return err
		}
		next, err := fn(current)
		if err != nil {
			return err
		}
		body, err := store.EncodeJSON(next)
		if err != nil {
			return err
		}
		_, updated := store.DocumentTimes(next, r.clock())
		update, uargs, err := psql().Update("documents").
			Set("body", body).
			Set("updated_at", updated).
			Where(squirrel.Eq{"tenant_id": r.tenant, "collection": collection, "idc_id": id}).ToSql()
		if err != nil {
			return fmt.Errorf("building update: %w", err)
		}
		if _, err := tx.Exec(ctx, update, uargs...); err != nil {
			return fmt.Errorf("updating document: %w", err)
		}
		result = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (r *DocumentRepo) ReplaceDocument(ctx context.Context, collection string, doc core.Document) error {
	body, err := store.EncodeJSON(doc)
	if err != nil {
		return err
	}
	created, updated := store.DocumentTimes(doc, r.clock())
	query, args, err := psql().Insert("documents").
		Columns("tenant_id", "collection", "idc_id", "body", "created_at", "updated_at").
		Values(r.tenant, collection, doc.ID(), body, created, updated).
		Suffix("ON CONFLICT (tenant_id, idc_id) DO UPDATE SET " +
			"collection = EXCLUDED.collection, body = EXCLUDED.body, updated_at = EXCLUDED.updated_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("building replace: %w", err)
	}
	if _, err := r.db.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("replacing document: %w", err)
	}
	return nil
}

func (r *DocumentRepo) DeleteDocument(ctx context.Context, collection, id string) (bool, error) {
	query, args, err := psql().Delete("documents").
		Where(squirrel.Eq{"tenant_id": r.tenant, "collection": collection, "idc_id": id}).ToSql()
	if err != nil {
		return false, fmt.Errorf("building delete: %w", err)
	}
	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("deleting document: %w", err)
	}
	return tag.RowsAffected() > 0, nil
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
	sb := psql().Select("body").From("documents").
		Where(squirrel.Eq{"tenant_id": r.tenant, "collection": collection}).
		OrderBy("created_at", "idc_id")
	if len(filter) > 0 {
		containment, err := store.EncodeJSON(store.NestFilter(filter))
		if err != nil {
			return nil, err
		}
		sb = sb.Where("body @> ?::jsonb", containment)
	}
	if limit > 0 {
		sb = sb.Limit(uint64(limit))
	}
	query, args, err := sb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building find query: %w", err)
	}
	var rows []documentRow
	if err := pgxscan.Select(ctx, r.db, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("scanning documents: %w", err)
	}
	out := make([]core.Document, 0, len(rows))
	for i := range rows {
		doc, err := store.DecodeDocument(rows[i].Body)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, nil
}

func (r *DocumentRepo) LatestWithVersion(
	ctx context.Context,
	collection, id string,
) (core.Document, *core.VersionRecord, error) {
	var row latestRow
	if err := pgxscan.Get(ctx, r.db, &row, latestWithVersionQuery, r.tenant, collection, id); err != nil {
		if isNoRows(err) {
			return nil, nil, fmt.Errorf("%w: %s", store.ErrNotFound, id)
		}
		return nil, nil, fmt.Errorf("scanning latest with version: %w", err)
	}
	doc, err := store.DecodeDocument(row.Body)
	if err != nil {
		return nil, nil, err
	}
	if row.VersionID == nil {
		return doc, nil, nil
	}
	vr := versionRow{IDCID: *row.VersionID, Document: row.Document}
	if row.DocumentIDCID != nil {
		vr.DocumentIDCID = *row.DocumentIDCID
	}
	if row.IDCVersion != nil {
		vr.IDCVersion = *row.IDCVersion
	}
	if row.FromIDCVersion != nil {
		vr.FromIDCVersion = *row.FromIDCVersion
	}
	if row.ActionIDCID != nil {
		vr.ActionIDCID = *row.ActionIDCID
	}
	if row.CreatedAt != nil {
		vr.CreatedAt = *row.CreatedAt
	}
	rec, err := vr.toRecord()
	if err != nil {
		return nil, nil, err
	}
	return doc, rec, nil
}

func (r *DocumentRepo) selectVersions() squirrel.SelectBuilder {
	return psql().Select(versionColumns...).From("document_versions").Where(squirrel.Eq{"tenant_id": r.tenant})
}

func (r *DocumentRepo) getVersion(ctx context.Context, sb squirrel.SelectBuilder, what string) (*core.VersionRecord, error) {
	query, args, err := sb.Limit(1).ToSql()
	if err != nil {
		return nil, fmt.Errorf("building version query: %w", err)
	}
	var row versionRow
	if err := pgxscan.Get(ctx, r.db, &row, query, args...); err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("%w: %s", store.ErrNotFound, what)
		}
		return nil, fmt.Errorf("scanning version: %w", err)
	}
	return row.toRecord()
}

func (r *DocumentRepo) LatestVersion(ctx context.Context, documentID string) (*core.VersionRecord, error) {
	sb := r.selectVersions().Where(squirrel.Eq{"document_idc_id": documentID}).OrderBy("idc_version DESC")
	return r.getVersion(ctx, sb, documentID)
}

func (r *DocumentRepo) GetVersion(ctx context.Context, documentID string, version int64) (*core.VersionRecord, error) {
	sb := r.selectVersions().Where(squirrel.Eq{"document_idc_id": documentID, "idc_version": version})
	return r.getVersion(ctx, sb, fmt.Sprintf("%s@%d", documentID, version))
}

func (r *DocumentRepo) ListVersions(ctx context.Context, documentID string) ([]*core.VersionRecord, error) {
	query, args, err := r.selectVersions().
		Where(squirrel.Eq{"document_idc_id": documentID}).
		OrderBy("idc_version ASC").ToSql()
	if err != nil {
		return nil, fmt.Errorf("building version list: %w", err)
	}
	var rows []versionRow
	if err := pgxscan.Select(ctx, r.db, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("scanning versions: %w", err)
	}
	out := make([]*core.VersionRecord, 0, len(rows))
	for i := range rows {
		rec, err := rows[i].toRecord()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (r *DocumentRepo) UpsertVersion(ctx context.Context, rec *core.VersionRecord) (*core.VersionRecord, error) {
	document, err := store.EncodeJSON(rec.Document)
	if err != nil {
		return nil, err
	}
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = r.clock().UTC()
	}
	query, args, err := psql().Insert("document_versions").
		Columns(append([]string{"tenant_id"}, versionColumns...)...).
		Values(r.tenant, rec.IDCID, rec.DocumentIDCID, rec.IDCVersion, rec.FromIDCVersion,
			rec.ActionIDCID, document, createdAt).
		Suffix("ON CONFLICT ON CONSTRAINT uq_document_versions DO NOTHING").ToSql()
	if err != nil {
		return nil, fmt.Errorf("building version upsert: %w", err)
	}
	if _, err := r.db.Exec(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("upserting version: %w", err)
	}
	return r.GetVersion(ctx, rec.DocumentIDCID, rec.IDCVersion)
}

func (r *DocumentRepo) DeleteVersion(ctx context.Context, versionID string) error {
	query, args, err := psql().Delete("document_versions").
		Where(squirrel.Eq{"tenant_id": r.tenant, "idc_id": versionID}).ToSql()
	if err != nil {
		return fmt.Errorf("building version delete: %w", err)
	}
	if _, err := r.db.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("deleting version: %w", err)
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
		createdAt = r.clock().UTC()
	}
	query, args, err := psql().Insert("actions").
		Columns("tenant_id", "idc_id", "action_definition", "action_metrics", "tasks_metrics", "created_at").
		Values(r.tenant, rec.IDCID, definition, metrics, tasksMetrics, createdAt).ToSql()
	if err != nil {
		return fmt.Errorf("building action insert: %w", err)
	}
	if _, err := r.db.Exec(ctx, query, args...); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", store.ErrDuplicate, rec.IDCID)
		}
		return fmt.Errorf("inserting action: %w", err)
	}
	return nil
}

func (r *DocumentRepo) GetAction(ctx context.Context, id string) (*core.ActionRecord, error) {
	query, args, err := psql().
		Select("idc_id", "action_definition", "action_metrics", "tasks_metrics", "created_at").
		From("actions").Where(squirrel.Eq{"tenant_id": r.tenant, "idc_id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("building action query: %w", err)
	}
	var row actionRow
	if err := pgxscan.Get(ctx, r.db, &row, query, args...); err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("%w: %s", store.ErrNotFound, id)
		}
		return nil, fmt.Errorf("scanning action: %w", err)
	}
	rec := &core.ActionRecord{IDCID: row.IDCID, CreatedAt: row.CreatedAt}
	if rec.ActionDefinition, err = store.DecodeMap(row.ActionDefinition); err != nil {
		return nil, err
	}
	if rec.ActionMetrics, err = store.DecodeMap(row.ActionMetrics); err != nil {
		return nil, err
	}
	if rec.TasksMetrics, err = store.DecodeMap(row.TasksMetrics); err != nil {
		return nil, err
	}
	return rec, nil
}
