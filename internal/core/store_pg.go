package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	pgUniqueViolation = "23505"
	revokeOnceIndex   = "ux_audit_revoke_once"
)

var revenueDBColumns = []string{
	"id", "batch_key", "fiscal_year", "month", "posting_date",
	"economic_category", "origin", "species", "heading", "subheading",
	"funding_source", "forecast_initial", "forecast_updated", "collected",
	"note", "source_line", "imported_at",
}

var (
	revenueSelect = selectList(revenueDBColumns)
	auditSelect   = "id, actor, action, entity_type, entity_id, snapshot_before, snapshot_after, " +
		"origin_address, user_agent, prev_hash, hash, created_at"
)

func selectList(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = quoteIdentifier(c)
	}
	return strings.Join(quoted, ", ")
}

// PgStore is the PostgreSQL Store.
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore wraps a connection pool.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// InTx runs fn in a read-committed transaction. The transaction is rolled
// back when fn fails or ctx is cancelled before commit.
func (s *PgStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *PgStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PgStore) RevenueByID(ctx context.Context, id int64) (*Revenue, error) {
	return revenueByID(ctx, s.pool, id, false)
}

func (s *PgStore) RevenuesByBatch(ctx context.Context, batchKey string) ([]Revenue, error) {
	return revenuesByBatch(ctx, s.pool, batchKey, false)
}

func (s *PgStore) Batch(ctx context.Context, key string) (*Batch, error) {
	var b Batch
	err := s.pool.QueryRow(ctx, `
		SELECT batch_key, entity_type, file_name, row_count, created_by, created_at, revoked_at
		FROM import_batches WHERE batch_key = $1`, key,
	).Scan(&b.Key, &b.EntityType, &b.FileName, &b.RowCount, &b.CreatedBy, &b.CreatedAt, &b.RevokedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrBatchNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("get batch: %w", err)
	}
	b.CreatedAt = b.CreatedAt.UTC()
	return &b, nil
}

func (s *PgStore) QueryAudit(ctx context.Context, f AuditFilter, limit, offset int) ([]AuditEntry, int64, error) {
	wb := NewWhereBuilder()
	wb.Add("entity_type", f.EntityType)
	wb.Add("action", string(f.Action))
	wb.Add("entity_id", f.EntityID)
	wb.AddILike("actor", f.Operator)
	wb.AddTimestampRange("created_at", f.From, f.To)
	whereClause, args := wb.Build()

	var total int64
	if err := s.pool.QueryRow(ctx, "SELECT count(*) FROM audit_entries"+whereClause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count audit entries: %w", err)
	}
	if total == 0 {
		return []AuditEntry{}, 0, nil
	}

	idx := wb.NextArgIndex()
	query := fmt.Sprintf(
		"SELECT %s FROM audit_entries%s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d",
		auditSelect, whereClause, idx, idx+1,
	)
	entries, err := queryAudit(ctx, s.pool, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

func (s *PgStore) AuditEntryByID(ctx context.Context, id int64) (*AuditEntry, error) {
	entries, err := queryAudit(ctx, s.pool, "SELECT "+auditSelect+" FROM audit_entries WHERE id = $1", id)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: %d", ErrAuditNotFound, id)
	}
	return &entries[0], nil
}

func (s *PgStore) AuditStream(ctx context.Context, entityType, entityID string) ([]AuditEntry, error) {
	return queryAudit(ctx, s.pool,
		"SELECT "+auditSelect+" FROM audit_entries WHERE entity_type = $1 AND entity_id = $2 ORDER BY id",
		entityType, entityID)
}

func (s *PgStore) AuditAfter(ctx context.Context, afterID int64, limit int) ([]AuditEntry, error) {
	return queryAudit(ctx, s.pool,
		"SELECT "+auditSelect+" FROM audit_entries WHERE id > $1 ORDER BY id LIMIT $2",
		afterID, limit)
}

// RevokedBatchKeys is served by the partial unique index on REVOKE_BATCH
// entries, so older revocations are never missed.
func (s *PgStore) RevokedBatchKeys(ctx context.Context, entityType string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT entity_id FROM audit_entries
		WHERE entity_type = $1 AND action = 'REVOKE_BATCH'
		ORDER BY entity_id`, entityType)
	if err != nil {
		return nil, fmt.Errorf("query revoked batches: %w", err)
	}
	keys, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan revoked batches: %w", err)
	}
	if keys == nil {
		keys = []string{}
	}
	return keys, nil
}

func (s *PgStore) LastExportedID(ctx context.Context) (int64, error) {
	var id int64
	if err := s.pool.QueryRow(ctx, "SELECT COALESCE(MAX(to_id), 0) FROM ledger_exports").Scan(&id); err != nil {
		return 0, fmt.Errorf("last exported id: %w", err)
	}
	return id, nil
}

func (s *PgStore) RecordExport(ctx context.Context, e LedgerExport) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO ledger_exports (from_id, to_id, object_key, entry_count, exported_at)
		VALUES ($1, $2, $3, $4, $5)`,
		e.FromID, e.ToID, e.ObjectKey, e.EntryCount, e.ExportedAt)
	if err != nil {
		return fmt.Errorf("record export: %w", err)
	}
	return nil
}

// pgTx implements Tx over one pgx transaction.
type pgTx struct {
	tx pgx.Tx
}

func advisoryLock(ctx context.Context, q DBTX, key string) error {
	_, err := q.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtextextended($1, 0))", key)
	return err
}

func (t *pgTx) LockBatch(ctx context.Context, entityType, batchKey string) error {
	return advisoryLock(ctx, t.tx, "batch:"+entityType+"/"+batchKey)
}

func (t *pgTx) LockStream(ctx context.Context, entityType, entityID string) error {
	return advisoryLock(ctx, t.tx, "stream:"+entityType+"/"+entityID)
}

func (t *pgTx) LastHash(ctx context.Context, entityType, entityID string) (string, error) {
	var hash string
	err := t.tx.QueryRow(ctx, `
		SELECT hash FROM audit_entries
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY id DESC LIMIT 1`, entityType, entityID).Scan(&hash)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	return hash, err
}

func (t *pgTx) InsertAuditEntry(ctx context.Context, e *AuditEntry) (int64, error) {
	before, err := snapshotParam(e.SnapshotBefore)
	if err != nil {
		return 0, err
	}
	after, err := snapshotParam(e.SnapshotAfter)
	if err != nil {
		return 0, err
	}

	var id int64
	err = t.tx.QueryRow(ctx, `
		INSERT INTO audit_entries
			(actor, action, entity_type, entity_id, snapshot_before, snapshot_after,
			 origin_address, user_agent, prev_hash, hash, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`,
		e.Actor, string(e.Action), e.EntityType, e.EntityID, before, after,
		e.OriginAddress, e.UserAgent, e.PrevHash, e.Hash, e.Timestamp,
	).Scan(&id)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation && pgErr.ConstraintName == revokeOnceIndex {
		return 0, fmt.Errorf("%w: %s", ErrAlreadyRevoked, e.EntityID)
	}
	return id, err
}

func (t *pgTx) HasRevocation(ctx context.Context, entityType, batchKey string) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM audit_entries
			WHERE entity_type = $1 AND entity_id = $2 AND action = 'REVOKE_BATCH'
		)`, entityType, batchKey).Scan(&exists)
	return exists, err
}

func (t *pgTx) CreateBatch(ctx context.Context, b Batch) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO import_batches (batch_key, entity_type, file_name, row_count, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		b.Key, b.EntityType, b.FileName, b.RowCount, b.CreatedBy, b.CreatedAt)
	if err != nil {
		return fmt.Errorf("create batch: %w", err)
	}
	return nil
}

func (t *pgTx) MarkBatchRevoked(ctx context.Context, batchKey string, at time.Time) error {
	_, err := t.tx.Exec(ctx, "UPDATE import_batches SET revoked_at = $2 WHERE batch_key = $1", batchKey, at)
	if err != nil {
		return fmt.Errorf("mark batch revoked: %w", err)
	}
	return nil
}

// InsertRevenues bulk loads rows with COPY.
func (t *pgTx) InsertRevenues(ctx context.Context, rows []Revenue) (int64, error) {
	cols := revenueDBColumns[1:] // id is generated
	n, err := t.tx.CopyFrom(ctx, pgx.Identifier{"revenues"}, cols,
		pgx.CopyFromSlice(len(rows), func(i int) ([]any, error) {
			r := rows[i]
			return []any{
				r.BatchKey, r.FiscalYear, r.Month, r.PostingDate,
				r.EconomicCategory, r.Origin, r.Species, r.Heading, r.Subheading,
				r.FundingSource, ToPgNumeric(r.ForecastInitial), ToPgNumeric(r.ForecastUpdated),
				ToPgNumeric(r.Collected), r.Note, r.SourceLine, r.ImportedAt,
			}, nil
		}))
	if err != nil {
		return 0, fmt.Errorf("copy revenues: %w", err)
	}
	return n, nil
}

func (t *pgTx) UpdateRevenue(ctx context.Context, r Revenue) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE revenues SET
			fiscal_year = $2, month = $3, posting_date = $4, economic_category = $5,
			origin = $6, species = $7, heading = $8, subheading = $9, funding_source = $10,
			forecast_initial = $11, forecast_updated = $12, collected = $13, note = $14
		WHERE id = $1`,
		r.ID, r.FiscalYear, r.Month, r.PostingDate, r.EconomicCategory,
		r.Origin, r.Species, r.Heading, r.Subheading, r.FundingSource,
		ToPgNumeric(r.ForecastInitial), ToPgNumeric(r.ForecastUpdated), ToPgNumeric(r.Collected), r.Note)
	if err != nil {
		return fmt.Errorf("update revenue: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %d", ErrRecordNotFound, r.ID)
	}
	return nil
}

func (t *pgTx) DeleteRevenue(ctx context.Context, id int64) error {
	tag, err := t.tx.Exec(ctx, "DELETE FROM revenues WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete revenue: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %d", ErrRecordNotFound, id)
	}
	return nil
}

func (t *pgTx) DeleteRevenueBatch(ctx context.Context, batchKey string) (int64, error) {
	tag, err := t.tx.Exec(ctx, "DELETE FROM revenues WHERE batch_key = $1", batchKey)
	if err != nil {
		return 0, fmt.Errorf("delete batch rows: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (t *pgTx) RevenueByID(ctx context.Context, id int64) (*Revenue, error) {
	return revenueByID(ctx, t.tx, id, true)
}

func (t *pgTx) RevenuesByBatch(ctx context.Context, batchKey string) ([]Revenue, error) {
	return revenuesByBatch(ctx, t.tx, batchKey, true)
}

func revenueByID(ctx context.Context, q DBTX, id int64, lock bool) (*Revenue, error) {
	query := "SELECT " + revenueSelect + " FROM revenues WHERE id = $1"
	if lock {
		query += " FOR UPDATE"
	}
	r, err := scanRevenue(q.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrRecordNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get revenue: %w", err)
	}
	return &r, nil
}

func revenuesByBatch(ctx context.Context, q DBTX, batchKey string, lock bool) ([]Revenue, error) {
	query := "SELECT " + revenueSelect + " FROM revenues WHERE batch_key = $1 ORDER BY id"
	if lock {
		query += " FOR UPDATE"
	}
	rows, err := q.Query(ctx, query, batchKey)
	if err != nil {
		return nil, fmt.Errorf("query batch rows: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Revenue, error) {
		return scanRevenue(row)
	})
	if err != nil {
		return nil, fmt.Errorf("scan batch rows: %w", err)
	}
	return out, nil
}

func scanRevenue(row pgx.Row) (Revenue, error) {
	var (
		r          Revenue
		fi, fu, cl pgtype.Numeric
	)
	err := row.Scan(
		&r.ID, &r.BatchKey, &r.FiscalYear, &r.Month, &r.PostingDate,
		&r.EconomicCategory, &r.Origin, &r.Species, &r.Heading, &r.Subheading,
		&r.FundingSource, &fi, &fu, &cl,
		&r.Note, &r.SourceLine, &r.ImportedAt,
	)
	if err != nil {
		return Revenue{}, err
	}
	r.ForecastInitial = FromPgNumeric(fi)
	r.ForecastUpdated = FromPgNumeric(fu)
	r.Collected = FromPgNumeric(cl)
	r.PostingDate = r.PostingDate.UTC()
	r.ImportedAt = r.ImportedAt.UTC()
	return r, nil
}

func queryAudit(ctx context.Context, q DBTX, query string, args ...any) ([]AuditEntry, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (AuditEntry, error) {
		return scanAudit(row)
	})
	if err != nil {
		return nil, fmt.Errorf("scan audit entries: %w", err)
	}
	if out == nil {
		out = []AuditEntry{}
	}
	return out, nil
}

func scanAudit(row pgx.Row) (AuditEntry, error) {
	var (
		e             AuditEntry
		action        string
		before, after []byte
	)
	err := row.Scan(
		&e.ID, &e.Actor, &action, &e.EntityType, &e.EntityID, &before, &after,
		&e.OriginAddress, &e.UserAgent, &e.PrevHash, &e.Hash, &e.Timestamp,
	)
	if err != nil {
		return AuditEntry{}, err
	}
	e.Action = AuditAction(action)
	e.Timestamp = e.Timestamp.UTC()

	if e.SnapshotBefore, err = decodeSnapshot(before); err != nil {
		return AuditEntry{}, err
	}
	if e.SnapshotAfter, err = decodeSnapshot(after); err != nil {
		return AuditEntry{}, err
	}
	return e, nil
}

func snapshotParam(s *Snapshot) (any, error) {
	if s == nil {
		return nil, nil
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return raw, nil
}

// decodeSnapshot reads a JSONB column back into canonical form.
func decodeSnapshot(raw []byte) (*Snapshot, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var s Snapshot
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return s.Canonical()
}
