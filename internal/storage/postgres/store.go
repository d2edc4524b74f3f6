// Package postgres provides the Postgres-backed registry and history store.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/sitewatch/internal/watch"
)

// Schema creates the tables used by Store. It is idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS resources (
	id BIGSERIAL PRIMARY KEY,
	url TEXT NOT NULL UNIQUE,
	interval_secs BIGINT NOT NULL,
	policy TEXT NOT NULL,
	last_checked_at TIMESTAMPTZ,
	last_changed_at TIMESTAMPTZ,
	status TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS fetch_records (
	id BIGSERIAL PRIMARY KEY,
	resource_id BIGINT NOT NULL REFERENCES resources(id) ON DELETE CASCADE,
	fetched_at TIMESTAMPTZ NOT NULL,
	fingerprint TEXT NOT NULL,
	body TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS fetch_records_resource_idx ON fetch_records (resource_id, id DESC);
`

// clearTables empties both tables. The id sequences continue, so IDs are
// never handed out twice.
const clearTables = `TRUNCATE TABLE fetch_records, resources`

const uniqueViolation = "23505"

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	Retention       int
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

type scanner interface {
	Scan(dest ...any) error
}

// Store implements watch.Store on Postgres.
type Store struct {
	pool      pool
	retention int
}

// New connects to Postgres using cfg.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("storage.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return NewWithPool(p, cfg.Retention)
}

// NewWithPool constructs a Store from an existing pool (primarily for testing).
func NewWithPool(p pool, retention int) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if retention <= 0 {
		return nil, fmt.Errorf("retention must be > 0")
	}
	return &Store{pool: p, retention: retention}, nil
}

// Migrate applies Schema.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Reset removes every resource and record.
func (s *Store) Reset(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, clearTables); err != nil {
		return fmt.Errorf("clear tables: %w", err)
	}
	return nil
}

// Close releases the underlying pool.
func (s *Store) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

const resourceColumns = `id, url, interval_secs, policy, last_checked_at, last_changed_at, status`

// ListResources returns every resource ordered by id.
func (s *Store) ListResources(ctx context.Context) ([]watch.Resource, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+resourceColumns+` FROM resources ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list resources: %w: %w", watch.ErrStorage, err)
	}
	defer rows.Close()

	var out []watch.Resource
	for rows.Next() {
		res, err := scanResource(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate resources: %w: %w", watch.ErrStorage, err)
	}
	return out, nil
}

// GetResource returns one resource.
func (s *Store) GetResource(ctx context.Context, id int64) (watch.Resource, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+resourceColumns+` FROM resources WHERE id = $1`, id)
	res, err := scanResource(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return watch.Resource{}, fmt.Errorf("resource %d: %w", id, watch.ErrNotFound)
	}
	return res, err
}

// AddResource inserts res and returns it with its assigned id.
func (s *Store) AddResource(ctx context.Context, res watch.Resource) (watch.Resource, error) {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO resources (url, interval_secs, policy) VALUES ($1, $2, $3) RETURNING id`,
		res.URL, int64(res.Interval), string(res.Policy),
	).Scan(&res.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return watch.Resource{}, fmt.Errorf("resource %q: %w", res.URL, watch.ErrDuplicate)
		}
		return watch.Resource{}, fmt.Errorf("insert resource: %w: %w", watch.ErrStorage, err)
	}
	return res, nil
}

// DeleteResource removes a resource; its history goes with it.
func (s *Store) DeleteResource(ctx context.Context, id int64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin delete: %w: %w", watch.ErrStorage, err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM fetch_records WHERE resource_id = $1`, id); err != nil {
		_ = tx.Rollback(ctx)
		return fmt.Errorf("delete history: %w: %w", watch.ErrStorage, err)
	}
	tag, err := tx.Exec(ctx, `DELETE FROM resources WHERE id = $1`, id)
	if err != nil {
		_ = tx.Rollback(ctx)
		return fmt.Errorf("delete resource: %w: %w", watch.ErrStorage, err)
	}
	if tag.RowsAffected() == 0 {
		_ = tx.Rollback(ctx)
		return fmt.Errorf("resource %d: %w", id, watch.ErrNotFound)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit delete: %w: %w", watch.ErrStorage, err)
	}
	return nil
}

// MarkChecked records the check time and status.
func (s *Store) MarkChecked(ctx context.Context, id int64, at time.Time, status watch.Status) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE resources SET last_checked_at = $1, status = $2 WHERE id = $3`,
		at, string(status), id,
	)
	return updateResult("mark checked", id, tag, err)
}

// MarkChanged records the time of the latest detected change.
func (s *Store) MarkChanged(ctx context.Context, id int64, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `UPDATE resources SET last_changed_at = $1 WHERE id = $2`, at, id)
	return updateResult("mark changed", id, tag, err)
}

// Record appends rec and prunes the resource to the retention size in one
// transaction.
func (s *Store) Record(ctx context.Context, rec watch.FetchRecord) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin record: %w: %w", watch.ErrStorage, err)
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO fetch_records (resource_id, fetched_at, fingerprint, body) VALUES ($1, $2, $3, $4)`,
		rec.ResourceID, rec.FetchedAt, rec.Fingerprint, rec.Body,
	); err != nil {
		_ = tx.Rollback(ctx)
		return fmt.Errorf("insert record: %w: %w", watch.ErrStorage, err)
	}
	if _, err := tx.Exec(ctx, `
DELETE FROM fetch_records
WHERE resource_id = $1 AND id NOT IN (
	SELECT id FROM fetch_records WHERE resource_id = $1 ORDER BY id DESC LIMIT $2
)`, rec.ResourceID, s.retention); err != nil {
		_ = tx.Rollback(ctx)
		return fmt.Errorf("prune records: %w: %w", watch.ErrStorage, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit record: %w: %w", watch.ErrStorage, err)
	}
	return nil
}

// LatestFingerprint returns the newest fingerprint for a resource.
func (s *Store) LatestFingerprint(ctx context.Context, resourceID int64) (string, bool, error) {
	var fp string
	err := s.pool.QueryRow(ctx,
		`SELECT fingerprint FROM fetch_records WHERE resource_id = $1 ORDER BY id DESC LIMIT 1`,
		resourceID,
	).Scan(&fp)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("latest fingerprint: %w: %w", watch.ErrStorage, err)
	}
	return fp, true, nil
}

const recordColumns = `id, resource_id, fetched_at, fingerprint, body`

// LatestRecord returns the newest record for a resource.
func (s *Store) LatestRecord(ctx context.Context, resourceID int64) (watch.FetchRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM fetch_records WHERE resource_id = $1 ORDER BY id DESC LIMIT 1`,
		resourceID,
	)
	return scanRecordRow(row, resourceID)
}

// RecordAt returns the newest record fetched within the second of at.
func (s *Store) RecordAt(ctx context.Context, resourceID int64, at time.Time) (watch.FetchRecord, error) {
	lo := at.Truncate(time.Second)
	row := s.pool.QueryRow(ctx, `SELECT `+recordColumns+` FROM fetch_records
WHERE resource_id = $1 AND fetched_at >= $2 AND fetched_at < $3
ORDER BY id DESC LIMIT 1`, resourceID, lo, lo.Add(time.Second))
	return scanRecordRow(row, resourceID)
}

// ListRecords returns retained records newest first.
func (s *Store) ListRecords(ctx context.Context, resourceID int64) ([]watch.FetchRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+recordColumns+` FROM fetch_records WHERE resource_id = $1 ORDER BY id DESC`,
		resourceID,
	)
	if err != nil {
		return nil, fmt.Errorf("list records: %w: %w", watch.ErrStorage, err)
	}
	defer rows.Close()

	var out []watch.FetchRecord
	for rows.Next() {
		var rec watch.FetchRecord
		if err := rows.Scan(&rec.ID, &rec.ResourceID, &rec.FetchedAt, &rec.Fingerprint, &rec.Body); err != nil {
			return nil, fmt.Errorf("scan record: %w: %w", watch.ErrStorage, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w: %w", watch.ErrStorage, err)
	}
	return out, nil
}

func scanResource(row scanner) (watch.Resource, error) {
	var (
		res      watch.Resource
		interval int64
		policy   string
		status   string
	)
	err := row.Scan(&res.ID, &res.URL, &interval, &policy, &res.LastCheckedAt, &res.LastChangedAt, &status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return watch.Resource{}, err
		}
		return watch.Resource{}, fmt.Errorf("scan resource: %w: %w", watch.ErrStorage, err)
	}
	res.Interval = watch.Interval(interval)
	res.Policy = watch.ParsePolicy(policy)
	res.Status = watch.Status(status)
	return res, nil
}

func scanRecordRow(row scanner, resourceID int64) (watch.FetchRecord, error) {
	var rec watch.FetchRecord
	err := row.Scan(&rec.ID, &rec.ResourceID, &rec.FetchedAt, &rec.Fingerprint, &rec.Body)
	if errors.Is(err, pgx.ErrNoRows) {
		return watch.FetchRecord{}, fmt.Errorf("history of %d: %w", resourceID, watch.ErrNotFound)
	}
	if err != nil {
		return watch.FetchRecord{}, fmt.Errorf("scan record: %w: %w", watch.ErrStorage, err)
	}
	return rec, nil
}

func updateResult(op string, id int64, tag pgconn.CommandTag, err error) error {
	if err != nil {
		return fmt.Errorf("%s: %w: %w", op, watch.ErrStorage, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("resource %d: %w", id, watch.ErrNotFound)
	}
	return nil
}
