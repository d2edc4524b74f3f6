// Package sqlite provides a single-file registry and history store backed by
// the pure-Go SQLite driver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/JakeFAU/sitewatch/internal/watch"
)

// Schema creates the tables used by Store. Timestamps are unix nanoseconds.
const Schema = `
CREATE TABLE IF NOT EXISTS resources (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	url TEXT NOT NULL UNIQUE,
	interval_secs INTEGER NOT NULL,
	policy TEXT NOT NULL,
	last_checked_at INTEGER,
	last_changed_at INTEGER,
	status TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS fetch_records (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	resource_id INTEGER NOT NULL REFERENCES resources(id) ON DELETE CASCADE,
	fetched_at INTEGER NOT NULL,
	fingerprint TEXT NOT NULL,
	body TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS fetch_records_resource_idx ON fetch_records (resource_id, id);
`

// clearTables empties both tables. AUTOINCREMENT keeps the high-water mark
// in sqlite_sequence, so IDs are never handed out twice.
const clearTables = `DELETE FROM fetch_records; DELETE FROM resources;`

// Store implements watch.Store on SQLite.
type Store struct {
	db        *sql.DB
	retention int
	logger    *zap.Logger
}

// Open opens (creating if needed) the database at path and applies Schema.
func Open(ctx context.Context, path string, retention int, logger *zap.Logger) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("storage.sqlite_path is required")
	}
	if retention <= 0 {
		return nil, fmt.Errorf("retention must be > 0")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", dir, err)
		}
	}
	dsn := path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	s := &Store{db: db, retention: retention, logger: logger}
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	logger.Info("sqlite store ready", zap.String("path", path), zap.Int("retention", retention))
	return s, nil
}

// Migrate applies Schema.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Reset removes every resource and record.
func (s *Store) Reset(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, clearTables); err != nil {
		return fmt.Errorf("clear tables: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const resourceColumns = `id, url, interval_secs, policy, last_checked_at, last_changed_at, status`

// ListResources returns every resource ordered by id.
func (s *Store) ListResources(ctx context.Context) ([]watch.Resource, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+resourceColumns+` FROM resources ORDER BY id`)
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
	res, err := scanResource(s.db.QueryRowContext(ctx, `SELECT `+resourceColumns+` FROM resources WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return watch.Resource{}, fmt.Errorf("resource %d: %w", id, watch.ErrNotFound)
	}
	return res, err
}

// AddResource inserts res and returns it with its assigned id.
func (s *Store) AddResource(ctx context.Context, res watch.Resource) (watch.Resource, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO resources (url, interval_secs, policy) VALUES (?, ?, ?)`,
		res.URL, int64(res.Interval), string(res.Policy),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return watch.Resource{}, fmt.Errorf("resource %q: %w", res.URL, watch.ErrDuplicate)
		}
		return watch.Resource{}, fmt.Errorf("insert resource: %w: %w", watch.ErrStorage, err)
	}
	if res.ID, err = result.LastInsertId(); err != nil {
		return watch.Resource{}, fmt.Errorf("resource id: %w: %w", watch.ErrStorage, err)
	}
	return res, nil
}

// DeleteResource removes a resource and its history.
func (s *Store) DeleteResource(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete: %w: %w", watch.ErrStorage, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM fetch_records WHERE resource_id = ?`, id); err != nil {
		return fmt.Errorf("delete history: %w: %w", watch.ErrStorage, err)
	}
	result, err := tx.ExecContext(ctx, `DELETE FROM resources WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete resource: %w: %w", watch.ErrStorage, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("resource %d: %w", id, watch.ErrNotFound)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete: %w: %w", watch.ErrStorage, err)
	}
	return nil
}

// MarkChecked records the check time and status.
func (s *Store) MarkChecked(ctx context.Context, id int64, at time.Time, status watch.Status) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE resources SET last_checked_at = ?, status = ? WHERE id = ?`,
		at.UnixNano(), string(status), id,
	)
	return updateResult("mark checked", id, result, err)
}

// MarkChanged records the time of the latest detected change.
func (s *Store) MarkChanged(ctx context.Context, id int64, at time.Time) error {
	result, err := s.db.ExecContext(ctx, `UPDATE resources SET last_changed_at = ? WHERE id = ?`, at.UnixNano(), id)
	return updateResult("mark changed", id, result, err)
}

// Record appends rec and keeps only the newest records of the resource.
func (s *Store) Record(ctx context.Context, rec watch.FetchRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin record: %w: %w", watch.ErrStorage, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO fetch_records (resource_id, fetched_at, fingerprint, body) VALUES (?, ?, ?, ?)`,
		rec.ResourceID, rec.FetchedAt.UnixNano(), rec.Fingerprint, rec.Body,
	); err != nil {
		return fmt.Errorf("insert record: %w: %w", watch.ErrStorage, err)
	}
	if _, err := tx.ExecContext(ctx, `
DELETE FROM fetch_records WHERE id IN (
	SELECT id FROM fetch_records WHERE resource_id = ? ORDER BY id DESC LIMIT -1 OFFSET ?
)`, rec.ResourceID, s.retention); err != nil {
		return fmt.Errorf("prune records: %w: %w", watch.ErrStorage, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit record: %w: %w", watch.ErrStorage, err)
	}
	return nil
}

// LatestFingerprint returns the newest fingerprint for a resource.
func (s *Store) LatestFingerprint(ctx context.Context, resourceID int64) (string, bool, error) {
	var fp string
	err := s.db.QueryRowContext(ctx,
		`SELECT fingerprint FROM fetch_records WHERE resource_id = ? ORDER BY id DESC LIMIT 1`,
		resourceID,
	).Scan(&fp)
	if errors.Is(err, sql.ErrNoRows) {
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
	row := s.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM fetch_records WHERE resource_id = ? ORDER BY id DESC LIMIT 1`,
		resourceID,
	)
	return scanRecordRow(row, resourceID)
}

// RecordAt returns the newest record fetched within the second of at.
func (s *Store) RecordAt(ctx context.Context, resourceID int64, at time.Time) (watch.FetchRecord, error) {
	lo := at.Truncate(time.Second)
	row := s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM fetch_records
WHERE resource_id = ? AND fetched_at >= ? AND fetched_at < ?
ORDER BY id DESC LIMIT 1`, resourceID, lo.UnixNano(), lo.Add(time.Second).UnixNano())
	return scanRecordRow(row, resourceID)
}

// ListRecords returns retained records newest first.
func (s *Store) ListRecords(ctx context.Context, resourceID int64) ([]watch.FetchRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM fetch_records WHERE resource_id = ? ORDER BY id DESC`,
		resourceID,
	)
	if err != nil {
		return nil, fmt.Errorf("list records: %w: %w", watch.ErrStorage, err)
	}
	defer rows.Close()

	var out []watch.FetchRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w: %w", watch.ErrStorage, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w: %w", watch.ErrStorage, err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanResource(row scanner) (watch.Resource, error) {
	var (
		res                  watch.Resource
		interval             int64
		policy, status       string
		lastChecked, changed sql.NullInt64
	)
	if err := row.Scan(&res.ID, &res.URL, &interval, &policy, &lastChecked, &changed, &status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return watch.Resource{}, err
		}
		return watch.Resource{}, fmt.Errorf("scan resource: %w: %w", watch.ErrStorage, err)
	}
	res.Interval = watch.Interval(interval)
	res.Policy = watch.ParsePolicy(policy)
	res.Status = watch.Status(status)
	res.LastCheckedAt = fromNanos(lastChecked)
	res.LastChangedAt = fromNanos(changed)
	return res, nil
}

func scanRecord(row scanner) (watch.FetchRecord, error) {
	var (
		rec     watch.FetchRecord
		fetched int64
	)
	if err := row.Scan(&rec.ID, &rec.ResourceID, &fetched, &rec.Fingerprint, &rec.Body); err != nil {
		return watch.FetchRecord{}, err
	}
	rec.FetchedAt = time.Unix(0, fetched).UTC()
	return rec, nil
}

func scanRecordRow(row scanner, resourceID int64) (watch.FetchRecord, error) {
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return watch.FetchRecord{}, fmt.Errorf("history of %d: %w", resourceID, watch.ErrNotFound)
	}
	if err != nil {
		return watch.FetchRecord{}, fmt.Errorf("scan record: %w: %w", watch.ErrStorage, err)
	}
	return rec, nil
}

func fromNanos(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(0, v.Int64).UTC()
	return &t
}

func updateResult(op string, id int64, result sql.Result, err error) error {
	if err != nil {
		return fmt.Errorf("%s: %w: %w", op, watch.ErrStorage, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("resource %d: %w", id, watch.ErrNotFound)
	}
	return nil
}
