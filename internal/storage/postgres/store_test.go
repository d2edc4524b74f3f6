package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sitewatch/internal/watch"
)

func newMockStore(t *testing.T) (pgxmock.PgxPoolIface, *Store) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	store, err := NewWithPool(mock, 5)
	require.NoError(t, err)
	return mock, store
}

func TestNewWithPoolValidates(t *testing.T) {
	t.Parallel()

	_, err := NewWithPool(nil, 5)
	require.Error(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	_, err = NewWithPool(mock, 0)
	require.ErrorContains(t, err, "retention")
}

func TestRecordInsertsAndPrunes(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()
	rec := watch.FetchRecord{ResourceID: 3, FetchedAt: now, Fingerprint: "abc", Body: "<p>hi</p>"}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO fetch_records").
		WithArgs(rec.ResourceID, rec.FetchedAt, rec.Fingerprint, rec.Body).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("DELETE FROM fetch_records").
		WithArgs(rec.ResourceID, 5).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectCommit()

	require.NoError(t, store.Record(context.Background(), rec))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordRollsBackOnInsertFailure(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)
	rec := watch.FetchRecord{ResourceID: 3, FetchedAt: time.Unix(1700000000, 0).UTC(), Fingerprint: "abc"}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO fetch_records").
		WithArgs(rec.ResourceID, rec.FetchedAt, rec.Fingerprint, rec.Body).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := store.Record(context.Background(), rec)
	require.ErrorIs(t, err, watch.ErrStorage)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLatestFingerprint(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)
	mock.ExpectQuery("SELECT fingerprint FROM fetch_records").
		WithArgs(int64(9)).
		WillReturnRows(pgxmock.NewRows([]string{"fingerprint"}).AddRow("deadbeef"))
	mock.ExpectQuery("SELECT fingerprint FROM fetch_records").
		WithArgs(int64(10)).
		WillReturnRows(pgxmock.NewRows([]string{"fingerprint"}))

	fp, ok, err := store.LatestFingerprint(context.Background(), 9)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "deadbeef", fp)

	_, ok, err = store.LatestFingerprint(context.Background(), 10)
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListResources(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)
	checked := time.Unix(1700000000, 0).UTC()
	rows := pgxmock.NewRows([]string{"id", "url", "interval_secs", "policy", "last_checked_at", "last_changed_at", "status"}).
		AddRow(int64(1), "https://a.example", int64(30), "random", &checked, nil, "OK").
		AddRow(int64(2), "https://b.example", int64(60), "backoff", nil, nil, "")
	mock.ExpectQuery("SELECT id, url, interval_secs").WillReturnRows(rows)

	got, err := store.ListResources(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, watch.PolicyJittered, got[0].Policy)
	require.Equal(t, watch.Interval(30), got[0].Interval)
	require.Equal(t, checked, *got[0].LastCheckedAt)
	require.Nil(t, got[0].LastChangedAt)
	require.Equal(t, watch.StatusOK, got[0].Status)
	require.Equal(t, watch.PolicyBackoff, got[1].Policy)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAddResourceDuplicate(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)
	mock.ExpectQuery("INSERT INTO resources").
		WithArgs("https://a.example", int64(10), "fixed").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(4)))
	mock.ExpectQuery("INSERT INTO resources").
		WithArgs("https://a.example", int64(10), "fixed").
		WillReturnError(&pgconn.PgError{Code: uniqueViolation})

	res, err := store.AddResource(context.Background(), watch.Resource{URL: "https://a.example", Interval: 10, Policy: watch.PolicyFixed})
	require.NoError(t, err)
	require.EqualValues(t, 4, res.ID)

	_, err = store.AddResource(context.Background(), watch.Resource{URL: "https://a.example", Interval: 10, Policy: watch.PolicyFixed})
	require.ErrorIs(t, err, watch.ErrDuplicate)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteResourceNotFound(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM fetch_records").WithArgs(int64(8)).WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectExec("DELETE FROM resources").WithArgs(int64(8)).WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectRollback()

	err := store.DeleteResource(context.Background(), 8)
	require.ErrorIs(t, err, watch.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkChecked(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)
	at := time.Unix(1700000000, 0).UTC()
	mock.ExpectExec("UPDATE resources SET last_checked_at").
		WithArgs(at, "ERROR", int64(2)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE resources SET last_changed_at").
		WithArgs(at, int64(99)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	require.NoError(t, store.MarkChecked(context.Background(), 2, at, watch.StatusError))
	require.ErrorIs(t, store.MarkChanged(context.Background(), 99, at), watch.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordAtNotFound(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	mock.ExpectQuery("SELECT id, resource_id, fetched_at").
		WithArgs(int64(1), at, at.Add(time.Second)).
		WillReturnRows(pgxmock.NewRows([]string{"id", "resource_id", "fetched_at", "fingerprint", "body"}))

	_, err := store.RecordAt(context.Background(), 1, at)
	require.ErrorIs(t, err, watch.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestResetTruncatesWithoutRestartingIDs(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)
	mock.ExpectExec("TRUNCATE TABLE fetch_records, resources$").
		WillReturnResult(pgxmock.NewResult("TRUNCATE", 0))

	require.NoError(t, store.Reset(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestResetReportsFailure(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)
	mock.ExpectExec("TRUNCATE").WillReturnError(errors.New("lock timeout"))

	require.ErrorContains(t, store.Reset(context.Background()), "clear tables")
	require.NoError(t, mock.ExpectationsWereMet())
}
