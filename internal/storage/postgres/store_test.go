package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/citydata/nyc311/internal/nyc311"
)

func strPtr(s string) *string        { return &s }
func f64Ptr(f float64) *float64      { return &f }
func timePtr(t time.Time) *time.Time { return &t }

func sampleRequest(id int64) nyc311.ServiceRequest {
	created := time.Date(2025, 1, 5, 9, 0, 0, 0, time.UTC)
	return nyc311.ServiceRequest{
		ID:            id,
		CreatedAt:     &created,
		Agency:        strPtr("NYPD"),
		ComplaintType: strPtr("Noise"),
		Borough:       "BROOKLYN",
		Latitude:      f64Ptr(40.6789),
		Longitude:     f64Ptr(-73.9442),
	}
}

func TestBuildUpsertBatch(t *testing.T) {
	t.Parallel()

	reqs := []nyc311.ServiceRequest{sampleRequest(1), sampleRequest(2)}
	batch := buildUpsertBatch(reqs)

	require.Len(t, batch.QueuedQueries, 2)
	for i, q := range batch.QueuedQueries {
		require.Equal(t, upsertSQL, q.SQL)
		require.Len(t, q.Arguments, 9)
		require.Equal(t, reqs[i].ID, q.Arguments[0])
		require.Equal(t, reqs[i].Borough, q.Arguments[6])
	}

	// Whole-row replace: every non-key column appears in the DO UPDATE SET
	// list, so a conflicting load overwrites rather than merges.
	for _, col := range []string{"created_date", "closed_date", "agency", "complaint_type", "descriptor", "borough", "latitude", "longitude"} {
		require.Contains(t, upsertSQL, "EXCLUDED."+col, "column %s not replaced on conflict", col)
	}
}

func TestBuildUpsertBatchDeterministic(t *testing.T) {
	t.Parallel()

	reqs := []nyc311.ServiceRequest{sampleRequest(10), sampleRequest(11)}
	first := buildUpsertBatch(reqs)
	second := buildUpsertBatch(reqs)

	require.Equal(t, len(first.QueuedQueries), len(second.QueuedQueries))
	for i := range first.QueuedQueries {
		require.Equal(t, first.QueuedQueries[i].SQL, second.QueuedQueries[i].SQL)
		require.Equal(t, first.QueuedQueries[i].Arguments, second.QueuedQueries[i].Arguments)
	}
}

// fakeBatchResults implements pgx.BatchResults for UpsertBatch tests.
type fakeBatchResults struct {
	execs  int
	failAt int // 1-based exec index to fail on; 0 = never
	closed bool
}

func (f *fakeBatchResults) Exec() (pgconn.CommandTag, error) {
	f.execs++
	if f.failAt > 0 && f.execs == f.failAt {
		return pgconn.CommandTag{}, errors.New("duplicate key")
	}
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (f *fakeBatchResults) Query() (pgx.Rows, error) { return nil, errors.New("not implemented") }
func (f *fakeBatchResults) QueryRow() pgx.Row        { return nil }
func (f *fakeBatchResults) Close() error             { f.closed = true; return nil }

// fakePool satisfies querier for the SendBatch path only.
type fakePool struct {
	querier
	results *fakeBatchResults
	batch   *pgx.Batch
}

func (f *fakePool) SendBatch(_ context.Context, b *pgx.Batch) pgx.BatchResults {
	f.batch = b
	return f.results
}

func TestUpsertBatchExecutesEveryRow(t *testing.T) {
	t.Parallel()

	results := &fakeBatchResults{}
	pool := &fakePool{results: results}
	store, err := NewStoreWithPool(pool)
	require.NoError(t, err)

	reqs := []nyc311.ServiceRequest{sampleRequest(1), sampleRequest(2), sampleRequest(3)}
	require.NoError(t, store.UpsertBatch(context.Background(), reqs))

	require.Equal(t, 3, results.execs)
	require.True(t, results.closed)
	require.Len(t, pool.batch.QueuedQueries, 3)
}

func TestUpsertBatchSurfacesStatementError(t *testing.T) {
	t.Parallel()

	results := &fakeBatchResults{failAt: 2}
	pool := &fakePool{results: results}
	store, err := NewStoreWithPool(pool)
	require.NoError(t, err)

	err = store.UpsertBatch(context.Background(), []nyc311.ServiceRequest{sampleRequest(1), sampleRequest(2)})
	require.Error(t, err)
	require.Contains(t, err.Error(), "upsert service request")
	require.True(t, results.closed)
}

func TestUpsertBatchEmptyIsNoop(t *testing.T) {
	t.Parallel()

	pool := &fakePool{results: &fakeBatchResults{}}
	store, err := NewStoreWithPool(pool)
	require.NoError(t, err)

	require.NoError(t, store.UpsertBatch(context.Background(), nil))
	require.Nil(t, pool.batch)
}

func TestEnsureSchemaRunsAllStatements(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewStoreWithPool(mock)
	require.NoError(t, err)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS service_requests").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	for _, idx := range []string{
		"idx_service_requests_created_date",
		"idx_service_requests_borough",
		"idx_service_requests_agency",
		"idx_service_requests_created_borough",
	} {
		mock.ExpectExec("CREATE INDEX IF NOT EXISTS " + idx).
			WillReturnResult(pgxmock.NewResult("CREATE", 0))
	}

	require.NoError(t, store.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewStoreRequiresDSN(t *testing.T) {
	t.Parallel()

	_, err := NewStore(context.Background(), StoreConfig{})
	require.Error(t, err)
}

func TestNewStoreWithPoolRequiresPool(t *testing.T) {
	t.Parallel()

	_, err := NewStoreWithPool(nil)
	require.Error(t, err)
}
