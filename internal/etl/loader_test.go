package etl

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/citydata/nyc311/internal/nyc311"
)

const fixtureHeader = "Unique Key,Created Date,Closed Date,Agency,Complaint Type,Descriptor,Borough,Latitude,Longitude\n"

// fakeStore records every batch it receives and can be told to fail.
type fakeStore struct {
	batches [][]nyc311.ServiceRequest
	failOn  int // 1-based batch index that returns an error; 0 = never
}

func (f *fakeStore) UpsertBatch(_ context.Context, requests []nyc311.ServiceRequest) error {
	if f.failOn > 0 && len(f.batches)+1 == f.failOn {
		return errors.New("connection reset")
	}
	cp := make([]nyc311.ServiceRequest, len(requests))
	copy(cp, requests)
	f.batches = append(f.batches, cp)
	return nil
}

func (f *fakeStore) rows() []nyc311.ServiceRequest {
	var all []nyc311.ServiceRequest
	for _, b := range f.batches {
		all = append(all, b...)
	}
	return all
}

func TestLoaderThreeRowFixture(t *testing.T) {
	t.Parallel()

	// Row A is fully formed, row B has an empty borough and a bad date,
	// row C has no identifier at all.
	src := fixtureHeader +
		`101,01/05/2025 09:00:00 AM,,NYPD,Noise,Loud Music,BROOKLYN,40.6789,-73.9442` + "\n" +
		`102,invalid,,DSNY,Dirty Sidewalk,,,,` + "\n" +
		`,01/07/2025 11:00:00 AM,,DOT,Pothole,,QUEENS,,` + "\n"

	store := &fakeStore{}
	loader, err := New(store, 10, zap.NewNop(), nil)
	require.NoError(t, err)

	stats, err := loader.Run(context.Background(), strings.NewReader(src))
	require.NoError(t, err)

	require.Equal(t, int64(2), stats.Accepted)
	require.Equal(t, int64(1), stats.Rejected)
	require.Equal(t, int64(1), stats.Batches)

	rows := store.rows()
	require.Len(t, rows, 2)

	a, b := rows[0], rows[1]
	require.Equal(t, int64(101), a.ID)
	require.Equal(t, "BROOKLYN", a.Borough)
	require.NotNil(t, a.CreatedAt)

	require.Equal(t, int64(102), b.ID)
	require.Equal(t, nyc311.BoroughUnknown, b.Borough)
	require.Nil(t, b.CreatedAt)
}

func TestLoaderBatchBoundaries(t *testing.T) {
	t.Parallel()

	var sb strings.Builder
	sb.WriteString(fixtureHeader)
	for i := 1; i <= 7; i++ {
		sb.WriteString(strconv.Itoa(i) + ",01/05/2025 09:00:00 AM,,NYPD,Noise,,BRONX,,\n")
	}

	store := &fakeStore{}
	loader, err := New(store, 3, zap.NewNop(), nil)
	require.NoError(t, err)

	stats, err := loader.Run(context.Background(), strings.NewReader(sb.String()))
	require.NoError(t, err)

	// 7 rows at batch size 3: two full batches plus a final partial flush.
	require.Equal(t, int64(7), stats.Accepted)
	require.Equal(t, int64(3), stats.Batches)
	require.Len(t, store.batches[0], 3)
	require.Len(t, store.batches[1], 3)
	require.Len(t, store.batches[2], 1)
}

func TestLoaderStorageFailureIsFatal(t *testing.T) {
	t.Parallel()

	var sb strings.Builder
	sb.WriteString(fixtureHeader)
	for i := 1; i <= 6; i++ {
		sb.WriteString(strconv.Itoa(i) + ",01/05/2025 09:00:00 AM,,NYPD,Noise,,BRONX,,\n")
	}

	store := &fakeStore{failOn: 2}
	loader, err := New(store, 3, zap.NewNop(), nil)
	require.NoError(t, err)

	stats, err := loader.Run(context.Background(), strings.NewReader(sb.String()))
	require.Error(t, err)
	require.Contains(t, err.Error(), "upsert batch")

	// The first batch was committed before the failure and stays committed.
	require.Equal(t, int64(3), stats.Accepted)
	require.Len(t, store.batches, 1)
}

func TestLoaderMalformedCSVRecordIsSkipped(t *testing.T) {
	t.Parallel()

	src := fixtureHeader +
		`201,01/05/2025 09:00:00 AM,,NYPD,Noise,,BRONX,,` + "\n" +
		"202,\"unterminated,,NYPD,Noise,,BRONX,,\n" +
		`203,01/05/2025 09:00:00 AM,,NYPD,Noise,,BRONX,,` + "\n"

	store := &fakeStore{}
	loader, err := New(store, 10, zap.NewNop(), nil)
	require.NoError(t, err)

	stats, err := loader.Run(context.Background(), strings.NewReader(src))
	require.NoError(t, err)
	require.Equal(t, int64(1), stats.Rejected)
	require.GreaterOrEqual(t, stats.Accepted, int64(1))
}

func TestLoaderEmptyFile(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	loader, err := New(store, 10, zap.NewNop(), nil)
	require.NoError(t, err)

	stats, err := loader.Run(context.Background(), strings.NewReader(fixtureHeader))
	require.NoError(t, err)
	require.Zero(t, stats.Accepted)
	require.Zero(t, stats.Batches)
	require.Empty(t, store.batches)
}

func TestLoaderHeaderOnlyColumnsSubset(t *testing.T) {
	t.Parallel()

	// Source missing the coordinate columns entirely: rows still load with
	// nil coordinates.
	src := "Unique Key,Created Date,Borough\n" +
		"301,01/05/2025 09:00:00 AM,MANHATTAN\n"

	store := &fakeStore{}
	loader, err := New(store, 10, zap.NewNop(), nil)
	require.NoError(t, err)

	stats, err := loader.Run(context.Background(), strings.NewReader(src))
	require.NoError(t, err)
	require.Equal(t, int64(1), stats.Accepted)

	rows := store.rows()
	require.Len(t, rows, 1)
	require.Nil(t, rows[0].Latitude)
	require.Nil(t, rows[0].Longitude)
	require.Equal(t, "MANHATTAN", rows[0].Borough)
}

func TestLoaderIdempotentReload(t *testing.T) {
	t.Parallel()

	src := fixtureHeader +
		`401,01/05/2025 09:00:00 AM,,NYPD,Noise,,BRONX,,` + "\n" +
		`402,01/06/2025 09:00:00 AM,,DSNY,Litter,,QUEENS,,` + "\n"

	store := &fakeStore{}
	loader, err := New(store, 10, zap.NewNop(), nil)
	require.NoError(t, err)

	first, err := loader.Run(context.Background(), strings.NewReader(src))
	require.NoError(t, err)
	second, err := loader.Run(context.Background(), strings.NewReader(src))
	require.NoError(t, err)

	// Same input yields the same accepted rows and identical cleaned
	// content; the upsert keying makes the second pass a no-op replace.
	require.Equal(t, first.Accepted, second.Accepted)
	require.Equal(t, store.batches[0], store.batches[1])
}
