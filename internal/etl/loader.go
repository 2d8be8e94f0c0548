// Package etl implements the chunked CSV loader: streaming read, field-level
// cleaning, and idempotent batch upserts into the service_requests table.
package etl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/citydata/nyc311/internal/metrics"
	"github.com/citydata/nyc311/internal/nyc311"
)

// BatchWriter is the storage dependency of the loader. UpsertBatch must have
// write-if-absent-else-replace-whole-row semantics keyed on the unique key,
// so that re-running a load converges to the same table state.
type BatchWriter interface {
	UpsertBatch(ctx context.Context, requests []nyc311.ServiceRequest) error
}

// Stats summarizes a completed (or aborted) loader run.
type Stats struct {
	Accepted int64
	Rejected int64
	Batches  int64
	Duration time.Duration
}

// RowsPerSecond is the ingest rate over the whole run; 0 for an empty run.
func (s Stats) RowsPerSecond() float64 {
	if s.Duration <= 0 {
		return 0
	}
	return float64(s.Accepted) / s.Duration.Seconds()
}

// Loader reads a CSV source in bounded batches and upserts them.
type Loader struct {
	store     BatchWriter
	batchSize int
	logger    *zap.Logger
	metrics   *metrics.Metrics
}

// New constructs a Loader. metrics may be nil when no collector is wired
// (e.g. one-shot CLI runs with nothing scraping).
func New(store BatchWriter, batchSize int, logger *zap.Logger, m *metrics.Metrics) (*Loader, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if batchSize <= 0 {
		return nil, fmt.Errorf("batch size must be > 0, got %d", batchSize)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{store: store, batchSize: batchSize, logger: logger, metrics: m}, nil
}

// Run processes the source to completion. Malformed rows are skipped and
// counted; a storage failure on any batch aborts the run and is returned.
// The returned Stats are valid either way. The whole file is never resident:
// memory is bounded by the channel depth plus one batch.
func (l *Loader) Run(ctx context.Context, src io.Reader) (Stats, error) {
	start := time.Now()
	var stats Stats

	rows := make(chan []string, l.batchSize)

	g, ctx := errgroup.WithContext(ctx)

	// Rejections are counted per goroutine and merged after Wait so the two
	// sides never touch the same counter concurrently.
	var readerRejected, writerRejected int64

	g.Go(func() error {
		defer close(rows)
		return streamRows(ctx, src, rows, func(line int, err error) {
			readerRejected++
			if readerRejected <= 10 {
				l.logger.Warn("dropped malformed record", zap.Int("line", line), zap.Error(err))
			}
		})
	})

	g.Go(func() error {
		batch := make([]nyc311.ServiceRequest, 0, l.batchSize)
		flush := func() error {
			if len(batch) == 0 {
				return nil
			}
			if err := l.store.UpsertBatch(ctx, batch); err != nil {
				return fmt.Errorf("upsert batch: %w", err)
			}
			stats.Accepted += int64(len(batch))
			stats.Batches++
			if l.metrics != nil {
				l.metrics.ObserveRows(len(batch), 0)
				l.metrics.ObserveBatch()
			}
			l.logger.Info("batch committed",
				zap.Int("rows", len(batch)),
				zap.Int64("total", stats.Accepted),
			)
			batch = batch[:0]
			return nil
		}

		for values := range rows {
			req, err := CleanRow(values)
			if err != nil {
				writerRejected++
				if l.metrics != nil {
					l.metrics.ObserveRows(0, 1)
				}
				continue
			}
			batch = append(batch, req)
			if len(batch) >= l.batchSize {
				if err := flush(); err != nil {
					return err
				}
			}
		}
		return flush()
	})

	err := g.Wait()
	stats.Rejected = readerRejected + writerRejected
	stats.Duration = time.Since(start)

	l.logger.Info("load finished",
		zap.Int64("accepted", stats.Accepted),
		zap.Int64("rejected", stats.Rejected),
		zap.Int64("batches", stats.Batches),
		zap.Duration("duration", stats.Duration),
		zap.Float64("rows_per_second", stats.RowsPerSecond()),
	)
	if err != nil {
		return stats, fmt.Errorf("load: %w", err)
	}
	return stats, nil
}
