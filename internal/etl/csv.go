package etl

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
)

// streamRows reads the CSV source record by record and emits value slices
// aligned to the canonical column order. It never holds more than one record
// in memory; csv.Reader buffers are reused between reads.
//
// Header handling: the first line is the header. Names are matched after
// stripping a BOM on the first cell, trimming edge whitespace, and
// lowercasing with spaces replaced by underscores, so the extract's
// "Unique Key" maps to unique_key. Columns missing from the source map to
// the empty string for every row.
//
// onErr receives recoverable record errors (bad quoting and the like); the
// record is dropped and the stream continues.
func streamRows(
	ctx context.Context,
	src io.Reader,
	out chan<- []string,
	onErr func(line int, err error),
) error {
	cr := csv.NewReader(src)
	cr.ReuseRecord = true
	cr.FieldsPerRecord = -1 // tolerant of ragged rows

	line := 0
	read := func() ([]string, error) { line++; return cr.Read() }

	hdr, err := read()
	if err != nil {
		return fmt.Errorf("read header: %w", err)
	}

	// Build dest->source index mapping; -1 means the column is absent.
	colIx := make([]int, len(columns))
	for i := range colIx {
		colIx[i] = -1
	}
	srcToIdx := make(map[string]int, len(hdr))
	for i, h := range hdr {
		h = strings.TrimSpace(h)
		if i == 0 {
			h = strings.TrimPrefix(h, "\uFEFF") // strip BOM
		}
		h = strings.ReplaceAll(strings.ToLower(h), " ", "_")
		srcToIdx[h] = i
	}
	for t, target := range columns {
		if si, ok := srcToIdx[target]; ok {
			colIx[t] = si
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		rec, err := read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			if onErr != nil {
				onErr(line, fmt.Errorf("csv read: %w", err))
			}
			continue
		}

		values := make([]string, len(columns))
		for t := range columns {
			si := colIx[t]
			if si < 0 || si >= len(rec) {
				continue
			}
			values[t] = rec[si]
		}

		select {
		case out <- values:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
