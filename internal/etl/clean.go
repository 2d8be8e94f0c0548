package etl

import (
	"errors"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/citydata/nyc311/internal/nyc311"
)

// ErrMissingID marks a row with an absent or unparseable unique key. Such
// rows are skipped and counted; every other field-level problem degrades to
// NULL instead.
var ErrMissingID = errors.New("missing or unparseable unique key")

// Canonical column order for the service_requests table. The CSV reader
// aligns source columns to this order and the upsert writes them in it.
var columns = []string{
	"unique_key",
	"created_date",
	"closed_date",
	"agency",
	"complaint_type",
	"descriptor",
	"borough",
	"latitude",
	"longitude",
}

// Timestamp layouts seen in NYC open-data extracts, tried in order.
var dateLayouts = []string{
	"01/02/2006 03:04:05 PM",
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// CleanRow applies the field-level cleaning rules to one raw record whose
// values are aligned to the canonical column order:
//
//  1. unique key absent/unparseable -> ErrMissingID (caller skips the row)
//  2. unparseable created/closed dates -> nil, never an error
//  3. empty borough -> the UNKNOWN sentinel
//  4. empty or non-numeric latitude/longitude -> nil
func CleanRow(values []string) (nyc311.ServiceRequest, error) {
	if len(values) != len(columns) {
		return nyc311.ServiceRequest{}, ErrMissingID
	}

	id, err := strconv.ParseInt(strings.TrimSpace(values[0]), 10, 64)
	if err != nil {
		return nyc311.ServiceRequest{}, ErrMissingID
	}

	req := nyc311.ServiceRequest{
		ID:            id,
		CreatedAt:     parseTimestamp(values[1]),
		ClosedAt:      parseTimestamp(values[2]),
		Agency:        optionalString(values[3]),
		ComplaintType: optionalString(values[4]),
		Descriptor:    optionalString(values[5]),
		Borough:       cleanBorough(values[6]),
		Latitude:      parseCoordinate(values[7]),
		Longitude:     parseCoordinate(values[8]),
	}
	return req, nil
}

func cleanBorough(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nyc311.BoroughUnknown
	}
	return s
}

func optionalString(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func parseTimestamp(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}

func parseCoordinate(s string) *float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}
