// Package nyc311 defines the domain types shared by the loader and the
// query service.
package nyc311

import "time"

// BoroughUnknown is the sentinel stored when the source row has no borough.
// After a load no row ever carries an empty or NULL borough.
const BoroughUnknown = "UNKNOWN"

// PageSize is the fixed number of rows per search result page.
const PageSize = 50

// ServiceRequest is one 311 complaint, one row in service_requests.
// ID is the source-provided unique key and the idempotency key for loads:
// re-loading the same ID replaces the row wholesale.
type ServiceRequest struct {
	ID            int64      `db:"unique_key"`
	CreatedAt     *time.Time `db:"created_date"`
	ClosedAt      *time.Time `db:"closed_date"`
	Agency        *string    `db:"agency"`
	ComplaintType *string    `db:"complaint_type"`
	Descriptor    *string    `db:"descriptor"`
	Borough       string     `db:"borough"`
	Latitude      *float64   `db:"latitude"`
	Longitude     *float64   `db:"longitude"`
}

// Open reports whether the request has not been resolved yet.
func (r ServiceRequest) Open() bool { return r.ClosedAt == nil }

// SearchFilter restricts a search. Zero-value fields match all rows.
// The date range is inclusive-from, exclusive-to on CreatedAt; Borough and
// ComplaintType are exact matches.
type SearchFilter struct {
	From          *time.Time
	To            *time.Time
	Borough       string
	ComplaintType string
}

// Empty reports whether no filter criteria are set.
func (f SearchFilter) Empty() bool {
	return f.From == nil && f.To == nil && f.Borough == "" && f.ComplaintType == ""
}

// ResultPage is one page of search results plus the totals the pagination
// UI needs. A page past the last match has an empty Requests slice.
type ResultPage struct {
	Requests   []ServiceRequest
	TotalCount int64
	Page       int
	PageSize   int
	TotalPages int
}

// HasPrev reports whether an earlier page exists.
func (p ResultPage) HasPrev() bool { return p.Page > 1 }

// HasNext reports whether a later page exists.
func (p ResultPage) HasNext() bool { return p.Page < p.TotalPages }

// BoroughCount is the aggregate row for one borough.
type BoroughCount struct {
	Borough  string
	Total    int64
	Closed   int64
	Open     int64
	Earliest *time.Time
	Latest   *time.Time
}

// ComplaintCount is one entry of the top-complaint-types aggregate.
type ComplaintCount struct {
	ComplaintType string
	Count         int64
}

// Aggregates is the statistics view over the whole table.
type Aggregates struct {
	TotalRequests      int64
	ClosedRequests     int64
	OpenRequests       int64
	DistinctAgencies   int64
	DistinctComplaints int64
	Boroughs           []BoroughCount
	TopComplaints      []ComplaintCount
}

// ClosureRate is closed/total; exactly 0 for an empty table.
func (a Aggregates) ClosureRate() float64 {
	if a.TotalRequests == 0 {
		return 0
	}
	return float64(a.ClosedRequests) / float64(a.TotalRequests)
}

// TotalPages computes the page count for n matches at the given page size.
func TotalPages(n int64, pageSize int) int {
	if n <= 0 || pageSize <= 0 {
		return 0
	}
	return int((n + int64(pageSize) - 1) / int64(pageSize))
}
