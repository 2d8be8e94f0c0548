package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/citydata/nyc311/internal/nyc311"
)

const selectColumns = `unique_key, created_date, closed_date, agency, complaint_type, descriptor, borough, latitude, longitude`

// buildSearchWhere renders the filter as a WHERE clause with positional
// args. The date range is inclusive-from, exclusive-to; borough and
// complaint type are exact matches. An empty filter yields an empty clause.
func buildSearchWhere(f nyc311.SearchFilter) (string, []any) {
	var clauses []string
	var args []any
	next := func() int { return len(args) + 1 }

	if f.From != nil {
		clauses = append(clauses, fmt.Sprintf("created_date >= $%d", next()))
		args = append(args, *f.From)
	}
	if f.To != nil {
		clauses = append(clauses, fmt.Sprintf("created_date < $%d", next()))
		args = append(args, *f.To)
	}
	if f.Borough != "" {
		clauses = append(clauses, fmt.Sprintf("borough = $%d", next()))
		args = append(args, f.Borough)
	}
	if f.ComplaintType != "" {
		clauses = append(clauses, fmt.Sprintf("complaint_type = $%d", next()))
		args = append(args, f.ComplaintType)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// Search returns one page of matching rows plus the total match count.
// Ordering is newest-first with the unique key as a deterministic tiebreak.
// Pages are 1-based; a page past the last match comes back empty.
func (s *Store) Search(ctx context.Context, filter nyc311.SearchFilter, page int) (nyc311.ResultPage, error) {
	if page < 1 {
		page = 1
	}
	result := nyc311.ResultPage{
		Page:     page,
		PageSize: nyc311.PageSize,
	}

	where, args := buildSearchWhere(filter)

	countSQL := `SELECT COUNT(*) FROM service_requests` + where
	if err := s.pool.QueryRow(ctx, countSQL, args...).Scan(&result.TotalCount); err != nil {
		return nyc311.ResultPage{}, fmt.Errorf("count service requests: %w", err)
	}
	result.TotalPages = nyc311.TotalPages(result.TotalCount, nyc311.PageSize)

	pageSQL := fmt.Sprintf(
		`SELECT %s FROM service_requests%s ORDER BY created_date DESC NULLS LAST, unique_key LIMIT $%d OFFSET $%d`,
		selectColumns, where, len(args)+1, len(args)+2,
	)
	offset := (page - 1) * nyc311.PageSize
	pageArgs := append(append([]any{}, args...), nyc311.PageSize, offset)

	rows, err := s.pool.Query(ctx, pageSQL, pageArgs...)
	if err != nil {
		return nyc311.ResultPage{}, fmt.Errorf("query service requests: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var r nyc311.ServiceRequest
		if err := rows.Scan(
			&r.ID,
			&r.CreatedAt,
			&r.ClosedAt,
			&r.Agency,
			&r.ComplaintType,
			&r.Descriptor,
			&r.Borough,
			&r.Latitude,
			&r.Longitude,
		); err != nil {
			return nyc311.ResultPage{}, fmt.Errorf("scan service request: %w", err)
		}
		result.Requests = append(result.Requests, r)
	}
	if err := rows.Err(); err != nil {
		return nyc311.ResultPage{}, fmt.Errorf("iterate service requests: %w", err)
	}
	return result, nil
}

// Aggregate computes the statistics view in three reads: overall counts,
// per-borough counts, and the top complaint types. Ties in the top-10 are
// broken by complaint type ascending so the view is deterministic.
func (s *Store) Aggregate(ctx context.Context) (nyc311.Aggregates, error) {
	var agg nyc311.Aggregates

	overallSQL := `
SELECT
	COUNT(*),
	COUNT(closed_date),
	COUNT(*) - COUNT(closed_date),
	COUNT(DISTINCT agency),
	COUNT(DISTINCT complaint_type)
FROM service_requests`
	if err := s.pool.QueryRow(ctx, overallSQL).Scan(
		&agg.TotalRequests,
		&agg.ClosedRequests,
		&agg.OpenRequests,
		&agg.DistinctAgencies,
		&agg.DistinctComplaints,
	); err != nil {
		return nyc311.Aggregates{}, fmt.Errorf("aggregate overall: %w", err)
	}

	boroughSQL := `
SELECT
	borough,
	COUNT(*),
	COUNT(closed_date),
	COUNT(*) - COUNT(closed_date),
	MIN(created_date),
	MAX(created_date)
FROM service_requests
GROUP BY borough
ORDER BY COUNT(*) DESC, borough`
	rows, err := s.pool.Query(ctx, boroughSQL)
	if err != nil {
		return nyc311.Aggregates{}, fmt.Errorf("aggregate boroughs: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var b nyc311.BoroughCount
		if err := rows.Scan(&b.Borough, &b.Total, &b.Closed, &b.Open, &b.Earliest, &b.Latest); err != nil {
			return nyc311.Aggregates{}, fmt.Errorf("scan borough aggregate: %w", err)
		}
		agg.Boroughs = append(agg.Boroughs, b)
	}
	if err := rows.Err(); err != nil {
		return nyc311.Aggregates{}, fmt.Errorf("iterate borough aggregates: %w", err)
	}

	topSQL := `
SELECT complaint_type, COUNT(*)
FROM service_requests
WHERE complaint_type IS NOT NULL
GROUP BY complaint_type
ORDER BY COUNT(*) DESC, complaint_type
LIMIT 10`
	topRows, err := s.pool.Query(ctx, topSQL)
	if err != nil {
		return nyc311.Aggregates{}, fmt.Errorf("aggregate complaint types: %w", err)
	}
	defer topRows.Close()
	for topRows.Next() {
		var c nyc311.ComplaintCount
		if err := topRows.Scan(&c.ComplaintType, &c.Count); err != nil {
			return nyc311.Aggregates{}, fmt.Errorf("scan complaint aggregate: %w", err)
		}
		agg.TopComplaints = append(agg.TopComplaints, c)
	}
	if err := topRows.Err(); err != nil {
		return nyc311.Aggregates{}, fmt.Errorf("iterate complaint aggregates: %w", err)
	}

	return agg, nil
}

// DistinctBoroughs lists every borough present, for the search form dropdown.
func (s *Store) DistinctBoroughs(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT borough FROM service_requests ORDER BY borough`)
	if err != nil {
		return nil, fmt.Errorf("query boroughs: %w", err)
	}
	defer rows.Close()

	var boroughs []string
	for rows.Next() {
		var b string
		if err := rows.Scan(&b); err != nil {
			return nil, fmt.Errorf("scan borough: %w", err)
		}
		boroughs = append(boroughs, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate boroughs: %w", err)
	}
	return boroughs, nil
}
