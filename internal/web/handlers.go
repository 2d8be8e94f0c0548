package web

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/citydata/nyc311/internal/nyc311"
)

// searchForm is the raw query-parameter state echoed back into the form.
type searchForm struct {
	DateFrom      string
	DateTo        string
	Borough       string
	ComplaintType string
}

// searchView is the template model for the search page.
type searchView struct {
	Form     searchForm
	Boroughs []string
	Results  nyc311.ResultPage
	Error    string
	PrevURL  string
	NextURL  string
}

// aggregateView is the template model for the statistics page.
type aggregateView struct {
	Aggregates  nyc311.Aggregates
	ClosureRate float64
}

const dateLayout = "2006-01-02"

// parseFilter turns the query parameters into a SearchFilter. The date_to
// day is included in the range: the filter's exclusive upper bound is the
// start of the following day.
func parseFilter(form searchForm) (nyc311.SearchFilter, error) {
	var filter nyc311.SearchFilter

	if form.DateFrom != "" {
		from, err := time.Parse(dateLayout, form.DateFrom)
		if err != nil {
			return nyc311.SearchFilter{}, fmt.Errorf("invalid from date %q, expected YYYY-MM-DD", form.DateFrom)
		}
		filter.From = &from
	}
	if form.DateTo != "" {
		to, err := time.Parse(dateLayout, form.DateTo)
		if err != nil {
			return nyc311.SearchFilter{}, fmt.Errorf("invalid to date %q, expected YYYY-MM-DD", form.DateTo)
		}
		end := to.AddDate(0, 0, 1)
		filter.To = &end
	}
	if form.Borough != "" && form.Borough != "ALL" {
		filter.Borough = form.Borough
	}
	filter.ComplaintType = strings.TrimSpace(form.ComplaintType)
	return filter, nil
}

func parsePage(raw string) int {
	page, err := strconv.Atoi(raw)
	if err != nil || page < 1 {
		return 1
	}
	return page
}

// pageURL rebuilds the search URL for a given page, keeping the filter.
func pageURL(form searchForm, page int) string {
	q := url.Values{}
	if form.DateFrom != "" {
		q.Set("date_from", form.DateFrom)
	}
	if form.DateTo != "" {
		q.Set("date_to", form.DateTo)
	}
	if form.Borough != "" {
		q.Set("borough", form.Borough)
	}
	if form.ComplaintType != "" {
		q.Set("complaint_type", form.ComplaintType)
	}
	q.Set("page", strconv.Itoa(page))
	return "/?" + q.Encode()
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	form := searchForm{
		DateFrom:      r.URL.Query().Get("date_from"),
		DateTo:        r.URL.Query().Get("date_to"),
		Borough:       r.URL.Query().Get("borough"),
		ComplaintType: r.URL.Query().Get("complaint_type"),
	}
	page := parsePage(r.URL.Query().Get("page"))

	boroughs, err := s.store.DistinctBoroughs(r.Context())
	if err != nil {
		s.logger.Error("list boroughs failed", zap.Error(err))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	view := searchView{Form: form, Boroughs: boroughs}

	filter, err := parseFilter(form)
	if err != nil {
		// A bad filter is the user's problem, not a server fault: render
		// the page with the message and no rows.
		view.Error = err.Error()
		s.render(w, "index.html", view)
		return
	}

	results, err := s.store.Search(r.Context(), filter, page)
	if err != nil {
		s.logger.Error("search failed", zap.Error(err))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	view.Results = results
	if results.HasPrev() {
		view.PrevURL = pageURL(form, results.Page-1)
	}
	if results.HasNext() {
		view.NextURL = pageURL(form, results.Page+1)
	}
	s.render(w, "index.html", view)
}

func (s *Server) handleAggregate(w http.ResponseWriter, r *http.Request) {
	agg, err := s.store.Aggregate(r.Context())
	if err != nil {
		s.logger.Error("aggregate failed", zap.Error(err))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	s.render(w, "aggregate.html", aggregateView{
		Aggregates:  agg,
		ClosureRate: agg.ClosureRate(),
	})
}
