package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveRows(t *testing.T) {
	t.Parallel()

	m, err := New()
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	m.ObserveRows(100, 3)
	m.ObserveRows(50, 0)

	if got := testutil.ToFloat64(m.rowsAccepted); got != 150 {
		t.Errorf("rowsAccepted = %f, want 150", got)
	}
	if got := testutil.ToFloat64(m.rowsRejected); got != 3 {
		t.Errorf("rowsRejected = %f, want 3", got)
	}
}

func TestObserveBatch(t *testing.T) {
	t.Parallel()

	m, err := New()
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	m.ObserveBatch()
	m.ObserveBatch()

	if got := testutil.ToFloat64(m.batchesTotal); got != 2 {
		t.Errorf("batchesTotal = %f, want 2", got)
	}
}

func TestHandlerServesRegistry(t *testing.T) {
	t.Parallel()

	m, err := New()
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	m.ObserveHTTPRequest("GET", "/", 200, 10*time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	if rec.Code != 200 {
		t.Fatalf("metrics handler status = %d, want 200", rec.Code)
	}
	if body := rec.Body.String(); !strings.Contains(body, "nyc311_http_requests_total") {
		t.Errorf("metrics output missing nyc311_http_requests_total:\n%s", body)
	}
}
