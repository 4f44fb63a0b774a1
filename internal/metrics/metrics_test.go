package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/bookoftales/tales/internal/pool"
)

type staticStats pool.Stats

func (s staticStats) Stats() pool.Stats { return pool.Stats(s) }

func TestInstrumentUsesRoutePattern(t *testing.T) {
	m := New()

	r := chi.NewRouter()
	r.Use(m.Instrument)
	r.Get("/tales/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	for _, path := range []string{"/tales/1", "/tales/2", "/nowhere"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	if got := testutil.ToFloat64(m.httpRequests.WithLabelValues("GET", "/tales/{id}", "418")); got != 2 {
		t.Errorf("requests for /tales/{id} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.httpRequests.WithLabelValues("GET", "unmatched", "404")); got != 1 {
		t.Errorf("unmatched requests = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.httpInFlight); got != 0 {
		t.Errorf("in-flight = %v after all requests finished", got)
	}
}

func TestPoolCollector(t *testing.T) {
	m := New()
	err := m.RegisterPool(staticStats{
		MaxConns:     8,
		Open:         4,
		Idle:         1,
		Active:       2,
		Pending:      3,
		TimeoutCount: 5,
		BrokenCount:  1,
	})
	if err != nil {
		t.Fatalf("RegisterPool() error = %v", err)
	}

	expected := `
# HELP tales_pool_connections Open connections by state.
# TYPE tales_pool_connections gauge
tales_pool_connections{state="active"} 2
tales_pool_connections{state="idle"} 1
tales_pool_connections{state="reserved"} 1
# HELP tales_pool_acquire_timeouts_total Acquires that timed out.
# TYPE tales_pool_acquire_timeouts_total counter
tales_pool_acquire_timeouts_total 5
`
	if err := testutil.GatherAndCompare(m.Registry, strings.NewReader(expected),
		"tales_pool_connections", "tales_pool_acquire_timeouts_total"); err != nil {
		t.Error(err)
	}
}

func TestHandler(t *testing.T) {
	m := New()
	_ = m.RegisterPool(staticStats{MaxConns: 2})

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	for _, want := range []string{"tales_pool_max_connections 2", "go_goroutines"} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics output misses %q", want)
		}
	}
}
