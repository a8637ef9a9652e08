package http

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/xuri/excelize/v2"

	"github.com/Spok95/venue-counter/internal/domain/catalog"
	"github.com/Spok95/venue-counter/internal/domain/counter"
	"github.com/Spok95/venue-counter/internal/infra/metrics"
	"github.com/Spok95/venue-counter/internal/session"
)

// counters: 2024-05-01 с данными, 2024-05-03 пустой; остальные методы не вызываются.
type counters struct {
	session.Persistence
}

func (counters) FetchCounterByDate(_ context.Context, date time.Time) (*counter.Loaded, error) {
	switch {
	case date.Equal(time.Date(2024, 5, 3, 0, 0, 0, 0, time.UTC)):
		return &counter.Loaded{Counter: counter.Counter{ID: 2, Date: date, Status: counter.StatusDraft}}, nil
	case !date.Equal(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)):
		return nil, counter.ErrNotFound
	}
	return &counter.Loaded{
		Counter: counter.Counter{ID: 1, Date: date, Status: counter.StatusFinal},
		Metrics: []counter.MetricCell{
			{Key: counter.PeopleKey(1, 1, counter.TallyBooked, counter.PeriodBeforeCutoff), Qty: 10},
			{Key: counter.PeopleKey(1, 1, counter.TallyAttended, counter.PeriodNone), Qty: 14},
		},
	}, nil
}

type staticCatalog struct{}

func (staticCatalog) Load(context.Context) (catalog.Catalog, error) {
	return catalog.Catalog{Channels: []catalog.Channel{{ID: 1, Name: "ecwid"}}}, nil
}

func newTestServer() *Server {
	reg := prometheus.NewRegistry()
	metrics.NewCounterMetrics(reg)
	return New(":0", Deps{Counters: counters{}, Catalog: staticCatalog{}, Gatherer: reg})
}

func get(t *testing.T, s *Server, url string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, url, nil))
	return rec
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer()
	if rec := get(t, s, "/health"); rec.Code != http.StatusOK || rec.Body.String() != "OK" {
		t.Fatalf("health = %d %q", rec.Code, rec.Body.String())
	}
	if rec := get(t, s, "/metrics"); rec.Code != http.StatusOK {
		t.Fatalf("metrics = %d", rec.Code)
	}
}

func TestSummaryXLSX(t *testing.T) {
	s := newTestServer()

	rec := get(t, s, "/counters/summary.xlsx?date=2024-05-01")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %q", rec.Code, rec.Body.String())
	}
	f, err := excelize.OpenReader(bytes.NewReader(rec.Body.Bytes()))
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer func() { _ = f.Close() }()
	rows, err := f.GetRows("2024-05-01")
	if err != nil || len(rows) < 2 || rows[1][4] != "4" {
		t.Fatalf("rows = %v, err = %v", rows, err)
	}

	if rec := get(t, s, "/counters/summary.xlsx?date=2024-05-02"); rec.Code != http.StatusNotFound {
		t.Fatalf("missing date status = %d", rec.Code)
	}
	if rec := get(t, s, "/counters/summary.xlsx?date=2024-05-03"); rec.Code != http.StatusNoContent {
		t.Fatalf("empty counter status = %d", rec.Code)
	}
	if rec := get(t, s, "/counters/summary.xlsx?date=May"); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad date status = %d", rec.Code)
	}
}
