package http

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Spok95/venue-counter/internal/domain/catalog"
	"github.com/Spok95/venue-counter/internal/session"
	"github.com/Spok95/venue-counter/internal/summary"
)

// CatalogLoader — справочники на момент запроса (*catalog.Repo).
type CatalogLoader interface {
	Load(ctx context.Context) (catalog.Catalog, error)
}

type Deps struct {
	Counters session.Persistence
	Catalog  CatalogLoader
	Gatherer prometheus.Gatherer // nil — /metrics не публикуем
	Log      *slog.Logger
}

type Server struct {
	srv  *http.Server
	deps Deps
}

func New(addr string, deps Deps) *Server {
	if deps.Log == nil {
		deps.Log = slog.Default()
	}
	s := &Server{deps: deps}
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	if s.deps.Gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{}))
	}

	if s.deps.Counters != nil && s.deps.Catalog != nil {
		mux.HandleFunc("/counters/summary.xlsx", s.summaryXLSX)
	}
	return mux
}

// summaryXLSX отдаёт сводку сохранённого учёта: GET /counters/summary.xlsx?date=2024-05-01
func (s *Server) summaryXLSX(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	date, err := time.Parse(time.DateOnly, r.URL.Query().Get("date"))
	if err != nil {
		http.Error(w, "date must be YYYY-MM-DD", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	cat, err := s.deps.Catalog.Load(ctx)
	if err != nil {
		s.deps.Log.Error("load catalog failed", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	sess := session.New(s.deps.Counters, cat, s.deps.Log, nil)
	if err := sess.Open(ctx, date); err != nil {
		s.deps.Log.Error("open counter failed", "date", date.Format(time.DateOnly), "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if sess.Counter() == nil {
		http.Error(w, "no counter for this date", http.StatusNotFound)
		return
	}
	sum, ok := sess.Summary()
	if !ok {
		// учёт есть, но ни по одному каналу нет данных
		w.WriteHeader(http.StatusNoContent)
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="counter_%s.xlsx"`, date.Format(time.DateOnly)))
	if err := summary.WriteXLSX(w, date, sum); err != nil {
		s.deps.Log.Error("write xlsx failed", "err", err)
	}
}

func (s *Server) Start() error {
	return s.srv.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
