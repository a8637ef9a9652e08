package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// CounterMetrics — метрики сессий учёта. nil-приёмник безопасен: всё no-op.
type CounterMetrics struct {
	FlushesTotal        *prometheus.CounterVec
	FlushedCellsTotal   prometheus.Counter
	FlushDuration       prometheus.Histogram
	TransitionsTotal    *prometheus.CounterVec
	SnapshotDecodeTotal *prometheus.CounterVec
	DiscardedCellsTotal prometheus.Counter
}

func NewCounterMetrics(reg prometheus.Registerer) *CounterMetrics {
	f := promauto.With(reg)
	return &CounterMetrics{
		FlushesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "counter_flushes_total",
				Help: "Сбросы грязных метрик по результату (ok, noop, error)",
			},
			[]string{"result"},
		),
		FlushedCellsTotal: f.NewCounter(
			prometheus.CounterOpts{
				Name: "counter_flushed_cells_total",
				Help: "Сколько ячеек метрик записано в хранилище",
			},
		),
		FlushDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "counter_flush_duration_seconds",
				Help:    "Время сброса пачки метрик",
				Buckets: prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms, 10ms, 20ms...
			},
		),
		TransitionsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "counter_transitions_total",
				Help: "Переходы между шагами учёта",
			},
			[]string{"from", "to", "result"},
		),
		SnapshotDecodeTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "counter_snapshot_decode_total",
				Help: "Разбор снапшота наличных из заметки (ok, absent, malformed)",
			},
			[]string{"result"},
		),
		DiscardedCellsTotal: f.NewCounter(
			prometheus.CounterOpts{
				Name: "counter_discarded_cells_total",
				Help: "Несохранённые ячейки, выброшенные при смене даты",
			},
		),
	}
}

// RecordFlush: n — записано ячеек; n < 0 — сбрасывать было нечего.
func (m *CounterMetrics) RecordFlush(n int, d time.Duration, err error) {
	if m == nil {
		return
	}
	switch {
	case err != nil:
		m.FlushesTotal.WithLabelValues("error").Inc()
	case n < 0:
		m.FlushesTotal.WithLabelValues("noop").Inc()
		return
	default:
		m.FlushesTotal.WithLabelValues("ok").Inc()
		m.FlushedCellsTotal.Add(float64(n))
	}
	m.FlushDuration.Observe(d.Seconds())
}

func (m *CounterMetrics) RecordTransition(from, to string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.TransitionsTotal.WithLabelValues(from, to, result).Inc()
}

func (m *CounterMetrics) RecordSnapshotDecode(result string) {
	if m == nil {
		return
	}
	m.SnapshotDecodeTotal.WithLabelValues(result).Inc()
}

func (m *CounterMetrics) RecordDiscard(n int) {
	if m == nil || n == 0 {
		return
	}
	m.DiscardedCellsTotal.Add(float64(n))
}
