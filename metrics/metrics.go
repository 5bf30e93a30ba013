// Package metrics exports ledger engine outcomes to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/warp/freshstock/ledger"
)

// Recorder implements ledger.Observer.
type Recorder struct {
	gatherer prometheus.Gatherer

	batches        *prometheus.CounterVec
	batchDuration  *prometheus.HistogramVec
	rowsUpserted   *prometheus.CounterVec
	rowsExamined   prometheus.Counter
	rowsRecomputed prometheus.Counter
	gapDays        prometheus.Counter
}

// New registers the ledger collectors on reg. A nil reg uses a fresh registry.
func New(reg *prometheus.Registry) *Recorder {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)

	return &Recorder{
		gatherer: reg,

		batches: f.NewCounterVec(prometheus.CounterOpts{
			Name: "freshstock_batches_total",
			Help: "Batch upserts by mode and outcome",
		}, []string{"mode", "outcome"}),

		batchDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "freshstock_batch_duration_seconds",
			Help:    "Duration of batch upserts including cascades",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"mode"}),

		rowsUpserted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "freshstock_rows_upserted_total",
			Help: "Ledger rows written by batch upserts",
		}, []string{"mode"}),

		rowsExamined: f.NewCounter(prometheus.CounterOpts{
			Name: "freshstock_recompute_rows_examined_total",
			Help: "Stored rows visited by forward recomputes",
		}),

		rowsRecomputed: f.NewCounter(prometheus.CounterOpts{
			Name: "freshstock_recompute_rows_updated_total",
			Help: "Stored rows rewritten by forward recomputes",
		}),

		gapDays: f.NewCounter(prometheus.CounterOpts{
			Name: "freshstock_recompute_gap_days_total",
			Help: "Calendar days aged without a stored row",
		}),
	}
}

func (r *Recorder) BatchApplied(mode ledger.Mode, rows int, elapsed time.Duration, err error) {
	m := string(mode)
	r.batches.WithLabelValues(m, ledger.ErrorCode(err)).Inc()
	r.batchDuration.WithLabelValues(m).Observe(elapsed.Seconds())
	if err == nil {
		r.rowsUpserted.WithLabelValues(m).Add(float64(rows))
	}
}

func (r *Recorder) Recomputed(res ledger.RecomputeResult) {
	r.rowsExamined.Add(float64(res.Examined))
	r.rowsRecomputed.Add(float64(res.Updated))
	r.gapDays.Add(float64(res.GapDays))
}

// Handler serves the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})
}
