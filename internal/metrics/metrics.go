// Package metrics exposes ingest counters on a private Prometheus registry.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tickbars/internal/model"
)

// Recorder holds the ingest metrics. A nil *Recorder is valid and records nothing.
type Recorder struct {
	registry *prometheus.Registry

	events        *prometheus.CounterVec
	lateEvents    *prometheus.CounterVec
	barsPersisted *prometheus.CounterVec
	fetchErrors   *prometheus.CounterVec
	persistErrors *prometheus.CounterVec
	units         *prometheus.CounterVec
	checkpoint    *prometheus.GaugeVec
}

// New registers every metric under namespace on a fresh registry.
func New(namespace string) *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Recorder{
		registry: reg,
		events: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Events dispatched to aggregators.",
		}, []string{"kind"}),
		lateEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "late_events_total",
			Help:      "Events older than the previous event of the same unit.",
		}, []string{"kind"}),
		barsPersisted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bars_persisted_total",
			Help:      "Bars handed to the sink, snapshots included.",
		}, []string{"kind", "resolution"}),
		fetchErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_errors_total",
			Help:      "Failed source fetches.",
		}, []string{"kind"}),
		persistErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persist_errors_total",
			Help:      "Failed sink writes.",
		}, []string{"kind", "resolution"}),
		units: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "units_total",
			Help:      "Finished units of work by status.",
		}, []string{"kind", "status"}),
		checkpoint: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "checkpoint_cursor_seconds",
			Help:      "Unix time of the last durably persisted cursor.",
		}, []string{"kind"}),
	}
}

func (r *Recorder) Event(kind model.Kind) {
	if r == nil {
		return
	}
	r.events.WithLabelValues(kind.String()).Inc()
}

func (r *Recorder) LateEvent(kind model.Kind) {
	if r == nil {
		return
	}
	r.lateEvents.WithLabelValues(kind.String()).Inc()
}

func (r *Recorder) BarsPersisted(kind model.Kind, res model.Resolution, n int) {
	if r == nil {
		return
	}
	r.barsPersisted.WithLabelValues(kind.String(), res.String()).Add(float64(n))
}

func (r *Recorder) FetchError(kind model.Kind) {
	if r == nil {
		return
	}
	r.fetchErrors.WithLabelValues(kind.String()).Inc()
}

func (r *Recorder) PersistError(kind model.Kind, res model.Resolution) {
	if r == nil {
		return
	}
	r.persistErrors.WithLabelValues(kind.String(), res.String()).Inc()
}

// Unit records the outcome of one unit of work; status is "ok" or "failed".
func (r *Recorder) Unit(kind model.Kind, status string) {
	if r == nil {
		return
	}
	r.units.WithLabelValues(kind.String(), status).Inc()
}

func (r *Recorder) Checkpoint(kind model.Kind, cursor time.Time) {
	if r == nil {
		return
	}
	r.checkpoint.WithLabelValues(kind.String()).Set(float64(cursor.Unix()))
}

// Handler serves the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Serve runs a /metrics endpoint on addr until ctx is done.
func (r *Recorder) Serve(ctx context.Context, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", r.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Warn("metrics server stopped", "addr", addr, "error", err)
		}
	}()
}
