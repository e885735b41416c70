package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus collectors labeled by chain and category.
type Metrics struct {
	runs             *prometheus.CounterVec
	eventsDelivered  *prometheus.CounterVec
	deliveryFailures *prometheus.CounterVec
	checkpoint       *prometheus.GaugeVec
	runDuration      *prometheus.HistogramVec
	errors           prometheus.Counter
}

var (
	once    sync.Once
	metrics *Metrics
)

// Init initializes global metrics (idempotent).
func Init() *Metrics {
	once.Do(func() {
		metrics = &Metrics{
			runs: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "chain_inspector_runs_total",
				Help: "Analysis runs by outcome (completed, idle, skipped, failed)",
			}, []string{"chain", "category", "status"}),
			eventsDelivered: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "chain_inspector_events_delivered_total",
				Help: "Domain events accepted by the downstream API",
			}, []string{"chain", "category"}),
			deliveryFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "chain_inspector_delivery_failures_total",
				Help: "Domain events recorded in the failure log",
			}, []string{"chain", "category"}),
			checkpoint: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "chain_inspector_checkpoint_block",
				Help: "Last block committed per chain and category",
			}, []string{"chain", "category"}),
			runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "chain_inspector_run_duration_seconds",
				Help:    "Wall time of analysis runs that did work",
				Buckets: prometheus.DefBuckets,
			}, []string{"chain", "category"}),
			errors: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "chain_inspector_errors_total",
				Help: "Total number of errors encountered",
			}),
		}
		prometheus.MustRegister(
			metrics.runs,
			metrics.eventsDelivered,
			metrics.deliveryFailures,
			metrics.checkpoint,
			metrics.runDuration,
			metrics.errors,
		)
	})
	return metrics
}

// Run counts one analysis run outcome.
func (m *Metrics) Run(chain, category, status string) {
	if m != nil {
		m.runs.WithLabelValues(chain, category, status).Inc()
	}
}

// Delivered adds accepted and failed delivery counts.
func (m *Metrics) Delivered(chain, category string, ok, failed int) {
	if m != nil {
		m.eventsDelivered.WithLabelValues(chain, category).Add(float64(ok))
		m.deliveryFailures.WithLabelValues(chain, category).Add(float64(failed))
	}
}

// Checkpoint records the last committed block.
func (m *Metrics) Checkpoint(chain, category string, block uint64) {
	if m != nil {
		m.checkpoint.WithLabelValues(chain, category).Set(float64(block))
	}
}

// Duration observes the wall time of a run in seconds.
func (m *Metrics) Duration(chain, category string, seconds float64) {
	if m != nil {
		m.runDuration.WithLabelValues(chain, category).Observe(seconds)
	}
}

// Errors increments the errors counter.
func (m *Metrics) Errors() {
	if m != nil {
		m.errors.Inc()
	}
}

// Handler returns an HTTP handler for /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
