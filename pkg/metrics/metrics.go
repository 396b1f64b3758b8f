package metrics

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nicholas-fedor/imagekeeper/pkg/types"
)

var (
	metrics     *Metrics
	metricsOnce sync.Once
)

// Metrics records detection verdicts and update attempt outcomes.
type Metrics struct {
	detections *prometheus.CounterVec   // Detections by verdict kind.
	applies    *prometheus.CounterVec   // Update attempts by status.
	inFlight   prometheus.Gauge         // Update attempts currently running.
	duration   *prometheus.HistogramVec // Update attempt duration by status.
	persisted  *prometheus.CounterVec   // Audit writes by result.
}

// NewWithRegistry creates a Metrics handler registered with registry.
//
// Parameters:
//   - registry: Prometheus registerer to use for metric registration.
//
// Returns:
//   - (*Metrics, error): Metrics handler, or an error if a collector is
//     already registered.
func NewWithRegistry(registry prometheus.Registerer) (*Metrics, error) {
	metrics := &Metrics{
		detections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "imagekeeper_detections_total",
			Help: "Number of update detections by verdict",
		}, []string{"verdict"}),
		applies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "imagekeeper_updates_total",
			Help: "Number of update attempts by final status",
		}, []string{"status"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "imagekeeper_updates_in_flight",
			Help: "Number of update attempts currently running",
		}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "imagekeeper_update_duration_seconds",
			Help:    "Duration of update attempts by final status",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"status"}),
		persisted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "imagekeeper_history_writes_total",
			Help: "Number of update record writes by result",
		}, []string{"result"}),
	}

	for _, collector := range []prometheus.Collector{
		metrics.detections,
		metrics.applies,
		metrics.inFlight,
		metrics.duration,
		metrics.persisted,
	} {
		if err := registry.Register(collector); err != nil {
			return nil, fmt.Errorf("failed to register metric: %w", err)
		}
	}

	return metrics, nil
}

// Default initializes or returns the Metrics handler registered with the
// default Prometheus registry. It panics on registration failure.
func Default() *Metrics {
	metricsOnce.Do(func() {
		var err error

		metrics, err = NewWithRegistry(prometheus.DefaultRegisterer)
		if err != nil {
			panic(err)
		}
	})

	return metrics
}

// RecordDetection counts one detection verdict.
func (m *Metrics) RecordDetection(kind types.VerdictKind) {
	m.detections.WithLabelValues(kind.String()).Inc()
}

// StartApply marks an update attempt as running. The returned function
// records the attempt's final status and duration; call it exactly once.
//
// Returns:
//   - func(types.UpdateStatus): Completion callback.
func (m *Metrics) StartApply() func(types.UpdateStatus) {
	started := time.Now()

	m.inFlight.Inc()

	return func(status types.UpdateStatus) {
		m.inFlight.Dec()
		m.applies.WithLabelValues(string(status)).Inc()
		m.duration.WithLabelValues(string(status)).Observe(time.Since(started).Seconds())
	}
}

// RecordPersist counts an update record write.
func (m *Metrics) RecordPersist(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}

	m.persisted.WithLabelValues(result).Inc()
}
