// Package metrics defines the Prometheus instruments of the server.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for whisperd.
type Metrics struct {
	Requests          *prometheus.CounterVec
	InferenceDuration *prometheus.HistogramVec
	ModelsLoaded      prometheus.Gauge
	ModelLoadDuration *prometheus.HistogramVec
}

// New creates the metrics and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		Requests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "whisperd_requests_total",
			Help: "Total number of service calls by operation and envelope status code",
		}, []string{"operation", "status_code"}),
		InferenceDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "whisperd_inference_duration_seconds",
			Help:    "Wall time of transcription and translation calls, lock wait included",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 100ms to ~3.4 minutes
		}, []string{"model_id"}),
		ModelsLoaded: f.NewGauge(prometheus.GaugeOpts{
			Name: "whisperd_models_loaded",
			Help: "Current number of loaded models",
		}),
		ModelLoadDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "whisperd_model_load_duration_seconds",
			Help:    "Time spent loading and warming up models",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10), // 250ms to ~2 minutes
		}, []string{"model_id"}),
	}
}

// NewNop returns metrics registered on a private registry.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}

// ObserveRequest counts one service call.
func (m *Metrics) ObserveRequest(operation string, statusCode int) {
	m.Requests.WithLabelValues(operation, strconv.Itoa(statusCode)).Inc()
}

// ObserveInference records the duration of an inference call started at start.
func (m *Metrics) ObserveInference(modelID string, start time.Time) {
	m.InferenceDuration.WithLabelValues(modelID).Observe(time.Since(start).Seconds())
}

// ObserveLoad records the duration of a model load started at start.
func (m *Metrics) ObserveLoad(modelID string, start time.Time) {
	m.ModelLoadDuration.WithLabelValues(modelID).Observe(time.Since(start).Seconds())
}

// SetModelsLoaded sets the loaded model gauge.
func (m *Metrics) SetModelsLoaded(n int) {
	m.ModelsLoaded.Set(float64(n))
}
