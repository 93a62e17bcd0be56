package common

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
)

// ---------------------------------------------------------------------------
// Interfaces
// ---------------------------------------------------------------------------

// InferenceMetrics records embedding-model telemetry.
type InferenceMetrics interface {
	RecordInference(ctx context.Context, p *InferenceMetricParams)
	RecordBatchProcessing(ctx context.Context, p *BatchMetricParams)
	RecordModelLoad(ctx context.Context, model ModelIdentity, durationMs float64, success bool)
}

// InferenceMetricParams carries one forward pass.
type InferenceMetricParams struct {
	Model      ModelIdentity
	Device     string
	Residues   int
	Edges      int
	DurationMs float64
	Success    bool
}

// BatchMetricParams carries one batch run.
type BatchMetricParams struct {
	Model           ModelIdentity
	Items           int
	Failed          int
	Workers         int
	TotalDurationMs float64
}

// ---------------------------------------------------------------------------
// Prometheus implementation
// ---------------------------------------------------------------------------

const metricsPrefix = "progres_inference_"

var defaultLatencyBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000}

type prometheusInferenceMetrics struct {
	inferenceLatency *prometheus.HistogramVec
	inferenceTotal   *prometheus.CounterVec
	residues         *prometheus.HistogramVec
	batchDuration    *prometheus.HistogramVec
	batchItems       *prometheus.CounterVec
	modelLoad        *prometheus.HistogramVec
}

// NewPrometheusInferenceMetrics registers the inference metrics on
// registerer (the default registerer when nil).
func NewPrometheusInferenceMetrics(registerer prometheus.Registerer) (InferenceMetrics, error) {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	m := &prometheusInferenceMetrics{
		inferenceLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    metricsPrefix + "duration_milliseconds",
			Help:    "Per-structure EGNN forward pass latency in milliseconds.",
			Buckets: defaultLatencyBuckets,
		}, []string{"model", "device"}),
		inferenceTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metricsPrefix + "total",
			Help: "Embeddings computed.",
		}, []string{"model", "status"}),
		residues: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    metricsPrefix + "residues",
			Help:    "Residues per embedded structure or domain.",
			Buckets: []float64{25, 50, 100, 200, 400, 800, 1600, 3200},
		}, []string{"model"}),
		batchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    metricsPrefix + "batch_duration_milliseconds",
			Help:    "Batch embedding duration in milliseconds.",
			Buckets: defaultLatencyBuckets,
		}, []string{"model"}),
		batchItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metricsPrefix + "batch_items_total",
			Help: "Items processed in embedding batches.",
		}, []string{"model", "status"}),
		modelLoad: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    metricsPrefix + "model_load_duration_milliseconds",
			Help:    "Checkpoint load duration in milliseconds.",
			Buckets: defaultLatencyBuckets,
		}, []string{"model", "status"}),
	}
	for _, c := range []prometheus.Collector{
		m.inferenceLatency, m.inferenceTotal, m.residues,
		m.batchDuration, m.batchItems, m.modelLoad,
	} {
		if err := registerer.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func statusLabel(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

func (m *prometheusInferenceMetrics) RecordInference(_ context.Context, p *InferenceMetricParams) {
	if p == nil {
		return
	}
	model := p.Model.String()
	device := p.Device
	if device == "" {
		device = string(DeviceCPU)
	}
	m.inferenceTotal.WithLabelValues(model, statusLabel(p.Success)).Inc()
	if p.Success {
		m.inferenceLatency.WithLabelValues(model, device).Observe(p.DurationMs)
		m.residues.WithLabelValues(model).Observe(float64(p.Residues))
	}
}

func (m *prometheusInferenceMetrics) RecordBatchProcessing(_ context.Context, p *BatchMetricParams) {
	if p == nil {
		return
	}
	model := p.Model.String()
	m.batchDuration.WithLabelValues(model).Observe(p.TotalDurationMs)
	m.batchItems.WithLabelValues(model, "success").Add(float64(p.Items - p.Failed))
	m.batchItems.WithLabelValues(model, "failed").Add(float64(p.Failed))
}

func (m *prometheusInferenceMetrics) RecordModelLoad(_ context.Context, model ModelIdentity, durationMs float64, success bool) {
	m.modelLoad.WithLabelValues(model.String(), statusLabel(success)).Observe(durationMs)
}

// ---------------------------------------------------------------------------
// Noop implementation
// ---------------------------------------------------------------------------

type noopInferenceMetrics struct{}

// NewNoopInferenceMetrics returns metrics that record nothing.
func NewNoopInferenceMetrics() InferenceMetrics { return noopInferenceMetrics{} }

func (noopInferenceMetrics) RecordInference(context.Context, *InferenceMetricParams)        {}
func (noopInferenceMetrics) RecordBatchProcessing(context.Context, *BatchMetricParams)      {}
func (noopInferenceMetrics) RecordModelLoad(context.Context, ModelIdentity, float64, bool) {}
