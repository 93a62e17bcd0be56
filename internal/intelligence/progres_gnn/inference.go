package progres_gnn

import (
	"context"
	"time"

	"github.com/turtacn/progres-go/internal/domain/embedding"
	"github.com/turtacn/progres-go/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/progres-go/internal/intelligence/common"
	"github.com/turtacn/progres-go/pkg/errors"
)

// EGNNModel is the loaded embedding network. It is immutable after loading
// and safe for concurrent use.
type EGNNModel struct {
	cfg        ModelConfig
	net        *network
	device     common.DeviceConfig
	checkpoint string
	logger     logging.Logger
	metrics    common.InferenceMetrics
}

var _ Embedder = (*EGNNModel)(nil)

// Option customises an EGNNModel.
type Option func(*EGNNModel)

func WithLogger(l logging.Logger) Option {
	return func(m *EGNNModel) {
		if l != nil {
			m.logger = l
		}
	}
}

func WithMetrics(mt common.InferenceMetrics) Option {
	return func(m *EGNNModel) {
		if mt != nil {
			m.metrics = mt
		}
	}
}

// LoadModel resolves name through the registry and loads its checkpoint.
// Unknown names are configuration errors; unreadable checkpoints are model
// load errors.
func LoadModel(ctx context.Context, registry *common.ModelRegistry, name string, device common.DeviceConfig, opts ...Option) (*EGNNModel, error) {
	path, err := registry.Resolve(name)
	if err != nil {
		return nil, err
	}
	return LoadCheckpoint(ctx, path, device, opts...)
}

// LoadCheckpoint loads a safetensors checkpoint whose metadata describes the
// model configuration.
func LoadCheckpoint(ctx context.Context, path string, device common.DeviceConfig, opts ...Option) (*EGNNModel, error) {
	start := time.Now()
	m, err := loadCheckpoint(path, device, opts...)
	if err != nil {
		failed := newBareModel(opts)
		failed.metrics.RecordModelLoad(ctx, common.ModelIdentity{Name: path}, msSince(start), false)
		failed.logger.Error("model load failed", logging.Path(path), logging.Err(err))
		return nil, err
	}
	m.checkpoint = path
	m.metrics.RecordModelLoad(ctx, m.Identity(), msSince(start), true)
	m.logger.Info("model loaded",
		logging.Model(m.Identity().String()), logging.Path(path),
		logging.String("device", device.String()), logging.Int("workers", device.Workers))
	return m, nil
}

func loadCheckpoint(path string, device common.DeviceConfig, opts ...Option) (*EGNNModel, error) {
	ck, err := ReadCheckpoint(path)
	if err != nil {
		return nil, err
	}
	cfg, err := configFromMetadata(ck.Metadata)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeCheckpointCorrupt, "reading model configuration").WithDetail(path)
	}
	m, err := NewEGNNModel(cfg, ck.Tensors, device, opts...)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeUnknown, "building model").WithDetail(path)
	}
	return m, nil
}

// NewEGNNModel builds a model from in-memory tensors.
func NewEGNNModel(cfg ModelConfig, tensors map[string]*Tensor, device common.DeviceConfig, opts ...Option) (*EGNNModel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if device.Kind == "" {
		device = common.CPU(device.Workers)
	}
	if device.Kind != common.DeviceCPU {
		return nil, errors.Newf(errors.ErrCodeDeviceUnavailable, "device %s is not available in this build", device)
	}
	net, err := newNetwork(cfg, tensors)
	if err != nil {
		return nil, err
	}
	m := newBareModel(opts)
	m.cfg = cfg
	m.net = net
	m.device = device
	return m, nil
}

// newBareModel carries only the options' logger and metrics.
func newBareModel(opts []Option) *EGNNModel {
	m := &EGNNModel{logger: logging.NewNopLogger(), metrics: common.NewNoopInferenceMetrics()}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *EGNNModel) Identity() common.ModelIdentity { return m.cfg.Identity() }
func (m *EGNNModel) GraphSpec() GraphSpec            { return m.cfg.Graph }
func (m *EGNNModel) Config() ModelConfig             { return m.cfg }
func (m *EGNNModel) Device() common.DeviceConfig     { return m.device }
func (m *EGNNModel) Dim() int                        { return m.cfg.EmbeddingDim }

// CheckGraph rejects graphs built under another spec.
func (m *EGNNModel) CheckGraph(g *StructureGraph) error {
	if g.Spec != m.cfg.Graph {
		return errors.Newf(errors.ErrCodeGraphSpecMismatch,
			"graph %s was built with %+v, model %s expects %+v", g.ID, g.Spec, m.Identity(), m.cfg.Graph)
	}
	if r, c := g.Nodes.Dims(); r != g.NumNodes() || c != g.Spec.NodeDim() {
		return errors.Newf(errors.ErrCodeInvalidParam, "graph %s has malformed node features", g.ID)
	}
	return nil
}

// Embed runs one forward pass.
func (m *EGNNModel) Embed(ctx context.Context, g *StructureGraph) (*embedding.Embedding, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := m.CheckGraph(g); err != nil {
		return nil, err
	}
	start := time.Now()
	vec := embedding.Normalize(m.net.forward(g))
	m.metrics.RecordInference(ctx, &common.InferenceMetricParams{
		Model:      m.Identity(),
		Device:     m.device.String(),
		Residues:   g.NumNodes(),
		Edges:      g.NumEdges(),
		DurationMs: msSince(start),
		Success:    true,
	})
	return &embedding.Embedding{
		ID:     g.ID,
		NRes:   g.NumNodes(),
		Model:  m.Identity(),
		Vector: vec,
	}, nil
}

// EmbedBatch embeds graphs on the device's worker pool. Every graph is
// checked before any inference runs; results are in input order and equal
// to embedding each graph alone.
func (m *EGNNModel) EmbedBatch(ctx context.Context, graphs []*StructureGraph) ([]*embedding.Embedding, error) {
	for _, g := range graphs {
		if err := m.CheckGraph(g); err != nil {
			return nil, err
		}
	}
	start := time.Now()
	out, err := common.ProcessBatch(ctx, graphs, m.device.Workers,
		func(ctx context.Context, _ int, g *StructureGraph) (*embedding.Embedding, error) {
			return m.Embed(ctx, g)
		})
	failed := 0
	if err != nil {
		failed = len(graphs)
	}
	m.metrics.RecordBatchProcessing(ctx, &common.BatchMetricParams{
		Model:           m.Identity(),
		Items:           len(graphs),
		Failed:          failed,
		Workers:         m.device.Workers,
		TotalDurationMs: msSince(start),
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func msSince(t time.Time) float64 {
	return float64(time.Since(t).Microseconds()) / 1000
}
