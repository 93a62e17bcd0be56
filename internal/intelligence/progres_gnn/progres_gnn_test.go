package progres_gnn_test

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/progres-go/internal/domain/structure"
	"github.com/turtacn/progres-go/internal/intelligence/common"
	"github.com/turtacn/progres-go/internal/intelligence/progres_gnn"
	"github.com/turtacn/progres-go/internal/testutil"
	"github.com/turtacn/progres-go/pkg/errors"
)

func buildGraph(t *testing.T, s *structure.Structure) *progres_gnn.StructureGraph {
	t.Helper()
	b, err := progres_gnn.NewGraphBuilder(progres_gnn.DefaultGraphSpec())
	require.NoError(t, err)
	g, err := b.Build(s)
	require.NoError(t, err)
	return g
}

func loadSmallModel(t *testing.T, workers int) *progres_gnn.EGNNModel {
	t.Helper()
	path := testutil.WriteModel(t, t.TempDir(), testutil.SmallModelConfig(), 7)
	m, err := progres_gnn.LoadCheckpoint(context.Background(), path, common.CPU(workers))
	require.NoError(t, err)
	return m
}

func TestGraphBuilder_Build(t *testing.T) {
	s := testutil.TwoDomain("two.pdb")
	g := buildGraph(t, s)

	assert.Equal(t, "two", g.ID)
	assert.Equal(t, s.Len(), g.NumNodes())
	rows, cols := g.Nodes.Dims()
	assert.Equal(t, s.Len(), rows)
	assert.Equal(t, 67, cols)
	require.Equal(t, g.NumEdges(), len(g.EdgeFeatures))

	edges := make(map[[2]int]bool, g.NumEdges())
	for e, ij := range g.Edges {
		assert.NotEqual(t, ij[0], ij[1], "self loop")
		assert.Less(t, s.Residues[ij[0]].CA.Dist(s.Residues[ij[1]].CA), 10.0)
		f := g.EdgeFeatures[e]
		assert.True(t, f[0] > 0 && f[0] <= 1)
		assert.Equal(t, ij[1]-ij[0] == 1 || ij[0]-ij[1] == 1, f[1] == 1)
		edges[ij] = true
	}
	for ij := range edges {
		assert.True(t, edges[[2]int{ij[1], ij[0]}], "edge %v has no reverse", ij)
	}
	// The bundles are far apart, so no edge crosses residue 60.
	for _, ij := range g.Edges {
		assert.Equal(t, ij[0] < 60, ij[1] < 60)
	}

	for i := 0; i < rows; i++ {
		sin, cos := g.Nodes.At(i, 0), g.Nodes.At(i, 1)
		if i == 0 || i >= rows-2 {
			assert.Zero(t, sin)
			assert.Zero(t, cos)
		} else {
			assert.InDelta(t, 1, sin*sin+cos*cos, 1e-9)
		}
	}
}

func TestGraphBuilder_Deterministic(t *testing.T) {
	s := testutil.SingleDomain("one.pdb")
	a, b := buildGraph(t, s), buildGraph(t, s)
	assert.Equal(t, a.Edges, b.Edges)
	assert.Equal(t, a.EdgeFeatures, b.EdgeFeatures)
	assert.Equal(t, a.Nodes.RawMatrix().Data, b.Nodes.RawMatrix().Data)
}

func TestGraphBuilder_Errors(t *testing.T) {
	_, err := progres_gnn.NewGraphBuilder(progres_gnn.GraphSpec{Policy: "knn", ContactDistance: 10, PositionalDim: 64, MaxSeparation: 64})
	assert.True(t, errors.IsConfigurationError(err))

	b, err := progres_gnn.NewGraphBuilder(progres_gnn.DefaultGraphSpec())
	require.NoError(t, err)
	_, err = b.Build(&structure.Structure{Path: "empty.pdb"})
	assert.True(t, errors.IsParseError(err))
}

func TestCheckpoint_RoundTrip(t *testing.T) {
	cfg := testutil.SmallModelConfig()
	ck := progres_gnn.RandomCheckpoint(cfg, 3)
	path := filepath.Join(t.TempDir(), "m.safetensors")
	require.NoError(t, progres_gnn.WriteCheckpoint(path, ck))

	back, err := progres_gnn.ReadCheckpoint(path)
	require.NoError(t, err)
	assert.Equal(t, ck.Metadata, back.Metadata)
	require.Len(t, back.Tensors, len(ck.Tensors))
	for name, want := range ck.Tensors {
		got := back.Tensors[name]
		require.NotNil(t, got, name)
		assert.Equal(t, want.Shape, got.Shape)
		for i := range want.Data {
			assert.Equal(t, float64(float32(want.Data[i])), got.Data[i])
		}
	}

	again := progres_gnn.RandomCheckpoint(cfg, 3)
	assert.Equal(t, ck.Tensors["embed.weight"].Data, again.Tensors["embed.weight"].Data)
}

func TestLoadCheckpoint_Errors(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	_, err := progres_gnn.LoadCheckpoint(ctx, filepath.Join(dir, "missing.safetensors"), common.CPU(1))
	assert.True(t, errors.IsCode(err, errors.ErrCodeCheckpointMissing))
	assert.True(t, errors.IsModelLoadError(err))

	garbage := filepath.Join(dir, "garbage.safetensors")
	require.NoError(t, os.WriteFile(garbage, []byte("not a checkpoint at all"), 0o644))
	_, err = progres_gnn.LoadCheckpoint(ctx, garbage, common.CPU(1))
	assert.True(t, errors.IsCode(err, errors.ErrCodeCheckpointCorrupt))

	ck := progres_gnn.RandomCheckpoint(testutil.SmallModelConfig(), 1)
	delete(ck.Tensors, "layers.1.node_mlp.2.weight")
	partial := filepath.Join(dir, "partial.safetensors")
	require.NoError(t, progres_gnn.WriteCheckpoint(partial, ck))
	_, err = progres_gnn.LoadCheckpoint(ctx, partial, common.CPU(1))
	assert.True(t, errors.IsModelLoadError(err))

	ck = progres_gnn.RandomCheckpoint(testutil.SmallModelConfig(), 1)
	ck.Tensors["head.2.bias"] = &progres_gnn.Tensor{Shape: []int{3}, Data: []float64{1, 2, 3}}
	misshaped := filepath.Join(dir, "misshaped.safetensors")
	require.NoError(t, progres_gnn.WriteCheckpoint(misshaped, ck))
	_, err = progres_gnn.LoadCheckpoint(ctx, misshaped, common.CPU(1))
	assert.True(t, errors.IsCode(err, errors.ErrCodeCheckpointCorrupt))
}

func TestLoadModel_Registry(t *testing.T) {
	dir := t.TempDir()
	reg := common.NewModelRegistry(dir)
	ctx := context.Background()

	_, err := progres_gnn.LoadModel(ctx, reg, "no-such-model", common.CPU(1))
	assert.True(t, errors.IsCode(err, errors.ErrCodeUnknownModel))

	_, err = progres_gnn.LoadModel(ctx, reg, "", common.CPU(1))
	assert.True(t, errors.IsModelLoadError(err))

	path := testutil.WriteModel(t, dir, testutil.SmallModelConfig(), 1)
	require.NoError(t, reg.Register("small", path))
	m, err := progres_gnn.LoadModel(ctx, reg, "small", common.CPU(1))
	require.NoError(t, err)
	assert.Equal(t, testutil.SmallModelConfig().Identity(), m.Identity())
	assert.Equal(t, progres_gnn.DefaultGraphSpec(), m.GraphSpec())
}

func TestNewEGNNModel_Device(t *testing.T) {
	cfg := testutil.SmallModelConfig()
	ck := progres_gnn.RandomCheckpoint(cfg, 1)
	_, err := progres_gnn.NewEGNNModel(cfg, ck.Tensors, common.DeviceConfig{Kind: common.DeviceMPS})
	assert.True(t, errors.IsCode(err, errors.ErrCodeDeviceUnavailable))
}

func TestEmbed(t *testing.T) {
	m := loadSmallModel(t, 1)
	ctx := context.Background()
	s := testutil.SingleDomain("one.pdb")

	e1, err := m.Embed(ctx, buildGraph(t, s))
	require.NoError(t, err)
	assert.Equal(t, 16, e1.Dim())
	assert.Equal(t, "one", e1.ID)
	assert.Equal(t, 60, e1.NRes)
	assert.Equal(t, m.Identity(), e1.Model)

	var norm float64
	for _, v := range e1.Vector {
		norm += float64(v) * float64(v)
	}
	assert.InDelta(t, 1, math.Sqrt(norm), 1e-5)

	e2, err := m.Embed(ctx, buildGraph(t, s))
	require.NoError(t, err)
	assert.Equal(t, e1.Vector, e2.Vector, "inference must be deterministic")

	moved, err := m.Embed(ctx, buildGraph(t, testutil.Shifted(s, structure.Vec3{12, -3, 40})))
	require.NoError(t, err)
	for i := range e1.Vector {
		assert.InDelta(t, e1.Vector[i], moved.Vector[i], 1e-4)
	}

	single, err := m.Embed(ctx, buildGraph(t, &structure.Structure{Path: "x.pdb", Residues: s.Residues[:1]}))
	require.NoError(t, err)
	assert.Equal(t, 16, single.Dim())
}

func TestEmbed_GraphSpecMismatch(t *testing.T) {
	m := loadSmallModel(t, 1)
	spec := progres_gnn.DefaultGraphSpec()
	spec.ContactDistance = 8
	b, err := progres_gnn.NewGraphBuilder(spec)
	require.NoError(t, err)
	g, err := b.Build(testutil.SingleDomain("one.pdb"))
	require.NoError(t, err)

	_, err = m.Embed(context.Background(), g)
	assert.True(t, errors.IsCode(err, errors.ErrCodeGraphSpecMismatch))
	assert.True(t, errors.IsConfigurationError(err))

	_, err = m.EmbedBatch(context.Background(), []*progres_gnn.StructureGraph{buildGraph(t, testutil.SingleDomain("a.pdb")), g})
	assert.True(t, errors.IsCode(err, errors.ErrCodeGraphSpecMismatch))
}

func TestEmbedBatch_MatchesSequential(t *testing.T) {
	seq := loadSmallModel(t, 1)
	par := loadSmallModel(t, 4)
	ctx := context.Background()

	var graphs []*progres_gnn.StructureGraph
	for i := 0; i < 6; i++ {
		s := testutil.TwoDomain("s.pdb")
		if i%2 == 1 {
			s = testutil.SingleDomain("s.pdb")
		}
		graphs = append(graphs, buildGraph(t, testutil.Shifted(s, structure.Vec3{float64(i), 0, 0})))
	}

	batch, err := par.EmbedBatch(ctx, graphs)
	require.NoError(t, err)
	require.Len(t, batch, len(graphs))
	for i, g := range graphs {
		one, err := seq.Embed(ctx, g)
		require.NoError(t, err)
		assert.Equal(t, one.Vector, batch[i].Vector, "item %d", i)
	}
}

func TestEmbed_Canceled(t *testing.T) {
	m := loadSmallModel(t, 2)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := m.Embed(ctx, buildGraph(t, testutil.SingleDomain("one.pdb")))
	assert.ErrorIs(t, err, context.Canceled)
}
