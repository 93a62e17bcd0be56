package progres_gnn

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/turtacn/progres-go/pkg/errors"
)

// ---------------------------------------------------------------------------
// Parameter layout
// ---------------------------------------------------------------------------

// parameterShapes lists every tensor the network needs, keyed by checkpoint
// name. Weights are stored (out, in) as in PyTorch.
func parameterShapes(c ModelConfig) map[string][]int {
	h := c.HiddenDim
	edgeIn := 2*h + 1 + c.Graph.EdgeDim()
	shapes := map[string][]int{
		"embed.weight":  {h, c.Graph.NodeDim()},
		"embed.bias":    {h},
		"head.0.weight": {h, h},
		"head.0.bias":   {h},
		"head.2.weight": {c.EmbeddingDim, h},
		"head.2.bias":   {c.EmbeddingDim},
	}
	for l := 0; l < c.Layers; l++ {
		p := fmt.Sprintf("layers.%d.", l)
		shapes[p+"edge_mlp.0.weight"] = []int{h, edgeIn}
		shapes[p+"edge_mlp.0.bias"] = []int{h}
		shapes[p+"edge_mlp.2.weight"] = []int{h, h}
		shapes[p+"edge_mlp.2.bias"] = []int{h}
		shapes[p+"coord_mlp.0.weight"] = []int{h, h}
		shapes[p+"coord_mlp.0.bias"] = []int{h}
		shapes[p+"coord_mlp.2.weight"] = []int{1, h}
		shapes[p+"node_mlp.0.weight"] = []int{h, 2 * h}
		shapes[p+"node_mlp.0.bias"] = []int{h}
		shapes[p+"node_mlp.2.weight"] = []int{h, h}
		shapes[p+"node_mlp.2.bias"] = []int{h}
	}
	return shapes
}

// RandomCheckpoint initialises a checkpoint for c with the uniform
// fan-in scheme PyTorch uses for linear layers. The same seed always gives
// the same weights.
func RandomCheckpoint(c ModelConfig, seed int64) *Checkpoint {
	shapes := parameterShapes(c)
	names := make([]string, 0, len(shapes))
	for name := range shapes {
		names = append(names, name)
	}
	sort.Strings(names)

	rng := rand.New(rand.NewSource(seed))
	ck := &Checkpoint{Metadata: c.metadata(), Tensors: make(map[string]*Tensor, len(shapes))}
	for _, name := range names {
		t := &Tensor{Shape: shapes[name]}
		t.Data = make([]float64, t.Len())
		weight := t.Shape
		if strings.HasSuffix(name, ".bias") {
			weight = shapes[strings.TrimSuffix(name, ".bias")+".weight"]
		}
		fanIn := weight[1]
		bound := 1 / math.Sqrt(float64(fanIn))
		for i := range t.Data {
			t.Data[i] = (2*rng.Float64() - 1) * bound
		}
		ck.Tensors[name] = t
	}
	return ck
}

// ---------------------------------------------------------------------------
// Layers
// ---------------------------------------------------------------------------

type linear struct {
	w *mat.Dense // out × in
	b []float64  // nil for no bias
}

func (l *linear) in() int {
	_, c := l.w.Dims()
	return c
}

func (l *linear) out() int {
	r, _ := l.w.Dims()
	return r
}

// forward computes x·Wᵀ + b for every row of x.
func (l *linear) forward(x mat.Matrix) *mat.Dense {
	r, _ := x.Dims()
	y := mat.NewDense(r, l.out(), nil)
	y.Mul(x, l.w.T())
	if l.b != nil {
		for i := 0; i < r; i++ {
			row := y.RawRowView(i)
			for j, v := range l.b {
				row[j] += v
			}
		}
	}
	return y
}

func silu(m *mat.Dense) *mat.Dense {
	m.Apply(func(_, _ int, v float64) float64 { return v / (1 + math.Exp(-v)) }, m)
	return m
}

// egnnLayer is one E(n)-equivariant message-passing layer.
type egnnLayer struct {
	edge1, edge2   linear
	coord1, coord2 linear
	node1, node2   linear
}

// network holds the parameters of the whole model.
type network struct {
	cfg    ModelConfig
	embed  linear
	layers []egnnLayer
	head1  linear
	head2  linear
}

// newNetwork checks every tensor against the expected layout and builds the
// layers. Missing or mis-shaped tensors are checkpoint errors.
func newNetwork(c ModelConfig, tensors map[string]*Tensor) (*network, error) {
	shapes := parameterShapes(c)
	for name, want := range shapes {
		t, ok := tensors[name]
		if !ok {
			return nil, errors.Newf(errors.ErrCodeCheckpointCorrupt, "checkpoint lacks tensor %s", name)
		}
		if !equalShape(t.Shape, want) || len(t.Data) != t.Len() {
			return nil, errors.Newf(errors.ErrCodeCheckpointCorrupt,
				"tensor %s has shape %v, expected %v", name, t.Shape, want)
		}
	}
	lin := func(prefix string, bias bool) linear {
		w := tensors[prefix+".weight"]
		l := linear{w: mat.NewDense(w.Shape[0], w.Shape[1], append([]float64(nil), w.Data...))}
		if bias {
			l.b = append([]float64(nil), tensors[prefix+".bias"].Data...)
		}
		return l
	}
	n := &network{
		cfg:   c,
		embed: lin("embed", true),
		head1: lin("head.0", true),
		head2: lin("head.2", true),
	}
	for l := 0; l < c.Layers; l++ {
		p := fmt.Sprintf("layers.%d.", l)
		n.layers = append(n.layers, egnnLayer{
			edge1:  lin(p+"edge_mlp.0", true),
			edge2:  lin(p+"edge_mlp.2", true),
			coord1: lin(p+"coord_mlp.0", true),
			coord2: lin(p+"coord_mlp.2", false),
			node1:  lin(p+"node_mlp.0", true),
			node2:  lin(p+"node_mlp.2", true),
		})
	}
	return n, nil
}

func equalShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// forward returns the unnormalised graph embedding.
func (n *network) forward(g *StructureGraph) []float64 {
	h := n.embed.forward(g.Nodes)
	x := make([][3]float64, len(g.Coords))
	for i, c := range g.Coords {
		x[i] = [3]float64(c)
	}
	scale := 1 / (g.Spec.ContactDistance * g.Spec.ContactDistance)
	for i := range n.layers {
		h, x = n.layers[i].forward(h, x, g, scale)
	}

	nodes, hid := h.Dims()
	pooled := mat.NewDense(1, hid, nil)
	row := pooled.RawRowView(0)
	for i := 0; i < nodes; i++ {
		for j, v := range h.RawRowView(i) {
			row[j] += v
		}
	}
	for j := range row {
		row[j] /= float64(nodes)
	}
	out := n.head2.forward(silu(n.head1.forward(pooled)))
	return append([]float64(nil), out.RawRowView(0)...)
}

// forward runs message passing over the fixed edge set. Squared distances
// enter the edge network in units of the contact distance; coordinate
// updates use unit directions weighted by tanh so they stay bounded.
func (l *egnnLayer) forward(h *mat.Dense, x [][3]float64, g *StructureGraph, distScale float64) (*mat.Dense, [][3]float64) {
	nodes, hid := h.Dims()
	edges := len(g.Edges)
	agg := mat.NewDense(nodes, hid, nil)
	next := make([][3]float64, nodes)
	copy(next, x)

	if edges > 0 {
		w := l.edge1.w
		wi := w.Slice(0, hid, 0, hid)
		wj := w.Slice(0, hid, hid, 2*hid)
		wd := mat.Col(nil, 2*hid, w)
		we := w.Slice(0, hid, 2*hid+1, l.edge1.in())
		edgeDim := l.edge1.in() - 2*hid - 1

		var a, b mat.Dense
		a.Mul(h, wi.T())
		b.Mul(h, wj.T())
		attrs := mat.NewDense(edges, edgeDim, nil)
		for e, f := range g.EdgeFeatures {
			copy(attrs.RawRowView(e), f)
		}
		var ea mat.Dense
		ea.Mul(attrs, we.T())

		pre := mat.NewDense(edges, hid, nil)
		diff := make([][3]float64, edges)
		for e, ij := range g.Edges {
			i, j := ij[0], ij[1]
			d := [3]float64{x[i][0] - x[j][0], x[i][1] - x[j][1], x[i][2] - x[j][2]}
			d2 := d[0]*d[0] + d[1]*d[1] + d[2]*d[2]
			norm := math.Sqrt(d2) + 1
			diff[e] = [3]float64{d[0] / norm, d[1] / norm, d[2] / norm}
			row := pre.RawRowView(e)
			ar, br, er := a.RawRowView(i), b.RawRowView(j), ea.RawRowView(e)
			for k := range row {
				row[k] = ar[k] + br[k] + er[k] + wd[k]*d2*distScale + l.edge1.b[k]
			}
		}
		msg := silu(l.edge2.forward(silu(pre)))
		phi := l.coord2.forward(silu(l.coord1.forward(msg)))

		deg := make([]float64, nodes)
		for e, ij := range g.Edges {
			i := ij[0]
			deg[i]++
			mr, ar := msg.RawRowView(e), agg.RawRowView(i)
			for k, v := range mr {
				ar[k] += v
			}
			s := math.Tanh(phi.At(e, 0))
			for c := 0; c < 3; c++ {
				next[i][c] += diff[e][c] * s
			}
		}
		for i := range next {
			if deg[i] == 0 {
				continue
			}
			for c := 0; c < 3; c++ {
				next[i][c] = x[i][c] + (next[i][c]-x[i][c])/deg[i]
			}
		}
	}

	in := mat.NewDense(nodes, 2*hid, nil)
	in.Slice(0, nodes, 0, hid).(*mat.Dense).Copy(h)
	in.Slice(0, nodes, hid, 2*hid).(*mat.Dense).Copy(agg)
	upd := l.node2.forward(silu(l.node1.forward(in)))
	upd.Add(upd, h)
	return upd, next
}
