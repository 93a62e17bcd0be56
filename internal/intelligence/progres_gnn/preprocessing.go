package progres_gnn

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/turtacn/progres-go/internal/domain/structure"
	"github.com/turtacn/progres-go/pkg/errors"
)

// contactNorm scales the per-residue contact count into node features.
const contactNorm = 32.0

// StructureGraph is the residue graph of one structure or domain. Node i is
// residue i; edge e connects Edges[e][0] (receiver) to Edges[e][1].
type StructureGraph struct {
	ID           string
	Spec         GraphSpec
	Nodes        *mat.Dense // residues × Spec.NodeDim()
	Coords       []structure.Vec3
	Edges        [][2]int
	EdgeFeatures [][]float64 // edges × Spec.EdgeDim()
}

// NumNodes is the residue count.
func (g *StructureGraph) NumNodes() int { return len(g.Coords) }

// NumEdges is the directed edge count.
func (g *StructureGraph) NumEdges() int { return len(g.Edges) }

// GraphBuilder converts structures into graphs under one GraphSpec. It is
// stateless and safe for concurrent use.
type GraphBuilder struct {
	spec GraphSpec
}

func NewGraphBuilder(spec GraphSpec) (*GraphBuilder, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return &GraphBuilder{spec: spec}, nil
}

func (b *GraphBuilder) Spec() GraphSpec { return b.spec }

// Build is deterministic: the same structure always yields the same graph.
func (b *GraphBuilder) Build(s *structure.Structure) (*StructureGraph, error) {
	n := s.Len()
	if n == 0 {
		return nil, errors.ParseError(s.Path, "structure has no residues")
	}
	coords := s.Coords()
	cutoff := b.spec.ContactDistance

	var edges [][2]int
	contacts := make([]int, n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if i == j || coords[i].Dist(coords[j]) >= cutoff {
				continue
			}
			edges = append(edges, [2]int{i, j})
			contacts[i]++
		}
	}

	nodes := mat.NewDense(n, b.spec.NodeDim(), nil)
	tau := dihedrals(coords)
	for i := 0; i < n; i++ {
		row := nodes.RawRowView(i)
		if !math.IsNaN(tau[i]) {
			row[0] = math.Sin(tau[i])
			row[1] = math.Cos(tau[i])
		}
		row[2] = float64(contacts[i]) / contactNorm
		positionalEncoding(row[3:], i)
	}

	feats := make([][]float64, len(edges))
	maxSep := float64(b.spec.MaxSeparation)
	for e, ij := range edges {
		sep := math.Abs(float64(ij[0] - ij[1]))
		neighbour := 0.0
		if sep == 1 {
			neighbour = 1
		}
		feats[e] = []float64{math.Min(sep, maxSep) / maxSep, neighbour}
	}

	return &StructureGraph{
		ID:           s.ID(),
		Spec:         b.spec,
		Nodes:        nodes,
		Coords:       coords,
		Edges:        edges,
		EdgeFeatures: feats,
	}, nil
}

// dihedrals returns the Cα pseudo-torsion τ(i-1, i, i+1, i+2) for each
// residue i; residues without four neighbours get NaN.
func dihedrals(ca []structure.Vec3) []float64 {
	out := make([]float64, len(ca))
	for i := range out {
		out[i] = math.NaN()
	}
	for i := 1; i+2 < len(ca); i++ {
		b1 := ca[i].Sub(ca[i-1])
		b2 := ca[i+1].Sub(ca[i])
		b3 := ca[i+2].Sub(ca[i+1])
		n1 := b1.Cross(b2)
		n2 := b2.Cross(b3)
		l := b2.Norm()
		if l == 0 {
			continue
		}
		u := structure.Vec3{b2[0] / l, b2[1] / l, b2[2] / l}
		m1 := n1.Cross(u)
		out[i] = math.Atan2(m1.Dot(n2), n1.Dot(n2))
	}
	return out
}

// positionalEncoding fills dst with sinusoidal encodings of pos.
func positionalEncoding(dst []float64, pos int) {
	d := len(dst)
	for k := 0; k+1 < d; k += 2 {
		freq := math.Pow(10000, -float64(k)/float64(d))
		dst[k] = math.Sin(float64(pos) * freq)
		dst[k+1] = math.Cos(float64(pos) * freq)
	}
}
