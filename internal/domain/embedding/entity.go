// Package embedding holds structure embeddings, the databases they are
// collected in, and the scoring and search operations over them.
package embedding

import (
	"math"

	"github.com/turtacn/progres-go/internal/intelligence/common"
)

// Embedding is the fixed-length, L2-normalised vector of one structure or
// domain. Embeddings are comparable only when Model is equal.
type Embedding struct {
	ID          string               `json:"id"`
	Note        string               `json:"note,omitempty"`
	NRes        int                  `json:"nres"`
	DomainIndex int                  `json:"domain_index"`
	Chopping    string               `json:"chopping,omitempty"`
	Model       common.ModelIdentity `json:"model"`
	Vector      []float32            `json:"embedding"`
}

// Dim is the vector length.
func (e *Embedding) Dim() int { return len(e.Vector) }

// Normalize returns v scaled to unit L2 norm. A zero vector is returned as a
// zero vector.
func Normalize(v []float64) []float32 {
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	out := make([]float32, len(v))
	if sum == 0 {
		return out
	}
	inv := 1 / math.Sqrt(sum)
	for i, x := range v {
		out[i] = float32(x * inv)
	}
	return out
}
