package embedding

import (
	"math"

	"gonum.org/v1/gonum/blas/blas32"

	"github.com/turtacn/progres-go/pkg/errors"
)

// belowOne is the largest score a pair of distinct vectors can reach.
var belowOne = math.Nextafter(1, 0)

// ProgresScore maps cosine similarity to [0, 1] as (1 + cos) / 2. Only
// identical vectors score exactly 1; rounding never lifts a distinct pair
// above belowOne. Vectors must have equal length.
func ProgresScore(a, b []float32) float64 {
	if identical(a, b) {
		return 1
	}
	va := blas32.Vector{N: len(a), Data: a, Inc: 1}
	vb := blas32.Vector{N: len(b), Data: b, Inc: 1}
	na, nb := float64(blas32.Nrm2(va)), float64(blas32.Nrm2(vb))
	if na == 0 || nb == 0 {
		return 0.5
	}
	cos := float64(blas32.Dot(va, vb)) / (na * nb)
	s := (1 + cos) / 2
	switch {
	case s < 0:
		return 0
	case s > belowOne:
		return belowOne
	}
	return s
}

func identical(a, b []float32) bool {
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

// Score compares two embeddings produced by the same model. The result is
// symmetric and lies in [0, 1].
func Score(a, b *Embedding) (float64, error) {
	if !a.Model.Equal(b.Model) {
		return 0, errors.Newf(errors.ErrCodeModelMismatch,
			"cannot compare embeddings of %s and %s", a.Model, b.Model)
	}
	if a.Dim() != b.Dim() || a.Dim() == 0 {
		return 0, errors.Newf(errors.ErrCodeInvalidParam,
			"embedding dimensions differ (%d, %d)", a.Dim(), b.Dim())
	}
	return ProgresScore(a.Vector, b.Vector), nil
}
