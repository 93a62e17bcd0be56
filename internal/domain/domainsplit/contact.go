package domainsplit

import (
	"context"
	"fmt"
	"math"

	"github.com/turtacn/progres-go/internal/domain/structure"
)

const (
	contactDistance   = 8.0
	minContactSpacing = 3
	DefaultMinSegment = 40
	DefaultMaxRatio   = 0.3
)

// ContactSegmenter bisects a chain recursively at the position where the
// ratio of contacts across the cut to contacts within the smaller side is
// lowest. A cut is accepted when that ratio is below MaxRatio and both sides
// keep at least MinSegment residues.
type ContactSegmenter struct {
	MinSegment int
	MaxRatio   float64
}

// NewContactSegmenter returns a segmenter with the given limits, using the
// defaults for non-positive values.
func NewContactSegmenter(minSegment int, maxRatio float64) *ContactSegmenter {
	if minSegment <= 0 {
		minSegment = DefaultMinSegment
	}
	if maxRatio <= 0 {
		maxRatio = DefaultMaxRatio
	}
	return &ContactSegmenter{MinSegment: minSegment, MaxRatio: maxRatio}
}

func (c *ContactSegmenter) Name() string { return "contact" }

// Settings renders the segmenter limits.
func (c *ContactSegmenter) Settings() string {
	return fmt.Sprintf("contact(min_segment=%d,max_ratio=%g)", c.MinSegment, c.MaxRatio)
}

type contact struct{ i, j int }

func (c *ContactSegmenter) Segment(ctx context.Context, s *structure.Structure) ([]Domain, error) {
	n := s.Len()
	coords := s.Coords()

	var contacts []contact
	for i := 0; i < n; i++ {
		for j := i + minContactSpacing; j < n; j++ {
			if coords[i].Dist(coords[j]) < contactDistance {
				contacts = append(contacts, contact{i, j})
			}
		}
	}

	var ranges [][2]int
	var split func(lo, hi int) error
	split = func(lo, hi int) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		k, ok := c.bestCut(contacts, lo, hi)
		if !ok {
			ranges = append(ranges, [2]int{lo, hi})
			return nil
		}
		if err := split(lo, k); err != nil {
			return err
		}
		return split(k, hi)
	}
	if err := split(0, n); err != nil {
		return nil, err
	}

	out := make([]Domain, len(ranges))
	for i, r := range ranges {
		out[i] = Domain{Index: i, Segments: []Segment{{Start: r[0] + 1, End: r[1]}}}
	}
	return out, nil
}

// bestCut scans cuts k in [lo+MinSegment, hi-MinSegment] over the residues
// [lo, hi). The first cut with the lowest ratio wins.
func (c *ContactSegmenter) bestCut(contacts []contact, lo, hi int) (int, bool) {
	if hi-lo < 2*c.MinSegment {
		return 0, false
	}
	size := hi - lo + 1
	interDiff := make([]int, size+1) // contact (i,j) crosses cuts k in (i, j]
	endsAt := make([]int, size)      // by j, for the left side
	startsAt := make([]int, size)    // by i, for the right side
	for _, ct := range contacts {
		if ct.i < lo || ct.j >= hi {
			continue
		}
		interDiff[ct.i+1-lo]++
		interDiff[ct.j+1-lo]--
		endsAt[ct.j-lo]++
		startsAt[ct.i-lo]++
	}

	// left[k] counts contacts with j < k; right[k] counts contacts with i >= k.
	left := make([]int, size)
	for k := 1; k < size; k++ {
		left[k] = left[k-1] + endsAt[k-1]
	}
	right := make([]int, size)
	for k := size - 2; k >= 0; k-- {
		right[k] = right[k+1] + startsAt[k]
	}

	best, bestRatio := -1, math.Inf(1)
	inter := 0
	for k := 0; k < size-1; k++ {
		inter += interDiff[k]
		cut := lo + k
		if cut < lo+c.MinSegment || cut > hi-c.MinSegment {
			continue
		}
		intra := left[k]
		if right[k] < intra {
			intra = right[k]
		}
		if intra == 0 {
			continue
		}
		if r := float64(inter) / float64(intra); r < bestRatio {
			best, bestRatio = cut, r
		}
	}
	if best < 0 || bestRatio >= c.MaxRatio {
		return 0, false
	}
	return best, true
}
