// Package domainsplit segments a structure into structural domains. A
// Segmenter proposes domains; FallbackSplitter guarantees that every
// structure yields at least one domain so a run never aborts on segmentation.
package domainsplit

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/turtacn/progres-go/internal/domain/structure"
	"github.com/turtacn/progres-go/pkg/errors"
)

// Segment is an inclusive range of 1-based residue positions.
type Segment struct {
	Start int
	End   int
}

func (s Segment) Len() int { return s.End - s.Start + 1 }

// Domain is a possibly discontinuous set of residues of one structure.
type Domain struct {
	Index    int // 0-based position among the structure's domains
	Segments []Segment
}

// Size is the number of residues covered.
func (d Domain) Size() int {
	n := 0
	for _, s := range d.Segments {
		n += s.Len()
	}
	return n
}

// Chopping renders the segments as "1-100,150-200".
func (d Domain) Chopping() string {
	parts := make([]string, len(d.Segments))
	for i, s := range d.Segments {
		parts[i] = fmt.Sprintf("%d-%d", s.Start, s.End)
	}
	return strings.Join(parts, ",")
}

// Positions lists the 0-based residue positions covered, in order.
func (d Domain) Positions() []int {
	out := make([]int, 0, d.Size())
	for _, s := range d.Segments {
		for p := s.Start; p <= s.End; p++ {
			out = append(out, p-1)
		}
	}
	return out
}

// Extract builds the domain's sub-structure labelled "D<index+1>".
func (d Domain) Extract(s *structure.Structure) (*structure.Structure, error) {
	return s.Subset(d.Positions(), "D"+strconv.Itoa(d.Index+1))
}

// Whole is the single domain covering all n residues.
func Whole(n int) Domain {
	return Domain{Segments: []Segment{{Start: 1, End: n}}}
}

// FormatChopping joins domain choppings with "_".
func FormatChopping(domains []Domain) string {
	parts := make([]string, len(domains))
	for i, d := range domains {
		parts[i] = d.Chopping()
	}
	return strings.Join(parts, "_")
}

// ParseChopping parses "1-100,150-200_201-300" into domains: "_" separates
// domains and "," separates segments. Positions are 1-based and must lie in
// [1, n]; domains must not overlap.
func ParseChopping(chopping string, n int) ([]Domain, error) {
	chopping = strings.TrimSpace(chopping)
	if chopping == "" || chopping == "NULL" || chopping == "-" {
		return nil, nil
	}
	used := make([]bool, n+1)
	var out []Domain
	for di, dom := range strings.Split(chopping, "_") {
		d := Domain{Index: di}
		for _, seg := range strings.Split(dom, ",") {
			lo, hi, ok := strings.Cut(strings.TrimSpace(seg), "-")
			if !ok {
				return nil, errors.Newf(errors.ErrCodeSegmentationFailed, "malformed segment %q", seg)
			}
			start, err1 := strconv.Atoi(lo)
			end, err2 := strconv.Atoi(hi)
			if err1 != nil || err2 != nil || start < 1 || end < start || end > n {
				return nil, errors.Newf(errors.ErrCodeSegmentationFailed,
					"segment %q outside residues 1-%d", seg, n)
			}
			for p := start; p <= end; p++ {
				if used[p] {
					return nil, errors.Newf(errors.ErrCodeSegmentationFailed, "residue %d assigned to two domains", p)
				}
				used[p] = true
			}
			d.Segments = append(d.Segments, Segment{Start: start, End: end})
		}
		out = append(out, d)
	}
	return out, nil
}

// CheckDomains verifies that every domain has at least one segment, that all
// positions lie in [1, n] and that no residue belongs to two domains.
func CheckDomains(domains []Domain, n int) error {
	used := make([]bool, n+1)
	for _, d := range domains {
		if len(d.Segments) == 0 {
			return errors.Newf(errors.ErrCodeSegmentationFailed, "domain %d has no segments", d.Index+1)
		}
		for _, seg := range d.Segments {
			if seg.Start < 1 || seg.End < seg.Start || seg.End > n {
				return errors.Newf(errors.ErrCodeSegmentationFailed,
					"segment %d-%d outside residues 1-%d", seg.Start, seg.End, n)
			}
			for p := seg.Start; p <= seg.End; p++ {
				if used[p] {
					return errors.Newf(errors.ErrCodeSegmentationFailed, "residue %d assigned to two domains", p)
				}
				used[p] = true
			}
		}
	}
	return nil
}

// Segmenter proposes domains for a structure.
type Segmenter interface {
	Name() string
	Segment(ctx context.Context, s *structure.Structure) ([]Domain, error)
}

// Domains iterates lazily over the sub-structures of a split.
//
//	for it.Next() {
//		sub, dom := it.Structure(), it.Domain()
//	}
//	if err := it.Err(); err != nil { ... }
type Domains struct {
	source  *structure.Structure
	domains []Domain
	pos     int
	cur     *structure.Structure
	err     error
}

// NewDomains creates an iterator over domains of s.
func NewDomains(s *structure.Structure, domains []Domain) *Domains {
	return &Domains{source: s, domains: domains, pos: -1}
}

// Len is the number of domains.
func (it *Domains) Len() int { return len(it.domains) }

// Chopping is the full chopping string of the split.
func (it *Domains) Chopping() string { return FormatChopping(it.domains) }

// Next extracts the next domain. It returns false when exhausted or on error.
func (it *Domains) Next() bool {
	if it.err != nil || it.pos+1 >= len(it.domains) {
		return false
	}
	it.pos++
	it.cur, it.err = it.domains[it.pos].Extract(it.source)
	return it.err == nil
}

func (it *Domains) Domain() Domain                  { return it.domains[it.pos] }
func (it *Domains) Structure() *structure.Structure { return it.cur }
func (it *Domains) Err() error                      { return it.err }
