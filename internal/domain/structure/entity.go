// Package structure holds the residue-level model of a protein structure and
// the parsers that build it from PDB, mmCIF, MMTF and raw coordinate files.
package structure

import (
	"fmt"
	"math"
	"path/filepath"
	"strings"
)

// Vec3 is a Cartesian coordinate in Ångström.
type Vec3 [3]float64

func (v Vec3) Sub(o Vec3) Vec3 { return Vec3{v[0] - o[0], v[1] - o[1], v[2] - o[2]} }

func (v Vec3) Dot(o Vec3) float64 { return v[0]*o[0] + v[1]*o[1] + v[2]*o[2] }

func (v Vec3) Cross(o Vec3) Vec3 {
	return Vec3{
		v[1]*o[2] - v[2]*o[1],
		v[2]*o[0] - v[0]*o[2],
		v[0]*o[1] - v[1]*o[0],
	}
}

func (v Vec3) Norm() float64 { return math.Sqrt(v.Dot(v)) }

// Dist returns the Euclidean distance between v and o.
func (v Vec3) Dist(o Vec3) float64 { return v.Sub(o).Norm() }

// Residue is one amino acid reduced to its Cα atom.
type Residue struct {
	Name    string // three-letter code, "UNK" when unknown
	Number  int    // author residue number
	InsCode string // insertion code, empty when absent
	Chain   string
	CA      Vec3
}

// Label renders chain, number and insertion code, e.g. "A:112B".
func (r Residue) Label() string {
	return fmt.Sprintf("%s:%d%s", r.Chain, r.Number, r.InsCode)
}

// Structure is an ordered, immutable list of residues. Callers must not
// modify Residues after parsing; Subset returns copies.
type Structure struct {
	Path     string
	Label    string // chain or domain label, optional
	Residues []Residue
}

// Len is the residue count.
func (s *Structure) Len() int { return len(s.Residues) }

// ID is the file base name without structure and compression extensions,
// suffixed by the label when one is set.
func (s *Structure) ID() string {
	base := filepath.Base(s.Path)
	base = strings.TrimSuffix(base, ".gz")
	base = strings.TrimSuffix(base, filepath.Ext(base))
	if s.Label != "" {
		return base + "_" + s.Label
	}
	return base
}

// Coords returns the Cα coordinates in residue order.
func (s *Structure) Coords() []Vec3 {
	out := make([]Vec3, len(s.Residues))
	for i, r := range s.Residues {
		out[i] = r.CA
	}
	return out
}

// Subset returns a new Structure made of the residues at the given 0-based
// positions, in that order.
func (s *Structure) Subset(positions []int, label string) (*Structure, error) {
	res := make([]Residue, 0, len(positions))
	for _, p := range positions {
		if p < 0 || p >= len(s.Residues) {
			return nil, fmt.Errorf("residue position %d outside [0, %d)", p, len(s.Residues))
		}
		res = append(res, s.Residues[p])
	}
	return &Structure{Path: s.Path, Label: label, Residues: res}, nil
}

// Renumbered returns a copy whose residues are numbered 1..n in order with
// insertion codes cleared, so residue numbers equal 1-based positions.
func (s *Structure) Renumbered() *Structure {
	res := make([]Residue, len(s.Residues))
	for i, r := range s.Residues {
		r.Number = i + 1
		r.InsCode = ""
		res[i] = r
	}
	return &Structure{Path: s.Path, Label: s.Label, Residues: res}
}

// Chains lists chain ids in order of first appearance.
func (s *Structure) Chains() []string {
	var out []string
	seen := make(map[string]bool)
	for _, r := range s.Residues {
		if !seen[r.Chain] {
			seen[r.Chain] = true
			out = append(out, r.Chain)
		}
	}
	return out
}
