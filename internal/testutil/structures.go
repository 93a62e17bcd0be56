package testutil

import (
	"fmt"
	"math"
	"strings"

	"github.com/turtacn/progres-go/internal/domain/structure"
)

// HelixLength is the number of residues per helix in generated bundles.
const HelixLength = 15

// Bundle builds a compact helix bundle: helices of HelixLength residues on
// the corners of a 10 Å square, alternating direction, shifted by origin.
// Residue numbers start at firstNumber.
func Bundle(helices int, origin structure.Vec3, chain string, firstNumber int) []structure.Residue {
	corners := [4][2]float64{{0, 0}, {10, 0}, {10, 10}, {0, 10}}
	var out []structure.Residue
	n := firstNumber
	for h := 0; h < helices; h++ {
		c := corners[h%4]
		layer := float64(h/4) * 25
		for j := 0; j < HelixLength; j++ {
			k := j
			if h%2 == 1 {
				k = HelixLength - 1 - j
			}
			theta := float64(j) * 100 * math.Pi / 180
			out = append(out, structure.Residue{
				Name:   "ALA",
				Number: n,
				Chain:  chain,
				CA: structure.Vec3{
					origin[0] + c[0] + 2.3*math.Cos(theta),
					origin[1] + c[1] + 2.3*math.Sin(theta),
					origin[2] + layer + 1.5*float64(k),
				},
			})
			n++
		}
	}
	return out
}

// SingleDomain is a four-helix bundle of 60 residues.
func SingleDomain(path string) *structure.Structure {
	return &structure.Structure{Path: path, Residues: Bundle(4, structure.Vec3{}, "A", 1)}
}

// TwoDomain places two four-helix bundles 40 Å apart in one chain, giving
// 120 residues with no contacts between residues 1-60 and 61-120.
func TwoDomain(path string) *structure.Structure {
	res := Bundle(4, structure.Vec3{}, "A", 1)
	res = append(res, Bundle(4, structure.Vec3{40, 0, 0}, "A", 61)...)
	return &structure.Structure{Path: path, Residues: res}
}

// Shifted returns a copy of s rigidly translated by d.
func Shifted(s *structure.Structure, d structure.Vec3) *structure.Structure {
	res := make([]structure.Residue, len(s.Residues))
	for i, r := range s.Residues {
		r.CA = structure.Vec3{r.CA[0] + d[0], r.CA[1] + d[1], r.CA[2] + d[2]}
		res[i] = r
	}
	return &structure.Structure{Path: s.Path, Label: s.Label, Residues: res}
}

// PDBText renders residues as fixed-column ATOM records with one CA atom each.
func PDBText(res []structure.Residue) string {
	var sb strings.Builder
	for i, r := range res {
		chain := r.Chain
		if chain == "" {
			chain = "A"
		}
		ins := r.InsCode
		if ins == "" {
			ins = " "
		}
		fmt.Fprintf(&sb, "ATOM  %5d  CA  %3s %1s%4d%1s   %8.3f%8.3f%8.3f  1.00  0.00           C\n",
			i+1, r.Name, chain, r.Number, ins, r.CA[0], r.CA[1], r.CA[2])
	}
	sb.WriteString("END\n")
	return sb.String()
}

// CoordsText renders residues as one "x y z" line each.
func CoordsText(res []structure.Residue) string {
	var sb strings.Builder
	for _, r := range res {
		fmt.Fprintf(&sb, "%.3f %.3f %.3f\n", r.CA[0], r.CA[1], r.CA[2])
	}
	return sb.String()
}
