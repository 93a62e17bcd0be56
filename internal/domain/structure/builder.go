package structure

import (
	"fmt"

	"github.com/turtacn/progres-go/pkg/errors"
)

type residueKey struct {
	chain  string
	number int
	ins    string
}

// residueBuilder collects Cα residues in file order. The first atom seen for
// a residue wins, which keeps the first alternate location.
type residueBuilder struct {
	path     string
	seen     map[residueKey]struct{}
	residues []Residue
}

func newResidueBuilder(path string) *residueBuilder {
	return &residueBuilder{path: path, seen: make(map[residueKey]struct{})}
}

func (b *residueBuilder) add(r Residue) {
	k := residueKey{chain: r.Chain, number: r.Number, ins: r.InsCode}
	if _, dup := b.seen[k]; dup {
		return
	}
	b.seen[k] = struct{}{}
	b.residues = append(b.residues, r)
}

func (b *residueBuilder) build() (*Structure, error) {
	if len(b.residues) == 0 {
		return nil, errors.New(errors.ErrCodeEmptyStructure, "no Cα atoms found").WithDetail(b.path)
	}
	return &Structure{Path: b.path, Residues: b.residues}, nil
}

func lineError(path string, line int, format string, args ...interface{}) error {
	return errors.ParseError(fmt.Sprintf("%s:%d", path, line), fmt.Sprintf(format, args...))
}
