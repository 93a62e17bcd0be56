package structure

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"github.com/turtacn/progres-go/pkg/errors"
)

// parseCoords reads one Cα per line as three floats separated by whitespace
// or commas. Residues are numbered from 1 and named UNK.
func parseCoords(r io.Reader, path string) (*Structure, error) {
	b := newResidueBuilder(path)
	sc := bufio.NewScanner(r)

	lineNo, n := 0, 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.FieldsFunc(line, func(c rune) bool {
			return c == ',' || c == ' ' || c == '\t'
		})
		if len(fields) != 3 {
			return nil, lineError(path, lineNo, "expected 3 coordinates, found %d", len(fields))
		}
		var ca Vec3
		for i, f := range fields {
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return nil, lineError(path, lineNo, "invalid coordinate %q", f)
			}
			ca[i] = v
		}
		n++
		b.add(Residue{Name: "UNK", Number: n, Chain: "A", CA: ca})
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeParseFailed, "reading coordinate file").WithDetail(path)
	}
	return b.build()
}
