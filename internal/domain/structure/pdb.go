package structure

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"github.com/turtacn/progres-go/pkg/errors"
)

// column returns the 1-based inclusive column range [from, to] of line,
// trimmed, tolerating short lines.
func column(line string, from, to int) string {
	if from > len(line) {
		return ""
	}
	if to > len(line) {
		to = len(line)
	}
	return strings.TrimSpace(line[from-1 : to])
}

// parsePDB reads fixed-column ATOM records and HETATM records of
// selenomethionine. Only the first model is read.
func parsePDB(r io.Reader, path string) (*Structure, error) {
	b := newResidueBuilder(path)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := sc.Text()
		if strings.HasPrefix(line, "ENDMDL") {
			break
		}
		record := column(line, 1, 6)
		if record != "ATOM" && record != "HETATM" {
			continue
		}
		// Atom name is matched with its padding so calcium ("CA  ") is
		// never mistaken for an alpha carbon (" CA ").
		if len(line) < 16 || line[12:16] != " CA " {
			continue
		}
		resName := column(line, 18, 20)
		if record == "HETATM" && resName != "MSE" {
			continue
		}
		if len(line) < 54 {
			return nil, lineError(path, lineNo, "truncated %s record", record)
		}
		num, err := strconv.Atoi(column(line, 23, 26))
		if err != nil {
			return nil, lineError(path, lineNo, "invalid residue number %q", column(line, 23, 26))
		}
		var ca Vec3
		for i, cols := range [3][2]int{{31, 38}, {39, 46}, {47, 54}} {
			v, err := strconv.ParseFloat(column(line, cols[0], cols[1]), 64)
			if err != nil {
				return nil, lineError(path, lineNo, "invalid coordinate %q", column(line, cols[0], cols[1]))
			}
			ca[i] = v
		}
		b.add(Residue{
			Name:    resName,
			Number:  num,
			InsCode: column(line, 27, 27),
			Chain:   column(line, 22, 22),
			CA:      ca,
		})
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeParseFailed, "reading PDB file").WithDetail(path)
	}
	return b.build()
}
