package structure

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"github.com/turtacn/progres-go/pkg/errors"
)

// cifToken is a value or keyword from a CIF file. Quoted and text-field
// values are never keywords even when they look like one.
type cifToken struct {
	text   string
	quoted bool
	line   int
}

func (t cifToken) isKeyword() bool {
	if t.quoted {
		return false
	}
	lower := strings.ToLower(t.text)
	return strings.HasPrefix(t.text, "_") || lower == "loop_" ||
		strings.HasPrefix(lower, "data_") || strings.HasPrefix(lower, "save_") || lower == "stop_"
}

func (t cifToken) null() bool {
	return !t.quoted && (t.text == "." || t.text == "?")
}

// tokenizeCIF splits a CIF document into tokens, handling quoted strings
// (a quote only closes when followed by whitespace), ';' text fields and
// comments.
func tokenizeCIF(r io.Reader, path string) ([]cifToken, error) {
	var toks []cifToken
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := sc.Text()

		if strings.HasPrefix(line, ";") {
			start := lineNo
			var sb strings.Builder
			sb.WriteString(line[1:])
			closed := false
			for sc.Scan() {
				lineNo++
				l := sc.Text()
				if strings.HasPrefix(l, ";") {
					closed = true
					break
				}
				sb.WriteByte('\n')
				sb.WriteString(l)
			}
			if !closed {
				return nil, lineError(path, start, "unterminated text field")
			}
			toks = append(toks, cifToken{text: sb.String(), quoted: true, line: start})
			continue
		}

		i := 0
		for i < len(line) {
			c := line[i]
			switch {
			case c == ' ' || c == '\t':
				i++
			case c == '#':
				i = len(line)
			case c == '\'' || c == '"':
				j := i + 1
				for {
					k := strings.IndexByte(line[j:], c)
					if k < 0 {
						return nil, lineError(path, lineNo, "unterminated quoted string")
					}
					j += k
					if j+1 == len(line) || line[j+1] == ' ' || line[j+1] == '\t' {
						break
					}
					j++
				}
				toks = append(toks, cifToken{text: line[i+1 : j], quoted: true, line: lineNo})
				i = j + 1
			default:
				j := i
				for j < len(line) && line[j] != ' ' && line[j] != '\t' {
					j++
				}
				toks = append(toks, cifToken{text: line[i:j], line: lineNo})
				i = j
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeParseFailed, "reading mmCIF file").WithDetail(path)
	}
	return toks, nil
}

// atomSiteColumns maps the _atom_site items used here to their loop index.
type atomSiteColumns map[string]int

func (c atomSiteColumns) pick(names ...string) int {
	for _, n := range names {
		if i, ok := c[n]; ok {
			return i
		}
	}
	return -1
}

// parseMMCIF reads the _atom_site loop. Author numbering and chain ids are
// preferred over label ones; only the first model is read.
func parseMMCIF(r io.Reader, path string) (*Structure, error) {
	toks, err := tokenizeCIF(r, path)
	if err != nil {
		return nil, err
	}

	for i := 0; i < len(toks); i++ {
		if toks[i].quoted || strings.ToLower(toks[i].text) != "loop_" {
			continue
		}
		j := i + 1
		cols := atomSiteColumns{}
		for ; j < len(toks) && !toks[j].quoted && strings.HasPrefix(toks[j].text, "_"); j++ {
			name := strings.ToLower(toks[j].text)
			if strings.HasPrefix(name, "_atom_site.") {
				cols[strings.TrimPrefix(name, "_atom_site.")] = j - i - 1
			}
		}
		nCols := j - i - 1
		if len(cols) == 0 || len(cols) != nCols {
			continue
		}
		end := j
		for end < len(toks) && !toks[end].isKeyword() {
			end++
		}
		return readAtomSite(toks[j:end], cols, nCols, path)
	}
	return nil, errors.ParseError(path, "no _atom_site loop found")
}

func readAtomSite(values []cifToken, cols atomSiteColumns, nCols int, path string) (*Structure, error) {
	if len(values)%nCols != 0 {
		line := 0
		if len(values) > 0 {
			line = values[len(values)-1].line
		}
		return nil, lineError(path, line, "_atom_site loop has %d values for %d columns", len(values), nCols)
	}

	group := cols.pick("group_pdb")
	atom := cols.pick("auth_atom_id", "label_atom_id")
	comp := cols.pick("auth_comp_id", "label_comp_id")
	chain := cols.pick("auth_asym_id", "label_asym_id")
	seq := cols.pick("auth_seq_id", "label_seq_id")
	ins := cols.pick("pdbx_pdb_ins_code")
	model := cols.pick("pdbx_pdb_model_num")
	xi, yi, zi := cols.pick("cartn_x"), cols.pick("cartn_y"), cols.pick("cartn_z")
	if atom < 0 || seq < 0 || xi < 0 || yi < 0 || zi < 0 {
		return nil, errors.ParseError(path, "_atom_site loop lacks atom name, residue number or coordinates")
	}

	get := func(row []cifToken, i int) string {
		if i < 0 || row[i].null() {
			return ""
		}
		return row[i].text
	}

	b := newResidueBuilder(path)
	firstModel := ""
	for off := 0; off < len(values); off += nCols {
		row := values[off : off+nCols]
		if m := get(row, model); m != "" {
			if firstModel == "" {
				firstModel = m
			} else if m != firstModel {
				break
			}
		}
		if get(row, atom) != "CA" {
			continue
		}
		resName := get(row, comp)
		if g := get(row, group); g == "HETATM" && resName != "MSE" {
			continue
		}
		num, err := strconv.Atoi(get(row, seq))
		if err != nil {
			return nil, lineError(path, row[seq].line, "invalid residue number %q", row[seq].text)
		}
		var ca Vec3
		for k, ci := range [3]int{xi, yi, zi} {
			v, err := strconv.ParseFloat(get(row, ci), 64)
			if err != nil {
				return nil, lineError(path, row[ci].line, "invalid coordinate %q", row[ci].text)
			}
			ca[k] = v
		}
		b.add(Residue{
			Name:    resName,
			Number:  num,
			InsCode: get(row, ins),
			Chain:   get(row, chain),
			CA:      ca,
		})
	}
	return b.build()
}
