package search

import (
	"bufio"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/turtacn/progres-go/pkg/errors"
)

// ListEntry is one line of a structure list: "path id [note ...]".
type ListEntry struct {
	Line int
	Path string
	ID   string
	Note string
}

// Where locates the entry for error messages.
func (e ListEntry) Where(list string) string {
	return list + ":" + strconv.Itoa(e.Line) + " (" + e.Path + ")"
}

// ReadStructureList parses the structure list file at path.
func ReadStructureList(path string) ([]ListEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeListLineInvalid, "cannot open structure list").WithDetail(path)
	}
	defer f.Close()
	return ParseStructureList(f, path)
}

// ParseStructureList reads "path id [note ...]" lines. Blank lines and lines
// starting with '#' are skipped. A line with fewer than two fields is an
// error naming its line number.
func ParseStructureList(r io.Reader, name string) ([]ListEntry, error) {
	var out []ListEntry
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Fields(text)
		if len(fields) < 2 {
			return nil, errors.Newf(errors.ErrCodeListLineInvalid,
				"structure list line %d: expected \"path id [note]\", got %q", line, text).
				WithDetail(name + ":" + strconv.Itoa(line))
		}
		out = append(out, ListEntry{
			Line: line,
			Path: fields[0],
			ID:   fields[1],
			Note: strings.Join(fields[2:], " "),
		})
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeListLineInvalid, "reading structure list").WithDetail(name)
	}
	if len(out) == 0 {
		return nil, errors.New(errors.ErrCodeListLineInvalid, "structure list has no entries").WithDetail(name)
	}
	return out, nil
}
