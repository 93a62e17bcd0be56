package domainsplit

import (
	"bufio"
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/turtacn/progres-go/internal/domain/structure"
	"github.com/turtacn/progres-go/pkg/errors"
)

// ExternalSegmenter runs a domain-segmentation program. Command is a
// template; "{input}" is replaced by a CA-only PDB file of the structure and
// "{output}" by the path of the TSV the program must write. The TSV needs a
// header row with a "chopping" column; the first data row is used. The input
// is renumbered 1..n so the chopping reads as residue positions.
type ExternalSegmenter struct {
	Command string
	Timeout time.Duration
	TempDir string
}

func (e *ExternalSegmenter) Name() string { return "external" }

// Settings renders the command template.
func (e *ExternalSegmenter) Settings() string { return "external(" + e.Command + ")" }

func (e *ExternalSegmenter) Segment(ctx context.Context, s *structure.Structure) ([]Domain, error) {
	args := strings.Fields(e.Command)
	if len(args) == 0 {
		return nil, errors.New(errors.ErrCodeInvalidParam, "external segmenter command is empty")
	}

	dir, err := os.MkdirTemp(e.TempDir, "progres-seg-")
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSegmentationFailed, "creating work directory")
	}
	defer os.RemoveAll(dir)

	input := filepath.Join(dir, "input.pdb")
	output := filepath.Join(dir, "output.tsv")
	if err := writeInput(input, s); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSegmentationFailed, "writing segmenter input")
	}
	for i, a := range args {
		a = strings.ReplaceAll(a, "{input}", input)
		args[i] = strings.ReplaceAll(a, "{output}", output)
	}

	if e.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = dir
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSegmentationFailed, "segmenter command failed").
			WithDetail(strings.TrimSpace(stderr.String()))
	}

	chopping, err := readChopping(output)
	if err != nil {
		return nil, err
	}
	return ParseChopping(chopping, s.Len())
}

func writeInput(path string, s *structure.Structure) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := structure.WritePDB(f, s.Renumbered()); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// readChopping returns the chopping column of the first data row.
func readChopping(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrCodeSegmentationFailed, "segmenter wrote no output")
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	col := -1
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		cells := strings.Split(line, "\t")
		if col < 0 {
			for i, c := range cells {
				if strings.EqualFold(strings.TrimSpace(c), "chopping") {
					col = i
				}
			}
			if col < 0 {
				return "", errors.New(errors.ErrCodeSegmentationFailed, "segmenter output has no chopping column")
			}
			continue
		}
		if col >= len(cells) {
			return "", errors.New(errors.ErrCodeSegmentationFailed, "segmenter output row lacks a chopping value")
		}
		return strings.TrimSpace(cells[col]), nil
	}
	if err := sc.Err(); err != nil {
		return "", errors.Wrap(err, errors.ErrCodeSegmentationFailed, "reading segmenter output")
	}
	return "", nil
}
