package testutil

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/turtacn/progres-go/internal/domain/structure"
)

// WriteFile writes content to dir/name and returns the path.
func WriteFile(t testing.TB, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
	return path
}

// WritePDB writes s as a CA-only PDB file dir/name.
func WritePDB(t testing.TB, dir, name string, s *structure.Structure) string {
	t.Helper()
	return WriteFile(t, dir, name, PDBText(s.Residues))
}

// WriteList writes a structure list with one "path id [note]" line per row.
func WriteList(t testing.TB, dir, name string, rows ...[]string) string {
	t.Helper()
	var sb strings.Builder
	for _, r := range rows {
		sb.WriteString(strings.Join(r, " "))
		sb.WriteByte('\n')
	}
	return WriteFile(t, dir, name, sb.String())
}
