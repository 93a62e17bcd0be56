package structure

import (
	"path/filepath"
	"strings"

	"github.com/turtacn/progres-go/pkg/errors"
)

// Format identifies a structure file encoding.
type Format string

const (
	FormatGuess  Format = "guess"
	FormatPDB    Format = "pdb"
	FormatMMCIF  Format = "mmcif"
	FormatMMTF   Format = "mmtf"
	FormatCoords Format = "coords"
)

var extensionFormats = map[string]Format{
	".pdb":    FormatPDB,
	".ent":    FormatPDB,
	".brk":    FormatPDB,
	".cif":    FormatMMCIF,
	".mmcif":  FormatMMCIF,
	".mmtf":   FormatMMTF,
	".txt":    FormatCoords,
	".coords": FormatCoords,
	".xyz":    FormatCoords,
}

// ParseFormat validates a user-supplied format name. Empty means guess.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	switch f {
	case "":
		return FormatGuess, nil
	case FormatGuess, FormatPDB, FormatMMCIF, FormatMMTF, FormatCoords:
		return f, nil
	case "cif":
		return FormatMMCIF, nil
	}
	return "", errors.Newf(errors.ErrCodeUnsupportedFormat, "unsupported structure format %q", s).
		WithDetail("expected guess, pdb, mmcif, mmtf or coords")
}

// GuessFormat infers the format from the file extension, ignoring a trailing
// ".gz". It fails rather than defaulting when the extension is unknown.
func GuessFormat(path string) (Format, error) {
	name := strings.ToLower(filepath.Base(path))
	name = strings.TrimSuffix(name, ".gz")
	if f, ok := extensionFormats[filepath.Ext(name)]; ok {
		return f, nil
	}
	return "", errors.Newf(errors.ErrCodeUnsupportedFormat,
		"cannot guess structure format from file name").WithDetail(path)
}

// resolveFormat turns FormatGuess into a concrete format.
func resolveFormat(path string, f Format) (Format, error) {
	if f == "" || f == FormatGuess {
		return GuessFormat(path)
	}
	return ParseFormat(string(f))
}
