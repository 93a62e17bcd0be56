package structure

import (
	"bytes"
	"io"
	"os"

	"github.com/klauspost/compress/gzip"

	"github.com/turtacn/progres-go/pkg/errors"
)

var gzipMagic = []byte{0x1f, 0x8b}

// DefaultMaxDecompressedSize bounds the plain size of a gzipped structure.
const DefaultMaxDecompressedSize int64 = 1 << 30

// Loader parses structure files. The zero value applies
// DefaultMaxDecompressedSize.
type Loader struct {
	// MaxDecompressedSize is the largest plain size a gzipped input may
	// expand to.
	MaxDecompressedSize int64
}

func (l Loader) maxDecompressedSize() int64 {
	if l.MaxDecompressedSize > 0 {
		return l.MaxDecompressedSize
	}
	return DefaultMaxDecompressedSize
}

// Load reads and parses the structure file at path with the default limits.
func Load(path string, format Format) (*Structure, error) {
	return Loader{}.Load(path, format)
}

// LoadBytes parses in-memory content with the default limits.
func LoadBytes(name string, data []byte, format Format) (*Structure, error) {
	return Loader{}.LoadBytes(name, data, format)
}

// Load reads and parses the structure file at path. Gzipped files are
// detected by their magic bytes.
func (l Loader) Load(path string, format Format) (*Structure, error) {
	f, err := resolveFormat(path, format)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrap(err, errors.ErrCodeParseFailed, "structure file not found").WithDetail(path)
		}
		return nil, errors.Wrap(err, errors.ErrCodeParseFailed, "reading structure file").WithDetail(path)
	}
	return l.parse(path, data, f)
}

// LoadBytes parses in-memory content. name supplies the extension used when
// format is FormatGuess and is recorded as the structure path.
func (l Loader) LoadBytes(name string, data []byte, format Format) (*Structure, error) {
	f, err := resolveFormat(name, format)
	if err != nil {
		return nil, err
	}
	return l.parse(name, data, f)
}

func (l Loader) parse(path string, data []byte, f Format) (*Structure, error) {
	if bytes.HasPrefix(data, gzipMagic) {
		zr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeParseFailed, "opening gzip stream").WithDetail(path)
		}
		defer zr.Close()
		limit := l.maxDecompressedSize()
		plain, err := io.ReadAll(io.LimitReader(zr, limit+1))
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeParseFailed, "decompressing gzip stream").WithDetail(path)
		}
		if int64(len(plain)) > limit {
			return nil, errors.Newf(errors.ErrCodeParseFailed,
				"decompressed structure exceeds %d bytes", limit).WithDetail(path)
		}
		data = plain
	}

	r := bytes.NewReader(data)
	switch f {
	case FormatPDB:
		return parsePDB(r, path)
	case FormatMMCIF:
		return parseMMCIF(r, path)
	case FormatMMTF:
		return parseMMTF(r, path)
	case FormatCoords:
		return parseCoords(r, path)
	}
	return nil, errors.Newf(errors.ErrCodeUnsupportedFormat, "unsupported structure format %q", f).WithDetail(path)
}
