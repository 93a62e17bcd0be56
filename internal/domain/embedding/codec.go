package embedding

import (
	"encoding/binary"
	"math"

	"github.com/turtacn/progres-go/pkg/errors"
)

// EncodeVector packs v as little-endian float32.
func EncodeVector(v []float32) []byte {
	out := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(out[4*i:], math.Float32bits(x))
	}
	return out
}

// DecodeVector unpacks a little-endian float32 vector of length dim.
func DecodeVector(b []byte, dim int) ([]float32, error) {
	if len(b) != 4*dim {
		return nil, errors.Newf(errors.ErrCodeDatabaseCorrupt, "vector has %d bytes, expected %d", len(b), 4*dim)
	}
	out := make([]float32, dim)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return out, nil
}
