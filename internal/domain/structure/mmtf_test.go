package structure

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ugorji/go/codec"

	"github.com/turtacn/progres-go/pkg/errors"
)

func mmtfHeader(strategy, length, param int32) []byte {
	b := make([]byte, 12)
	binary.BigEndian.PutUint32(b[0:], uint32(strategy))
	binary.BigEndian.PutUint32(b[4:], uint32(length))
	binary.BigEndian.PutUint32(b[8:], uint32(param))
	return b
}

func putInt32s(v []int32) []byte {
	b := make([]byte, 4*len(v))
	for i, x := range v {
		binary.BigEndian.PutUint32(b[4*i:], uint32(x))
	}
	return b
}

func putInt16s(v []int16) []byte {
	b := make([]byte, 2*len(v))
	for i, x := range v {
		binary.BigEndian.PutUint16(b[2*i:], uint16(x))
	}
	return b
}

func encodeRunLength(v []int32) []int32 {
	var out []int32
	for i := 0; i < len(v); {
		j := i
		for j < len(v) && v[j] == v[i] {
			j++
		}
		out = append(out, v[i], int32(j-i))
		i = j
	}
	return out
}

func encodeInt32(v []int32) []byte {
	return append(mmtfHeader(4, int32(len(v)), 0), putInt32s(v)...)
}

func encodeStrings(v []string, width int) []byte {
	out := mmtfHeader(5, int32(len(v)), int32(width))
	for _, s := range v {
		b := make([]byte, width)
		copy(b, s)
		out = append(out, b...)
	}
	return out
}

func encodeChars(v []string) []byte {
	ints := make([]int32, len(v))
	for i, s := range v {
		if s != "" {
			ints[i] = int32(s[0])
		}
	}
	return append(mmtfHeader(6, int32(len(v)), 0), putInt32s(encodeRunLength(ints))...)
}

func encodeDeltaRunLength(v []int32) []byte {
	d := make([]int32, len(v))
	for i := range v {
		d[i] = v[i]
		if i > 0 {
			d[i] = v[i] - v[i-1]
		}
	}
	return append(mmtfHeader(8, int32(len(v)), 0), putInt32s(encodeRunLength(d))...)
}

func encodeCoords(v []float64, divisor int32) []byte {
	var packed []int16
	prev := int32(0)
	for _, f := range v {
		x := int32(math.Round(f * float64(divisor)))
		d := x - prev
		prev = x
		for d >= math.MaxInt16 {
			packed = append(packed, math.MaxInt16)
			d -= math.MaxInt16
		}
		for d <= math.MinInt16 {
			packed = append(packed, math.MinInt16)
			d -= math.MinInt16
		}
		packed = append(packed, int16(d))
	}
	return append(mmtfHeader(10, int32(len(v)), divisor), putInt16s(packed)...)
}

func TestDecodeMMTFBinary_Codecs(t *testing.T) {
	t.Run("int8", func(t *testing.T) {
		a, err := decodeMMTFBinary(append(mmtfHeader(2, 3, 0), 0x01, 0xff, 0x7f))
		require.NoError(t, err)
		assert.Equal(t, []int32{1, -1, 127}, a.ints)
	})
	t.Run("int32", func(t *testing.T) {
		a, err := decodeMMTFBinary(encodeInt32([]int32{7, -3, 100000}))
		require.NoError(t, err)
		assert.Equal(t, []int32{7, -3, 100000}, a.ints)
	})
	t.Run("string4", func(t *testing.T) {
		a, err := decodeMMTFBinary(encodeStrings([]string{"A", "BB", "LONG"}, 4))
		require.NoError(t, err)
		assert.Equal(t, []string{"A", "BB", "LONG"}, a.strings)
	})
	t.Run("run-length chars", func(t *testing.T) {
		a, err := decodeMMTFBinary(encodeChars([]string{"", "", "A", "A", "B"}))
		require.NoError(t, err)
		assert.Equal(t, []string{"", "", "A", "A", "B"}, a.strings)
	})
	t.Run("run-length delta", func(t *testing.T) {
		in := []int32{1, 2, 3, 4, 10, 11, 12}
		a, err := decodeMMTFBinary(encodeDeltaRunLength(in))
		require.NoError(t, err)
		assert.Equal(t, in, a.ints)
	})
	t.Run("run-length divided", func(t *testing.T) {
		body := putInt32s([]int32{150, 3})
		a, err := decodeMMTFBinary(append(mmtfHeader(9, 3, 100), body...))
		require.NoError(t, err)
		assert.Equal(t, []float32{1.5, 1.5, 1.5}, a.floats)
	})
	t.Run("packed delta divided", func(t *testing.T) {
		in := []float64{10.5, 11.25, -400.0, 12.0}
		a, err := decodeMMTFBinary(encodeCoords(in, 1000))
		require.NoError(t, err)
		require.Len(t, a.floats, len(in))
		for i := range in {
			assert.InDelta(t, in[i], a.floats[i], 1e-3)
		}
	})
	t.Run("float32", func(t *testing.T) {
		body := make([]byte, 4)
		binary.BigEndian.PutUint32(body, math.Float32bits(2.5))
		a, err := decodeMMTFBinary(append(mmtfHeader(1, 1, 0), body...))
		require.NoError(t, err)
		assert.Equal(t, []float32{2.5}, a.floats)
	})
	t.Run("length mismatch", func(t *testing.T) {
		_, err := decodeMMTFBinary(append(mmtfHeader(4, 5, 0), putInt32s([]int32{1})...))
		assert.Error(t, err)
	})
	t.Run("unknown codec", func(t *testing.T) {
		_, err := decodeMMTFBinary(mmtfHeader(99, 0, 0))
		assert.Error(t, err)
	})
	t.Run("short header", func(t *testing.T) {
		_, err := decodeMMTFBinary([]byte{0, 0, 0})
		assert.Error(t, err)
	})
	t.Run("run length beyond header", func(t *testing.T) {
		// Two billion repeats declared for a one-value field.
		_, err := decodeMMTFBinary(append(mmtfHeader(8, 1, 0), putInt32s([]int32{1, 2000000000})...))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "expands past 1 values")
	})
	t.Run("header length too large", func(t *testing.T) {
		_, err := decodeMMTFBinary(append(mmtfHeader(7, maxMMTFValues+1, 0), putInt32s([]int32{1, 1})...))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "exceeds")
	})
}

func TestRunLength(t *testing.T) {
	out, err := runLength([]int32{4, 2, 9, 0, 7, 1}, 3)
	require.NoError(t, err)
	assert.Equal(t, []int32{4, 4, 7}, out)

	_, err = runLength([]int32{4, 2, 7, 2}, 3)
	assert.Error(t, err)
	_, err = runLength([]int32{4, -1}, 3)
	assert.Error(t, err)
	_, err = runLength([]int32{4}, 3)
	assert.Error(t, err)
}

// buildMMTF encodes two chains: A with MET, GLY and a calcium ion, B with one
// LYS. GLY carries two CA atoms (alternate locations).
func buildMMTF(t *testing.T) []byte {
	t.Helper()
	groups := []map[string]interface{}{
		{"groupName": "MET", "atomNameList": []string{"N", "CA", "C"}, "chemCompType": "L-PEPTIDE LINKING", "singleLetterCode": "M"},
		{"groupName": "GLY", "atomNameList": []string{"N", "CA", "CA"}, "chemCompType": "PEPTIDE LINKING", "singleLetterCode": "G"},
		{"groupName": "CA", "atomNameList": []string{"CA"}, "chemCompType": "NON-POLYMER", "singleLetterCode": "?"},
		{"groupName": "LYS", "atomNameList": []string{"CA"}, "chemCompType": "L-PEPTIDE LINKING", "singleLetterCode": "K"},
	}
	x := []float64{0, 1, 2, 3, 4, 99, 50, 7}
	y := []float64{0, 1.5, 0, 0, 2.5, 99, 50, 8}
	z := []float64{0, -1, 0, 0, -2, 99, 50, 9}
	doc := map[string]interface{}{
		"mmtfVersion":    "1.0.0",
		"numModels":      1,
		"chainsPerModel": []int32{2},
		"groupsPerChain": []int32{3, 1},
		"chainNameList":  encodeStrings([]string{"A", "B"}, 4),
		"chainIdList":    encodeStrings([]string{"A", "B"}, 4),
		"groupList":      groups,
		"groupTypeList":  encodeInt32([]int32{0, 1, 2, 3}),
		"groupIdList":    encodeDeltaRunLength([]int32{1, 2, 101, 10}),
		"insCodeList":    encodeChars([]string{"", "", "", "C"}),
		"xCoordList":     encodeCoords(x, 1000),
		"yCoordList":     encodeCoords(y, 1000),
		"zCoordList":     encodeCoords(z, 1000),
	}
	var buf bytes.Buffer
	require.NoError(t, codec.NewEncoder(&buf, mmtfHandle).Encode(doc))
	return buf.Bytes()
}

func TestParseMMTF(t *testing.T) {
	s, err := LoadBytes("1abc.mmtf", buildMMTF(t), FormatGuess)
	require.NoError(t, err)

	require.Equal(t, 3, s.Len())
	assert.Equal(t, "MET", s.Residues[0].Name)
	assert.InDeltaSlice(t, []float64{1, 1.5, -1}, s.Residues[0].CA[:], 1e-3)
	assert.InDeltaSlice(t, []float64{4, 2.5, -2}, s.Residues[1].CA[:], 1e-3, "first CA of GLY wins")
	assert.Equal(t, "B", s.Residues[2].Chain)
	assert.Equal(t, 10, s.Residues[2].Number)
	assert.Equal(t, "C", s.Residues[2].InsCode)
}

func TestParseMMTF_Corrupt(t *testing.T) {
	_, err := LoadBytes("1abc.mmtf", []byte{0xc1, 0x00}, FormatGuess)
	require.Error(t, err)
	assert.True(t, errors.IsParseError(err))

	doc := map[string]interface{}{"xCoordList": mmtfHeader(99, 0, 0)}
	var buf bytes.Buffer
	require.NoError(t, codec.NewEncoder(&buf, mmtfHandle).Encode(doc))
	_, err = LoadBytes("1abc.mmtf", buf.Bytes(), FormatMMTF)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "xCoordList")
}
