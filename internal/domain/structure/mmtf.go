package structure

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/ugorji/go/codec"

	"github.com/turtacn/progres-go/pkg/errors"
)

// mmtfFile holds the MMTF fields needed to rebuild the Cα trace. Binary
// fields stay encoded until decodeMMTFBinary is applied.
type mmtfFile struct {
	NumModels      int         `codec:"numModels"`
	ChainsPerModel []int32     `codec:"chainsPerModel"`
	GroupsPerChain []int32     `codec:"groupsPerChain"`
	ChainNameList  []byte      `codec:"chainNameList"`
	ChainIDList    []byte      `codec:"chainIdList"`
	GroupList      []mmtfGroup `codec:"groupList"`
	GroupTypeList  []byte      `codec:"groupTypeList"`
	GroupIDList    []byte      `codec:"groupIdList"`
	InsCodeList    []byte      `codec:"insCodeList"`
	XCoordList     []byte      `codec:"xCoordList"`
	YCoordList     []byte      `codec:"yCoordList"`
	ZCoordList     []byte      `codec:"zCoordList"`
}

type mmtfGroup struct {
	GroupName        string   `codec:"groupName"`
	AtomNameList     []string `codec:"atomNameList"`
	ChemCompType     string   `codec:"chemCompType"`
	SingleLetterCode string   `codec:"singleLetterCode"`
}

// isAminoAcid keeps polypeptide groups and selenomethionine.
func (g mmtfGroup) isAminoAcid() bool {
	return strings.Contains(strings.ToUpper(g.ChemCompType), "PEPTIDE") || g.GroupName == "MSE"
}

var mmtfHandle = func() *codec.MsgpackHandle {
	h := &codec.MsgpackHandle{}
	h.RawToString = true
	h.WriteExt = true
	return h
}()

// mmtfArray is a decoded binary field. Exactly one slice is set.
type mmtfArray struct {
	ints    []int32
	floats  []float32
	strings []string
}

// maxMMTFValues bounds the decoded length of one binary field. It is well
// above the atom count of the largest deposited entries.
const maxMMTFValues = 1 << 24

// decodeMMTFBinary decodes an MMTF binary array: a 12-byte big-endian header
// (codec, output length, parameter) followed by the payload.
func decodeMMTFBinary(data []byte) (mmtfArray, error) {
	if len(data) < 12 {
		return mmtfArray{}, fmt.Errorf("binary field shorter than its header")
	}
	strategy := int32(binary.BigEndian.Uint32(data[0:4]))
	length := int(binary.BigEndian.Uint32(data[4:8]))
	param := int32(binary.BigEndian.Uint32(data[8:12]))
	body := data[12:]
	if length > maxMMTFValues {
		return mmtfArray{}, fmt.Errorf("header length %d exceeds %d values", length, maxMMTFValues)
	}

	var out mmtfArray
	var err error
	switch strategy {
	case 1:
		out.floats, err = readFloat32s(body)
	case 2:
		out.ints = make([]int32, len(body))
		for i, b := range body {
			out.ints[i] = int32(int8(b))
		}
	case 3:
		var s []int16
		s, err = readInt16s(body)
		out.ints = widen16(s)
	case 4:
		out.ints, err = readInt32s(body)
	case 5:
		out.strings, err = readFixedStrings(body, int(param))
	case 6:
		var rl []int32
		if rl, err = readInt32s(body); err == nil {
			var chars []int32
			if chars, err = runLength(rl, length); err == nil {
				out.strings = make([]string, len(chars))
				for i, c := range chars {
					if c != 0 {
						out.strings[i] = string(rune(c))
					}
				}
			}
		}
	case 7, 8, 9:
		var rl []int32
		if rl, err = readInt32s(body); err == nil {
			out.ints, err = runLength(rl, length)
		}
		if err == nil && strategy == 8 {
			delta(out.ints)
		}
		if err == nil && strategy == 9 {
			out.floats = divide(out.ints, param)
			out.ints = nil
		}
	case 10, 12, 14:
		var s []int16
		if s, err = readInt16s(body); err == nil {
			out.ints = recursiveIndex16(s)
			if strategy == 10 {
				delta(out.ints)
			}
			if strategy != 14 {
				out.floats = divide(out.ints, param)
				out.ints = nil
			}
		}
	case 11:
		var s []int16
		if s, err = readInt16s(body); err == nil {
			out.floats = divide(widen16(s), param)
		}
	case 13, 15:
		s := make([]int8, len(body))
		for i, b := range body {
			s[i] = int8(b)
		}
		out.ints = recursiveIndex8(s)
		if strategy == 13 {
			out.floats = divide(out.ints, param)
			out.ints = nil
		}
	default:
		return mmtfArray{}, fmt.Errorf("unsupported binary codec %d", strategy)
	}
	if err != nil {
		return mmtfArray{}, err
	}
	if n := out.len(); n != length {
		return mmtfArray{}, fmt.Errorf("codec %d decoded %d values, header says %d", strategy, n, length)
	}
	return out, nil
}

func (a mmtfArray) len() int {
	switch {
	case a.ints != nil:
		return len(a.ints)
	case a.floats != nil:
		return len(a.floats)
	default:
		return len(a.strings)
	}
}

func readInt32s(b []byte) ([]int32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("int32 payload of %d bytes", len(b))
	}
	out := make([]int32, len(b)/4)
	for i := range out {
		out[i] = int32(binary.BigEndian.Uint32(b[4*i:]))
	}
	return out, nil
}

func readInt16s(b []byte) ([]int16, error) {
	if len(b)%2 != 0 {
		return nil, fmt.Errorf("int16 payload of %d bytes", len(b))
	}
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(binary.BigEndian.Uint16(b[2*i:]))
	}
	return out, nil
}

func readFloat32s(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("float32 payload of %d bytes", len(b))
	}
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.BigEndian.Uint32(b[4*i:]))
	}
	return out, nil
}

func readFixedStrings(b []byte, width int) ([]string, error) {
	if width <= 0 || len(b)%width != 0 {
		return nil, fmt.Errorf("string payload of %d bytes with width %d", len(b), width)
	}
	out := make([]string, len(b)/width)
	for i := range out {
		out[i] = string(bytes.TrimRight(b[i*width:(i+1)*width], "\x00"))
	}
	return out, nil
}

func widen16(s []int16) []int32 {
	out := make([]int32, len(s))
	for i, v := range s {
		out[i] = int32(v)
	}
	return out
}

// runLength expands (value, count) pairs. Counts are summed before anything
// is allocated and may not exceed limit in total.
func runLength(pairs []int32, limit int) ([]int32, error) {
	if len(pairs)%2 != 0 {
		return nil, fmt.Errorf("odd run-length payload")
	}
	total := 0
	for i := 1; i < len(pairs); i += 2 {
		n := int(pairs[i])
		if n < 0 {
			return nil, fmt.Errorf("negative run length")
		}
		if n > limit-total {
			return nil, fmt.Errorf("run-length data expands past %d values", limit)
		}
		total += n
	}
	out := make([]int32, 0, total)
	for i := 0; i < len(pairs); i += 2 {
		for k := int32(0); k < pairs[i+1]; k++ {
			out = append(out, pairs[i])
		}
	}
	return out, nil
}

func delta(v []int32) {
	for i := 1; i < len(v); i++ {
		v[i] += v[i-1]
	}
}

func divide(v []int32, by int32) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x) / float32(by)
	}
	return out
}

// recursiveIndex16 sums runs of saturated values into single integers.
func recursiveIndex16(s []int16) []int32 {
	out := []int32{}
	var acc int32
	for _, v := range s {
		acc += int32(v)
		if v != math.MaxInt16 && v != math.MinInt16 {
			out = append(out, acc)
			acc = 0
		}
	}
	return out
}

func recursiveIndex8(s []int8) []int32 {
	out := []int32{}
	var acc int32
	for _, v := range s {
		acc += int32(v)
		if v != math.MaxInt8 && v != math.MinInt8 {
			out = append(out, acc)
			acc = 0
		}
	}
	return out
}

// parseMMTF decodes a MessagePack MMTF file and walks the first model. As in
// the text formats, the first Cα listed for a residue wins, so alternate
// locations need no separate handling.
func parseMMTF(r io.Reader, path string) (*Structure, error) {
	var f mmtfFile
	if err := codec.NewDecoder(r, mmtfHandle).Decode(&f); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeParseFailed, "decoding MMTF MessagePack").WithDetail(path)
	}

	field := func(name string, raw []byte) (mmtfArray, error) {
		if len(raw) == 0 {
			return mmtfArray{}, nil
		}
		a, err := decodeMMTFBinary(raw)
		if err != nil {
			return mmtfArray{}, errors.ParseError(path, fmt.Sprintf("MMTF field %s: %v", name, err))
		}
		return a, nil
	}

	x, err := field("xCoordList", f.XCoordList)
	if err != nil {
		return nil, err
	}
	y, err := field("yCoordList", f.YCoordList)
	if err != nil {
		return nil, err
	}
	z, err := field("zCoordList", f.ZCoordList)
	if err != nil {
		return nil, err
	}
	groupTypes, err := field("groupTypeList", f.GroupTypeList)
	if err != nil {
		return nil, err
	}
	groupIDs, err := field("groupIdList", f.GroupIDList)
	if err != nil {
		return nil, err
	}
	insCodes, err := field("insCodeList", f.InsCodeList)
	if err != nil {
		return nil, err
	}
	chainNames, err := field("chainNameList", f.ChainNameList)
	if err != nil {
		return nil, err
	}
	if chainNames.strings == nil {
		if chainNames, err = field("chainIdList", f.ChainIDList); err != nil {
			return nil, err
		}
	}

	nAtoms := len(x.floats)
	if len(y.floats) != nAtoms || len(z.floats) != nAtoms {
		return nil, errors.ParseError(path, "MMTF coordinate lists differ in length")
	}
	if len(groupIDs.ints) != len(groupTypes.ints) {
		return nil, errors.ParseError(path, "MMTF groupIdList and groupTypeList differ in length")
	}

	chainsInModel := len(f.GroupsPerChain)
	if len(f.ChainsPerModel) > 0 {
		chainsInModel = int(f.ChainsPerModel[0])
	}

	b := newResidueBuilder(path)
	atom, group := 0, 0
	for c := 0; c < chainsInModel; c++ {
		if c >= len(f.GroupsPerChain) {
			return nil, errors.ParseError(path, "MMTF groupsPerChain shorter than chainsPerModel")
		}
		chainName := ""
		if c < len(chainNames.strings) {
			chainName = chainNames.strings[c]
		}
		for g := 0; g < int(f.GroupsPerChain[c]); g++ {
			if group >= len(groupTypes.ints) {
				return nil, errors.ParseError(path, "MMTF group index out of range")
			}
			gt := int(groupTypes.ints[group])
			if gt < 0 || gt >= len(f.GroupList) {
				return nil, errors.ParseError(path, fmt.Sprintf("MMTF group type %d out of range", gt))
			}
			grp := f.GroupList[gt]
			for a, name := range grp.AtomNameList {
				i := atom + a
				if i >= nAtoms {
					return nil, errors.ParseError(path, "MMTF atom index out of range")
				}
				if name != "CA" || !grp.isAminoAcid() {
					continue
				}
				b.add(Residue{
					Name:    grp.GroupName,
					Number:  int(groupIDs.ints[group]),
					InsCode: insAt(insCodes, group),
					Chain:   chainName,
					CA:      Vec3{float64(x.floats[i]), float64(y.floats[i]), float64(z.floats[i])},
				})
			}
			atom += len(grp.AtomNameList)
			group++
		}
	}
	return b.build()
}

func insAt(a mmtfArray, i int) string {
	if i < len(a.strings) {
		return a.strings[i]
	}
	return ""
}
