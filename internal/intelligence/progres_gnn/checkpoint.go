package progres_gnn

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"io/fs"
	"math"
	"os"
	"sort"

	"github.com/turtacn/progres-go/pkg/errors"
)

// maxHeaderSize bounds the JSON header of a safetensors file.
const maxHeaderSize = 100 << 20

const metadataKey = "__metadata__"

// Tensor is a dense row-major tensor.
type Tensor struct {
	Shape []int
	Data  []float64
}

// Len is the element count implied by Shape.
func (t *Tensor) Len() int {
	n := 1
	for _, d := range t.Shape {
		n *= d
	}
	return n
}

// Checkpoint is the content of a safetensors file.
type Checkpoint struct {
	Metadata map[string]string
	Tensors  map[string]*Tensor
}

type tensorHeader struct {
	Dtype       string `json:"dtype"`
	Shape       []int  `json:"shape"`
	DataOffsets [2]int `json:"data_offsets"`
}

var dtypeSize = map[string]int{"F64": 8, "F32": 4, "BF16": 2}

// ReadCheckpoint loads a safetensors file: an 8-byte little-endian header
// length, a JSON header, then the tensor bytes.
func ReadCheckpoint(path string) (*Checkpoint, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, errors.Wrap(err, errors.ErrCodeCheckpointMissing, "model checkpoint not found").WithDetail(path)
		}
		return nil, errors.Wrap(err, errors.ErrCodeCheckpointMissing, "reading model checkpoint").WithDetail(path)
	}
	ck, err := decodeCheckpoint(raw)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeCheckpointCorrupt, "model checkpoint is corrupt").WithDetail(path)
	}
	return ck, nil
}

func decodeCheckpoint(raw []byte) (*Checkpoint, error) {
	if len(raw) < 8 {
		return nil, errors.New(errors.ErrCodeCheckpointCorrupt, "file shorter than header length")
	}
	n := binary.LittleEndian.Uint64(raw[:8])
	if n > maxHeaderSize || n > uint64(len(raw)-8) {
		return nil, errors.Newf(errors.ErrCodeCheckpointCorrupt, "header length %d out of range", n)
	}
	header := raw[8 : 8+n]
	data := raw[8+n:]

	var entries map[string]json.RawMessage
	if err := json.Unmarshal(header, &entries); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeCheckpointCorrupt, "invalid header JSON")
	}

	ck := &Checkpoint{Metadata: map[string]string{}, Tensors: make(map[string]*Tensor, len(entries))}
	for name, msg := range entries {
		if name == metadataKey {
			if err := json.Unmarshal(msg, &ck.Metadata); err != nil {
				return nil, errors.Wrap(err, errors.ErrCodeCheckpointCorrupt, "invalid metadata")
			}
			continue
		}
		var h tensorHeader
		if err := json.Unmarshal(msg, &h); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeCheckpointCorrupt, "invalid tensor header").WithDetail(name)
		}
		t, err := decodeTensor(h, data)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeCheckpointCorrupt, "invalid tensor").WithDetail(name)
		}
		ck.Tensors[name] = t
	}
	return ck, nil
}

func decodeTensor(h tensorHeader, data []byte) (*Tensor, error) {
	size, ok := dtypeSize[h.Dtype]
	if !ok {
		return nil, errors.Newf(errors.ErrCodeCheckpointCorrupt, "unsupported dtype %q", h.Dtype)
	}
	t := &Tensor{Shape: h.Shape}
	for _, d := range h.Shape {
		if d < 0 {
			return nil, errors.Newf(errors.ErrCodeCheckpointCorrupt, "negative dimension in shape %v", h.Shape)
		}
	}
	begin, end := h.DataOffsets[0], h.DataOffsets[1]
	if begin < 0 || end < begin || end > len(data) {
		return nil, errors.Newf(errors.ErrCodeCheckpointCorrupt, "data offsets %v outside buffer of %d bytes", h.DataOffsets, len(data))
	}
	n := t.Len()
	if end-begin != n*size {
		return nil, errors.Newf(errors.ErrCodeCheckpointCorrupt, "shape %v needs %d bytes, offsets span %d", h.Shape, n*size, end-begin)
	}
	buf := data[begin:end]
	t.Data = make([]float64, n)
	for i := range t.Data {
		switch h.Dtype {
		case "F64":
			t.Data[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[i*8:]))
		case "F32":
			t.Data[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:])))
		case "BF16":
			t.Data[i] = float64(math.Float32frombits(uint32(binary.LittleEndian.Uint16(buf[i*2:])) << 16))
		}
	}
	return t, nil
}

// WriteCheckpoint stores tensors as F32 with the given metadata.
func WriteCheckpoint(path string, ck *Checkpoint) error {
	names := make([]string, 0, len(ck.Tensors))
	for name := range ck.Tensors {
		names = append(names, name)
	}
	sort.Strings(names)

	header := make(map[string]interface{}, len(names)+1)
	if len(ck.Metadata) > 0 {
		header[metadataKey] = ck.Metadata
	}
	var data bytes.Buffer
	for _, name := range names {
		t := ck.Tensors[name]
		if len(t.Data) != t.Len() {
			return errors.Newf(errors.ErrCodeInvalidParam, "tensor %s has %d values for shape %v", name, len(t.Data), t.Shape)
		}
		begin := data.Len()
		for _, v := range t.Data {
			var b [4]byte
			binary.LittleEndian.PutUint32(b[:], math.Float32bits(float32(v)))
			data.Write(b[:])
		}
		shape := t.Shape
		if shape == nil {
			shape = []int{}
		}
		header[name] = tensorHeader{Dtype: "F32", Shape: shape, DataOffsets: [2]int{begin, data.Len()}}
	}

	hb, err := json.Marshal(header)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "encoding checkpoint header")
	}
	for len(hb)%8 != 0 {
		hb = append(hb, ' ')
	}
	out := make([]byte, 8, 8+len(hb)+data.Len())
	binary.LittleEndian.PutUint64(out, uint64(len(hb)))
	out = append(out, hb...)
	out = append(out, data.Bytes()...)
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return errors.Wrap(err, errors.ErrCodeStorage, "writing checkpoint").WithDetail(path)
	}
	return nil
}
