// safetensors.go - safetensors lesen und schreiben
//
// Format: 8 Byte Header-Laenge (uint64 LE), JSON-Header mit
// {name: {dtype, shape, data_offsets}} und optional __metadata__,
// danach die Rohdaten.
package checkpoint

import (
	"bytes"
	"cmp"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"slices"

	"github.com/d4l3k/go-bfloat16"
	"github.com/x448/float16"

	"github.com/clbt/clbt/ml"
)

// maxHeaderSize begrenzt den JSON-Header (wie die Referenz-Implementierung)
const maxHeaderSize = 100 << 20

const metadataKey = "__metadata__"

type safetensorsEntry struct {
	DType   string   `json:"dtype"`
	Shape   []int    `json:"shape"`
	Offsets [2]int64 `json:"data_offsets"`
}

// LoadSafetensors liest eine safetensors-Datei
func LoadSafetensors(path string) (*StateDict, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &CheckpointError{Op: "load", Path: path, Err: err}
	}
	defer f.Close()

	sd, err := ReadSafetensors(f)
	if err != nil {
		return nil, &CheckpointError{Op: "load", Path: path, Err: err}
	}
	return sd, nil
}

// ReadSafetensors liest ein safetensors-Dokument aus r
func ReadSafetensors(r io.Reader) (*StateDict, error) {
	var n uint64
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	if n == 0 || n > maxHeaderSize {
		return nil, fmt.Errorf("%w: header size %d", ErrInvalidHeader, n)
	}

	bts := make([]byte, n)
	if _, err := io.ReadFull(r, bts); err != nil {
		return nil, err
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(bts, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidHeader, err)
	}

	type named struct {
		name string
		safetensorsEntry
	}
	entries := make([]named, 0, len(raw))
	for name, msg := range raw {
		if name == metadataKey {
			continue
		}
		var e safetensorsEntry
		if err := json.Unmarshal(msg, &e); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidHeader, name, err)
		}
		entries = append(entries, named{name, e})
	}

	// Dateireihenfolge entspricht der Reihenfolge beim Schreiben
	slices.SortFunc(entries, func(a, b named) int {
		return cmp.Or(cmp.Compare(a.Offsets[0], b.Offsets[0]), cmp.Compare(a.name, b.name))
	})

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	sd := NewStateDict()
	for _, e := range entries {
		begin, end := e.Offsets[0], e.Offsets[1]
		if begin < 0 || end < begin || end > int64(len(data)) {
			return nil, fmt.Errorf("%w: %s offsets [%d, %d) outside %d bytes", ErrInvalidHeader, e.name, begin, end, len(data))
		}

		dtype := ml.ParseDType(e.DType)
		if dtype == ml.DTypeOther {
			return nil, fmt.Errorf("%w: %s has dtype %q", ErrUnsupportedDType, e.name, e.DType)
		}

		values, err := decode(dtype, data[begin:end])
		if err != nil {
			return nil, fmt.Errorf("%s: %w", e.name, err)
		}

		t, err := NewTensor(values, e.Shape...)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", e.name, err)
		}
		sd.Set(e.name, t)
	}

	return sd, nil
}

// WriteSafetensors schreibt sd im Typ dtype nach w
func WriteSafetensors(w io.Writer, sd *StateDict, dtype ml.DType) error {
	if dtype.Size() == 0 {
		return fmt.Errorf("%w: %v", ErrUnsupportedDType, dtype)
	}

	header := map[string]any{
		metadataKey: map[string]string{"format": "pt"},
	}

	var body bytes.Buffer
	for name, t := range sd.All() {
		begin := int64(body.Len())
		if err := encode(&body, dtype, t.Data); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		shape := t.Shape
		if shape == nil {
			shape = []int{}
		}
		header[name] = safetensorsEntry{
			DType:   dtype.String(),
			Shape:   shape,
			Offsets: [2]int64{begin, int64(body.Len())},
		}
	}

	bts, err := json.Marshal(header)
	if err != nil {
		return err
	}

	// Header auf 8 Byte ausrichten
	if pad := (8 - len(bts)%8) % 8; pad > 0 {
		bts = append(bts, bytes.Repeat([]byte(" "), pad)...)
	}

	if err := binary.Write(w, binary.LittleEndian, uint64(len(bts))); err != nil {
		return err
	}
	if _, err := w.Write(bts); err != nil {
		return err
	}
	_, err = body.WriteTo(w)
	return err
}

// SaveSafetensors schreibt sd in die Datei path
func SaveSafetensors(path string, sd *StateDict, dtype ml.DType) error {
	f, err := os.Create(path)
	if err != nil {
		return &CheckpointError{Op: "save", Path: path, Err: err}
	}

	if err := WriteSafetensors(f, sd, dtype); err != nil {
		f.Close()
		return &CheckpointError{Op: "save", Path: path, Err: err}
	}
	return f.Close()
}

func decode(dtype ml.DType, bts []byte) ([]float32, error) {
	if len(bts)%dtype.Size() != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a multiple of %d", ErrInvalidHeader, len(bts), dtype.Size())
	}

	n := len(bts) / dtype.Size()
	switch dtype {
	case ml.DTypeF32:
		out := make([]float32, n)
		for i := range out {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(bts[i*4:]))
		}
		return out, nil
	case ml.DTypeF64:
		out := make([]float32, n)
		for i := range out {
			out[i] = float32(math.Float64frombits(binary.LittleEndian.Uint64(bts[i*8:])))
		}
		return out, nil
	case ml.DTypeF16:
		out := make([]float32, n)
		for i := range out {
			out[i] = float16.Frombits(binary.LittleEndian.Uint16(bts[i*2:])).Float32()
		}
		return out, nil
	case ml.DTypeBF16:
		return bfloat16.DecodeFloat32(bts), nil
	default:
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedDType, dtype)
	}
}

func encode(w *bytes.Buffer, dtype ml.DType, values []float32) error {
	switch dtype {
	case ml.DTypeF32:
		return binary.Write(w, binary.LittleEndian, values)
	case ml.DTypeF64:
		f64s := make([]float64, len(values))
		for i, v := range values {
			f64s[i] = float64(v)
		}
		return binary.Write(w, binary.LittleEndian, f64s)
	case ml.DTypeF16:
		u16s := make([]uint16, len(values))
		for i, v := range values {
			u16s[i] = float16.Fromfloat32(v).Bits()
		}
		return binary.Write(w, binary.LittleEndian, u16s)
	case ml.DTypeBF16:
		_, err := w.Write(bfloat16.EncodeFloat32(values))
		return err
	default:
		return fmt.Errorf("%w: %v", ErrUnsupportedDType, dtype)
	}
}
