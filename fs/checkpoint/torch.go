// torch.go - PyTorch-Checkpoints lesen
//
// Liest mit torch.save geschriebene state dicts ueber gopickle. Tensoren
// werden auf den Host kopiert (entspricht map_location='cpu'). Permutierte
// Layouts (z.B. transponiert gespeicherte Gewichte) werden mit
// pdevine/tensor materialisiert.
package checkpoint

import (
	"cmp"
	"fmt"
	"log/slog"
	"slices"

	"github.com/nlpodyssey/gopickle/pytorch"
	"github.com/nlpodyssey/gopickle/types"
	"github.com/pdevine/tensor"
)

// nestedKeys sind Schluessel, unter denen Trainingsskripte das eigentliche
// state dict ablegen
var nestedKeys = []string{"state_dict", "model"}

// LoadTorch liest ein PyTorch state dict von path
func LoadTorch(path string) (*StateDict, error) {
	pt, err := pytorch.Load(path)
	if err != nil {
		return nil, &CheckpointError{Op: "load", Path: path, Err: err}
	}

	sd := NewStateDict()
	if err := walkDict(unnest(pt), func(name string, v any) error {
		t, ok := v.(*pytorch.Tensor)
		if !ok {
			slog.Debug("skipping non-tensor checkpoint entry", "name", name, "type", fmt.Sprintf("%T", v))
			return nil
		}

		tt, err := fromTorch(t)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		sd.Set(name, tt)
		return nil
	}); err != nil {
		return nil, &CheckpointError{Op: "load", Path: path, Err: err}
	}

	return sd, nil
}

// unnest steigt in {"state_dict": {...}} bzw. {"model": {...}} ab
func unnest(v any) any {
	for _, key := range nestedKeys {
		var inner any
		switch d := v.(type) {
		case *types.OrderedDict:
			inner, _ = d.Get(key)
		case *types.Dict:
			inner, _ = d.Get(key)
		}
		switch inner.(type) {
		case *types.OrderedDict, *types.Dict:
			return inner
		}
	}
	return v
}

// walkDict ruft fn fuer jeden Eintrag eines (Ordered)Dict in Reihenfolge auf
func walkDict(v any, fn func(string, any) error) error {
	switch d := v.(type) {
	case *types.OrderedDict:
		for e := d.List.Front(); e != nil; e = e.Next() {
			entry := e.Value.(*types.OrderedDictEntry)
			name, ok := entry.Key.(string)
			if !ok {
				return fmt.Errorf("%w: key %v is %T", ErrNotAStateDict, entry.Key, entry.Key)
			}
			if err := fn(name, entry.Value); err != nil {
				return err
			}
		}
	case *types.Dict:
		for _, k := range d.Keys() {
			name, ok := k.(string)
			if !ok {
				return fmt.Errorf("%w: key %v is %T", ErrNotAStateDict, k, k)
			}
			if err := fn(name, d.MustGet(k)); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("%w: got %T", ErrNotAStateDict, v)
	}
	return nil
}

// fromTorch kopiert einen pytorch.Tensor in einen zusammenhaengenden Tensor
func fromTorch(t *pytorch.Tensor) (*Tensor, error) {
	var data []float32
	switch s := t.Source.(type) {
	case *pytorch.FloatStorage:
		data = s.Data
	case *pytorch.HalfStorage:
		data = s.Data
	case *pytorch.DoubleStorage:
		data = make([]float32, len(s.Data))
		for i, v := range s.Data {
			data[i] = float32(v)
		}
	default:
		return nil, fmt.Errorf("%w: storage %T", ErrUnsupportedDType, t.Source)
	}

	if t.StorageOffset > len(data) {
		return nil, fmt.Errorf("%w: storage offset %d beyond %d elements", ErrUnsupportedLayout, t.StorageOffset, len(data))
	}

	values, err := materialize(data[t.StorageOffset:], t.Size, t.Stride)
	if err != nil {
		return nil, err
	}
	return &Tensor{Shape: slices.Clone(t.Size), Data: values}, nil
}

// contiguous prueft ob stride dem zeilenweisen Layout von shape entspricht.
// Dimensionen der Groesse 1 haben beliebige Strides.
func contiguous(shape, stride []int) bool {
	want := 1
	for i := len(shape) - 1; i >= 0; i-- {
		if shape[i] != 1 && stride[i] != want {
			return false
		}
		want *= shape[i]
	}
	return true
}

// materialize liest shape/stride aus data und gibt zeilenweise Daten zurueck.
// Unterstuetzt werden zusammenhaengende und permutiert-zusammenhaengende Layouts.
func materialize(data []float32, shape, stride []int) ([]float32, error) {
	n := numElements(shape)
	if len(stride) != len(shape) {
		return nil, fmt.Errorf("%w: shape %v with stride %v", ErrUnsupportedLayout, shape, stride)
	}
	if n > len(data) {
		return nil, fmt.Errorf("%w: shape %v needs %d elements, storage has %d", ErrUnsupportedLayout, shape, n, len(data))
	}
	if n == 0 {
		return []float32{}, nil
	}
	if contiguous(shape, stride) {
		return slices.Clone(data[:n]), nil
	}

	// Achsen nach absteigendem Stride sortieren ergibt das physische Layout
	perm := make([]int, len(shape))
	for i := range perm {
		perm[i] = i
	}
	slices.SortStableFunc(perm, func(a, b int) int {
		return cmp.Compare(stride[b], stride[a])
	})

	base := make([]int, len(shape))
	baseStride := make([]int, len(shape))
	for i, p := range perm {
		base[i] = shape[p]
		baseStride[i] = stride[p]
	}
	if !contiguous(base, baseStride) {
		return nil, fmt.Errorf("%w: shape %v with stride %v", ErrUnsupportedLayout, shape, stride)
	}

	inv := make([]int, len(perm))
	for i, p := range perm {
		inv[p] = i
	}

	dense := tensor.New(tensor.WithShape(base...), tensor.WithBacking(slices.Clone(data[:n])))
	if err := dense.T(inv...); err != nil {
		return nil, err
	}
	if err := dense.Transpose(); err != nil {
		return nil, err
	}

	values, ok := dense.Data().([]float32)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected backing %T", ErrUnsupportedLayout, dense.Data())
	}
	return values, nil
}
