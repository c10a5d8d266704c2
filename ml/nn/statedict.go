// statedict.go - Export und Import von Parametern als StateDict
package nn

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/clbt/clbt/fs/checkpoint"
)

// StateDict kopiert alle Parameter von m in ein StateDict
func StateDict(m any) *checkpoint.StateDict {
	sd := checkpoint.NewStateDict()
	for _, np := range NamedParameters(m) {
		r, c := np.Value.Dims()
		data := make([]float32, 0, r*c)
		for i := range r {
			for _, v := range np.Value.RawRowView(i) {
				data = append(data, float32(v))
			}
		}
		sd.Set(np.Name, &checkpoint.Tensor{Shape: slices.Clone(np.Shape), Data: data})
	}
	return sd
}

// LoadError sammelt die Abweichungen zwischen Modell und StateDict
type LoadError struct {
	Missing    []string
	Unexpected []string
	Mismatched []string
}

func (e *LoadError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, fmt.Sprintf("missing keys: %s", strings.Join(e.Missing, ", ")))
	}
	if len(e.Unexpected) > 0 {
		parts = append(parts, fmt.Sprintf("unexpected keys: %s", strings.Join(e.Unexpected, ", ")))
	}
	if len(e.Mismatched) > 0 {
		parts = append(parts, fmt.Sprintf("size mismatch: %s", strings.Join(e.Mismatched, ", ")))
	}
	return ErrStateDict.Error() + ": " + strings.Join(parts, "; ")
}

func (e *LoadError) Unwrap() error {
	return ErrStateDict
}

// LoadStateDict kopiert die Tensoren aus sd in die Parameter von m.
// Groessenabweichungen sind immer Fehler; fehlende und unerwartete
// Schluessel nur wenn strict gesetzt ist.
func LoadStateDict(m any, sd *checkpoint.StateDict, strict bool) error {
	lerr := &LoadError{}
	used := make(map[string]bool)

	for _, np := range NamedParameters(m) {
		var (
			t     *checkpoint.Tensor
			found bool
			name  string
		)
		for _, name = range append([]string{np.Name}, np.Alternatives...) {
			if t, found = sd.Get(name); found {
				break
			}
		}
		if !found {
			lerr.Missing = append(lerr.Missing, np.Name)
			continue
		}
		used[name] = true

		if !slices.Equal(t.Shape, np.Shape) || len(t.Data) != np.NumElements() {
			lerr.Mismatched = append(lerr.Mismatched, fmt.Sprintf("%s (checkpoint %v, model %v)", np.Name, t.Shape, np.Shape))
			continue
		}

		_, c := np.Value.Dims()
		for i, v := range t.Data {
			np.Value.Set(i/c, i%c, float64(v))
		}
	}

	for name := range sd.All() {
		if !used[name] {
			lerr.Unexpected = append(lerr.Unexpected, name)
		}
	}

	if len(lerr.Mismatched) > 0 || (strict && (len(lerr.Missing) > 0 || len(lerr.Unexpected) > 0)) {
		return lerr
	}

	if len(lerr.Missing) > 0 || len(lerr.Unexpected) > 0 {
		slog.Debug("state dict loaded non-strict", "missing", len(lerr.Missing), "unexpected", len(lerr.Unexpected))
	}
	return nil
}
