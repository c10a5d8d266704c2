// statedict.go - Geordnetes Parameter-Dictionary
//
// StateDict bildet Parameternamen in Einfuegereihenfolge auf Tensoren ab,
// wie es torch.nn.Module.state_dict() tut.
package checkpoint

import (
	"fmt"
	"iter"
	"slices"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Tensor ist ein dichter, zeilenweise gespeicherter float32-Tensor
type Tensor struct {
	Shape []int
	Data  []float32
}

// NewTensor erstellt einen Tensor und prueft die Elementanzahl
func NewTensor(data []float32, shape ...int) (*Tensor, error) {
	if n := numElements(shape); n != len(data) {
		return nil, fmt.Errorf("tensor shape %v needs %d elements, got %d", shape, n, len(data))
	}
	return &Tensor{Shape: slices.Clone(shape), Data: data}, nil
}

// NumElements gibt die Anzahl der Elemente zurueck
func (t *Tensor) NumElements() int {
	return numElements(t.Shape)
}

func numElements(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

// StateDict haelt Tensoren in Einfuegereihenfolge
type StateDict struct {
	m *orderedmap.OrderedMap[string, *Tensor]
}

// NewStateDict erstellt ein leeres StateDict
func NewStateDict() *StateDict {
	return &StateDict{m: orderedmap.New[string, *Tensor]()}
}

// Set fuegt einen Tensor ein oder ersetzt ihn an seiner bisherigen Position
func (sd *StateDict) Set(name string, t *Tensor) {
	sd.m.Set(name, t)
}

// Get gibt den Tensor fuer name zurueck
func (sd *StateDict) Get(name string) (*Tensor, bool) {
	return sd.m.Get(name)
}

// Delete entfernt einen Eintrag
func (sd *StateDict) Delete(name string) {
	sd.m.Delete(name)
}

// Len gibt die Anzahl der Eintraege zurueck
func (sd *StateDict) Len() int {
	return sd.m.Len()
}

// Keys gibt alle Namen in Reihenfolge zurueck
func (sd *StateDict) Keys() []string {
	keys := make([]string, 0, sd.m.Len())
	for pair := sd.m.Oldest(); pair != nil; pair = pair.Next() {
		keys = append(keys, pair.Key)
	}
	return keys
}

// All iteriert in Einfuegereihenfolge
func (sd *StateDict) All() iter.Seq2[string, *Tensor] {
	return func(yield func(string, *Tensor) bool) {
		for pair := sd.m.Oldest(); pair != nil; pair = pair.Next() {
			if !yield(pair.Key, pair.Value) {
				return
			}
		}
	}
}

// TrimPrefix entfernt prefix von allen Namen, falls jeder Name ihn traegt.
// Sonst wird das StateDict unveraendert zurueckgegeben.
func (sd *StateDict) TrimPrefix(prefix string) *StateDict {
	if sd.Len() == 0 {
		return sd
	}
	for name := range sd.All() {
		if !strings.HasPrefix(name, prefix) {
			return sd
		}
	}

	out := NewStateDict()
	for name, t := range sd.All() {
		out.Set(strings.TrimPrefix(name, prefix), t)
	}
	return out
}

// Filter gibt ein neues StateDict mit allen Eintraegen zurueck, fuer die keep true ist
func (sd *StateDict) Filter(keep func(name string) bool) *StateDict {
	out := NewStateDict()
	for name, t := range sd.All() {
		if keep(name) {
			out.Set(name, t)
		}
	}
	return out
}
