// Package nn - Netzwerk-Bausteine auf gonum-Matrizen
//
// Dieses Paket stellt die Schichten bereit, aus denen Encoder, Mapping und
// Diskriminator zusammengesetzt werden. Alle Aktivierungen sind Matrizen der
// Form [Zeilen x Merkmale]; Parameter werden ueber `nn`-Struct-Tags gefunden
// (siehe reflect.go) und tragen Namen im Stil von torch.nn.Module.state_dict().
//
// Hauptkomponenten:
// - Param: Parameter-Matrix mit Torch-Form und Geraet
// - Linear, Embedding, LayerNorm, Dropout, Aktivierungen, Sequential
// - MultiHeadAttention: Scaled-Dot-Product-Attention ueber mehrere Koepfe
// - NamedParameters, To, SetTraining, StateDict, LoadStateDict
package nn

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"

	"github.com/clbt/clbt/ml"
)

// Fehler-Definitionen
var (
	ErrShape     = errors.New("shape mismatch")
	ErrStateDict = errors.New("error loading state dict")
)

// Module ist jedes Netzwerk oder jede Schicht
type Module interface {
	ModuleName() string
}

// Layer ist ein Modul mit zeilenweisem Vorwaertsdurchlauf
type Layer interface {
	Module
	Forward(x *mat.Dense) (*mat.Dense, error)
}

// Param ist ein lernbarer Parameter.
// Value ist immer zweidimensional; 1-D Torch-Parameter (Bias, LayerNorm)
// werden als 1xN gespeichert, Shape haelt die Torch-Form.
type Param struct {
	Value  *mat.Dense
	Shape  []int
	Device ml.Device
}

// NewParam erstellt einen mit Nullen gefuellten Parameter mit Torch-Form shape (1-D oder 2-D)
func NewParam(shape ...int) *Param {
	switch len(shape) {
	case 1:
		return &Param{Value: mat.NewDense(1, shape[0], nil), Shape: []int{shape[0]}, Device: ml.CPU}
	case 2:
		return &Param{Value: mat.NewDense(shape[0], shape[1], nil), Shape: []int{shape[0], shape[1]}, Device: ml.CPU}
	default:
		panic(fmt.Sprintf("nn: unsupported parameter rank %d", len(shape)))
	}
}

// NumElements gibt die Anzahl der Werte zurueck
func (p *Param) NumElements() int {
	r, c := p.Value.Dims()
	return r * c
}

// NewRand erstellt die deterministische Zufallsquelle fuer Initialisierung und Dropout
func NewRand(seed int64) *rand.Rand {
	return rand.New(rand.NewPCG(uint64(seed), uint64(seed)^0x9e3779b97f4a7c15))
}

// InitNormal fuellt p mit N(0, std)
func InitNormal(p *Param, std float64, rng *rand.Rand) {
	raw := p.Value.RawMatrix()
	for i := range raw.Rows {
		row := raw.Data[i*raw.Stride : i*raw.Stride+raw.Cols]
		for j := range row {
			row[j] = rng.NormFloat64() * std
		}
	}
}

// InitUniform fuellt p mit U(-bound, bound)
func InitUniform(p *Param, bound float64, rng *rand.Rand) {
	raw := p.Value.RawMatrix()
	for i := range raw.Rows {
		row := raw.Data[i*raw.Stride : i*raw.Stride+raw.Cols]
		for j := range row {
			row[j] = (2*rng.Float64() - 1) * bound
		}
	}
}

// InitConstant setzt alle Werte von p auf v
func InitConstant(p *Param, v float64) {
	r, c := p.Value.Dims()
	for i := range r {
		for j := range c {
			p.Value.Set(i, j, v)
		}
	}
}

// InitIdentity setzt eine quadratische Gewichtsmatrix auf die Einheitsmatrix
func InitIdentity(p *Param) error {
	r, c := p.Value.Dims()
	if r != c {
		return fmt.Errorf("%w: identity init needs a square matrix, got %dx%d", ErrShape, r, c)
	}
	p.Value.Zero()
	for i := range r {
		p.Value.Set(i, i, 1)
	}
	return nil
}

// kaimingBound entspricht der Standard-Initialisierung von torch.nn.Linear
func kaimingBound(fanIn int) float64 {
	if fanIn <= 0 {
		return 0
	}
	return 1 / math.Sqrt(float64(fanIn))
}

// addRow addiert den Zeilenvektor b (1xN) auf jede Zeile von x
func addRow(x *mat.Dense, b *mat.Dense) {
	bias := b.RawRowView(0)
	r, _ := x.Dims()
	for i := range r {
		row := x.RawRowView(i)
		for j := range row {
			row[j] += bias[j]
		}
	}
}

// checkCols prueft die Merkmalsbreite einer Eingabe
func checkCols(name string, x *mat.Dense, want int) error {
	if x == nil {
		return fmt.Errorf("%w: %s got nil input", ErrShape, name)
	}
	if _, c := x.Dims(); c != want {
		return fmt.Errorf("%w: %s expects %d features, got %d", ErrShape, name, want, c)
	}
	return nil
}
