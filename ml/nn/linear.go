// linear.go - Linear, Embedding und LayerNorm
package nn

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
)

// Linear berechnet y = x·Wᵀ + b
type Linear struct {
	Weight *Param `nn:"weight"`
	Bias   *Param `nn:"bias"`

	In, Out int
}

// NewLinear erstellt eine lineare Schicht mit torch-Standardinitialisierung
func NewLinear(in, out int, bias bool, rng *rand.Rand) *Linear {
	l := &Linear{Weight: NewParam(out, in), In: in, Out: out}
	InitUniform(l.Weight, kaimingBound(in), rng)
	if bias {
		l.Bias = NewParam(out)
		InitUniform(l.Bias, kaimingBound(in), rng)
	}
	return l
}

func (l *Linear) ModuleName() string { return "Linear" }

func (l *Linear) Forward(x *mat.Dense) (*mat.Dense, error) {
	if err := checkCols("Linear", x, l.In); err != nil {
		return nil, err
	}

	var out mat.Dense
	out.Mul(x, l.Weight.Value.T())
	if l.Bias != nil {
		addRow(&out, l.Bias.Value)
	}
	return &out, nil
}

// Embedding bildet Indizes auf Zeilen der Gewichtsmatrix ab
type Embedding struct {
	Weight *Param `nn:"weight"`

	Num, Dim int
}

func NewEmbedding(num, dim int) *Embedding {
	return &Embedding{Weight: NewParam(num, dim), Num: num, Dim: dim}
}

func (e *Embedding) ModuleName() string { return "Embedding" }

// Lookup gibt fuer jeden Index eine Zeile zurueck
func (e *Embedding) Lookup(ids []int) (*mat.Dense, error) {
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: Embedding got no indices", ErrShape)
	}

	out := mat.NewDense(len(ids), e.Dim, nil)
	for i, id := range ids {
		if id < 0 || id >= e.Num {
			return nil, fmt.Errorf("%w: index %d outside embedding table of %d", ErrShape, id, e.Num)
		}
		out.SetRow(i, e.Weight.Value.RawRowView(id))
	}
	return out, nil
}

// LayerNorm normalisiert jede Zeile auf Mittelwert 0 und Varianz 1.
// Aeltere BERT-Checkpoints nennen die Parameter gamma/beta.
type LayerNorm struct {
	Weight *Param `nn:"weight,alt:gamma"`
	Bias   *Param `nn:"bias,alt:beta"`

	Dim int
	Eps float64
}

func NewLayerNorm(dim int, eps float64) *LayerNorm {
	ln := &LayerNorm{Weight: NewParam(dim), Bias: NewParam(dim), Dim: dim, Eps: eps}
	InitConstant(ln.Weight, 1)
	return ln
}

func (ln *LayerNorm) ModuleName() string { return "LayerNorm" }

func (ln *LayerNorm) Forward(x *mat.Dense) (*mat.Dense, error) {
	if err := checkCols("LayerNorm", x, ln.Dim); err != nil {
		return nil, err
	}

	gamma := ln.Weight.Value.RawRowView(0)
	beta := ln.Bias.Value.RawRowView(0)

	r, c := x.Dims()
	out := mat.NewDense(r, c, nil)
	for i := range r {
		in := x.RawRowView(i)

		var mean float64
		for _, v := range in {
			mean += v
		}
		mean /= float64(c)

		var variance float64
		for _, v := range in {
			variance += (v - mean) * (v - mean)
		}
		variance /= float64(c)

		std := math.Sqrt(variance + ln.Eps)
		row := out.RawRowView(i)
		for j, v := range in {
			row[j] = (v-mean)/std*gamma[j] + beta[j]
		}
	}
	return out, nil
}
