// discriminator.go - Adversarialer Diskriminator
//
// Der Diskriminator entscheidet fuer jede Zeile eines Batches, ob der Vektor
// aus dem abgebildeten Quellraum oder aus dem Zielraum stammt.
package model

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/clbt/clbt/fs/checkpoint"
	"github.com/clbt/clbt/ml/nn"
)

// discriminatorSlope ist die negative Steigung der LeakyReLU
const discriminatorSlope = 0.2

// DiscriminatorOptions beschreibt Breite und Tiefe des Diskriminators
type DiscriminatorOptions struct {
	EmbDim       int
	Layers       int
	HidDim       int
	Dropout      float64
	InputDropout float64
	Seed         int64
}

// Discriminator: Dropout(input) -> [Linear, LeakyReLU, Dropout] x L -> Linear -> Sigmoid
type Discriminator struct {
	Layers *nn.Sequential `nn:"layers"`

	EmbDim int
}

// NewDiscriminator erstellt L+1 lineare Stufen; die letzte hat Breite 1
func NewDiscriminator(o DiscriminatorOptions) (*Discriminator, error) {
	switch {
	case o.EmbDim <= 0:
		return nil, fmt.Errorf("%w: discriminator input width must be positive, got %d", ErrInvalidShape, o.EmbDim)
	case o.Layers < 0:
		return nil, fmt.Errorf("%w: discriminator layers must not be negative, got %d", ErrInvalidShape, o.Layers)
	case o.Layers > 0 && o.HidDim <= 0:
		return nil, fmt.Errorf("%w: discriminator hidden width must be positive, got %d", ErrInvalidShape, o.HidDim)
	}

	rng := nn.NewRand(o.Seed)
	layers := []nn.Layer{nn.NewDropout(o.InputDropout, rng)}
	for i := range o.Layers + 1 {
		in, out := o.HidDim, o.HidDim
		if i == 0 {
			in = o.EmbDim
		}
		if i == o.Layers {
			out = 1
		}

		layers = append(layers, nn.NewLinear(in, out, true, rng))
		if i < o.Layers {
			layers = append(layers, &nn.LeakyReLU{Slope: discriminatorSlope}, nn.NewDropout(o.Dropout, rng))
		}
	}
	layers = append(layers, nn.Sigmoid{})

	return &Discriminator{Layers: nn.NewSequential(layers...), EmbDim: o.EmbDim}, nil
}

func (d *Discriminator) ModuleName() string { return "Discriminator" }

// Linears gibt die linearen Stufen in Reihenfolge zurueck
func (d *Discriminator) Linears() []*nn.Linear {
	var out []*nn.Linear
	for _, l := range d.Layers.Layers {
		if linear, ok := l.(*nn.Linear); ok {
			out = append(out, linear)
		}
	}
	return out
}

// Forward gibt eine Wahrscheinlichkeit pro Zeile von x [Batch x EmbDim] zurueck
func (d *Discriminator) Forward(x *mat.Dense) ([]float64, error) {
	if x == nil || x.IsEmpty() {
		return nil, fmt.Errorf("%w: discriminator got no input", ErrInvalidShape)
	}
	if _, c := x.Dims(); c != d.EmbDim {
		return nil, fmt.Errorf("%w: discriminator expects %d features, got %d", ErrInvalidShape, d.EmbDim, c)
	}

	y, err := d.Layers.Forward(x)
	if err != nil {
		return nil, err
	}
	return mat.Col(nil, 0, y), nil
}

// ForwardTensor akzeptiert nur Tensoren der Form [Batch, EmbDim]
func (d *Discriminator) ForwardTensor(t *checkpoint.Tensor) ([]float64, error) {
	if t == nil || len(t.Shape) != 2 {
		var shape []int
		if t != nil {
			shape = t.Shape
		}
		return nil, fmt.Errorf("%w: discriminator expects a rank-2 batch, got shape %v", ErrInvalidShape, shape)
	}
	if t.Shape[1] != d.EmbDim {
		return nil, fmt.Errorf("%w: discriminator expects %d features, got %d", ErrInvalidShape, d.EmbDim, t.Shape[1])
	}
	if len(t.Data) != t.Shape[0]*t.Shape[1] {
		return nil, fmt.Errorf("%w: %d values for shape %v", ErrInvalidShape, len(t.Data), t.Shape)
	}
	if t.Shape[0] == 0 {
		return []float64{}, nil
	}

	data := make([]float64, len(t.Data))
	for i, v := range t.Data {
		data[i] = float64(v)
	}
	return d.Forward(mat.NewDense(t.Shape[0], t.Shape[1], data))
}
