// linear.go - Lineare und nicht-lineare Mappings
package maps

import (
	"context"
	"fmt"
	"log/slog"

	"gonum.org/v1/gonum/mat"

	"github.com/clbt/clbt/ml/nn"
)

// LinearMap ist eine lernbare Matrix W ohne Bias. Der Parameter heisst
// "weight" wie bei nn.Linear(emb_dim, emb_dim, bias=False).
type LinearMap struct {
	Proj *nn.Linear `nn:""`
}

// NewLinear erstellt die lineare Abbildung, optional als Einheitsmatrix
func NewLinear(o Options) (*LinearMap, error) {
	m := &LinearMap{Proj: nn.NewLinear(o.EmbDim, o.EmbDim, false, nn.NewRand(o.Seed))}
	if o.IdentityInit {
		if err := nn.InitIdentity(m.Proj.Weight); err != nil {
			return nil, err
		}
		slog.Debug("mapping initialized to identity", "emb_dim", o.EmbDim)
	}
	return m, nil
}

func (m *LinearMap) ModuleName() string { return "Linear" }

// Weight gibt die Abbildungsmatrix zurueck
func (m *LinearMap) Weight() *mat.Dense {
	return m.Proj.Weight.Value
}

func (m *LinearMap) Forward(ctx context.Context, xs []*mat.Dense) ([]*mat.Dense, error) {
	return forEach(ctx, xs, m.Proj.Forward)
}

// NonLinearMap ist ein Feed-Forward-Netz
// Dropout(input) -> [Linear, Aktivierung, Dropout] x (n-1) -> Linear
type NonLinearMap struct {
	Layers *nn.Sequential `nn:"layers"`
}

func NewNonLinearMap(o Options) (*NonLinearMap, error) {
	if o.Layers < 1 {
		return nil, fmt.Errorf("%w: nonlinear mapping needs at least one layer, got %d", nn.ErrShape, o.Layers)
	}
	if o.Layers > 1 && o.HidDim <= 0 {
		return nil, fmt.Errorf("%w: hidden dimension must be positive, got %d", nn.ErrShape, o.HidDim)
	}

	rng := nn.NewRand(o.Seed)
	layers := []nn.Layer{nn.NewDropout(o.InputDropout, rng)}
	for i := range o.Layers {
		in, out := o.HidDim, o.HidDim
		if i == 0 {
			in = o.EmbDim
		}
		if i == o.Layers-1 {
			out = o.EmbDim
		}

		layers = append(layers, nn.NewLinear(in, out, true, rng))
		if i < o.Layers-1 {
			act, err := nn.Activation(o.Activation)
			if err != nil {
				return nil, err
			}
			layers = append(layers, act, nn.NewDropout(o.Dropout, rng))
		}
	}

	return &NonLinearMap{Layers: nn.NewSequential(layers...)}, nil
}

func (m *NonLinearMap) ModuleName() string { return "NonLinearMap" }

func (m *NonLinearMap) Forward(ctx context.Context, xs []*mat.Dense) ([]*mat.Dense, error) {
	return forEach(ctx, xs, m.Layers.Forward)
}
