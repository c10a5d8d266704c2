// attention.go - Attention-basierte Mappings
//
// Alle Varianten teilen den Block aus Multi-Head-Self-Attention,
// Ausgabeprojektion, Residual und LayerNorm. Parameternamen folgen dem
// BERT-Schema (attention.self.*, attention.output.*).
package maps

import (
	"context"
	"fmt"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"

	"github.com/clbt/clbt/ml/nn"
)

const layerNormEps = 1e-12

type attentionOutput struct {
	Dense     *nn.Linear    `nn:"dense"`
	LayerNorm *nn.LayerNorm `nn:"LayerNorm"`
	Dropout   *nn.Dropout   `nn:"dropout"`
}

// attentionBlock berechnet LayerNorm(query + Dense(Attention(query, memory)))
type attentionBlock struct {
	Self   *nn.MultiHeadAttention `nn:"self"`
	Output *attentionOutput       `nn:"output"`
}

func newAttentionBlock(o Options, rng *rand.Rand) (*attentionBlock, error) {
	if o.Heads <= 0 {
		return nil, fmt.Errorf("%w: number of attention heads must be positive, got %d", nn.ErrShape, o.Heads)
	}

	self, err := nn.NewMultiHeadAttention(o.EmbDim, o.Heads, o.Dropout, rng)
	if err != nil {
		return nil, err
	}

	return &attentionBlock{
		Self: self,
		Output: &attentionOutput{
			Dense:     nn.NewLinear(o.EmbDim, o.EmbDim, true, rng),
			LayerNorm: nn.NewLayerNorm(o.EmbDim, layerNormEps),
			Dropout:   nn.NewDropout(o.Dropout, rng),
		},
	}, nil
}

func (b *attentionBlock) forward(query, memory *mat.Dense) (*mat.Dense, error) {
	ctx, err := b.Self.Forward(query, memory, nil)
	if err != nil {
		return nil, err
	}

	x, err := b.Output.Dense.Forward(ctx)
	if err != nil {
		return nil, err
	}
	if x, err = b.Output.Dropout.Forward(x); err != nil {
		return nil, err
	}

	x.Add(x, query)
	return b.Output.LayerNorm.Forward(x)
}

// =============================================================================
// SelfAttentionMap
// =============================================================================

// SelfAttentionMap: Dropout(input) -> Self-Attention-Block
type SelfAttentionMap struct {
	InputDropout *nn.Dropout     `nn:"input_dropout"`
	Attention    *attentionBlock `nn:"attention"`
}

func NewSelfAttentionMap(o Options) (*SelfAttentionMap, error) {
	rng := nn.NewRand(o.Seed)
	block, err := newAttentionBlock(o, rng)
	if err != nil {
		return nil, err
	}

	return &SelfAttentionMap{
		InputDropout: nn.NewDropout(o.InputDropout, rng),
		Attention:    block,
	}, nil
}

func (m *SelfAttentionMap) ModuleName() string { return "SelfAttentionMap" }

func (m *SelfAttentionMap) Forward(ctx context.Context, xs []*mat.Dense) ([]*mat.Dense, error) {
	return forEach(ctx, xs, func(x *mat.Dense) (*mat.Dense, error) {
		x, err := m.InputDropout.Forward(x)
		if err != nil {
			return nil, err
		}
		return m.Attention.forward(x, x)
	})
}

// =============================================================================
// AttentionMap
// =============================================================================

// AttentionMap projiziert jedes Token linear und laesst die Projektion ueber
// die Quellsequenz attendieren (Query = Projektion, Key/Value = Quelle).
type AttentionMap struct {
	InputDropout *nn.Dropout     `nn:"input_dropout"`
	Proj         *nn.Linear      `nn:"proj"`
	Attention    *attentionBlock `nn:"attention"`
}

func NewAttentionMap(o Options) (*AttentionMap, error) {
	rng := nn.NewRand(o.Seed)
	proj := nn.NewLinear(o.EmbDim, o.EmbDim, false, rng)
	if o.IdentityInit {
		if err := nn.InitIdentity(proj.Weight); err != nil {
			return nil, err
		}
	}

	block, err := newAttentionBlock(o, rng)
	if err != nil {
		return nil, err
	}

	return &AttentionMap{
		InputDropout: nn.NewDropout(o.InputDropout, rng),
		Proj:         proj,
		Attention:    block,
	}, nil
}

func (m *AttentionMap) ModuleName() string { return "AttentionMap" }

func (m *AttentionMap) Forward(ctx context.Context, xs []*mat.Dense) ([]*mat.Dense, error) {
	return forEach(ctx, xs, func(x *mat.Dense) (*mat.Dense, error) {
		x, err := m.InputDropout.Forward(x)
		if err != nil {
			return nil, err
		}

		q, err := m.Proj.Forward(x)
		if err != nil {
			return nil, err
		}
		return m.Attention.forward(q, x)
	})
}

// =============================================================================
// LinearSelfAttentionMap / NonLinearSelfAttentionMap
// =============================================================================

// LinearSelfAttentionMap: lineare Abbildung, danach Self-Attention-Block
type LinearSelfAttentionMap struct {
	Linear    *nn.Linear      `nn:"linear"`
	Attention *attentionBlock `nn:"attention"`
}

func NewLinearSelfAttentionMap(o Options) (*LinearSelfAttentionMap, error) {
	rng := nn.NewRand(o.Seed)
	linear := nn.NewLinear(o.EmbDim, o.EmbDim, false, rng)
	if o.IdentityInit {
		if err := nn.InitIdentity(linear.Weight); err != nil {
			return nil, err
		}
	}

	block, err := newAttentionBlock(o, rng)
	if err != nil {
		return nil, err
	}

	return &LinearSelfAttentionMap{Linear: linear, Attention: block}, nil
}

func (m *LinearSelfAttentionMap) ModuleName() string { return "LinearSelfAttentionMap" }

func (m *LinearSelfAttentionMap) Forward(ctx context.Context, xs []*mat.Dense) ([]*mat.Dense, error) {
	return forEach(ctx, xs, func(x *mat.Dense) (*mat.Dense, error) {
		y, err := m.Linear.Forward(x)
		if err != nil {
			return nil, err
		}
		return m.Attention.forward(y, y)
	})
}

// NonLinearSelfAttentionMap: NonLinearMap, danach Self-Attention-Block
type NonLinearSelfAttentionMap struct {
	NonLinear *NonLinearMap   `nn:"nonlinear"`
	Attention *attentionBlock `nn:"attention"`
}

func NewNonLinearSelfAttentionMap(o Options) (*NonLinearSelfAttentionMap, error) {
	nonlinear, err := NewNonLinearMap(o)
	if err != nil {
		return nil, err
	}

	// eigener Zufallsstrom fuer den Attention-Block
	block, err := newAttentionBlock(o, nn.NewRand(o.Seed+1))
	if err != nil {
		return nil, err
	}

	return &NonLinearSelfAttentionMap{NonLinear: nonlinear, Attention: block}, nil
}

func (m *NonLinearSelfAttentionMap) ModuleName() string { return "NonLinearSelfAttentionMap" }

func (m *NonLinearSelfAttentionMap) Forward(ctx context.Context, xs []*mat.Dense) ([]*mat.Dense, error) {
	ys, err := m.NonLinear.Forward(ctx, xs)
	if err != nil {
		return nil, err
	}

	return forEach(ctx, ys, func(y *mat.Dense) (*mat.Dense, error) {
		return m.Attention.forward(y, y)
	})
}
