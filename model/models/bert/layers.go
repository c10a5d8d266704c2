// Modul: layers.go
// Beschreibung: Bausteine des BERT-Encoders
// Hauptstrukturen:
//   - Embeddings: Wort-, Positions- und Segment-Embeddings mit LayerNorm
//   - Layer: Self-Attention, Intermediate und Output eines Encoder-Blocks
//   - Pooler: Dense + Tanh ueber dem ersten Token

package bert

import (
	"fmt"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"

	"github.com/clbt/clbt/ml/nn"
)

// Embeddings summiert Wort-, Positions- und Segment-Embeddings
type Embeddings struct {
	WordEmbeddings      *nn.Embedding `nn:"word_embeddings"`
	PositionEmbeddings  *nn.Embedding `nn:"position_embeddings"`
	TokenTypeEmbeddings *nn.Embedding `nn:"token_type_embeddings"`
	LayerNorm           *nn.LayerNorm `nn:"LayerNorm"`
	Dropout             *nn.Dropout   `nn:"dropout"`
}

func newEmbeddings(c Config, rng *rand.Rand) *Embeddings {
	return &Embeddings{
		WordEmbeddings:      nn.NewEmbedding(c.VocabSize, c.HiddenSize),
		PositionEmbeddings:  nn.NewEmbedding(c.MaxPositionEmbeddings, c.HiddenSize),
		TokenTypeEmbeddings: nn.NewEmbedding(c.TypeVocabSize, c.HiddenSize),
		LayerNorm:           nn.NewLayerNorm(c.HiddenSize, c.LayerNormEps),
		Dropout:             nn.NewDropout(c.HiddenDropoutProb, rng),
	}
}

func (e *Embeddings) ModuleName() string { return "BertEmbeddings" }

func (e *Embeddings) Forward(ids, typeIDs []int) (*mat.Dense, error) {
	if len(ids) > e.PositionEmbeddings.Num {
		return nil, fmt.Errorf("%w: sequence of %d tokens exceeds %d positions", nn.ErrShape, len(ids), e.PositionEmbeddings.Num)
	}

	if typeIDs == nil {
		typeIDs = make([]int, len(ids))
	} else if len(typeIDs) != len(ids) {
		return nil, fmt.Errorf("%w: %d token type ids for %d tokens", nn.ErrShape, len(typeIDs), len(ids))
	}

	positions := make([]int, len(ids))
	for i := range positions {
		positions[i] = i
	}

	words, err := e.WordEmbeddings.Lookup(ids)
	if err != nil {
		return nil, fmt.Errorf("word embeddings: %w", err)
	}
	pos, err := e.PositionEmbeddings.Lookup(positions)
	if err != nil {
		return nil, fmt.Errorf("position embeddings: %w", err)
	}
	types, err := e.TokenTypeEmbeddings.Lookup(typeIDs)
	if err != nil {
		return nil, fmt.Errorf("token type embeddings: %w", err)
	}

	words.Add(words, pos)
	words.Add(words, types)

	x, err := e.LayerNorm.Forward(words)
	if err != nil {
		return nil, err
	}
	return e.Dropout.Forward(x)
}

// Output ist Dense + Dropout + Residual + LayerNorm
type Output struct {
	Dense     *nn.Linear    `nn:"dense"`
	LayerNorm *nn.LayerNorm `nn:"LayerNorm"`
	Dropout   *nn.Dropout   `nn:"dropout"`
}

func newOutput(in, out int, c Config, rng *rand.Rand) *Output {
	return &Output{
		Dense:     nn.NewLinear(in, out, true, rng),
		LayerNorm: nn.NewLayerNorm(out, c.LayerNormEps),
		Dropout:   nn.NewDropout(c.HiddenDropoutProb, rng),
	}
}

func (o *Output) ModuleName() string { return "BertOutput" }

func (o *Output) Forward(hidden, residual *mat.Dense) (*mat.Dense, error) {
	x, err := o.Dense.Forward(hidden)
	if err != nil {
		return nil, err
	}
	if x, err = o.Dropout.Forward(x); err != nil {
		return nil, err
	}

	x.Add(x, residual)
	return o.LayerNorm.Forward(x)
}

// Attention ist Self-Attention mit Ausgabeprojektion
type Attention struct {
	Self   *nn.MultiHeadAttention `nn:"self"`
	Output *Output                `nn:"output"`
}

func (a *Attention) ModuleName() string { return "BertAttention" }

func (a *Attention) Forward(x *mat.Dense, mask []bool) (*mat.Dense, error) {
	ctx, err := a.Self.Forward(x, x, mask)
	if err != nil {
		return nil, err
	}
	return a.Output.Forward(ctx, x)
}

// Intermediate ist Dense + Aktivierung
type Intermediate struct {
	Dense *nn.Linear `nn:"dense"`

	act nn.Layer
}

func (i *Intermediate) ModuleName() string { return "BertIntermediate" }

func (i *Intermediate) Forward(x *mat.Dense) (*mat.Dense, error) {
	x, err := i.Dense.Forward(x)
	if err != nil {
		return nil, err
	}
	return i.act.Forward(x)
}

// Layer ist ein Encoder-Block
type Layer struct {
	Attention    *Attention    `nn:"attention"`
	Intermediate *Intermediate `nn:"intermediate"`
	Output       *Output       `nn:"output"`
}

func newLayer(c Config, act nn.Layer, rng *rand.Rand) (*Layer, error) {
	self, err := nn.NewMultiHeadAttention(c.HiddenSize, c.NumAttentionHeads, c.AttentionProbsDropoutProb, rng)
	if err != nil {
		return nil, err
	}

	return &Layer{
		Attention: &Attention{
			Self:   self,
			Output: newOutput(c.HiddenSize, c.HiddenSize, c, rng),
		},
		Intermediate: &Intermediate{
			Dense: nn.NewLinear(c.HiddenSize, c.IntermediateSize, true, rng),
			act:   act,
		},
		Output: newOutput(c.IntermediateSize, c.HiddenSize, c, rng),
	}, nil
}

func (l *Layer) ModuleName() string { return "BertLayer" }

func (l *Layer) Forward(x *mat.Dense, mask []bool) (*mat.Dense, error) {
	attn, err := l.Attention.Forward(x, mask)
	if err != nil {
		return nil, fmt.Errorf("attention: %w", err)
	}

	hidden, err := l.Intermediate.Forward(attn)
	if err != nil {
		return nil, fmt.Errorf("intermediate: %w", err)
	}

	return l.Output.Forward(hidden, attn)
}

// Encoder ist der Stapel der Encoder-Bloecke
type Encoder struct {
	Layers []*Layer `nn:"layer"`
}

func (e *Encoder) ModuleName() string { return "BertEncoder" }

// Pooler bildet das erste Token auf den Satzvektor ab
type Pooler struct {
	Dense *nn.Linear `nn:"dense"`
}

func (p *Pooler) ModuleName() string { return "BertPooler" }

func (p *Pooler) Forward(x *mat.Dense) ([]float64, error) {
	row := mat.Row(nil, 0, x)
	first := mat.NewDense(1, len(row), row)
	y, err := p.Dense.Forward(first)
	if err != nil {
		return nil, err
	}

	y, err = nn.Tanh{}.Forward(y)
	if err != nil {
		return nil, err
	}
	return mat.Row(nil, 0, y), nil
}
