// attention.go - Multi-Head Scaled-Dot-Product-Attention
package nn

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// maskValue wird fuer maskierte Schluessel auf die Scores addiert (wie BERT)
const maskValue = -10000.0

// MultiHeadAttention projiziert Query, Key und Value und berechnet pro Kopf
// softmax(QKᵀ/√d)·V. Die Ausgabeprojektion gehoert dem Aufrufer.
type MultiHeadAttention struct {
	Query *Linear `nn:"query"`
	Key   *Linear `nn:"key"`
	Value *Linear `nn:"value"`

	Dropout *Dropout `nn:"dropout"`

	NumHeads int
	HeadDim  int
}

// NewMultiHeadAttention erstellt eine Attention mit hidden = heads * headDim
func NewMultiHeadAttention(hidden, heads int, dropout float64, rng *rand.Rand) (*MultiHeadAttention, error) {
	if heads <= 0 || hidden%heads != 0 {
		return nil, fmt.Errorf("%w: hidden size %d is not a multiple of %d attention heads", ErrShape, hidden, heads)
	}

	return &MultiHeadAttention{
		Query:    NewLinear(hidden, hidden, true, rng),
		Key:      NewLinear(hidden, hidden, true, rng),
		Value:    NewLinear(hidden, hidden, true, rng),
		Dropout:  NewDropout(dropout, rng),
		NumHeads: heads,
		HeadDim:  hidden / heads,
	}, nil
}

func (a *MultiHeadAttention) ModuleName() string { return "MultiHeadAttention" }

// Forward berechnet die Attention von query [Tq x H] ueber memory [Tk x H].
// mask hat Laenge Tk oder ist nil; false markiert Padding.
func (a *MultiHeadAttention) Forward(query, memory *mat.Dense, mask []bool) (*mat.Dense, error) {
	q, err := a.Query.Forward(query)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	k, err := a.Key.Forward(memory)
	if err != nil {
		return nil, fmt.Errorf("key: %w", err)
	}
	v, err := a.Value.Forward(memory)
	if err != nil {
		return nil, fmt.Errorf("value: %w", err)
	}

	tq, _ := q.Dims()
	tk, _ := k.Dims()
	if mask != nil && len(mask) != tk {
		return nil, fmt.Errorf("%w: mask has %d entries for %d keys", ErrShape, len(mask), tk)
	}

	scale := 1 / math.Sqrt(float64(a.HeadDim))
	out := mat.NewDense(tq, a.NumHeads*a.HeadDim, nil)
	for h := range a.NumHeads {
		lo, hi := h*a.HeadDim, (h+1)*a.HeadDim
		qh := q.Slice(0, tq, lo, hi)
		kh := k.Slice(0, tk, lo, hi)
		vh := v.Slice(0, tk, lo, hi)

		var scores mat.Dense
		scores.Mul(qh, kh.T())
		scores.Scale(scale, &scores)
		for i := range tq {
			row := scores.RawRowView(i)
			for j := range row {
				if mask != nil && !mask[j] {
					row[j] += maskValue
				}
			}
			softmax(row)
		}

		probs, err := a.Dropout.Forward(&scores)
		if err != nil {
			return nil, err
		}

		var ctx mat.Dense
		ctx.Mul(probs, vh)
		out.Slice(0, tq, lo, hi).(*mat.Dense).Copy(&ctx)
	}

	return out, nil
}

// softmax normalisiert row in place
func softmax(row []float64) {
	m := floats.Max(row)
	for i, v := range row {
		row[i] = math.Exp(v - m)
	}
	floats.Scale(1/floats.Sum(row), row)
}
