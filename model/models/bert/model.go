// Modul: model.go
// Beschreibung: BERT-Encoder mit Vorwaertsdurchlauf
// Hauptstrukturen:
//   - Model: Embeddings, Encoder-Bloecke und Pooler
//   - New: Erstellt und initialisiert ein Modell aus der Konfiguration
//   - Forward: Liefert alle Encoder-Schichten und den gepoolten Vektor

package bert

import (
	"context"
	"fmt"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/clbt/clbt/logutil"
	"github.com/clbt/clbt/ml/nn"
)

// Model ist ein BERT-Encoder. Parameternamen entsprechen BertModel
// (embeddings.*, encoder.layer.N.*, pooler.*).
type Model struct {
	Embeddings *Embeddings `nn:"embeddings"`
	Encoder    *Encoder    `nn:"encoder"`
	Pooler     *Pooler     `nn:"pooler"`

	Config Config
}

// Example ist ein tokenisierter Satz
type Example struct {
	InputIDs     []int
	TokenTypeIDs []int

	// Mask markiert echte Tokens; nil bedeutet keine Maske
	Mask []bool
}

// Result enthaelt die Ausgabe jedes Encoder-Blocks und den gepoolten Vektor
type Result struct {
	Layers []*mat.Dense
	Pooled []float64
}

// Last gibt die Ausgabe des letzten Blocks zurueck
func (r *Result) Last() *mat.Dense {
	if len(r.Layers) == 0 {
		return nil
	}
	return r.Layers[len(r.Layers)-1]
}

// New erstellt ein BERT-Modell. Gewichte werden mit N(0, initializer_range)
// initialisiert, LayerNorm mit 1 und Biases mit 0.
func New(c Config, seed int64) (*Model, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	act, err := nn.Activation(c.HiddenAct)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	rng := nn.NewRand(seed)
	m := &Model{
		Embeddings: newEmbeddings(c, rng),
		Encoder:    &Encoder{Layers: make([]*Layer, c.NumHiddenLayers)},
		Pooler:     &Pooler{Dense: nn.NewLinear(c.HiddenSize, c.HiddenSize, true, rng)},
		Config:     c,
	}

	for i := range m.Encoder.Layers {
		if m.Encoder.Layers[i], err = newLayer(c, act, rng); err != nil {
			return nil, fmt.Errorf("layer %d: %w", i, err)
		}
	}

	for _, p := range nn.NamedParameters(m) {
		switch {
		case strings.HasSuffix(p.Name, "LayerNorm.weight"):
			nn.InitConstant(p.Param, 1)
		case strings.HasSuffix(p.Name, ".bias"):
			nn.InitConstant(p.Param, 0)
		default:
			nn.InitNormal(p.Param, c.InitializerRange, rng)
		}
	}

	return m, nil
}

func (m *Model) ModuleName() string { return "BertModel" }

// HiddenSize gibt die Breite der Ausgaben zurueck
func (m *Model) HiddenSize() int {
	return m.Config.HiddenSize
}

// Forward verarbeitet jedes Beispiel unabhaengig
func (m *Model) Forward(ctx context.Context, batch []Example) ([]*Result, error) {
	results := make([]*Result, len(batch))
	for i, ex := range batch {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		r, err := m.forward(ex)
		if err != nil {
			return nil, fmt.Errorf("example %d: %w", i, err)
		}
		results[i] = r
	}

	return results, nil
}

func (m *Model) forward(ex Example) (*Result, error) {
	if len(ex.InputIDs) == 0 {
		return nil, fmt.Errorf("%w: empty input", nn.ErrShape)
	}
	if ex.Mask != nil && len(ex.Mask) != len(ex.InputIDs) {
		return nil, fmt.Errorf("%w: mask has %d entries for %d tokens", nn.ErrShape, len(ex.Mask), len(ex.InputIDs))
	}

	x, err := m.Embeddings.Forward(ex.InputIDs, ex.TokenTypeIDs)
	if err != nil {
		return nil, fmt.Errorf("embeddings: %w", err)
	}

	r := &Result{Layers: make([]*mat.Dense, 0, len(m.Encoder.Layers))}
	for i, l := range m.Encoder.Layers {
		if x, err = l.Forward(x, ex.Mask); err != nil {
			return nil, fmt.Errorf("layer %d: %w", i, err)
		}
		r.Layers = append(r.Layers, x)
	}
	logutil.Trace("bert forward", "tokens", len(ex.InputIDs), "layers", len(r.Layers))

	if r.Pooled, err = m.Pooler.Forward(x); err != nil {
		return nil, fmt.Errorf("pooler: %w", err)
	}

	return r, nil
}
