// Package maps - Mapping-Netzwerke vom Quell- in den Zielraum
//
// Jede Variante bildet eine Folge von Satzmatrizen [Tokens x EmbDim] auf
// Matrizen derselben Form ab. Die Variante wird genau einmal beim Aufbau
// gewaehlt (Type) und danach nicht mehr gewechselt.
//
// Hauptkomponenten:
// - Type/ParseType: Geschlossene Menge der Varianten
// - Options: Hyperparameter aller Varianten
// - New: Erstellt die Variante (nil fuer FineTune)
package maps

import (
	"context"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/clbt/clbt/ml/nn"
)

// Type waehlt die Mapping-Variante
type Type int

const (
	Linear Type = iota
	SVD
	NonLinear
	Attention
	SelfAttention
	LinearSelfAttention
	NonLinearSelfAttention
	FineTune
)

var typeNames = map[Type]string{
	Linear:                 "linear",
	SVD:                    "svd",
	NonLinear:              "nonlinear",
	Attention:              "attention",
	SelfAttention:          "self_attention",
	LinearSelfAttention:    "linear_self_attention",
	NonLinearSelfAttention: "nonlinear_self_attention",
	FineTune:               "fine_tune",
}

func (t Type) String() string {
	if s, ok := typeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("Type(%d)", int(t))
}

// Names gibt alle gueltigen Selektoren in Deklarationsreihenfolge zurueck
func Names() []string {
	names := make([]string, 0, len(typeNames))
	for t := Linear; t <= FineTune; t++ {
		names = append(names, t.String())
	}
	return names
}

// ParseType sucht die Variante zu einem Selektor
func ParseType(s string) (Type, bool) {
	for t, name := range typeNames {
		if name == s {
			return t, true
		}
	}
	return 0, false
}

// Mapping ist ein Mapping-Netzwerk. Forward verarbeitet einen Satz pro Matrix.
type Mapping interface {
	nn.Module
	Forward(ctx context.Context, xs []*mat.Dense) ([]*mat.Dense, error)
}

// Options enthaelt die Hyperparameter aller Varianten
type Options struct {
	EmbDim       int
	HidDim       int
	Layers       int
	Heads        int
	Activation   string
	Dropout      float64
	InputDropout float64

	// IdentityInit initialisiert die lineare Abbildung mit der Einheitsmatrix
	IdentityInit bool

	Seed int64
}

// New erstellt die Variante t. FineTune hat kein Netzwerk und liefert nil.
func New(t Type, o Options) (Mapping, error) {
	if o.EmbDim <= 0 {
		return nil, fmt.Errorf("%w: embedding dimension must be positive, got %d", nn.ErrShape, o.EmbDim)
	}

	switch t {
	case Linear, SVD:
		return NewLinear(o)
	case NonLinear:
		return NewNonLinearMap(o)
	case Attention:
		return NewAttentionMap(o)
	case SelfAttention:
		return NewSelfAttentionMap(o)
	case LinearSelfAttention:
		return NewLinearSelfAttentionMap(o)
	case NonLinearSelfAttention:
		return NewNonLinearSelfAttentionMap(o)
	case FineTune:
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown mapping type %v", t)
	}
}

// forEach wendet fn auf jeden Satz an
func forEach(ctx context.Context, xs []*mat.Dense, fn func(*mat.Dense) (*mat.Dense, error)) ([]*mat.Dense, error) {
	out := make([]*mat.Dense, len(xs))
	for i, x := range xs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		y, err := fn(x)
		if err != nil {
			return nil, fmt.Errorf("sentence %d: %w", i, err)
		}
		out[i] = y
	}
	return out, nil
}
