// activation.go - Aktivierungen und Dropout
package nn

import (
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
	"sync"

	"gonum.org/v1/gonum/mat"
)

func apply(x *mat.Dense, fn func(float64) float64) *mat.Dense {
	var out mat.Dense
	out.Apply(func(_, _ int, v float64) float64 { return fn(v) }, x)
	return &out
}

// LeakyReLU mit negativer Steigung Slope
type LeakyReLU struct {
	Slope float64
}

func (a *LeakyReLU) ModuleName() string { return "LeakyReLU" }

func (a *LeakyReLU) Forward(x *mat.Dense) (*mat.Dense, error) {
	return apply(x, func(v float64) float64 {
		if v < 0 {
			return a.Slope * v
		}
		return v
	}), nil
}

type ReLU struct{}

func (ReLU) ModuleName() string { return "ReLU" }

func (ReLU) Forward(x *mat.Dense) (*mat.Dense, error) {
	return apply(x, func(v float64) float64 { return math.Max(v, 0) }), nil
}

type Sigmoid struct{}

func (Sigmoid) ModuleName() string { return "Sigmoid" }

func (Sigmoid) Forward(x *mat.Dense) (*mat.Dense, error) {
	return apply(x, sigmoid), nil
}

func sigmoid(v float64) float64 {
	if v >= 0 {
		return 1 / (1 + math.Exp(-v))
	}
	// numerisch stabil fuer grosse negative Werte
	e := math.Exp(v)
	return e / (1 + e)
}

type Tanh struct{}

func (Tanh) ModuleName() string { return "Tanh" }

func (Tanh) Forward(x *mat.Dense) (*mat.Dense, error) {
	return apply(x, math.Tanh), nil
}

// GELU in der exakten erf-Form
type GELU struct{}

func (GELU) ModuleName() string { return "GELU" }

func (GELU) Forward(x *mat.Dense) (*mat.Dense, error) {
	return apply(x, func(v float64) float64 {
		return v * 0.5 * (1 + math.Erf(v/math.Sqrt2))
	}), nil
}

type Swish struct{}

func (Swish) ModuleName() string { return "Swish" }

func (Swish) Forward(x *mat.Dense) (*mat.Dense, error) {
	return apply(x, func(v float64) float64 { return v * sigmoid(v) }), nil
}

// Activation gibt die Aktivierung fuer einen Konfigurationsnamen zurueck
func Activation(name string) (Layer, error) {
	switch strings.ToLower(name) {
	case "gelu":
		return GELU{}, nil
	case "relu":
		return ReLU{}, nil
	case "tanh":
		return Tanh{}, nil
	case "swish", "silu":
		return Swish{}, nil
	case "sigmoid":
		return Sigmoid{}, nil
	case "leaky_relu", "leakyrelu":
		return &LeakyReLU{Slope: 0.2}, nil
	default:
		return nil, fmt.Errorf("unknown activation %q", name)
	}
}

// Dropout setzt im Trainingsmodus Werte mit Wahrscheinlichkeit P auf 0 und
// skaliert den Rest mit 1/(1-P). Im Auswertungsmodus ist es die Identitaet.
// Forward darf nebenlaeufig aufgerufen werden.
type Dropout struct {
	P float64

	training bool

	mu  sync.Mutex
	rng *rand.Rand
}

func NewDropout(p float64, rng *rand.Rand) *Dropout {
	if rng == nil {
		rng = NewRand(0)
	}
	// eigener Strom pro Schicht, rng wird nur beim Aufbau gelesen
	return &Dropout{P: p, training: true, rng: rand.New(rand.NewPCG(rng.Uint64(), rng.Uint64()))}
}

func (d *Dropout) ModuleName() string { return "Dropout" }

// SetTraining schaltet zwischen Trainings- und Auswertungsmodus
func (d *Dropout) SetTraining(training bool) {
	d.training = training
}

func (d *Dropout) Training() bool {
	return d.training
}

func (d *Dropout) Forward(x *mat.Dense) (*mat.Dense, error) {
	if !d.training || d.P <= 0 {
		return x, nil
	}

	r, c := x.Dims()
	if d.P >= 1 {
		return mat.NewDense(r, c, nil), nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	scale := 1 / (1 - d.P)
	return apply(x, func(v float64) float64 {
		if d.rng.Float64() < d.P {
			return 0
		}
		return v * scale
	}), nil
}

// Sequential fuehrt Schichten nacheinander aus. Parameter tragen den Index
// der Schicht als Namen ("0.weight", "1.bias", ...).
type Sequential struct {
	Layers []Layer `nn:""`
}

func NewSequential(layers ...Layer) *Sequential {
	return &Sequential{Layers: layers}
}

func (s *Sequential) ModuleName() string { return "Sequential" }

func (s *Sequential) Forward(x *mat.Dense) (*mat.Dense, error) {
	var err error
	for i, l := range s.Layers {
		if x, err = l.Forward(x); err != nil {
			return nil, fmt.Errorf("layer %d (%s): %w", i, l.ModuleName(), err)
		}
	}
	return x, nil
}
