package nn

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/clbt/clbt/fs/checkpoint"
	"github.com/clbt/clbt/ml"
)

type testNet struct {
	Layers *Sequential `nn:"layers"`
	Norm   *LayerNorm  `nn:"LayerNorm"`
	Skip   *Linear     `nn:"-"`
}

func newTestNet() *testNet {
	rng := NewRand(1)
	return &testNet{
		Layers: NewSequential(
			NewDropout(0.5, rng),
			NewLinear(3, 2, true, rng),
			&LeakyReLU{Slope: 0.2},
			NewLinear(2, 1, false, rng),
		),
		Norm: NewLayerNorm(2, 1e-12),
		Skip: NewLinear(2, 2, true, rng),
	}
}

func (n *testNet) ModuleName() string { return "testNet" }

func TestLinearForward(t *testing.T) {
	l := NewLinear(2, 2, true, NewRand(0))
	l.Weight.Value = mat.NewDense(2, 2, []float64{1, 2, 3, 4})
	l.Bias.Value = mat.NewDense(1, 2, []float64{0.5, -1})

	out, err := l.Forward(mat.NewDense(1, 2, []float64{1, 1}))
	require.NoError(t, err)
	assert.Equal(t, []float64{3.5, 6}, out.RawRowView(0))

	_, err = l.Forward(mat.NewDense(1, 3, nil))
	assert.ErrorIs(t, err, ErrShape)
}

func TestInitIdentity(t *testing.T) {
	p := NewParam(4, 4)
	InitNormal(p, 1, NewRand(3))
	require.NoError(t, InitIdentity(p))

	want := mat.NewDense(4, 4, []float64{1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1})
	assert.True(t, mat.Equal(want, p.Value))

	assert.ErrorIs(t, InitIdentity(NewParam(2, 3)), ErrShape)
}

func TestLayerNorm(t *testing.T) {
	ln := NewLayerNorm(4, 1e-12)
	out, err := ln.Forward(mat.NewDense(1, 4, []float64{1, 2, 3, 4}))
	require.NoError(t, err)

	var sum float64
	for _, v := range out.RawRowView(0) {
		sum += v
	}
	assert.InDelta(t, 0, sum, 1e-9)
	assert.InDelta(t, -1.3416407865, out.At(0, 0), 1e-6)
}

func TestActivations(t *testing.T) {
	x := mat.NewDense(1, 3, []float64{-2, 0, 2})

	out, err := (&LeakyReLU{Slope: 0.2}).Forward(x)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{-0.4, 0, 2}, out.RawRowView(0), 1e-12)

	out, err = Sigmoid{}.Forward(mat.NewDense(1, 3, []float64{-1000, 0, 1000}))
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0, 0.5, 1}, out.RawRowView(0), 1e-12)

	for _, name := range []string{"gelu", "relu", "tanh", "swish", "leaky_relu"} {
		_, err := Activation(name)
		assert.NoError(t, err, name)
	}
	_, err = Activation("softsign")
	assert.Error(t, err)
}

func TestDropout(t *testing.T) {
	x := mat.NewDense(2, 2, []float64{1, 2, 3, 4})

	d := NewDropout(1, NewRand(0))
	out, err := d.Forward(x)
	require.NoError(t, err)
	assert.True(t, mat.Equal(mat.NewDense(2, 2, nil), out))

	d.SetTraining(false)
	out, err = d.Forward(x)
	require.NoError(t, err)
	assert.True(t, mat.Equal(x, out))

	d = NewDropout(0.5, NewRand(0))
	out, err = d.Forward(x)
	require.NoError(t, err)
	for i := range 2 {
		for j := range 2 {
			v := out.At(i, j)
			assert.True(t, v == 0 || v == 2*x.At(i, j), "unerwarteter Wert %v", v)
		}
	}
}

func TestNamedParameters(t *testing.T) {
	net := newTestNet()
	var names []string
	for _, np := range NamedParameters(net) {
		names = append(names, np.Name)
	}

	assert.Equal(t, []string{
		"layers.1.weight",
		"layers.1.bias",
		"layers.3.weight",
		"LayerNorm.weight",
		"LayerNorm.bias",
	}, names)

	params := NamedParameters(net)
	assert.Equal(t, []string{"LayerNorm.gamma"}, params[3].Alternatives)
	assert.Equal(t, 3*2+2+2*1+2+2, NumParameters(net))
}

func TestToAndSetTraining(t *testing.T) {
	net := newTestNet()
	assert.Equal(t, ml.CPU, DeviceOf(net))

	To(net, ml.CUDA(1))
	for _, p := range Parameters(net) {
		assert.Equal(t, ml.CUDA(1), p.Device)
	}
	assert.Equal(t, ml.CUDA(1), DeviceOf(net))

	drop := net.Layers.Layers[0].(*Dropout)
	Eval(net)
	assert.False(t, drop.Training())
	Train(net)
	assert.True(t, drop.Training())
}

func TestStateDictRoundTrip(t *testing.T) {
	src := newTestNet()
	dst := newTestNet()
	InitConstant(dst.Layers.Layers[1].(*Linear).Weight, 0)

	sd := StateDict(src)
	assert.Equal(t, []int{2}, func() []int { tt, _ := sd.Get("layers.1.bias"); return tt.Shape }())

	require.NoError(t, LoadStateDict(dst, sd, true))
	for i, p := range Parameters(dst) {
		assert.True(t, mat.EqualApprox(Parameters(src)[i].Value, p.Value, 1e-6))
	}
}

func TestLoadStateDictAlternatives(t *testing.T) {
	net := newTestNet()
	sd := StateDict(net)

	legacy := checkpoint.NewStateDict()
	for name, tt := range sd.All() {
		switch name {
		case "LayerNorm.weight":
			name = "LayerNorm.gamma"
		case "LayerNorm.bias":
			name = "LayerNorm.beta"
		}
		legacy.Set(name, tt)
	}

	assert.NoError(t, LoadStateDict(newTestNet(), legacy, true))
}

func TestLoadStateDictErrors(t *testing.T) {
	sd := StateDict(newTestNet())
	sd.Delete("layers.3.weight")
	sd.Set("cls.predictions.bias", &checkpoint.Tensor{Shape: []int{1}, Data: []float32{0}})

	err := LoadStateDict(newTestNet(), sd, true)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStateDict))

	var lerr *LoadError
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, []string{"layers.3.weight"}, lerr.Missing)
	assert.Equal(t, []string{"cls.predictions.bias"}, lerr.Unexpected)

	assert.NoError(t, LoadStateDict(newTestNet(), sd, false))

	bad := StateDict(newTestNet())
	bad.Set("layers.1.bias", &checkpoint.Tensor{Shape: []int{3}, Data: []float32{1, 2, 3}})
	err = LoadStateDict(newTestNet(), bad, false)
	require.ErrorAs(t, err, &lerr)
	assert.Len(t, lerr.Mismatched, 1)
}

func TestMultiHeadAttentionMask(t *testing.T) {
	a, err := NewMultiHeadAttention(2, 1, 0, NewRand(0))
	require.NoError(t, err)

	InitConstant(a.Query.Weight, 0)
	InitConstant(a.Key.Weight, 0)
	require.NoError(t, InitIdentity(a.Value.Weight))
	for _, l := range []*Linear{a.Query, a.Key, a.Value} {
		InitConstant(l.Bias, 0)
	}

	memory := mat.NewDense(2, 2, []float64{1, 2, 3, 4})

	out, err := a.Forward(memory, memory, []bool{true, false})
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{1, 2}, out.RawRowView(0), 1e-6)
	assert.InDeltaSlice(t, []float64{1, 2}, out.RawRowView(1), 1e-6)

	out, err = a.Forward(memory, memory, nil)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{2, 3}, out.RawRowView(0), 1e-9)

	_, err = a.Forward(memory, memory, []bool{true})
	assert.ErrorIs(t, err, ErrShape)

	_, err = NewMultiHeadAttention(5, 2, 0, NewRand(0))
	assert.ErrorIs(t, err, ErrShape)
}
