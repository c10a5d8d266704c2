package bert

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/clbt/clbt/fs/checkpoint"
	"github.com/clbt/clbt/ml/nn"
)

func tinyConfig() Config {
	return Config{
		VocabSize:                 10,
		HiddenSize:                8,
		NumHiddenLayers:           2,
		NumAttentionHeads:         2,
		IntermediateSize:          16,
		HiddenAct:                 "gelu",
		HiddenDropoutProb:         0.1,
		AttentionProbsDropoutProb: 0.1,
		MaxPositionEmbeddings:     16,
		TypeVocabSize:             2,
		InitializerRange:          0.02,
		LayerNormEps:              1e-12,
	}
}

func TestParseConfig(t *testing.T) {
	c, err := ParseConfig(strings.NewReader(`{"hidden_size": 8, "num_attention_heads": 2, "vocab_size": 10}`))
	require.NoError(t, err)
	assert.Equal(t, 8, c.HiddenSize)
	assert.Equal(t, 10, c.VocabSize)
	// fehlende Felder behalten den Standardwert
	assert.Equal(t, 12, c.NumHiddenLayers)
	assert.InDelta(t, 1e-12, c.LayerNormEps, 0)
}

func TestParseConfigErrors(t *testing.T) {
	cases := map[string]string{
		"json":     `{"hidden_size": `,
		"koepfe":   `{"hidden_size": 10, "num_attention_heads": 3}`,
		"null":     `{"hidden_size": 0}`,
		"dropout":  `{"hidden_dropout_prob": 1.5}`,
		"vokabel":  `{"vocab_size": 0}`,
		"zwischen": `{"intermediate_size": 0}`,
	}

	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseConfig(strings.NewReader(input))
			if !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("ErrInvalidConfig erwartet, got %v", err)
			}
		})
	}
}

func TestConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bert_config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"hidden_size": 16, "num_attention_heads": 4}`), 0o644))

	c, err := ConfigFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, 16, c.HiddenSize)

	_, err = ConfigFromFile(filepath.Join(t.TempDir(), "fehlt.json"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestNewParameters(t *testing.T) {
	m, err := New(tinyConfig(), 1)
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, p := range nn.NamedParameters(m) {
		names[p.Name] = true
	}

	for _, name := range []string{
		"embeddings.word_embeddings.weight",
		"embeddings.position_embeddings.weight",
		"embeddings.token_type_embeddings.weight",
		"embeddings.LayerNorm.weight",
		"encoder.layer.0.attention.self.query.weight",
		"encoder.layer.0.attention.self.value.bias",
		"encoder.layer.0.attention.output.dense.weight",
		"encoder.layer.0.attention.output.LayerNorm.bias",
		"encoder.layer.1.intermediate.dense.weight",
		"encoder.layer.1.output.dense.bias",
		"encoder.layer.1.output.LayerNorm.weight",
		"pooler.dense.weight",
	} {
		assert.True(t, names[name], "Parameter %s fehlt", name)
	}

	assert.Equal(t, 1512, nn.NumParameters(m))
	assert.Equal(t, 8, m.HiddenSize())
}

func TestNewInit(t *testing.T) {
	m, err := New(tinyConfig(), 1)
	require.NoError(t, err)

	ln := m.Encoder.Layers[0].Output.LayerNorm
	assert.Equal(t, []float64{1, 1, 1, 1, 1, 1, 1, 1}, ln.Weight.Value.RawRowView(0))
	assert.Equal(t, make([]float64, 8), ln.Bias.Value.RawRowView(0))
	assert.Equal(t, make([]float64, 8), m.Pooler.Dense.Bias.Value.RawRowView(0))

	w := m.Embeddings.WordEmbeddings.Weight.Value.RawMatrix().Data
	assert.Less(t, floats.Max(w), 0.2)
	assert.Greater(t, floats.Min(w), -0.2)
	assert.NotZero(t, floats.Norm(w, 2))
}

func TestNewDeterministic(t *testing.T) {
	a, err := New(tinyConfig(), 5)
	require.NoError(t, err)
	b, err := New(tinyConfig(), 5)
	require.NoError(t, err)

	for _, pa := range nn.NamedParameters(a) {
		tb, ok := nn.StateDict(b).Get(pa.Name)
		require.True(t, ok)
		require.Equal(t, len(tb.Data), pa.NumElements())
		assert.InDelta(t, pa.Value.At(0, 0), float64(tb.Data[0]), 1e-6, pa.Name)
	}
}

func TestNewInvalidActivation(t *testing.T) {
	c := tinyConfig()
	c.HiddenAct = "quadrat"
	_, err := New(c, 1)
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestForward(t *testing.T) {
	m, err := New(tinyConfig(), 1)
	require.NoError(t, err)
	nn.Eval(m)

	results, err := m.Forward(t.Context(), []Example{
		{InputIDs: []int{1, 2, 3}},
		{InputIDs: []int{4, 5}, TokenTypeIDs: []int{0, 1}},
	})
	require.NoError(t, err)
	require.Len(t, results, 2)

	for i, tokens := range []int{3, 2} {
		r := results[i]
		require.Len(t, r.Layers, 2)
		rows, cols := r.Last().Dims()
		assert.Equal(t, tokens, rows)
		assert.Equal(t, 8, cols)

		require.Len(t, r.Pooled, 8)
		for _, v := range r.Pooled {
			assert.True(t, v > -1 && v < 1)
		}

		// LayerNorm mit Gewicht 1 und Bias 0
		for j := range rows {
			assert.InDelta(t, 0, floats.Sum(r.Last().RawRowView(j))/8, 1e-9)
		}
	}
}

func TestForwardEvalDeterministic(t *testing.T) {
	m, err := New(tinyConfig(), 1)
	require.NoError(t, err)
	nn.Eval(m)

	ex := []Example{{InputIDs: []int{1, 2, 3}}}
	a, err := m.Forward(t.Context(), ex)
	require.NoError(t, err)
	b, err := m.Forward(t.Context(), ex)
	require.NoError(t, err)
	assert.True(t, mat.Equal(a[0].Last(), b[0].Last()))
}

func TestForwardMask(t *testing.T) {
	m, err := New(tinyConfig(), 1)
	require.NoError(t, err)
	nn.Eval(m)

	mask := []bool{true, true, false}
	results, err := m.Forward(t.Context(), []Example{
		{InputIDs: []int{1, 2, 3}, Mask: mask},
		{InputIDs: []int{1, 2, 7}, Mask: mask},
	})
	require.NoError(t, err)

	a, b := results[0].Last(), results[1].Last()
	for i := range 2 {
		assert.InDeltaSlice(t, a.RawRowView(i), b.RawRowView(i), 1e-9, "Zeile %d", i)
	}
	assert.InDeltaSlice(t, results[0].Pooled, results[1].Pooled, 1e-9)
}

func TestForwardErrors(t *testing.T) {
	m, err := New(tinyConfig(), 1)
	require.NoError(t, err)

	cases := map[string]Example{
		"leer":       {},
		"zu lang":    {InputIDs: make([]int, 17)},
		"token":      {InputIDs: []int{10}},
		"segment":    {InputIDs: []int{1}, TokenTypeIDs: []int{2}},
		"segmente":   {InputIDs: []int{1, 2}, TokenTypeIDs: []int{0}},
		"maske":      {InputIDs: []int{1, 2}, Mask: []bool{true}},
		"negativ id": {InputIDs: []int{-1}},
	}

	for name, ex := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := m.Forward(t.Context(), []Example{ex})
			require.ErrorIs(t, err, nn.ErrShape)
		})
	}
}

func TestForwardCanceled(t *testing.T) {
	m, err := New(tinyConfig(), 1)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	_, err = m.Forward(ctx, []Example{{InputIDs: []int{1}}})
	require.ErrorIs(t, err, context.Canceled)
}

func TestLoadLegacyNames(t *testing.T) {
	src, err := New(tinyConfig(), 1)
	require.NoError(t, err)
	dst, err := New(tinyConfig(), 2)
	require.NoError(t, err)

	// aeltere Checkpoints verwenden gamma/beta fuer LayerNorm
	legacy := checkpoint.NewStateDict()
	for name, tensor := range nn.StateDict(src).All() {
		name = strings.Replace(name, "LayerNorm.weight", "LayerNorm.gamma", 1)
		name = strings.Replace(name, "LayerNorm.bias", "LayerNorm.beta", 1)
		legacy.Set(name, tensor)
	}

	require.NoError(t, nn.LoadStateDict(dst, legacy, true))

	want := nn.StateDict(src)
	for name, tensor := range nn.StateDict(dst).All() {
		w, ok := want.Get(name)
		require.True(t, ok)
		assert.Equal(t, w.Data, tensor.Data, name)
	}
}
