package parallel

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clbt/clbt/ml"
	"github.com/clbt/clbt/ml/nn"
)

// scale multipliziert jede Eingabe mit dem Gewicht
type scale struct {
	Weight *nn.Param `nn:"weight"`

	calls atomic.Int32
	fail  bool
}

func newScale(w float64) *scale {
	p := nn.NewParam(1)
	nn.InitConstant(p, w)
	return &scale{Weight: p}
}

func (s *scale) ModuleName() string { return "scale" }

func (s *scale) Forward(ctx context.Context, batch []float64) ([]float64, error) {
	s.calls.Add(1)
	if s.fail {
		return nil, errors.New("kaputt")
	}

	w := s.Weight.Value.At(0, 0)
	out := make([]float64, len(batch))
	for i, x := range batch {
		out[i] = x * w
	}
	return out, ctx.Err()
}

func TestScatter(t *testing.T) {
	cases := []struct {
		n, k   int
		expect []chunk
	}{
		{0, 3, nil},
		{5, 0, nil},
		{1, 3, []chunk{{0, 1}}},
		{6, 3, []chunk{{0, 2}, {2, 4}, {4, 6}}},
		{7, 3, []chunk{{0, 3}, {3, 5}, {5, 7}}},
		{2, 4, []chunk{{0, 1}, {1, 2}}},
	}

	for _, tt := range cases {
		got := scatter(tt.n, tt.k)
		if diff := cmp.Diff(tt.expect, got, cmp.AllowUnexported(chunk{})); diff != "" {
			t.Errorf("scatter(%d, %d) (-want +got):\n%s", tt.n, tt.k, diff)
		}
	}
}

func TestDataParallelOrder(t *testing.T) {
	devices := []ml.Device{ml.CUDA(0), ml.CUDA(1), ml.CUDA(2)}
	for n := range 11 {
		batch := make([]float64, n)
		for i := range batch {
			batch[i] = float64(i)
		}

		m := newScale(2)
		want, err := m.Forward(t.Context(), batch)
		require.NoError(t, err)

		dp := NewDataParallel[float64, float64](newScale(2), devices)
		got, err := dp.Forward(t.Context(), batch)
		require.NoError(t, err)
		assert.Equal(t, want, got, "n=%d", n)
	}
}

func TestDataParallelChunks(t *testing.T) {
	m := newScale(1)
	dp := NewDataParallel[float64, float64](m, []ml.Device{ml.CUDA(0), ml.CUDA(1)})

	_, err := dp.Forward(t.Context(), []float64{1, 2, 3, 4, 5})
	require.NoError(t, err)
	assert.Equal(t, int32(2), m.calls.Load())

	assert.Equal(t, ml.CUDA(0), nn.DeviceOf(m))
	assert.Equal(t, []ml.Device{ml.CUDA(0), ml.CUDA(1)}, dp.Devices())
}

func TestDataParallelSingleDevice(t *testing.T) {
	m := newScale(3)
	dp := NewDataParallel[float64, float64](m, []ml.Device{ml.CUDA(0)})

	got, err := dp.Forward(t.Context(), []float64{1, 2})
	require.NoError(t, err)
	assert.Equal(t, []float64{3, 6}, got)
	assert.Equal(t, int32(1), m.calls.Load())
}

func TestDataParallelError(t *testing.T) {
	m := newScale(1)
	m.fail = true
	dp := NewDataParallel[float64, float64](m, []ml.Device{ml.CUDA(0), ml.CUDA(1)})

	_, err := dp.Forward(t.Context(), []float64{1, 2, 3})
	require.ErrorContains(t, err, "kaputt")
	require.ErrorContains(t, err, "cuda:")
}

func TestWrapperParameters(t *testing.T) {
	m := newScale(1)
	dp := NewDataParallel[float64, float64](m, []ml.Device{ml.CUDA(0), ml.CUDA(1)})

	var names []string
	for _, p := range nn.NamedParameters(dp) {
		names = append(names, p.Name)
	}
	assert.Equal(t, []string{"module.weight"}, names)
	assert.Same(t, m, Unwrap(dp))
	assert.Same(t, m, Unwrap(m))
	assert.Equal(t, "DataParallel", dp.ModuleName())
}

// pipeGroup verbindet Rang 0 und Rang 1 ueber einen Kanal
type pipeGroup struct {
	rank int
	ch   chan []byte
}

func (g *pipeGroup) Rank() int { return g.rank }

func (g *pipeGroup) Broadcast(ctx context.Context, data []byte) ([]byte, error) {
	if g.rank == 0 {
		g.ch <- data
		return data, nil
	}

	select {
	case b := <-g.ch:
		return b, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestDistributedDataParallel(t *testing.T) {
	ch := make(chan []byte, 1)
	root, other := newScale(5), newScale(-1)

	ddp0, err := NewDistributedDataParallel[float64, float64](t.Context(), root, &pipeGroup{rank: 0, ch: ch}, 0)
	require.NoError(t, err)
	ddp1, err := NewDistributedDataParallel[float64, float64](t.Context(), other, &pipeGroup{rank: 1, ch: ch}, 1)
	require.NoError(t, err)

	// Rang 1 uebernimmt die Gewichte von Rang 0
	assert.InDelta(t, 5, other.Weight.Value.At(0, 0), 1e-6)
	assert.Equal(t, ml.CUDA(1), nn.DeviceOf(other))
	assert.Equal(t, []int{1}, ddp1.DeviceIDs())
	assert.Equal(t, 1, ddp1.Rank())

	y0, err := ddp0.Forward(t.Context(), []float64{2})
	require.NoError(t, err)
	y1, err := ddp1.Forward(t.Context(), []float64{2})
	require.NoError(t, err)
	assert.Equal(t, y0, y1)

	var names []string
	for _, p := range nn.NamedParameters(ddp0) {
		names = append(names, p.Name)
	}
	assert.Equal(t, []string{"module.weight"}, names)
}

func TestDistributedDataParallelCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	_, err := NewDistributedDataParallel[float64, float64](ctx, newScale(1), &pipeGroup{rank: 1, ch: make(chan []byte)}, 1)
	require.ErrorIs(t, err, context.Canceled)
}
