package distributed

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// startGroup baut eine Gruppe mit worldSize Raengen im selben Prozess auf
func startGroup(t *testing.T, worldSize int) []*Group {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()

	groups := make([]*Group, worldSize)
	var eg errgroup.Group
	for rank := range worldSize {
		eg.Go(func() error {
			o := Options{Backend: BackendNCCL, Addr: addr, Rank: rank, WorldSize: worldSize, Timeout: 10 * time.Second}
			if rank == 0 {
				o.Listener = ln
			}

			g, err := InitProcessGroup(t.Context(), o)
			groups[rank] = g
			return err
		})
	}
	require.NoError(t, eg.Wait())

	t.Cleanup(func() {
		for _, g := range groups {
			g.Close()
		}
	})
	return groups
}

func TestUnsupportedBackend(t *testing.T) {
	for _, backend := range []string{"", "gloo", "mpi", "NCCL"} {
		_, err := InitProcessGroup(t.Context(), Options{Backend: backend, WorldSize: 1})
		require.ErrorIs(t, err, ErrUnsupportedBackend, backend)
	}
}

func TestInvalidRank(t *testing.T) {
	cases := []Options{
		{Backend: BackendNCCL, Rank: 0, WorldSize: 0},
		{Backend: BackendNCCL, Rank: -1, WorldSize: 2},
		{Backend: BackendNCCL, Rank: 2, WorldSize: 2},
	}
	for _, o := range cases {
		_, err := InitProcessGroup(t.Context(), o)
		require.Error(t, err)
	}
}

func TestSingleProcess(t *testing.T) {
	g, err := InitProcessGroup(t.Context(), Options{Backend: BackendNCCL, WorldSize: 1})
	require.NoError(t, err)
	defer g.Close()

	assert.Equal(t, 0, g.Rank())
	assert.Equal(t, 1, g.WorldSize())
	assert.NotZero(t, g.Session())
	require.NoError(t, g.Barrier(t.Context()))

	b, err := g.Broadcast(t.Context(), []byte("hallo"))
	require.NoError(t, err)
	assert.Equal(t, []byte("hallo"), b)
}

func TestInitLogsAtDebug(t *testing.T) {
	for _, tt := range []struct {
		level  slog.Level
		expect bool
	}{
		{slog.LevelInfo, false},
		{slog.LevelDebug, true},
	} {
		var buf bytes.Buffer
		logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: tt.level}))

		g, err := InitProcessGroup(t.Context(), Options{Backend: BackendNCCL, WorldSize: 1, Logger: logger})
		require.NoError(t, err)
		g.Close()

		assert.Equal(t, tt.expect, strings.Contains(buf.String(), `msg="process group initialized"`), buf.String())
		assert.NotContains(t, buf.String(), "level=INFO")
	}
}

func TestGroupSession(t *testing.T) {
	groups := startGroup(t, 3)
	for rank, g := range groups {
		assert.Equal(t, rank, g.Rank())
		assert.Equal(t, 3, g.WorldSize())
		assert.Equal(t, groups[0].Session(), g.Session())
	}
}

func TestBroadcast(t *testing.T) {
	groups := startGroup(t, 3)
	payload := bytes.Repeat([]byte("gewichte"), 4096)

	results := make([][]byte, len(groups))
	var eg errgroup.Group
	for rank, g := range groups {
		eg.Go(func() error {
			var data []byte
			if rank == 0 {
				data = payload
			}
			b, err := g.Broadcast(t.Context(), data)
			results[rank] = b
			return err
		})
	}
	require.NoError(t, eg.Wait())

	for rank, b := range results {
		assert.Equal(t, payload, b, "rank %d", rank)
	}
}

func TestBarrier(t *testing.T) {
	groups := startGroup(t, 2)

	var eg errgroup.Group
	for _, g := range groups {
		eg.Go(func() error { return g.Barrier(t.Context()) })
	}
	require.NoError(t, eg.Wait())
}

func TestBarrierCanceled(t *testing.T) {
	groups := startGroup(t, 2)

	ctx, cancel := context.WithTimeout(t.Context(), 50*time.Millisecond)
	defer cancel()

	// Rang 1 erscheint nie
	err := groups[0].Barrier(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDialTimeout(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	_, err = InitProcessGroup(t.Context(), Options{Backend: BackendNCCL, Addr: addr, Rank: 1, WorldSize: 2, Timeout: 300 * time.Millisecond})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestAcceptTimeout(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	_, err = InitProcessGroup(t.Context(), Options{Backend: BackendNCCL, Listener: ln, Rank: 0, WorldSize: 2, Timeout: 100 * time.Millisecond})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRejectWorldSizeMismatch(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := InitProcessGroup(t.Context(), Options{Backend: BackendNCCL, Listener: ln, Rank: 0, WorldSize: 2, Timeout: 500 * time.Millisecond})
		done <- err
	}()

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, writeHello(t.Context(), conn, 1, 3))

	// die Verbindung wird abgelehnt, Rang 0 wartet weiter bis zum Timeout
	err = <-done
	require.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)
}

func TestClosed(t *testing.T) {
	groups := startGroup(t, 2)
	require.NoError(t, groups[1].Close())
	require.NoError(t, groups[1].Close())

	require.ErrorIs(t, groups[1].Barrier(t.Context()), ErrClosed)
	_, err := groups[1].Broadcast(t.Context(), nil)
	require.ErrorIs(t, err, ErrClosed)
}

func TestFrameLimit(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	go writeFrame(t.Context(), a, kindData, make([]byte, maxControlFrame+1))
	_, _, err := readFrame(t.Context(), b, maxControlFrame)
	require.Error(t, err)
}
