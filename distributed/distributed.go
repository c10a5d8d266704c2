// Package distributed - Prozessgruppe fuer Multi-Prozess-Laeufe
//
// Rang 0 lauscht auf der Rendezvous-Adresse, alle anderen Raenge verbinden
// sich dorthin (Stern-Topologie). Nach dem Handshake teilen alle Raenge eine
// Session-ID. Kollektive Operationen laufen ueber Rang 0.
//
// Hauptkomponenten:
// - InitProcessGroup: Rendezvous und Handshake
// - Group: Rank, WorldSize, Barrier, Broadcast, Close
package distributed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// BackendNCCL ist der einzige unterstuetzte Backend-Name
const BackendNCCL = "nccl"

// Fehler-Definitionen
var (
	ErrUnsupportedBackend = errors.New("unsupported backend")
	ErrHandshake          = errors.New("handshake failed")
	ErrClosed             = errors.New("process group closed")
)

// Options beschreibt den eigenen Prozess in der Gruppe
type Options struct {
	Backend   string
	Addr      string
	Rank      int
	WorldSize int

	// Timeout begrenzt den Aufbau der Gruppe; 0 bedeutet nur ctx
	Timeout time.Duration

	// Listener ersetzt net.Listen auf Rang 0
	Listener net.Listener

	Logger *slog.Logger
}

// Group ist eine initialisierte Prozessgruppe
type Group struct {
	rank, worldSize int
	session         uuid.UUID

	// Rang 0: Verbindung zu Rang i in peers[i]; sonst peers[0] zu Rang 0
	peers []net.Conn
	ln    net.Listener

	mu     sync.Mutex
	closed bool
}

// InitProcessGroup baut die Gruppe auf. Rang 0 wartet bis alle Raenge
// verbunden sind; die anderen Raenge versuchen es bis zum Timeout erneut.
func InitProcessGroup(ctx context.Context, o Options) (*Group, error) {
	if o.Backend != BackendNCCL {
		return nil, fmt.Errorf("%w: %q (only %q is supported)", ErrUnsupportedBackend, o.Backend, BackendNCCL)
	}
	if o.WorldSize < 1 || o.Rank < 0 || o.Rank >= o.WorldSize {
		return nil, fmt.Errorf("invalid rank %d for world size %d", o.Rank, o.WorldSize)
	}

	logger := o.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if o.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.Timeout)
		defer cancel()
	}

	g := &Group{rank: o.Rank, worldSize: o.WorldSize}

	var err error
	switch {
	case o.WorldSize == 1:
		g.session = uuid.New()
	case o.Rank == 0:
		err = g.accept(ctx, o)
	default:
		err = g.dial(ctx, o)
	}
	if err != nil {
		g.Close()
		return nil, err
	}

	logger.Debug("process group initialized", "backend", o.Backend, "rank", g.rank, "world_size", g.worldSize, "session", g.session)
	return g, nil
}

// accept wartet auf alle anderen Raenge und verteilt die Session-ID
func (g *Group) accept(ctx context.Context, o Options) error {
	g.ln = o.Listener
	if g.ln == nil {
		var lc net.ListenConfig
		ln, err := lc.Listen(ctx, "tcp", o.Addr)
		if err != nil {
			return err
		}
		g.ln = ln
	}

	stop := context.AfterFunc(ctx, func() { g.ln.Close() })
	defer stop()

	g.peers = make([]net.Conn, g.worldSize)
	for joined := 1; joined < g.worldSize; {
		conn, err := g.ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("waiting for %d of %d ranks: %w", g.worldSize-joined, g.worldSize, context.Cause(ctx))
			}
			return err
		}

		rank, err := readHello(ctx, conn, g.worldSize)
		if err != nil {
			conn.Close()
			slog.Warn("rejected rank", "remote", conn.RemoteAddr(), "error", err)
			continue
		}
		if g.peers[rank] != nil {
			conn.Close()
			slog.Warn("rejected duplicate rank", "rank", rank, "remote", conn.RemoteAddr())
			continue
		}

		g.peers[rank] = conn
		joined++
		slog.Debug("rank joined", "rank", rank, "remote", conn.RemoteAddr())
	}

	g.session = uuid.New()
	welcome := g.session[:]
	return g.toAll(ctx, func(ctx context.Context, c net.Conn) error {
		return writeFrame(ctx, c, kindWelcome, welcome)
	})
}

// dial verbindet sich mit Rang 0 und wartet auf die Session-ID
func (g *Group) dial(ctx context.Context, o Options) error {
	var d net.Dialer
	var conn net.Conn
	for {
		var err error
		conn, err = d.DialContext(ctx, "tcp", o.Addr)
		if err == nil {
			break
		}

		slog.Debug("waiting for rank 0", "addr", o.Addr, "error", err)
		select {
		case <-ctx.Done():
			return fmt.Errorf("connecting to rank 0 at %s: %w", o.Addr, errors.Join(context.Cause(ctx), err))
		case <-time.After(100 * time.Millisecond):
		}
	}
	g.peers = []net.Conn{conn}

	if err := writeHello(ctx, conn, g.rank, g.worldSize); err != nil {
		return err
	}

	kind, payload, err := readFrame(ctx, conn, maxControlFrame)
	if err != nil {
		return err
	}
	if kind != kindWelcome || len(payload) != len(g.session) {
		return fmt.Errorf("%w: unexpected %v frame from rank 0", ErrHandshake, kind)
	}
	copy(g.session[:], payload)
	return nil
}

func (g *Group) Rank() int { return g.rank }

func (g *Group) WorldSize() int { return g.worldSize }

// Session ist fuer alle Raenge einer Gruppe gleich
func (g *Group) Session() uuid.UUID { return g.session }

// Barrier kehrt zurueck, wenn alle Raenge sie erreicht haben
func (g *Group) Barrier(ctx context.Context) error {
	if err := g.check(); err != nil {
		return err
	}
	if g.worldSize == 1 {
		return nil
	}

	if g.rank != 0 {
		if err := writeFrame(ctx, g.peers[0], kindBarrier, nil); err != nil {
			return err
		}
		return expect(ctx, g.peers[0], kindBarrier)
	}

	if err := g.toAll(ctx, func(ctx context.Context, c net.Conn) error {
		return expect(ctx, c, kindBarrier)
	}); err != nil {
		return err
	}
	return g.toAll(ctx, func(ctx context.Context, c net.Conn) error {
		return writeFrame(ctx, c, kindBarrier, nil)
	})
}

// Broadcast verteilt data von Rang 0 an alle Raenge. Jeder Rang erhaelt
// die Daten von Rang 0; der Wert von data wird nur auf Rang 0 gelesen.
func (g *Group) Broadcast(ctx context.Context, data []byte) ([]byte, error) {
	if err := g.check(); err != nil {
		return nil, err
	}
	if g.worldSize == 1 {
		return data, nil
	}

	if g.rank == 0 {
		err := g.toAll(ctx, func(ctx context.Context, c net.Conn) error {
			return writeFrame(ctx, c, kindData, data)
		})
		return data, err
	}

	kind, payload, err := readFrame(ctx, g.peers[0], maxDataFrame)
	if err != nil {
		return nil, err
	}
	if kind != kindData {
		return nil, fmt.Errorf("broadcast: unexpected %v frame", kind)
	}
	return payload, nil
}

// Close beendet alle Verbindungen
func (g *Group) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return nil
	}
	g.closed = true

	var errs []error
	for _, c := range g.peers {
		if c != nil {
			errs = append(errs, c.Close())
		}
	}
	if g.ln != nil {
		if err := g.ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (g *Group) check() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return ErrClosed
	}
	return nil
}

// toAll fuehrt fn fuer jede Verbindung von Rang 0 parallel aus
func (g *Group) toAll(ctx context.Context, fn func(context.Context, net.Conn) error) error {
	eg, ctx := errgroup.WithContext(ctx)
	for rank, c := range g.peers {
		if c == nil {
			continue
		}
		eg.Go(func() error {
			if err := fn(ctx, c); err != nil {
				return fmt.Errorf("rank %d: %w", rank, err)
			}
			return nil
		})
	}
	return eg.Wait()
}
