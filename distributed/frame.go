// frame.go - Nachrichtenformat zwischen den Raengen
//
// Jede Nachricht: Kind (uint8) | Laenge (uint64, little endian) | Nutzdaten
package distributed

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"time"
)

type kind uint8

const (
	kindHello kind = iota + 1
	kindWelcome
	kindBarrier
	kindData
)

func (k kind) String() string {
	switch k {
	case kindHello:
		return "hello"
	case kindWelcome:
		return "welcome"
	case kindBarrier:
		return "barrier"
	case kindData:
		return "data"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

const (
	maxControlFrame = 1 << 10
	maxDataFrame    = 1 << 36
)

type header struct {
	Kind   kind
	Length uint64
}

// withDeadline bricht blockierende Lese- und Schreibzugriffe ab, sobald ctx endet
func withDeadline(ctx context.Context, conn net.Conn, fn func() error) error {
	stop := context.AfterFunc(ctx, func() { conn.SetDeadline(time.Now()) })
	err := fn()
	if !stop() {
		// ctx ist abgelaufen; Deadline fuer spaetere Aufrufe zuruecksetzen
		conn.SetDeadline(time.Time{})
		if err != nil && ctx.Err() != nil {
			return fmt.Errorf("%w: %w", context.Cause(ctx), err)
		}
	}
	return err
}

func writeFrame(ctx context.Context, conn net.Conn, k kind, payload []byte) error {
	return withDeadline(ctx, conn, func() error {
		if err := binary.Write(conn, binary.LittleEndian, header{Kind: k, Length: uint64(len(payload))}); err != nil {
			return err
		}
		_, err := conn.Write(payload)
		return err
	})
}

func readFrame(ctx context.Context, conn net.Conn, limit uint64) (k kind, payload []byte, err error) {
	err = withDeadline(ctx, conn, func() error {
		var h header
		if err := binary.Read(conn, binary.LittleEndian, &h); err != nil {
			return err
		}
		if h.Length > limit {
			return fmt.Errorf("%v frame of %d bytes exceeds limit of %d", h.Kind, h.Length, limit)
		}

		k = h.Kind
		payload = make([]byte, h.Length)
		_, err := io.ReadFull(conn, payload)
		return err
	})
	return k, payload, err
}

func expect(ctx context.Context, conn net.Conn, want kind) error {
	k, _, err := readFrame(ctx, conn, maxControlFrame)
	if err != nil {
		return err
	}
	if k != want {
		return fmt.Errorf("expected %v frame, got %v", want, k)
	}
	return nil
}

type hello struct {
	Rank      int `json:"rank"`
	WorldSize int `json:"world_size"`
}

func writeHello(ctx context.Context, conn net.Conn, rank, worldSize int) error {
	b, err := json.Marshal(hello{Rank: rank, WorldSize: worldSize})
	if err != nil {
		return err
	}
	return writeFrame(ctx, conn, kindHello, b)
}

// readHello prueft Rang und Gruppengroesse eines neuen Rangs
func readHello(ctx context.Context, conn net.Conn, worldSize int) (int, error) {
	k, payload, err := readFrame(ctx, conn, maxControlFrame)
	if err != nil {
		return 0, err
	}
	if k != kindHello {
		return 0, fmt.Errorf("%w: expected hello, got %v", ErrHandshake, k)
	}

	var h hello
	if err := json.Unmarshal(payload, &h); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrHandshake, err)
	}
	if h.WorldSize != worldSize {
		return 0, fmt.Errorf("%w: rank %d expects world size %d, group has %d", ErrHandshake, h.Rank, h.WorldSize, worldSize)
	}
	if h.Rank <= 0 || h.Rank >= worldSize {
		return 0, fmt.Errorf("%w: invalid rank %d", ErrHandshake, h.Rank)
	}
	return h.Rank, nil
}
