// distributed.go - Parametersynchronisation ueber eine Prozessgruppe
package parallel

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	"github.com/clbt/clbt/fs/checkpoint"
	"github.com/clbt/clbt/ml"
	"github.com/clbt/clbt/ml/nn"
)

// Broadcaster ist der Teil einer Prozessgruppe, den DDP benoetigt
type Broadcaster interface {
	Rank() int
	Broadcast(ctx context.Context, data []byte) ([]byte, error)
}

// DistributedDataParallel haelt ein Replikat pro Prozess. Beim Aufbau
// erhalten alle Raenge die Parameter von Rang 0.
type DistributedDataParallel[I, O any] struct {
	Module Batched[I, O] `nn:"module"`

	deviceIDs []int
	group     Broadcaster
}

// NewDistributedDataParallel legt m auf cuda:<deviceID> und synchronisiert
// die Parameter mit Rang 0
func NewDistributedDataParallel[I, O any](ctx context.Context, m Batched[I, O], group Broadcaster, deviceID int) (*DistributedDataParallel[I, O], error) {
	nn.To(m, ml.CUDA(deviceID))

	if err := broadcastParameters(ctx, m, group); err != nil {
		return nil, fmt.Errorf("%s: %w", m.ModuleName(), err)
	}

	return &DistributedDataParallel[I, O]{
		Module:    m,
		deviceIDs: []int{deviceID},
		group:     group,
	}, nil
}

func (p *DistributedDataParallel[I, O]) ModuleName() string { return "DistributedDataParallel" }

func (p *DistributedDataParallel[I, O]) Unwrap() nn.Module { return p.Module }

// DeviceIDs gibt die lokalen Geraete dieses Replikats zurueck
func (p *DistributedDataParallel[I, O]) DeviceIDs() []int {
	return p.deviceIDs
}

// Rank gibt den Rang des Prozesses zurueck
func (p *DistributedDataParallel[I, O]) Rank() int {
	return p.group.Rank()
}

func (p *DistributedDataParallel[I, O]) Forward(ctx context.Context, batch []I) ([]O, error) {
	return p.Module.Forward(ctx, batch)
}

// broadcastParameters sendet den StateDict von Rang 0 als safetensors
func broadcastParameters(ctx context.Context, m nn.Module, group Broadcaster) error {
	var buf bytes.Buffer
	if group.Rank() == 0 {
		if err := checkpoint.WriteSafetensors(&buf, nn.StateDict(m), ml.DTypeF32); err != nil {
			return err
		}
	}

	b, err := group.Broadcast(ctx, buf.Bytes())
	if err != nil {
		return fmt.Errorf("broadcast parameters: %w", err)
	}

	if group.Rank() == 0 {
		slog.Debug("parameters broadcast", "module", m.ModuleName(), "bytes", len(b))
		return nil
	}

	sd, err := checkpoint.ReadSafetensors(bytes.NewReader(b))
	if err != nil {
		return err
	}
	return nn.LoadStateDict(m, sd, true)
}
