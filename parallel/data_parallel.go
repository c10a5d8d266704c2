// data_parallel.go - Batch-Aufteilung ueber die Geraete eines Prozesses
package parallel

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/clbt/clbt/ml"
	"github.com/clbt/clbt/ml/nn"
)

// DataParallel teilt einen Batch in zusammenhaengende Stuecke, eines pro
// Geraet, und fuehrt sie nebenlaeufig aus. Die Ausgaben werden in der
// Reihenfolge der Eingaben zusammengefuegt.
type DataParallel[I, O any] struct {
	Module Batched[I, O] `nn:"module"`

	devices []ml.Device
}

// NewDataParallel legt das Modul auf das erste Geraet
func NewDataParallel[I, O any](m Batched[I, O], devices []ml.Device) *DataParallel[I, O] {
	if len(devices) > 0 {
		nn.To(m, devices[0])
	}

	slog.Debug("data parallel", "module", m.ModuleName(), "devices", devices)
	return &DataParallel[I, O]{Module: m, devices: devices}
}

func (p *DataParallel[I, O]) ModuleName() string { return "DataParallel" }

func (p *DataParallel[I, O]) Unwrap() nn.Module { return p.Module }

// Devices gibt die Geraete zurueck, auf die verteilt wird
func (p *DataParallel[I, O]) Devices() []ml.Device {
	return p.devices
}

func (p *DataParallel[I, O]) Forward(ctx context.Context, batch []I) ([]O, error) {
	chunks := scatter(len(batch), len(p.devices))
	if len(chunks) <= 1 {
		return p.Module.Forward(ctx, batch)
	}

	out := make([]O, len(batch))
	eg, ctx := errgroup.WithContext(ctx)
	for i, c := range chunks {
		eg.Go(func() error {
			ys, err := p.Module.Forward(ctx, batch[c.lo:c.hi])
			if err != nil {
				return fmt.Errorf("%s: %w", p.devices[i], err)
			}
			if len(ys) != c.hi-c.lo {
				return fmt.Errorf("%s: %d outputs for %d inputs", p.devices[i], len(ys), c.hi-c.lo)
			}

			copy(out[c.lo:c.hi], ys)
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

type chunk struct{ lo, hi int }

// scatter teilt n Eingaben auf hoechstens k Geraete; die ersten Stuecke
// sind hoechstens um eins groesser
func scatter(n, k int) []chunk {
	if n == 0 || k <= 0 {
		return nil
	}
	k = min(k, n)

	chunks := make([]chunk, 0, k)
	size, rest := n/k, n%k
	lo := 0
	for i := range k {
		hi := lo + size
		if i < rest {
			hi++
		}
		chunks = append(chunks, chunk{lo, hi})
		lo = hi
	}
	return chunks
}
