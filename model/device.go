// device.go - Geraeteauswahl und Parallelisierung
//
// Einzelprozess: erstes Accelerator-Geraet (falls vorhanden und erlaubt),
// sonst CPU. Mehrprozess (local_rank gesetzt): cuda:<local_rank> und eine
// Prozessgruppe. Die Wrapper werden erst nach dem Aufbau aller Netzwerke
// angelegt.
package model

import (
	"context"
	"fmt"
	"log/slog"

	"gonum.org/v1/gonum/mat"

	"github.com/clbt/clbt/config"
	"github.com/clbt/clbt/discover"
	"github.com/clbt/clbt/distributed"
	"github.com/clbt/clbt/envconfig"
	"github.com/clbt/clbt/ml"
	"github.com/clbt/clbt/model/maps"
	"github.com/clbt/clbt/model/models/bert"
	"github.com/clbt/clbt/parallel"
)

// Placement ist das Ergebnis der Geraeteauswahl
type Placement struct {
	Device      ml.Device
	NGPU        int
	Distributed bool

	// Devices sind alle sichtbaren Accelerator-Geraete (Einzelprozess)
	Devices []ml.Device
}

// SelectDevice waehlt das Geraet fuer alle Netzwerke
func SelectDevice(ctx context.Context, cfg config.Config, d discover.Detector) (Placement, error) {
	devices, err := d.Devices(ctx)
	if err != nil {
		return Placement{}, fmt.Errorf("discover devices: %w", err)
	}
	gpus := ml.Devices(ml.Accelerators(devices))

	if !cfg.Distributed() || cfg.NoCUDA {
		switch {
		case len(gpus) == 0:
			return Placement{Device: ml.CPU}, nil
		case cfg.NoCUDA:
			// sichtbare Geraete werden gezaehlt, aber nicht belegt
			return Placement{Device: ml.CPU, NGPU: len(gpus), Devices: gpus}, nil
		}
		return Placement{Device: gpus[0], NGPU: len(gpus), Devices: gpus}, nil
	}

	if cfg.LocalRank >= len(gpus) {
		slog.Warn("local rank has no visible accelerator", "local_rank", cfg.LocalRank, "visible", len(gpus))
	}
	return Placement{Device: ml.CUDA(cfg.LocalRank), NGPU: 1, Distributed: true}, nil
}

// InitGroup initialisiert die Prozessgruppe mit dem festen Backend. Der
// globale Rang kommt aus RANK, sonst aus local_rank.
func InitGroup(ctx context.Context, cfg config.Config, logger *slog.Logger) (*distributed.Group, error) {
	rank := envconfig.Rank()
	if rank < 0 {
		rank = cfg.LocalRank
	}

	return distributed.InitProcessGroup(ctx, distributed.Options{
		Backend:   distributed.BackendNCCL,
		Addr:      cfg.Addr(),
		Rank:      rank,
		WorldSize: cfg.WorldSize,
		Timeout:   envconfig.RendezvousTimeout(),
		Logger:    logger,
	})
}

// Wrap legt die Parallel-Wrapper um die gebauten Netzwerke.
// Verteilt: jeder Encoder wird DistributedDataParallel.
// Sonst, bei mehr als einem Accelerator und Platzierung auf einem Accelerator:
// Encoder und Mapping werden DataParallel. Mit no_cuda bleibt alles auf der CPU.
func Wrap(ctx context.Context, b *Bundle, p Placement, group parallel.Broadcaster) error {
	switch {
	case p.Distributed && (b.Encoder != nil || b.Encoder1 != nil):
		for _, enc := range []*Encoder{&b.Encoder, &b.Encoder1} {
			if *enc == nil {
				continue
			}
			ddp, err := parallel.NewDistributedDataParallel(ctx, *enc, group, p.Device.Index)
			if err != nil {
				return err
			}
			*enc = ddp
		}
	case !p.Distributed && p.NGPU > 1 && p.Device.IsAccelerator():
		for _, enc := range []*Encoder{&b.Encoder, &b.Encoder1} {
			if *enc != nil {
				*enc = parallel.NewDataParallel(*enc, p.Devices)
			}
		}
		if b.Mapping != nil {
			b.Mapping = parallel.NewDataParallel[*mat.Dense, *mat.Dense](b.Mapping, p.Devices)
		}
	}
	return nil
}

var (
	_ Encoder      = (*bert.Model)(nil)
	_ maps.Mapping = (*parallel.DataParallel[*mat.Dense, *mat.Dense])(nil)
)
