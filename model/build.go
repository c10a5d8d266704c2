// build.go - Zusammensetzen aller Netzwerke
package model

import (
	"context"
	"errors"
	"log/slog"

	"github.com/clbt/clbt/config"
	"github.com/clbt/clbt/discover"
	"github.com/clbt/clbt/ml/nn"
)

// Build fuehrt einen vollstaendigen, unabhaengigen Aufbau aus:
// Geraeteauswahl, Encoder, Mapping (und Diskriminator), Parallel-Wrapper.
// Bei einem Fehler wird kein Teilergebnis zurueckgegeben.
func Build(ctx context.Context, cfg config.Config, opts ...Option) (_ *Bundle, err error) {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.detector == nil {
		o.detector = discover.NewSystem()
	}
	logger := o.logger

	// Konfigurationsfehler vor jeder Geraeteplatzierung
	if _, err := ParseMapType(cfg.MapType); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	p, err := SelectDevice(ctx, cfg, o.detector)
	if err != nil {
		return nil, err
	}
	logger.Info("device", "device", p.Device, "n_gpu", p.NGPU, "distributed", p.Distributed)

	b := &Bundle{Device: p.Device, NGPU: p.NGPU, Distributed: p.Distributed}
	defer func() {
		if err != nil {
			err = errors.Join(err, b.Close())
		}
	}()

	if p.Distributed {
		if b.Group, err = InitGroup(ctx, cfg, logger); err != nil {
			return nil, err
		}
	}

	encoder, encoder1, err := LoadEncoders(ctx, cfg, p.Device, logger)
	if err != nil {
		return nil, err
	}

	if encoder != nil {
		if encoder.HiddenSize() != cfg.EmbDim {
			logger.Warn("emb_dim differs from encoder hidden size", "emb_dim", cfg.EmbDim, "hidden_size", encoder.HiddenSize())
		}
		b.Encoder, b.Encoder1 = encoder, encoder1
	}

	if b.Mapping, err = NewMapping(cfg, cfg.EmbDim, logger); err != nil {
		return nil, err
	}
	if b.Mapping != nil {
		nn.To(b.Mapping, p.Device)
	}

	if cfg.WithDis {
		if b.Discriminator, err = NewDiscriminator(DiscriminatorOptions{
			EmbDim:       cfg.EmbDim,
			Layers:       cfg.DisLayers,
			HidDim:       cfg.DisHidDim,
			Dropout:      cfg.DisDropout,
			InputDropout: cfg.DisInputDropout,
			Seed:         cfg.Seed + seedDiscriminator,
		}); err != nil {
			return nil, err
		}
		nn.To(b.Discriminator, p.Device)
	}

	if err := Wrap(ctx, b, p, b.Group); err != nil {
		return nil, err
	}

	for name, m := range b.Modules() {
		logger.Debug("built", "network", name, "parameters", nn.NumParameters(m), "device", nn.DeviceOf(m))
	}
	return b, nil
}
