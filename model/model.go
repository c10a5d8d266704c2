// Package model - Aufbau des cross-lingualen Alignment-Modells
//
// Dieses Paket setzt Encoder, Mapping-Netzwerk und Diskriminator zusammen,
// legt sie auf Geraete und umhuellt sie fuer parallele Ausfuehrung.
//
// Hauptkomponenten:
// - Build: Vollstaendiger, zustandsloser Aufbau aus einer Konfiguration
// - Bundle: Ergebnis des Aufbaus
// - LoadEncoders: Quell- und Ziel-Encoder inkl. Checkpoints
// - NewMapping: Auswahl der Mapping-Variante
// - NewDiscriminator: Adversarialer Klassifikator
// - SelectDevice, InitGroup, Wrap: Geraete und Parallelisierung

package model

import (
	"errors"
	"log/slog"

	"github.com/clbt/clbt/discover"
	"github.com/clbt/clbt/distributed"
	"github.com/clbt/clbt/ml"
	"github.com/clbt/clbt/model/maps"
	"github.com/clbt/clbt/model/models/bert"
	"github.com/clbt/clbt/parallel"
)

// Fehler-Definitionen
var (
	ErrInvalidMapType     = errors.New("invalid map type")
	ErrHiddenSizeMismatch = errors.New("encoder hidden sizes differ")
	ErrInvalidShape       = errors.New("invalid input shape")
)

// Seed-Versatz je Netzwerk
const (
	seedEncoder = iota
	seedEncoder1
	seedMapping
	seedDiscriminator
)

// Encoder ist ein BERT-Encoder, ggf. in einem Parallel-Wrapper
type Encoder = parallel.Batched[bert.Example, *bert.Result]

// Bundle enthaelt alle gebauten Netzwerke. Nicht gebaute Netzwerke sind nil.
type Bundle struct {
	Encoder  Encoder
	Encoder1 Encoder
	Mapping  maps.Mapping

	Discriminator *Discriminator

	Device      ml.Device
	NGPU        int
	Distributed bool

	// Group ist nur im verteilten Modus gesetzt
	Group *distributed.Group
}

// Close beendet die Prozessgruppe
func (b *Bundle) Close() error {
	if b.Group != nil {
		return b.Group.Close()
	}
	return nil
}

// Modules gibt alle gebauten Netzwerke mit Namen zurueck
func (b *Bundle) Modules() map[string]any {
	modules := make(map[string]any)
	if b.Encoder != nil {
		modules["encoder"] = b.Encoder
	}
	if b.Encoder1 != nil {
		modules["encoder1"] = b.Encoder1
	}
	if b.Mapping != nil {
		modules["mapping"] = b.Mapping
	}
	if b.Discriminator != nil {
		modules["discriminator"] = b.Discriminator
	}
	return modules
}

// =============================================================================
// Optionen
// =============================================================================

type options struct {
	logger   *slog.Logger
	detector discover.Detector
}

// Option konfiguriert Build
type Option func(*options)

// WithLogger setzt den Logger fuer den Aufbau (Default: slog.Default())
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithDetector ersetzt die Geraeteerkennung (Default: discover.NewSystem())
func WithDetector(d discover.Detector) Option {
	return func(o *options) { o.detector = d }
}
