// mapping.go - Auswahl des Mapping-Netzwerks
package model

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/agnivade/levenshtein"

	"github.com/clbt/clbt/config"
	"github.com/clbt/clbt/model/maps"
)

// ParseMapType prueft den Selektor aus der Konfiguration. Unbekannte Werte
// liefern ErrInvalidMapType mit dem naechstgelegenen gueltigen Namen.
func ParseMapType(s string) (maps.Type, error) {
	if t, ok := maps.ParseType(s); ok {
		return t, nil
	}

	names := maps.Names()
	best, dist := "", -1
	for _, name := range names {
		if d := levenshtein.ComputeDistance(strings.ToLower(s), name); dist < 0 || d < dist {
			best, dist = name, d
		}
	}

	if dist <= max(2, len(best)/3) {
		return 0, fmt.Errorf("%w: %q, did you mean %q?", ErrInvalidMapType, s, best)
	}
	return 0, fmt.Errorf("%w: %q, must be one of %s", ErrInvalidMapType, s, strings.Join(names, ", "))
}

// NewMapping erstellt das Mapping-Netzwerk fuer cfg.MapType ueber embDim
// Dimensionen. Fuer "fine_tune" ist das Ergebnis nil.
func NewMapping(cfg config.Config, embDim int, logger *slog.Logger) (maps.Mapping, error) {
	t, err := ParseMapType(cfg.MapType)
	if err != nil {
		return nil, err
	}

	o := maps.Options{
		EmbDim:       embDim,
		HidDim:       cfg.MapHidDim,
		Layers:       cfg.MapNLayers,
		Heads:        cfg.MapNHeads,
		Activation:   cfg.MapActivation,
		Dropout:      cfg.MapDropout,
		InputDropout: cfg.MapInputDropout,
		IdentityInit: cfg.MapIDInit,
		Seed:         cfg.Seed + seedMapping,
	}

	if t == maps.Linear || t == maps.SVD {
		logger.Info("Linear mapping", "emb_dim", embDim, "identity_init", cfg.MapIDInit)
	}

	m, err := maps.New(t, o)
	if err != nil {
		return nil, fmt.Errorf("%s mapping: %w", t, err)
	}
	if m == nil {
		logger.Debug("no mapping network", "map_type", t)
	}
	return m, nil
}
