// Package checkpoint - Laden und Schreiben von Gewichts-Checkpoints
//
// Dieses Paket liest serialisierte Parameter-Dictionaries (state dicts) in
// den Host-Speicher:
// - LoadTorch: PyTorch-Pickles (.bin, .pt, .pth, Legacy- und Zip-Format)
// - LoadSafetensors/WriteSafetensors: safetensors (F32, F16, BF16, F64)
// - Load: waehlt das Format anhand der Dateiendung
package checkpoint

import (
	"errors"
	"path/filepath"
	"strings"
)

// Fehler-Definitionen
var (
	ErrUnsupportedDType  = errors.New("unsupported tensor dtype")
	ErrUnsupportedLayout = errors.New("unsupported tensor layout")
	ErrInvalidHeader     = errors.New("invalid checkpoint header")
	ErrNotAStateDict     = errors.New("checkpoint does not contain a state dict")
)

// CheckpointError beschreibt einen Fehler beim Lesen oder Schreiben einer Datei
type CheckpointError struct {
	Op   string
	Path string
	Err  error
}

func (e *CheckpointError) Error() string {
	if e.Path == "" {
		return "checkpoint " + e.Op + ": " + e.Err.Error()
	}
	return "checkpoint " + e.Op + " " + e.Path + ": " + e.Err.Error()
}

func (e *CheckpointError) Unwrap() error {
	return e.Err
}

// Load liest einen Checkpoint; .safetensors wird als safetensors gelesen,
// alles andere als PyTorch-Pickle.
func Load(path string) (*StateDict, error) {
	if strings.EqualFold(filepath.Ext(path), ".safetensors") {
		return LoadSafetensors(path)
	}
	return LoadTorch(path)
}
