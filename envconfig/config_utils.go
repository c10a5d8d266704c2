// config_utils.go - Utility-Funktionen und Export fuer Konfiguration
//
// Dieses Modul enthaelt:
// - BoolWithDefault/Bool: Boolean-Getter mit Default-Wert
// - Int: Integer-Getter mit Default-Wert
// - EnvVar: Struktur fuer Environment-Variablen-Info
// - AsMap: Gibt alle Konfigurationen als Map zurueck
package envconfig

import (
	"log/slog"
	"strconv"
)

// =============================================================================
// Boolean-Getter
// =============================================================================

// BoolWithDefault gibt eine Funktion zurueck, die einen Bool mit Default-Wert liest
func BoolWithDefault(k string) func(defaultValue bool) bool {
	return func(defaultValue bool) bool {
		if s := Var(k); s != "" {
			b, err := strconv.ParseBool(s)
			if err != nil {
				return true
			}
			return b
		}
		return defaultValue
	}
}

// Bool gibt eine Funktion zurueck, die einen Bool liest (Default: false)
func Bool(k string) func() bool {
	withDefault := BoolWithDefault(k)
	return func() bool {
		return withDefault(false)
	}
}

// =============================================================================
// Integer-Getter
// =============================================================================

// Int gibt eine Funktion zurueck, die einen int mit Default-Wert liest
func Int(key string, defaultValue int) func() int {
	return func() int {
		if s := Var(key); s != "" {
			if n, err := strconv.ParseInt(s, 10, 64); err != nil {
				slog.Warn("invalid environment variable, using default", "key", key, "value", s, "default", defaultValue)
			} else {
				return int(n)
			}
		}
		return defaultValue
	}
}

// =============================================================================
// Export-Strukturen und -Funktionen
// =============================================================================

// EnvVar repraesentiert eine Environment-Variable mit Metadaten
type EnvVar struct {
	Name        string
	Value       any
	Description string
}

// AsMap gibt alle Konfigurationen als Map zurueck
// Enthaelt Namen, aktuelle Werte und Beschreibungen
func AsMap() map[string]EnvVar {
	cuda, _ := CudaVisibleDevices()
	return map[string]EnvVar{
		"CLBT_DEBUG":              {"CLBT_DEBUG", LogLevel(), "Show additional debug information (e.g. CLBT_DEBUG=1)"},
		"CLBT_NO_CUDA":            {"CLBT_NO_CUDA", NoCUDA(), "Never place networks on accelerator devices"},
		"CLBT_SEED":               {"CLBT_SEED", Seed(), "Default seed for weight initialization (default 42)"},
		"CLBT_RENDEZVOUS_TIMEOUT": {"CLBT_RENDEZVOUS_TIMEOUT", RendezvousTimeout(), "How long to wait for all ranks to join (default \"5m\")"},
		"LOCAL_RANK":              {"LOCAL_RANK", LocalRank(), "Process rank on this node, enables distributed mode"},
		"RANK":                    {"RANK", Rank(), "Global process rank (default LOCAL_RANK)"},
		"WORLD_SIZE":              {"WORLD_SIZE", WorldSize(), "Number of processes in the group (default 1)"},
		"MASTER_ADDR":             {"MASTER_ADDR", MasterAddr(), "Rendezvous address of rank 0 (default 127.0.0.1:29500)"},
		"CUDA_VISIBLE_DEVICES":    {"CUDA_VISIBLE_DEVICES", cuda, "Set which NVIDIA devices are visible"},
	}
}
