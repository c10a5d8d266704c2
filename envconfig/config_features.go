// config_features.go - Feature-Flags
//
// Dieses Modul enthaelt:
// - NoCUDA: Accelerator-Nutzung abschalten
// - Seed: Standard-Seed fuer Initialisierung
package envconfig

// =============================================================================
// Feature-Flags
// =============================================================================

var (
	// NoCUDA deaktiviert die Nutzung von Accelerator-Geraeten
	NoCUDA = Bool("CLBT_NO_CUDA")

	// Seed setzt den Standard-Seed fuer Gewichtsinitialisierung und Dropout
	Seed = Int("CLBT_SEED", 42)
)
