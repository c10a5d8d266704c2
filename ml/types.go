// types.go - Datentypen fuer Tensor-Elemente
// Dieses Modul definiert DType fuer Checkpoint-Ein- und -Ausgabe.
package ml

import "strings"

// DType represents the storage data type of tensor elements.
type DType int

const (
	DTypeOther DType = iota
	DTypeF32
	DTypeF16
	DTypeBF16
	DTypeF64
)

// String gibt den safetensors-Namen des Typs zurueck
func (t DType) String() string {
	switch t {
	case DTypeF32:
		return "F32"
	case DTypeF16:
		return "F16"
	case DTypeBF16:
		return "BF16"
	case DTypeF64:
		return "F64"
	default:
		return "unknown"
	}
}

// Size gibt die Byte-Breite eines Elements zurueck, 0 fuer unbekannte Typen
func (t DType) Size() int {
	switch t {
	case DTypeF16, DTypeBF16:
		return 2
	case DTypeF32:
		return 4
	case DTypeF64:
		return 8
	default:
		return 0
	}
}

// ParseDType parst einen safetensors-Typnamen (case-insensitive)
func ParseDType(s string) DType {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "F32", "FLOAT32":
		return DTypeF32
	case "F16", "FLOAT16":
		return DTypeF16
	case "BF16", "BFLOAT16":
		return DTypeBF16
	case "F64", "FLOAT64":
		return DTypeF64
	default:
		return DTypeOther
	}
}
