// device_info.go
// Dieses Modul enthaelt Device und DeviceInfo fuer die Platzierung von
// Netzwerken sowie Sortier- und Vergleichsfunktionen fuer erkannte Geraete.

package ml

import (
	"fmt"
	"strconv"
	"strings"
)

// DeviceType ist die Klasse eines Compute-Geraets
type DeviceType string

const (
	DeviceCPU  DeviceType = "cpu"
	DeviceCUDA DeviceType = "cuda"
)

// Device identifies where a network's parameters are placed. Index is
// ignored for the CPU.
type Device struct {
	Type  DeviceType
	Index int
}

// CPU ist das Host-Geraet
var CPU = Device{Type: DeviceCPU}

// CUDA gibt das Accelerator-Geraet mit dem gegebenen Index zurueck
func CUDA(index int) Device {
	return Device{Type: DeviceCUDA, Index: index}
}

func (d Device) String() string {
	if d.Type == DeviceCPU || d.Type == "" {
		return string(DeviceCPU)
	}
	return string(d.Type) + ":" + strconv.Itoa(d.Index)
}

// IsAccelerator meldet ob das Geraet kein Host-Geraet ist
func (d Device) IsAccelerator() bool {
	return d.Type == DeviceCUDA
}

// ParseDevice parst "cpu", "cuda" oder "cuda:N"
func ParseDevice(s string) (Device, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	typ, idx, hasIdx := strings.Cut(s, ":")
	switch DeviceType(typ) {
	case DeviceCPU:
		if hasIdx {
			return Device{}, fmt.Errorf("invalid device %q: cpu takes no index", s)
		}
		return CPU, nil
	case DeviceCUDA:
		if !hasIdx {
			return CUDA(0), nil
		}
		n, err := strconv.Atoi(idx)
		if err != nil || n < 0 {
			return Device{}, fmt.Errorf("invalid device index %q", idx)
		}
		return CUDA(n), nil
	default:
		return Device{}, fmt.Errorf("unknown device type %q", typ)
	}
}

type DeviceInfo struct {
	Device

	// Name is the name of the device as reported by the driver
	Name string `json:"name"`

	// ID is the identifier the driver uses, e.g. the PCI bus id for CUDA
	ID string `json:"id,omitempty"`

	// TotalMemory in bytes, 0 if unknown
	TotalMemory uint64 `json:"total_memory,omitempty"`

	// Features lists CPU extensions relevant for the host kernels
	Features []string `json:"features,omitempty"`

	// Threads is the number of logical CPUs, only set for the CPU
	Threads int `json:"threads,omitempty"`
}

// Sort by device index, CPU first
type ByIndex []DeviceInfo

func (a ByIndex) Len() int      { return len(a) }
func (a ByIndex) Swap(i, j int) { a[i], a[j] = a[j], a[i] }
func (a ByIndex) Less(i, j int) bool {
	if a[i].Type != a[j].Type {
		return a[i].Type == DeviceCPU
	}
	return a[i].Index < a[j].Index
}

// Accelerators filtert die Liste auf Nicht-Host-Geraete
func Accelerators(l []DeviceInfo) []DeviceInfo {
	var out []DeviceInfo
	for _, d := range l {
		if d.IsAccelerator() {
			out = append(out, d)
		}
	}
	return out
}

// Devices gibt die reinen Device-Werte einer Liste zurueck
func Devices(l []DeviceInfo) []Device {
	out := make([]Device, 0, len(l))
	for _, d := range l {
		out = append(out, d.Device)
	}
	return out
}
