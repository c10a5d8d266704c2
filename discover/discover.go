// Modul: discover.go
// Beschreibung: Erkennung der Compute-Geraete (CPU und NVIDIA-GPUs).
// Die GPUs werden ueber das procfs des NVIDIA-Treibers gefunden, damit kein
// CGO und keine Treiberbibliothek noetig ist.

package discover

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"sort"

	"github.com/clbt/clbt/envconfig"
	"github.com/clbt/clbt/ml"
)

// =============================================================================
// Detector Interface
// =============================================================================

// Detector liefert alle Geraete, auf denen Netzwerke platziert werden koennen.
// Die CPU ist immer das erste Element.
type Detector interface {
	Devices(ctx context.Context) ([]ml.DeviceInfo, error)
}

// System erkennt die Geraete des laufenden Rechners.
type System struct {
	// Proc ist das Wurzelverzeichnis von procfs
	Proc fs.FS

	// Visible gibt CUDA_VISIBLE_DEVICES zurueck
	Visible func() (string, bool)
}

// NewSystem erstellt einen Detector fuer /proc
func NewSystem() *System {
	return &System{
		Proc:    os.DirFS("/proc"),
		Visible: envconfig.CudaVisibleDevices,
	}
}

func (s *System) Devices(ctx context.Context) ([]ml.DeviceInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	devices := []ml.DeviceInfo{cpuInfo(s.Proc)}

	gpus, err := cudaDevices(s.Proc)
	if err != nil {
		return nil, err
	}

	visible := s.Visible
	if visible == nil {
		visible = func() (string, bool) { return "", false }
	}
	if v, ok := visible(); ok {
		gpus = filterVisible(gpus, v)
	}

	for _, gpu := range gpus {
		slog.Debug("discovered accelerator", "device", gpu.Device, "name", gpu.Name, "id", gpu.ID)
	}

	devices = append(devices, gpus...)
	sort.Stable(ml.ByIndex(devices))
	return devices, nil
}

// Static gibt immer dieselbe Geraeteliste zurueck
type Static []ml.DeviceInfo

func (s Static) Devices(context.Context) ([]ml.DeviceInfo, error) {
	return append([]ml.DeviceInfo(nil), s...), nil
}

// GPUCount zaehlt die sichtbaren Accelerator-Geraete
func GPUCount(ctx context.Context, d Detector) (int, error) {
	devices, err := d.Devices(ctx)
	if err != nil {
		return 0, err
	}
	return len(ml.Accelerators(devices)), nil
}
