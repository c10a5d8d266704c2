// Modul: cuda.go
// Beschreibung: NVIDIA-GPUs aus /proc/driver/nvidia/gpus und Filterung
// nach CUDA_VISIBLE_DEVICES.

package discover

import (
	"errors"
	"io/fs"
	"log/slog"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/clbt/clbt/logutil"
	"github.com/clbt/clbt/ml"
)

const nvidiaGPUs = "driver/nvidia/gpus"

// cudaDevices liest ein Verzeichnis pro GPU, benannt nach der PCI-Adresse.
// Die Indizes folgen der PCI-Reihenfolge.
func cudaDevices(proc fs.FS) ([]ml.DeviceInfo, error) {
	if proc == nil {
		return nil, nil
	}

	entries, err := fs.ReadDir(proc, nvidiaGPUs)
	if errors.Is(err, fs.ErrNotExist) {
		logutil.Trace("no nvidia driver found", "path", nvidiaGPUs)
		return nil, nil
	} else if err != nil {
		return nil, err
	}

	var busIDs []string
	for _, e := range entries {
		if e.IsDir() {
			busIDs = append(busIDs, e.Name())
		}
	}
	sort.Strings(busIDs)

	devices := make([]ml.DeviceInfo, 0, len(busIDs))
	for i, bus := range busIDs {
		name := path.Join(nvidiaGPUs, bus, "information")
		info := ml.DeviceInfo{
			Device: ml.CUDA(i),
			Name:   procField(proc, name, "Model"),
			ID:     procField(proc, name, "GPU UUID"),
		}
		if info.ID == "" {
			info.ID = bus
		}
		if info.Name == "" {
			info.Name = "NVIDIA GPU"
		}
		devices = append(devices, info)
	}

	return devices, nil
}

// filterVisible wendet CUDA_VISIBLE_DEVICES an. Eintraege sind Indizes oder
// UUID-Praefixe; beim ersten ungueltigen Eintrag endet die Liste. Die
// verbleibenden Geraete werden neu durchnummeriert.
func filterVisible(devices []ml.DeviceInfo, visible string) []ml.DeviceInfo {
	var out []ml.DeviceInfo
	seen := make(map[int]bool)
	for _, entry := range strings.Split(visible, ",") {
		entry = strings.TrimSpace(entry)
		idx := lookupVisible(devices, entry)
		if idx < 0 || seen[idx] {
			if entry != "" {
				slog.Warn("ignoring remaining CUDA_VISIBLE_DEVICES entries", "entry", entry)
			}
			break
		}
		seen[idx] = true

		d := devices[idx]
		d.Device = ml.CUDA(len(out))
		out = append(out, d)
	}

	return out
}

func lookupVisible(devices []ml.DeviceInfo, entry string) int {
	if entry == "" {
		return -1
	}

	if n, err := strconv.Atoi(entry); err == nil {
		if n >= 0 && n < len(devices) {
			return n
		}
		return -1
	}

	if strings.HasPrefix(entry, "GPU-") {
		match := -1
		for i, d := range devices {
			if strings.HasPrefix(d.ID, entry) {
				if match >= 0 {
					// mehrdeutiger Praefix
					return -1
				}
				match = i
			}
		}
		return match
	}

	return -1
}
