// Modul: cpu.go
// Beschreibung: CPU-Informationen (Name, Threads, Speicher, Erweiterungen).

package discover

import (
	"bufio"
	"io/fs"
	"runtime"
	"strconv"
	"strings"

	"golang.org/x/sys/cpu"

	"github.com/clbt/clbt/ml"
)

func cpuInfo(proc fs.FS) ml.DeviceInfo {
	info := ml.DeviceInfo{
		Device:   ml.CPU,
		Name:     runtime.GOARCH,
		Threads:  runtime.NumCPU(),
		Features: cpuFeatures(),
	}

	if proc == nil {
		return info
	}

	if name := procField(proc, "cpuinfo", "model name"); name != "" {
		info.Name = name
	}

	// MemTotal:       32768000 kB
	if mem := procField(proc, "meminfo", "MemTotal"); mem != "" {
		if n, err := strconv.ParseUint(strings.TrimSuffix(mem, " kB"), 10, 64); err == nil {
			info.TotalMemory = n * 1024
		}
	}

	return info
}

func cpuFeatures() []string {
	var features []string
	add := func(ok bool, name string) {
		if ok {
			features = append(features, name)
		}
	}

	switch runtime.GOARCH {
	case "amd64", "386":
		add(cpu.X86.HasSSE42, "sse4.2")
		add(cpu.X86.HasAVX, "avx")
		add(cpu.X86.HasAVX2, "avx2")
		add(cpu.X86.HasFMA, "fma")
		add(cpu.X86.HasAVX512F, "avx512f")
		add(cpu.X86.HasAVX512BF16, "avx512bf16")
	case "arm64":
		add(cpu.ARM64.HasASIMD, "asimd")
		add(cpu.ARM64.HasFPHP, "fphp")
		add(cpu.ARM64.HasASIMDHP, "asimdhp")
		add(cpu.ARM64.HasSVE, "sve")
	}

	return features
}

// procField liest den ersten Wert "key: value" aus einer procfs-Datei
func procField(proc fs.FS, name, key string) string {
	f, err := proc.Open(name)
	if err != nil {
		return ""
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		k, v, ok := strings.Cut(scanner.Text(), ":")
		if ok && strings.TrimSpace(k) == key {
			return strings.TrimSpace(v)
		}
	}

	return ""
}
