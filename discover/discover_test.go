package discover

import (
	"context"
	"testing"
	"testing/fstest"

	"github.com/google/go-cmp/cmp"

	"github.com/clbt/clbt/ml"
)

func gpuInfo(model, uuid string) *fstest.MapFile {
	return &fstest.MapFile{Data: []byte("Model: \t\t " + model + "\nIRQ:   \t\t 130\nGPU UUID: \t " + uuid + "\nBus Type: \t PCIe\n")}
}

func testProc() fstest.MapFS {
	return fstest.MapFS{
		"cpuinfo": {Data: []byte("processor\t: 0\nmodel name\t: Test CPU @ 3.00GHz\n")},
		"meminfo": {Data: []byte("MemTotal:       2048 kB\nMemFree:        1024 kB\n")},
		"driver/nvidia/gpus/0000:02:00.0/information": gpuInfo("NVIDIA B", "GPU-bbbb"),
		"driver/nvidia/gpus/0000:01:00.0/information": gpuInfo("NVIDIA A", "GPU-aaaa"),
		"driver/nvidia/gpus/0000:03:00.0/information": gpuInfo("NVIDIA C", "GPU-cccc"),
	}
}

func names(devices []ml.DeviceInfo) []string {
	var out []string
	for _, d := range devices {
		out = append(out, d.Device.String()+"="+d.Name)
	}
	return out
}

func TestSystemDevices(t *testing.T) {
	cases := []struct {
		name    string
		visible string
		set     bool
		expect  []string
	}{
		{"alle", "", false, []string{"cpu=Test CPU @ 3.00GHz", "cuda:0=NVIDIA A", "cuda:1=NVIDIA B", "cuda:2=NVIDIA C"}},
		{"leer", "", true, []string{"cpu=Test CPU @ 3.00GHz"}},
		{"auswahl", "2,0", true, []string{"cpu=Test CPU @ 3.00GHz", "cuda:0=NVIDIA C", "cuda:1=NVIDIA A"}},
		{"uuid", "GPU-bb", true, []string{"cpu=Test CPU @ 3.00GHz", "cuda:0=NVIDIA B"}},
		{"abbruch", "1,7,0", true, []string{"cpu=Test CPU @ 3.00GHz", "cuda:0=NVIDIA B"}},
		{"ungueltig", "-1", true, []string{"cpu=Test CPU @ 3.00GHz"}},
		{"mehrdeutig", "GPU-", true, []string{"cpu=Test CPU @ 3.00GHz"}},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			s := &System{
				Proc:    testProc(),
				Visible: func() (string, bool) { return tt.visible, tt.set },
			}

			devices, err := s.Devices(t.Context())
			if err != nil {
				t.Fatal(err)
			}

			if diff := cmp.Diff(tt.expect, names(devices)); diff != "" {
				t.Errorf("Geraete falsch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSystemCPU(t *testing.T) {
	s := &System{Proc: testProc()}
	devices, err := s.Devices(t.Context())
	if err != nil {
		t.Fatal(err)
	}

	cpu := devices[0]
	if cpu.Device != ml.CPU {
		t.Fatalf("erstes Geraet muss CPU sein, got %v", cpu.Device)
	}
	if cpu.TotalMemory != 2048*1024 {
		t.Errorf("TotalMemory = %d", cpu.TotalMemory)
	}
	if cpu.Threads < 1 {
		t.Errorf("Threads = %d", cpu.Threads)
	}
	if devices[1].ID != "GPU-aaaa" {
		t.Errorf("ID = %q", devices[1].ID)
	}
}

func TestSystemWithoutDriver(t *testing.T) {
	s := &System{Proc: fstest.MapFS{}}
	n, err := GPUCount(t.Context(), s)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("GPUCount = %d, erwartet 0", n)
	}
}

func TestSystemCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	if _, err := NewSystem().Devices(ctx); err == nil {
		t.Error("Fehler fuer abgebrochenen Kontext erwartet")
	}
}

func TestStatic(t *testing.T) {
	s := Static{{Device: ml.CPU}, {Device: ml.CUDA(0)}, {Device: ml.CUDA(1)}}
	n, err := GPUCount(t.Context(), s)
	if err != nil || n != 2 {
		t.Errorf("GPUCount = %d, %v", n, err)
	}
}
