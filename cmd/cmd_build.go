// cmd_build.go - Build und Export Commands
// Hauptfunktionen: BuildHandler, ExportHandler
package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/clbt/clbt/config"
	"github.com/clbt/clbt/fs/checkpoint"
	"github.com/clbt/clbt/ml"
	"github.com/clbt/clbt/ml/nn"
	"github.com/clbt/clbt/parallel"
)

// Reihenfolge der Netzwerke in der Zusammenfassung
var networkNames = []string{"encoder", "encoder1", "mapping", "discriminator"}

// BuildHandler - Baut alle Netzwerke und gibt eine Tabelle aus
func BuildHandler(cmd *cobra.Command, flags *config.Flags) error {
	cfg, err := loadConfig(cmd, flags)
	if err != nil {
		return err
	}

	b, err := buildBundle(cmd, cfg)
	if err != nil {
		return err
	}
	defer b.Close()

	modules := b.Modules()
	var data [][]string
	for _, name := range networkNames {
		m, ok := modules[name]
		if !ok {
			continue
		}
		data = append(data, []string{name, moduleName(m.(nn.Module)), strconv.Itoa(nn.NumParameters(m)), nn.DeviceOf(m).String()})
	}

	out := cmd.OutOrStdout()
	table := newTable(out, []string{"NETWORK", "TYPE", "PARAMETERS", "DEVICE"})
	table.AppendBulk(data)
	table.Render()

	fmt.Fprintf(out, "\ndevice %s, n_gpu %d, distributed %t\n", b.Device, b.NGPU, b.Distributed)
	return nil
}

// moduleName - Name eines Netzwerks inkl. Wrapper, z.B. "DataParallel(BertModel)"
func moduleName(m nn.Module) string {
	if w, ok := m.(parallel.Wrapper); ok {
		return w.ModuleName() + "(" + moduleName(w.Unwrap()) + ")"
	}
	return m.ModuleName()
}

// ExportHandler - Schreibt die Gewichte des Mappings (oder Diskriminators)
func ExportHandler(cmd *cobra.Command, args []string, flags *config.Flags) error {
	dtypeName, _ := cmd.Flags().GetString("dtype")
	dtype := ml.ParseDType(dtypeName)
	switch dtype {
	case ml.DTypeF32, ml.DTypeF16, ml.DTypeBF16:
	default:
		return fmt.Errorf("%w: %q", checkpoint.ErrUnsupportedDType, dtypeName)
	}

	cfg, err := loadConfig(cmd, flags)
	if err != nil {
		return err
	}

	discriminator, _ := cmd.Flags().GetBool("discriminator")
	if discriminator {
		cfg.WithDis = true
	}

	b, err := buildBundle(cmd, cfg)
	if err != nil {
		return err
	}
	defer b.Close()

	var m nn.Module
	switch {
	case discriminator:
		m = b.Discriminator
	case b.Mapping != nil:
		m = parallel.Unwrap(b.Mapping)
	default:
		return fmt.Errorf("map_type %q has no mapping network", cfg.MapType)
	}

	sd := nn.StateDict(m)
	if err := checkpoint.SaveSafetensors(args[0], sd, dtype); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "wrote %d tensors (%s) to %s\n", sd.Len(), dtype, args[0])
	return nil
}
