// cmd_builders.go - Command-Builder Funktionen
// Hauptfunktionen: newBuildCmd, newExportCmd, newEnvCmd
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/clbt/clbt/config"
)

// newBuildCmd - Erstellt den build Command
func newBuildCmd() *cobra.Command {
	var flags *config.Flags
	buildCmd := &cobra.Command{
		Use:   "build",
		Short: "Build all networks and print a summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return BuildHandler(cmd, flags)
		},
	}

	buildCmd.Flags().String("config", "", "YAML configuration file")
	flags = config.RegisterFlags(buildCmd.Flags())

	return buildCmd
}

// newExportCmd - Erstellt den export Command
func newExportCmd() *cobra.Command {
	var flags *config.Flags
	exportCmd := &cobra.Command{
		Use:   "export OUTPUT",
		Short: "Build the mapping network and write its weights as safetensors",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ExportHandler(cmd, args, flags)
		},
	}

	exportCmd.Flags().String("config", "", "YAML configuration file")
	exportCmd.Flags().String("dtype", "F32", "Tensor type of the written file (F32, F16, BF16)")
	exportCmd.Flags().Bool("discriminator", false, "Write the discriminator instead of the mapping (implies --with_dis)")
	flags = config.RegisterFlags(exportCmd.Flags())

	return exportCmd
}

// newEnvCmd - Erstellt den env Command
func newEnvCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "env",
		Short: "List environment variables and their current values",
		Args:  cobra.NoArgs,
		RunE:  EnvHandler,
	}
}
