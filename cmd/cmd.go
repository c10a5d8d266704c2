// cmd.go - Haupt-CLI Setup und Root Command
// Hauptfunktionen: NewCLI, appendEnvDocs
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/clbt/clbt/envconfig"
)

// appendEnvDocs - Fuegt Umgebungsvariablen-Dokumentation zum Command hinzu
func appendEnvDocs(cmd *cobra.Command, envs []envconfig.EnvVar) {
	if len(envs) == 0 {
		return
	}

	envUsage := `
Environment Variables:
`
	for _, e := range envs {
		envUsage += fmt.Sprintf("      %-24s   %s\n", e.Name, e.Description)
	}

	cmd.SetUsageTemplate(cmd.UsageTemplate() + envUsage)
}

// NewCLI - Erstellt das Haupt-CLI mit allen Commands
func NewCLI() *cobra.Command {
	cobra.EnableCommandSorting = false

	rootCmd := &cobra.Command{
		Use:           "clbt",
		Short:         "Cross-lingual BERT alignment model builder",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Print(cmd.UsageString())
		},
	}

	// Commands erstellen
	buildCmd := newBuildCmd()
	exportCmd := newExportCmd()
	envCmd := newEnvCmd()

	// Environment-Dokumentation hinzufuegen
	envVars := envconfig.AsMap()
	for _, cmd := range []*cobra.Command{buildCmd, exportCmd} {
		appendEnvDocs(cmd, []envconfig.EnvVar{
			envVars["CLBT_DEBUG"],
			envVars["CLBT_NO_CUDA"],
			envVars["CLBT_SEED"],
			envVars["CLBT_RENDEZVOUS_TIMEOUT"],
			envVars["LOCAL_RANK"],
			envVars["RANK"],
			envVars["WORLD_SIZE"],
			envVars["MASTER_ADDR"],
			envVars["CUDA_VISIBLE_DEVICES"],
		})
	}

	rootCmd.AddCommand(
		buildCmd,
		exportCmd,
		envCmd,
	)

	return rootCmd
}
