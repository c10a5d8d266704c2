// cmd_utils.go - Gemeinsame Hilfsfunktionen
// Hauptfunktionen: loadConfig, buildBundle, newTable
package cmd

import (
	"io"
	"log/slog"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/clbt/clbt/config"
	"github.com/clbt/clbt/discover"
	"github.com/clbt/clbt/envconfig"
	"github.com/clbt/clbt/logutil"
	"github.com/clbt/clbt/model"
)

// detector - Geraeteerkennung fuer alle Commands, nil fuer das System
var detector discover.Detector

// loadConfig - Standardwerte < YAML-Datei < Umgebung < Flags
func loadConfig(cmd *cobra.Command, flags *config.Flags) (config.Config, error) {
	cfg := config.Defaults()
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return config.Config{}, err
		}
	}

	cfg.ApplyEnv()
	flags.Apply(&cfg)
	return cfg, nil
}

// newLogger - Logger auf stderr mit Level aus CLBT_DEBUG
func newLogger(cmd *cobra.Command) *slog.Logger {
	return logutil.NewLogger(cmd.ErrOrStderr(), envconfig.LogLevel())
}

// buildBundle - Baut alle Netzwerke fuer cfg
func buildBundle(cmd *cobra.Command, cfg config.Config) (*model.Bundle, error) {
	opts := []model.Option{model.WithLogger(newLogger(cmd))}
	if detector != nil {
		opts = append(opts, model.WithDetector(detector))
	}
	return model.Build(cmd.Context(), cfg, opts...)
}

// newTable - Tabelle im gemeinsamen Layout
func newTable(w io.Writer, header []string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	table.SetAutoWrapText(false)
	return table
}
