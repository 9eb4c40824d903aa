package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"ghfeed/internal/config"
)

// OutputFormat selects how commands print results.
type OutputFormat string

const (
	OutputText OutputFormat = "text"
	OutputJSON OutputFormat = "json"
)

func newRootCmd(cfg *config.Config) *cobra.Command {
	var app *App
	var output = string(OutputText)
	var outFmt OutputFormat

	getApp := func() *App { return app }
	getOutput := func() OutputFormat { return outFmt }

	cmd := &cobra.Command{
		Use:           "ghfeed",
		Short:         "GitHub activity feed aggregator",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			f, err := parseOutputFormat(output)
			if err != nil {
				return err
			}
			outFmt = f
			if !requiresApp(cmd) || app != nil {
				return nil
			}
			a, err := NewApp(cfg, newLogger(cfg.LogLevel))
			if err != nil {
				return err
			}
			app = a
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if app != nil {
				_ = app.Close()
				app = nil
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfg.DatabasePath, "db", cfg.DatabasePath, "SQLite database path")
	cmd.PersistentFlags().StringVar(&cfg.Viewer, "viewer", cfg.Viewer, "Viewer identity for feed commands")
	cmd.PersistentFlags().StringVarP(&output, "output", "o", output, "Output format: text, json")

	cmd.AddCommand(newServeCmd(getApp))
	cmd.AddCommand(newMigrateCmd(cfg))
	cmd.AddCommand(newFollowCmd(getApp, getOutput))
	cmd.AddCommand(newUnfollowCmd(getApp))
	cmd.AddCommand(newListCmd(getApp, getOutput))
	cmd.AddCommand(newRefreshCmd(getApp, getOutput))
	cmd.AddCommand(newFeedCmd(getApp, getOutput))
	cmd.AddCommand(newFilterCmd(getApp, getOutput))
	cmd.AddCommand(newImportCmd(getApp, getOutput))
	cmd.AddCommand(newExportCmd(getApp))
	cmd.AddCommand(newClearCmd(getApp))

	return cmd
}

func parseOutputFormat(raw string) (OutputFormat, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	switch OutputFormat(s) {
	case OutputText, OutputJSON:
		return OutputFormat(s), nil
	default:
		return "", fmt.Errorf("invalid output format %q (expected text|json)", raw)
	}
}

// requiresApp reports whether cmd needs an open database. The migrate
// command manages its own connection.
func requiresApp(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		switch c.Name() {
		case "help", "completion", "migrate":
			return false
		}
	}
	return true
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
