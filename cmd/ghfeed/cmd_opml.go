package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

func newImportCmd(getApp func() *App, getOutput func() OutputFormat) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.opml|->",
		Short: "Follow every account feed listed in an OPML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := requireApp(getApp)
			if err != nil {
				return err
			}
			var r io.Reader = os.Stdin
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return fmt.Errorf("open opml: %w", err)
				}
				defer func() { _ = f.Close() }()
				r = f
			}
			src, err := io.ReadAll(r)
			if err != nil {
				return fmt.Errorf("read opml: %w", err)
			}
			res, err := app.feed.ImportOPML(cmd.Context(), app.cfg.Viewer, string(src))
			if err != nil {
				return err
			}
			if getOutput() == OutputJSON {
				return writeJSON(os.Stdout, res)
			}
			fmt.Fprintf(os.Stdout, "Found %d accounts: %d added, %d already followed.\n", res.Total, res.Added, res.Skipped)
			return nil
		},
	}
}

func newExportCmd(getApp func() *App) *cobra.Command {
	var outPath string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write followed accounts as OPML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := requireApp(getApp)
			if err != nil {
				return err
			}
			doc, err := app.feed.ExportOPML(cmd.Context(), app.cfg.Viewer, app.cfg.FeedBaseURL)
			if err != nil {
				return err
			}
			if outPath == "" || outPath == "-" {
				_, err = os.Stdout.Write(doc)
				return err
			}
			if err := os.WriteFile(outPath, doc, 0o644); err != nil {
				return fmt.Errorf("write opml: %w", err)
			}
			fmt.Fprintf(os.Stderr, "Wrote %s\n", outPath)
			return nil
		},
	}
	cmd.Flags().StringVarP(&outPath, "file", "f", "", "Output file (default stdout)")
	return cmd
}
