package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"ghfeed/internal/bot"
	"ghfeed/internal/feed"
)

func newFilterCmd(getApp func() *App, getOutput func() OutputFormat) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "filter",
		Short: "Manage hide rules",
	}
	cmd.AddCommand(newFilterAddCmd(getApp, getOutput))
	cmd.AddCommand(newFilterHideCmd(getApp))
	cmd.AddCommand(newFilterListCmd(getApp, getOutput))
	cmd.AddCommand(newFilterRemoveCmd(getApp))
	cmd.AddCommand(newFilterSchemaCmd())
	return cmd
}

func newFilterAddCmd(getApp func() *App, getOutput func() OutputFormat) *cobra.Command {
	return &cobra.Command{
		Use:   "add <name> <rule-json|->",
		Short: "Store a rule; matching items are hidden",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := requireApp(getApp)
			if err != nil {
				return err
			}
			rule := []byte(args[1])
			if args[1] == "-" {
				if rule, err = io.ReadAll(os.Stdin); err != nil {
					return fmt.Errorf("read rule: %w", err)
				}
			}
			f, err := app.feed.CreateFilter(cmd.Context(), app.cfg.Viewer, args[0], rule)
			if err != nil {
				return err
			}
			if getOutput() == OutputJSON {
				return writeJSON(os.Stdout, f)
			}
			fmt.Fprintf(os.Stdout, "Added filter %s (%s)\n", f.Name, f.ID)
			return nil
		},
	}
}

func newFilterHideCmd(getApp func() *App) *cobra.Command {
	return &cobra.Command{
		Use:   "hide <type>",
		Short: "Hide every item of an activity type",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := requireApp(getApp)
			if err != nil {
				return err
			}
			f, err := app.feed.HideType(cmd.Context(), app.cfg.Viewer, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "Added filter %s (%s)\n", f.Name, f.ID)
			return nil
		},
	}
}

func newFilterListCmd(getApp func() *App, getOutput func() OutputFormat) *cobra.Command {
	return &cobra.Command{
		Use:     "ls",
		Aliases: []string{"list"},
		Short:   "List stored rules",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := requireApp(getApp)
			if err != nil {
				return err
			}
			filters, err := app.feed.Filters(cmd.Context(), app.cfg.Viewer)
			if err != nil {
				return err
			}
			if getOutput() == OutputJSON {
				return writeJSON(os.Stdout, filters)
			}
			fmt.Fprintln(os.Stdout, bot.FormatFilters(filters))
			return nil
		},
	}
}

func newFilterRemoveCmd(getApp func() *App) *cobra.Command {
	return &cobra.Command{
		Use:     "rm <id>",
		Aliases: []string{"remove"},
		Short:   "Delete a stored rule",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := requireApp(getApp)
			if err != nil {
				return err
			}
			if err := app.feed.DeleteFilter(cmd.Context(), app.cfg.Viewer, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "Removed filter %s\n", args[0])
			return nil
		},
	}
}

func newFilterSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print filterable fields and operators as JSON",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			return writeJSON(os.Stdout, feed.FilterSchema())
		},
	}
}
