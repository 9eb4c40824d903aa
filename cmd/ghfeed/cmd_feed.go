package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"ghfeed/internal/bot"
	"ghfeed/internal/feed"
	"ghfeed/internal/render"
)

func newFeedCmd(getApp func() *App, getOutput func() OutputFormat) *cobra.Command {
	var opts feed.ListOptions
	var showTypes bool
	cmd := &cobra.Command{
		Use:   "feed",
		Short: "Show the merged activity feed, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := requireApp(getApp)
			if err != nil {
				return err
			}
			page, err := app.feed.List(cmd.Context(), app.cfg.Viewer, opts)
			if err != nil {
				return err
			}
			if getOutput() == OutputJSON {
				return writeJSON(os.Stdout, page)
			}
			if showTypes {
				fmt.Fprintln(os.Stdout, bot.FormatTypes(page.Types, page.TypeCounts))
				return nil
			}
			if len(page.Items) == 0 {
				fmt.Fprintln(os.Stdout, "No activity.")
				return nil
			}
			fmt.Fprintln(os.Stdout, bot.FormatPage(page.Items, render.NewMarkdown(app.cfg.FeedBaseURL)))
			if page.NextCursor != nil {
				fmt.Fprintf(os.Stdout, "\nMore: ghfeed feed --cursor %s\n", *page.NextCursor)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.Cursor, "cursor", "", "Continue after this cursor")
	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", feed.DefaultLimit, "Page size")
	cmd.Flags().StringSliceVarP(&opts.Accounts, "account", "a", nil, "Only these accounts")
	cmd.Flags().StringSliceVarP(&opts.Types, "type", "t", nil, "Only these activity types")
	cmd.Flags().BoolVar(&showTypes, "types", false, "Show activity type counts instead of items")
	return cmd
}
