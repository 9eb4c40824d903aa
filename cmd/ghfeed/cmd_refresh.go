package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"ghfeed/internal/bot"
	"ghfeed/internal/model"
)

func newRefreshCmd(getApp func() *App, getOutput func() OutputFormat) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh [login]",
		Short: "Fetch new activity of followed accounts",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := requireApp(getApp)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			viewer := app.cfg.Viewer

			if len(args) == 1 {
				res, err := app.coord.RefreshOne(ctx, viewer, args[0])
				if err != nil {
					return err
				}
				if getOutput() == OutputJSON {
					return writeJSON(os.Stdout, res)
				}
				fmt.Fprintf(os.Stdout, "@%s refreshed: %d items, %d new.\n", res.Login, res.ItemCount, res.Inserted)
				return nil
			}

			accounts, err := app.feed.FollowedAccounts(ctx, viewer)
			if err != nil {
				return err
			}
			var p bot.Progress
			var events []model.RefreshEvent
			for ev := range app.coord.Refresh(ctx, accounts) {
				if getOutput() == OutputJSON {
					events = append(events, ev)
					continue
				}
				p.Apply(ev)
				switch ev.Type {
				case model.EventSuccess:
					fmt.Fprintf(os.Stdout, "ok    @%s (%d items)\n", ev.Login, ev.ItemCount)
				case model.EventError:
					fmt.Fprintf(os.Stdout, "fail  @%s: %s\n", ev.Login, ev.Message)
				}
			}
			if getOutput() == OutputJSON {
				return writeJSON(os.Stdout, events)
			}
			fmt.Fprintln(os.Stdout, p.String())
			return nil
		},
	}
}
