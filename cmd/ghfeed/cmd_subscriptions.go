package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"ghfeed/internal/bot"
	"ghfeed/internal/feed"
	"ghfeed/internal/model"
)

func newFollowCmd(getApp func() *App, getOutput func() OutputFormat) *cobra.Command {
	var refreshNow bool
	cmd := &cobra.Command{
		Use:   "follow <login>...",
		Short: "Follow one or more accounts",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := requireApp(getApp)
			if err != nil {
				return err
			}
			viewer := app.cfg.Viewer
			var added []*model.Subscription
			var failed error
			for _, login := range args {
				sub, err := app.feed.Follow(cmd.Context(), viewer, login)
				if err != nil {
					if !errors.Is(err, feed.ErrAlreadyFollowing) {
						failed = err
					}
					fmt.Fprintln(os.Stderr, err)
					continue
				}
				added = append(added, sub)
				if refreshNow {
					res, err := app.coord.RefreshOne(cmd.Context(), viewer, sub.AccountLogin)
					if err != nil {
						fmt.Fprintf(os.Stderr, "Initial refresh of @%s failed: %v\n", sub.AccountLogin, err)
						continue
					}
					if getOutput() != OutputJSON {
						fmt.Fprintf(os.Stdout, "Fetched @%s: %d items, %d new\n", res.Login, res.ItemCount, res.Inserted)
					}
				}
			}
			if getOutput() == OutputJSON {
				if err := writeJSON(os.Stdout, added); err != nil {
					return err
				}
			} else {
				for _, sub := range added {
					fmt.Fprintf(os.Stdout, "Following @%s\n", sub.AccountLogin)
				}
			}
			return failed
		},
	}
	cmd.Flags().BoolVar(&refreshNow, "refresh", false, "Fetch the new accounts right away")
	return cmd
}

func newUnfollowCmd(getApp func() *App) *cobra.Command {
	return &cobra.Command{
		Use:   "unfollow <login>",
		Short: "Stop following an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := requireApp(getApp)
			if err != nil {
				return err
			}
			if err := app.feed.Unfollow(cmd.Context(), app.cfg.Viewer, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "Unfollowed @%s\n", model.NormalizeLogin(args[0]))
			return nil
		},
	}
}

func newListCmd(getApp func() *App, getOutput func() OutputFormat) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List followed accounts",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := requireApp(getApp)
			if err != nil {
				return err
			}
			subs, err := app.feed.Subscriptions(cmd.Context(), app.cfg.Viewer)
			if err != nil {
				return err
			}
			if getOutput() == OutputJSON {
				return writeJSON(os.Stdout, subs)
			}
			fmt.Fprintln(os.Stdout, bot.FormatSubscriptions(subs))
			return nil
		},
	}
}

func newClearCmd(getApp func() *App) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Delete stored activity of followed accounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := requireApp(getApp)
			if err != nil {
				return err
			}
			n, err := app.feed.Clear(cmd.Context(), app.cfg.Viewer)
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "Cleared %d stored items.\n", n)
			return nil
		},
	}
}
