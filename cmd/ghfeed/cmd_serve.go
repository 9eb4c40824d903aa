package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"ghfeed/internal/bot"
	"ghfeed/internal/httpapi"
	"ghfeed/internal/scheduler"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(getApp func() *App) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the scheduler and the Telegram bot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := requireApp(getApp)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), app)
		},
	}
}

func serve(ctx context.Context, app *App) error {
	cfg, log := app.cfg, app.log

	sched, err := scheduler.New(app.coord, app.feed, scheduler.Config{
		RefreshSpec:    cfg.RefreshSchedule,
		CleanupSpec:    cfg.CleanupSchedule,
		StaleBatch:     cfg.StaleBatch,
		KeepPerAccount: cfg.MaxItemsPerAccount,
	}, log)
	if err != nil {
		return fmt.Errorf("create scheduler: %w", err)
	}

	var b *bot.Bot
	if cfg.TelegramBotToken != "" {
		if b, err = bot.New(cfg.TelegramBotToken, app.feed, app.coord, cfg, log); err != nil {
			return fmt.Errorf("create bot: %w", err)
		}
	} else {
		log.Info("telegram bot disabled, no token configured")
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpapi.New(app.feed, app.coord, cfg.FeedBaseURL, log),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		sched.Run(ctx)
		return nil
	})

	g.Go(func() error {
		log.Info("http server listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if b != nil {
		g.Go(func() error {
			log.Info("starting bot")
			b.Run(ctx)
			return nil
		})
	}

	err = g.Wait()
	log.Info("server stopped")
	return err
}
