package main

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"ghfeed/internal/config"
	"ghfeed/internal/feed"
	"ghfeed/internal/fetcher"
	"ghfeed/internal/refresh"
	"ghfeed/internal/storage"
)

// App holds the components shared by every command.
type App struct {
	cfg     *config.Config
	log     *slog.Logger
	store   *storage.SQLite
	coord   *refresh.Coordinator
	feed    *feed.Service
	fetcher *fetcher.Fetcher
}

// NewApp opens the database and wires the refresh and feed services.
func NewApp(cfg *config.Config, log *slog.Logger) (*App, error) {
	if dir := filepath.Dir(cfg.DatabasePath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
	}

	store, err := storage.NewSQLite(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	f := fetcher.New(http.DefaultClient, fetcher.Options{
		BaseURL:       cfg.FeedBaseURL,
		UserAgent:     cfg.UserAgent,
		RatePerSecond: cfg.FetchRate,
		Burst:         cfg.FetchConcurrency,
	})
	coord := refresh.New(store, f, refresh.Config{
		MaxInFlight:    cfg.FetchConcurrency,
		ChunkSize:      cfg.ChunkSize,
		AccountTimeout: cfg.AccountTimeout,
		Deadline:       cfg.RefreshDeadline,
	}, log)

	return &App{
		cfg:     cfg,
		log:     log,
		store:   store,
		coord:   coord,
		feed:    feed.New(store, log),
		fetcher: f,
	}, nil
}

// Close waits for in-flight refresh persistence and closes the database.
func (a *App) Close() error {
	a.coord.Wait()
	return a.store.Close()
}

func requireApp(getApp func() *App) (*App, error) {
	app := getApp()
	if app == nil {
		return nil, errors.New("app not initialized")
	}
	return app, nil
}
