// Package config handles application configuration from environment
// variables, an optional .env file and an optional TOML file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// PathEnv names the variable holding the TOML config file path.
const PathEnv = "GHFEED_CONFIG"

// Config holds the application configuration.
type Config struct {
	TelegramBotToken string
	DatabasePath     string
	LogLevel         string
	AllowedUsers     []int64
	Viewer           string

	HTTPAddr    string
	UserAgent   string
	FeedBaseURL string

	FetchConcurrency int
	FetchRate        float64
	ChunkSize        int
	AccountTimeout   time.Duration
	RefreshDeadline  time.Duration

	RefreshSchedule    string
	CleanupSchedule    string
	StaleBatch         int
	MaxItemsPerAccount int
}

func defaults() Config {
	return Config{
		DatabasePath:       "./data/ghfeed.db",
		LogLevel:           "info",
		Viewer:             "local",
		HTTPAddr:           ":8080",
		UserAgent:          "ghfeed/1.0",
		FeedBaseURL:        "https://github.com",
		FetchConcurrency:   8,
		FetchRate:          5,
		ChunkSize:          8,
		AccountTimeout:     30 * time.Second,
		RefreshDeadline:    2 * time.Minute,
		RefreshSchedule:    "@every 15m",
		CleanupSchedule:    "@daily",
		StaleBatch:         50,
		MaxItemsPerAccount: 200,
	}
}

type fileConfig struct {
	TelegramBotToken   *string  `toml:"telegram_bot_token"`
	DatabasePath       *string  `toml:"database_path"`
	LogLevel           *string  `toml:"log_level"`
	AllowedUsers       []int64  `toml:"allowed_users"`
	Viewer             *string  `toml:"viewer"`
	HTTPAddr           *string  `toml:"http_addr"`
	UserAgent          *string  `toml:"user_agent"`
	FeedBaseURL        *string  `toml:"feed_base_url"`
	FetchConcurrency   *int     `toml:"fetch_concurrency"`
	FetchRate          *float64 `toml:"fetch_rate"`
	ChunkSize          *int     `toml:"chunk_size"`
	AccountTimeout     *string  `toml:"account_timeout"`
	RefreshDeadline    *string  `toml:"refresh_deadline"`
	RefreshSchedule    *string  `toml:"refresh_schedule"`
	CleanupSchedule    *string  `toml:"cleanup_schedule"`
	StaleBatch         *int     `toml:"stale_batch"`
	MaxItemsPerAccount *int     `toml:"max_items_per_account"`
}

// Load builds the configuration. Sources in increasing precedence:
// built-in defaults, the TOML file named by GHFEED_CONFIG, then environment
// variables. A .env file in the working directory seeds variables that are
// not already set.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := defaults()
	if path := strings.TrimSpace(os.Getenv(PathEnv)); path != "" {
		if err := applyFile(&cfg, path); err != nil {
			return nil, err
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyFile(cfg *Config, path string) error {
	var fc fileConfig
	meta, err := toml.DecodeFile(path, &fc)
	if err != nil {
		return fmt.Errorf("decode config file %q: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		sort.Strings(keys)
		return fmt.Errorf("config file %q: unknown keys %s", path, strings.Join(keys, ", "))
	}

	setString(&cfg.TelegramBotToken, fc.TelegramBotToken)
	setString(&cfg.DatabasePath, fc.DatabasePath)
	setString(&cfg.LogLevel, fc.LogLevel)
	setString(&cfg.Viewer, fc.Viewer)
	setString(&cfg.HTTPAddr, fc.HTTPAddr)
	setString(&cfg.UserAgent, fc.UserAgent)
	setString(&cfg.FeedBaseURL, fc.FeedBaseURL)
	setString(&cfg.RefreshSchedule, fc.RefreshSchedule)
	setString(&cfg.CleanupSchedule, fc.CleanupSchedule)
	if fc.AllowedUsers != nil {
		cfg.AllowedUsers = fc.AllowedUsers
	}
	for _, p := range []struct {
		dst *int
		src *int
	}{
		{&cfg.FetchConcurrency, fc.FetchConcurrency},
		{&cfg.ChunkSize, fc.ChunkSize},
		{&cfg.StaleBatch, fc.StaleBatch},
		{&cfg.MaxItemsPerAccount, fc.MaxItemsPerAccount},
	} {
		if p.src != nil {
			*p.dst = *p.src
		}
	}
	if fc.FetchRate != nil {
		cfg.FetchRate = *fc.FetchRate
	}
	if err := setDuration(&cfg.AccountTimeout, fc.AccountTimeout, "account_timeout"); err != nil {
		return err
	}
	return setDuration(&cfg.RefreshDeadline, fc.RefreshDeadline, "refresh_deadline")
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

func setDuration(dst *time.Duration, src *string, key string) error {
	if src == nil {
		return nil
	}
	d, err := time.ParseDuration(*src)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, *src, err)
	}
	*dst = d
	return nil
}

func applyEnv(cfg *Config) error {
	for key, dst := range map[string]*string{
		"TELEGRAM_BOT_TOKEN": &cfg.TelegramBotToken,
		"DATABASE_PATH":      &cfg.DatabasePath,
		"LOG_LEVEL":          &cfg.LogLevel,
		"GHFEED_VIEWER":      &cfg.Viewer,
		"HTTP_ADDR":          &cfg.HTTPAddr,
		"USER_AGENT":         &cfg.UserAgent,
		"FEED_BASE_URL":      &cfg.FeedBaseURL,
		"REFRESH_SCHEDULE":   &cfg.RefreshSchedule,
		"CLEANUP_SCHEDULE":   &cfg.CleanupSchedule,
	} {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	for key, dst := range map[string]*int{
		"FETCH_CONCURRENCY":     &cfg.FetchConcurrency,
		"CHUNK_SIZE":            &cfg.ChunkSize,
		"STALE_BATCH":           &cfg.StaleBatch,
		"MAX_ITEMS_PER_ACCOUNT": &cfg.MaxItemsPerAccount,
	} {
		v := strings.TrimSpace(os.Getenv(key))
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", key, v, err)
		}
		*dst = n
	}

	if v := strings.TrimSpace(os.Getenv("FETCH_RATE")); v != "" {
		r, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid FETCH_RATE %q: %w", v, err)
		}
		cfg.FetchRate = r
	}

	for key, dst := range map[string]*time.Duration{
		"ACCOUNT_TIMEOUT":  &cfg.AccountTimeout,
		"REFRESH_DEADLINE": &cfg.RefreshDeadline,
	} {
		v := strings.TrimSpace(os.Getenv(key))
		if v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", key, v, err)
		}
		*dst = d
	}

	if raw := os.Getenv("ALLOWED_USERS"); raw != "" {
		var users []int64
		for _, s := range strings.Split(raw, ",") {
			s = strings.TrimSpace(s)
			if s == "" {
				continue
			}
			uid, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid user ID %q in ALLOWED_USERS: %w", s, err)
			}
			users = append(users, uid)
		}
		cfg.AllowedUsers = users
	}
	return nil
}

func (c *Config) validate() error {
	switch {
	case c.FetchConcurrency < 1:
		return fmt.Errorf("fetch concurrency must be positive, got %d", c.FetchConcurrency)
	case c.ChunkSize < 1:
		return fmt.Errorf("chunk size must be positive, got %d", c.ChunkSize)
	case c.AccountTimeout <= 0:
		return fmt.Errorf("account timeout must be positive, got %s", c.AccountTimeout)
	case c.RefreshDeadline <= 0:
		return fmt.Errorf("refresh deadline must be positive, got %s", c.RefreshDeadline)
	case c.MaxItemsPerAccount < 1:
		return fmt.Errorf("max items per account must be positive, got %d", c.MaxItemsPerAccount)
	}
	u, err := url.Parse(c.FeedBaseURL)
	if err != nil || !u.IsAbs() || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("feed base url must be an absolute http(s) URL, got %q", c.FeedBaseURL)
	}
	return nil
}

// IsUserAllowed checks whether a user ID is in the allow list.
// Returns true if the allow list is empty (all users permitted).
func (c *Config) IsUserAllowed(userID int64) bool {
	if len(c.AllowedUsers) == 0 {
		return true
	}
	for _, id := range c.AllowedUsers {
		if id == userID {
			return true
		}
	}
	return false
}
