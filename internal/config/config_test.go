package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

var envKeys = []string{
	PathEnv, "TELEGRAM_BOT_TOKEN", "DATABASE_PATH", "LOG_LEVEL", "ALLOWED_USERS", "GHFEED_VIEWER",
	"HTTP_ADDR", "USER_AGENT", "FEED_BASE_URL", "FETCH_CONCURRENCY", "FETCH_RATE", "CHUNK_SIZE",
	"ACCOUNT_TIMEOUT", "REFRESH_DEADLINE", "REFRESH_SCHEDULE", "CLEANUP_SCHEDULE", "STALE_BATCH",
	"MAX_ITEMS_PER_ACCOUNT",
}

func withDefaults(f func(c *Config)) *Config {
	c := defaults()
	if f != nil {
		f(&c)
	}
	return &c
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		want    *Config
		wantErr bool
	}{
		{
			name: "defaults",
			env:  map[string]string{},
			want: withDefaults(nil),
		},
		{
			name: "all values set",
			env: map[string]string{
				"TELEGRAM_BOT_TOKEN":    "tok",
				"DATABASE_PATH":         "/tmp/ghfeed.db",
				"LOG_LEVEL":             "debug",
				"ALLOWED_USERS":         "111,222,333",
				"GHFEED_VIEWER":         "me",
				"HTTP_ADDR":             "127.0.0.1:9000",
				"USER_AGENT":            "test/2",
				"FEED_BASE_URL":         "http://localhost:8081",
				"FETCH_CONCURRENCY":     "3",
				"FETCH_RATE":            "0.5",
				"CHUNK_SIZE":            "16",
				"ACCOUNT_TIMEOUT":       "5s",
				"REFRESH_DEADLINE":      "1m30s",
				"REFRESH_SCHEDULE":      "*/5 * * * *",
				"CLEANUP_SCHEDULE":      "@hourly",
				"STALE_BATCH":           "10",
				"MAX_ITEMS_PER_ACCOUNT": "50",
			},
			want: &Config{
				TelegramBotToken:   "tok",
				DatabasePath:       "/tmp/ghfeed.db",
				LogLevel:           "debug",
				AllowedUsers:       []int64{111, 222, 333},
				Viewer:             "me",
				HTTPAddr:           "127.0.0.1:9000",
				UserAgent:          "test/2",
				FeedBaseURL:        "http://localhost:8081",
				FetchConcurrency:   3,
				FetchRate:          0.5,
				ChunkSize:          16,
				AccountTimeout:     5 * time.Second,
				RefreshDeadline:    90 * time.Second,
				RefreshSchedule:    "*/5 * * * *",
				CleanupSchedule:    "@hourly",
				StaleBatch:         10,
				MaxItemsPerAccount: 50,
			},
		},
		{
			name: "allowed users with spaces",
			env:  map[string]string{"ALLOWED_USERS": " 10 , 20 , "},
			want: withDefaults(func(c *Config) { c.AllowedUsers = []int64{10, 20} }),
		},
		{
			name:    "invalid user id",
			env:     map[string]string{"ALLOWED_USERS": "123,abc"},
			wantErr: true,
		},
		{
			name:    "invalid duration",
			env:     map[string]string{"ACCOUNT_TIMEOUT": "soon"},
			wantErr: true,
		},
		{
			name:    "invalid integer",
			env:     map[string]string{"CHUNK_SIZE": "many"},
			wantErr: true,
		},
		{
			name:    "non-positive concurrency",
			env:     map[string]string{"FETCH_CONCURRENCY": "0"},
			wantErr: true,
		},
		{
			name:    "relative feed base url",
			env:     map[string]string{"FEED_BASE_URL": "github.com"},
			wantErr: true,
		},
		{
			name:    "non-http feed base url",
			env:     map[string]string{"FEED_BASE_URL": "javascript:alert(1)"},
			wantErr: true,
		},
		{
			name:    "missing config file",
			env:     map[string]string{PathEnv: "/nonexistent/ghfeed.toml"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, key := range envKeys {
				t.Setenv(key, "")
			}
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			got, err := Load()
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Load() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ghfeed.toml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadFile(t *testing.T) {
	for _, key := range envKeys {
		t.Setenv(key, "")
	}
	t.Setenv(PathEnv, writeFile(t, `
database_path = "/srv/ghfeed.db"
allowed_users = [7, 8]
fetch_concurrency = 4
account_timeout = "10s"
refresh_schedule = "@every 1h"
`))
	// Environment wins over the file.
	t.Setenv("FETCH_CONCURRENCY", "6")

	got, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	want := withDefaults(func(c *Config) {
		c.DatabasePath = "/srv/ghfeed.db"
		c.AllowedUsers = []int64{7, 8}
		c.FetchConcurrency = 6
		c.AccountTimeout = 10 * time.Second
		c.RefreshSchedule = "@every 1h"
	})
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Load() mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadFileErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "unknown key", content: `colour = "blue"`},
		{name: "bad duration", content: `refresh_deadline = "forever"`},
		{name: "syntax", content: `database_path = `},
		{name: "empty feed base url", content: `feed_base_url = ""`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, key := range envKeys {
				t.Setenv(key, "")
			}
			t.Setenv(PathEnv, writeFile(t, tt.content))
			if _, err := Load(); err == nil {
				t.Fatal("expected error, got nil")
			}
		})
	}
}

func TestIsUserAllowed(t *testing.T) {
	tests := []struct {
		name         string
		allowedUsers []int64
		userID       int64
		want         bool
	}{
		{
			name:         "empty list allows everyone",
			allowedUsers: nil,
			userID:       42,
			want:         true,
		},
		{
			name:         "user in list",
			allowedUsers: []int64{10, 20, 30},
			userID:       20,
			want:         true,
		},
		{
			name:         "user not in list",
			allowedUsers: []int64{10, 20, 30},
			userID:       99,
			want:         false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{AllowedUsers: tt.allowedUsers}
			got := cfg.IsUserAllowed(tt.userID)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("IsUserAllowed() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
