package scheduler

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"ghfeed/internal/refresh"
)

type mockRefresher struct {
	mu     sync.Mutex
	limits []int
	res    refresh.StaleResult
	err    error
	called chan struct{}
}

func (m *mockRefresher) RefreshStale(_ context.Context, limit int) (refresh.StaleResult, error) {
	m.mu.Lock()
	m.limits = append(m.limits, limit)
	m.mu.Unlock()
	if m.called != nil {
		select {
		case m.called <- struct{}{}:
		default:
		}
	}
	return m.res, m.err
}

func (m *mockRefresher) getLimits() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int(nil), m.limits...)
}

type mockCleaner struct {
	keeps []int
	n     int64
	err   error
}

func (m *mockCleaner) Cleanup(_ context.Context, keep int) (int64, error) {
	m.keeps = append(m.keeps, keep)
	return m.n, m.err
}

func newLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func TestNewInvalidSpec(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{name: "refresh", cfg: Config{RefreshSpec: "every so often"}},
		{name: "cleanup", cfg: Config{RefreshSpec: "@hourly", CleanupSpec: "61 * * * *"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(&mockRefresher{}, &mockCleaner{}, tt.cfg, newLogger(&bytes.Buffer{})); err == nil {
				t.Fatal("expected error, got nil")
			}
		})
	}
}

func TestRunRefresh(t *testing.T) {
	var buf bytes.Buffer
	r := &mockRefresher{res: refresh.StaleResult{Succeeded: 2, Failed: 1}}
	s, err := New(r, &mockCleaner{}, Config{RefreshSpec: "@every 15m", StaleBatch: 25}, newLogger(&buf))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	s.RunRefresh(context.Background())

	if diff := cmp.Diff([]int{25}, r.getLimits()); diff != "" {
		t.Errorf("limits mismatch (-want +got):\n%s", diff)
	}
	if !strings.Contains(buf.String(), "succeeded=2 failed=1") {
		t.Errorf("log missing counts:\n%s", buf.String())
	}
}

func TestRunRefreshError(t *testing.T) {
	var buf bytes.Buffer
	r := &mockRefresher{err: errors.New("db locked")}
	s, err := New(r, &mockCleaner{}, Config{}, newLogger(&buf))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	s.RunRefresh(context.Background())
	if !strings.Contains(buf.String(), "db locked") {
		t.Errorf("error not logged:\n%s", buf.String())
	}
}

func TestRunCleanup(t *testing.T) {
	var buf bytes.Buffer
	c := &mockCleaner{n: 7}
	s, err := New(&mockRefresher{}, c, Config{CleanupSpec: "@daily", KeepPerAccount: 200}, newLogger(&buf))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	s.RunCleanup(context.Background())

	if diff := cmp.Diff([]int{200}, c.keeps); diff != "" {
		t.Errorf("keeps mismatch (-want +got):\n%s", diff)
	}
	if !strings.Contains(buf.String(), "deleted=7") {
		t.Errorf("log missing count:\n%s", buf.String())
	}
}

func TestJobsSkipCancelledContext(t *testing.T) {
	r := &mockRefresher{}
	c := &mockCleaner{}
	s, err := New(r, c, Config{}, newLogger(&bytes.Buffer{}))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s.RunRefresh(ctx)
	s.RunCleanup(ctx)

	if len(r.getLimits()) != 0 || len(c.keeps) != 0 {
		t.Errorf("jobs ran after cancel: refresh=%v cleanup=%v", r.getLimits(), c.keeps)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	r := &mockRefresher{called: make(chan struct{}, 1)}
	s, err := New(r, &mockCleaner{}, Config{RefreshSpec: "@every 1h", CleanupSpec: "@daily"}, newLogger(&bytes.Buffer{}))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	select {
	case <-r.called:
	case <-time.After(5 * time.Second):
		t.Fatal("initial refresh did not run")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
