// Package refresh fetches account feeds concurrently, persists new activity
// and reports progress as a stream of events.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"ghfeed/internal/model"
	"ghfeed/internal/parser"
)

// ErrNotSubscribed is returned by RefreshOne when the viewer does not
// follow the requested account.
var ErrNotSubscribed = errors.New("account not in your subscription list")

// DeadlineMessage is reported for accounts still pending when the overall
// refresh deadline expires.
const DeadlineMessage = "refresh deadline exceeded"

// Defaults applied by New for zero Config fields.
const (
	DefaultMaxInFlight    = 8
	DefaultChunkSize      = 8
	DefaultAccountTimeout = 30 * time.Second
	DefaultDeadline       = 2 * time.Minute
	DefaultStaleBatch     = 50
)

// Store is the persistence the coordinator needs.
type Store interface {
	UpsertActivities(ctx context.Context, items []model.ActivityItem) (int, error)
	UpdateAccountRefreshMeta(ctx context.Context, login string, meta model.RefreshMeta) error
	IsSubscribed(ctx context.Context, viewer, login string) (bool, error)
	GetAccount(ctx context.Context, login string) (*model.Account, error)
	ListStaleAccounts(ctx context.Context, limit int) ([]model.Account, error)
}

// Fetcher downloads the raw feed of an account.
type Fetcher interface {
	Fetch(ctx context.Context, login string) (string, error)
}

// Config tunes a Coordinator.
type Config struct {
	MaxInFlight    int
	ChunkSize      int
	AccountTimeout time.Duration
	// Deadline bounds a whole Refresh call.
	Deadline time.Duration
}

// OneResult is the outcome of refreshing a single account.
type OneResult struct {
	Login     string `json:"login"`
	ItemCount int    `json:"itemCount"`
	Inserted  int    `json:"inserted"`
}

// StaleResult summarizes a RefreshStale run.
type StaleResult struct {
	Succeeded int
	Failed    int
}

// Coordinator runs account refreshes.
type Coordinator struct {
	store   Store
	fetcher Fetcher
	parser  *parser.Parser
	cfg     Config
	logger  *slog.Logger
	now     func() time.Time

	tasks sync.WaitGroup
}

// New creates a Coordinator.
func New(store Store, fetcher Fetcher, cfg Config, logger *slog.Logger) *Coordinator {
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = DefaultMaxInFlight
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.AccountTimeout <= 0 {
		cfg.AccountTimeout = DefaultAccountTimeout
	}
	if cfg.Deadline <= 0 {
		cfg.Deadline = DefaultDeadline
	}
	c := &Coordinator{
		store:   store,
		fetcher: fetcher,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
	}
	c.parser = &parser.Parser{Now: func() time.Time { return c.now() }}
	return c
}

// Wait blocks until every task started by Refresh has returned, including
// tasks whose results were abandoned after a deadline or cancellation.
func (c *Coordinator) Wait() {
	c.tasks.Wait()
}

type taskResult struct {
	index     int
	itemCount int
	err       error
}

// Refresh refreshes accounts concurrently and streams progress.
//
// The stream is a start event, exactly one success or error event per
// account in completion order, then a done event; the channel is closed
// afterwards. An empty account list yields a lone done event. When the
// overall deadline expires, accounts without a result are reported as
// errors and the stream completes normally. When ctx is canceled the
// channel is closed without a done event.
func (c *Coordinator) Refresh(ctx context.Context, accounts []model.Account) <-chan model.RefreshEvent {
	out := make(chan model.RefreshEvent)
	go c.run(ctx, accounts, out)
	return out
}

func (c *Coordinator) run(ctx context.Context, accounts []model.Account, out chan<- model.RefreshEvent) {
	defer close(out)

	emit := func(ev model.RefreshEvent) bool {
		if ctx.Err() != nil {
			return false
		}
		select {
		case out <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	total := len(accounts)
	if total == 0 {
		emit(model.DoneEvent(nil))
		return
	}
	if !emit(model.StartEvent(total)) {
		return
	}

	runCtx, cancel := context.WithTimeout(ctx, c.cfg.Deadline)
	defer cancel()

	refreshedAt := c.now().UTC()
	// Buffered so that tasks never block once nobody is listening.
	results := make(chan taskResult, total)
	sem := semaphore.NewWeighted(int64(c.cfg.MaxInFlight))

	c.tasks.Add(1)
	go func() {
		defer c.tasks.Done()
		for i, acct := range accounts {
			if err := sem.Acquire(runCtx, 1); err != nil {
				return
			}
			c.tasks.Add(1)
			go func(i int, acct model.Account) {
				defer c.tasks.Done()
				defer sem.Release(1)
				n, _, err := c.refreshAccount(runCtx, acct, refreshedAt)
				results <- taskResult{index: i, itemCount: n, err: err}
			}(i, acct)
		}
	}()

	reported := make([]bool, total)
	var errs []model.AccountError
	for pending := total; pending > 0; {
		select {
		case r := <-results:
			pending--
			reported[r.index] = true
			login := accounts[r.index].Login
			ev := model.SuccessEvent(login, r.index, r.itemCount)
			if r.err != nil {
				c.logger.Warn("refresh account failed", "login", login, "error", r.err)
				errs = append(errs, model.AccountError{Login: login, Message: r.err.Error()})
				ev = model.ErrorEvent(login, r.index, r.err.Error())
			}
			if !emit(ev) {
				return
			}
		case <-runCtx.Done():
			if ctx.Err() != nil {
				return
			}
			c.logger.Warn("refresh deadline exceeded", "pending", pending, "total", total)
			for i, acct := range accounts {
				if reported[i] {
					continue
				}
				errs = append(errs, model.AccountError{Login: acct.Login, Message: DeadlineMessage})
				if !emit(model.ErrorEvent(acct.Login, i, DeadlineMessage)) {
					return
				}
			}
			pending = 0
		}
	}

	emit(model.DoneEvent(errs))
}

// refreshAccount fetches, parses and stores one account's feed. It returns
// the number of parsed items and how many of them were new.
func (c *Coordinator) refreshAccount(ctx context.Context, acct model.Account, refreshedAt time.Time) (int, int, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.AccountTimeout)
	defer cancel()

	doc, err := c.fetcher.Fetch(ctx, acct.Login)
	if err != nil {
		return 0, 0, fmt.Errorf("fetch %s: %w", acct.Login, err)
	}

	items := c.parser.Parse(doc, acct.Login)
	inserted := 0
	for start := 0; start < len(items); start += c.cfg.ChunkSize {
		if err := ctx.Err(); err != nil {
			return 0, 0, fmt.Errorf("store %s: %w", acct.Login, err)
		}
		end := min(start+c.cfg.ChunkSize, len(items))
		n, err := c.store.UpsertActivities(ctx, items[start:end])
		if err != nil {
			return 0, 0, fmt.Errorf("store %s: %w", acct.Login, err)
		}
		inserted += n
	}

	meta := model.RefreshMeta{LastRefreshedAt: refreshedAt}
	if acct.ExternalID == "" {
		meta.ExternalID = parser.ExtractExternalID(doc)
	}
	if err := c.store.UpdateAccountRefreshMeta(ctx, acct.Login, meta); err != nil {
		return 0, 0, fmt.Errorf("update %s: %w", acct.Login, err)
	}

	c.logger.Debug("account refreshed", "login", acct.Login, "items", len(items), "inserted", inserted)
	return len(items), inserted, nil
}

// RefreshOne refreshes a single account the viewer follows.
func (c *Coordinator) RefreshOne(ctx context.Context, viewer, login string) (OneResult, error) {
	ok, err := c.store.IsSubscribed(ctx, viewer, login)
	if err != nil {
		return OneResult{}, fmt.Errorf("check subscription: %w", err)
	}
	if !ok {
		return OneResult{}, fmt.Errorf("%s: %w", login, ErrNotSubscribed)
	}

	acct, err := c.store.GetAccount(ctx, login)
	if err != nil {
		return OneResult{}, fmt.Errorf("get account: %w", err)
	}

	c.tasks.Add(1)
	defer c.tasks.Done()

	n, inserted, err := c.refreshAccount(ctx, *acct, c.now().UTC())
	if err != nil {
		return OneResult{}, err
	}
	return OneResult{Login: login, ItemCount: n, Inserted: inserted}, nil
}

// RefreshStale refreshes up to limit accounts that were refreshed least
// recently and waits for the stream to finish.
func (c *Coordinator) RefreshStale(ctx context.Context, limit int) (StaleResult, error) {
	if limit <= 0 {
		limit = DefaultStaleBatch
	}
	accounts, err := c.store.ListStaleAccounts(ctx, limit)
	if err != nil {
		return StaleResult{}, fmt.Errorf("list stale accounts: %w", err)
	}

	var res StaleResult
	for ev := range c.Refresh(ctx, accounts) {
		switch ev.Type {
		case model.EventSuccess:
			res.Succeeded++
		case model.EventError:
			res.Failed++
		}
	}
	if err := ctx.Err(); err != nil {
		return res, fmt.Errorf("refresh stale accounts: %w", err)
	}
	return res, nil
}
