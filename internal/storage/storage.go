// Package storage defines the persistence interface and its implementations.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"ghfeed/internal/filter"
	"ghfeed/internal/model"
)

var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a record already exists.
	ErrConflict = errors.New("already exists")
)

func wrapNotFound(entity string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", entity, ErrNotFound)
	}
	return err
}

// Position is a point in the activity order
// (published_at DESC, account_login DESC, id DESC).
type Position struct {
	PublishedAt  time.Time
	AccountLogin string
	ID           string
	// TimeOnly compares by timestamp alone: rows strictly older than
	// PublishedAt follow the position.
	TimeOnly bool
}

// ActivityQuery selects activity items visible to a viewer.
type ActivityQuery struct {
	// Viewer restricts results to accounts the viewer follows.
	Viewer string
	// Accounts further restricts results when non-empty.
	Accounts []string
	// Types restricts results to these activity types when non-empty.
	Types []string
	// Where is an additional predicate, typically the viewer's hide rules.
	Where filter.Expr
	// After returns only rows that follow this position.
	After *Position
	Limit int
}

// TypeCount is the number of visible items of one activity type.
type TypeCount struct {
	Type  string `db:"type" json:"type"`
	Count int    `db:"count" json:"count"`
}

// AccountStat summarizes the visible items of one followed account.
type AccountStat struct {
	Login         string
	ItemCount     int
	LatestEntryAt *time.Time
}

// Storage is the interface for all persistence operations.
type Storage interface {
	EnsureAccount(ctx context.Context, login string) (*model.Account, error)
	GetAccount(ctx context.Context, login string) (*model.Account, error)
	ListStaleAccounts(ctx context.Context, limit int) ([]model.Account, error)
	UpdateAccountRefreshMeta(ctx context.Context, login string, meta model.RefreshMeta) error
	ResetRefreshMeta(ctx context.Context, logins []string) error

	UpsertActivities(ctx context.Context, items []model.ActivityItem) (int, error)
	DeleteActivitiesByAccounts(ctx context.Context, logins []string) (int64, error)
	QueryActivities(ctx context.Context, q ActivityQuery) ([]model.ActivityItem, error)
	CountActivityTypes(ctx context.Context, q ActivityQuery) ([]TypeCount, error)
	AccountStats(ctx context.Context, viewer string, where filter.Expr) (map[string]AccountStat, error)
	PruneActivities(ctx context.Context, keep int) (int64, error)

	CreateSubscription(ctx context.Context, sub *model.Subscription) error
	DeleteSubscription(ctx context.Context, viewer, login string) error
	IsSubscribed(ctx context.Context, viewer, login string) (bool, error)
	ListSubscriptions(ctx context.Context, viewer string) ([]model.SubscriptionView, error)
	ListFollowedAccounts(ctx context.Context, viewer string) ([]model.Account, error)

	CreateFilter(ctx context.Context, f *model.StoredFilter) error
	UpdateFilter(ctx context.Context, f *model.StoredFilter) error
	GetFilter(ctx context.Context, viewer, id string) (*model.StoredFilter, error)
	ListFilters(ctx context.Context, viewer string) ([]model.StoredFilter, error)
	DeleteFilter(ctx context.Context, viewer, id string) error

	Close() error
}
