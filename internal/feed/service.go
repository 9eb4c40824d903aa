// Package feed serves the viewer-facing read path: paginated, filtered and
// faceted activity lists, plus subscription and filter rule management.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"unicode/utf8"

	"ghfeed/internal/filter"
	"ghfeed/internal/model"
	"ghfeed/internal/storage"
)

var (
	// ErrInvalidLogin is returned for input that is not an account login.
	ErrInvalidLogin = errors.New("invalid login")
	// ErrAlreadyFollowing is returned when following an account twice.
	ErrAlreadyFollowing = errors.New("already following")
	// ErrNotFollowing is returned when unfollowing an account that is not followed.
	ErrNotFollowing = errors.New("not following")
	// ErrInvalidFilter is returned for a filter with a bad name or rule.
	ErrInvalidFilter = errors.New("invalid filter")
	// ErrNotFound is returned for unknown filters.
	ErrNotFound = storage.ErrNotFound
)

// Paging and retention limits.
const (
	DefaultLimit          = 20
	MaxLimit              = 100
	DefaultKeepPerAccount = 200
	MaxKeepPerAccount     = 1000
	MaxFilterNameLength   = 100
)

// ListOptions selects a page of the viewer's feed.
type ListOptions struct {
	Cursor   string
	Limit    int
	Accounts []string
	Types    []string
}

// Page is one page of the viewer's feed. Types and TypeCounts are filled
// only for the first page.
type Page struct {
	Items      []model.ActivityItem `json:"items"`
	NextCursor *string              `json:"nextCursor"`
	HasMore    bool                 `json:"hasMore"`
	Types      []string             `json:"types"`
	TypeCounts map[string]int       `json:"typeCounts"`
}

// FilterView is a stored filter with its rule tree as JSON.
type FilterView struct {
	model.StoredFilter
	FilterRule json.RawMessage `json:"filterRule"`
}

// SchemaView describes the fields and operators a rule builder can offer.
type SchemaView struct {
	Fields    []filter.FieldSchema `json:"fields"`
	Operators []string             `json:"operators"`
	Empty     json.RawMessage      `json:"emptyRule"`
}

// ImportResult summarizes an OPML import.
type ImportResult struct {
	Total   int      `json:"total"`
	Added   int      `json:"added"`
	Skipped int      `json:"skipped"`
	Logins  []string `json:"logins"`
}

// Service implements the viewer operations on top of a Storage.
type Service struct {
	store  storage.Storage
	logger *slog.Logger
}

// New creates a Service.
func New(store storage.Storage, logger *slog.Logger) *Service {
	return &Service{store: store, logger: logger}
}

// hideRules loads the viewer's stored rules and combines them into the
// visibility predicate. Rules that no longer decode are skipped.
func (s *Service) hideRules(ctx context.Context, viewer string) (filter.Expr, error) {
	stored, err := s.store.ListFilters(ctx, viewer)
	if err != nil {
		return nil, fmt.Errorf("list filters: %w", err)
	}
	rules := make([]filter.Expr, 0, len(stored))
	for _, f := range stored {
		g, err := filter.Decode([]byte(f.Rule))
		if err != nil {
			s.logger.Warn("skipping stored filter", "viewer", viewer, "filter", f.ID, "error", err)
			continue
		}
		rules = append(rules, filter.Compile(g))
	}
	return filter.Hide(rules...), nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	return min(limit, MaxLimit)
}

func normalizeLogins(raw []string) []string {
	out := make([]string, 0, len(raw))
	for _, l := range raw {
		if l = model.NormalizeLogin(l); l != "" {
			out = append(out, l)
		}
	}
	return out
}

// List returns one page of the viewer's feed, newest first.
func (s *Service) List(ctx context.Context, viewer string, opts ListOptions) (Page, error) {
	limit := clampLimit(opts.Limit)

	var after *storage.Position
	if opts.Cursor != "" {
		pos, err := DecodeCursor(opts.Cursor)
		if err != nil {
			return Page{}, err
		}
		after = &pos
	}

	where, err := s.hideRules(ctx, viewer)
	if err != nil {
		return Page{}, err
	}

	q := storage.ActivityQuery{
		Viewer:   viewer,
		Accounts: normalizeLogins(opts.Accounts),
		Types:    opts.Types,
		Where:    where,
		After:    after,
		Limit:    limit + 1,
	}
	items, err := s.store.QueryActivities(ctx, q)
	if err != nil {
		return Page{}, fmt.Errorf("query activities: %w", err)
	}

	page := Page{Items: items, Types: []string{}, TypeCounts: map[string]int{}}
	if len(items) > limit {
		page.Items = items[:limit]
		page.HasMore = true
		next := EncodeCursor(page.Items[limit-1])
		page.NextCursor = &next
	}

	if after == nil {
		q.Types = nil
		q.After = nil
		counts, err := s.store.CountActivityTypes(ctx, q)
		if err != nil {
			return Page{}, fmt.Errorf("count activity types: %w", err)
		}
		for _, c := range counts {
			page.Types = append(page.Types, c.Type)
			page.TypeCounts[c.Type] = c.Count
		}
	}
	return page, nil
}

// Follow subscribes the viewer to an account, creating the account on first use.
func (s *Service) Follow(ctx context.Context, viewer, raw string) (*model.Subscription, error) {
	if !model.ValidLogin(raw) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidLogin, raw)
	}
	login := model.NormalizeLogin(raw)

	if _, err := s.store.EnsureAccount(ctx, login); err != nil {
		return nil, fmt.Errorf("ensure account: %w", err)
	}
	sub := &model.Subscription{Viewer: viewer, AccountLogin: login}
	if err := s.store.CreateSubscription(ctx, sub); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return nil, fmt.Errorf("@%s: %w", login, ErrAlreadyFollowing)
		}
		return nil, fmt.Errorf("create subscription: %w", err)
	}
	s.logger.Info("account followed", "viewer", viewer, "login", login)
	return sub, nil
}

// Unfollow removes the viewer's subscription. Stored activity is kept.
func (s *Service) Unfollow(ctx context.Context, viewer, raw string) error {
	login := model.NormalizeLogin(raw)
	if err := s.store.DeleteSubscription(ctx, viewer, login); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("@%s: %w", login, ErrNotFollowing)
		}
		return fmt.Errorf("delete subscription: %w", err)
	}
	s.logger.Info("account unfollowed", "viewer", viewer, "login", login)
	return nil
}

// Subscriptions lists the viewer's subscriptions, newest first, with item
// counts under the viewer's filter rules.
func (s *Service) Subscriptions(ctx context.Context, viewer string) ([]model.SubscriptionView, error) {
	subs, err := s.store.ListSubscriptions(ctx, viewer)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	where, err := s.hideRules(ctx, viewer)
	if err != nil {
		return nil, err
	}
	stats, err := s.store.AccountStats(ctx, viewer, where)
	if err != nil {
		return nil, fmt.Errorf("account stats: %w", err)
	}
	for i := range subs {
		st := stats[subs[i].AccountLogin]
		subs[i].ItemCount = st.ItemCount
		subs[i].LatestEntryAt = st.LatestEntryAt
	}
	return subs, nil
}

// FollowedAccounts returns the accounts the viewer follows, least recently
// refreshed first.
func (s *Service) FollowedAccounts(ctx context.Context, viewer string) ([]model.Account, error) {
	accounts, err := s.store.ListFollowedAccounts(ctx, viewer)
	if err != nil {
		return nil, fmt.Errorf("list followed accounts: %w", err)
	}
	return accounts, nil
}

// Clear deletes the stored activity of every account the viewer follows and
// marks those accounts as never refreshed.
func (s *Service) Clear(ctx context.Context, viewer string) (int64, error) {
	accounts, err := s.FollowedAccounts(ctx, viewer)
	if err != nil {
		return 0, err
	}
	logins := make([]string, 0, len(accounts))
	for _, a := range accounts {
		logins = append(logins, a.Login)
	}
	n, err := s.store.DeleteActivitiesByAccounts(ctx, logins)
	if err != nil {
		return 0, fmt.Errorf("delete activities: %w", err)
	}
	if err := s.store.ResetRefreshMeta(ctx, logins); err != nil {
		return 0, fmt.Errorf("reset refresh meta: %w", err)
	}
	s.logger.Info("feed cleared", "viewer", viewer, "accounts", len(logins), "deleted", n)
	return n, nil
}

// Cleanup keeps the newest keep items of every account and deletes the rest.
func (s *Service) Cleanup(ctx context.Context, keep int) (int64, error) {
	if keep <= 0 {
		keep = DefaultKeepPerAccount
	}
	keep = min(keep, MaxKeepPerAccount)
	n, err := s.store.PruneActivities(ctx, keep)
	if err != nil {
		return 0, fmt.Errorf("prune activities: %w", err)
	}
	return n, nil
}

func toView(f model.StoredFilter) FilterView {
	return FilterView{StoredFilter: f, FilterRule: json.RawMessage(f.Rule)}
}

// Filters returns the viewer's filter rules, oldest first.
func (s *Service) Filters(ctx context.Context, viewer string) ([]FilterView, error) {
	stored, err := s.store.ListFilters(ctx, viewer)
	if err != nil {
		return nil, fmt.Errorf("list filters: %w", err)
	}
	views := make([]FilterView, 0, len(stored))
	for _, f := range stored {
		views = append(views, toView(f))
	}
	return views, nil
}

func validateName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || utf8.RuneCountInString(name) > MaxFilterNameLength {
		return "", fmt.Errorf("%w: name must be 1-%d characters", ErrInvalidFilter, MaxFilterNameLength)
	}
	return name, nil
}

func validateRule(rule []byte) (string, error) {
	g, err := filter.Decode(rule)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidFilter, err)
	}
	canonical, err := filter.Encode(g)
	if err != nil {
		return "", err
	}
	return string(canonical), nil
}

// CreateFilter stores a new hide rule for the viewer.
func (s *Service) CreateFilter(ctx context.Context, viewer, name string, rule []byte) (*FilterView, error) {
	name, err := validateName(name)
	if err != nil {
		return nil, err
	}
	encoded, err := validateRule(rule)
	if err != nil {
		return nil, err
	}
	f := &model.StoredFilter{Viewer: viewer, Name: name, Rule: encoded}
	if err := s.store.CreateFilter(ctx, f); err != nil {
		return nil, fmt.Errorf("create filter: %w", err)
	}
	v := toView(*f)
	return &v, nil
}

// UpdateFilter replaces the name and/or rule of a filter. Empty inputs keep
// the stored value.
func (s *Service) UpdateFilter(ctx context.Context, viewer, id, name string, rule []byte) (*FilterView, error) {
	f, err := s.store.GetFilter(ctx, viewer, id)
	if err != nil {
		return nil, fmt.Errorf("get filter: %w", err)
	}
	if name != "" {
		if f.Name, err = validateName(name); err != nil {
			return nil, err
		}
	}
	if len(rule) > 0 {
		if f.Rule, err = validateRule(rule); err != nil {
			return nil, err
		}
	}
	if err := s.store.UpdateFilter(ctx, f); err != nil {
		return nil, fmt.Errorf("update filter: %w", err)
	}
	v := toView(*f)
	return &v, nil
}

// DeleteFilter removes one of the viewer's filters.
func (s *Service) DeleteFilter(ctx context.Context, viewer, id string) error {
	if err := s.store.DeleteFilter(ctx, viewer, id); err != nil {
		return fmt.Errorf("delete filter: %w", err)
	}
	return nil
}

// HideType stores a rule hiding every item of one activity type.
func (s *Service) HideType(ctx context.Context, viewer, activityType string) (*FilterView, error) {
	activityType = strings.ToLower(strings.TrimSpace(activityType))
	if activityType == "" {
		return nil, fmt.Errorf("%w: empty type", ErrInvalidFilter)
	}
	rule, err := filter.Encode(filter.TypeRule(activityType))
	if err != nil {
		return nil, err
	}
	return s.CreateFilter(ctx, viewer, "Hide "+activityType, rule)
}

// FilterSchema describes the filterable fields.
func FilterSchema() SchemaView {
	ops := []string{
		filter.Equals, filter.NotEqual, filter.Contains, filter.NotContains,
		filter.StartsWith, filter.NotStartsWith, filter.EndsWith, filter.NotEndsWith,
		filter.IsEmpty, filter.IsNotEmpty, filter.Before, filter.After,
		filter.GreaterThan, filter.LessThan,
	}
	return SchemaView{
		Fields:    filter.Schema(),
		Operators: ops,
		Empty:     json.RawMessage(`{"id":"","type":"FilterGroup","op":"and","conditions":[],"invert":false}`),
	}
}

// ImportOPML follows every account feed URL found in src. Accounts the
// viewer already follows are counted as skipped.
func (s *Service) ImportOPML(ctx context.Context, viewer, src string) (ImportResult, error) {
	logins := ExtractLogins(src)
	res := ImportResult{Total: len(logins), Logins: []string{}}
	for _, login := range logins {
		_, err := s.Follow(ctx, viewer, login)
		switch {
		case err == nil:
			res.Added++
			res.Logins = append(res.Logins, login)
		case errors.Is(err, ErrAlreadyFollowing):
			res.Skipped++
		default:
			return res, fmt.Errorf("import %s: %w", login, err)
		}
	}
	return res, nil
}

// ExportOPML renders the viewer's subscriptions as an OPML 2.0 document
// with feed URLs under baseURL.
func (s *Service) ExportOPML(ctx context.Context, viewer, baseURL string) ([]byte, error) {
	subs, err := s.store.ListSubscriptions(ctx, viewer)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	logins := make([]string, 0, len(subs))
	for _, sub := range subs {
		logins = append(logins, sub.AccountLogin)
	}
	slices.Sort(logins)
	return renderOPML(strings.TrimRight(baseURL, "/"), logins)
}
