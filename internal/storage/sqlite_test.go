package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"ghfeed/internal/filter"
	"ghfeed/internal/model"
)

var ignoreItemCreated = cmpopts.IgnoreFields(model.ActivityItem{}, "CreatedAt")

func newTestDB(t *testing.T) *SQLite {
	t.Helper()
	s, err := NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func follow(t *testing.T, s *SQLite, viewer string, logins ...string) {
	t.Helper()
	ctx := context.Background()
	for _, login := range logins {
		if _, err := s.EnsureAccount(ctx, login); err != nil {
			t.Fatalf("ensure account %s: %v", login, err)
		}
		if err := s.CreateSubscription(ctx, &model.Subscription{Viewer: viewer, AccountLogin: login}); err != nil {
			t.Fatalf("subscribe %s: %v", login, err)
		}
	}
}

func at(minute int) time.Time {
	return time.Date(2026, 1, 1, 12, minute, 0, 0, time.UTC)
}

func item(login, id, typ string, published time.Time) model.ActivityItem {
	return model.ActivityItem{
		ID:           id,
		AccountLogin: login,
		Title:        login + " did " + id,
		Type:         typ,
		PublishedAt:  published,
	}
}

func ids(items []model.ActivityItem) []string {
	out := []string{}
	for _, it := range items {
		out = append(out, it.AccountLogin+"/"+it.ID)
	}
	return out
}

func TestUpsertActivities(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)
	follow(t, s, "v", "alice")

	first := []model.ActivityItem{
		{
			ID: "1", AccountLogin: "alice", Title: "alice pushed", Link: "https://github.com/a/b",
			Repo: "a/b", Type: "pushevent", Summary: "s", Content: "<p>c</p>", PublishedAt: at(1),
		},
		item("alice", "2", "watchevent", at(2)),
	}
	n, err := s.UpsertActivities(ctx, first)
	if err != nil {
		t.Fatalf("UpsertActivities() error: %v", err)
	}
	if n != 2 {
		t.Errorf("inserted = %d, want 2", n)
	}

	changed := item("alice", "1", "pushevent", at(9))
	changed.Title = "rewritten"
	n, err = s.UpsertActivities(ctx, []model.ActivityItem{changed, item("alice", "3", "forkevent", at(3))})
	if err != nil {
		t.Fatalf("UpsertActivities() error: %v", err)
	}
	if n != 1 {
		t.Errorf("inserted = %d, want 1", n)
	}

	got, err := s.QueryActivities(ctx, ActivityQuery{Viewer: "v"})
	if err != nil {
		t.Fatalf("QueryActivities() error: %v", err)
	}
	want := []model.ActivityItem{
		item("alice", "3", "forkevent", at(3)),
		item("alice", "2", "watchevent", at(2)),
		first[0],
	}
	if diff := cmp.Diff(want, got, ignoreItemCreated); diff != "" {
		t.Errorf("QueryActivities() mismatch (-want +got):\n%s", diff)
	}
}

func TestQueryActivitiesOrderAndCursor(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)
	follow(t, s, "v", "alice", "bob")
	follow(t, s, "other", "carol")

	items := []model.ActivityItem{
		item("alice", "a1", "pushevent", at(5)),
		item("bob", "b1", "pushevent", at(5)),
		item("bob", "b2", "watchevent", at(5)),
		item("alice", "a2", "watchevent", at(4)),
		item("carol", "c1", "pushevent", at(6)),
	}
	if _, err := s.UpsertActivities(ctx, items); err != nil {
		t.Fatalf("UpsertActivities() error: %v", err)
	}

	tests := []struct {
		name string
		q    ActivityQuery
		want []string
	}{
		{
			name: "all followed in total order",
			q:    ActivityQuery{Viewer: "v"},
			want: []string{"bob/b2", "bob/b1", "alice/a1", "alice/a2"},
		},
		{
			name: "limit",
			q:    ActivityQuery{Viewer: "v", Limit: 2},
			want: []string{"bob/b2", "bob/b1"},
		},
		{
			name: "after position breaks ties",
			q: ActivityQuery{Viewer: "v", After: &Position{
				PublishedAt: at(5), AccountLogin: "bob", ID: "b1",
			}},
			want: []string{"alice/a1", "alice/a2"},
		},
		{
			name: "time only position is strict",
			q:    ActivityQuery{Viewer: "v", After: &Position{PublishedAt: at(5), TimeOnly: true}},
			want: []string{"alice/a2"},
		},
		{
			name: "account filter",
			q:    ActivityQuery{Viewer: "v", Accounts: []string{"alice", "carol"}},
			want: []string{"alice/a1", "alice/a2"},
		},
		{
			name: "type filter",
			q:    ActivityQuery{Viewer: "v", Types: []string{"watchevent"}},
			want: []string{"bob/b2", "alice/a2"},
		},
		{
			name: "where expression",
			q: ActivityQuery{Viewer: "v", Where: filter.Hide(filter.Compile(
				&filter.Condition{Field: "githubUserLogin", Operator: filter.Equals, Arg: filter.String("bob")},
			))},
			want: []string{"alice/a1", "alice/a2"},
		},
		{
			name: "unknown viewer",
			q:    ActivityQuery{Viewer: "nobody"},
			want: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.QueryActivities(ctx, tt.q)
			if err != nil {
				t.Fatalf("QueryActivities() error: %v", err)
			}
			if diff := cmp.Diff(tt.want, ids(got)); diff != "" {
				t.Errorf("QueryActivities() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestCountActivityTypes(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)
	follow(t, s, "v", "alice")

	items := []model.ActivityItem{
		item("alice", "1", "pushevent", at(1)),
		item("alice", "2", "pushevent", at(2)),
		item("alice", "3", "watchevent", at(3)),
		item("alice", "4", "issuesevent", at(4)),
	}
	if _, err := s.UpsertActivities(ctx, items); err != nil {
		t.Fatalf("UpsertActivities() error: %v", err)
	}

	hideIssues := filter.Hide(filter.Compile(filter.TypeRule("issuesevent")))
	got, err := s.CountActivityTypes(ctx, ActivityQuery{
		Viewer: "v",
		Types:  []string{"watchevent"},
		Where:  hideIssues,
	})
	if err != nil {
		t.Fatalf("CountActivityTypes() error: %v", err)
	}

	want := []TypeCount{{Type: "pushevent", Count: 2}, {Type: "watchevent", Count: 1}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("CountActivityTypes() mismatch (-want +got):\n%s", diff)
	}
}

func TestAccountStats(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)
	follow(t, s, "v", "alice", "bob")

	items := []model.ActivityItem{
		item("alice", "1", "pushevent", at(1)),
		item("alice", "2", "watchevent", at(7)),
	}
	if _, err := s.UpsertActivities(ctx, items); err != nil {
		t.Fatalf("UpsertActivities() error: %v", err)
	}

	hideWatch := filter.Hide(filter.Compile(filter.TypeRule("watchevent")))
	got, err := s.AccountStats(ctx, "v", hideWatch)
	if err != nil {
		t.Fatalf("AccountStats() error: %v", err)
	}

	latest := at(1)
	want := map[string]AccountStat{
		"alice": {Login: "alice", ItemCount: 1, LatestEntryAt: &latest},
		"bob":   {Login: "bob", ItemCount: 0},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("AccountStats() mismatch (-want +got):\n%s", diff)
	}
}

func TestPruneActivities(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)
	follow(t, s, "v", "alice", "bob")

	var items []model.ActivityItem
	for i := 1; i <= 4; i++ {
		items = append(items, item("alice", string(rune('a'+i)), "pushevent", at(i)))
	}
	items = append(items, item("bob", "x", "pushevent", at(1)))
	if _, err := s.UpsertActivities(ctx, items); err != nil {
		t.Fatalf("UpsertActivities() error: %v", err)
	}

	deleted, err := s.PruneActivities(ctx, 2)
	if err != nil {
		t.Fatalf("PruneActivities() error: %v", err)
	}
	if deleted != 2 {
		t.Errorf("deleted = %d, want 2", deleted)
	}

	got, err := s.QueryActivities(ctx, ActivityQuery{Viewer: "v"})
	if err != nil {
		t.Fatalf("QueryActivities() error: %v", err)
	}
	if diff := cmp.Diff([]string{"alice/e", "alice/d", "bob/x"}, ids(got)); diff != "" {
		t.Errorf("remaining mismatch (-want +got):\n%s", diff)
	}
}

func TestAccountsAndRefreshMeta(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)
	follow(t, s, "v", "alice", "bob", "carol")
	if _, err := s.EnsureAccount(ctx, "unfollowed"); err != nil {
		t.Fatalf("EnsureAccount() error: %v", err)
	}

	if err := s.UpdateAccountRefreshMeta(ctx, "alice", model.RefreshMeta{LastRefreshedAt: at(10), ExternalID: "42"}); err != nil {
		t.Fatalf("UpdateAccountRefreshMeta() error: %v", err)
	}
	if err := s.UpdateAccountRefreshMeta(ctx, "alice", model.RefreshMeta{LastRefreshedAt: at(20)}); err != nil {
		t.Fatalf("UpdateAccountRefreshMeta() error: %v", err)
	}
	if err := s.UpdateAccountRefreshMeta(ctx, "bob", model.RefreshMeta{LastRefreshedAt: at(5)}); err != nil {
		t.Fatalf("UpdateAccountRefreshMeta() error: %v", err)
	}

	alice, err := s.GetAccount(ctx, "alice")
	if err != nil {
		t.Fatalf("GetAccount() error: %v", err)
	}
	if alice.ExternalID != "42" {
		t.Errorf("external id = %q, want 42", alice.ExternalID)
	}
	if alice.LastRefreshedAt == nil || !alice.LastRefreshedAt.Equal(at(20)) {
		t.Errorf("last refreshed = %v, want %v", alice.LastRefreshedAt, at(20))
	}

	stale, err := s.ListStaleAccounts(ctx, 10)
	if err != nil {
		t.Fatalf("ListStaleAccounts() error: %v", err)
	}
	var logins []string
	for _, a := range stale {
		logins = append(logins, a.Login)
	}
	if diff := cmp.Diff([]string{"carol", "bob", "alice"}, logins); diff != "" {
		t.Errorf("ListStaleAccounts() mismatch (-want +got):\n%s", diff)
	}

	if err := s.ResetRefreshMeta(ctx, []string{"alice"}); err != nil {
		t.Fatalf("ResetRefreshMeta() error: %v", err)
	}
	alice, err = s.GetAccount(ctx, "alice")
	if err != nil {
		t.Fatalf("GetAccount() error: %v", err)
	}
	if alice.LastRefreshedAt != nil {
		t.Errorf("last refreshed = %v, want nil", alice.LastRefreshedAt)
	}

	if _, err := s.GetAccount(ctx, "ghost"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetAccount(ghost) error = %v, want ErrNotFound", err)
	}
	if err := s.UpdateAccountRefreshMeta(ctx, "ghost", model.RefreshMeta{LastRefreshedAt: at(1)}); !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateAccountRefreshMeta(ghost) error = %v, want ErrNotFound", err)
	}
}

func TestSubscriptions(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)
	follow(t, s, "v", "bob", "alice")

	err := s.CreateSubscription(ctx, &model.Subscription{Viewer: "v", AccountLogin: "alice"})
	if !errors.Is(err, ErrConflict) {
		t.Errorf("duplicate CreateSubscription() error = %v, want ErrConflict", err)
	}

	ok, err := s.IsSubscribed(ctx, "v", "alice")
	if err != nil || !ok {
		t.Errorf("IsSubscribed(v, alice) = %v, %v; want true", ok, err)
	}
	ok, err = s.IsSubscribed(ctx, "w", "alice")
	if err != nil || ok {
		t.Errorf("IsSubscribed(w, alice) = %v, %v; want false", ok, err)
	}

	views, err := s.ListSubscriptions(ctx, "v")
	if err != nil {
		t.Fatalf("ListSubscriptions() error: %v", err)
	}
	var logins []string
	for _, v := range views {
		logins = append(logins, v.AccountLogin)
		if v.ID == "" {
			t.Errorf("subscription %s has no id", v.AccountLogin)
		}
	}
	if diff := cmp.Diff([]string{"alice", "bob"}, logins); diff != "" {
		t.Errorf("ListSubscriptions() mismatch (-want +got):\n%s", diff)
	}

	accounts, err := s.ListFollowedAccounts(ctx, "v")
	if err != nil {
		t.Fatalf("ListFollowedAccounts() error: %v", err)
	}
	if len(accounts) != 2 {
		t.Errorf("ListFollowedAccounts() = %d accounts, want 2", len(accounts))
	}

	if err := s.DeleteSubscription(ctx, "v", "alice"); err != nil {
		t.Fatalf("DeleteSubscription() error: %v", err)
	}
	if err := s.DeleteSubscription(ctx, "v", "alice"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second DeleteSubscription() error = %v, want ErrNotFound", err)
	}
}

func TestDeleteActivitiesByAccounts(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)
	follow(t, s, "v", "alice", "bob")

	items := []model.ActivityItem{
		item("alice", "1", "pushevent", at(1)),
		item("bob", "2", "pushevent", at(2)),
	}
	if _, err := s.UpsertActivities(ctx, items); err != nil {
		t.Fatalf("UpsertActivities() error: %v", err)
	}

	n, err := s.DeleteActivitiesByAccounts(ctx, []string{"alice"})
	if err != nil {
		t.Fatalf("DeleteActivitiesByAccounts() error: %v", err)
	}
	if n != 1 {
		t.Errorf("deleted = %d, want 1", n)
	}

	got, err := s.QueryActivities(ctx, ActivityQuery{Viewer: "v"})
	if err != nil {
		t.Fatalf("QueryActivities() error: %v", err)
	}
	if diff := cmp.Diff([]string{"bob/2"}, ids(got)); diff != "" {
		t.Errorf("remaining mismatch (-want +got):\n%s", diff)
	}
}

func TestFilterCRUD(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)

	f := model.StoredFilter{Viewer: "v", Name: "no pushes", Rule: `{"type":"FilterGroup"}`}
	if err := s.CreateFilter(ctx, &f); err != nil {
		t.Fatalf("CreateFilter() error: %v", err)
	}
	if f.ID == "" {
		t.Fatal("CreateFilter() did not assign an id")
	}

	got, err := s.GetFilter(ctx, "v", f.ID)
	if err != nil {
		t.Fatalf("GetFilter() error: %v", err)
	}
	if diff := cmp.Diff(f, *got); diff != "" {
		t.Errorf("GetFilter() mismatch (-want +got):\n%s", diff)
	}

	if _, err := s.GetFilter(ctx, "someone-else", f.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetFilter(other viewer) error = %v, want ErrNotFound", err)
	}

	f.Name = "renamed"
	if err := s.UpdateFilter(ctx, &f); err != nil {
		t.Fatalf("UpdateFilter() error: %v", err)
	}
	list, err := s.ListFilters(ctx, "v")
	if err != nil {
		t.Fatalf("ListFilters() error: %v", err)
	}
	if len(list) != 1 || list[0].Name != "renamed" {
		t.Errorf("ListFilters() = %+v, want one renamed filter", list)
	}

	missing := model.StoredFilter{ID: "nope", Viewer: "v"}
	if err := s.UpdateFilter(ctx, &missing); !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateFilter(missing) error = %v, want ErrNotFound", err)
	}

	if err := s.DeleteFilter(ctx, "v", f.ID); err != nil {
		t.Fatalf("DeleteFilter() error: %v", err)
	}
	if err := s.DeleteFilter(ctx, "v", f.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second DeleteFilter() error = %v, want ErrNotFound", err)
	}
}
