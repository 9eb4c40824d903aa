package refresh

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"ghfeed/internal/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func loadFixture(t *testing.T) string {
	t.Helper()
	data, err := os.ReadFile("../parser/testdata/github.atom")
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}
	return string(data)
}

// fakeFetcher serves per-login behaviour.
type fakeFetcher struct {
	docs  map[string]string
	errs  map[string]error
	hang  map[string]bool          // block until ctx is done
	stuck map[string]chan struct{} // block until the channel is closed, ignoring ctx
}

func (f *fakeFetcher) Fetch(ctx context.Context, login string) (string, error) {
	if ch, ok := f.stuck[login]; ok {
		<-ch
		return "", errors.New("released")
	}
	if f.hang[login] {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if err, ok := f.errs[login]; ok {
		return "", err
	}
	return f.docs[login], nil
}

// countingFetcher records the peak number of concurrent fetches.
type countingFetcher struct {
	doc    string
	delay  time.Duration
	mu     sync.Mutex
	active int
	peak   int
}

func (f *countingFetcher) Fetch(ctx context.Context, _ string) (string, error) {
	f.mu.Lock()
	f.active++
	f.peak = max(f.peak, f.active)
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.active--
		f.mu.Unlock()
	}()

	select {
	case <-time.After(f.delay):
		return f.doc, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

type fakeStore struct {
	mu         sync.Mutex
	items      map[string]model.ActivityItem
	upserts    map[string]int
	failAfter  map[string]int
	meta       map[string]model.RefreshMeta
	accounts   map[string]model.Account
	subscribed map[string]bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		items:      make(map[string]model.ActivityItem),
		upserts:    make(map[string]int),
		failAfter:  make(map[string]int),
		meta:       make(map[string]model.RefreshMeta),
		accounts:   make(map[string]model.Account),
		subscribed: make(map[string]bool),
	}
}

func (s *fakeStore) UpsertActivities(_ context.Context, items []model.ActivityItem) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(items) == 0 {
		return 0, nil
	}
	login := items[0].AccountLogin
	s.upserts[login]++
	if limit, ok := s.failAfter[login]; ok && s.upserts[login] > limit {
		return 0, errors.New("disk full")
	}
	n := 0
	for _, it := range items {
		key := it.AccountLogin + "/" + it.ID
		if _, ok := s.items[key]; !ok {
			s.items[key] = it
			n++
		}
	}
	return n, nil
}

func (s *fakeStore) UpdateAccountRefreshMeta(_ context.Context, login string, meta model.RefreshMeta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.meta[login] = meta
	return nil
}

func (s *fakeStore) IsSubscribed(_ context.Context, viewer, login string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subscribed[viewer+"/"+login], nil
}

func (s *fakeStore) GetAccount(_ context.Context, login string) (*model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[login]
	if !ok {
		return nil, errors.New("not found")
	}
	return &a, nil
}

func (s *fakeStore) ListStaleAccounts(_ context.Context, limit int) ([]model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Account
	for _, a := range s.accounts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Login < out[j].Login })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func accounts(logins ...string) []model.Account {
	out := make([]model.Account, 0, len(logins))
	for _, l := range logins {
		out = append(out, model.Account{Login: l})
	}
	return out
}

func collect(ch <-chan model.RefreshEvent) []model.RefreshEvent {
	var events []model.RefreshEvent
	for ev := range ch {
		events = append(events, ev)
	}
	return events
}

// itemEvents returns the per-account events sorted by index.
func itemEvents(events []model.RefreshEvent) []model.RefreshEvent {
	var out []model.RefreshEvent
	for _, ev := range events {
		if ev.IsItemResult() {
			out = append(out, ev)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

func TestRefreshEmpty(t *testing.T) {
	c := New(newFakeStore(), &fakeFetcher{}, Config{}, testLogger())

	got := collect(c.Refresh(context.Background(), nil))

	want := []model.RefreshEvent{model.DoneEvent(nil)}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}
}

func TestRefreshBoundedFanOut(t *testing.T) {
	const maxInFlight = 3
	logins := make([]string, 40)
	for i := range logins {
		logins[i] = fmt.Sprintf("user%02d", i)
	}
	f := &countingFetcher{doc: loadFixture(t), delay: 10 * time.Millisecond}
	c := New(newFakeStore(), f, Config{MaxInFlight: maxInFlight, Deadline: 30 * time.Second}, testLogger())

	events := collect(c.Refresh(context.Background(), accounts(logins...)))
	c.Wait()

	items := itemEvents(events)
	if len(items) != len(logins) {
		t.Fatalf("got %d account results, want %d", len(items), len(logins))
	}
	for _, ev := range items {
		if ev.Type != model.EventSuccess {
			t.Errorf("account %s: %s %q", ev.Login, ev.Type, ev.Message)
		}
	}
	if last := events[len(events)-1]; last.Type != model.EventDone || len(last.Errors) != 0 {
		t.Errorf("last event = %+v, want done without errors", last)
	}

	f.mu.Lock()
	peak := f.peak
	f.mu.Unlock()
	if peak > maxInFlight {
		t.Errorf("peak concurrent fetches = %d, want at most %d", peak, maxInFlight)
	}
	if peak < 2 {
		t.Errorf("peak concurrent fetches = %d, fetches did not overlap", peak)
	}
}

func TestRefreshStream(t *testing.T) {
	doc := loadFixture(t)
	store := newFakeStore()
	fetcher := &fakeFetcher{
		docs: map[string]string{"alice": doc, "carol": doc},
		errs: map[string]error{"bob": errors.New("unexpected status 404")},
	}
	c := New(store, fetcher, Config{MaxInFlight: 2}, testLogger())

	events := collect(c.Refresh(context.Background(), accounts("alice", "bob", "carol")))
	c.Wait()

	if len(events) != 5 {
		t.Fatalf("got %d events, want 5: %+v", len(events), events)
	}
	if diff := cmp.Diff(model.StartEvent(3), events[0]); diff != "" {
		t.Errorf("first event mismatch (-want +got):\n%s", diff)
	}

	wantItems := []model.RefreshEvent{
		model.SuccessEvent("alice", 0, 3),
		model.ErrorEvent("bob", 1, "fetch bob: unexpected status 404"),
		model.SuccessEvent("carol", 2, 3),
	}
	if diff := cmp.Diff(wantItems, itemEvents(events)); diff != "" {
		t.Errorf("item events mismatch (-want +got):\n%s", diff)
	}

	wantDone := model.DoneEvent([]model.AccountError{{Login: "bob", Message: "fetch bob: unexpected status 404"}})
	if diff := cmp.Diff(wantDone, events[4]); diff != "" {
		t.Errorf("done event mismatch (-want +got):\n%s", diff)
	}

	if diff := cmp.Diff(6, len(store.items)); diff != "" {
		t.Errorf("stored items mismatch (-want +got):\n%s", diff)
	}
	if got := store.meta["alice"].ExternalID; got != "583231" {
		t.Errorf("alice external id = %q, want 583231", got)
	}
	if _, ok := store.meta["bob"]; ok {
		t.Error("failed account should not have refresh meta")
	}
}

func TestRefreshDeadline(t *testing.T) {
	doc := loadFixture(t)
	release := make(chan struct{})
	fetcher := &fakeFetcher{
		docs:  map[string]string{"fast": doc},
		hang:  map[string]bool{"slow": true},
		stuck: map[string]chan struct{}{"stuck": release},
	}
	c := New(newFakeStore(), fetcher, Config{
		AccountTimeout: 20 * time.Millisecond,
		Deadline:       300 * time.Millisecond,
	}, testLogger())

	events := collect(c.Refresh(context.Background(), accounts("fast", "slow", "stuck")))
	close(release)
	c.Wait()

	wantItems := []model.RefreshEvent{
		model.SuccessEvent("fast", 0, 3),
		model.ErrorEvent("slow", 1, "fetch slow: "+context.DeadlineExceeded.Error()),
		model.ErrorEvent("stuck", 2, DeadlineMessage),
	}
	if diff := cmp.Diff(wantItems, itemEvents(events)); diff != "" {
		t.Errorf("item events mismatch (-want +got):\n%s", diff)
	}

	last := events[len(events)-1]
	if last.Type != model.EventDone {
		t.Fatalf("last event = %s, want done", last.Type)
	}
	if len(last.Errors) != 2 {
		t.Errorf("done errors = %+v, want 2 entries", last.Errors)
	}
}

func TestRefreshDeadlineUndispatched(t *testing.T) {
	release := make(chan struct{})
	fetcher := &fakeFetcher{stuck: map[string]chan struct{}{"a": release}}
	c := New(newFakeStore(), fetcher, Config{MaxInFlight: 1, Deadline: 50 * time.Millisecond}, testLogger())

	events := collect(c.Refresh(context.Background(), accounts("a", "b", "c")))
	close(release)
	c.Wait()

	wantItems := []model.RefreshEvent{
		model.ErrorEvent("a", 0, DeadlineMessage),
		model.ErrorEvent("b", 1, DeadlineMessage),
		model.ErrorEvent("c", 2, DeadlineMessage),
	}
	if diff := cmp.Diff(wantItems, itemEvents(events)); diff != "" {
		t.Errorf("item events mismatch (-want +got):\n%s", diff)
	}
	if events[len(events)-1].Type != model.EventDone {
		t.Errorf("last event = %s, want done", events[len(events)-1].Type)
	}
}

func TestRefreshCallerCancel(t *testing.T) {
	fetcher := &fakeFetcher{hang: map[string]bool{"a": true, "b": true}}
	c := New(newFakeStore(), fetcher, Config{}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	ch := c.Refresh(ctx, accounts("a", "b"))

	first := <-ch
	if first.Type != model.EventStart {
		t.Fatalf("first event = %s, want start", first.Type)
	}
	cancel()

	for ev := range ch {
		if ev.Type == model.EventDone {
			t.Errorf("got done event after cancellation")
		}
	}
	c.Wait()
}

func TestRefreshPersistenceFailure(t *testing.T) {
	doc := loadFixture(t)
	store := newFakeStore()
	store.failAfter["bad"] = 1
	fetcher := &fakeFetcher{docs: map[string]string{"good": doc, "bad": doc}}
	c := New(store, fetcher, Config{ChunkSize: 1}, testLogger())

	events := collect(c.Refresh(context.Background(), accounts("good", "bad")))
	c.Wait()

	wantItems := []model.RefreshEvent{
		model.SuccessEvent("good", 0, 3),
		model.ErrorEvent("bad", 1, "store bad: disk full"),
	}
	if diff := cmp.Diff(wantItems, itemEvents(events)); diff != "" {
		t.Errorf("item events mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(2, store.upserts["bad"]); diff != "" {
		t.Errorf("upsert calls for failing account mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(3, store.upserts["good"]); diff != "" {
		t.Errorf("upsert calls for healthy account mismatch (-want +got):\n%s", diff)
	}
}

func TestRefreshKeepsExternalID(t *testing.T) {
	doc := loadFixture(t)
	store := newFakeStore()
	c := New(store, &fakeFetcher{docs: map[string]string{"known": doc}}, Config{}, testLogger())

	collect(c.Refresh(context.Background(), []model.Account{{Login: "known", ExternalID: "7"}}))
	c.Wait()

	if got := store.meta["known"].ExternalID; got != "" {
		t.Errorf("external id update = %q, want none", got)
	}
}

func TestRefreshOne(t *testing.T) {
	doc := loadFixture(t)
	store := newFakeStore()
	store.accounts["octocat"] = model.Account{Login: "octocat"}
	store.subscribed["v/octocat"] = true
	c := New(store, &fakeFetcher{docs: map[string]string{"octocat": doc}}, Config{}, testLogger())
	ctx := context.Background()

	if _, err := c.RefreshOne(ctx, "other", "octocat"); !errors.Is(err, ErrNotSubscribed) {
		t.Fatalf("RefreshOne(not subscribed) error = %v, want ErrNotSubscribed", err)
	}

	got, err := c.RefreshOne(ctx, "v", "octocat")
	if err != nil {
		t.Fatalf("RefreshOne() error: %v", err)
	}
	if diff := cmp.Diff(OneResult{Login: "octocat", ItemCount: 3, Inserted: 3}, got); diff != "" {
		t.Errorf("RefreshOne() mismatch (-want +got):\n%s", diff)
	}

	got, err = c.RefreshOne(ctx, "v", "octocat")
	if err != nil {
		t.Fatalf("RefreshOne() error: %v", err)
	}
	if diff := cmp.Diff(OneResult{Login: "octocat", ItemCount: 3, Inserted: 0}, got); diff != "" {
		t.Errorf("second RefreshOne() mismatch (-want +got):\n%s", diff)
	}
}

func TestRefreshStale(t *testing.T) {
	doc := loadFixture(t)
	store := newFakeStore()
	for _, l := range []string{"a", "b", "c"} {
		store.accounts[l] = model.Account{Login: l}
	}
	fetcher := &fakeFetcher{
		docs: map[string]string{"a": doc, "b": doc},
		errs: map[string]error{"c": errors.New("boom")},
	}
	c := New(store, fetcher, Config{}, testLogger())

	got, err := c.RefreshStale(context.Background(), 10)
	if err != nil {
		t.Fatalf("RefreshStale() error: %v", err)
	}
	if diff := cmp.Diff(StaleResult{Succeeded: 2, Failed: 1}, got); diff != "" {
		t.Errorf("RefreshStale() mismatch (-want +got):\n%s", diff)
	}
}
