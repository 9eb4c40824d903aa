package bot

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"ghfeed/internal/feed"
	"ghfeed/internal/model"
	"ghfeed/internal/render"
)

const (
	timeLayout    = "2006-01-02 15:04 UTC"
	maxBodyRunes  = 300
	noAccountsMsg = "You are not following anyone yet. Use /follow <login>."
)

// Progress accumulates refresh events into a status line.
type Progress struct {
	Total    int
	Done     int
	Failed   int
	Items    int
	Errors   []model.AccountError
	Finished bool
}

// Apply records one refresh event.
func (p *Progress) Apply(ev model.RefreshEvent) {
	switch ev.Type {
	case model.EventStart:
		p.Total = ev.Total
	case model.EventSuccess:
		p.Done++
		p.Items += ev.ItemCount
	case model.EventError:
		p.Done++
		p.Failed++
	case model.EventDone:
		p.Finished = true
		p.Errors = ev.Errors
	}
}

func (p *Progress) String() string {
	if !p.Finished {
		return fmt.Sprintf("Refreshing %d accounts: %d/%d done, %d failed.", p.Total, p.Done, p.Total, p.Failed)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Refresh finished: %d succeeded, %d failed, %d items fetched.",
		p.Done-p.Failed, p.Failed, p.Items)
	if len(p.Errors) > 0 {
		b.WriteString("\n\nErrors:")
		for _, e := range p.Errors {
			fmt.Fprintf(&b, "\n@%s: %s", e.Login, e.Message)
		}
	}
	return b.String()
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return strings.TrimSpace(string(r[:n])) + "..."
}

// FormatItem formats one activity item. Content is rendered to Markdown
// when present, otherwise the plain summary is used.
func FormatItem(item model.ActivityItem, md *render.Markdown) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s]", item.Type)
	if item.Repo != "" {
		fmt.Fprintf(&b, " %s", item.Repo)
	}
	fmt.Fprintf(&b, "\n%s\n@%s, %s", item.Title, item.AccountLogin, item.PublishedAt.UTC().Format(timeLayout))

	body := ""
	if item.Content != "" && md != nil {
		body = md.Convert(item.Content)
	}
	if body == "" {
		body = item.Summary
	}
	if body != "" && body != item.Title {
		b.WriteString("\n\n")
		b.WriteString(truncate(body, maxBodyRunes))
	}
	if item.Link != "" {
		b.WriteString("\n")
		b.WriteString(item.Link)
	}
	return b.String()
}

// FormatPage formats a page of items as one message.
func FormatPage(items []model.ActivityItem, md *render.Markdown) string {
	parts := make([]string, 0, len(items))
	for _, it := range items {
		parts = append(parts, FormatItem(it, md))
	}
	return strings.Join(parts, "\n\n\n")
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return t.UTC().Format(timeLayout)
}

// FormatSubscriptions formats the followed accounts with their item counts.
func FormatSubscriptions(subs []model.SubscriptionView) string {
	if len(subs) == 0 {
		return noAccountsMsg
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Following %d accounts:\n", len(subs))
	for _, s := range subs {
		fmt.Fprintf(&b, "\n@%s  %d items\n", s.AccountLogin, s.ItemCount)
		if s.LatestEntryAt != nil {
			fmt.Fprintf(&b, "   latest: %s\n", formatTime(s.LatestEntryAt))
		}
		fmt.Fprintf(&b, "   refreshed: %s\n", formatTime(s.LastRefreshedAt))
	}
	return b.String()
}

// FormatTypes formats the activity type facet.
func FormatTypes(types []string, counts map[string]int) string {
	if len(types) == 0 {
		return "No activity yet."
	}
	var b strings.Builder
	b.WriteString("Activity types:\n")
	for _, t := range types {
		fmt.Fprintf(&b, "\n%s: %d", t, counts[t])
	}
	b.WriteString("\n\nUse /feed <type> to read one type or /hide <type> to hide it.")
	return b.String()
}

// FormatFilters formats the viewer's hide rules.
func FormatFilters(filters []feed.FilterView) string {
	if len(filters) == 0 {
		return "No hide rules. Use /hide <type> or /hiderule <name> <json>."
	}
	var b strings.Builder
	b.WriteString("Hide rules:\n")
	for _, f := range filters {
		fmt.Fprintf(&b, "\n%s\n   id: %s\n   %s\n", f.Name, f.ID, truncate(string(f.FilterRule), maxBodyRunes))
	}
	return b.String()
}
