// Package parser turns raw account activity feeds into normalized activity items.
//
// Parsing is best-effort: a well-formed Atom document goes through gofeed,
// anything gofeed rejects is scanned entry by entry with a tolerant
// extractor. Entries that cannot yield a title are dropped; the document as a
// whole never fails.
package parser

import (
	"net/url"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/mmcdole/gofeed"

	"ghfeed/internal/model"
)

// SummaryLength is the maximum number of characters kept in a summary.
const SummaryLength = 220

var (
	typeRe        = regexp.MustCompile(`tag:[^,\s]+,\d+:([^/]+)`)
	repoInTitleRe = regexp.MustCompile(`([a-zA-Z0-9_.-]+/[a-zA-Z0-9_.-]+)`)
	externalIDRe  = regexp.MustCompile(`(?i)<media:thumbnail[^>]*url=["']https://avatars\.githubusercontent\.com/u/(\d+)`)
)

// Parser parses feed documents. The zero value is ready to use.
type Parser struct {
	// Now supplies the ingestion time used when an entry carries no
	// parseable timestamp. Defaults to time.Now.
	Now func() time.Time
}

// Parse parses doc with a zero Parser.
func Parse(doc, accountLogin string) []model.ActivityItem {
	var p Parser
	return p.Parse(doc, accountLogin)
}

// ExtractExternalID returns the numeric account id embedded in the feed's
// avatar thumbnail URL, or "" if there is none.
func ExtractExternalID(doc string) string {
	m := externalIDRe.FindStringSubmatch(doc)
	if m == nil {
		return ""
	}
	return m[1]
}

// rawEntry holds the fields of one entry before normalization.
// Text fields are already entity-decoded.
type rawEntry struct {
	id        string
	title     string
	link      string
	published *time.Time
	updated   *time.Time
	content   string
}

// Parse returns the activity items found in doc, owned by accountLogin.
func (p *Parser) Parse(doc, accountLogin string) []model.ActivityItem {
	entries, ok := strictEntries(doc)
	if !ok {
		entries = tolerantEntries(doc)
	}

	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	ingested := now().UTC()

	items := make([]model.ActivityItem, 0, len(entries))
	for _, e := range entries {
		item, ok := normalize(e, accountLogin, ingested)
		if !ok {
			continue
		}
		items = append(items, item)
	}
	return items
}

// strictEntries parses doc with gofeed. It reports false when gofeed rejects
// the document or finds no entries, so the tolerant scanner gets a chance.
func strictEntries(doc string) ([]rawEntry, bool) {
	feed, err := gofeed.NewParser().ParseString(doc)
	if err != nil || len(feed.Items) == 0 {
		return nil, false
	}

	entries := make([]rawEntry, 0, len(feed.Items))
	for _, it := range feed.Items {
		if it == nil {
			continue
		}
		link := strings.TrimSpace(it.Link)
		if link == "" && len(it.Links) > 0 {
			link = strings.TrimSpace(it.Links[0])
		}
		content := it.Content
		if strings.TrimSpace(content) == "" {
			content = it.Description
		}
		entries = append(entries, rawEntry{
			id:        strings.TrimSpace(it.GUID),
			title:     strings.TrimSpace(it.Title),
			link:      link,
			published: it.PublishedParsed,
			updated:   it.UpdatedParsed,
			content:   strings.TrimSpace(content),
		})
	}
	return entries, true
}

func normalize(e rawEntry, login string, ingested time.Time) (model.ActivityItem, bool) {
	if e.title == "" {
		return model.ActivityItem{}, false
	}

	id := e.id
	if id == "" {
		id = e.link
	}
	if id == "" {
		id = e.title
	}

	publishedAt := ingested
	switch {
	case e.published != nil:
		publishedAt = e.published.UTC()
	case e.updated != nil:
		publishedAt = e.updated.UTC()
	}

	repo := repoFromLink(e.link)
	if repo == "" {
		repo = repoFromTitle(e.title)
	}

	return model.ActivityItem{
		ID:           id,
		AccountLogin: login,
		Title:        e.title,
		Link:         e.link,
		Repo:         repo,
		Type:         typeFromID(id),
		Summary:      summarize(e.content),
		Content:      e.content,
		PublishedAt:  publishedAt,
	}, true
}

// typeFromID extracts the type token of a tag URI such as
// "tag:github.com,2008:PushEvent/123".
func typeFromID(id string) string {
	m := typeRe.FindStringSubmatch(id)
	if m == nil || m[1] == "" {
		return model.UnknownType
	}
	return strings.ToLower(m[1])
}

func repoFromLink(link string) string {
	if link == "" {
		return ""
	}
	u, err := url.Parse(link)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	var segments []string
	for _, s := range strings.Split(u.Path, "/") {
		if s != "" {
			segments = append(segments, s)
		}
	}
	if len(segments) < 2 {
		return ""
	}
	return segments[0] + "/" + segments[1]
}

func repoFromTitle(title string) string {
	return repoInTitleRe.FindString(title)
}

func summarize(content string) string {
	if content == "" {
		return ""
	}
	text := collapseWhitespace(plainText(content))
	return truncate(text, SummaryLength)
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
