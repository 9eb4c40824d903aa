package parser

import (
	"regexp"
	"strings"
	"time"

	"golang.org/x/net/html"
)

var (
	entryRe      = regexp.MustCompile(`(?is)<entry(?:\s[^>]*)?>.*?</entry\s*>`)
	cdataRe      = regexp.MustCompile(`(?s)^<!\[CDATA\[(.*)\]\]>$`)
	altLinkRe    = regexp.MustCompile(`(?is)<link[^>]*rel=["']alternate["'][^>]*href=["']([^"']+)["']`)
	altLinkRevRe = regexp.MustCompile(`(?is)<link[^>]*href=["']([^"']+)["'][^>]*rel=["']alternate["']`)
	anyLinkRe    = regexp.MustCompile(`(?is)<link[^>]*href=["']([^"']+)["']`)
	wsRe         = regexp.MustCompile(`\s+`)

	tagRes = map[string]*regexp.Regexp{}
)

func init() {
	for _, tag := range []string{"id", "title", "published", "updated", "content", "summary"} {
		tagRes[tag] = regexp.MustCompile(`(?is)<` + tag + `(?:\s[^>]*)?>(.*?)</` + tag + `\s*>`)
	}
}

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05Z0700",
	"2006-01-02T15:04:05",
	time.RFC1123Z,
	time.RFC1123,
	"2006-01-02",
}

// tolerantEntries scans doc for entry fragments and extracts fields from
// each one independently.
func tolerantEntries(doc string) []rawEntry {
	fragments := entryRe.FindAllString(doc, -1)
	entries := make([]rawEntry, 0, len(fragments))
	for _, frag := range fragments {
		content := tagValue(frag, "content")
		if content == "" {
			content = tagValue(frag, "summary")
		}
		entries = append(entries, rawEntry{
			id:        decodeEntities(tagValue(frag, "id")),
			title:     decodeEntities(tagValue(frag, "title")),
			link:      decodeEntities(linkHref(frag)),
			published: parseTime(tagValue(frag, "published")),
			updated:   parseTime(tagValue(frag, "updated")),
			content:   decodeEntities(content),
		})
	}
	return entries
}

func tagValue(src, tag string) string {
	m := tagRes[tag].FindStringSubmatch(src)
	if m == nil {
		return ""
	}
	v := strings.TrimSpace(m[1])
	if c := cdataRe.FindStringSubmatch(v); c != nil {
		v = strings.TrimSpace(c[1])
	}
	return v
}

func linkHref(src string) string {
	for _, re := range []*regexp.Regexp{altLinkRe, altLinkRevRe, anyLinkRe} {
		if m := re.FindStringSubmatch(src); m != nil {
			return strings.TrimSpace(m[1])
		}
	}
	return ""
}

func parseTime(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}

// decodeEntities resolves named, decimal and hex character references.
func decodeEntities(s string) string {
	if !strings.Contains(s, "&") {
		return s
	}
	return html.UnescapeString(s)
}

// plainText returns the text content of an HTML fragment with every tag
// replaced by a space.
func plainText(fragment string) string {
	z := html.NewTokenizer(strings.NewReader(fragment))
	var b strings.Builder
	for {
		switch z.Next() {
		case html.ErrorToken:
			return b.String()
		case html.TextToken:
			b.Write(z.Text())
		case html.StartTagToken, html.EndTagToken, html.SelfClosingTagToken:
			b.WriteByte(' ')
		}
	}
}

func collapseWhitespace(s string) string {
	return strings.TrimSpace(wsRe.ReplaceAllString(s, " "))
}
