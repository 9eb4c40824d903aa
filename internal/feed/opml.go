package feed

import (
	"encoding/xml"
	"fmt"
	"regexp"

	"ghfeed/internal/model"
)

var atomLinkRe = regexp.MustCompile(`(?i)https?://github\.com/([A-Z0-9-]+)\.atom\b`)

// ExtractLogins returns the normalized, valid, de-duplicated logins of every
// account feed URL found in src, in order of first appearance.
func ExtractLogins(src string) []string {
	seen := make(map[string]bool)
	logins := []string{}
	for _, m := range atomLinkRe.FindAllStringSubmatch(src, -1) {
		if !model.ValidLogin(m[1]) {
			continue
		}
		login := model.NormalizeLogin(m[1])
		if seen[login] {
			continue
		}
		seen[login] = true
		logins = append(logins, login)
	}
	return logins
}

type opmlDoc struct {
	XMLName xml.Name      `xml:"opml"`
	Version string        `xml:"version,attr"`
	Title   string        `xml:"head>title"`
	Body    []opmlOutline `xml:"body>outline"`
}

type opmlOutline struct {
	Text    string `xml:"text,attr"`
	Title   string `xml:"title,attr"`
	Type    string `xml:"type,attr"`
	XMLURL  string `xml:"xmlUrl,attr"`
	HTMLURL string `xml:"htmlUrl,attr"`
}

func renderOPML(baseURL string, logins []string) ([]byte, error) {
	doc := opmlDoc{Version: "2.0", Title: "ghfeed subscriptions", Body: []opmlOutline{}}
	for _, login := range logins {
		doc.Body = append(doc.Body, opmlOutline{
			Text:    login,
			Title:   login,
			Type:    "rss",
			XMLURL:  baseURL + "/" + login + ".atom",
			HTMLURL: baseURL + "/" + login,
		})
	}
	out, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal opml: %w", err)
	}
	return append([]byte(xml.Header), out...), nil
}
