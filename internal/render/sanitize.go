// Package render turns stored activity HTML into safe HTML for the web and
// Markdown for chat clients.
package render

import (
	"net/url"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Elements dropped together with their children.
var droppedTags = map[atom.Atom]bool{
	atom.Base:     true,
	atom.Embed:    true,
	atom.Form:     true,
	atom.Frame:    true,
	atom.Iframe:   true,
	atom.Input:    true,
	atom.Link:     true,
	atom.Meta:     true,
	atom.Noscript: true,
	atom.Object:   true,
	atom.Script:   true,
	atom.Style:    true,
	atom.Template: true,
	atom.Textarea: true,
}

var urlAttrs = map[string]bool{
	"href": true, "src": true, "poster": true, "cite": true,
	"action": true, "formaction": true, "data": true,
}

// Schemes a sanitized URL may carry. Relative references have none.
var allowedSchemes = map[string]bool{"": true, "http": true, "https": true, "mailto": true}

// Sanitizer strips active content from HTML fragments and resolves
// relative links against a base URL.
type Sanitizer struct {
	base *url.URL
}

// NewSanitizer returns a Sanitizer resolving relative URLs against baseURL.
// An unparsable or empty base leaves relative URLs as they are.
func NewSanitizer(baseURL string) *Sanitizer {
	s := &Sanitizer{}
	if u, err := url.Parse(baseURL); err == nil && u.IsAbs() {
		s.base = u
	}
	return s
}

// Sanitize returns fragment with scripts, frames, forms, event handlers and
// unsafe URLs removed. Links open in a new tab.
func (s *Sanitizer) Sanitize(fragment string) string {
	fragment = strings.TrimSpace(fragment)
	if fragment == "" {
		return ""
	}

	ctx := &html.Node{Type: html.ElementNode, Data: "div", DataAtom: atom.Div}
	nodes, err := html.ParseFragment(strings.NewReader(fragment), ctx)
	if err != nil {
		return html.EscapeString(fragment)
	}

	var b strings.Builder
	for _, n := range nodes {
		if clean := s.clean(n); clean != nil {
			_ = html.Render(&b, clean)
		}
	}
	return strings.TrimSpace(b.String())
}

func (s *Sanitizer) clean(n *html.Node) *html.Node {
	switch n.Type {
	case html.TextNode:
		return &html.Node{Type: html.TextNode, Data: n.Data}
	case html.ElementNode:
		if droppedTags[n.DataAtom] {
			return nil
		}
		out := &html.Node{Type: html.ElementNode, Data: n.Data, DataAtom: n.DataAtom, Namespace: n.Namespace}
		for _, a := range n.Attr {
			key := strings.ToLower(a.Key)
			if strings.HasPrefix(key, "on") || key == "style" || key == "srcdoc" || key == "target" || key == "rel" || key == "srcset" {
				continue
			}
			if urlAttrs[key] {
				v, ok := s.safeURL(a.Val, n.DataAtom, key)
				if !ok {
					continue
				}
				a.Val = v
			}
			out.Attr = append(out.Attr, html.Attribute{Key: key, Val: a.Val})
		}
		if n.DataAtom == atom.A {
			out.Attr = append(out.Attr,
				html.Attribute{Key: "target", Val: "_blank"},
				html.Attribute{Key: "rel", Val: "noopener noreferrer"},
			)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if child := s.clean(c); child != nil {
				out.AppendChild(child)
			}
		}
		return out
	default:
		// Comments, doctypes and processing instructions.
		return nil
	}
}

// safeURL keeps URLs with an allowed scheme and resolves them against the
// base. url.Parse rejects the control characters browsers strip from a
// scheme, so values like "java\tscript:" are dropped.
func (s *Sanitizer) safeURL(raw string, tag atom.Atom, attr string) (string, bool) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return v, true
	}
	if tag == atom.Img && attr == "src" && strings.HasPrefix(strings.ToLower(v), "data:image/") {
		return v, true
	}
	u, err := url.Parse(v)
	if err != nil || !allowedSchemes[u.Scheme] {
		return "", false
	}
	if s.base != nil {
		u = s.base.ResolveReference(u)
	}
	return u.String(), true
}
