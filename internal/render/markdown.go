package render

import (
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
)

// Markdown converts sanitized activity HTML to Markdown.
type Markdown struct {
	sanitizer *Sanitizer
	conv      *md.Converter
}

// NewMarkdown returns a converter that resolves relative links against baseURL.
func NewMarkdown(baseURL string) *Markdown {
	domain := ""
	if s := NewSanitizer(baseURL); s.base != nil {
		domain = s.base.Host
	}
	return &Markdown{
		sanitizer: NewSanitizer(baseURL),
		conv:      md.NewConverter(domain, true, nil),
	}
}

// Convert returns the Markdown form of fragment. On conversion failure it
// falls back to collapsed plain text.
func (m *Markdown) Convert(fragment string) string {
	clean := m.sanitizer.Sanitize(fragment)
	if clean == "" {
		return ""
	}
	out, err := m.conv.ConvertString(clean)
	if err != nil {
		return strings.Join(strings.Fields(fragment), " ")
	}
	return strings.TrimSpace(out)
}
