// Package model defines the domain types used across the application.
package model

import (
	"regexp"
	"strings"
	"time"
)

// UnknownType is the activity type assigned when an entry id carries no type token.
const UnknownType = "unknown"

// ActivityItem is one normalized unit of account activity.
// Optional text fields use "" for absent.
type ActivityItem struct {
	ID           string    `json:"id"`
	AccountLogin string    `json:"accountLogin"`
	Title        string    `json:"title"`
	Link         string    `json:"link,omitempty"`
	Repo         string    `json:"repo,omitempty"`
	Type         string    `json:"type"`
	Summary      string    `json:"summary,omitempty"`
	Content      string    `json:"content,omitempty"`
	PublishedAt  time.Time `json:"publishedAt"`
	CreatedAt    time.Time `json:"-"`
}

// Account is a trackable feed source.
type Account struct {
	Login           string     `json:"login"`
	ExternalID      string     `json:"externalId,omitempty"`
	LastRefreshedAt *time.Time `json:"lastRefreshedAt,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
}

// Subscription links a viewer to an account.
type Subscription struct {
	ID           string    `json:"id"`
	Viewer       string    `json:"-"`
	AccountLogin string    `json:"accountLogin"`
	CreatedAt    time.Time `json:"createdAt"`
}

// SubscriptionView is a subscription joined with account metadata and
// per-account statistics computed under the viewer's filter rules.
type SubscriptionView struct {
	Subscription
	ExternalID      string     `json:"externalId,omitempty"`
	LastRefreshedAt *time.Time `json:"lastRefreshedAt,omitempty"`
	ItemCount       int        `json:"itemCount"`
	LatestEntryAt   *time.Time `json:"latestEntryAt,omitempty"`
}

// StoredFilter is a persisted filter rule tree owned by a viewer.
type StoredFilter struct {
	ID        string    `json:"id"`
	Viewer    string    `json:"-"`
	Name      string    `json:"name"`
	Rule      string    `json:"-"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// RefreshMeta carries the per-account fields updated after a successful refresh.
// An empty ExternalID leaves the stored value untouched.
type RefreshMeta struct {
	LastRefreshedAt time.Time
	ExternalID      string
}

var loginRe = regexp.MustCompile(`^@?[a-zA-Z0-9-]+$`)

// MaxLoginLength is the longest login accepted from user input.
const MaxLoginLength = 40

// NormalizeLogin trims, strips a leading @ and lower-cases a login.
func NormalizeLogin(s string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), "@"))
}

// ValidLogin reports whether raw user input looks like an account login.
func ValidLogin(raw string) bool {
	s := strings.TrimSpace(raw)
	return s != "" && len(s) <= MaxLoginLength && loginRe.MatchString(s)
}
