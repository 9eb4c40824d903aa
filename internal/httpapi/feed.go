package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/feeds"

	"ghfeed/internal/feed"
	"ghfeed/internal/model"
)

type itemView struct {
	model.ActivityItem
	ContentHTML string `json:"contentHtml,omitempty"`
}

type pageView struct {
	Items      []itemView     `json:"items"`
	NextCursor *string        `json:"nextCursor"`
	HasMore    bool           `json:"hasMore"`
	Types      []string       `json:"types"`
	TypeCounts map[string]int `json:"typeCounts"`
}

// multiValue collects a repeated query parameter, also splitting
// comma-separated values.
func multiValue(r *http.Request, key string) []string {
	var out []string
	for _, raw := range r.URL.Query()[key] {
		for _, v := range strings.Split(raw, ",") {
			if v = strings.TrimSpace(v); v != "" {
				out = append(out, v)
			}
		}
	}
	return out
}

func listOptions(r *http.Request) (feed.ListOptions, error) {
	q := r.URL.Query()
	opts := feed.ListOptions{
		Cursor:   q.Get("cursor"),
		Accounts: multiValue(r, "account"),
		Types:    multiValue(r, "type"),
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return opts, fmt.Errorf("invalid limit %q", raw)
		}
		opts.Limit = n
	}
	return opts, nil
}

func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	opts, err := listOptions(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	page, err := s.feed.List(r.Context(), viewerFrom(r), opts)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	out := pageView{
		Items:      make([]itemView, 0, len(page.Items)),
		NextCursor: page.NextCursor,
		HasMore:    page.HasMore,
		Types:      page.Types,
		TypeCounts: page.TypeCounts,
	}
	for _, it := range page.Items {
		out.Items = append(out.Items, itemView{ActivityItem: it, ContentHTML: s.sanitizer.Sanitize(it.Content)})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleFeedAtom(w http.ResponseWriter, r *http.Request) {
	opts, err := listOptions(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	opts.Cursor = ""
	viewer := viewerFrom(r)
	page, err := s.feed.List(r.Context(), viewer, opts)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	f := &feeds.Feed{
		Title:       "ghfeed: " + viewer,
		Link:        &feeds.Link{Href: s.baseURL},
		Description: "Activity of followed accounts",
		Id:          "urn:ghfeed:" + viewer,
		Updated:     time.Now().UTC(),
	}
	if len(page.Items) > 0 {
		f.Updated = page.Items[0].PublishedAt
	}
	for _, it := range page.Items {
		content := it.Content
		if content != "" {
			content = s.sanitizer.Sanitize(content)
		}
		f.Items = append(f.Items, &feeds.Item{
			Id:          it.ID,
			Title:       it.Title,
			Link:        &feeds.Link{Href: it.Link},
			Author:      &feeds.Author{Name: it.AccountLogin},
			Description: it.Summary,
			Content:     content,
			Created:     it.PublishedAt,
			Updated:     it.PublishedAt,
		})
	}

	atom, err := f.ToAtom()
	if err != nil {
		s.writeError(w, r, fmt.Errorf("render atom: %w", err))
		return
	}
	w.Header().Set("Content-Type", "application/atom+xml; charset=utf-8")
	_, _ = w.Write([]byte(atom))
}

// handleRefresh streams refresh events as newline-delimited JSON, one
// object per event, flushed as they arrive.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.feed.FollowedAccounts(r.Context(), viewerFrom(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	enc := json.NewEncoder(w)
	failed := false
	for ev := range s.refresh.Refresh(r.Context(), accounts) {
		if failed {
			continue
		}
		if err := enc.Encode(ev); err != nil {
			s.log.Warn("refresh stream write failed", "error", err)
			failed = true
			continue
		}
		_ = rc.Flush()
	}
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	n, err := s.feed.Clear(r.Context(), viewerFrom(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": n})
}
