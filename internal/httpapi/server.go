// Package httpapi exposes the feed over a JSON HTTP API.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"ghfeed/internal/feed"
	"ghfeed/internal/model"
	"ghfeed/internal/refresh"
	"ghfeed/internal/render"
)

// ViewerHeader carries the caller identity. Authentication is expected to
// happen in front of this service.
const ViewerHeader = "X-Viewer"

// Refresher runs account refreshes.
type Refresher interface {
	Refresh(ctx context.Context, accounts []model.Account) <-chan model.RefreshEvent
	RefreshOne(ctx context.Context, viewer, login string) (refresh.OneResult, error)
}

// Server routes API requests to the feed service.
type Server struct {
	feed      *feed.Service
	refresh   Refresher
	sanitizer *render.Sanitizer
	baseURL   string
	log       *slog.Logger
	router    *mux.Router
}

// New creates a Server. baseURL is the account feed origin used for
// resolving relative links and exporting OPML.
func New(svc *feed.Service, refresher Refresher, baseURL string, log *slog.Logger) *Server {
	s := &Server{
		feed:      svc,
		refresh:   refresher,
		sanitizer: render.NewSanitizer(baseURL),
		baseURL:   baseURL,
		log:       log,
		router:    mux.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router
	r.Use(s.logRequests)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(requireViewer)

	api.HandleFunc("/feed", s.handleFeed).Methods(http.MethodGet)
	api.HandleFunc("/feed.atom", s.handleFeedAtom).Methods(http.MethodGet)
	api.HandleFunc("/refresh", s.handleRefresh).Methods(http.MethodPost)
	api.HandleFunc("/clear", s.handleClear).Methods(http.MethodPost)

	api.HandleFunc("/subscriptions", s.handleSubscriptions).Methods(http.MethodGet)
	api.HandleFunc("/subscriptions", s.handleFollow).Methods(http.MethodPost)
	api.HandleFunc("/subscriptions/import", s.handleImport).Methods(http.MethodPost)
	api.HandleFunc("/subscriptions/export", s.handleExport).Methods(http.MethodGet)
	api.HandleFunc("/subscriptions/{login}", s.handleUnfollow).Methods(http.MethodDelete)
	api.HandleFunc("/subscriptions/{login}/refresh", s.handleRefreshOne).Methods(http.MethodPost)

	api.HandleFunc("/filters", s.handleFilters).Methods(http.MethodGet)
	api.HandleFunc("/filters", s.handleCreateFilter).Methods(http.MethodPost)
	api.HandleFunc("/filters/schema", s.handleFilterSchema).Methods(http.MethodGet)
	api.HandleFunc("/filters/{id}", s.handleUpdateFilter).Methods(http.MethodPut)
	api.HandleFunc("/filters/{id}", s.handleDeleteFilter).Methods(http.MethodDelete)
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type viewerKey struct{}

func requireViewer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		v := r.Header.Get(ViewerHeader)
		if v == "" {
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "missing " + ViewerHeader + " header"})
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), viewerKey{}, v)))
	})
}

func viewerFrom(r *http.Request) string {
	v, _ := r.Context().Value(viewerKey{}).(string)
	return v
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.status = code
	rec.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying Flusher.
func (rec *statusRecorder) Unwrap() http.ResponseWriter {
	return rec.ResponseWriter
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps service errors to HTTP statuses.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, feed.ErrInvalidCursor),
		errors.Is(err, feed.ErrInvalidLogin),
		errors.Is(err, feed.ErrInvalidFilter):
		status = http.StatusBadRequest
	case errors.Is(err, refresh.ErrNotSubscribed):
		status = http.StatusForbidden
	case errors.Is(err, feed.ErrNotFound), errors.Is(err, feed.ErrNotFollowing):
		status = http.StatusNotFound
	case errors.Is(err, feed.ErrAlreadyFollowing):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		s.log.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
