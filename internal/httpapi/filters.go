package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"ghfeed/internal/feed"
)

type filterRequest struct {
	Name       string          `json:"name"`
	FilterRule json.RawMessage `json:"filterRule"`
}

func decodeFilterRequest(r *http.Request) (filterRequest, error) {
	var req filterRequest
	err := json.NewDecoder(r.Body).Decode(&req)
	return req, err
}

func (s *Server) handleFilters(w http.ResponseWriter, r *http.Request) {
	list, err := s.feed.Filters(r.Context(), viewerFrom(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleFilterSchema(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, feed.FilterSchema())
}

func (s *Server) handleCreateFilter(w http.ResponseWriter, r *http.Request) {
	req, err := decodeFilterRequest(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
		return
	}
	f, err := s.feed.CreateFilter(r.Context(), viewerFrom(r), req.Name, req.FilterRule)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, f)
}

func (s *Server) handleUpdateFilter(w http.ResponseWriter, r *http.Request) {
	req, err := decodeFilterRequest(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
		return
	}
	f, err := s.feed.UpdateFilter(r.Context(), viewerFrom(r), mux.Vars(r)["id"], req.Name, req.FilterRule)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func (s *Server) handleDeleteFilter(w http.ResponseWriter, r *http.Request) {
	if err := s.feed.DeleteFilter(r.Context(), viewerFrom(r), mux.Vars(r)["id"]); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
