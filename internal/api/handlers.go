package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/ximing/aimo/pkg/memo"
	"github.com/ximing/aimo/pkg/search"
	"github.com/ximing/aimo/pkg/store"
)

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode response")
	}
}

// writeError maps domain errors to status codes. Internal failures get a
// generic message; the detail stays in the log.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, memo.ErrValidation):
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.Is(err, store.ErrNotFound):
		s.writeJSON(w, http.StatusNotFound, errorResponse{Error: "not found"})
	default:
		s.logger.Error().Err(err).Msg("Request failed")
		s.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": time.Since(s.startTime).String(),
	})
}

func (s *Server) handleCreateMemo(w http.ResponseWriter, r *http.Request) {
	var input memo.CreateInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	created, err := s.repo.Create(r.Context(), input)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleGetMemo(w http.ResponseWriter, r *http.Request) {
	m, err := s.repo.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleUpdateMemo(w http.ResponseWriter, r *http.Request) {
	var input memo.UpdateInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	updated, err := s.repo.Update(r.Context(), r.PathValue("id"), input)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteMemo(w http.ResponseWriter, r *http.Request) {
	if err := s.repo.Delete(r.Context(), r.PathValue("id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// queryFilter parses the shared scalar filter parameters. Timestamps are
// RFC 3339.
func queryFilter(r *http.Request) (store.MemoFilter, error) {
	var filter store.MemoFilter
	filter.CategoryID = r.URL.Query().Get("category")

	if v := r.URL.Query().Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, errors.New("invalid from timestamp")
		}
		filter.From = t
	}
	if v := r.URL.Query().Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, errors.New("invalid to timestamp")
		}
		filter.To = t
	}
	return filter, nil
}

func queryInt(r *http.Request, key string) int {
	n, _ := strconv.Atoi(r.URL.Query().Get(key))
	return n
}

func (s *Server) handleListMemos(w http.ResponseWriter, r *http.Request) {
	uid := r.URL.Query().Get("uid")
	if uid == "" {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "uid is required"})
		return
	}
	filter, err := queryFilter(r)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	limit := queryInt(r, "limit")
	if limit <= 0 {
		limit = 20
	}

	memos, total, err := s.repo.List(r.Context(), uid, memo.ListOptions{
		Filter: filter,
		Limit:  limit,
		Offset: queryInt(r, "offset"),
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"memos": memos,
		"total": total,
	})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	uid := r.URL.Query().Get("uid")
	query := r.URL.Query().Get("q")
	if uid == "" || query == "" {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "uid and q are required"})
		return
	}
	filter, err := queryFilter(r)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	resp, err := s.search.Search(r.Context(), uid, query, search.Options{
		Filter: filter,
		Limit:  queryInt(r, "limit"),
		Page:   queryInt(r, "page"),
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRelated(w http.ResponseWriter, r *http.Request) {
	uid := r.URL.Query().Get("uid")
	if uid == "" {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "uid is required"})
		return
	}

	resp, err := s.search.FindRelated(r.Context(), uid, r.PathValue("id"),
		queryInt(r, "limit"), queryInt(r, "page"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSuggestTags(w http.ResponseWriter, r *http.Request) {
	if s.suggester == nil {
		s.writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "AI provider not configured"})
		return
	}

	var req struct {
		Content string `json:"content"`
		Max     int    `json:"max"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	tags, err := s.suggester.Suggest(r.Context(), req.Content, req.Max)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"tags": tags})
}
