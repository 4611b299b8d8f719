package server

import (
	"net/http"
	"strconv"
	"time"

	warden "github.com/eugener/warden/internal"
)

// --- Pagination helpers ---

type pagination struct {
	Offset int `json:"offset"`
	Limit  int `json:"limit"`
	Total  int `json:"total"`
}

type listResponse struct {
	Data       any        `json:"data"`
	Pagination pagination `json:"pagination"`
}

func parsePagination(r *http.Request) (offset, limit int) {
	offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return
}

// --- Stream audit ---

// handleListStreams returns recorded stream outcomes, newest first.
// Optional filters: request_id, reason, since (RFC3339).
func (s *server) handleListStreams(w http.ResponseWriter, r *http.Request) {
	if s.deps.Store == nil {
		writeJSON(w, http.StatusNotFound, errorResponse("stream auditing is not enabled"))
		return
	}

	q := r.URL.Query()
	offset, limit := parsePagination(r)
	filter := warden.StreamFilter{
		RequestID: q.Get("request_id"),
		Reason:    q.Get("reason"),
		Offset:    offset,
		Limit:     limit,
	}
	// Validate RFC3339 upfront: SQLite datetime comparisons silently mismatch
	// on malformed strings, producing empty results instead of a clear error.
	if since := q.Get("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse("invalid since format, use RFC3339"))
			return
		}
		filter.Since = t
	}

	records, err := s.deps.Store.QueryStreamRecords(r.Context(), filter)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse("failed to query streams"))
		return
	}
	total, err := s.deps.Store.CountStreamRecords(r.Context(), filter)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse("failed to count streams"))
		return
	}
	if records == nil {
		records = []warden.StreamRecord{}
	}
	writeJSON(w, http.StatusOK, listResponse{
		Data:       records,
		Pagination: pagination{Offset: offset, Limit: limit, Total: total},
	})
}

// --- Cache ---

func (s *server) handleCachePurge(w http.ResponseWriter, r *http.Request) {
	if s.deps.Cache != nil {
		s.deps.Cache.Purge(r.Context())
	}
	w.WriteHeader(http.StatusNoContent)
}
