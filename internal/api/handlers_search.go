package api

import (
	"net/http"
	"strconv"
)

// handleSearch handles GET /api/search?q=&from=
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")

	offset := 0
	if from := r.URL.Query().Get("from"); from != "" {
		n, err := strconv.Atoi(from)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "from must be a non-negative integer", nil)
			return
		}
		offset = n
	}

	result, err := s.searchService.Search(r.Context(), userIDFromContext(r.Context()), query, offset)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}
