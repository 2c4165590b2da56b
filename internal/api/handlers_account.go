package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/faveindex/internal/service"
)

// handleOnboard handles POST /api/users
func (s *Server) handleOnboard(w http.ResponseWriter, r *http.Request) {
	var req service.OnboardRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}
	req.UserID = userIDFromContext(r.Context())

	user, created, err := s.accountService.Onboard(r.Context(), req)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	respondJSON(w, status, user)
}

// handleGetStatus handles GET /api/users/me
func (s *Server) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.accountService.Status(r.Context(), userIDFromContext(r.Context()))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, status)
}

// handleDeleteAccount handles DELETE /api/users/me
func (s *Server) handleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	if err := s.accountService.Delete(r.Context(), userIDFromContext(r.Context())); err != nil {
		respondServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleRequestIndex handles POST /api/users/me/index.
// The body is optional; without rounds the reindex default applies.
func (s *Server) handleRequestIndex(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Rounds int `json:"rounds"`
	}
	if err := parseJSONBody(r, &req); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}
	if req.Rounds < 0 {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "rounds must not be negative", nil)
		return
	}

	rounds, err := s.accountService.RequestIndex(r.Context(), userIDFromContext(r.Context()), req.Rounds)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]interface{}{
		"status": "queued",
		"rounds": rounds,
	})
}

// handleReindexAll handles POST /api/admin/reindex
func (s *Server) handleReindexAll(w http.ResponseWriter, r *http.Request) {
	n, err := s.accountService.ReindexAll(r.Context())
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]int{"enqueued": n})
}

// handlePurgeAll handles POST /api/admin/purge
func (s *Server) handlePurgeAll(w http.ResponseWriter, r *http.Request) {
	n, err := s.accountService.PurgeAll(r.Context())
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{"deleted": n})
}
