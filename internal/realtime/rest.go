package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"paper-mimic/internal/generation"
	"paper-mimic/internal/history"
	"paper-mimic/internal/session"
)

const maxBatchCount = 50

type generateRequest struct {
	Requirement generation.Requirement `json:"requirement"`
	Count       int                    `json:"count"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, detail string) {
	writeJSON(w, code, map[string]string{"detail": detail})
}

func (s *Server) handleListHistory(w http.ResponseWriter, r *http.Request) {
	items, err := s.history.List()
	if err != nil {
		s.logger.Error("history listing failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to list history")
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	data, err := s.history.Get(id)
	switch {
	case errors.Is(err, history.ErrNotFound), errors.Is(err, history.ErrArtifactNotFound), errors.Is(err, history.ErrInvalidID):
		writeError(w, http.StatusNotFound, notFoundDetail(err))
		return
	case err != nil:
		s.logger.Error("history read failed", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to read session")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (s *Server) handleDeleteHistory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	err := s.history.Delete(id)
	switch {
	case errors.Is(err, history.ErrNotFound), errors.Is(err, history.ErrInvalidID):
		writeError(w, http.StatusNotFound, history.ErrNotFound.Error())
		return
	case err != nil:
		s.logger.Error("history delete failed", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "success",
		"message": fmt.Sprintf("Session %s deleted", id),
	})
}

func notFoundDetail(err error) string {
	if errors.Is(err, history.ErrArtifactNotFound) {
		return history.ErrArtifactNotFound.Error()
	}
	return history.ErrNotFound.Error()
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sessionMgr.List())
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	snap, err := s.sessionMgr.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleKillSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.sessionMgr.Kill(id); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "terminated"})
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	if s.batcher == nil {
		writeError(w, http.StatusServiceUnavailable, "question generation is not available")
		return
	}

	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Requirement.ReferenceQuestion == "" {
		writeError(w, http.StatusBadRequest, "requirement.reference_question is required")
		return
	}
	if req.Count == 0 {
		req.Count = 1
	}
	if req.Count < 0 || req.Count > maxBatchCount {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("count must be between 1 and %d", maxBatchCount))
		return
	}

	batch := s.batcher.GenerateQuestions(r.Context(), req.Requirement, req.Count)
	writeJSON(w, http.StatusOK, batch)
}
