package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/Synapse-Labs-X/synapse-protocol-sub000/internal/runs"
)

type submitRunRequest struct {
	TaskDescription string `json:"task_description"`
}

type submitRunResponse struct {
	RunID           string `json:"run_id"`
	TaskDescription string `json:"task_description"`
	Status          string `json:"status"`
}

type cancelRunRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleSubmitRun(w http.ResponseWriter, r *http.Request) {
	var req submitRunRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	req.TaskDescription = strings.TrimSpace(req.TaskDescription)
	if req.TaskDescription == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "task_description is required")
		return
	}

	run, err := s.runs.SubmitRun(context.Background(), req.TaskDescription)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "submit_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusAccepted, submitRunResponse{
		RunID:           run.ID,
		TaskDescription: run.TaskDescription,
		Status:          string(run.Status),
	})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		respondError(w, http.StatusBadRequest, "invalid_run_id", "missing run id")
		return
	}
	run, err := s.runs.GetRun(id)
	if err != nil {
		if errors.Is(err, runs.ErrRunNotFound) {
			respondError(w, http.StatusNotFound, "run_not_found", err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "run_lookup_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, run)
}

func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		respondError(w, http.StatusBadRequest, "invalid_run_id", "missing run id")
		return
	}
	var req cancelRunRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	run, err := s.runs.CancelRun(id, req.Reason)
	if err != nil {
		if errors.Is(err, runs.ErrRunNotFound) {
			respondError(w, http.StatusNotFound, "run_not_found", err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "cancel_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, run)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = parsed
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"runs": s.runs.ListRuns(limit),
	})
}

func (s *Server) handleListRunEvents(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		respondError(w, http.StatusBadRequest, "invalid_run_id", "missing run id")
		return
	}
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = parsed
	}
	events, err := s.runs.ListRunEvents(id, limit)
	if err != nil {
		if errors.Is(err, runs.ErrRunNotFound) {
			respondError(w, http.StatusNotFound, "run_not_found", err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "events_lookup_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"run_id": id,
		"events": events,
	})
}
