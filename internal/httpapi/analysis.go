package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/homelab-ai/smarthome-analyzer/internal/apperrors"
)

// handleAnalyzeAndSuggest runs one full pipeline pass synchronously and
// returns its summary — the manual trigger named directly in §6, distinct
// from the scheduler-fronted /api/analysis/trigger below.
func (h *Handler) handleAnalyzeAndSuggest(w http.ResponseWriter, r *http.Request) {
	runID := uuid.NewString()
	summary, err := h.Orchestrator.Run(r.Context(), runID, "manual", h.Config.ManualTriggerTimeout)
	if err != nil && !apperrors.Is(err, apperrors.KindAlreadyRunning) {
		writeError(w, err)
		return
	}
	if apperrors.Is(err, apperrors.KindAlreadyRunning) {
		writeProblem(w, http.StatusConflict, "about:blank", "Conflict", "a pipeline run is already in progress")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// handleAnalysisTrigger starts a run in the background via the scheduler
// and returns immediately with either "running_in_background" or
// "already_running" (§8 scenario 5), never blocking on the pipeline.
func (h *Handler) handleAnalysisTrigger(w http.ResponseWriter, r *http.Request) {
	result, runID := h.Scheduler.Trigger(r.Context(), h.Config.ManualTriggerTimeout)
	writeJSON(w, http.StatusAccepted, map[string]any{"result": result, "run_id": runID})
}

func (h *Handler) handleScheduleGet(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"schedule": h.currentSchedule()})
}

type scheduleRequest struct {
	Cron string `json:"cron"`
}

func (h *Handler) handleSchedulePost(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Cron == "" {
		writeProblem(w, http.StatusBadRequest, "about:blank", "Bad Request", "cron must be a non-empty 5-field expression")
		return
	}
	if err := h.Scheduler.Start(req.Cron); err != nil {
		writeProblem(w, http.StatusBadRequest, "about:blank", "Bad Request", err.Error())
		return
	}
	h.setSchedule(req.Cron)
	writeJSON(w, http.StatusOK, map[string]any{"schedule": req.Cron})
}

func (h *Handler) handleAnalysisStatus(w http.ResponseWriter, r *http.Request) {
	history := h.Orchestrator.History()
	var last any
	if len(history) > 0 {
		last = history[len(history)-1]
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": history, "last_run": last})
}
