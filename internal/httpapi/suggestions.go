package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/homelab-ai/smarthome-analyzer/pkg/model"
)

// handleSuggestionsGenerate produces suggestions from everything currently
// stored (patterns and synergy opportunities — feature opportunities are
// derived fresh per pipeline run and have no persisted table of their own),
// persists them, and publishes a suggestion-created notice for each one
// (§6 "Produce suggestions from stored patterns").
func (h *Handler) handleSuggestionsGenerate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	pats, err := h.Patterns.List(ctx, 0)
	if err != nil {
		writeError(w, err)
		return
	}
	synergies, err := h.Synergies.List(ctx)
	if err != nil {
		writeError(w, err)
		return
	}

	suggestions, genErrs := h.Generator.Generate(ctx, pats, nil, synergies)
	for _, gerr := range genErrs {
		h.Log.WithError(gerr).Warn("suggestion generation skipped one source")
	}
	if len(suggestions) > 0 {
		if err := h.Persistence.SaveSuggestions(ctx, suggestions); err != nil {
			writeError(w, err)
			return
		}
		for _, s := range suggestions {
			if err := h.Notifier.PublishSuggestion(ctx, s); err != nil {
				h.Log.WithError(err).Warn("failed to publish suggestion-created notice")
			}
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"suggestions":   suggestions,
		"count":         len(suggestions),
		"failed_sources": len(genErrs),
	})
}

func (h *Handler) handleSuggestionsList(w http.ResponseWriter, r *http.Request) {
	status := model.SuggestionStatus(r.URL.Query().Get("status"))
	suggestions, err := h.Suggestions.List(r.Context(), status)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"suggestions": suggestions, "count": len(suggestions)})
}

func (h *Handler) handleSuggestionApprove(w http.ResponseWriter, r *http.Request) {
	h.setSuggestionStatus(w, r, model.StatusApproved)
}

func (h *Handler) handleSuggestionReject(w http.ResponseWriter, r *http.Request) {
	h.setSuggestionStatus(w, r, model.StatusRejected)
}

func (h *Handler) setSuggestionStatus(w http.ResponseWriter, r *http.Request, status model.SuggestionStatus) {
	id := chi.URLParam(r, "id")
	if err := h.Suggestions.SetStatus(r.Context(), id, status); err != nil {
		writeError(w, err)
		return
	}
	if err := h.Feedback.Create(r.Context(), model.Feedback{
		ID:           id + ":" + string(status),
		SuggestionID: id,
		Action:       feedbackActionFor(status),
	}); err != nil {
		h.Log.WithError(err).Warn("failed to record feedback for status transition")
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "status": status})
}

func feedbackActionFor(status model.SuggestionStatus) model.FeedbackAction {
	if status == model.StatusRejected {
		return model.FeedbackRejected
	}
	return model.FeedbackApproved
}

type editSuggestionRequest struct {
	Title          string                `json:"title"`
	Description    string                `json:"description"`
	AutomationSpec *model.AutomationSpec `json:"automation_spec"`
}

func (h *Handler) handleSuggestionEdit(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req editSuggestionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "about:blank", "Bad Request", "invalid request body")
		return
	}
	if err := h.Suggestions.Edit(r.Context(), id, req.Title, req.Description, req.AutomationSpec); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "status": model.StatusModified})
}

func (h *Handler) handleSuggestionDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.Suggestions.Delete(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type batchRequest struct {
	IDs []string `json:"ids"`
}

func (h *Handler) handleSuggestionsBatchApprove(w http.ResponseWriter, r *http.Request) {
	h.batchSetStatus(w, r, model.StatusApproved)
}

func (h *Handler) handleSuggestionsBatchReject(w http.ResponseWriter, r *http.Request) {
	h.batchSetStatus(w, r, model.StatusRejected)
}

func (h *Handler) batchSetStatus(w http.ResponseWriter, r *http.Request, status model.SuggestionStatus) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.IDs) == 0 {
		writeProblem(w, http.StatusBadRequest, "about:blank", "Bad Request", "ids must be a non-empty array")
		return
	}
	n, err := h.Suggestions.BatchSetStatus(r.Context(), req.IDs, status)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"updated": n, "status": status})
}
