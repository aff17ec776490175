package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/homelab-ai/smarthome-analyzer/pkg/model"
	"github.com/homelab-ai/smarthome-analyzer/pkg/safety"
)

type deployRequest struct {
	Override bool `json:"override"`
}

type deployResponse struct {
	SuggestionID string        `json:"suggestion_id"`
	Status       string        `json:"status"`
	Report       safety.Report `json:"safety_report"`
}

// handleDeploy materialises an approved suggestion's automation spec (if
// not already materialised), runs it through safety.Validator, and — when
// safe, or when an operator-authorized override applies — pushes it by
// reloading the orchestrator's automation config, the only "push to
// orchestrator" outbound call §6 actually names (there is no dedicated
// create-automation endpoint in the external-interfaces list).
func (h *Handler) handleDeploy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	var req deployRequest
	if r.ContentLength != 0 {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	suggestion, err := h.Suggestions.Get(ctx, id)
	if err != nil {
		writeError(w, err)
		return
	}

	spec := suggestion.AutomationSpec
	if spec == nil {
		materialised, err := h.Generator.GenerateAutomation(ctx, suggestion, suggestion.ValidatedEntities)
		if err != nil {
			writeError(w, err)
			return
		}
		spec = &materialised
		if err := h.Suggestions.Edit(ctx, id, suggestion.Title, suggestion.Description, spec); err != nil {
			writeError(w, err)
			return
		}
	}

	devices, err := h.Registry.ListDevices(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	known := make(map[string]bool, len(devices))
	for _, d := range devices {
		for _, e := range d.Entities {
			known[e.EntityID] = true
		}
	}
	existing, err := h.Automation.ListAutomations(ctx)
	if err != nil {
		writeError(w, err)
		return
	}

	validator := safety.NewValidator(func(entityID string) bool { return known[entityID] })
	report := validator.Validate(*spec, suggestion.ValidatedEntities, id, existing)

	if !report.Safe {
		if !(req.Override && h.override.allow(h.Config.AllowSafetyOverride, report)) {
			_ = h.Suggestions.SetStatus(ctx, id, model.StatusFailed)
			writeJSON(w, http.StatusConflict, deployResponse{SuggestionID: id, Status: string(model.StatusFailed), Report: report})
			return
		}
		h.Log.WithField("suggestion_id", id).Warn("deploy override authorized despite blocked safety report")
	}

	if err := h.Automation.ReloadAutomations(ctx); err != nil {
		_ = h.Suggestions.SetStatus(ctx, id, model.StatusFailed)
		writeError(w, err)
		return
	}
	if err := h.Suggestions.SetStatus(ctx, id, model.StatusDeployed); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, deployResponse{SuggestionID: id, Status: string(model.StatusDeployed), Report: report})
}
