package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (h *Handler) handleSynergiesList(w http.ResponseWriter, r *http.Request) {
	synergies, err := h.Synergies.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"synergies": synergies, "count": len(synergies)})
}

func (h *Handler) handleSynergiesStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Synergies.Stats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) handleSynergyGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	synergy, err := h.Synergies.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, synergy)
}
