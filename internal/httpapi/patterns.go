package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/homelab-ai/smarthome-analyzer/pkg/eventstore"
)

// handleDetectTimeOfDay fetches the configured event window and runs
// TimeOfDayDetector on demand, persisting whatever it finds — the
// "run detector on demand" route named in §6, independent of a full
// pipeline run.
func (h *Handler) handleDetectTimeOfDay(w http.ResponseWriter, r *http.Request) {
	from, to, err := parseWindow(r.URL.Query(), h.Config.EventFetchWindow)
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "about:blank", "Bad Request", err.Error())
		return
	}
	events, err := h.Events.FetchEvents(r.Context(), from, to, eventstore.Filter{}, 200_000)
	if err != nil {
		writeError(w, err)
		return
	}

	result := h.TimeOfDay.Detect(events)
	if err := h.Persistence.SavePatterns(r.Context(), result.Patterns); err != nil {
		writeError(w, err)
		return
	}
	if err := h.Persistence.SaveAggregates(r.Context(), result.Aggregates); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"patterns_detected": len(result.Patterns),
		"events_analyzed":   len(events),
	})
}

func (h *Handler) handlePatternsList(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	pats, err := h.Patterns.List(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"patterns": pats, "count": len(pats)})
}

func (h *Handler) handlePatternsStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Patterns.Stats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// handlePatternsCleanup deletes patterns older than the caller-supplied
// "older_than_days" query parameter.
func (h *Handler) handlePatternsCleanup(w http.ResponseWriter, r *http.Request) {
	days := 90
	if v := r.URL.Query().Get("older_than_days"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			days = n
		}
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	n, err := h.Patterns.Cleanup(r.Context(), cutoff)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": n})
}
