package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/homelab-ai/smarthome-analyzer/pkg/eventstore"
	"github.com/homelab-ai/smarthome-analyzer/pkg/model"
)

// handleDataEvents proxies to the event store, per §6's
// "GET /api/v1/events?from=&to=&limit=" outbound call.
func (h *Handler) handleDataEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, to, err := parseWindow(q, h.Config.EventFetchWindow)
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "about:blank", "Bad Request", err.Error())
		return
	}
	limit := 1000
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	filter := eventstore.Filter{
		EntityID: q.Get("entity_id"),
		DeviceID: q.Get("device_id"),
		Domain:   q.Get("domain"),
	}

	events, err := h.Events.FetchEvents(r.Context(), from, to, filter, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events, "count": len(events)})
}

// handleDataEntities flattens every device's entity list, since the
// registry collaborator exposes entities only as a field on each device
// record rather than a standalone listing endpoint (§6 names
// "/api/data/entities" as a registry proxy without a distinct upstream
// route of its own).
func (h *Handler) handleDataEntities(w http.ResponseWriter, r *http.Request) {
	devices, err := h.Registry.ListDevices(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	var entities []model.EntityRef
	for _, d := range devices {
		entities = append(entities, d.Entities...)
	}
	writeJSON(w, http.StatusOK, map[string]any{"entities": entities, "count": len(entities)})
}

// handleDataDevices proxies to the registry's device list. DESIGN.md's
// Open Question decision resolves the spec's two conflicting
// "/api/data/devices" routes toward the plural, collection-returning one;
// a caller needing a single device uses /api/registry/devices/{id} below.
func (h *Handler) handleDataDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := h.Registry.ListDevices(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
}

func (h *Handler) handleRegistryDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "deviceID")
	device, err := h.Registry.GetDevice(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, device)
}

func parseWindow(q map[string][]string, defaultWindow time.Duration) (time.Time, time.Time, error) {
	get := func(key string) string {
		if v, ok := q[key]; ok && len(v) > 0 {
			return v[0]
		}
		return ""
	}
	now := time.Now().UTC()
	to := now
	if v := get("to"); v != "" {
		parsed, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		to = parsed
	}
	from := to.Add(-defaultWindow)
	if v := get("from"); v != "" {
		parsed, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		from = parsed
	}
	return from, to, nil
}
