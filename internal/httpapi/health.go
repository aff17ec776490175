package httpapi

import "net/http"

type healthResponse struct {
	Status                string `json:"status"`
	CapabilityListenerSize int   `json:"capability_listener_size"`
}

// handleHealth reports liveness and the capability cache's current size,
// the "capability-listener stats" named alongside liveness in §6.
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	size := 0
	if h.CapCache != nil {
		size = h.CapCache.Count()
	}
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", CapabilityListenerSize: size})
}
