package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/homelab-ai/smarthome-analyzer/internal/apperrors"
)

// problem is an RFC 7807 application/problem+json body, matching the shape
// the teacher's datastorage handlers return on every 4xx/5xx response
// (type/title/detail, checked by substring/equality in its handler tests).
type problem struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Detail string `json:"detail"`
}

func writeProblem(w http.ResponseWriter, status int, problemType, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(problem{Type: problemType, Title: title, Detail: detail})
}

// writeError maps an apperrors.Kind to its prescribed HTTP status (§7) and
// writes a problem+json body from the error's own message.
func writeError(w http.ResponseWriter, err error) {
	status := apperrors.HTTPStatus(err)
	title := http.StatusText(status)
	writeProblem(w, status, "about:blank", title, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
