package apihttp

import (
	"encoding/json"
	"net/http"
)

// errorResponse is the flat 5xx/4xx error body: {"message": "..."}, not
// the nested {"error":{"code","message"}} shape some sibling services in
// this codebase use — this server's contract is a single flat field.
type errorResponse struct {
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Message: message})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
