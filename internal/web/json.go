package web

import (
	"encoding/json"
	"errors"
	"net/http"
)

// TriggerResponse is returned for an admitted POST /trigger.
type TriggerResponse struct {
	State      string `json:"state"`
	RequestID  string `json:"request_id"`
	DurationMs int64  `json:"duration_ms"`
}

// StateResponse is returned by GET /state for JSON clients.
type StateResponse struct {
	State string `json:"state"`
}

// ErrorResponse is returned for every rejected or malformed request.
type ErrorResponse struct {
	Error     string `json:"error"`
	Reason    string `json:"reason,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

func errMalformed(msg string) error {
	return errors.New("malformed command: " + msg)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	data, _ := json.Marshal(v)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(data)
}
