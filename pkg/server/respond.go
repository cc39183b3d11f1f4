package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/mwalczyk/priceradar/internal/apperr"
)

// respond writes the success envelope: the payload fields plus success=true
// and a server timestamp.
func (s *Server) respond(w http.ResponseWriter, status int, payload map[string]any) {
	body := make(map[string]any, len(payload)+2)
	for k, v := range payload {
		body[k] = v
	}
	body["success"] = true
	body["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	writeJSON(w, status, body)
}

// fail maps a service error onto the failure envelope: validation 400,
// not-found 404, conflict 409 (with the existing row's id), anything else
// 500 with the detail kept out of the response.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	body := map[string]any{
		"success":   false,
		"error":     err.Error(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}

	status := http.StatusInternalServerError
	switch {
	case apperr.IsValidation(err):
		status = http.StatusBadRequest
	case apperr.IsNotFound(err):
		status = http.StatusNotFound
	case apperr.IsConflict(err):
		status = http.StatusConflict
		var conflict *apperr.ConflictError
		if errors.As(err, &conflict) && conflict.ExistingID != nil {
			body["existing_id"] = conflict.ExistingID
		}
	default:
		s.log.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		body["error"] = "internal server error"
	}

	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// decode parses the request body into dst, rejecting unknown garbage with a
// validation error.
func decode(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return apperr.Validationf("invalid json body: %v", err)
	}
	return nil
}
