package server

import (
	"encoding/json"
	"net/http"

	"github.com/teranos/hubrun/errors"
)

// ErrorResponse is the body of every non-2xx response
type ErrorResponse struct {
	Error string   `json:"error"`
	Hints []string `json:"hints,omitempty"`
}

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		return errors.Wrap(err, "failed to encode JSON")
	}
	return nil
}

// writeError writes a JSON error response
func writeError(w http.ResponseWriter, status int, message string, hints ...string) {
	_ = writeJSON(w, status, ErrorResponse{Error: message, Hints: hints})
}

// readJSON decodes a size-limited request body. Unknown fields are rejected.
func readJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.Wrap(errors.ErrInvalidRequest, "invalid request body: "+err.Error())
	}
	return nil
}

// emptyBody reports whether the request carries no body at all
func emptyBody(r *http.Request) bool {
	return r.ContentLength == 0
}
