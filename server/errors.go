package server

import (
	"net/http"

	"github.com/teranos/hubrun/errors"
)

// statusFor maps an error to an HTTP status code
func statusFor(err error) int {
	switch {
	case errors.IsNotFoundError(err):
		return http.StatusNotFound
	case errors.IsInvalidRequestError(err):
		return http.StatusBadRequest
	case errors.IsConflictError(err):
		return http.StatusConflict
	case errors.Is(err, errors.ErrBudgetExceeded):
		return http.StatusPaymentRequired
	case errors.IsServiceUnavailableError(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// handleError logs server-side failures and writes the error with its hints
func (s *Server) handleError(w http.ResponseWriter, err error, context string) {
	status := statusFor(err)
	if status >= 500 {
		s.logger.Errorw(context, "error", err, "status", status)
	} else {
		s.logger.Debugw(context, "error", err, "status", status)
	}
	writeError(w, status, context+": "+err.Error(), errors.GetAllHints(err)...)
}
