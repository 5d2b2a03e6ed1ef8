package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dmitrijs2005/finkeeper/internal/common"
	"github.com/dmitrijs2005/finkeeper/internal/server/services"
	"github.com/dmitrijs2005/finkeeper/internal/syncapi"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string, details any) {
	writeJSON(w, status, syncapi.ErrorResponse{
		Error:   code,
		Message: msg,
		Details: details,
	})
}

// writeServiceError maps a service error onto a status code and body and
// returns the code written.
func writeServiceError(w http.ResponseWriter, err error) int {
	var ire *services.InvalidRequestError
	switch {
	case errors.As(err, &ire):
		writeError(w, http.StatusBadRequest, syncapi.ErrCodeValidation, err.Error(), ire)
		return http.StatusBadRequest
	case errors.Is(err, common.ErrValidation):
		writeError(w, http.StatusBadRequest, syncapi.ErrCodeValidation, err.Error(), nil)
		return http.StatusBadRequest
	case errors.Is(err, common.ErrUnauthorized), errors.Is(err, common.ErrInvalidToken), errors.Is(err, common.ErrTokenExpired):
		writeError(w, http.StatusUnauthorized, syncapi.ErrCodeUnauthorized, "unauthorized", nil)
		return http.StatusUnauthorized
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, syncapi.ErrCodeInternal, "request timed out", nil)
		return http.StatusGatewayTimeout
	default:
		writeError(w, http.StatusInternalServerError, syncapi.ErrCodeInternal, "internal error", nil)
		return http.StatusInternalServerError
	}
}
