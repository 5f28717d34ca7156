package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"fitness-agent/internal/usecase"
)

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError maps use case error codes onto HTTP statuses. Unknown errors
// are reported as internal without leaking details.
func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := mapError(err)
	if status >= http.StatusInternalServerError {
		a.logger.Error("request failed",
			"err", err,
			"correlationId", correlationIDFrom(r.Context()),
		)
	}
	writeJSON(w, status, body)
}

func mapError(err error) (int, errorResponse) {
	var ucErr *usecase.Error
	if !errors.As(err, &ucErr) {
		return http.StatusInternalServerError, errorResponse{Error: string(usecase.ErrorInternal)}
	}
	switch ucErr.Code {
	case usecase.ErrorInvalidInput, usecase.ErrorInvalidQuestion:
		return http.StatusBadRequest, errorResponse{Error: string(ucErr.Code), Reason: ucErr.Reason}
	case usecase.ErrorNotFound:
		return http.StatusNotFound, errorResponse{Error: string(ucErr.Code), Reason: ucErr.Reason}
	case usecase.ErrorRateLimited:
		return http.StatusTooManyRequests, errorResponse{Error: string(ucErr.Code), Reason: ucErr.Reason}
	case usecase.ErrorUpstream:
		return http.StatusBadGateway, errorResponse{Error: string(ucErr.Code), Reason: ucErr.Reason}
	default:
		return http.StatusInternalServerError, errorResponse{Error: string(usecase.ErrorInternal), Reason: ucErr.Reason}
	}
}
