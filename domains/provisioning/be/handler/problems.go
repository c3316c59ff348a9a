package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/zenGate-Global/palmyra-provisioning/domains/provisioning/be/service"
)

const (
	problemTypeValidation   = "https://palmyra.pro/problems/validation-error"
	problemTypeNotFound     = "https://palmyra.pro/problems/not-found"
	problemTypeConflict     = "https://palmyra.pro/problems/conflict"
	problemTypeConnectivity = "https://palmyra.pro/problems/connectivity-error"
	problemTypeUnauthorized = "https://palmyra.pro/problems/unauthorized"
	problemTypeInternal     = "https://palmyra.pro/problems/internal-error"
)

// ProblemDetails is an RFC 7807 body.
type ProblemDetails struct {
	Type   string              `json:"type,omitempty"`
	Title  string              `json:"title"`
	Status int                 `json:"status"`
	Detail string              `json:"detail,omitempty"`
	Errors map[string][]string `json:"errors,omitempty"`
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error, op operation) {
	problem := classifyError(err)

	logger := h.loggerFrom(r.Context())
	fields := []zap.Field{
		zap.String("operation", string(op)),
		zap.Int("status", problem.Status),
		zap.Error(err),
	}
	switch {
	case problem.Status >= http.StatusInternalServerError:
		logger.Error("provisioning operation failed", fields...)
	case problem.Status == http.StatusNotFound:
		logger.Info("provisioning resource not found", fields...)
	default:
		logger.Warn("provisioning request rejected", fields...)
	}

	writeProblem(w, problem)
}

func classifyError(err error) ProblemDetails {
	var (
		validationErr   *service.ValidationError
		connectivityErr *service.ConnectivityError
	)
	switch {
	case errors.As(err, &validationErr):
		return buildProblem("Validation failed", validationErr.Error(), problemTypeValidation, http.StatusBadRequest,
			map[string][]string{validationErr.Field: {validationErr.Reason}})
	case errors.As(err, &connectivityErr):
		return buildProblem("Customer database unreachable", connectivityErr.Error(), problemTypeConnectivity, http.StatusUnprocessableEntity, nil)
	case service.IsNotFound(err):
		return buildProblem("Resource not found", err.Error(), problemTypeNotFound, http.StatusNotFound, nil)
	case service.IsConflict(err):
		return buildProblem("Conflict", err.Error(), problemTypeConflict, http.StatusConflict, nil)
	default:
		return buildProblem("Internal server error", "an unexpected error occurred", problemTypeInternal, http.StatusInternalServerError, nil)
	}
}

func buildProblem(title, detail, problemType string, status int, fieldErrors map[string][]string) ProblemDetails {
	return ProblemDetails{
		Type:   problemType,
		Title:  title,
		Status: status,
		Detail: detail,
		Errors: fieldErrors,
	}
}

func writeProblem(w http.ResponseWriter, problem ProblemDetails) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(problem.Status)
	_ = json.NewEncoder(w).Encode(problem)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
