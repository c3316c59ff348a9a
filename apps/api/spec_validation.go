package main

import (
	"encoding/json"
	"net/http"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	oapimiddleware "github.com/oapi-codegen/nethttp-middleware"
	"go.uber.org/zap"

	"github.com/zenGate-Global/palmyra-provisioning/contracts"
	platformmiddleware "github.com/zenGate-Global/palmyra-provisioning/platform/go/middleware"
)

// mustNewSpecValidator loads the embedded provisioning contract and builds the request validator.
// Requests that do not match the contract never reach the handlers.
func mustNewSpecValidator(logger *zap.Logger) func(http.Handler) http.Handler {
	spec, err := contracts.Provisioning()
	if err != nil {
		logger.Fatal("load provisioning contract", zap.Error(err))
	}
	logSecuritySchemes(logger, "provisioning", spec)

	return oapimiddleware.OapiRequestValidatorWithOptions(spec, &oapimiddleware.Options{
		Options: openapi3filter.Options{
			AuthenticationFunc: platformmiddleware.ValidateAuthenticationViaSwagger,
		},
		ErrorHandler: writeValidationProblem,
	})
}

// writeValidationProblem renders contract violations in the same problem+json shape as the handlers.
func writeValidationProblem(w http.ResponseWriter, message string, statusCode int) {
	title := "Validation failed"
	problemType := "https://palmyra.pro/problems/validation-error"
	switch statusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		title = "Unauthorized"
		problemType = "https://palmyra.pro/problems/unauthorized"
	case http.StatusNotFound:
		title = "Resource not found"
		problemType = "https://palmyra.pro/problems/not-found"
	}

	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"type":   problemType,
		"title":  title,
		"status": statusCode,
		"detail": message,
	})
}

func logSecuritySchemes(logger *zap.Logger, name string, spec *openapi3.T) {
	if spec.Components.SecuritySchemes == nil {
		spec.Components.SecuritySchemes = openapi3.SecuritySchemes{}
	}

	if _, ok := spec.Components.SecuritySchemes["bearerAuth"]; !ok {
		spec.Components.SecuritySchemes["bearerAuth"] = &openapi3.SecuritySchemeRef{
			Value: &openapi3.SecurityScheme{
				Type:   "http",
				Scheme: "bearer",
			},
		}
		logger.Warn("injecting default bearerAuth security scheme", zap.String("contract", name))
	}

	names := make([]string, 0, len(spec.Components.SecuritySchemes))
	for name := range spec.Components.SecuritySchemes {
		names = append(names, name)
	}
	logger.Info("loaded security schemes", zap.String("contract", name), zap.Strings("names", names))
}
