package main

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"
)

type readinessCheck struct {
	name  string
	check func(ctx context.Context) error
}

// readyHandler reports 503 while any dependency is unreachable.
func readyHandler(checks []readinessCheck, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		status := http.StatusOK
		results := make(map[string]string, len(checks))
		for _, c := range checks {
			if err := c.check(ctx); err != nil {
				logger.Warn("readiness check failed", zap.String("dependency", c.name), zap.Error(err))
				results[c.name] = "unavailable"
				status = http.StatusServiceUnavailable
				continue
			}
			results[c.name] = "ok"
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(results)
	}
}
