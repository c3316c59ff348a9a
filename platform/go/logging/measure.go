package logging

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Measure runs fn and logs its duration and outcome under the given operation name.
// The request-scoped logger on ctx wins over the fallback when present.
func Measure(ctx context.Context, fallback *zap.Logger, operation string, fn func(ctx context.Context) error) error {
	logger := fallback
	if scoped, ok := FromContext(ctx); ok {
		logger = scoped
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	start := time.Now()
	err := fn(ctx)
	elapsed := time.Since(start)

	if err != nil {
		logger.Warn("operation failed",
			zap.String("operation", operation),
			zap.Duration("duration", elapsed),
			zap.Error(err),
		)
		return err
	}

	logger.Debug("operation completed",
		zap.String("operation", operation),
		zap.Duration("duration", elapsed),
	)
	return nil
}
