package migration

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/zenGate-Global/palmyra-provisioning/domains/provisioning/be/service"
	"github.com/zenGate-Global/palmyra-provisioning/platform/go/logging"
	"github.com/zenGate-Global/palmyra-provisioning/platform/go/remotedb"
)

// MigrationStepError reports the step that stopped a migration.
type MigrationStepError struct {
	Step string
	Err  error
}

func (e *MigrationStepError) Error() string {
	return fmt.Sprintf("migration step %s failed: %v", e.Step, e.Err)
}

func (e *MigrationStepError) Unwrap() error { return e.Err }

// Executor applies steps strictly in order and records one log entry per attempted step.
type Executor struct {
	stepTimeout time.Duration
	logger      *zap.Logger
	now         func() time.Time
}

// NewExecutor builds an Executor. stepTimeout bounds every remote call.
func NewExecutor(stepTimeout time.Duration, logger *zap.Logger) *Executor {
	if stepTimeout <= 0 {
		stepTimeout = 2 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		stepTimeout: stepTimeout,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Run stops at the first failing step. Already applied steps are not rolled back.
// The returned log always ends with the failed entry when err is non-nil.
func (e *Executor) Run(ctx context.Context, client remotedb.Client, steps []Step) ([]service.MigrationLogEntry, error) {
	logs := make([]service.MigrationLogEntry, 0, len(steps))
	for _, step := range steps {
		start := time.Now()
		err := logging.Measure(ctx, e.logger, "migration."+step.Name, func(ctx context.Context) error {
			return e.apply(ctx, client, step)
		})

		entry := service.MigrationLogEntry{
			Step:       step.Name,
			Status:     service.StepSucceeded,
			At:         e.now(),
			DurationMs: time.Since(start).Milliseconds(),
		}
		if err != nil {
			entry.Status = service.StepFailed
			entry.Error = err.Error()
			logs = append(logs, entry)
			return logs, &MigrationStepError{Step: step.Name, Err: err}
		}
		logs = append(logs, entry)
	}
	return logs, nil
}

func (e *Executor) apply(ctx context.Context, client remotedb.Client, step Step) (err error) {
	ctx, cancel := context.WithTimeout(ctx, e.stepTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	return step.Apply(ctx, client)
}
