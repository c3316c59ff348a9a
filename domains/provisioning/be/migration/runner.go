package migration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zenGate-Global/palmyra-provisioning/domains/provisioning/be/events"
	"github.com/zenGate-Global/palmyra-provisioning/domains/provisioning/be/service"
	"github.com/zenGate-Global/palmyra-provisioning/platform/go/remotedb"
	"github.com/zenGate-Global/palmyra-provisioning/platform/go/requesttrace"
)

const finalizeTimeout = 30 * time.Second

// ReportStore archives migration reports. Keys are relative to the environment prefix.
type ReportStore interface {
	Put(ctx context.Context, key string, body []byte) error
}

// RunnerDeps are the collaborators of a Runner. Reports and Stats are optional.
type RunnerDeps struct {
	Repo     service.Repository
	Vault    service.Cipher
	Dialer   remotedb.Dialer
	Catalog  *Catalog
	Executor *Executor
	Events   service.EventPublisher
	Reports  ReportStore
	Stats    service.StatsCache
	Logger   *zap.Logger
	Now      func() time.Time
}

// Runner drives one task from credentials_received to a terminal state.
type Runner struct {
	repo     service.Repository
	vault    service.Cipher
	dialer   remotedb.Dialer
	catalog  *Catalog
	executor *Executor
	events   service.EventPublisher
	reports  ReportStore
	stats    service.StatsCache
	logger   *zap.Logger
	now      func() time.Time
}

func NewRunner(deps RunnerDeps) *Runner {
	switch {
	case deps.Repo == nil:
		panic("migration runner requires repo")
	case deps.Vault == nil:
		panic("migration runner requires vault")
	case deps.Dialer == nil:
		panic("migration runner requires dialer")
	case deps.Catalog == nil:
		panic("migration runner requires catalog")
	case deps.Executor == nil:
		panic("migration runner requires executor")
	case deps.Events == nil:
		panic("migration runner requires event publisher")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := deps.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) }
	}
	return &Runner{
		repo:     deps.Repo,
		vault:    deps.Vault,
		dialer:   deps.Dialer,
		catalog:  deps.Catalog,
		executor: deps.Executor,
		events:   deps.Events,
		reports:  deps.Reports,
		stats:    deps.Stats,
		logger:   logger,
		now:      now,
	}
}

// Run executes the migration for job. A job whose task is no longer in
// credentials_received is ignored, so duplicate deliveries are harmless.
// The returned error is the *MigrationStepError of a failed run.
func (r *Runner) Run(ctx context.Context, job service.MigrationJob) error {
	logger := r.logger.With(
		zap.String("task_id", job.TaskID.String()),
		zap.String("customer_id", job.CustomerID.String()),
	)

	task, err := r.repo.BeginMigration(ctx, job.TaskID, r.now(), r.audit(job, service.AuditMigrationStarted, nil))
	if errors.Is(err, service.ErrConflict) {
		logger.Info("migration skipped, task no longer awaiting migration")
		return nil
	}
	if err != nil {
		return fmt.Errorf("begin migration: %w", err)
	}
	r.invalidateStats(ctx)
	logger.Info("migration started", zap.Strings("features", task.RequestedFeatures))

	logs, runErr := r.execute(ctx, task)

	finishedAt := r.now()
	outcome := service.MigrationOutcome{
		TaskID:     task.ID,
		CustomerID: task.CustomerID,
		Succeeded:  runErr == nil,
		Logs:       logs,
		At:         finishedAt,
	}
	details := map[string]any{"steps": len(logs)}
	if runErr != nil {
		var stepErr *MigrationStepError
		if errors.As(runErr, &stepErr) {
			details["failedStep"] = stepErr.Step
		}
		details["error"] = runErr.Error()
		outcome.Audit = r.audit(job, service.AuditMigrationFailed, details)
	} else {
		outcome.Audit = r.audit(job, service.AuditMigrationCompleted, details)
	}

	// Shutdown must not strand the task in migrating.
	finalizeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()
	if err := r.repo.FinalizeMigration(finalizeCtx, outcome); err != nil {
		logger.Error("finalize migration", zap.Error(err))
		return fmt.Errorf("finalize migration: %w", err)
	}
	r.invalidateStats(finalizeCtx)

	r.notify(finalizeCtx, logger, task, outcome, runErr)
	r.archive(finalizeCtx, logger, outcome)

	if runErr != nil {
		logger.Warn("migration failed", zap.Error(runErr))
		return runErr
	}
	logger.Info("migration completed", zap.Int("steps", len(logs)))
	return nil
}

func (r *Runner) execute(ctx context.Context, task service.Task) ([]service.MigrationLogEntry, error) {
	creds, err := r.loadCredentials(ctx, task.CustomerID)
	if err != nil {
		return r.failedBeforeSteps(StepLoadCredentials, err)
	}

	dialCtx, cancel := context.WithTimeout(ctx, r.executor.stepTimeout)
	client, err := r.dialer.Dial(dialCtx, creds)
	cancel()
	if err != nil {
		return r.failedBeforeSteps(StepConnect, err)
	}
	defer func() { _ = client.Close(context.WithoutCancel(ctx)) }()

	return r.executor.Run(ctx, client, r.catalog.Plan(task.CustomerID, task.RequestedFeatures))
}

func (r *Runner) failedBeforeSteps(step string, err error) ([]service.MigrationLogEntry, error) {
	return []service.MigrationLogEntry{{
		Step:   step,
		Status: service.StepFailed,
		Error:  err.Error(),
		At:     r.now(),
	}}, &MigrationStepError{Step: step, Err: err}
}

// loadCredentials opens the sealed secrets. A token that cannot be decrypted is never used.
func (r *Runner) loadCredentials(ctx context.Context, customerID uuid.UUID) (remotedb.Credentials, error) {
	backend, err := r.repo.GetBackend(ctx, customerID)
	if err != nil {
		return remotedb.Credentials{}, err
	}

	anon, err := r.vault.Decrypt(backend.EncryptedAnonKey)
	if err != nil {
		return remotedb.Credentials{}, fmt.Errorf("open anon key: %w", err)
	}
	serviceKey, err := r.vault.Decrypt(backend.EncryptedServiceRoleKey)
	if err != nil {
		return remotedb.Credentials{}, fmt.Errorf("open service role key: %w", err)
	}

	creds := remotedb.Credentials{
		ProjectRef:     backend.ProjectRef,
		ProjectURL:     backend.APIURL,
		AnonKey:        anon,
		ServiceRoleKey: serviceKey,
	}
	if backend.EncryptedDBPassword != nil {
		password, err := r.vault.Decrypt(*backend.EncryptedDBPassword)
		if err != nil {
			return remotedb.Credentials{}, fmt.Errorf("open db password: %w", err)
		}
		creds.DBPassword = password
	}
	if backend.Region != nil {
		creds.Region = *backend.Region
	}
	return creds, nil
}

func (r *Runner) notify(ctx context.Context, logger *zap.Logger, task service.Task, outcome service.MigrationOutcome, runErr error) {
	customer, err := r.repo.GetCustomer(ctx, task.CustomerID)
	if err != nil {
		logger.Warn("load customer for notification", zap.Error(err))
	}

	var env events.Envelope
	if runErr == nil {
		var projectURL string
		if backend, err := r.repo.GetBackend(ctx, task.CustomerID); err == nil {
			projectURL = backend.APIURL
		}
		env = events.Ready(task.CustomerID, task.ID, outcome.At, events.ReadyPayload{
			CustomerName: customer.Name,
			Email:        customer.Email,
			Plan:         string(customer.Plan),
			Features:     task.RequestedFeatures,
			ProjectURL:   projectURL,
			CompletedAt:  outcome.At,
		})
	} else {
		failed := outcome.Logs[len(outcome.Logs)-1]
		env = events.Failed(task.CustomerID, task.ID, outcome.At, events.FailedPayload{
			CustomerName: customer.Name,
			Email:        customer.Email,
			Plan:         string(customer.Plan),
			Features:     task.RequestedFeatures,
			FailedStep:   failed.Step,
			Reason:       failed.Error,
		})
	}

	if err := r.events.Publish(ctx, env); err != nil {
		logger.Warn("notification not delivered", zap.String("kind", string(env.Kind)), zap.Error(err))
	}
}

type migrationReport struct {
	TaskID     uuid.UUID                   `json:"taskId"`
	CustomerID uuid.UUID                   `json:"customerId"`
	Succeeded  bool                        `json:"succeeded"`
	FinishedAt time.Time                   `json:"finishedAt"`
	Steps      []service.MigrationLogEntry `json:"steps"`
}

// ReportKey is the archive key of a task's migration report.
func ReportKey(customerID, taskID uuid.UUID) string {
	return customerID.String() + "/migrations/" + taskID.String() + ".json"
}

func (r *Runner) archive(ctx context.Context, logger *zap.Logger, outcome service.MigrationOutcome) {
	if r.reports == nil {
		return
	}
	body, err := json.MarshalIndent(migrationReport{
		TaskID:     outcome.TaskID,
		CustomerID: outcome.CustomerID,
		Succeeded:  outcome.Succeeded,
		FinishedAt: outcome.At,
		Steps:      outcome.Logs,
	}, "", "  ")
	if err != nil {
		logger.Warn("encode migration report", zap.Error(err))
		return
	}
	if err := r.reports.Put(ctx, ReportKey(outcome.CustomerID, outcome.TaskID), body); err != nil {
		logger.Warn("archive migration report", zap.Error(err))
	}
}

func (r *Runner) audit(job service.MigrationJob, action service.AuditAction, details map[string]any) service.AuditEntry {
	if details == nil {
		details = map[string]any{}
	}
	details["taskId"] = job.TaskID.String()
	details["actor"] = string(requesttrace.ActorKindSystem)

	customerID := job.CustomerID
	entry := service.AuditEntry{
		Action:     action,
		CustomerID: &customerID,
		Details:    details,
		CreatedAt:  r.now(),
	}
	if job.AdminID != "" {
		adminID := job.AdminID
		entry.AdminID = &adminID
	}
	return entry
}

func (r *Runner) invalidateStats(ctx context.Context) {
	if r.stats != nil {
		r.stats.Invalidate(ctx)
	}
}
