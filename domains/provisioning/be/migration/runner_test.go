package migration_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/zenGate-Global/palmyra-provisioning/domains/provisioning/be/events"
	"github.com/zenGate-Global/palmyra-provisioning/domains/provisioning/be/migration"
	"github.com/zenGate-Global/palmyra-provisioning/domains/provisioning/be/repo"
	"github.com/zenGate-Global/palmyra-provisioning/domains/provisioning/be/service"
	"github.com/zenGate-Global/palmyra-provisioning/platform/go/remotedb"
	"github.com/zenGate-Global/palmyra-provisioning/platform/go/remotedb/remotedbtest"
	"github.com/zenGate-Global/palmyra-provisioning/platform/go/vault"
)

type jobSink struct {
	mu   sync.Mutex
	jobs []service.MigrationJob
}

func (s *jobSink) Enqueue(_ context.Context, job service.MigrationJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, job)
	return nil
}

type eventLog struct {
	mu   sync.Mutex
	sent []events.Envelope
}

func (l *eventLog) Publish(_ context.Context, env events.Envelope) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sent = append(l.sent, env)
	return nil
}

func (l *eventLog) last() events.Envelope {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sent[len(l.sent)-1]
}

type memoryReports struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (m *memoryReports) Put(_ context.Context, key string, body []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.objects == nil {
		m.objects = map[string][]byte{}
	}
	m.objects[key] = body
	return nil
}

type harness struct {
	repo    *repo.MemoryRepository
	svc     *service.Service
	vault   *vault.Vault
	client  *remotedbtest.Client
	sink    *jobSink
	events  *eventLog
	reports *memoryReports
	catalog *migration.Catalog
	runner  *migration.Runner
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	v, err := vault.New("runner-secret")
	require.NoError(t, err)
	catalog, err := migration.DefaultCatalog()
	require.NoError(t, err)

	h := &harness{
		repo:    repo.NewMemoryRepository(),
		vault:   v,
		client:  &remotedbtest.Client{ProbeErr: &remotedb.RemoteError{Status: 404, Code: "PGRST205"}},
		sink:    &jobSink{},
		events:  &eventLog{},
		reports: &memoryReports{},
		catalog: catalog,
	}
	dialer := &remotedbtest.Dialer{Client: h.client}
	logger := zaptest.NewLogger(t)

	h.svc = service.New(service.Deps{
		Repo:       h.repo,
		Vault:      v,
		Dialer:     dialer,
		Migrations: h.sink,
		Events:     h.events,
		Catalog:    catalog,
		Waits:      service.DefaultWaitPolicy(),
		Logger:     logger,
	}, service.Config{HostingDomain: "supabase.co"})

	h.runner = migration.NewRunner(migration.RunnerDeps{
		Repo:     h.repo,
		Vault:    v,
		Dialer:   dialer,
		Catalog:  catalog,
		Executor: migration.NewExecutor(time.Second, logger),
		Events:   h.events,
		Reports:  h.reports,
		Logger:   logger,
	})
	return h
}

// submitted walks a fresh customer up to credentials_received and returns the queued job.
func (h *harness) submitted(t *testing.T, features ...string) service.MigrationJob {
	t.Helper()
	ctx := context.Background()

	res, err := h.svc.CreateRequest(ctx, service.OnboardingInput{
		CustomerID: uuid.New(),
		Name:       "Grace Hopper",
		Email:      "grace@example.com",
		Plan:       "enterprise",
		Features:   features,
	})
	require.NoError(t, err)
	_, err = h.svc.Claim(ctx, res.Task.ID, "admin-7")
	require.NoError(t, err)
	_, err = h.svc.SubmitCredentials(ctx, res.Task.ID, service.CredentialsInput{
		ProjectRef:     "abcdefghijklmnopqrst",
		ProjectURL:     "https://abcdefghijklmnopqrst.supabase.co",
		AnonKey:        strings.Repeat("a", 40),
		ServiceRoleKey: strings.Repeat("s", 40),
	}, "admin-7")
	require.NoError(t, err)

	h.sink.mu.Lock()
	defer h.sink.mu.Unlock()
	return h.sink.jobs[len(h.sink.jobs)-1]
}

func TestRunnerCompletesMigration(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	job := h.submitted(t, "invoicing", "crm", "inventory")

	require.NoError(t, h.runner.Run(ctx, job))

	task, err := h.repo.GetTask(ctx, job.TaskID)
	require.NoError(t, err)
	require.Equal(t, service.StatusCompleted, task.Status)
	require.NotNil(t, task.CompletedAt)

	backend, err := h.repo.GetBackend(ctx, job.CustomerID)
	require.NoError(t, err)
	require.Equal(t, service.BackendActive, backend.Status)

	var steps []string
	for _, l := range backend.MigrationLogs {
		steps = append(steps, l.Step)
		require.Equal(t, service.StepSucceeded, l.Status)
	}
	require.Equal(t, []string{"base_schema", "feature:invoicing", "feature:crm", "feature:inventory", "auth_config", "rls_policies"}, steps)

	ready := h.events.last()
	require.Equal(t, events.KindReady, ready.Kind)
	payload := ready.Payload.(events.ReadyPayload)
	require.Equal(t, []string{"invoicing", "crm", "inventory"}, payload.Features)
	require.Equal(t, "https://abcdefghijklmnopqrst.supabase.co", payload.ProjectURL)

	var report struct {
		Succeeded bool `json:"succeeded"`
		Steps     []struct {
			Step string `json:"step"`
		} `json:"steps"`
	}
	raw := h.reports.objects[migration.ReportKey(job.CustomerID, job.TaskID)]
	require.NoError(t, json.Unmarshal(raw, &report))
	require.True(t, report.Succeeded)
	require.Len(t, report.Steps, 6)

	trail, err := h.svc.ListAudit(ctx, job.CustomerID, 10)
	require.NoError(t, err)
	require.Equal(t, service.AuditMigrationCompleted, trail[0].Action)
	require.Equal(t, service.AuditMigrationStarted, trail[1].Action)
	require.Equal(t, "admin-7", *trail[0].AdminID)
}

func TestRunnerRecordsPartialFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	job := h.submitted(t, "inventory", "crm", "projects")

	h.client.FailExec = func(sql string) error {
		if strings.Contains(sql, "public.contacts") {
			return errors.New("permission denied for schema public")
		}
		return nil
	}

	err := h.runner.Run(ctx, job)
	var stepErr *migration.MigrationStepError
	require.ErrorAs(t, err, &stepErr)
	require.Equal(t, "feature:crm", stepErr.Step)

	task, err := h.repo.GetTask(ctx, job.TaskID)
	require.NoError(t, err)
	require.Equal(t, service.StatusFailed, task.Status)

	backend, err := h.repo.GetBackend(ctx, job.CustomerID)
	require.NoError(t, err)
	require.Equal(t, service.BackendError, backend.Status)
	require.Len(t, backend.MigrationLogs, 3)
	require.Equal(t, service.StepSucceeded, backend.MigrationLogs[0].Status)
	require.Equal(t, service.StepSucceeded, backend.MigrationLogs[1].Status)
	require.Equal(t, service.StepFailed, backend.MigrationLogs[2].Status)
	require.Contains(t, backend.MigrationLogs[2].Error, "permission denied")

	failed := h.events.last()
	require.Equal(t, events.KindFailed, failed.Kind)
	require.Equal(t, "feature:crm", failed.Payload.(events.FailedPayload).FailedStep)
}

func TestRunnerRefusesUndecryptableCredentials(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	job := h.submitted(t, "crm")

	other, err := vault.New("a-different-secret")
	require.NoError(t, err)
	runner := migration.NewRunner(migration.RunnerDeps{
		Repo:     h.repo,
		Vault:    other,
		Dialer:   &remotedbtest.Dialer{Client: h.client},
		Catalog:  h.catalog,
		Executor: migration.NewExecutor(time.Second, zaptest.NewLogger(t)),
		Events:   h.events,
	})

	err = runner.Run(ctx, job)
	var stepErr *migration.MigrationStepError
	require.ErrorAs(t, err, &stepErr)
	require.Equal(t, migration.StepLoadCredentials, stepErr.Step)
	require.Empty(t, h.client.Executed())

	task, err := h.repo.GetTask(ctx, job.TaskID)
	require.NoError(t, err)
	require.Equal(t, service.StatusFailed, task.Status)
}

func TestRunnerIgnoresDuplicateJob(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	job := h.submitted(t, "crm")

	require.NoError(t, h.runner.Run(ctx, job))
	executed := len(h.client.Executed())

	require.NoError(t, h.runner.Run(ctx, job))
	require.Len(t, h.client.Executed(), executed)
}

func TestRunnerDialFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	job := h.submitted(t, "crm")

	runner := migration.NewRunner(migration.RunnerDeps{
		Repo:     h.repo,
		Vault:    h.vault,
		Dialer:   &remotedbtest.Dialer{DialErr: errors.New("no route to host")},
		Catalog:  h.catalog,
		Executor: migration.NewExecutor(time.Second, zaptest.NewLogger(t)),
		Events:   h.events,
	})

	err := runner.Run(ctx, job)
	var stepErr *migration.MigrationStepError
	require.ErrorAs(t, err, &stepErr)
	require.Equal(t, migration.StepConnect, stepErr.Step)
}

func TestWorkerShutdownLetsInFlightMigrationFinish(t *testing.T) {
	h := newHarness(t)
	job := h.submitted(t, "crm")

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	h.client.FailExec = func(string) error {
		once.Do(func() {
			close(entered)
			<-release
		})
		return nil
	}

	parent, cancelParent := context.WithCancel(context.Background())
	worker := migration.NewWorker(h.runner, 1, 4, zaptest.NewLogger(t))
	worker.Start(parent)
	require.NoError(t, worker.Enqueue(context.Background(), job))

	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatal("migration never reached the base schema step")
	}

	// SIGTERM: the process context goes first, then the worker is drained.
	cancelParent()
	stopped := make(chan error, 1)
	go func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		stopped <- worker.Stop(stopCtx)
	}()
	close(release)
	require.NoError(t, <-stopped)

	ctx := context.Background()
	task, err := h.repo.GetTask(ctx, job.TaskID)
	require.NoError(t, err)
	require.Equal(t, service.StatusCompleted, task.Status)

	backend, err := h.repo.GetBackend(ctx, job.CustomerID)
	require.NoError(t, err)
	require.Equal(t, service.BackendActive, backend.Status)
	require.Equal(t, events.KindReady, h.events.last().Kind)
}

func TestWorkerStopDeadlineCancelsStuckMigration(t *testing.T) {
	h := newHarness(t)
	job := h.submitted(t, "crm")

	entered := make(chan struct{})
	var once sync.Once
	block := make(chan struct{})
	t.Cleanup(func() { close(block) })
	h.client.FailExec = func(string) error {
		once.Do(func() { close(entered) })
		return nil
	}

	worker := migration.NewWorker(runnerFunc(func(ctx context.Context, j service.MigrationJob) error {
		err := h.runner.Run(ctx, j)
		select {
		case <-ctx.Done():
		case <-block:
		}
		return err
	}), 1, 4, zaptest.NewLogger(t))
	worker.Start(context.Background())
	require.NoError(t, worker.Enqueue(context.Background(), job))
	<-entered

	stopCtx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, worker.Stop(stopCtx), context.DeadlineExceeded)
}

type runnerFunc func(ctx context.Context, job service.MigrationJob) error

func (f runnerFunc) Run(ctx context.Context, job service.MigrationJob) error { return f(ctx, job) }
