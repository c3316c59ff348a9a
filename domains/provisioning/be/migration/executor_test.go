package migration

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/zenGate-Global/palmyra-provisioning/domains/provisioning/be/service"
	"github.com/zenGate-Global/palmyra-provisioning/platform/go/remotedb"
	"github.com/zenGate-Global/palmyra-provisioning/platform/go/remotedb/remotedbtest"
)

func stepNames(logs []service.MigrationLogEntry) []string {
	out := make([]string, 0, len(logs))
	for _, l := range logs {
		out = append(out, l.Step)
	}
	return out
}

func TestExecutorRunsStepsInOrder(t *testing.T) {
	catalog, err := DefaultCatalog()
	require.NoError(t, err)

	exec := NewExecutor(time.Second, zaptest.NewLogger(t))
	client := &remotedbtest.Client{}

	logs, err := exec.Run(context.Background(), client, catalog.Plan(uuid.New(), []string{"inventory", "crm", "projects"}))
	require.NoError(t, err)
	require.Equal(t, []string{"base_schema", "feature:inventory", "feature:crm", "feature:projects", "auth_config", "rls_policies"}, stepNames(logs))
	for _, l := range logs {
		require.Equal(t, service.StepSucceeded, l.Status)
		require.Empty(t, l.Error)
	}
	require.Len(t, client.Executed(), 6)
}

func TestExecutorStopsAtFirstFailure(t *testing.T) {
	catalog, err := DefaultCatalog()
	require.NoError(t, err)

	client := &remotedbtest.Client{FailExec: func(sql string) error {
		if strings.Contains(sql, "public.contacts") {
			return errors.New("permission denied for schema public")
		}
		return nil
	}}

	exec := NewExecutor(time.Second, zaptest.NewLogger(t))
	logs, err := exec.Run(context.Background(), client, catalog.Plan(uuid.New(), []string{"inventory", "crm", "projects"}))

	var stepErr *MigrationStepError
	require.ErrorAs(t, err, &stepErr)
	require.Equal(t, "feature:crm", stepErr.Step)

	require.Equal(t, []string{"base_schema", "feature:inventory", "feature:crm"}, stepNames(logs))
	require.Equal(t, service.StepSucceeded, logs[0].Status)
	require.Equal(t, service.StepSucceeded, logs[1].Status)
	require.Equal(t, service.StepFailed, logs[2].Status)
	require.Contains(t, logs[2].Error, "permission denied")
	require.Len(t, client.Executed(), 2)
}

func TestExecutorTemplateNotFoundAborts(t *testing.T) {
	catalog, err := DefaultCatalog()
	require.NoError(t, err)

	exec := NewExecutor(time.Second, zaptest.NewLogger(t))
	logs, err := exec.Run(context.Background(), &remotedbtest.Client{}, catalog.Plan(uuid.New(), []string{"crm", "spaceships", "inventory"}))

	var notFound *TemplateNotFoundError
	require.ErrorAs(t, err, &notFound)
	require.Equal(t, []string{"base_schema", "feature:crm", "feature:spaceships"}, stepNames(logs))
}

func TestExecutorRecoversPanickingStep(t *testing.T) {
	exec := NewExecutor(time.Second, zaptest.NewLogger(t))
	steps := []Step{
		{Name: "boom", Apply: func(context.Context, remotedb.Client) error { panic("nil map") }},
		{Name: "never", Apply: func(context.Context, remotedb.Client) error { return nil }},
	}

	logs, err := exec.Run(context.Background(), &remotedbtest.Client{}, steps)
	require.Error(t, err)
	require.Len(t, logs, 1)
	require.Contains(t, logs[0].Error, "panic: nil map")
}

func TestExecutorBoundsEachStep(t *testing.T) {
	exec := NewExecutor(20*time.Millisecond, zaptest.NewLogger(t))
	steps := []Step{{
		Name: "hang",
		Apply: func(ctx context.Context, _ remotedb.Client) error {
			<-ctx.Done()
			return ctx.Err()
		},
	}}

	logs, err := exec.Run(context.Background(), &remotedbtest.Client{}, steps)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, service.StepFailed, logs[0].Status)
}
