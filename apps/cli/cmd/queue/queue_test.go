package queue

import (
	"bytes"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/zenGate-Global/palmyra-provisioning/domains/provisioning/be/service"
)

func TestRenderQueueFlagsOverdue(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	admin := "admin-a"

	items := []service.QueueItem{
		{
			Task: service.Task{
				ID: uuid.New(), Status: service.StatusInProgress, AssignedAdminID: &admin,
				CreatedAt: now.Add(-3 * time.Hour), EstimatedCompletion: &past,
			},
			Customer: service.Customer{Name: "Acme", Plan: service.PlanEnterprise},
		},
		{
			Task:     service.Task{ID: uuid.New(), Status: service.StatusPending, CreatedAt: now.Add(-30 * time.Minute)},
			Customer: service.Customer{Name: "Globex", Plan: service.PlanStarter},
		},
	}

	var out bytes.Buffer
	renderQueue(&out, items, now)

	text := out.String()
	require.Contains(t, text, "Acme")
	require.Contains(t, text, "admin-a")
	require.Contains(t, text, "3h0m0s")
	require.Contains(t, text, "yes")
	require.Contains(t, text, "Globex")
}

func TestRenderStats(t *testing.T) {
	var out bytes.Buffer
	renderStats(&out, service.Stats{Pending: 4, InProgress: 2, CompletedToday: 1, Overdue: 1})

	require.Contains(t, out.String(), "pending")
	require.Contains(t, out.String(), "4")
}

func TestListRejectsUnknownStatus(t *testing.T) {
	cmd := Command()
	cmd.SetArgs([]string{"list", "--status", "sleeping", "--database-url", "postgres://unused"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})

	require.ErrorContains(t, cmd.Execute(), "--status")
}
