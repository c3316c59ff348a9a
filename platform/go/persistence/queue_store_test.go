package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"
)

func seedCustomer(t *testing.T, ctx context.Context, store *CustomerStore, plan string) uuid.UUID {
	t.Helper()
	id := uuid.New()
	_, err := store.Upsert(ctx, CustomerRecord{
		CustomerID: id,
		Name:       "Customer " + id.String()[:8],
		Email:      id.String()[:8] + "@example.com",
		Plan:       plan,
		CreatedAt:  time.Now().UTC(),
	})
	require.NoError(t, err)
	return id
}

func pendingTask(customerID uuid.UUID, priority int, createdAt time.Time) TaskRecord {
	return TaskRecord{
		TaskID:            uuid.New(),
		CustomerID:        customerID,
		Status:            "pending",
		Priority:          priority,
		RequestedFeatures: []string{"inventory", "crm"},
		CreatedAt:         createdAt,
		LastStatusUpdate:  createdAt,
	}
}

func TestProvisioningStoresIntegration(t *testing.T) {
	t.Parallel()

	pool, connString := startPostgres(t)
	ctx := context.Background()

	customers := NewCustomerStore(pool)
	queue := NewQueueStore(pool)
	backends := NewBackendStore(pool)
	audit := NewAuditStore(pool)

	base := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)

	t.Run("queue order and position", func(t *testing.T) {
		professional, err := queue.Insert(ctx, pendingTask(seedCustomer(t, ctx, customers, "professional"), 1, base))
		require.NoError(t, err)
		starter, err := queue.Insert(ctx, pendingTask(seedCustomer(t, ctx, customers, "starter"), 0, base.Add(-time.Hour)))
		require.NoError(t, err)
		enterprise, err := queue.Insert(ctx, pendingTask(seedCustomer(t, ctx, customers, "enterprise"), 2, base.Add(time.Hour)))
		require.NoError(t, err)

		pending := "pending"
		rows, err := queue.List(ctx, &pending, 10)
		require.NoError(t, err)
		require.Len(t, rows, 3)
		require.Equal(t, enterprise.TaskID, rows[0].Task.TaskID)
		require.Equal(t, professional.TaskID, rows[1].Task.TaskID)
		require.Equal(t, starter.TaskID, rows[2].Task.TaskID)
		require.NotEmpty(t, rows[0].Customer.Name)

		ahead, err := queue.CountPendingAhead(ctx, enterprise.Priority, enterprise.CreatedAt, enterprise.TaskID)
		require.NoError(t, err)
		require.Zero(t, ahead)

		ahead, err = queue.CountPendingAhead(ctx, starter.Priority, starter.CreatedAt, starter.TaskID)
		require.NoError(t, err)
		require.Equal(t, 2, ahead)

		// cleanup so later subtests see an empty pending set
		for _, id := range []uuid.UUID{professional.TaskID, starter.TaskID, enterprise.TaskID} {
			_, err := queue.Transition(ctx, id, "pending", "cancelled", base)
			require.NoError(t, err)
		}
	})

	t.Run("one active task per customer", func(t *testing.T) {
		customerID := seedCustomer(t, ctx, customers, "standard")
		_, err := queue.Insert(ctx, pendingTask(customerID, 0, base))
		require.NoError(t, err)

		_, err = queue.Insert(ctx, pendingTask(customerID, 0, base.Add(time.Minute)))
		require.True(t, IsUniqueViolation(err, ActiveTaskConstraint))
	})

	t.Run("concurrent claims have exactly one winner", func(t *testing.T) {
		task, err := queue.Insert(ctx, pendingTask(seedCustomer(t, ctx, customers, "starter"), 0, base))
		require.NoError(t, err)

		const admins = 8
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			winners   []string
			conflicts int
		)
		for i := 0; i < admins; i++ {
			adminID := uuid.NewString()
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := queue.Claim(ctx, task.TaskID, adminID, time.Now().UTC())
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					winners = append(winners, adminID)
				case errors.Is(err, ErrNoMatch):
					conflicts++
				default:
					t.Errorf("unexpected claim error: %v", err)
				}
			}()
		}
		wg.Wait()

		require.Len(t, winners, 1)
		require.Equal(t, admins-1, conflicts)

		stored, err := queue.Get(ctx, task.TaskID)
		require.NoError(t, err)
		require.Equal(t, "in_progress", stored.Status)
		require.Equal(t, winners[0], *stored.AssignedAdminID)
		require.NotNil(t, stored.StartedAt)
	})

	t.Run("backend register only replaces error rows", func(t *testing.T) {
		customerID := seedCustomer(t, ctx, customers, "enterprise")
		rec := BackendRecord{
			CustomerID:              customerID,
			ProjectRef:              "abcdefghijklmnopqrst",
			APIURL:                  "https://abcdefghijklmnopqrst.supabase.co",
			EncryptedAnonKey:        "aa:bb:cc",
			EncryptedServiceRoleKey: "dd:ee:ff",
			ProvisioningStatus:      "credentials_received",
			CreatedAt:               base,
		}
		_, err := backends.Register(ctx, rec)
		require.NoError(t, err)

		_, err = backends.Register(ctx, rec)
		require.ErrorIs(t, err, ErrNoMatch)

		logs, _ := json.Marshal([]map[string]string{{"step": "base_schema", "status": "failed", "error": "boom"}})
		require.NoError(t, backends.Finalize(ctx, customerID, "error", logs, base))

		rec.ProjectRef = "zyxwvutsrqponmlkjihg"
		replaced, err := backends.Register(ctx, rec)
		require.NoError(t, err)
		require.Equal(t, "zyxwvutsrqponmlkjihg", replaced.ProjectRef)
		require.Equal(t, "credentials_received", replaced.ProvisioningStatus)
		require.JSONEq(t, "[]", string(replaced.MigrationLogs))
	})

	t.Run("audit log is append only", func(t *testing.T) {
		customerID := seedCustomer(t, ctx, customers, "starter")
		admin := "admin-1"
		id, err := audit.Append(ctx, AuditRecord{Action: "provisioning.claimed", CustomerID: &customerID, AdminID: &admin, Details: json.RawMessage(`{"taskId":"x"}`), CreatedAt: base})
		require.NoError(t, err)
		require.Positive(t, id)

		entries, err := audit.ListByCustomer(ctx, customerID, 10)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		require.Equal(t, "provisioning.claimed", entries[0].Action)

		_, err = pool.Exec(ctx, "DELETE FROM "+AuditTable+" WHERE entry_id = $1", id)
		require.Error(t, err)
	})

	t.Run("transactions roll back together", func(t *testing.T) {
		task, err := queue.Insert(ctx, pendingTask(seedCustomer(t, ctx, customers, "starter"), 0, base))
		require.NoError(t, err)

		boom := errors.New("boom")
		err = InTx(ctx, pool, func(tx pgx.Tx) error {
			if _, err := NewQueueStore(tx).Claim(ctx, task.TaskID, "admin-x", base); err != nil {
				return err
			}
			return boom
		})
		require.ErrorIs(t, err, boom)

		stored, err := queue.Get(ctx, task.TaskID)
		require.NoError(t, err)
		require.Equal(t, "pending", stored.Status)
	})

	t.Run("stats", func(t *testing.T) {
		stats, err := queue.Stats(ctx, base.Add(-24*time.Hour), base.Add(48*time.Hour))
		require.NoError(t, err)
		require.GreaterOrEqual(t, stats.Pending, 1)
		require.GreaterOrEqual(t, stats.InProgress, 1)
	})

	t.Run("migrate up is idempotent", func(t *testing.T) {
		version, err := Migrate(connString, MigrateUp)
		require.NoError(t, err)
		require.EqualValues(t, 4, version)
	})

	_, err := queue.Get(ctx, uuid.New())
	require.ErrorIs(t, err, ErrNotFound)
}
