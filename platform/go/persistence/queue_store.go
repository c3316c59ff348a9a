package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// QueueTable is the provisioning work queue.
const QueueTable = "provisioning_queue"

// ActiveTaskConstraint enforces one non-terminal task per customer.
const ActiveTaskConstraint = "provisioning_queue_one_active_per_customer"

// queueOrder is the total order of the queue: priority, then age, then id.
const queueOrder = "q.priority DESC, q.created_at ASC, q.task_id ASC"

// TaskRecord represents a provisioning_queue row.
type TaskRecord struct {
	TaskID              uuid.UUID  `db:"task_id"`
	CustomerID          uuid.UUID  `db:"customer_id"`
	Status              string     `db:"status"`
	Priority            int        `db:"priority"`
	RequestedFeatures   []string   `db:"requested_features"`
	AssignedAdminID     *string    `db:"assigned_admin_id"`
	CreatedAt           time.Time  `db:"created_at"`
	StartedAt           *time.Time `db:"started_at"`
	CompletedAt         *time.Time `db:"completed_at"`
	LastStatusUpdate    time.Time  `db:"last_status_update"`
	EstimatedCompletion *time.Time `db:"estimated_completion"`
	AdminNotes          *string    `db:"admin_notes"`
}

// QueueRow is a task joined with its customer summary.
type QueueRow struct {
	Task     TaskRecord
	Customer CustomerRecord
}

// QueueStats are the counters shown on the admin dashboard.
type QueueStats struct {
	Pending        int
	InProgress     int
	CompletedToday int
	FailedToday    int
	Overdue        int
}

// QueueStore provides access to the provisioning queue.
type QueueStore struct {
	db Querier
}

// NewQueueStore creates a store; assumes migrations already created the table.
func NewQueueStore(db Querier) *QueueStore {
	if db == nil {
		panic("queue store: db is required")
	}
	return &QueueStore{db: db}
}

const taskColumns = `q.task_id, q.customer_id, q.status, q.priority, q.requested_features, q.assigned_admin_id,
        q.created_at, q.started_at, q.completed_at, q.last_status_update, q.estimated_completion, q.admin_notes`

const activeStatusList = "'pending', 'in_progress', 'credentials_received', 'migrating'"

// Insert adds a task. A second active task for the same customer violates ActiveTaskConstraint.
func (s *QueueStore) Insert(ctx context.Context, rec TaskRecord) (TaskRecord, error) {
	if rec.TaskID == uuid.Nil {
		return TaskRecord{}, errors.New("task id is required")
	}
	if rec.RequestedFeatures == nil {
		rec.RequestedFeatures = []string{}
	}

	query := fmt.Sprintf(`
        INSERT INTO %s AS q (
            task_id, customer_id, status, priority, requested_features, assigned_admin_id,
            created_at, started_at, completed_at, last_status_update, estimated_completion, admin_notes
        ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
        RETURNING %s`, QueueTable, taskColumns)

	return scanTaskRecord(s.db.QueryRow(ctx, query,
		rec.TaskID, rec.CustomerID, rec.Status, rec.Priority, rec.RequestedFeatures, rec.AssignedAdminID,
		rec.CreatedAt, rec.StartedAt, rec.CompletedAt, rec.LastStatusUpdate, rec.EstimatedCompletion, rec.AdminNotes,
	))
}

// Get returns a task by id.
func (s *QueueStore) Get(ctx context.Context, id uuid.UUID) (TaskRecord, error) {
	query := fmt.Sprintf("SELECT %s FROM %s q WHERE q.task_id = $1", taskColumns, QueueTable)
	return scanTaskRecord(s.db.QueryRow(ctx, query, id))
}

// LatestForCustomer returns the customer's active task, or the most recent one when none is active.
func (s *QueueStore) LatestForCustomer(ctx context.Context, customerID uuid.UUID) (TaskRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s q
        WHERE q.customer_id = $1
        ORDER BY (q.status IN (%s)) DESC, q.created_at DESC
        LIMIT 1`, taskColumns, QueueTable, activeStatusList)
	return scanTaskRecord(s.db.QueryRow(ctx, query, customerID))
}

// List returns tasks in queue order with their customer summary.
func (s *QueueStore) List(ctx context.Context, status *string, limit int) ([]QueueRow, error) {
	if status == nil {
		return s.listRows(ctx, "", limit)
	}
	return s.listRows(ctx, "WHERE q.status = $1", limit, *status)
}

// ListOverdue returns active tasks whose estimated completion is before now, in queue order.
func (s *QueueStore) ListOverdue(ctx context.Context, now time.Time, limit int) ([]QueueRow, error) {
	where := fmt.Sprintf("WHERE q.status IN (%s) AND q.estimated_completion < $1", activeStatusList)
	return s.listRows(ctx, where, limit, now)
}

func (s *QueueStore) listRows(ctx context.Context, where string, limit int, args ...any) ([]QueueRow, error) {
	query := fmt.Sprintf(`SELECT %s, c.customer_id, c.name, c.email, c.company, c.plan, c.created_at, c.updated_at
        FROM %s q
        JOIN %s c ON c.customer_id = q.customer_id
        %s
        ORDER BY %s
        LIMIT %d`, taskColumns, QueueTable, CustomersTable, where, queueOrder, limit)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []QueueRow
	for rows.Next() {
		var row QueueRow
		t := &row.Task
		c := &row.Customer
		if err := rows.Scan(
			&t.TaskID, &t.CustomerID, &t.Status, &t.Priority, &t.RequestedFeatures, &t.AssignedAdminID,
			&t.CreatedAt, &t.StartedAt, &t.CompletedAt, &t.LastStatusUpdate, &t.EstimatedCompletion, &t.AdminNotes,
			&c.CustomerID, &c.Name, &c.Email, &c.Company, &c.Plan, &c.CreatedAt, &c.UpdatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// CountPendingAhead counts pending tasks strictly preceding the given position in queue order.
func (s *QueueStore) CountPendingAhead(ctx context.Context, priority int, createdAt time.Time, taskID uuid.UUID) (int, error) {
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s
        WHERE status = 'pending'
          AND task_id <> $3
          AND (priority > $1
               OR (priority = $1 AND (created_at < $2 OR (created_at = $2 AND task_id < $3))))`, QueueTable)

	var n int
	if err := s.db.QueryRow(ctx, query, priority, createdAt, taskID).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// Claim is the single compare-and-swap that assigns a pending task. ErrNoMatch when the task
// is missing or no longer pending.
func (s *QueueStore) Claim(ctx context.Context, id uuid.UUID, adminID string, at time.Time) (TaskRecord, error) {
	query := fmt.Sprintf(`UPDATE %s AS q
        SET status = 'in_progress', assigned_admin_id = $2, started_at = $3, last_status_update = $3
        WHERE q.task_id = $1 AND q.status = 'pending'
        RETURNING %s`, QueueTable, taskColumns)

	rec, err := scanTaskRecord(s.db.QueryRow(ctx, query, id, adminID, at))
	if errors.Is(err, ErrNotFound) {
		return TaskRecord{}, ErrNoMatch
	}
	return rec, err
}

// Transition moves a task from one status to another atomically. Terminal targets stamp completed_at.
func (s *QueueStore) Transition(ctx context.Context, id uuid.UUID, from, to string, at time.Time) (TaskRecord, error) {
	completed := "completed_at"
	switch to {
	case "completed", "failed", "cancelled":
		completed = "$4"
	}

	query := fmt.Sprintf(`UPDATE %s AS q
        SET status = $3, last_status_update = $4, completed_at = %s
        WHERE q.task_id = $1 AND q.status = $2
        RETURNING %s`, QueueTable, completed, taskColumns)

	rec, err := scanTaskRecord(s.db.QueryRow(ctx, query, id, from, to, at))
	if errors.Is(err, ErrNotFound) {
		return TaskRecord{}, ErrNoMatch
	}
	return rec, err
}

// UpdateNotes replaces admin notes without touching the status.
func (s *QueueStore) UpdateNotes(ctx context.Context, id uuid.UUID, notes *string) (TaskRecord, error) {
	query := fmt.Sprintf(`UPDATE %s AS q SET admin_notes = $2 WHERE q.task_id = $1 RETURNING %s`, QueueTable, taskColumns)
	return scanTaskRecord(s.db.QueryRow(ctx, query, id, notes))
}

// ListStalled returns credentials_received tasks whose last update is older than before.
func (s *QueueStore) ListStalled(ctx context.Context, before time.Time, limit int) ([]TaskRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s q
        WHERE q.status = 'credentials_received' AND q.last_status_update < $1
        ORDER BY q.last_status_update ASC
        LIMIT %d`, taskColumns, QueueTable, limit)

	rows, err := s.db.Query(ctx, query, before)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TaskRecord
	for rows.Next() {
		rec, err := scanTaskRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Stats aggregates the dashboard counters in one pass.
func (s *QueueStore) Stats(ctx context.Context, dayStart, now time.Time) (QueueStats, error) {
	query := fmt.Sprintf(`SELECT
            COUNT(*) FILTER (WHERE status = 'pending'),
            COUNT(*) FILTER (WHERE status IN ('in_progress', 'credentials_received', 'migrating')),
            COUNT(*) FILTER (WHERE status = 'completed' AND completed_at >= $1),
            COUNT(*) FILTER (WHERE status = 'failed' AND completed_at >= $1),
            COUNT(*) FILTER (WHERE status IN (%s) AND estimated_completion < $2)
        FROM %s`, activeStatusList, QueueTable)

	var st QueueStats
	err := s.db.QueryRow(ctx, query, dayStart, now).Scan(&st.Pending, &st.InProgress, &st.CompletedToday, &st.FailedToday, &st.Overdue)
	return st, err
}

func scanTaskRecord(row pgx.Row) (TaskRecord, error) {
	var rec TaskRecord
	if err := row.Scan(
		&rec.TaskID, &rec.CustomerID, &rec.Status, &rec.Priority, &rec.RequestedFeatures, &rec.AssignedAdminID,
		&rec.CreatedAt, &rec.StartedAt, &rec.CompletedAt, &rec.LastStatusUpdate, &rec.EstimatedCompletion, &rec.AdminNotes,
	); err != nil {
		return TaskRecord{}, notFound(err)
	}
	return rec, nil
}
