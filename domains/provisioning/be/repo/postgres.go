package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/zenGate-Global/palmyra-provisioning/domains/provisioning/be/service"
	"github.com/zenGate-Global/palmyra-provisioning/platform/go/persistence"
)

// PostgresRepository implements the provisioning repository on the shared persistence stores.
// Every transition that also writes an audit entry runs in one transaction.
type PostgresRepository struct {
	pool      *pgxpool.Pool
	customers *persistence.CustomerStore
	queue     *persistence.QueueStore
	backends  *persistence.BackendStore
	audit     *persistence.AuditStore
}

// NewPostgresRepository constructs a repository backed by pool.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	if pool == nil {
		panic("pgx pool is required")
	}
	return &PostgresRepository{
		pool:      pool,
		customers: persistence.NewCustomerStore(pool),
		queue:     persistence.NewQueueStore(pool),
		backends:  persistence.NewBackendStore(pool),
		audit:     persistence.NewAuditStore(pool),
	}
}

func (r *PostgresRepository) UpsertCustomer(ctx context.Context, c service.Customer) (service.Customer, error) {
	rec, err := r.customers.Upsert(ctx, persistence.CustomerRecord{
		CustomerID: c.ID,
		Name:       c.Name,
		Email:      c.Email,
		Company:    c.Company,
		Plan:       string(c.Plan),
		CreatedAt:  c.CreatedAt,
	})
	if err != nil {
		return service.Customer{}, err
	}
	return toServiceCustomer(rec)
}

func (r *PostgresRepository) GetCustomer(ctx context.Context, id uuid.UUID) (service.Customer, error) {
	rec, err := r.customers.Get(ctx, id)
	if err != nil {
		return service.Customer{}, mapNotFound(err, service.ErrCustomerNotFound)
	}
	return toServiceCustomer(rec)
}

func (r *PostgresRepository) InsertTask(ctx context.Context, t service.Task, audit service.AuditEntry) (service.Task, error) {
	var out persistence.TaskRecord
	err := persistence.InTx(ctx, r.pool, func(tx pgx.Tx) error {
		var err error
		out, err = persistence.NewQueueStore(tx).Insert(ctx, toTaskRecord(t))
		if err != nil {
			if persistence.IsUniqueViolation(err, persistence.ActiveTaskConstraint) {
				return service.ErrActiveTaskExists
			}
			return err
		}
		return appendAudit(ctx, tx, audit, out.CustomerID)
	})
	if err != nil {
		return service.Task{}, err
	}
	return toServiceTask(out)
}

func (r *PostgresRepository) GetTask(ctx context.Context, id uuid.UUID) (service.Task, error) {
	rec, err := r.queue.Get(ctx, id)
	if err != nil {
		return service.Task{}, mapNotFound(err, service.ErrNotFound)
	}
	return toServiceTask(rec)
}

func (r *PostgresRepository) LatestTaskForCustomer(ctx context.Context, customerID uuid.UUID) (service.Task, error) {
	rec, err := r.queue.LatestForCustomer(ctx, customerID)
	if err != nil {
		return service.Task{}, mapNotFound(err, service.ErrNotFound)
	}
	return toServiceTask(rec)
}

func (r *PostgresRepository) ListQueue(ctx context.Context, filter service.QueueFilter) ([]service.QueueItem, error) {
	var status *string
	if filter.Status != nil {
		s := string(*filter.Status)
		status = &s
	}

	rows, err := r.queue.List(ctx, status, filter.Limit)
	if err != nil {
		return nil, err
	}
	return toQueueItems(rows)
}

func (r *PostgresRepository) ListOverdue(ctx context.Context, now time.Time, limit int) ([]service.QueueItem, error) {
	rows, err := r.queue.ListOverdue(ctx, now, limit)
	if err != nil {
		return nil, err
	}
	return toQueueItems(rows)
}

func toQueueItems(rows []persistence.QueueRow) ([]service.QueueItem, error) {
	items := make([]service.QueueItem, 0, len(rows))
	for _, row := range rows {
		task, err := toServiceTask(row.Task)
		if err != nil {
			return nil, err
		}
		customer, err := toServiceCustomer(row.Customer)
		if err != nil {
			return nil, err
		}
		items = append(items, service.QueueItem{Task: task, Customer: customer})
	}
	return items, nil
}

func (r *PostgresRepository) CountPendingAhead(ctx context.Context, t service.Task) (int, error) {
	return r.queue.CountPendingAhead(ctx, t.Priority, t.CreatedAt, t.ID)
}

func (r *PostgresRepository) ClaimTask(ctx context.Context, id uuid.UUID, adminID string, at time.Time, audit service.AuditEntry) (service.Task, error) {
	return r.transition(ctx, audit, func(q *persistence.QueueStore) (persistence.TaskRecord, error) {
		return q.Claim(ctx, id, adminID, at)
	})
}

func (r *PostgresRepository) CancelTask(ctx context.Context, id uuid.UUID, at time.Time, audit service.AuditEntry) (service.Task, error) {
	return r.transition(ctx, audit, func(q *persistence.QueueStore) (persistence.TaskRecord, error) {
		return q.Transition(ctx, id, string(service.StatusPending), string(service.StatusCancelled), at)
	})
}

func (r *PostgresRepository) BeginMigration(ctx context.Context, taskID uuid.UUID, at time.Time, audit service.AuditEntry) (service.Task, error) {
	return r.transition(ctx, audit, func(q *persistence.QueueStore) (persistence.TaskRecord, error) {
		return q.Transition(ctx, taskID, string(service.StatusCredentialsReceived), string(service.StatusMigrating), at)
	})
}

func (r *PostgresRepository) UpdateNotes(ctx context.Context, id uuid.UUID, notes string, at time.Time, audit service.AuditEntry) (service.Task, error) {
	var value *string
	if notes != "" {
		value = &notes
	}

	var out persistence.TaskRecord
	err := persistence.InTx(ctx, r.pool, func(tx pgx.Tx) error {
		var err error
		out, err = persistence.NewQueueStore(tx).UpdateNotes(ctx, id, value)
		if err != nil {
			return mapNotFound(err, service.ErrNotFound)
		}
		return appendAudit(ctx, tx, audit, out.CustomerID)
	})
	if err != nil {
		return service.Task{}, err
	}
	return toServiceTask(out)
}

func (r *PostgresRepository) RecordCredentials(ctx context.Context, taskID uuid.UUID, backend service.Backend, at time.Time, audit service.AuditEntry) (service.Task, error) {
	rec, err := toBackendRecord(backend)
	if err != nil {
		return service.Task{}, err
	}

	var out persistence.TaskRecord
	err = persistence.InTx(ctx, r.pool, func(tx pgx.Tx) error {
		var err error
		out, err = persistence.NewQueueStore(tx).Transition(ctx, taskID, string(service.StatusInProgress), string(service.StatusCredentialsReceived), at)
		if err != nil {
			return mapNoMatch(err, service.ErrInvalidState)
		}
		if out.CustomerID != backend.CustomerID {
			return fmt.Errorf("backend customer %s does not own task %s", backend.CustomerID, taskID)
		}
		if _, err := persistence.NewBackendStore(tx).Register(ctx, rec); err != nil {
			return mapNoMatch(err, service.ErrBackendRegistered)
		}
		return appendAudit(ctx, tx, audit, out.CustomerID)
	})
	if err != nil {
		return service.Task{}, err
	}
	return toServiceTask(out)
}

func (r *PostgresRepository) GetBackend(ctx context.Context, customerID uuid.UUID) (service.Backend, error) {
	rec, err := r.backends.Get(ctx, customerID)
	if err != nil {
		return service.Backend{}, mapNotFound(err, service.ErrBackendNotFound)
	}
	return toServiceBackend(rec)
}

func (r *PostgresRepository) FinalizeMigration(ctx context.Context, outcome service.MigrationOutcome) error {
	logs, err := json.Marshal(nonNilLogs(outcome.Logs))
	if err != nil {
		return fmt.Errorf("encode migration log: %w", err)
	}

	backendStatus, taskStatus := service.BackendError, service.StatusFailed
	if outcome.Succeeded {
		backendStatus, taskStatus = service.BackendActive, service.StatusCompleted
	}

	return persistence.InTx(ctx, r.pool, func(tx pgx.Tx) error {
		if err := persistence.NewBackendStore(tx).Finalize(ctx, outcome.CustomerID, string(backendStatus), logs, outcome.At); err != nil {
			return mapNotFound(err, service.ErrBackendNotFound)
		}
		if _, err := persistence.NewQueueStore(tx).Transition(ctx, outcome.TaskID, string(service.StatusMigrating), string(taskStatus), outcome.At); err != nil {
			return mapNoMatch(err, service.ErrInvalidState)
		}
		return appendAudit(ctx, tx, outcome.Audit, outcome.CustomerID)
	})
}

func (r *PostgresRepository) AppendAudit(ctx context.Context, entry service.AuditEntry) error {
	rec, err := toAuditRecord(entry)
	if err != nil {
		return err
	}
	_, err = r.audit.Append(ctx, rec)
	return err
}

func (r *PostgresRepository) ListAudit(ctx context.Context, customerID uuid.UUID, limit int) ([]service.AuditEntry, error) {
	recs, err := r.audit.ListByCustomer(ctx, customerID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]service.AuditEntry, 0, len(recs))
	for _, rec := range recs {
		entry, err := toServiceAudit(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, nil
}

func (r *PostgresRepository) ListStalled(ctx context.Context, before time.Time, limit int) ([]service.Task, error) {
	recs, err := r.queue.ListStalled(ctx, before, limit)
	if err != nil {
		return nil, err
	}
	out := make([]service.Task, 0, len(recs))
	for _, rec := range recs {
		task, err := toServiceTask(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, task)
	}
	return out, nil
}

func (r *PostgresRepository) Stats(ctx context.Context, dayStart, now time.Time) (service.Stats, error) {
	st, err := r.queue.Stats(ctx, dayStart, now)
	if err != nil {
		return service.Stats{}, err
	}
	return service.Stats{
		Pending:        st.Pending,
		InProgress:     st.InProgress,
		CompletedToday: st.CompletedToday,
		FailedToday:    st.FailedToday,
		Overdue:        st.Overdue,
	}, nil
}

// transition runs a conditional queue update and its audit entry in one transaction.
func (r *PostgresRepository) transition(ctx context.Context, audit service.AuditEntry, update func(q *persistence.QueueStore) (persistence.TaskRecord, error)) (service.Task, error) {
	var out persistence.TaskRecord
	err := persistence.InTx(ctx, r.pool, func(tx pgx.Tx) error {
		var err error
		out, err = update(persistence.NewQueueStore(tx))
		if err != nil {
			return mapNoMatch(err, service.ErrConflict)
		}
		return appendAudit(ctx, tx, audit, out.CustomerID)
	})
	if err != nil {
		return service.Task{}, err
	}
	return toServiceTask(out)
}

func appendAudit(ctx context.Context, tx pgx.Tx, entry service.AuditEntry, customerID uuid.UUID) error {
	if entry.CustomerID == nil {
		entry.CustomerID = &customerID
	}
	rec, err := toAuditRecord(entry)
	if err != nil {
		return err
	}
	_, err = persistence.NewAuditStore(tx).Append(ctx, rec)
	return err
}

func mapNotFound(err, target error) error {
	if errors.Is(err, persistence.ErrNotFound) {
		return target
	}
	return err
}

func mapNoMatch(err, target error) error {
	if errors.Is(err, persistence.ErrNoMatch) || errors.Is(err, persistence.ErrNotFound) {
		return target
	}
	return err
}

// Ensure interface compliance.
var _ service.Repository = (*PostgresRepository)(nil)
