package repo

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zenGate-Global/palmyra-provisioning/domains/provisioning/be/service"
)

// MemoryRepository is an in-memory implementation for tests and local development.
// A single mutex makes every conditional transition atomic.
type MemoryRepository struct {
	mu        sync.Mutex
	customers map[uuid.UUID]service.Customer
	tasks     map[uuid.UUID]service.Task
	backends  map[uuid.UUID]service.Backend
	audit     []service.AuditEntry
}

// NewMemoryRepository constructs a MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		customers: make(map[uuid.UUID]service.Customer),
		tasks:     make(map[uuid.UUID]service.Task),
		backends:  make(map[uuid.UUID]service.Backend),
	}
}

func (r *MemoryRepository) UpsertCustomer(ctx context.Context, c service.Customer) (service.Customer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.customers[c.ID]; ok {
		c.CreatedAt = existing.CreatedAt
	}
	r.customers[c.ID] = c
	return c, nil
}

func (r *MemoryRepository) GetCustomer(ctx context.Context, id uuid.UUID) (service.Customer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.customers[id]
	if !ok {
		return service.Customer{}, service.ErrCustomerNotFound
	}
	return c, nil
}

func (r *MemoryRepository) InsertTask(ctx context.Context, t service.Task, audit service.AuditEntry) (service.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.tasks {
		if existing.CustomerID == t.CustomerID && !existing.Status.Terminal() {
			return service.Task{}, service.ErrActiveTaskExists
		}
	}
	t = cloneTask(t)
	r.tasks[t.ID] = t
	r.appendAuditLocked(audit, t.CustomerID)
	return cloneTask(t), nil
}

func (r *MemoryRepository) GetTask(ctx context.Context, id uuid.UUID) (service.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tasks[id]
	if !ok {
		return service.Task{}, service.ErrNotFound
	}
	return cloneTask(t), nil
}

func (r *MemoryRepository) LatestTaskForCustomer(ctx context.Context, customerID uuid.UUID) (service.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var (
		latest service.Task
		found  bool
	)
	for _, t := range r.tasks {
		if t.CustomerID != customerID {
			continue
		}
		switch {
		case !found:
			latest, found = t, true
		case !t.Status.Terminal() && latest.Status.Terminal():
			latest = t
		case t.Status.Terminal() == latest.Status.Terminal() && t.CreatedAt.After(latest.CreatedAt):
			latest = t
		}
	}
	if !found {
		return service.Task{}, service.ErrNotFound
	}
	return cloneTask(latest), nil
}

func (r *MemoryRepository) ListQueue(ctx context.Context, filter service.QueueFilter) ([]service.QueueItem, error) {
	return r.listWhere(filter.Limit, func(t service.Task) bool {
		return filter.Status == nil || t.Status == *filter.Status
	}), nil
}

func (r *MemoryRepository) ListOverdue(ctx context.Context, now time.Time, limit int) ([]service.QueueItem, error) {
	return r.listWhere(limit, func(t service.Task) bool { return t.Overdue(now) }), nil
}

func (r *MemoryRepository) listWhere(limit int, keep func(service.Task) bool) []service.QueueItem {
	r.mu.Lock()
	defer r.mu.Unlock()

	tasks := make([]service.Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		if keep(t) {
			tasks = append(tasks, t)
		}
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].Precedes(tasks[j]) })

	if limit > 0 && len(tasks) > limit {
		tasks = tasks[:limit]
	}

	items := make([]service.QueueItem, 0, len(tasks))
	for _, t := range tasks {
		items = append(items, service.QueueItem{Task: cloneTask(t), Customer: r.customers[t.CustomerID]})
	}
	return items
}

func (r *MemoryRepository) CountPendingAhead(ctx context.Context, t service.Task) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, other := range r.tasks {
		if other.ID != t.ID && other.Status == service.StatusPending && other.Precedes(t) {
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepository) ClaimTask(ctx context.Context, id uuid.UUID, adminID string, at time.Time, audit service.AuditEntry) (service.Task, error) {
	return r.compareAndSwap(id, service.StatusPending, service.ErrConflict, audit, func(t *service.Task) {
		t.Status = service.StatusInProgress
		t.AssignedAdminID = &adminID
		t.StartedAt = &at
		t.LastStatusUpdate = at
	})
}

func (r *MemoryRepository) CancelTask(ctx context.Context, id uuid.UUID, at time.Time, audit service.AuditEntry) (service.Task, error) {
	return r.compareAndSwap(id, service.StatusPending, service.ErrConflict, audit, func(t *service.Task) {
		t.Status = service.StatusCancelled
		t.CompletedAt = &at
		t.LastStatusUpdate = at
	})
}

func (r *MemoryRepository) BeginMigration(ctx context.Context, taskID uuid.UUID, at time.Time, audit service.AuditEntry) (service.Task, error) {
	return r.compareAndSwap(taskID, service.StatusCredentialsReceived, service.ErrConflict, audit, func(t *service.Task) {
		t.Status = service.StatusMigrating
		t.LastStatusUpdate = at
	})
}

func (r *MemoryRepository) UpdateNotes(ctx context.Context, id uuid.UUID, notes string, at time.Time, audit service.AuditEntry) (service.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tasks[id]
	if !ok {
		return service.Task{}, service.ErrNotFound
	}
	if notes == "" {
		t.AdminNotes = nil
	} else {
		t.AdminNotes = &notes
	}
	r.tasks[id] = t
	r.appendAuditLocked(audit, t.CustomerID)
	return cloneTask(t), nil
}

func (r *MemoryRepository) RecordCredentials(ctx context.Context, taskID uuid.UUID, backend service.Backend, at time.Time, audit service.AuditEntry) (service.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tasks[taskID]
	if !ok || t.Status != service.StatusInProgress {
		return service.Task{}, service.ErrInvalidState
	}
	if existing, ok := r.backends[backend.CustomerID]; ok && existing.Status != service.BackendError {
		return service.Task{}, service.ErrBackendRegistered
	}

	backend.MigrationLogs = append([]service.MigrationLogEntry{}, backend.MigrationLogs...)
	r.backends[backend.CustomerID] = backend

	t.Status = service.StatusCredentialsReceived
	t.LastStatusUpdate = at
	r.tasks[taskID] = t
	r.appendAuditLocked(audit, t.CustomerID)
	return cloneTask(t), nil
}

func (r *MemoryRepository) GetBackend(ctx context.Context, customerID uuid.UUID) (service.Backend, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.backends[customerID]
	if !ok {
		return service.Backend{}, service.ErrBackendNotFound
	}
	b.MigrationLogs = append([]service.MigrationLogEntry{}, b.MigrationLogs...)
	return b, nil
}

func (r *MemoryRepository) FinalizeMigration(ctx context.Context, outcome service.MigrationOutcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.backends[outcome.CustomerID]
	if !ok {
		return service.ErrBackendNotFound
	}
	t, ok := r.tasks[outcome.TaskID]
	if !ok || t.Status != service.StatusMigrating {
		return service.ErrInvalidState
	}

	b.MigrationLogs = append([]service.MigrationLogEntry{}, outcome.Logs...)
	b.UpdatedAt = outcome.At
	t.LastStatusUpdate = outcome.At
	t.CompletedAt = &outcome.At
	if outcome.Succeeded {
		b.Status = service.BackendActive
		t.Status = service.StatusCompleted
	} else {
		b.Status = service.BackendError
		t.Status = service.StatusFailed
	}

	r.backends[outcome.CustomerID] = b
	r.tasks[outcome.TaskID] = t
	r.appendAuditLocked(outcome.Audit, outcome.CustomerID)
	return nil
}

func (r *MemoryRepository) AppendAudit(ctx context.Context, entry service.AuditEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.audit = append(r.audit, entry)
	r.audit[len(r.audit)-1].ID = int64(len(r.audit))
	return nil
}

func (r *MemoryRepository) ListAudit(ctx context.Context, customerID uuid.UUID, limit int) ([]service.AuditEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []service.AuditEntry
	for i := len(r.audit) - 1; i >= 0; i-- {
		e := r.audit[i]
		if e.CustomerID == nil || *e.CustomerID != customerID {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *MemoryRepository) ListStalled(ctx context.Context, before time.Time, limit int) ([]service.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []service.Task
	for _, t := range r.tasks {
		if t.Status == service.StatusCredentialsReceived && t.LastStatusUpdate.Before(before) {
			out = append(out, cloneTask(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastStatusUpdate.Before(out[j].LastStatusUpdate) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepository) Stats(ctx context.Context, dayStart, now time.Time) (service.Stats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var st service.Stats
	for _, t := range r.tasks {
		switch t.Status {
		case service.StatusPending:
			st.Pending++
		case service.StatusInProgress, service.StatusCredentialsReceived, service.StatusMigrating:
			st.InProgress++
		case service.StatusCompleted:
			if t.CompletedAt != nil && !t.CompletedAt.Before(dayStart) {
				st.CompletedToday++
			}
		case service.StatusFailed:
			if t.CompletedAt != nil && !t.CompletedAt.Before(dayStart) {
				st.FailedToday++
			}
		}
		if t.Overdue(now) {
			st.Overdue++
		}
	}
	return st, nil
}

// AuditEntries returns every recorded entry in insertion order.
func (r *MemoryRepository) AuditEntries() []service.AuditEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]service.AuditEntry{}, r.audit...)
}

func (r *MemoryRepository) compareAndSwap(id uuid.UUID, from service.TaskStatus, mismatch error, audit service.AuditEntry, apply func(t *service.Task)) (service.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tasks[id]
	if !ok || t.Status != from {
		return service.Task{}, mismatch
	}
	apply(&t)
	r.tasks[id] = t
	r.appendAuditLocked(audit, t.CustomerID)
	return cloneTask(t), nil
}

func (r *MemoryRepository) appendAuditLocked(entry service.AuditEntry, customerID uuid.UUID) {
	if entry.Action == "" {
		return
	}
	if entry.CustomerID == nil {
		entry.CustomerID = &customerID
	}
	entry.ID = int64(len(r.audit) + 1)
	r.audit = append(r.audit, entry)
}

func cloneTask(t service.Task) service.Task {
	t.RequestedFeatures = append([]string{}, t.RequestedFeatures...)
	return t
}

// Ensure interface compliance.
var _ service.Repository = (*MemoryRepository)(nil)
