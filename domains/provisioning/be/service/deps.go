package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/zenGate-Global/palmyra-provisioning/domains/provisioning/be/events"
)

// Repository abstracts the queue store. Every status transition is a single conditional
// write evaluated by the store; callers never read-then-write.
type Repository interface {
	UpsertCustomer(ctx context.Context, c Customer) (Customer, error)
	GetCustomer(ctx context.Context, id uuid.UUID) (Customer, error)

	// InsertTask returns ErrActiveTaskExists when the customer already has a non-terminal task.
	InsertTask(ctx context.Context, t Task, audit AuditEntry) (Task, error)
	GetTask(ctx context.Context, id uuid.UUID) (Task, error)
	// LatestTaskForCustomer prefers the active task, then the most recent one.
	LatestTaskForCustomer(ctx context.Context, customerID uuid.UUID) (Task, error)
	ListQueue(ctx context.Context, filter QueueFilter) ([]QueueItem, error)
	// CountPendingAhead counts pending tasks that strictly precede t.
	CountPendingAhead(ctx context.Context, t Task) (int, error)

	// ClaimTask moves pending -> in_progress; ErrConflict when nothing matched.
	ClaimTask(ctx context.Context, id uuid.UUID, adminID string, at time.Time, audit AuditEntry) (Task, error)
	// CancelTask moves pending -> cancelled; ErrConflict when nothing matched.
	CancelTask(ctx context.Context, id uuid.UUID, at time.Time, audit AuditEntry) (Task, error)
	UpdateNotes(ctx context.Context, id uuid.UUID, notes string, at time.Time, audit AuditEntry) (Task, error)

	// RecordCredentials stores the sealed backend and moves in_progress -> credentials_received.
	// An existing backend is only replaced when it is in the error state.
	RecordCredentials(ctx context.Context, taskID uuid.UUID, backend Backend, at time.Time, audit AuditEntry) (Task, error)
	// BeginMigration moves credentials_received -> migrating; ErrConflict when nothing matched.
	BeginMigration(ctx context.Context, taskID uuid.UUID, at time.Time, audit AuditEntry) (Task, error)
	GetBackend(ctx context.Context, customerID uuid.UUID) (Backend, error)
	// FinalizeMigration writes the backend status, step log, task status and audit entry together.
	FinalizeMigration(ctx context.Context, outcome MigrationOutcome) error

	AppendAudit(ctx context.Context, entry AuditEntry) error
	ListAudit(ctx context.Context, customerID uuid.UUID, limit int) ([]AuditEntry, error)

	// ListOverdue returns active tasks whose estimated completion is before now, in queue order.
	ListOverdue(ctx context.Context, now time.Time, limit int) ([]QueueItem, error)
	// ListStalled returns credentials_received tasks untouched since before.
	ListStalled(ctx context.Context, before time.Time, limit int) ([]Task, error)
	Stats(ctx context.Context, dayStart, now time.Time) (Stats, error)
}

// Cipher seals and opens credential secrets.
type Cipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(token string) (string, error)
}

// MigrationQueue hands jobs to the background executor.
type MigrationQueue interface {
	Enqueue(ctx context.Context, job MigrationJob) error
}

// EventPublisher forwards notification envelopes. Failures are logged by the caller only.
type EventPublisher interface {
	Publish(ctx context.Context, env events.Envelope) error
}

// FeatureCatalog lists the migration templates customers can select.
type FeatureCatalog interface {
	Has(key string) bool
	Features() []FeatureInfo
}

// StatsCache memoizes queue statistics. Entries are advisory and always rebuildable.
type StatsCache interface {
	Get(ctx context.Context, compute func(ctx context.Context) (Stats, error)) (Stats, error)
	Invalidate(ctx context.Context)
}

type passthroughStats struct{}

func (passthroughStats) Get(ctx context.Context, compute func(ctx context.Context) (Stats, error)) (Stats, error) {
	return compute(ctx)
}

func (passthroughStats) Invalidate(context.Context) {}
