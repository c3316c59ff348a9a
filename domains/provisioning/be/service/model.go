package service

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TaskStatus is the lifecycle state of a provisioning task.
type TaskStatus string

const (
	StatusPending             TaskStatus = "pending"
	StatusInProgress          TaskStatus = "in_progress"
	StatusCredentialsReceived TaskStatus = "credentials_received"
	StatusMigrating           TaskStatus = "migrating"
	StatusCompleted           TaskStatus = "completed"
	StatusFailed              TaskStatus = "failed"
	StatusCancelled           TaskStatus = "cancelled"
)

// ActiveStatuses are the non-terminal states. A customer has at most one task in any of them.
var ActiveStatuses = []TaskStatus{StatusPending, StatusInProgress, StatusCredentialsReceived, StatusMigrating}

// Terminal reports whether no further transition is allowed.
func (s TaskStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// ParseTaskStatus converts a stored or user supplied string.
func ParseTaskStatus(raw string) (TaskStatus, error) {
	switch s := TaskStatus(strings.TrimSpace(raw)); s {
	case StatusPending, StatusInProgress, StatusCredentialsReceived, StatusMigrating,
		StatusCompleted, StatusFailed, StatusCancelled:
		return s, nil
	default:
		return "", fmt.Errorf("unknown task status %q", raw)
	}
}

// Plan is the customer's subscription tier.
type Plan string

const (
	PlanEnterprise   Plan = "enterprise"
	PlanProfessional Plan = "professional"
	PlanStandard     Plan = "standard"
	PlanStarter      Plan = "starter"
)

// ParsePlan accepts plan names case-insensitively.
func ParsePlan(raw string) (Plan, error) {
	switch p := Plan(strings.ToLower(strings.TrimSpace(raw))); p {
	case PlanEnterprise, PlanProfessional, PlanStandard, PlanStarter:
		return p, nil
	default:
		return "", fmt.Errorf("unknown plan %q", raw)
	}
}

// Priority derives the queue priority for a plan. Higher is served first.
func (p Plan) Priority() int {
	switch p {
	case PlanEnterprise:
		return 2
	case PlanProfessional:
		return 1
	default:
		return 0
	}
}

// Customer is the summary the queue and event payloads need about the owner of a task.
type Customer struct {
	ID        uuid.UUID
	Name      string
	Email     string
	Company   *string
	Plan      Plan
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Task is one customer's journey through the queue and migration pipeline.
type Task struct {
	ID                  uuid.UUID
	CustomerID          uuid.UUID
	Status              TaskStatus
	Priority            int
	RequestedFeatures   []string
	AssignedAdminID     *string
	CreatedAt           time.Time
	StartedAt           *time.Time
	CompletedAt         *time.Time
	LastStatusUpdate    time.Time
	EstimatedCompletion *time.Time
	AdminNotes          *string
}

// Precedes applies the queue order: higher priority first, then earlier creation.
// Task id breaks exact ties so the order is total.
func (t Task) Precedes(other Task) bool {
	if t.Priority != other.Priority {
		return t.Priority > other.Priority
	}
	if !t.CreatedAt.Equal(other.CreatedAt) {
		return t.CreatedAt.Before(other.CreatedAt)
	}
	return t.ID.String() < other.ID.String()
}

// Overdue flags an active task past its estimated completion. Advisory only.
func (t Task) Overdue(now time.Time) bool {
	return !t.Status.Terminal() && t.EstimatedCompletion != nil && now.After(*t.EstimatedCompletion)
}

// QueueItem is a task joined with its customer summary.
type QueueItem struct {
	Task     Task
	Customer Customer
	Overdue  bool
}

// QueueFilter narrows ListQueue.
type QueueFilter struct {
	Status *TaskStatus
	Limit  int
}

// Position is a customer's standing in the queue. Position 0 means the task is not waiting.
type Position struct {
	TaskID             uuid.UUID
	Position           int
	AheadCount         int
	EstimatedWaitHours float64
	Status             TaskStatus
}

// BackendStatus tracks the health of a customer's remote project independently of the task.
type BackendStatus string

const (
	BackendCredentialsReceived BackendStatus = "credentials_received"
	BackendActive              BackendStatus = "active"
	BackendError               BackendStatus = "error"
)

// StepStatus is the outcome of one migration step.
type StepStatus string

const (
	StepSucceeded StepStatus = "success"
	StepFailed    StepStatus = "failed"
)

// MigrationLogEntry records one schema-application step. Entries are never rewritten.
type MigrationLogEntry struct {
	Step       string     `json:"step"`
	Status     StepStatus `json:"status"`
	Error      string     `json:"error,omitempty"`
	At         time.Time  `json:"at"`
	DurationMs int64      `json:"durationMs"`
}

// Backend holds the customer's remote project identifiers and sealed secrets.
type Backend struct {
	CustomerID              uuid.UUID
	ProjectRef              string
	APIURL                  string
	EncryptedAnonKey        string
	EncryptedServiceRoleKey string
	EncryptedDBPassword     *string
	Region                  *string
	Status                  BackendStatus
	MigrationLogs           []MigrationLogEntry
	CreatedAt               time.Time
	UpdatedAt               time.Time
}

// AuditAction names a recorded state transition.
type AuditAction string

const (
	AuditRequested           AuditAction = "provisioning.requested"
	AuditClaimed             AuditAction = "provisioning.claimed"
	AuditCancelled           AuditAction = "provisioning.cancelled"
	AuditNotesUpdated        AuditAction = "provisioning.notes_updated"
	AuditCredentialsAccepted AuditAction = "provisioning.credentials_received"
	AuditCredentialsRejected AuditAction = "provisioning.credentials_rejected"
	AuditMigrationStarted    AuditAction = "provisioning.migration_started"
	AuditMigrationCompleted  AuditAction = "provisioning.completed"
	AuditMigrationFailed     AuditAction = "provisioning.failed"
	AuditRequeued            AuditAction = "provisioning.requeued"
)

// AuditEntry is an append-only record of a state transition.
type AuditEntry struct {
	ID         int64
	Action     AuditAction
	CustomerID *uuid.UUID
	AdminID    *string
	Details    map[string]any
	CreatedAt  time.Time
}

// MigrationOutcome is persisted atomically when an executor run ends.
type MigrationOutcome struct {
	TaskID     uuid.UUID
	CustomerID uuid.UUID
	Succeeded  bool
	Logs       []MigrationLogEntry
	At         time.Time
	Audit      AuditEntry
}

// Stats is a read-only aggregation over the queue.
type Stats struct {
	Pending        int
	InProgress     int
	CompletedToday int
	FailedToday    int
	Overdue        int
	GeneratedAt    time.Time
}

// FeatureInfo describes one catalog entry.
type FeatureInfo struct {
	Key    string
	Title  string
	Tables []string
}

// MigrationJob asks the background executor to migrate one task.
type MigrationJob struct {
	TaskID     uuid.UUID
	CustomerID uuid.UUID
	Features   []string
	AdminID    string
}
