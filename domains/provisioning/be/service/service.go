package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zenGate-Global/palmyra-provisioning/domains/provisioning/be/events"
	"github.com/zenGate-Global/palmyra-provisioning/platform/go/logging"
	"github.com/zenGate-Global/palmyra-provisioning/platform/go/remotedb"
	"github.com/zenGate-Global/palmyra-provisioning/platform/go/requesttrace"
)

// Deps are the collaborators the service needs. All but Stats and Now are required.
type Deps struct {
	Repo       Repository
	Vault      Cipher
	Dialer     remotedb.Dialer
	Migrations MigrationQueue
	Events     EventPublisher
	Catalog    FeatureCatalog
	Waits      WaitPolicy
	Stats      StatsCache
	Logger     *zap.Logger
	Now        func() time.Time
}

// Config holds tunables validated at startup.
type Config struct {
	// HostingDomain is the domain customer project URLs must live under.
	HostingDomain string
	ProbeTimeout  time.Duration
}

// Service implements the provisioning queue operations.
type Service struct {
	repo       Repository
	vault      Cipher
	dialer     remotedb.Dialer
	migrations MigrationQueue
	events     EventPublisher
	catalog    FeatureCatalog
	waits      WaitPolicy
	stats      StatsCache
	logger     *zap.Logger
	now        func() time.Time
	validate   *validator.Validate
	cfg        Config
}

// New constructs a Service with required dependencies.
func New(deps Deps, cfg Config) *Service {
	switch {
	case deps.Repo == nil:
		panic("provisioning repo is required")
	case deps.Vault == nil:
		panic("credential vault is required")
	case deps.Dialer == nil:
		panic("remote dialer is required")
	case deps.Migrations == nil:
		panic("migration queue is required")
	case deps.Events == nil:
		panic("event publisher is required")
	case deps.Catalog == nil:
		panic("feature catalog is required")
	case deps.Waits == nil:
		panic("wait policy is required")
	case deps.Logger == nil:
		panic("logger is required")
	}
	if strings.TrimSpace(cfg.HostingDomain) == "" {
		panic("hosting domain is required")
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 15 * time.Second
	}

	stats := deps.Stats
	if stats == nil {
		stats = passthroughStats{}
	}
	now := deps.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) }
	}

	return &Service{
		repo:       deps.Repo,
		vault:      deps.Vault,
		dialer:     deps.Dialer,
		migrations: deps.Migrations,
		events:     deps.Events,
		catalog:    deps.Catalog,
		waits:      deps.Waits,
		stats:      stats,
		logger:     deps.Logger,
		now:        now,
		validate:   newValidator(),
		cfg:        cfg,
	}
}

// CreateResult is returned to the onboarding form.
type CreateResult struct {
	Task     Task
	Position Position
}

// CreateRequest records the customer, enqueues a pending task and emits welcome and admin alert events.
func (s *Service) CreateRequest(ctx context.Context, in OnboardingInput) (CreateResult, error) {
	if err := firstViolation(s.validate, in, onboardingFieldOrder); err != nil {
		return CreateResult{}, err
	}
	plan, err := ParsePlan(in.Plan)
	if err != nil {
		return CreateResult{}, invalid("plan", "must be one of enterprise, professional, standard, starter")
	}
	features, err := s.normalizeFeatures(in.Features)
	if err != nil {
		return CreateResult{}, err
	}

	now := s.now()
	customer, err := s.repo.UpsertCustomer(ctx, Customer{
		ID:        in.CustomerID,
		Name:      strings.TrimSpace(in.Name),
		Email:     strings.ToLower(strings.TrimSpace(in.Email)),
		Company:   in.Company,
		Plan:      plan,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return CreateResult{}, fmt.Errorf("upsert customer: %w", err)
	}

	task := Task{
		ID:                uuid.New(),
		CustomerID:        customer.ID,
		Status:            StatusPending,
		Priority:          plan.Priority(),
		RequestedFeatures: features,
		CreatedAt:         now,
		LastStatusUpdate:  now,
	}

	ahead, err := s.repo.CountPendingAhead(ctx, task)
	if err != nil {
		return CreateResult{}, fmt.Errorf("count queue: %w", err)
	}
	eta := s.waits.EstimateCompletion(now, ahead)
	task.EstimatedCompletion = &eta

	task, err = s.repo.InsertTask(ctx, task, s.auditEntry(ctx, AuditRequested, &customer.ID, nil, map[string]any{
		"taskId":   task.ID.String(),
		"plan":     string(plan),
		"priority": task.Priority,
		"features": features,
	}))
	if err != nil {
		return CreateResult{}, err
	}
	s.stats.Invalidate(ctx)

	position := Position{
		TaskID:             task.ID,
		Position:           ahead + 1,
		AheadCount:         ahead,
		EstimatedWaitHours: s.waits.EstimateWaitHours(ahead),
		Status:             task.Status,
	}

	s.publish(ctx, events.Welcome(customer.ID, task.ID, now, events.WelcomePayload{
		CustomerName:       customer.Name,
		Email:              customer.Email,
		Plan:               string(plan),
		QueuePosition:      position.Position,
		EstimatedWaitHours: position.EstimatedWaitHours,
		Features:           features,
	}))
	s.publish(ctx, events.AdminAlert(customer.ID, task.ID, now, events.AdminAlertPayload{
		CustomerName:  customer.Name,
		Email:         customer.Email,
		Company:       deref(customer.Company),
		Plan:          string(plan),
		Priority:      task.Priority,
		QueuePosition: position.Position,
		Features:      features,
	}))

	return CreateResult{Task: task, Position: position}, nil
}

// normalizeFeatures drops duplicates keeping first-selection order and rejects unknown keys.
func (s *Service) normalizeFeatures(raw []string) ([]string, error) {
	seen := mapset.NewThreadUnsafeSet[string]()
	out := make([]string, 0, len(raw))
	for _, f := range raw {
		key := strings.ToLower(strings.TrimSpace(f))
		if !s.catalog.Has(key) {
			return nil, invalid("features", fmt.Sprintf("unknown feature %q", f))
		}
		if seen.Add(key) {
			out = append(out, key)
		}
	}
	return out, nil
}

// GetPosition reports where the customer's task stands. Wait hours are an estimate.
func (s *Service) GetPosition(ctx context.Context, customerID uuid.UUID) (Position, error) {
	task, err := s.repo.LatestTaskForCustomer(ctx, customerID)
	if err != nil {
		return Position{}, err
	}
	if task.Status != StatusPending {
		return Position{TaskID: task.ID, Status: task.Status}, nil
	}

	ahead, err := s.repo.CountPendingAhead(ctx, task)
	if err != nil {
		return Position{}, fmt.Errorf("count queue: %w", err)
	}
	return Position{
		TaskID:             task.ID,
		Position:           ahead + 1,
		AheadCount:         ahead,
		EstimatedWaitHours: s.waits.EstimateWaitHours(ahead),
		Status:             task.Status,
	}, nil
}

// ListQueue returns tasks in queue order joined with their customer summary.
func (s *Service) ListQueue(ctx context.Context, filter QueueFilter) ([]QueueItem, error) {
	filter.Limit = clampLimit(filter.Limit)
	items, err := s.repo.ListQueue(ctx, filter)
	if err != nil {
		return nil, err
	}
	now := s.now()
	for i := range items {
		items[i].Overdue = items[i].Task.Overdue(now)
	}
	return items, nil
}

// GetTask returns one task.
func (s *Service) GetTask(ctx context.Context, id uuid.UUID) (Task, error) {
	return s.repo.GetTask(ctx, id)
}

// Features lists the selectable feature templates.
func (s *Service) Features() []FeatureInfo {
	return s.catalog.Features()
}

// Claim assigns a pending task to adminID. Losing a concurrent race yields ErrConflict.
func (s *Service) Claim(ctx context.Context, taskID uuid.UUID, adminID string) (Task, error) {
	if strings.TrimSpace(adminID) == "" {
		return Task{}, invalid("adminId", "is required")
	}

	var claimed Task
	err := logging.Measure(ctx, s.logger, "provisioning.claim", func(ctx context.Context) error {
		var err error
		claimed, err = s.repo.ClaimTask(ctx, taskID, adminID, s.now(), s.auditEntry(ctx, AuditClaimed, nil, &adminID, map[string]any{
			"taskId": taskID.String(),
		}))
		return err
	})
	if err != nil {
		return Task{}, err
	}
	s.stats.Invalidate(ctx)
	return claimed, nil
}

// Cancel withdraws a pending task.
func (s *Service) Cancel(ctx context.Context, taskID uuid.UUID, adminID, reason string) (Task, error) {
	details := map[string]any{"taskId": taskID.String()}
	if reason = strings.TrimSpace(reason); reason != "" {
		details["reason"] = reason
	}

	task, err := s.repo.CancelTask(ctx, taskID, s.now(), s.auditEntry(ctx, AuditCancelled, nil, optional(adminID), details))
	if err != nil {
		return Task{}, err
	}
	s.stats.Invalidate(ctx)
	return task, nil
}

// UpdateNotes replaces the admin notes of a task.
func (s *Service) UpdateNotes(ctx context.Context, taskID uuid.UUID, adminID, notes string) (Task, error) {
	if len(notes) > maxAdminNotes {
		return Task{}, invalid("notes", fmt.Sprintf("must be at most %d characters", maxAdminNotes))
	}
	return s.repo.UpdateNotes(ctx, taskID, notes, s.now(), s.auditEntry(ctx, AuditNotesUpdated, nil, optional(adminID), map[string]any{
		"taskId": taskID.String(),
	}))
}

// SubmitCredentials validates, probes and seals the customer's backend credentials, then
// hands the task to the migration executor. A failed probe persists nothing.
func (s *Service) SubmitCredentials(ctx context.Context, taskID uuid.UUID, in CredentialsInput, adminID string) (Task, error) {
	if err := validateCredentials(s.validate, in, s.cfg.HostingDomain); err != nil {
		return Task{}, err
	}

	task, err := s.repo.GetTask(ctx, taskID)
	if err != nil {
		return Task{}, err
	}
	if task.Status != StatusInProgress {
		return Task{}, fmt.Errorf("%w: task is %s", ErrInvalidState, task.Status)
	}

	creds := remotedb.Credentials{
		ProjectRef:     in.ProjectRef,
		ProjectURL:     in.ProjectURL,
		AnonKey:        in.AnonKey,
		ServiceRoleKey: in.ServiceRoleKey,
		DBPassword:     deref(in.DBPassword),
		Region:         deref(in.Region),
	}
	if err := s.probe(ctx, creds); err != nil {
		s.recordAudit(ctx, s.auditEntry(ctx, AuditCredentialsRejected, &task.CustomerID, optional(adminID), map[string]any{
			"taskId":     task.ID.String(),
			"projectRef": in.ProjectRef,
			"reason":     err.Error(),
		}))
		return Task{}, &ConnectivityError{Err: err}
	}

	backend, err := s.seal(task.CustomerID, in)
	if err != nil {
		return Task{}, err
	}

	var updated Task
	err = logging.Measure(ctx, s.logger, "provisioning.record_credentials", func(ctx context.Context) error {
		var err error
		updated, err = s.repo.RecordCredentials(ctx, task.ID, backend, s.now(), s.auditEntry(ctx, AuditCredentialsAccepted, &task.CustomerID, optional(adminID), map[string]any{
			"taskId":     task.ID.String(),
			"projectRef": in.ProjectRef,
			"apiUrl":     in.ProjectURL,
		}))
		return err
	})
	if err != nil {
		return Task{}, err
	}
	s.stats.Invalidate(ctx)

	job := MigrationJob{TaskID: updated.ID, CustomerID: updated.CustomerID, Features: updated.RequestedFeatures, AdminID: adminID}
	if err := s.migrations.Enqueue(ctx, job); err != nil {
		// The maintenance sweep re-enqueues tasks left in credentials_received.
		logging.FromContextOr(ctx, s.logger).Error("enqueue migration",
			zap.String("task_id", updated.ID.String()),
			zap.Error(err),
		)
	}

	return updated, nil
}

func (s *Service) probe(ctx context.Context, creds remotedb.Credentials) error {
	return logging.Measure(ctx, s.logger, "provisioning.probe", func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, s.cfg.ProbeTimeout)
		defer cancel()

		client, err := s.dialer.Dial(ctx, creds)
		if err != nil {
			return err
		}
		defer func() { _ = client.Close(context.WithoutCancel(ctx)) }()

		return remotedb.ProbeOutcome(ctx, client)
	})
}

func (s *Service) seal(customerID uuid.UUID, in CredentialsInput) (Backend, error) {
	anon, err := s.vault.Encrypt(in.AnonKey)
	if err != nil {
		return Backend{}, fmt.Errorf("seal anon key: %w", err)
	}
	serviceKey, err := s.vault.Encrypt(in.ServiceRoleKey)
	if err != nil {
		return Backend{}, fmt.Errorf("seal service role key: %w", err)
	}

	var password *string
	if in.DBPassword != nil {
		sealed, err := s.vault.Encrypt(*in.DBPassword)
		if err != nil {
			return Backend{}, fmt.Errorf("seal db password: %w", err)
		}
		password = &sealed
	}

	now := s.now()
	return Backend{
		CustomerID:              customerID,
		ProjectRef:              in.ProjectRef,
		APIURL:                  strings.TrimSuffix(in.ProjectURL, "/"),
		EncryptedAnonKey:        anon,
		EncryptedServiceRoleKey: serviceKey,
		EncryptedDBPassword:     password,
		Region:                  in.Region,
		Status:                  BackendCredentialsReceived,
		MigrationLogs:           []MigrationLogEntry{},
		CreatedAt:               now,
		UpdatedAt:               now,
	}, nil
}

// Stats aggregates queue counters, served from the cache when one is configured.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	return s.stats.Get(ctx, s.ComputeStats)
}

// ComputeStats reads the counters straight from the store.
func (s *Service) ComputeStats(ctx context.Context) (Stats, error) {
	now := s.now()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	stats, err := s.repo.Stats(ctx, dayStart, now)
	if err != nil {
		return Stats{}, err
	}
	stats.GeneratedAt = now
	return stats, nil
}

// ListAudit returns the customer's audit trail, newest first.
func (s *Service) ListAudit(ctx context.Context, customerID uuid.UUID, limit int) ([]AuditEntry, error) {
	return s.repo.ListAudit(ctx, customerID, clampLimit(limit))
}

// RequeueStalled re-enqueues tasks stuck in credentials_received for longer than olderThan.
// BeginMigration's conditional transition makes duplicate jobs harmless.
func (s *Service) RequeueStalled(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	tasks, err := s.repo.ListStalled(ctx, s.now().Add(-olderThan), clampLimit(limit))
	if err != nil {
		return 0, err
	}

	requeued := 0
	for _, task := range tasks {
		job := MigrationJob{TaskID: task.ID, CustomerID: task.CustomerID, Features: task.RequestedFeatures, AdminID: deref(task.AssignedAdminID)}
		if err := s.migrations.Enqueue(ctx, job); err != nil {
			return requeued, fmt.Errorf("requeue task %s: %w", task.ID, err)
		}
		requeued++
		s.recordAudit(ctx, s.auditEntry(ctx, AuditRequeued, &task.CustomerID, nil, map[string]any{
			"taskId": task.ID.String(),
		}))
	}
	return requeued, nil
}

// OverdueTasks lists active tasks past their estimated completion.
func (s *Service) OverdueTasks(ctx context.Context, limit int) ([]QueueItem, error) {
	items, err := s.repo.ListOverdue(ctx, s.now(), clampLimit(limit))
	if err != nil {
		return nil, err
	}
	for i := range items {
		items[i].Overdue = true
	}
	return items, nil
}

func (s *Service) publish(ctx context.Context, env events.Envelope) {
	if err := s.events.Publish(ctx, env); err != nil {
		logging.FromContextOr(ctx, s.logger).Warn("notification not delivered",
			zap.String("kind", string(env.Kind)),
			zap.String("customer_id", env.CustomerID.String()),
			zap.Error(err),
		)
	}
}

func (s *Service) recordAudit(ctx context.Context, entry AuditEntry) {
	if err := s.repo.AppendAudit(ctx, entry); err != nil {
		logging.FromContextOr(ctx, s.logger).Error("append audit entry",
			zap.String("action", string(entry.Action)),
			zap.Error(err),
		)
	}
}

// auditEntry stamps request metadata onto an audit record. When adminID is nil the
// authenticated operator from the request trace is used.
func (s *Service) auditEntry(ctx context.Context, action AuditAction, customerID *uuid.UUID, adminID *string, details map[string]any) AuditEntry {
	trace := requesttrace.FromContextOrSystem(ctx)
	if adminID == nil {
		adminID = trace.OperatorID
	}
	if details == nil {
		details = map[string]any{}
	}
	if trace.RequestID != "" {
		details["requestId"] = trace.RequestID
	}
	details["actor"] = string(trace.ActorKind)

	return AuditEntry{
		Action:     action,
		CustomerID: customerID,
		AdminID:    adminID,
		Details:    details,
		CreatedAt:  s.now(),
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func optional(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}
