package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zenGate-Global/palmyra-provisioning/domains/provisioning/be/service"
	platformauth "github.com/zenGate-Global/palmyra-provisioning/platform/go/auth"
	platformlogging "github.com/zenGate-Global/palmyra-provisioning/platform/go/logging"
)

const maxBodyBytes = 1 << 20

type operation string

const (
	createRequestOperation operation = "provisioningCreateRequest"
	positionOperation      operation = "provisioningGetPosition"
	queueListOperation     operation = "provisioningQueueList"
	statsOperation         operation = "provisioningStats"
	taskGetOperation       operation = "provisioningTaskGet"
	claimOperation         operation = "provisioningClaim"
	credentialsOperation   operation = "provisioningSubmitCredentials"
	cancelOperation        operation = "provisioningCancel"
	notesOperation         operation = "provisioningUpdateNotes"
	auditOperation         operation = "provisioningAuditList"
)

// Service is the provisioning service surface used by the HTTP layer.
type Service interface {
	CreateRequest(ctx context.Context, in service.OnboardingInput) (service.CreateResult, error)
	GetPosition(ctx context.Context, customerID uuid.UUID) (service.Position, error)
	Features() []service.FeatureInfo
	ListQueue(ctx context.Context, filter service.QueueFilter) ([]service.QueueItem, error)
	Stats(ctx context.Context) (service.Stats, error)
	GetTask(ctx context.Context, id uuid.UUID) (service.Task, error)
	Claim(ctx context.Context, taskID uuid.UUID, adminID string) (service.Task, error)
	SubmitCredentials(ctx context.Context, taskID uuid.UUID, in service.CredentialsInput, adminID string) (service.Task, error)
	Cancel(ctx context.Context, taskID uuid.UUID, adminID, reason string) (service.Task, error)
	UpdateNotes(ctx context.Context, taskID uuid.UUID, adminID, notes string) (service.Task, error)
	ListAudit(ctx context.Context, customerID uuid.UUID, limit int) ([]service.AuditEntry, error)
}

// Handler exposes the provisioning queue over HTTP.
type Handler struct {
	svc    Service
	logger *zap.Logger
}

// New constructs a Handler instance.
func New(svc Service, logger *zap.Logger) *Handler {
	if svc == nil {
		panic("provisioning service is required")
	}
	if logger == nil {
		panic("logger is required")
	}

	return &Handler{svc: svc, logger: logger}
}

// RegisterPublic mounts the customer-facing routes.
func (h *Handler) RegisterPublic(r chi.Router) {
	r.Post("/provisioning/requests", h.CreateRequest)
	r.Get("/provisioning/customers/{customerId}/position", h.GetPosition)
	r.Get("/provisioning/features", h.ListFeatures)
}

// RegisterAdmin mounts the operator routes. Callers wrap r with the admin guard.
func (h *Handler) RegisterAdmin(r chi.Router) {
	r.Get("/admin/provisioning/queue", h.ListQueue)
	r.Get("/admin/provisioning/stats", h.Stats)
	r.Get("/admin/provisioning/tasks/{taskId}", h.GetTask)
	r.Post("/admin/provisioning/tasks/{taskId}/claim", h.Claim)
	r.Post("/admin/provisioning/tasks/{taskId}/credentials", h.SubmitCredentials)
	r.Post("/admin/provisioning/tasks/{taskId}/cancel", h.Cancel)
	r.Patch("/admin/provisioning/tasks/{taskId}/notes", h.UpdateNotes)
	r.Get("/admin/provisioning/customers/{customerId}/audit", h.ListAudit)
}

func (h *Handler) CreateRequest(w http.ResponseWriter, r *http.Request) {
	var body createRequestBody
	if !h.decode(w, r, &body) {
		return
	}

	result, err := h.svc.CreateRequest(r.Context(), body.toInput())
	if err != nil {
		h.writeError(w, r, err, createRequestOperation)
		return
	}

	w.Header().Set("Location", "/api/v1/provisioning/customers/"+result.Task.CustomerID.String()+"/position")
	writeJSON(w, http.StatusCreated, createRequestResponse{
		TaskID:             result.Task.ID,
		QueuePosition:      result.Position.Position,
		EstimatedWaitHours: result.Position.EstimatedWaitHours,
	})
}

func (h *Handler) GetPosition(w http.ResponseWriter, r *http.Request) {
	customerID, ok := h.uuidParam(w, r, "customerId")
	if !ok {
		return
	}

	pos, err := h.svc.GetPosition(r.Context(), customerID)
	if err != nil {
		h.writeError(w, r, err, positionOperation)
		return
	}
	writeJSON(w, http.StatusOK, toPositionResponse(pos))
}

func (h *Handler) ListFeatures(w http.ResponseWriter, _ *http.Request) {
	features := h.svc.Features()
	items := make([]featureResponse, 0, len(features))
	for _, f := range features {
		items = append(items, featureResponse{Key: f.Key, Title: f.Title, Tables: nonNilStrings(f.Tables)})
	}
	writeJSON(w, http.StatusOK, featureListResponse{Items: items})
}

func (h *Handler) ListQueue(w http.ResponseWriter, r *http.Request) {
	filter := service.QueueFilter{}
	query := r.URL.Query()

	if raw := strings.TrimSpace(query.Get("status")); raw != "" {
		status, err := service.ParseTaskStatus(raw)
		if err != nil {
			h.writeError(w, r, &service.ValidationError{Field: "status", Reason: err.Error()}, queueListOperation)
			return
		}
		filter.Status = &status
	}
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			h.writeError(w, r, &service.ValidationError{Field: "limit", Reason: "must be a positive integer"}, queueListOperation)
			return
		}
		filter.Limit = limit
	}

	items, err := h.svc.ListQueue(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, err, queueListOperation)
		return
	}

	out := make([]queueItemResponse, 0, len(items))
	for _, item := range items {
		out = append(out, toQueueItemResponse(item))
	}
	writeJSON(w, http.StatusOK, queueListResponse{Items: out})
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.Stats(r.Context())
	if err != nil {
		h.writeError(w, r, err, statsOperation)
		return
	}
	writeJSON(w, http.StatusOK, statsResponse{
		Pending:        stats.Pending,
		InProgress:     stats.InProgress,
		CompletedToday: stats.CompletedToday,
		FailedToday:    stats.FailedToday,
		Overdue:        stats.Overdue,
		GeneratedAt:    stats.GeneratedAt,
	})
}

func (h *Handler) GetTask(w http.ResponseWriter, r *http.Request) {
	taskID, ok := h.uuidParam(w, r, "taskId")
	if !ok {
		return
	}

	task, err := h.svc.GetTask(r.Context(), taskID)
	if err != nil {
		h.writeError(w, r, err, taskGetOperation)
		return
	}
	writeJSON(w, http.StatusOK, toTaskResponse(task))
}

func (h *Handler) Claim(w http.ResponseWriter, r *http.Request) {
	taskID, ok := h.uuidParam(w, r, "taskId")
	if !ok {
		return
	}
	adminID, ok := h.operatorID(w, r)
	if !ok {
		return
	}

	task, err := h.svc.Claim(r.Context(), taskID, adminID)
	if err != nil {
		h.writeError(w, r, err, claimOperation)
		return
	}
	writeJSON(w, http.StatusOK, toTaskResponse(task))
}

func (h *Handler) SubmitCredentials(w http.ResponseWriter, r *http.Request) {
	taskID, ok := h.uuidParam(w, r, "taskId")
	if !ok {
		return
	}
	adminID, ok := h.operatorID(w, r)
	if !ok {
		return
	}
	var body credentialsBody
	if !h.decode(w, r, &body) {
		return
	}

	task, err := h.svc.SubmitCredentials(r.Context(), taskID, body.toInput(), adminID)
	if err != nil {
		h.writeError(w, r, err, credentialsOperation)
		return
	}
	writeJSON(w, http.StatusAccepted, toTaskResponse(task))
}

func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	taskID, ok := h.uuidParam(w, r, "taskId")
	if !ok {
		return
	}
	adminID, ok := h.operatorID(w, r)
	if !ok {
		return
	}
	var body cancelBody
	if !h.decodeOptional(w, r, &body) {
		return
	}

	task, err := h.svc.Cancel(r.Context(), taskID, adminID, body.Reason)
	if err != nil {
		h.writeError(w, r, err, cancelOperation)
		return
	}
	writeJSON(w, http.StatusOK, toTaskResponse(task))
}

func (h *Handler) UpdateNotes(w http.ResponseWriter, r *http.Request) {
	taskID, ok := h.uuidParam(w, r, "taskId")
	if !ok {
		return
	}
	adminID, ok := h.operatorID(w, r)
	if !ok {
		return
	}
	var body notesBody
	if !h.decode(w, r, &body) {
		return
	}

	task, err := h.svc.UpdateNotes(r.Context(), taskID, adminID, body.Notes)
	if err != nil {
		h.writeError(w, r, err, notesOperation)
		return
	}
	writeJSON(w, http.StatusOK, toTaskResponse(task))
}

func (h *Handler) ListAudit(w http.ResponseWriter, r *http.Request) {
	customerID, ok := h.uuidParam(w, r, "customerId")
	if !ok {
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			h.writeError(w, r, &service.ValidationError{Field: "limit", Reason: "must be a positive integer"}, auditOperation)
			return
		}
		limit = parsed
	}

	entries, err := h.svc.ListAudit(r.Context(), customerID, limit)
	if err != nil {
		h.writeError(w, r, err, auditOperation)
		return
	}

	out := make([]auditEntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, toAuditEntryResponse(e))
	}
	writeJSON(w, http.StatusOK, auditListResponse{Items: out})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		detail := "request body must be valid JSON"
		if errors.Is(err, io.EOF) {
			detail = "request body is required"
		}
		writeProblem(w, buildProblem("Invalid request body", detail, problemTypeValidation, http.StatusBadRequest, nil))
		return false
	}
	return true
}

// decodeOptional accepts an empty body and leaves dst untouched.
func (h *Handler) decodeOptional(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		writeProblem(w, buildProblem("Invalid request body", "request body must be valid JSON", problemTypeValidation, http.StatusBadRequest, nil))
		return false
	}
	return true
}

func (h *Handler) uuidParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeProblem(w, buildProblem("Validation failed", name+" must be a UUID", problemTypeValidation, http.StatusBadRequest,
			map[string][]string{name: {"must be a UUID"}}))
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) operatorID(w http.ResponseWriter, r *http.Request) (string, bool) {
	creds, ok := platformauth.OperatorFromContext(r.Context())
	if !ok || creds == nil || creds.Id == "" {
		writeProblem(w, buildProblem("Unauthorized", "missing credentials", problemTypeUnauthorized, http.StatusUnauthorized, nil))
		return "", false
	}
	return creds.Id, true
}

func (h *Handler) loggerFrom(ctx context.Context) *zap.Logger {
	return platformlogging.FromContextOr(ctx, h.logger)
}
