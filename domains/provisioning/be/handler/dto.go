package handler

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zenGate-Global/palmyra-provisioning/domains/provisioning/be/service"
)

type createRequestBody struct {
	CustomerID uuid.UUID `json:"customerId"`
	Name       string    `json:"name"`
	Email      string    `json:"email"`
	Company    *string   `json:"company,omitempty"`
	Plan       string    `json:"plan"`
	Features   []string  `json:"features"`
}

func (b createRequestBody) toInput() service.OnboardingInput {
	return service.OnboardingInput{
		CustomerID: b.CustomerID,
		Name:       strings.TrimSpace(b.Name),
		Email:      strings.TrimSpace(b.Email),
		Company:    b.Company,
		Plan:       strings.TrimSpace(b.Plan),
		Features:   b.Features,
	}
}

type createRequestResponse struct {
	TaskID             uuid.UUID `json:"taskId"`
	QueuePosition      int       `json:"queuePosition"`
	EstimatedWaitHours float64   `json:"estimatedWaitHours"`
}

type positionResponse struct {
	Position           int     `json:"position"`
	EstimatedWaitHours float64 `json:"estimated_wait_hours"`
	AheadInQueue       int     `json:"ahead_in_queue"`
	Status             string  `json:"status"`
}

func toPositionResponse(p service.Position) positionResponse {
	return positionResponse{
		Position:           p.Position,
		EstimatedWaitHours: p.EstimatedWaitHours,
		AheadInQueue:       p.AheadCount,
		Status:             string(p.Status),
	}
}

type featureResponse struct {
	Key    string   `json:"key"`
	Title  string   `json:"title"`
	Tables []string `json:"tables"`
}

type featureListResponse struct {
	Items []featureResponse `json:"items"`
}

type credentialsBody struct {
	ProjectRef     string  `json:"projectRef"`
	ProjectURL     string  `json:"projectUrl"`
	AnonKey        string  `json:"anonKey"`
	ServiceRoleKey string  `json:"serviceRoleKey"`
	DBPassword     *string `json:"dbPassword,omitempty"`
	Region         *string `json:"region,omitempty"`
}

func (b credentialsBody) toInput() service.CredentialsInput {
	return service.CredentialsInput{
		ProjectRef:     strings.TrimSpace(b.ProjectRef),
		ProjectURL:     strings.TrimSpace(b.ProjectURL),
		AnonKey:        strings.TrimSpace(b.AnonKey),
		ServiceRoleKey: strings.TrimSpace(b.ServiceRoleKey),
		DBPassword:     b.DBPassword,
		Region:         b.Region,
	}
}

type cancelBody struct {
	Reason string `json:"reason"`
}

type notesBody struct {
	Notes string `json:"notes"`
}

type taskResponse struct {
	ID                  uuid.UUID  `json:"id"`
	CustomerID          uuid.UUID  `json:"customerId"`
	Status              string     `json:"status"`
	Priority            int        `json:"priority"`
	RequestedFeatures   []string   `json:"requestedFeatures"`
	AssignedAdminID     *string    `json:"assignedAdminId,omitempty"`
	CreatedAt           time.Time  `json:"createdAt"`
	StartedAt           *time.Time `json:"startedAt,omitempty"`
	CompletedAt         *time.Time `json:"completedAt,omitempty"`
	LastStatusUpdate    time.Time  `json:"lastStatusUpdate"`
	EstimatedCompletion *time.Time `json:"estimatedCompletion,omitempty"`
	AdminNotes          *string    `json:"adminNotes,omitempty"`
}

func toTaskResponse(t service.Task) taskResponse {
	return taskResponse{
		ID:                  t.ID,
		CustomerID:          t.CustomerID,
		Status:              string(t.Status),
		Priority:            t.Priority,
		RequestedFeatures:   nonNilStrings(t.RequestedFeatures),
		AssignedAdminID:     t.AssignedAdminID,
		CreatedAt:           t.CreatedAt,
		StartedAt:           t.StartedAt,
		CompletedAt:         t.CompletedAt,
		LastStatusUpdate:    t.LastStatusUpdate,
		EstimatedCompletion: t.EstimatedCompletion,
		AdminNotes:          t.AdminNotes,
	}
}

type customerResponse struct {
	ID      uuid.UUID `json:"id"`
	Name    string    `json:"name"`
	Email   string    `json:"email"`
	Company *string   `json:"company,omitempty"`
	Plan    string    `json:"plan"`
}

type queueItemResponse struct {
	Task     taskResponse     `json:"task"`
	Customer customerResponse `json:"customer"`
	Overdue  bool             `json:"overdue"`
}

func toQueueItemResponse(item service.QueueItem) queueItemResponse {
	return queueItemResponse{
		Task: toTaskResponse(item.Task),
		Customer: customerResponse{
			ID:      item.Customer.ID,
			Name:    item.Customer.Name,
			Email:   item.Customer.Email,
			Company: item.Customer.Company,
			Plan:    string(item.Customer.Plan),
		},
		Overdue: item.Overdue,
	}
}

type queueListResponse struct {
	Items []queueItemResponse `json:"items"`
}

type statsResponse struct {
	Pending        int       `json:"pending"`
	InProgress     int       `json:"inProgress"`
	CompletedToday int       `json:"completedToday"`
	FailedToday    int       `json:"failedToday"`
	Overdue        int       `json:"overdue"`
	GeneratedAt    time.Time `json:"generatedAt"`
}

type auditEntryResponse struct {
	ID         int64          `json:"id"`
	Action     string         `json:"action"`
	CustomerID *uuid.UUID     `json:"customerId,omitempty"`
	AdminID    *string        `json:"adminId,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
}

func toAuditEntryResponse(e service.AuditEntry) auditEntryResponse {
	return auditEntryResponse{
		ID:         e.ID,
		Action:     string(e.Action),
		CustomerID: e.CustomerID,
		AdminID:    e.AdminID,
		Details:    e.Details,
		CreatedAt:  e.CreatedAt,
	}
}

type auditListResponse struct {
	Items []auditEntryResponse `json:"items"`
}

func nonNilStrings(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
