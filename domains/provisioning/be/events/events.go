// Package events shapes the notification payloads emitted by the provisioning pipeline.
// Rendering and delivery belong to the external notifier; this package only builds,
// validates and hands over structured messages.
package events

import (
	"time"

	"github.com/google/uuid"
)

// Kind identifies a notification event.
type Kind string

const (
	KindWelcome    Kind = "welcome"
	KindReady      Kind = "ready"
	KindFailed     Kind = "failed"
	KindAdminAlert Kind = "admin_alert"
)

// Kinds lists every event kind with a payload contract.
var Kinds = []Kind{KindWelcome, KindReady, KindFailed, KindAdminAlert}

// Envelope wraps one payload with routing metadata.
type Envelope struct {
	ID         uuid.UUID `json:"id"`
	Kind       Kind      `json:"kind"`
	CustomerID uuid.UUID `json:"customerId"`
	TaskID     uuid.UUID `json:"taskId"`
	OccurredAt time.Time `json:"occurredAt"`
	Payload    any       `json:"payload"`
}

// WelcomePayload is sent to the customer right after onboarding.
// EstimatedWaitHours is a heuristic, not a commitment.
type WelcomePayload struct {
	CustomerName       string   `json:"customerName"`
	Email              string   `json:"email"`
	Plan               string   `json:"plan"`
	QueuePosition      int      `json:"queuePosition"`
	EstimatedWaitHours float64  `json:"estimatedWaitHours"`
	Features           []string `json:"features"`
}

// AdminAlertPayload tells operators a new task entered the queue.
type AdminAlertPayload struct {
	CustomerName  string   `json:"customerName"`
	Email         string   `json:"email"`
	Company       string   `json:"company,omitempty"`
	Plan          string   `json:"plan"`
	Priority      int      `json:"priority"`
	QueuePosition int      `json:"queuePosition"`
	Features      []string `json:"features"`
}

// ReadyPayload is sent once every migration step succeeded.
type ReadyPayload struct {
	CustomerName string    `json:"customerName"`
	Email        string    `json:"email"`
	Plan         string    `json:"plan"`
	Features     []string  `json:"features"`
	ProjectURL   string    `json:"projectUrl"`
	CompletedAt  time.Time `json:"completedAt"`
}

// FailedPayload is sent when a migration stopped on a failed step.
type FailedPayload struct {
	CustomerName string   `json:"customerName"`
	Email        string   `json:"email"`
	Plan         string   `json:"plan"`
	Features     []string `json:"features"`
	FailedStep   string   `json:"failedStep"`
	Reason       string   `json:"reason"`
}

func newEnvelope(kind Kind, customerID, taskID uuid.UUID, at time.Time, payload any) Envelope {
	return Envelope{
		ID:         uuid.New(),
		Kind:       kind,
		CustomerID: customerID,
		TaskID:     taskID,
		OccurredAt: at.UTC(),
		Payload:    payload,
	}
}

func Welcome(customerID, taskID uuid.UUID, at time.Time, p WelcomePayload) Envelope {
	p.Features = nonNil(p.Features)
	return newEnvelope(KindWelcome, customerID, taskID, at, p)
}

func AdminAlert(customerID, taskID uuid.UUID, at time.Time, p AdminAlertPayload) Envelope {
	p.Features = nonNil(p.Features)
	return newEnvelope(KindAdminAlert, customerID, taskID, at, p)
}

func Ready(customerID, taskID uuid.UUID, at time.Time, p ReadyPayload) Envelope {
	p.Features = nonNil(p.Features)
	return newEnvelope(KindReady, customerID, taskID, at, p)
}

func Failed(customerID, taskID uuid.UUID, at time.Time, p FailedPayload) Envelope {
	p.Features = nonNil(p.Features)
	return newEnvelope(KindFailed, customerID, taskID, at, p)
}

func nonNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
