package repo

import (
	"encoding/json"
	"fmt"

	"github.com/zenGate-Global/palmyra-provisioning/domains/provisioning/be/service"
	"github.com/zenGate-Global/palmyra-provisioning/platform/go/persistence"
)

func toTaskRecord(t service.Task) persistence.TaskRecord {
	return persistence.TaskRecord{
		TaskID:              t.ID,
		CustomerID:          t.CustomerID,
		Status:              string(t.Status),
		Priority:            t.Priority,
		RequestedFeatures:   t.RequestedFeatures,
		AssignedAdminID:     t.AssignedAdminID,
		CreatedAt:           t.CreatedAt,
		StartedAt:           t.StartedAt,
		CompletedAt:         t.CompletedAt,
		LastStatusUpdate:    t.LastStatusUpdate,
		EstimatedCompletion: t.EstimatedCompletion,
		AdminNotes:          t.AdminNotes,
	}
}

func toServiceTask(rec persistence.TaskRecord) (service.Task, error) {
	status, err := service.ParseTaskStatus(rec.Status)
	if err != nil {
		return service.Task{}, fmt.Errorf("task %s: %w", rec.TaskID, err)
	}
	features := rec.RequestedFeatures
	if features == nil {
		features = []string{}
	}
	return service.Task{
		ID:                  rec.TaskID,
		CustomerID:          rec.CustomerID,
		Status:              status,
		Priority:            rec.Priority,
		RequestedFeatures:   features,
		AssignedAdminID:     rec.AssignedAdminID,
		CreatedAt:           rec.CreatedAt,
		StartedAt:           rec.StartedAt,
		CompletedAt:         rec.CompletedAt,
		LastStatusUpdate:    rec.LastStatusUpdate,
		EstimatedCompletion: rec.EstimatedCompletion,
		AdminNotes:          rec.AdminNotes,
	}, nil
}

func toServiceCustomer(rec persistence.CustomerRecord) (service.Customer, error) {
	plan, err := service.ParsePlan(rec.Plan)
	if err != nil {
		return service.Customer{}, fmt.Errorf("customer %s: %w", rec.CustomerID, err)
	}
	return service.Customer{
		ID:        rec.CustomerID,
		Name:      rec.Name,
		Email:     rec.Email,
		Company:   rec.Company,
		Plan:      plan,
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
	}, nil
}

func toBackendRecord(b service.Backend) (persistence.BackendRecord, error) {
	logs, err := json.Marshal(nonNilLogs(b.MigrationLogs))
	if err != nil {
		return persistence.BackendRecord{}, fmt.Errorf("encode migration log: %w", err)
	}
	return persistence.BackendRecord{
		CustomerID:              b.CustomerID,
		ProjectRef:              b.ProjectRef,
		APIURL:                  b.APIURL,
		EncryptedAnonKey:        b.EncryptedAnonKey,
		EncryptedServiceRoleKey: b.EncryptedServiceRoleKey,
		EncryptedDBPassword:     b.EncryptedDBPassword,
		Region:                  b.Region,
		ProvisioningStatus:      string(b.Status),
		MigrationLogs:           logs,
		CreatedAt:               b.CreatedAt,
		UpdatedAt:               b.UpdatedAt,
	}, nil
}

func toServiceBackend(rec persistence.BackendRecord) (service.Backend, error) {
	var logs []service.MigrationLogEntry
	if len(rec.MigrationLogs) > 0 {
		if err := json.Unmarshal(rec.MigrationLogs, &logs); err != nil {
			return service.Backend{}, fmt.Errorf("decode migration log for %s: %w", rec.CustomerID, err)
		}
	}
	return service.Backend{
		CustomerID:              rec.CustomerID,
		ProjectRef:              rec.ProjectRef,
		APIURL:                  rec.APIURL,
		EncryptedAnonKey:        rec.EncryptedAnonKey,
		EncryptedServiceRoleKey: rec.EncryptedServiceRoleKey,
		EncryptedDBPassword:     rec.EncryptedDBPassword,
		Region:                  rec.Region,
		Status:                  service.BackendStatus(rec.ProvisioningStatus),
		MigrationLogs:           nonNilLogs(logs),
		CreatedAt:               rec.CreatedAt,
		UpdatedAt:               rec.UpdatedAt,
	}, nil
}

func toAuditRecord(e service.AuditEntry) (persistence.AuditRecord, error) {
	details, err := json.Marshal(e.Details)
	if err != nil {
		return persistence.AuditRecord{}, fmt.Errorf("encode audit details: %w", err)
	}
	return persistence.AuditRecord{
		Action:     string(e.Action),
		CustomerID: e.CustomerID,
		AdminID:    e.AdminID,
		Details:    details,
		CreatedAt:  e.CreatedAt,
	}, nil
}

func toServiceAudit(rec persistence.AuditRecord) (service.AuditEntry, error) {
	details := map[string]any{}
	if len(rec.Details) > 0 {
		if err := json.Unmarshal(rec.Details, &details); err != nil {
			return service.AuditEntry{}, fmt.Errorf("decode audit details %d: %w", rec.EntryID, err)
		}
	}
	return service.AuditEntry{
		ID:         rec.EntryID,
		Action:     service.AuditAction(rec.Action),
		CustomerID: rec.CustomerID,
		AdminID:    rec.AdminID,
		Details:    details,
		CreatedAt:  rec.CreatedAt,
	}, nil
}

func nonNilLogs(in []service.MigrationLogEntry) []service.MigrationLogEntry {
	if in == nil {
		return []service.MigrationLogEntry{}
	}
	return in
}
