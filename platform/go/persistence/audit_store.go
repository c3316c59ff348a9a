package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AuditTable is insert-only; a trigger rejects updates and deletes.
const AuditTable = "provisioning_audit_log"

// AuditRecord represents a provisioning_audit_log row.
type AuditRecord struct {
	EntryID    int64           `db:"entry_id"`
	Action     string          `db:"action"`
	CustomerID *uuid.UUID      `db:"customer_id"`
	AdminID    *string         `db:"admin_id"`
	Details    json.RawMessage `db:"details"`
	CreatedAt  time.Time       `db:"created_at"`
}

// AuditStore appends and reads audit entries.
type AuditStore struct {
	db Querier
}

// NewAuditStore creates a store; assumes migrations already created the table.
func NewAuditStore(db Querier) *AuditStore {
	if db == nil {
		panic("audit store: db is required")
	}
	return &AuditStore{db: db}
}

// Append inserts an entry and returns its id.
func (s *AuditStore) Append(ctx context.Context, rec AuditRecord) (int64, error) {
	if len(rec.Details) == 0 {
		rec.Details = json.RawMessage("{}")
	}
	query := fmt.Sprintf(`INSERT INTO %s (action, customer_id, admin_id, details, created_at)
        VALUES ($1, $2, $3, $4, $5) RETURNING entry_id`, AuditTable)

	var id int64
	err := s.db.QueryRow(ctx, query, rec.Action, rec.CustomerID, rec.AdminID, rec.Details, rec.CreatedAt).Scan(&id)
	return id, err
}

// ListByCustomer returns the newest entries first.
func (s *AuditStore) ListByCustomer(ctx context.Context, customerID uuid.UUID, limit int) ([]AuditRecord, error) {
	query := fmt.Sprintf(`SELECT entry_id, action, customer_id, admin_id, details, created_at
        FROM %s WHERE customer_id = $1
        ORDER BY created_at DESC, entry_id DESC
        LIMIT %d`, AuditTable, limit)

	rows, err := s.db.Query(ctx, query, customerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AuditRecord
	for rows.Next() {
		var rec AuditRecord
		var details []byte
		if err := rows.Scan(&rec.EntryID, &rec.Action, &rec.CustomerID, &rec.AdminID, &details, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.Details = details
		out = append(out, rec)
	}
	return out, rows.Err()
}
