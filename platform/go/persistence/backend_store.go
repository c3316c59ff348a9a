package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// BackendsTable holds customer backend connection metadata. Secret columns are vault tokens only.
const BackendsTable = "customer_backends"

// BackendRecord represents a customer_backends row.
type BackendRecord struct {
	CustomerID              uuid.UUID       `db:"customer_id"`
	ProjectRef              string          `db:"project_ref"`
	APIURL                  string          `db:"api_url"`
	EncryptedAnonKey        string          `db:"encrypted_anon_key"`
	EncryptedServiceRoleKey string          `db:"encrypted_service_role_key"`
	EncryptedDBPassword     *string         `db:"encrypted_db_password"`
	Region                  *string         `db:"region"`
	ProvisioningStatus      string          `db:"provisioning_status"`
	MigrationLogs           json.RawMessage `db:"migration_logs"`
	CreatedAt               time.Time       `db:"created_at"`
	UpdatedAt               time.Time       `db:"updated_at"`
}

// BackendStore provides access to customer_backends.
type BackendStore struct {
	db Querier
}

// NewBackendStore creates a store; assumes migrations already created the table.
func NewBackendStore(db Querier) *BackendStore {
	if db == nil {
		panic("backend store: db is required")
	}
	return &BackendStore{db: db}
}

const backendColumns = `customer_id, project_ref, api_url, encrypted_anon_key, encrypted_service_role_key,
        encrypted_db_password, region, provisioning_status, migration_logs, created_at, updated_at`

// Register inserts the backend row. A row left in the error state by a failed migration is
// replaced; any other existing row yields ErrNoMatch.
func (s *BackendStore) Register(ctx context.Context, rec BackendRecord) (BackendRecord, error) {
	if rec.CustomerID == uuid.Nil {
		return BackendRecord{}, errors.New("customer id is required")
	}
	if len(rec.MigrationLogs) == 0 {
		rec.MigrationLogs = json.RawMessage("[]")
	}

	query := fmt.Sprintf(`
        INSERT INTO %[1]s (%[2]s)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$10)
        ON CONFLICT (customer_id) DO UPDATE SET
            project_ref = EXCLUDED.project_ref,
            api_url = EXCLUDED.api_url,
            encrypted_anon_key = EXCLUDED.encrypted_anon_key,
            encrypted_service_role_key = EXCLUDED.encrypted_service_role_key,
            encrypted_db_password = EXCLUDED.encrypted_db_password,
            region = EXCLUDED.region,
            provisioning_status = EXCLUDED.provisioning_status,
            migration_logs = EXCLUDED.migration_logs,
            updated_at = EXCLUDED.updated_at
        WHERE %[1]s.provisioning_status = 'error'
        RETURNING %[2]s`, BackendsTable, backendColumns)

	out, err := scanBackendRecord(s.db.QueryRow(ctx, query,
		rec.CustomerID, rec.ProjectRef, rec.APIURL, rec.EncryptedAnonKey, rec.EncryptedServiceRoleKey,
		rec.EncryptedDBPassword, rec.Region, rec.ProvisioningStatus, rec.MigrationLogs, rec.CreatedAt,
	))
	if errors.Is(err, ErrNotFound) {
		return BackendRecord{}, ErrNoMatch
	}
	return out, err
}

// Get returns the backend for a customer.
func (s *BackendStore) Get(ctx context.Context, customerID uuid.UUID) (BackendRecord, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE customer_id = $1", backendColumns, BackendsTable)
	return scanBackendRecord(s.db.QueryRow(ctx, query, customerID))
}

// Finalize stores the migration outcome and step log.
func (s *BackendStore) Finalize(ctx context.Context, customerID uuid.UUID, status string, logs json.RawMessage, at time.Time) error {
	query := fmt.Sprintf(`UPDATE %s SET provisioning_status = $2, migration_logs = $3, updated_at = $4
        WHERE customer_id = $1`, BackendsTable)

	tag, err := s.db.Exec(ctx, query, customerID, status, logs, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanBackendRecord(row pgx.Row) (BackendRecord, error) {
	var rec BackendRecord
	var logs []byte
	if err := row.Scan(
		&rec.CustomerID, &rec.ProjectRef, &rec.APIURL, &rec.EncryptedAnonKey, &rec.EncryptedServiceRoleKey,
		&rec.EncryptedDBPassword, &rec.Region, &rec.ProvisioningStatus, &logs, &rec.CreatedAt, &rec.UpdatedAt,
	); err != nil {
		return BackendRecord{}, notFound(err)
	}
	rec.MigrationLogs = logs
	return rec, nil
}
