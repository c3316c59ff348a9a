package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// CustomersTable holds the customer summary rows.
const CustomersTable = "customers"

// CustomerRecord represents a customers row.
type CustomerRecord struct {
	CustomerID uuid.UUID `db:"customer_id"`
	Name       string    `db:"name"`
	Email      string    `db:"email"`
	Company    *string   `db:"company"`
	Plan       string    `db:"plan"`
	CreatedAt  time.Time `db:"created_at"`
	UpdatedAt  time.Time `db:"updated_at"`
}

// CustomerStore provides access to the customers table.
type CustomerStore struct {
	db Querier
}

// NewCustomerStore creates a store; assumes migrations already created the table.
func NewCustomerStore(db Querier) *CustomerStore {
	if db == nil {
		panic("customer store: db is required")
	}
	return &CustomerStore{db: db}
}

const customerColumns = "customer_id, name, email, company, plan, created_at, updated_at"

// Upsert inserts the customer or refreshes its summary fields. created_at is kept.
func (s *CustomerStore) Upsert(ctx context.Context, rec CustomerRecord) (CustomerRecord, error) {
	if rec.CustomerID == uuid.Nil {
		return CustomerRecord{}, errors.New("customer id is required")
	}

	query := fmt.Sprintf(`
        INSERT INTO %s (customer_id, name, email, company, plan, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $6)
        ON CONFLICT (customer_id) DO UPDATE SET
            name = EXCLUDED.name,
            email = EXCLUDED.email,
            company = EXCLUDED.company,
            plan = EXCLUDED.plan,
            updated_at = EXCLUDED.updated_at
        RETURNING %s`, CustomersTable, customerColumns)

	return scanCustomerRecord(s.db.QueryRow(ctx, query,
		rec.CustomerID, rec.Name, rec.Email, rec.Company, rec.Plan, rec.CreatedAt,
	))
}

// Get returns a customer by id.
func (s *CustomerStore) Get(ctx context.Context, id uuid.UUID) (CustomerRecord, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE customer_id = $1", customerColumns, CustomersTable)
	return scanCustomerRecord(s.db.QueryRow(ctx, query, id))
}

func scanCustomerRecord(row pgx.Row) (CustomerRecord, error) {
	var rec CustomerRecord
	if err := row.Scan(&rec.CustomerID, &rec.Name, &rec.Email, &rec.Company, &rec.Plan, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return CustomerRecord{}, notFound(err)
	}
	return rec, nil
}
