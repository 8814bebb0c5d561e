package patient

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/haclabs/haccare/internal/platform/db"
)

type querier interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
}

type repoPG struct{ pool querier }

// NewRepoPG returns a Repository backed by schema-qualified queries against
// the tenant's schema.
func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

// conn prefers an in-flight transaction, then a tenant-pinned connection,
// then the shared pool.
func (r *repoPG) conn(ctx context.Context) querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const patientCols = `id, tenant_id, patient_code, first_name, last_name,
	date_of_birth, gender, room_number, diagnosis, allergies, created_at, updated_at`

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.TenantID, &p.Code, &p.FirstName, &p.LastName,
		&p.DateOfBirth, &p.Gender, &p.RoomNumber, &p.Diagnosis, &p.Allergies, &p.CreatedAt, &p.UpdatedAt)
	return &p, err
}

func (r *repoPG) ListByTenant(ctx context.Context, tenantID string) ([]*Patient, error) {
	q := fmt.Sprintf(`SELECT %s FROM %s.patients ORDER BY patient_code, id`,
		patientCols, db.SchemaName(tenantID))
	rows, err := r.conn(ctx).Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list patients for %s: %w", tenantID, err)
	}
	defer rows.Close()

	var items []*Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, p)
	}
	return items, rows.Err()
}

const medCols = `id, tenant_id, patient_id, name, dosage, route, frequency, created_at, updated_at`

func (r *repoPG) ListMedicationsByTenant(ctx context.Context, tenantID string) ([]*Medication, error) {
	q := fmt.Sprintf(`SELECT %s FROM %s.patient_medications ORDER BY patient_id, name, id`,
		medCols, db.SchemaName(tenantID))
	rows, err := r.conn(ctx).Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list medications for %s: %w", tenantID, err)
	}
	defer rows.Close()

	var items []*Medication
	for rows.Next() {
		var m Medication
		if err := rows.Scan(&m.ID, &m.TenantID, &m.PatientID, &m.Name,
			&m.Dosage, &m.Route, &m.Frequency, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, err
		}
		items = append(items, &m)
	}
	return items, rows.Err()
}
