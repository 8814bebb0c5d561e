// Package patient holds the typed view of the clinical root tables the
// simulation engine needs by name: patients and their medications. The
// engine itself moves rows generically; this package exists for the
// label-printing projection and identity-set ordering, which must read the
// template's live data in a stable, human-meaningful order.
package patient

import (
	"time"

	"github.com/google/uuid"
)

// Patient maps to the patients table (the clone-set root).
type Patient struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	TenantID    string     `db:"tenant_id" json:"tenant_id"`
	Code        string     `db:"patient_code" json:"patient_code"`
	FirstName   string     `db:"first_name" json:"first_name"`
	LastName    string     `db:"last_name" json:"last_name"`
	DateOfBirth *time.Time `db:"date_of_birth" json:"date_of_birth,omitempty"`
	Gender      *string    `db:"gender" json:"gender,omitempty"`
	RoomNumber  *string    `db:"room_number" json:"room_number,omitempty"`
	Diagnosis   *string    `db:"diagnosis" json:"diagnosis,omitempty"`
	Allergies   []string   `db:"allergies" json:"allergies,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
}

// FullName renders "Last, First" for labels and lists.
func (p *Patient) FullName() string {
	if p.FirstName == "" {
		return p.LastName
	}
	return p.LastName + ", " + p.FirstName
}

// Medication maps to the patient_medications table.
type Medication struct {
	ID        uuid.UUID `db:"id" json:"id"`
	TenantID  string    `db:"tenant_id" json:"tenant_id"`
	PatientID uuid.UUID `db:"patient_id" json:"patient_id"`
	Name      string    `db:"name" json:"name"`
	Dosage    *string   `db:"dosage" json:"dosage,omitempty"`
	Route     *string   `db:"route" json:"route,omitempty"`
	Frequency *string   `db:"frequency" json:"frequency,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}
