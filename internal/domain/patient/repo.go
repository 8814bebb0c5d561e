package patient

import "context"

// Repository reads patients and medications from one tenant's schema.
// Ordering is fixed (patients by code, medications by patient then name) so
// identity-set generation walks entities in the same order every time.
type Repository interface {
	ListByTenant(ctx context.Context, tenantID string) ([]*Patient, error)
	ListMedicationsByTenant(ctx context.Context, tenantID string) ([]*Medication, error)
}
