package simulation

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Sentinel errors for the caller-facing taxonomy. Schema drift, coercion
// failures, and unmapped foreign keys are never errors; they surface as
// warnings on the operation result.
var (
	ErrNotFound     = errors.New("not found")
	ErrPrecondition = errors.New("precondition failed")
)

// TemplateStatus is the lifecycle state of a scenario template.
type TemplateStatus string

const (
	TemplateDraft    TemplateStatus = "draft"
	TemplateReady    TemplateStatus = "ready"
	TemplateArchived TemplateStatus = "archived"
)

// Template is an authoring-time tenant whose captured data becomes the
// blueprint for launched simulations.
type Template struct {
	ID              uuid.UUID      `db:"id" json:"id"`
	Name            string         `db:"name" json:"name"`
	Description     *string        `db:"description" json:"description,omitempty"`
	TenantID        string         `db:"tenant_id" json:"tenant_id"`
	Status          TemplateStatus `db:"status" json:"status"`
	SnapshotVersion int            `db:"snapshot_version" json:"snapshot_version"`
	SnapshotSavedAt *time.Time     `db:"snapshot_saved_at" json:"snapshot_saved_at,omitempty"`
	CreatedBy       string         `db:"created_by" json:"created_by"`
	CreatedAt       time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at" json:"updated_at"`
}

// Session is one pre-reserved identity set on a template. Ids in IDMap are
// reserved ahead of any restore so printed barcodes survive repeated resets
// of the same session.
type Session struct {
	SessionNumber   int               `json:"session_number"`
	Label           string            `json:"label"`
	IDMap           map[string]string `json:"id_map"`
	PatientCount    int               `json:"patient_count"`
	MedicationCount int               `json:"medication_count"`
	GeneratedAt     time.Time         `json:"generated_at"`
}

// SimulationStatus is the lifecycle state of an active simulation instance.
type SimulationStatus string

const (
	SimulationRunning   SimulationStatus = "running"
	SimulationCompleted SimulationStatus = "completed"
	SimulationArchived  SimulationStatus = "archived"
)

// ActiveSimulation is a tenant-scoped instance launched from a template. The
// recorded SessionNumber is what lets reset find the same identity map again
// without the caller re-specifying it.
type ActiveSimulation struct {
	ID              uuid.UUID        `db:"id" json:"id"`
	TemplateID      uuid.UUID        `db:"template_id" json:"template_id"`
	TenantID        string           `db:"tenant_id" json:"tenant_id"`
	Name            string           `db:"name" json:"name"`
	SnapshotVersion int              `db:"snapshot_version" json:"snapshot_version"`
	SessionNumber   *int             `db:"session_number" json:"session_number,omitempty"`
	DurationMinutes int              `db:"duration_minutes" json:"duration_minutes"`
	StartedAt       time.Time        `db:"started_at" json:"started_at"`
	EndsAt          time.Time        `db:"ends_at" json:"ends_at"`
	Status          SimulationStatus `db:"status" json:"status"`
	CreatedBy       string           `db:"created_by" json:"created_by"`
	CreatedAt       time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time        `db:"updated_at" json:"updated_at"`
}

// ResetAudit records one reset of an active simulation, for debrief history.
type ResetAudit struct {
	ID            uuid.UUID `db:"id" json:"id"`
	SimulationID  uuid.UUID `db:"simulation_id" json:"simulation_id"`
	IDsPreserved  bool      `db:"ids_preserved" json:"ids_preserved"`
	SessionNumber *int      `db:"session_number" json:"session_number,omitempty"`
	RowsRestored  int       `db:"rows_restored" json:"rows_restored"`
	Warnings      []string  `db:"warnings" json:"warnings"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// SnapshotResult is the outcome of a save-snapshot operation.
type SnapshotResult struct {
	SnapshotVersion int    `json:"snapshot_version"`
	RowCount        int    `json:"row_count"`
	Message         string `json:"message"`
}

// RestoreResult aggregates what one restore call wrote.
type RestoreResult struct {
	RowsRestored int            `json:"rows_restored"`
	PerTable     map[string]int `json:"per_table"`
	Warnings     []string       `json:"warnings"`
}

// LaunchResult is the outcome of launching a template into a fresh tenant.
type LaunchResult struct {
	SimulationID uuid.UUID `json:"simulation_id"`
	TenantID     string    `json:"tenant_id"`
	IDsPreserved bool      `json:"ids_preserved"`
	RowsRestored int       `json:"rows_restored"`
	Warnings     []string  `json:"warnings"`
}

// ResetResult is the outcome of a delete-then-restore reset.
type ResetResult struct {
	IDsPreserved  bool     `json:"ids_preserved"`
	SessionNumber *int     `json:"session_number,omitempty"`
	RowsRestored  int      `json:"rows_restored"`
	Warnings      []string `json:"warnings"`
}

// LabelPatient is one row of the label-printing projection: the template's
// live patient joined with its pre-reserved destination id.
type LabelPatient struct {
	TemplateID    string `json:"template_patient_id"`
	DestinationID string `json:"destination_id"`
	Barcode       string `json:"barcode"`
	FullName      string `json:"full_name"`
	DateOfBirth   string `json:"date_of_birth,omitempty"`
}

// LabelMedication is one medication row of the label-printing projection.
type LabelMedication struct {
	TemplateID         string `json:"template_medication_id"`
	DestinationID      string `json:"destination_id"`
	Barcode            string `json:"barcode"`
	Name               string `json:"name"`
	Dosage             string `json:"dosage,omitempty"`
	PatientDestination string `json:"patient_destination_id"`
}

// LabelData is the read-only projection for printing one session's labels.
type LabelData struct {
	SessionNumber int               `json:"session_number"`
	Label         string            `json:"label"`
	Patients      []LabelPatient    `json:"patients"`
	Medications   []LabelMedication `json:"medications"`
}
