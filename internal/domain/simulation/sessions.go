package simulation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/haclabs/haccare/internal/domain/patient"
)

// SessionGenerator pre-reserves destination ids for patients and medications
// ahead of any restore, so labels printed against session N keep scanning
// correctly across every launch and reset that uses session N.
type SessionGenerator struct {
	patients patient.Repository
	newID    func() string
}

// NewSessionGenerator constructs a SessionGenerator over the template
// tenant's live data.
func NewSessionGenerator(patients patient.Repository) *SessionGenerator {
	return &SessionGenerator{patients: patients, newID: uuid.NewString}
}

// reserve mints a destination id whose six-digit barcode is unused within the
// session. Codes carry far less entropy than the ids they derive from, so a
// collision has to be caught here, before labels print, rather than fail the
// unique patient_code constraint during a restore.
func (g *SessionGenerator) reserve(used map[string]bool) string {
	for {
		id := g.newID()
		code := BarcodeFor(id)
		if !used[code] {
			used[code] = true
			return id
		}
	}
}

// Generate builds count sessions against the template tenant's current
// patients and medications. Ids are reserved, not yet backed by any row.
// Labels beyond len(labels) default to "Session N".
func (g *SessionGenerator) Generate(ctx context.Context, tenantID string, count int, labels []string) ([]Session, error) {
	if count < 1 {
		return nil, fmt.Errorf("%w: session count must be at least 1", ErrPrecondition)
	}

	pats, err := g.patients.ListByTenant(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("generate sessions: %w", err)
	}
	meds, err := g.patients.ListMedicationsByTenant(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("generate sessions: %w", err)
	}
	if len(pats) == 0 {
		return nil, fmt.Errorf("%w: template tenant %s has no patients", ErrPrecondition, tenantID)
	}

	now := time.Now().UTC()
	sessions := make([]Session, 0, count)
	for n := 1; n <= count; n++ {
		label := fmt.Sprintf("Session %d", n)
		if n-1 < len(labels) && labels[n-1] != "" {
			label = labels[n-1]
		}

		idMap := make(map[string]string, len(pats)+len(meds))
		usedCodes := make(map[string]bool, len(pats)+len(meds))
		for _, p := range pats {
			idMap[p.ID.String()] = g.reserve(usedCodes)
		}
		for _, m := range meds {
			idMap[m.ID.String()] = g.reserve(usedCodes)
		}

		sessions = append(sessions, Session{
			SessionNumber:   n,
			Label:           label,
			IDMap:           idMap,
			PatientCount:    len(pats),
			MedicationCount: len(meds),
			GeneratedAt:     now,
		})
	}
	return sessions, nil
}

// BuildLabelData joins the template's live patients and medications with one
// session's pre-reserved destination ids into the label-printing projection.
func BuildLabelData(sess Session, pats []*patient.Patient, meds []*patient.Medication) *LabelData {
	out := &LabelData{
		SessionNumber: sess.SessionNumber,
		Label:         sess.Label,
		Patients:      []LabelPatient{},
		Medications:   []LabelMedication{},
	}

	for _, p := range pats {
		destID := sess.IDMap[p.ID.String()]
		lp := LabelPatient{
			TemplateID:    p.ID.String(),
			DestinationID: destID,
			Barcode:       BarcodeFor(destID),
			FullName:      p.FullName(),
		}
		if p.DateOfBirth != nil {
			lp.DateOfBirth = p.DateOfBirth.Format("2006-01-02")
		}
		out.Patients = append(out.Patients, lp)
	}

	for _, m := range meds {
		destID := sess.IDMap[m.ID.String()]
		lm := LabelMedication{
			TemplateID:         m.ID.String(),
			DestinationID:      destID,
			Barcode:            BarcodeFor(destID),
			Name:               m.Name,
			PatientDestination: sess.IDMap[m.PatientID.String()],
		}
		if m.Dosage != nil {
			lm.Dosage = *m.Dosage
		}
		out.Medications = append(out.Medications, lm)
	}
	return out
}
