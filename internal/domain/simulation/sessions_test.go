package simulation

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/haclabs/haccare/internal/domain/patient"
)

type fakePatientRepo struct {
	patients []*patient.Patient
	meds     []*patient.Medication
	err      error
}

func (f *fakePatientRepo) ListByTenant(_ context.Context, _ string) ([]*patient.Patient, error) {
	return f.patients, f.err
}

func (f *fakePatientRepo) ListMedicationsByTenant(_ context.Context, _ string) ([]*patient.Medication, error) {
	return f.meds, f.err
}

func strptr(s string) *string { return &s }

func templateData() *fakePatientRepo {
	p1 := &patient.Patient{ID: uuid.New(), Code: "111111", FirstName: "Ana", LastName: "Silva"}
	p2 := &patient.Patient{ID: uuid.New(), Code: "222222", FirstName: "Ben", LastName: "Okafor"}
	m1 := &patient.Medication{ID: uuid.New(), PatientID: p1.ID, Name: "Metoprolol", Dosage: strptr("25 mg")}
	return &fakePatientRepo{patients: []*patient.Patient{p1, p2}, meds: []*patient.Medication{m1}}
}

func TestGenerate_ReservesIDsPerSession(t *testing.T) {
	repo := templateData()
	g := NewSessionGenerator(repo)

	sessions, err := g.Generate(context.Background(), "sim_tpl", 3, []string{"Morning cohort"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(sessions) != 3 {
		t.Fatalf("got %d sessions, want 3", len(sessions))
	}

	if sessions[0].Label != "Morning cohort" {
		t.Errorf("session 1 label = %q", sessions[0].Label)
	}
	if sessions[1].Label != "Session 2" || sessions[2].Label != "Session 3" {
		t.Errorf("default labels = %q, %q", sessions[1].Label, sessions[2].Label)
	}

	for i, s := range sessions {
		if s.SessionNumber != i+1 {
			t.Errorf("session %d numbered %d", i, s.SessionNumber)
		}
		if s.PatientCount != 2 || s.MedicationCount != 1 {
			t.Errorf("session %d counts = %d patients, %d meds", i, s.PatientCount, s.MedicationCount)
		}
		if len(s.IDMap) != 3 {
			t.Errorf("session %d reserved %d ids, want 3", i, len(s.IDMap))
		}
		for _, p := range repo.patients {
			if s.IDMap[p.ID.String()] == "" {
				t.Errorf("session %d has no reserved id for patient %s", i, p.ID)
			}
		}
	}

	// Sessions are independent reservations: the same template patient must
	// map to different destinations in different sessions.
	key := repo.patients[0].ID.String()
	if sessions[0].IDMap[key] == sessions[1].IDMap[key] {
		t.Error("two sessions reserved the same destination id")
	}
}

func TestGenerate_ReMintsOnBarcodeCollision(t *testing.T) {
	repo := templateData()
	g := NewSessionGenerator(repo)

	// The second mint repeats the first id, so its six-digit code collides
	// within the session and the generator must reserve again.
	pinned := uuid.NewString()
	mints := 0
	g.newID = func() string {
		mints++
		if mints <= 2 {
			return pinned
		}
		return fmt.Sprintf("re-mint-%d", mints)
	}

	sessions, err := g.Generate(context.Background(), "sim_tpl", 1, nil)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if mints < 4 {
		t.Fatalf("mints = %d, want at least 4 (three reservations plus a re-mint)", mints)
	}

	seen := make(map[string]bool)
	codes := make(map[string]bool)
	for _, dest := range sessions[0].IDMap {
		if seen[dest] {
			t.Fatalf("destination id %s reserved twice", dest)
		}
		seen[dest] = true
		code := BarcodeFor(dest)
		if codes[code] {
			t.Fatalf("barcode %s reserved for two different labels", code)
		}
		codes[code] = true
	}
}

func TestGenerate_Preconditions(t *testing.T) {
	g := NewSessionGenerator(templateData())
	if _, err := g.Generate(context.Background(), "sim_tpl", 0, nil); !errors.Is(err, ErrPrecondition) {
		t.Errorf("count 0: err = %v, want ErrPrecondition", err)
	}

	empty := NewSessionGenerator(&fakePatientRepo{})
	if _, err := empty.Generate(context.Background(), "sim_tpl", 1, nil); !errors.Is(err, ErrPrecondition) {
		t.Errorf("no patients: err = %v, want ErrPrecondition", err)
	}

	broken := NewSessionGenerator(&fakePatientRepo{err: errors.New("connection refused")})
	if _, err := broken.Generate(context.Background(), "sim_tpl", 1, nil); err == nil {
		t.Error("repository failure swallowed")
	}
}

func TestBuildLabelData(t *testing.T) {
	repo := templateData()
	sess := Session{
		SessionNumber: 2,
		Label:         "Evening cohort",
		IDMap:         map[string]string{},
		GeneratedAt:   time.Now().UTC(),
	}
	for _, p := range repo.patients {
		sess.IDMap[p.ID.String()] = uuid.NewString()
	}
	for _, m := range repo.meds {
		sess.IDMap[m.ID.String()] = uuid.NewString()
	}

	data := BuildLabelData(sess, repo.patients, repo.meds)

	if data.SessionNumber != 2 || data.Label != "Evening cohort" {
		t.Errorf("header = %d %q", data.SessionNumber, data.Label)
	}
	if len(data.Patients) != 2 || len(data.Medications) != 1 {
		t.Fatalf("got %d patients, %d medications", len(data.Patients), len(data.Medications))
	}

	lp := data.Patients[0]
	wantDest := sess.IDMap[repo.patients[0].ID.String()]
	if lp.DestinationID != wantDest {
		t.Errorf("destination = %q, want %q", lp.DestinationID, wantDest)
	}
	if lp.Barcode != BarcodeFor(wantDest) {
		t.Errorf("barcode = %q, want code derived from the reserved id", lp.Barcode)
	}
	if lp.FullName != "Silva, Ana" {
		t.Errorf("full name = %q", lp.FullName)
	}

	lm := data.Medications[0]
	if lm.Name != "Metoprolol" || lm.Dosage != "25 mg" {
		t.Errorf("medication = %+v", lm)
	}
	if lm.PatientDestination != sess.IDMap[repo.meds[0].PatientID.String()] {
		t.Error("medication label does not point at the patient's reserved id")
	}
	if lm.Barcode != BarcodeFor(lm.DestinationID) {
		t.Error("medication barcode not derived from its reserved id")
	}
}
