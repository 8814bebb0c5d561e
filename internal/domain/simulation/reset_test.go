package simulation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type fakeRepo struct {
	templates map[uuid.UUID]*Template
	snapshots map[uuid.UUID][]byte
	versions  map[uuid.UUID]int
	sessions  map[uuid.UUID][]Session
	sims      map[uuid.UUID]*ActiveSimulation
	resets    []*ResetAudit

	participants map[uuid.UUID][]string
	recordErr    error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		templates:    make(map[uuid.UUID]*Template),
		snapshots:    make(map[uuid.UUID][]byte),
		versions:     make(map[uuid.UUID]int),
		sessions:     make(map[uuid.UUID][]Session),
		sims:         make(map[uuid.UUID]*ActiveSimulation),
		participants: make(map[uuid.UUID][]string),
	}
}

func (f *fakeRepo) CreateTemplate(_ context.Context, t *Template) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	t.CreatedAt = time.Now().UTC()
	t.UpdatedAt = t.CreatedAt
	f.templates[t.ID] = t
	return nil
}

func (f *fakeRepo) GetTemplate(_ context.Context, id uuid.UUID) (*Template, error) {
	t, ok := f.templates[id]
	if !ok {
		return nil, fmt.Errorf("template %s: %w", id, ErrNotFound)
	}
	return t, nil
}

func (f *fakeRepo) ListTemplates(_ context.Context, _, _ int) ([]*Template, int, error) {
	var out []*Template
	for _, t := range f.templates {
		out = append(out, t)
	}
	return out, len(out), nil
}

func (f *fakeRepo) UpdateTemplateStatus(_ context.Context, id uuid.UUID, status TemplateStatus) error {
	t, ok := f.templates[id]
	if !ok {
		return fmt.Errorf("template %s: %w", id, ErrNotFound)
	}
	t.Status = status
	return nil
}

func (f *fakeRepo) SaveSnapshot(_ context.Context, id uuid.UUID, doc []byte) (int, error) {
	t, ok := f.templates[id]
	if !ok {
		return 0, fmt.Errorf("template %s: %w", id, ErrNotFound)
	}
	f.snapshots[id] = doc
	f.versions[id]++
	t.Status = TemplateReady
	return f.versions[id], nil
}

func (f *fakeRepo) GetSnapshot(_ context.Context, id uuid.UUID) ([]byte, int, error) {
	return f.snapshots[id], f.versions[id], nil
}

func (f *fakeRepo) ReplaceSessions(_ context.Context, id uuid.UUID, sessions []Session) error {
	f.sessions[id] = sessions
	return nil
}

func (f *fakeRepo) GetSessions(_ context.Context, id uuid.UUID) ([]Session, error) {
	return f.sessions[id], nil
}

func (f *fakeRepo) CreateSimulation(_ context.Context, s *ActiveSimulation) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	f.sims[s.ID] = s
	return nil
}

func (f *fakeRepo) GetSimulation(_ context.Context, id uuid.UUID) (*ActiveSimulation, error) {
	s, ok := f.sims[id]
	if !ok {
		return nil, fmt.Errorf("simulation %s: %w", id, ErrNotFound)
	}
	return s, nil
}

func (f *fakeRepo) ListSimulations(_ context.Context, _, _ int) ([]*ActiveSimulation, int, error) {
	var out []*ActiveSimulation
	for _, s := range f.sims {
		out = append(out, s)
	}
	return out, len(out), nil
}

func (f *fakeRepo) UpdateSimulationStatus(_ context.Context, id uuid.UUID, status SimulationStatus) error {
	s, ok := f.sims[id]
	if !ok {
		return fmt.Errorf("simulation %s: %w", id, ErrNotFound)
	}
	s.Status = status
	return nil
}

func (f *fakeRepo) AddParticipants(_ context.Context, simulationID uuid.UUID, userIDs []string) error {
	f.participants[simulationID] = append(f.participants[simulationID], userIDs...)
	return nil
}

func (f *fakeRepo) RecordReset(_ context.Context, a *ResetAudit) error {
	if f.recordErr != nil {
		return f.recordErr
	}
	f.resets = append(f.resets, a)
	return nil
}

func (f *fakeRepo) ListResets(_ context.Context, simulationID uuid.UUID) ([]*ResetAudit, error) {
	var out []*ResetAudit
	for _, a := range f.resets {
		if a.SimulationID == simulationID {
			out = append(out, a)
		}
	}
	return out, nil
}

func intptr(n int) *int { return &n }

const reservedRootID = "aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee"

func resetFixture(t *testing.T, sessionNumber *int) (*fakeRepo, uuid.UUID) {
	t.Helper()
	repo := newFakeRepo()

	tplID := uuid.New()
	repo.templates[tplID] = &Template{ID: tplID, Name: "Code Blue", TenantID: "sim_tpl", Status: TemplateReady}

	blob, err := json.Marshal(twoTableDoc())
	if err != nil {
		t.Fatal(err)
	}
	repo.snapshots[tplID] = blob
	repo.versions[tplID] = 1
	repo.sessions[tplID] = []Session{{
		SessionNumber: 1,
		Label:         "Session 1",
		IDMap:         map[string]string{"old-p1": reservedRootID},
	}}

	simID := uuid.New()
	repo.sims[simID] = &ActiveSimulation{
		ID:            simID,
		TemplateID:    tplID,
		TenantID:      "sim_run",
		SessionNumber: sessionNumber,
		Status:        SimulationRunning,
	}
	return repo, simID
}

func newOrchestrator(repo Repository, exec *fakeExecer) *Orchestrator {
	desc := testDescriptor()
	restorer := NewRestorer(exec, desc, zerolog.Nop())
	return NewOrchestrator(repo, restorer, exec, desc, zerolog.Nop())
}

func TestReset_WipesInReverseOrderBeforeRestoring(t *testing.T) {
	repo, simID := resetFixture(t, nil)
	exec := &fakeExecer{}
	o := newOrchestrator(repo, exec)

	res, err := o.Reset(context.Background(), simID)
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if res.RowsRestored != 2 {
		t.Errorf("RowsRestored = %d, want 2 (warnings %v)", res.RowsRestored, res.Warnings)
	}

	var deletes []string
	firstInsert := -1
	for i, c := range exec.calls {
		if strings.HasPrefix(c.sql, "DELETE FROM ") {
			if firstInsert >= 0 {
				t.Fatal("delete issued after restore inserts began")
			}
			deletes = append(deletes, c.sql)
		} else if firstInsert < 0 {
			firstInsert = i
		}
	}
	if len(deletes) != len(CloneSet) {
		t.Fatalf("issued %d deletes, want %d", len(deletes), len(CloneSet))
	}
	for i, spec := range ReverseCloneSet() {
		want := "DELETE FROM tenant_sim_run." + spec.Name
		if deletes[i] != want {
			t.Errorf("delete %d = %q, want %q", i, deletes[i], want)
		}
	}
}

func TestReset_SessionKeepsPrintedLabelsValid(t *testing.T) {
	repo, simID := resetFixture(t, intptr(1))
	exec := &fakeExecer{}
	o := newOrchestrator(repo, exec)

	res, err := o.Reset(context.Background(), simID)
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if !res.IDsPreserved {
		t.Error("IDsPreserved = false for a session-backed instance")
	}
	if res.SessionNumber == nil || *res.SessionNumber != 1 {
		t.Errorf("SessionNumber = %v", res.SessionNumber)
	}

	patients := exec.callsFor("patients")
	if len(patients) != 1 {
		t.Fatalf("patients inserts = %d", len(patients))
	}
	if got := patients[0].arg(t, "id"); got != reservedRootID {
		t.Errorf("root id = %v, want the session's reserved id", got)
	}
	if got := patients[0].arg(t, "patient_code"); got != BarcodeFor(reservedRootID) {
		t.Errorf("patient_code = %v, want the deterministic barcode", got)
	}

	if len(repo.resets) != 1 {
		t.Fatalf("audit rows = %d, want 1", len(repo.resets))
	}
	audit := repo.resets[0]
	if !audit.IDsPreserved || audit.RowsRestored != 2 {
		t.Errorf("audit = %+v", audit)
	}
}

func TestReset_WithoutSessionMintsFreshIDs(t *testing.T) {
	repo, simID := resetFixture(t, nil)
	exec := &fakeExecer{}
	o := newOrchestrator(repo, exec)

	res, err := o.Reset(context.Background(), simID)
	if err != nil {
		t.Fatal(err)
	}
	if res.IDsPreserved {
		t.Error("IDsPreserved = true without a recorded session")
	}
	if got := exec.callsFor("patients")[0].arg(t, "id"); got == "old-p1" || got == reservedRootID {
		t.Errorf("root id = %v, want a freshly minted id", got)
	}
}

func TestReset_VanishedSessionAbortsBeforeDeleting(t *testing.T) {
	repo, simID := resetFixture(t, intptr(7))
	exec := &fakeExecer{}
	o := newOrchestrator(repo, exec)

	_, err := o.Reset(context.Background(), simID)
	if !errors.Is(err, ErrPrecondition) {
		t.Fatalf("err = %v, want ErrPrecondition", err)
	}
	if len(exec.calls) != 0 {
		t.Errorf("issued %d statements; a reset that cannot finish must never start", len(exec.calls))
	}
}

func TestReset_NoSnapshotAborts(t *testing.T) {
	repo, simID := resetFixture(t, nil)
	sim := repo.sims[simID]
	delete(repo.snapshots, sim.TemplateID)
	repo.versions[sim.TemplateID] = 0

	exec := &fakeExecer{}
	o := newOrchestrator(repo, exec)

	_, err := o.Reset(context.Background(), simID)
	if !errors.Is(err, ErrPrecondition) {
		t.Fatalf("err = %v, want ErrPrecondition", err)
	}
	if len(exec.calls) != 0 {
		t.Error("tenant data touched despite missing snapshot")
	}
}

func TestReset_AuditFailureIsWarningNotError(t *testing.T) {
	repo, simID := resetFixture(t, nil)
	repo.recordErr = errors.New("disk full")

	exec := &fakeExecer{}
	o := newOrchestrator(repo, exec)

	res, err := o.Reset(context.Background(), simID)
	if err != nil {
		t.Fatalf("a lost audit row must not fail the reset: %v", err)
	}
	found := false
	for _, w := range res.Warnings {
		if strings.Contains(w, "audit record failed") {
			found = true
		}
	}
	if !found {
		t.Errorf("warnings = %v, want the audit failure surfaced", res.Warnings)
	}
}

func TestReset_UnknownSimulation(t *testing.T) {
	repo := newFakeRepo()
	o := newOrchestrator(repo, &fakeExecer{})

	_, err := o.Reset(context.Background(), uuid.New())
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}
