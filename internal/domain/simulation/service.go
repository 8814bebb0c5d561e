package simulation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/haclabs/haccare/internal/domain/patient"
	"github.com/haclabs/haccare/internal/platform/telemetry"
)

// TenantProvisioner creates and drops tenant schemas. Implemented by
// db.TenantManager; faked in tests.
type TenantProvisioner interface {
	Create(ctx context.Context, tenantID string) error
	Drop(ctx context.Context, tenantID string) error
}

// Service sequences the engine's components through the template and
// simulation lifecycle: create → save snapshot → launch → reset →
// complete → archive.
type Service struct {
	repo      Repository
	builder   *Builder
	restorer  *Restorer
	resets    *Orchestrator
	generator *SessionGenerator
	tenants   TenantProvisioner
	patients  patient.Repository
	log       zerolog.Logger
	metrics   *telemetry.Provider

	defaultDuration int
}

// NewService wires the engine together.
func NewService(repo Repository, builder *Builder, restorer *Restorer, resets *Orchestrator,
	generator *SessionGenerator, tenants TenantProvisioner, patients patient.Repository, log zerolog.Logger) *Service {
	return &Service{
		repo:      repo,
		builder:   builder,
		restorer:  restorer,
		resets:    resets,
		generator: generator,
		tenants:   tenants,
		patients:  patients,
		log:       log,
	}
}

// WithMetrics attaches a metrics provider. The service works without one.
func (s *Service) WithMetrics(p *telemetry.Provider) *Service {
	s.metrics = p
	return s
}

// WithDefaultDuration sets the simulation length, in minutes, used when a
// launch request does not name one.
func (s *Service) WithDefaultDuration(minutes int) *Service {
	s.defaultDuration = minutes
	return s
}

func (s *Service) count(name string, delta int64) {
	if s.metrics != nil {
		s.metrics.Add(name, delta)
	}
}

// NewTenantID mints a short schema-safe tenant identifier.
func NewTenantID() string {
	return "sim_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// CreateTemplate provisions an authoring tenant and its template record.
func (s *Service) CreateTemplate(ctx context.Context, name string, description *string, createdBy string) (*Template, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: template name is required", ErrPrecondition)
	}

	tenantID := NewTenantID()
	if err := s.tenants.Create(ctx, tenantID); err != nil {
		return nil, fmt.Errorf("create template tenant: %w", err)
	}

	t := &Template{
		Name:        name,
		Description: description,
		TenantID:    tenantID,
		Status:      TemplateDraft,
		CreatedBy:   createdBy,
	}
	if err := s.repo.CreateTemplate(ctx, t); err != nil {
		return nil, fmt.Errorf("create template: %w", err)
	}

	s.log.Info().Str("template", t.ID.String()).Str("tenant", tenantID).Msg("template created")
	return t, nil
}

// GetTemplate returns one template.
func (s *Service) GetTemplate(ctx context.Context, id uuid.UUID) (*Template, error) {
	return s.repo.GetTemplate(ctx, id)
}

// ListTemplates pages through templates.
func (s *Service) ListTemplates(ctx context.Context, limit, offset int) ([]*Template, int, error) {
	return s.repo.ListTemplates(ctx, limit, offset)
}

// SaveSnapshot captures the template tenant's current clinical data and
// atomically replaces the stored snapshot, marking the template ready.
// Concurrent saves on the same template are last-writer-wins on the whole
// document; in-flight restores that already read the old document are
// unaffected.
func (s *Service) SaveSnapshot(ctx context.Context, templateID uuid.UUID, capturedBy string) (*SnapshotResult, error) {
	tpl, err := s.repo.GetTemplate(ctx, templateID)
	if err != nil {
		return nil, err
	}

	doc, warnings, err := s.builder.Build(ctx, tpl.TenantID, capturedBy)
	if err != nil {
		return nil, fmt.Errorf("save snapshot: %w", err)
	}

	blob, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("save snapshot: encode: %w", err)
	}

	version, err := s.repo.SaveSnapshot(ctx, templateID, blob)
	if err != nil {
		return nil, err
	}

	s.count(telemetry.MetricSnapshotsCaptured, 1)
	s.count(telemetry.MetricRowsCaptured, int64(doc.RowCount()))

	msg := fmt.Sprintf("snapshot v%d captured: %d rows", version, doc.RowCount())
	if len(warnings) > 0 {
		msg += "; " + strings.Join(warnings, "; ")
	}
	return &SnapshotResult{SnapshotVersion: version, RowCount: doc.RowCount(), Message: msg}, nil
}

// Launch restores a template's snapshot into a freshly provisioned tenant
// and records the active simulation instance. When sessionNumber is given,
// the session's pre-reserved identity map pins every patient and medication
// id so pre-printed labels match.
func (s *Service) Launch(ctx context.Context, templateID uuid.UUID, name string, durationMinutes int,
	participantIDs []string, sessionNumber *int, createdBy string) (*LaunchResult, error) {

	if durationMinutes <= 0 {
		durationMinutes = s.defaultDuration
	}
	if durationMinutes <= 0 {
		return nil, fmt.Errorf("%w: simulation duration must be positive", ErrPrecondition)
	}

	tpl, err := s.repo.GetTemplate(ctx, templateID)
	if err != nil {
		return nil, err
	}

	raw, version, err := s.repo.GetSnapshot(ctx, templateID)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 || version == 0 {
		return nil, fmt.Errorf("launch %s: %w: save a snapshot before launching", templateID, ErrPrecondition)
	}

	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("launch %s: decode snapshot: %w", templateID, err)
	}

	var ids *IdentityMap
	preserved := false
	if sessionNumber != nil {
		sessions, err := s.repo.GetSessions(ctx, templateID)
		if err != nil {
			return nil, err
		}
		sess, ok := findSession(sessions, *sessionNumber)
		if !ok {
			return nil, fmt.Errorf("launch %s: session %d: %w", templateID, *sessionNumber, ErrNotFound)
		}
		ids = NewIdentityMap(sess.IDMap)
		preserved = true
	}

	tenantID := NewTenantID()
	if err := s.tenants.Create(ctx, tenantID); err != nil {
		return nil, fmt.Errorf("launch %s: provision tenant: %w", templateID, err)
	}

	restoreStart := time.Now()
	res, err := s.restorer.Restore(ctx, tenantID, &doc, ids, Options{PreserveIdentifiers: preserved})
	if err != nil {
		return nil, fmt.Errorf("launch %s: %w", templateID, err)
	}
	if s.metrics != nil {
		s.metrics.ObserveRestoreDuration(time.Since(restoreStart))
	}
	s.count(telemetry.MetricSimulationsLaunched, 1)
	s.count(telemetry.MetricRowsRestored, int64(res.RowsRestored))
	s.count(telemetry.MetricRestoreWarnings, int64(len(res.Warnings)))

	now := time.Now().UTC()
	sim := &ActiveSimulation{
		TemplateID:      tpl.ID,
		TenantID:        tenantID,
		Name:            name,
		SnapshotVersion: version,
		SessionNumber:   sessionNumber,
		DurationMinutes: durationMinutes,
		StartedAt:       now,
		EndsAt:          now.Add(time.Duration(durationMinutes) * time.Minute),
		Status:          SimulationRunning,
		CreatedBy:       createdBy,
	}
	if err := s.repo.CreateSimulation(ctx, sim); err != nil {
		return nil, fmt.Errorf("launch %s: record instance: %w", templateID, err)
	}

	if len(participantIDs) > 0 {
		if err := s.repo.AddParticipants(ctx, sim.ID, participantIDs); err != nil {
			return nil, fmt.Errorf("launch %s: grant participants: %w", templateID, err)
		}
	}

	s.log.Info().
		Str("template", templateID.String()).
		Str("simulation", sim.ID.String()).
		Str("tenant", tenantID).
		Bool("ids_preserved", preserved).
		Msg("simulation launched")

	return &LaunchResult{
		SimulationID: sim.ID,
		TenantID:     tenantID,
		IDsPreserved: preserved,
		RowsRestored: res.RowsRestored,
		Warnings:     res.Warnings,
	}, nil
}

// Reset delegates to the orchestrator.
func (s *Service) Reset(ctx context.Context, instanceID uuid.UUID) (*ResetResult, error) {
	start := time.Now()
	res, err := s.resets.Reset(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.ObserveRestoreDuration(time.Since(start))
	}
	s.count(telemetry.MetricResets, 1)
	s.count(telemetry.MetricRowsRestored, int64(res.RowsRestored))
	s.count(telemetry.MetricRestoreWarnings, int64(len(res.Warnings)))
	return res, nil
}

// GenerateSessions replaces the template's whole session list with count
// freshly reserved identity sets. This invalidates every label previously
// printed for this template, which is why it is an explicit operator action
// and never happens implicitly.
func (s *Service) GenerateSessions(ctx context.Context, templateID uuid.UUID, count int, labels []string) ([]Session, error) {
	tpl, err := s.repo.GetTemplate(ctx, templateID)
	if err != nil {
		return nil, err
	}

	sessions, err := s.generator.Generate(ctx, tpl.TenantID, count, labels)
	if err != nil {
		return nil, err
	}
	if err := s.repo.ReplaceSessions(ctx, templateID, sessions); err != nil {
		return nil, err
	}

	s.count(telemetry.MetricIdentitySets, int64(count))
	s.log.Info().Str("template", templateID.String()).Int("count", count).Msg("identity sets regenerated")
	return sessions, nil
}

// ListSessions returns the template's current identity sets.
func (s *Service) ListSessions(ctx context.Context, templateID uuid.UUID) ([]Session, error) {
	if _, err := s.repo.GetTemplate(ctx, templateID); err != nil {
		return nil, err
	}
	return s.repo.GetSessions(ctx, templateID)
}

// LabelData joins the template's live data with one session's reserved ids
// for label printing.
func (s *Service) LabelData(ctx context.Context, templateID uuid.UUID, sessionNumber int) (*LabelData, error) {
	tpl, err := s.repo.GetTemplate(ctx, templateID)
	if err != nil {
		return nil, err
	}

	sessions, err := s.repo.GetSessions(ctx, templateID)
	if err != nil {
		return nil, err
	}
	sess, ok := findSession(sessions, sessionNumber)
	if !ok {
		return nil, fmt.Errorf("label data: session %d: %w", sessionNumber, ErrNotFound)
	}

	pats, err := s.patients.ListByTenant(ctx, tpl.TenantID)
	if err != nil {
		return nil, err
	}
	meds, err := s.patients.ListMedicationsByTenant(ctx, tpl.TenantID)
	if err != nil {
		return nil, err
	}

	return BuildLabelData(sess, pats, meds), nil
}

// GetSimulation returns one active simulation instance.
func (s *Service) GetSimulation(ctx context.Context, id uuid.UUID) (*ActiveSimulation, error) {
	return s.repo.GetSimulation(ctx, id)
}

// ListSimulations pages through simulation instances.
func (s *Service) ListSimulations(ctx context.Context, limit, offset int) ([]*ActiveSimulation, int, error) {
	return s.repo.ListSimulations(ctx, limit, offset)
}

// ListResets returns the reset audit trail for one instance.
func (s *Service) ListResets(ctx context.Context, instanceID uuid.UUID) ([]*ResetAudit, error) {
	if _, err := s.repo.GetSimulation(ctx, instanceID); err != nil {
		return nil, err
	}
	return s.repo.ListResets(ctx, instanceID)
}

// Complete moves a running simulation to completed.
func (s *Service) Complete(ctx context.Context, instanceID uuid.UUID) error {
	sim, err := s.repo.GetSimulation(ctx, instanceID)
	if err != nil {
		return err
	}
	if sim.Status != SimulationRunning {
		return fmt.Errorf("%w: simulation %s is %s, not running", ErrPrecondition, instanceID, sim.Status)
	}
	return s.repo.UpdateSimulationStatus(ctx, instanceID, SimulationCompleted)
}

// Archive tears down a completed simulation's tenant schema and marks the
// instance archived. The audit trail and instance record remain for debrief.
func (s *Service) Archive(ctx context.Context, instanceID uuid.UUID) error {
	sim, err := s.repo.GetSimulation(ctx, instanceID)
	if err != nil {
		return err
	}
	if sim.Status == SimulationArchived {
		return nil
	}
	if sim.Status != SimulationCompleted {
		return fmt.Errorf("%w: complete simulation %s before archiving", ErrPrecondition, instanceID)
	}

	if err := s.tenants.Drop(ctx, sim.TenantID); err != nil {
		return fmt.Errorf("archive %s: %w", instanceID, err)
	}
	return s.repo.UpdateSimulationStatus(ctx, instanceID, SimulationArchived)
}
