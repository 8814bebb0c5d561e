package simulation

import (
	"context"

	"github.com/google/uuid"
)

// Repository persists the engine's control records: templates (with their
// snapshot blob and session list) and active simulation instances. Snapshot
// and session writes are whole-document replacements, never field merges.
type Repository interface {
	CreateTemplate(ctx context.Context, t *Template) error
	GetTemplate(ctx context.Context, id uuid.UUID) (*Template, error)
	ListTemplates(ctx context.Context, limit, offset int) ([]*Template, int, error)
	UpdateTemplateStatus(ctx context.Context, id uuid.UUID, status TemplateStatus) error

	// SaveSnapshot atomically replaces the template's snapshot document and
	// bumps the version counter, returning the new version.
	SaveSnapshot(ctx context.Context, templateID uuid.UUID, doc []byte) (int, error)
	// GetSnapshot returns the raw document and its version; a template with
	// no saved snapshot yields (nil, 0, nil).
	GetSnapshot(ctx context.Context, templateID uuid.UUID) ([]byte, int, error)

	// ReplaceSessions swaps the template's whole session list. Regeneration
	// invalidates every previously printed label for the template.
	ReplaceSessions(ctx context.Context, templateID uuid.UUID, sessions []Session) error
	GetSessions(ctx context.Context, templateID uuid.UUID) ([]Session, error)

	CreateSimulation(ctx context.Context, s *ActiveSimulation) error
	GetSimulation(ctx context.Context, id uuid.UUID) (*ActiveSimulation, error)
	ListSimulations(ctx context.Context, limit, offset int) ([]*ActiveSimulation, int, error)
	UpdateSimulationStatus(ctx context.Context, id uuid.UUID, status SimulationStatus) error

	AddParticipants(ctx context.Context, simulationID uuid.UUID, userIDs []string) error

	RecordReset(ctx context.Context, a *ResetAudit) error
	ListResets(ctx context.Context, simulationID uuid.UUID) ([]*ResetAudit, error)
}
