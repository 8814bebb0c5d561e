package simulation

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/haclabs/haccare/internal/platform/db"
	"github.com/haclabs/haccare/internal/platform/schema"
)

// Orchestrator wipes a running simulation's clinical rows and replays the
// originating snapshot with the identity map recorded at launch, keeping
// printed labels valid across any number of resets.
//
// Concurrent resets of the same tenant are not supported: the caller
// serializes launch/reset per instance. Resets of different tenants share no
// mutable state.
type Orchestrator struct {
	repo     Repository
	restorer *Restorer
	exec     Execer
	desc     schema.Descriptor
	log      zerolog.Logger
}

// NewOrchestrator constructs the reset orchestrator.
func NewOrchestrator(repo Repository, restorer *Restorer, exec Execer, desc schema.Descriptor, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{repo: repo, restorer: restorer, exec: exec, desc: desc, log: log}
}

// Reset deletes the instance's current clinical rows and restores them from
// the template's snapshot. Everything needed for the restore is resolved
// before the first delete runs: a reset that cannot finish never starts.
func (o *Orchestrator) Reset(ctx context.Context, instanceID uuid.UUID) (*ResetResult, error) {
	sim, err := o.repo.GetSimulation(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	raw, version, err := o.repo.GetSnapshot(ctx, sim.TemplateID)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 || version == 0 {
		return nil, fmt.Errorf("reset %s: %w: template has no saved snapshot", instanceID, ErrPrecondition)
	}

	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("reset %s: decode snapshot: %w", instanceID, err)
	}

	// Re-fetch the launch-time identity map before touching any data. A
	// recorded session that has since been regenerated away is a hard stop,
	// not a silent fall-back to random ids.
	var ids *IdentityMap
	preserved := false
	if sim.SessionNumber != nil {
		sessions, err := o.repo.GetSessions(ctx, sim.TemplateID)
		if err != nil {
			return nil, err
		}
		sess, ok := findSession(sessions, *sim.SessionNumber)
		if !ok {
			return nil, fmt.Errorf("reset %s: %w: session %d no longer exists on template",
				instanceID, ErrPrecondition, *sim.SessionNumber)
		}
		ids = NewIdentityMap(sess.IDMap)
		preserved = true
	}

	if err := o.wipeTenant(ctx, sim.TenantID); err != nil {
		return nil, fmt.Errorf("reset %s: %w", instanceID, err)
	}

	res, err := o.restorer.Restore(ctx, sim.TenantID, &doc, ids, Options{PreserveIdentifiers: preserved})
	if err != nil {
		return nil, fmt.Errorf("reset %s: %w", instanceID, err)
	}

	audit := &ResetAudit{
		SimulationID:  sim.ID,
		IDsPreserved:  preserved,
		SessionNumber: sim.SessionNumber,
		RowsRestored:  res.RowsRestored,
		Warnings:      res.Warnings,
	}
	if err := o.repo.RecordReset(ctx, audit); err != nil {
		// The restore itself succeeded; a lost audit row is worth a warning,
		// not a failed reset.
		o.log.Error().Err(err).Str("simulation", sim.ID.String()).Msg("reset audit write failed")
		res.Warnings = append(res.Warnings, fmt.Sprintf("audit record failed: %v", err))
	}

	o.log.Info().
		Str("simulation", sim.ID.String()).
		Str("tenant", sim.TenantID).
		Bool("ids_preserved", preserved).
		Int("rows", res.RowsRestored).
		Msg("simulation reset")

	return &ResetResult{
		IDsPreserved:  preserved,
		SessionNumber: sim.SessionNumber,
		RowsRestored:  res.RowsRestored,
		Warnings:      res.Warnings,
	}, nil
}

// wipeTenant deletes every clone-set table's rows in reverse dependency
// order, so no delete ever trips a still-present foreign key. Tables missing
// from the tenant schema are skipped.
func (o *Orchestrator) wipeTenant(ctx context.Context, tenantID string) error {
	schemaName := db.SchemaName(tenantID)
	desc := schema.NewCached(o.desc)

	for _, spec := range ReverseCloneSet() {
		ts, err := desc.Describe(ctx, schemaName, spec.Name)
		if err != nil {
			return fmt.Errorf("describe %s.%s: %w", schemaName, spec.Name, err)
		}
		if ts == nil {
			continue
		}
		if _, err := o.exec.Exec(ctx, fmt.Sprintf("DELETE FROM %s.%s", schemaName, spec.Name)); err != nil {
			return fmt.Errorf("wipe %s.%s: %w", schemaName, spec.Name, err)
		}
	}
	return nil
}

func findSession(sessions []Session, number int) (Session, bool) {
	for _, s := range sessions {
		if s.SessionNumber == number {
			return s, true
		}
	}
	return Session{}, false
}
