package simulation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/haclabs/haccare/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// dbPool is what the repository needs from *pgxpool.Pool.
type dbPool interface {
	queryable
	db.Beginner
}

type repoPG struct{ pool dbPool }

// NewRepoPG returns a Repository over the shared control schema.
func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

// conn prefers an in-flight transaction, then a tenant-pinned connection,
// then the shared pool.
func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

// =========== Templates ===========

const templateCols = `id, name, description, tenant_id, status, snapshot_version, snapshot_saved_at, created_by, created_at, updated_at`

func scanTemplate(row pgx.Row) (*Template, error) {
	var t Template
	err := row.Scan(&t.ID, &t.Name, &t.Description, &t.TenantID, &t.Status,
		&t.SnapshotVersion, &t.SnapshotSavedAt, &t.CreatedBy, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("template: %w", ErrNotFound)
	}
	return &t, err
}

func (r *repoPG) CreateTemplate(ctx context.Context, t *Template) error {
	t.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO shared.sim_templates (id, name, description, tenant_id, status, created_by)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		t.ID, t.Name, t.Description, t.TenantID, t.Status, t.CreatedBy)
	return err
}

func (r *repoPG) GetTemplate(ctx context.Context, id uuid.UUID) (*Template, error) {
	return scanTemplate(r.conn(ctx).QueryRow(ctx,
		`SELECT `+templateCols+` FROM shared.sim_templates WHERE id = $1`, id))
}

func (r *repoPG) ListTemplates(ctx context.Context, limit, offset int) ([]*Template, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM shared.sim_templates`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+templateCols+` FROM shared.sim_templates ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Template
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, t)
	}
	return items, total, rows.Err()
}

func (r *repoPG) UpdateTemplateStatus(ctx context.Context, id uuid.UUID, status TemplateStatus) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE shared.sim_templates SET status = $2, updated_at = NOW() WHERE id = $1`, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("template: %w", ErrNotFound)
	}
	return nil
}

// =========== Snapshot blob ===========

func (r *repoPG) SaveSnapshot(ctx context.Context, templateID uuid.UUID, doc []byte) (int, error) {
	var version int
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE shared.sim_templates
		SET snapshot = $2::jsonb,
		    snapshot_version = snapshot_version + 1,
		    snapshot_saved_at = NOW(),
		    status = 'ready',
		    updated_at = NOW()
		WHERE id = $1
		RETURNING snapshot_version`, templateID, string(doc)).Scan(&version)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("template: %w", ErrNotFound)
	}
	return version, err
}

func (r *repoPG) GetSnapshot(ctx context.Context, templateID uuid.UUID) ([]byte, int, error) {
	var raw []byte
	var version int
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT snapshot, snapshot_version FROM shared.sim_templates WHERE id = $1`,
		templateID).Scan(&raw, &version)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, 0, fmt.Errorf("template: %w", ErrNotFound)
	}
	return raw, version, err
}

// =========== Sessions ===========

func (r *repoPG) ReplaceSessions(ctx context.Context, templateID uuid.UUID, sessions []Session) error {
	blob, err := json.Marshal(sessions)
	if err != nil {
		return fmt.Errorf("marshal sessions: %w", err)
	}
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE shared.sim_templates SET sessions = $2::jsonb, updated_at = NOW() WHERE id = $1`,
		templateID, string(blob))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("template: %w", ErrNotFound)
	}
	return nil
}

func (r *repoPG) GetSessions(ctx context.Context, templateID uuid.UUID) ([]Session, error) {
	var raw []byte
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT sessions FROM shared.sim_templates WHERE id = $1`, templateID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("template: %w", ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, nil
	}
	var sessions []Session
	if err := json.Unmarshal(raw, &sessions); err != nil {
		return nil, fmt.Errorf("unmarshal sessions: %w", err)
	}
	return sessions, nil
}

// =========== Active simulations ===========

const simCols = `id, template_id, tenant_id, name, snapshot_version, session_number,
	duration_minutes, started_at, ends_at, status, created_by, created_at, updated_at`

func scanSimulation(row pgx.Row) (*ActiveSimulation, error) {
	var s ActiveSimulation
	err := row.Scan(&s.ID, &s.TemplateID, &s.TenantID, &s.Name, &s.SnapshotVersion, &s.SessionNumber,
		&s.DurationMinutes, &s.StartedAt, &s.EndsAt, &s.Status, &s.CreatedBy, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("simulation: %w", ErrNotFound)
	}
	return &s, err
}

func (r *repoPG) CreateSimulation(ctx context.Context, s *ActiveSimulation) error {
	s.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO shared.sim_active_simulations
			(id, template_id, tenant_id, name, snapshot_version, session_number,
			 duration_minutes, started_at, ends_at, status, created_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		s.ID, s.TemplateID, s.TenantID, s.Name, s.SnapshotVersion, s.SessionNumber,
		s.DurationMinutes, s.StartedAt, s.EndsAt, s.Status, s.CreatedBy)
	return err
}

func (r *repoPG) GetSimulation(ctx context.Context, id uuid.UUID) (*ActiveSimulation, error) {
	return scanSimulation(r.conn(ctx).QueryRow(ctx,
		`SELECT `+simCols+` FROM shared.sim_active_simulations WHERE id = $1`, id))
}

func (r *repoPG) ListSimulations(ctx context.Context, limit, offset int) ([]*ActiveSimulation, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM shared.sim_active_simulations`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+simCols+` FROM shared.sim_active_simulations ORDER BY started_at DESC LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*ActiveSimulation
	for rows.Next() {
		s, err := scanSimulation(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, s)
	}
	return items, total, rows.Err()
}

func (r *repoPG) UpdateSimulationStatus(ctx context.Context, id uuid.UUID, status SimulationStatus) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE shared.sim_active_simulations SET status = $2, updated_at = NOW() WHERE id = $1`, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("simulation: %w", ErrNotFound)
	}
	return nil
}

// =========== Participants ===========

// AddParticipants grants access all-or-nothing: a partial grant would let a
// simulation start with half its trainees locked out.
func (r *repoPG) AddParticipants(ctx context.Context, simulationID uuid.UUID, userIDs []string) error {
	if len(userIDs) == 0 {
		return nil
	}
	if db.TxFromContext(ctx) != nil {
		return r.grantParticipants(ctx, simulationID, userIDs)
	}
	txCtx, tx, err := db.WithTx(ctx, r.pool)
	if err != nil {
		return fmt.Errorf("begin participant grant: %w", err)
	}
	defer tx.Rollback(ctx)
	if err := r.grantParticipants(txCtx, simulationID, userIDs); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *repoPG) grantParticipants(ctx context.Context, simulationID uuid.UUID, userIDs []string) error {
	for _, uid := range userIDs {
		if _, err := r.conn(ctx).Exec(ctx, `
			INSERT INTO shared.sim_participants (id, simulation_id, user_id)
			VALUES ($1,$2,$3)
			ON CONFLICT (simulation_id, user_id) DO NOTHING`,
			uuid.New(), simulationID, uid); err != nil {
			return fmt.Errorf("grant participant %s: %w", uid, err)
		}
	}
	return nil
}

// =========== Reset audit ===========

func (r *repoPG) RecordReset(ctx context.Context, a *ResetAudit) error {
	a.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO shared.sim_reset_audit (id, simulation_id, ids_preserved, session_number, rows_restored, warnings)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		a.ID, a.SimulationID, a.IDsPreserved, a.SessionNumber, a.RowsRestored, a.Warnings)
	return err
}

func (r *repoPG) ListResets(ctx context.Context, simulationID uuid.UUID) ([]*ResetAudit, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, simulation_id, ids_preserved, session_number, rows_restored, warnings, created_at
		FROM shared.sim_reset_audit WHERE simulation_id = $1 ORDER BY created_at DESC`, simulationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*ResetAudit
	for rows.Next() {
		var a ResetAudit
		if err := rows.Scan(&a.ID, &a.SimulationID, &a.IDsPreserved, &a.SessionNumber,
			&a.RowsRestored, &a.Warnings, &a.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, &a)
	}
	return items, rows.Err()
}
