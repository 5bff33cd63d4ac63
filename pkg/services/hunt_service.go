package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/darkhound-project/darkhound/pkg/models"
)

// HuntService persists hunt executions. Observations accumulate as an
// append-only JSONB array; the AI report is written in its own statement
// so a failed finding batch never loses the narrative text.
type HuntService struct {
	db *sqlx.DB
}

// NewHuntService creates a new HuntService.
func NewHuntService(db *sqlx.DB) *HuntService {
	return &HuntService{db: db}
}

// Create inserts a hunt execution in PENDING state.
func (s *HuntService) Create(ctx context.Context, sessionID, moduleID string) (*models.HuntExecution, error) {
	if sessionID == "" {
		return nil, NewValidationError("session_id", "required")
	}
	if moduleID == "" {
		return nil, NewValidationError("module_id", "required")
	}

	h := &models.HuntExecution{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		ModuleID:  moduleID,
		State:     models.HuntPending,
		StartedAt: time.Now().UTC(),
	}

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO hunt_executions (id, session_id, module_id, state, started_at)
		VALUES (:id, :session_id, :module_id, :state, :started_at)`, h)
	if err != nil {
		return nil, fmt.Errorf("failed to insert hunt execution: %w", err)
	}
	return h, nil
}

// Get fetches a hunt execution by id.
func (s *HuntService) Get(ctx context.Context, id string) (*models.HuntExecution, error) {
	var h models.HuntExecution
	err := s.db.GetContext(ctx, &h, `SELECT * FROM hunt_executions WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query hunt execution: %w", err)
	}
	return &h, nil
}

// ListBySession returns a session's hunt executions newest-first.
func (s *HuntService) ListBySession(ctx context.Context, sessionID string) ([]models.HuntExecution, error) {
	var hunts []models.HuntExecution
	err := s.db.SelectContext(ctx, &hunts,
		`SELECT * FROM hunt_executions WHERE session_id = $1 ORDER BY started_at DESC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list hunt executions: %w", err)
	}
	return hunts, nil
}

// UpdateState writes a new hunt state, stamping completed_at on terminal
// states.
func (s *HuntService) UpdateState(ctx context.Context, id string, state models.HuntState) error {
	var completedAt *time.Time
	switch state {
	case models.HuntCompleted, models.HuntFailed, models.HuntCancelled:
		now := time.Now().UTC()
		completedAt = &now
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE hunt_executions
		SET state = $1, completed_at = COALESCE($2, completed_at)
		WHERE id = $3`, state, completedAt, id)
	if err != nil {
		return fmt.Errorf("failed to update hunt state: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveObservations replaces the stored observation array.
func (s *HuntService) SaveObservations(ctx context.Context, id string, observations []models.Observation) error {
	data, err := json.Marshal(observations)
	if err != nil {
		return fmt.Errorf("failed to marshal observations: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE hunt_executions SET observations = $1 WHERE id = $2`, data, id)
	if err != nil {
		return fmt.Errorf("failed to save observations: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveReport stores the AI narrative text. Deliberately a standalone
// statement: the report survives even when finding persistence fails
// afterwards.
func (s *HuntService) SaveReport(ctx context.Context, id, report string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE hunt_executions SET ai_report_text = $1 WHERE id = $2`, report, id)
	if err != nil {
		return fmt.Errorf("failed to save report: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListByAsset returns every hunt run against an asset, joined through
// the owning sessions, newest first.
func (s *HuntService) ListByAsset(ctx context.Context, assetID string) ([]models.HuntExecution, error) {
	var hunts []models.HuntExecution
	err := s.db.SelectContext(ctx, &hunts, `
		SELECT h.* FROM hunt_executions h
		JOIN sessions s ON s.id = h.session_id
		WHERE s.asset_id = $1
		ORDER BY h.started_at DESC`, assetID)
	if err != nil {
		return nil, fmt.Errorf("failed to list hunts for asset: %w", err)
	}
	return hunts, nil
}
