package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/darkhound-project/darkhound/pkg/models"
)

// SessionService persists session rows. State transition rules live in
// pkg/session; this layer is the write-through target.
type SessionService struct {
	db *sqlx.DB
}

// NewSessionService creates a new SessionService.
func NewSessionService(db *sqlx.DB) *SessionService {
	return &SessionService{db: db}
}

// Create inserts a session in INITIALIZING state.
func (s *SessionService) Create(ctx context.Context, assetID, analystID string) (*models.Session, error) {
	if assetID == "" {
		return nil, NewValidationError("asset_id", "required")
	}
	if analystID == "" {
		return nil, NewValidationError("analyst_id", "required")
	}

	now := time.Now().UTC()
	sess := &models.Session{
		ID:        uuid.New().String(),
		AssetID:   assetID,
		AnalystID: analystID,
		State:     models.StateInitializing,
		Mode:      models.ModeInteractive,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO sessions (id, asset_id, analyst_id, state, mode, locked_by, created_at, updated_at)
		VALUES (:id, :asset_id, :analyst_id, :state, :mode, :locked_by, :created_at, :updated_at)`, sess)
	if err != nil {
		return nil, fmt.Errorf("failed to insert session: %w", err)
	}
	return sess, nil
}

// Get fetches a session by id.
func (s *SessionService) Get(ctx context.Context, id string) (*models.Session, error) {
	var sess models.Session
	err := s.db.GetContext(ctx, &sess, `SELECT * FROM sessions WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query session: %w", err)
	}
	return &sess, nil
}

// List returns sessions newest-first, optionally filtered by asset.
func (s *SessionService) List(ctx context.Context, assetID string) ([]models.Session, error) {
	var sessions []models.Session
	var err error
	if assetID != "" {
		err = s.db.SelectContext(ctx, &sessions,
			`SELECT * FROM sessions WHERE asset_id = $1 ORDER BY created_at DESC`, assetID)
	} else {
		err = s.db.SelectContext(ctx, &sessions,
			`SELECT * FROM sessions ORDER BY created_at DESC`)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return sessions, nil
}

// UpdateState writes a new lifecycle state.
func (s *SessionService) UpdateState(ctx context.Context, id string, state models.SessionState) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET state = $1, updated_at = $2 WHERE id = $3`,
		state, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update session state: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateMode writes a new interaction mode.
func (s *SessionService) UpdateMode(ctx context.Context, id string, mode models.SessionMode) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET mode = $1, updated_at = $2 WHERE id = $3`,
		mode, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update session mode: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetLock records which component holds the session's command lock. An
// empty holder clears the lock.
func (s *SessionService) SetLock(ctx context.Context, id, holder string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET locked_by = $1, updated_at = $2 WHERE id = $3`,
		holder, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update session lock: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListStale returns sessions in a terminal-ish idle state whose last
// update is older than the cutoff. Used by the reaper.
func (s *SessionService) ListStale(ctx context.Context, cutoff time.Time) ([]models.Session, error) {
	var sessions []models.Session
	err := s.db.SelectContext(ctx, &sessions, `
		SELECT * FROM sessions
		WHERE state IN ($1, $2) AND updated_at < $3`,
		models.StateDisconnected, models.StateFailed, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale sessions: %w", err)
	}
	return sessions, nil
}
