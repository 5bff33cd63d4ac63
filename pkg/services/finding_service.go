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

// FindingService persists deduplicated findings. Identity is the pair
// (asset_id, content_hash): re-observing a known artefact bumps its
// sighting count instead of inserting a twin row.
type FindingService struct {
	db *sqlx.DB
}

// NewFindingService creates a new FindingService.
func NewFindingService(db *sqlx.DB) *FindingService {
	return &FindingService{db: db}
}

// Upsert inserts a finding or, when the (asset_id, content_hash) pair
// already exists, folds the sighting into the existing row: sighting_count
// increments, last_seen advances, and confidence keeps the maximum of old
// and new. Returns the stored finding and whether a new row was created.
//
// Each call runs in its own transaction so one bad finding in a batch
// never rolls back its siblings.
func (s *FindingService) Upsert(ctx context.Context, f *models.Finding) (*models.Finding, bool, error) {
	if f.AssetID == "" {
		return nil, false, NewValidationError("asset_id", "required")
	}
	if f.ContentHash == "" {
		return nil, false, NewValidationError("content_hash", "required")
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	var existing models.Finding
	err = tx.GetContext(ctx, &existing, `
		SELECT * FROM findings
		WHERE asset_id = $1 AND content_hash = $2
		FOR UPDATE`, f.AssetID, f.ContentHash)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		now := time.Now().UTC()
		f.ID = uuid.New().String()
		f.FirstSeen = now
		f.LastSeen = now
		f.SightingCount = 1
		if f.Status == "" {
			f.Status = models.FindingOpen
		}
		_, err = tx.NamedExecContext(ctx, `
			INSERT INTO findings (
				id, session_id, asset_id, hunt_execution_id, title, severity,
				confidence, content_hash, stix_bundle, first_seen, last_seen,
				sighting_count, remediation, status
			) VALUES (
				:id, :session_id, :asset_id, :hunt_execution_id, :title, :severity,
				:confidence, :content_hash, :stix_bundle, :first_seen, :last_seen,
				:sighting_count, :remediation, :status
			)`, f)
		if err != nil {
			return nil, false, fmt.Errorf("failed to insert finding: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return nil, false, fmt.Errorf("failed to commit finding: %w", err)
		}
		return f, true, nil

	case err != nil:
		return nil, false, fmt.Errorf("failed to query finding: %w", err)
	}

	existing.SightingCount++
	existing.LastSeen = time.Now().UTC()
	if f.Confidence > existing.Confidence {
		existing.Confidence = f.Confidence
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE findings
		SET sighting_count = $1, last_seen = $2, confidence = $3
		WHERE id = $4`,
		existing.SightingCount, existing.LastSeen, existing.Confidence, existing.ID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to update finding sighting: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("failed to commit finding: %w", err)
	}
	return &existing, false, nil
}

// Get fetches a finding by id.
func (s *FindingService) Get(ctx context.Context, id string) (*models.Finding, error) {
	var f models.Finding
	err := s.db.GetContext(ctx, &f, `SELECT * FROM findings WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query finding: %w", err)
	}
	return &f, nil
}

// FindingFilter narrows List results. Zero values mean no filter.
type FindingFilter struct {
	AssetID   string
	SessionID string
	Severity  models.Severity
	Status    models.FindingStatus
}

// List returns findings newest-first by last_seen.
func (s *FindingService) List(ctx context.Context, filter FindingFilter) ([]models.Finding, error) {
	query := `SELECT * FROM findings WHERE 1=1`
	args := []any{}
	if filter.AssetID != "" {
		args = append(args, filter.AssetID)
		query += fmt.Sprintf(" AND asset_id = $%d", len(args))
	}
	if filter.SessionID != "" {
		args = append(args, filter.SessionID)
		query += fmt.Sprintf(" AND session_id = $%d", len(args))
	}
	if filter.Severity != "" {
		args = append(args, filter.Severity)
		query += fmt.Sprintf(" AND severity = $%d", len(args))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	query += ` ORDER BY last_seen DESC`

	var findings []models.Finding
	if err := s.db.SelectContext(ctx, &findings, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list findings: %w", err)
	}
	return findings, nil
}

// UpdateStatus moves a finding through its triage workflow.
func (s *FindingService) UpdateStatus(ctx context.Context, id string, status models.FindingStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE findings SET status = $1 WHERE id = $2`, status, id)
	if err != nil {
		return fmt.Errorf("failed to update finding status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveStixBundle attaches a generated STIX bundle.
func (s *FindingService) SaveStixBundle(ctx context.Context, id string, bundle []byte) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE findings SET stix_bundle = $1 WHERE id = $2`, bundle, id)
	if err != nil {
		return fmt.Errorf("failed to save stix bundle: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveRemediation attaches structured remediation guidance.
func (s *FindingService) SaveRemediation(ctx context.Context, id string, remediation []byte) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE findings SET remediation = $1 WHERE id = $2`, remediation, id)
	if err != nil {
		return fmt.Errorf("failed to save remediation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a finding outright. Triage normally goes through
// UpdateStatus; delete exists for mistaken artefacts.
func (s *FindingService) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM findings WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete finding: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
