package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/darkhound-project/darkhound/pkg/models"
)

// TimelineService appends to the immutable per-asset audit log.
type TimelineService struct {
	db *sqlx.DB
}

// NewTimelineService creates a new TimelineService.
func NewTimelineService(db *sqlx.DB) *TimelineService {
	return &TimelineService{db: db}
}

// Append records an event. Payload may be any JSON-serializable value.
func (s *TimelineService) Append(ctx context.Context, assetID, sessionID, analystID, eventType string, payload any) (*models.TimelineEvent, error) {
	if assetID == "" {
		return nil, NewValidationError("asset_id", "required")
	}
	if eventType == "" {
		return nil, NewValidationError("event_type", "required")
	}

	var data []byte
	if payload != nil {
		var err error
		data, err = json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal timeline payload: %w", err)
		}
	}

	ev := &models.TimelineEvent{
		ID:         uuid.New().String(),
		AssetID:    assetID,
		SessionID:  sessionID,
		EventType:  eventType,
		Payload:    data,
		OccurredAt: time.Now().UTC(),
		AnalystID:  analystID,
	}

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO timeline_events (id, asset_id, session_id, event_type, payload, occurred_at, analyst_id)
		VALUES (:id, :asset_id, :session_id, :event_type, :payload, :occurred_at, :analyst_id)`, ev)
	if err != nil {
		return nil, fmt.Errorf("failed to insert timeline event: %w", err)
	}
	return ev, nil
}

// ListByAsset returns an asset's timeline newest-first.
func (s *TimelineService) ListByAsset(ctx context.Context, assetID string, limit int) ([]models.TimelineEvent, error) {
	if limit <= 0 {
		limit = 200
	}
	var events []models.TimelineEvent
	err := s.db.SelectContext(ctx, &events, `
		SELECT * FROM timeline_events
		WHERE asset_id = $1
		ORDER BY occurred_at DESC
		LIMIT $2`, assetID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list timeline events: %w", err)
	}
	return events, nil
}

// DeleteByAsset clears an asset's timeline. Returns the number of
// entries removed.
func (s *TimelineService) DeleteByAsset(ctx context.Context, assetID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM timeline_events WHERE asset_id = $1`, assetID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete timeline: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
