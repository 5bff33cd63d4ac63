package services

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/darkhound-project/darkhound/pkg/models"
)

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return sqlx.NewDb(db, "pgx"), mock
}

func findingColumns() []string {
	return []string{
		"id", "session_id", "asset_id", "hunt_execution_id", "title", "severity",
		"confidence", "content_hash", "stix_bundle", "first_seen", "last_seen",
		"sighting_count", "remediation", "status",
	}
}

func TestFindingUpsert_InsertsNewRow(t *testing.T) {
	db, mock := newMockDB(t)
	svc := NewFindingService(db)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM findings`).
		WithArgs("asset-1", "hash-1").
		WillReturnRows(sqlmock.NewRows(findingColumns()))
	mock.ExpectExec(`INSERT INTO findings`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	f, created, err := svc.Upsert(context.Background(), &models.Finding{
		SessionID:   "sess-1",
		AssetID:     "asset-1",
		Title:       "Reverse shell process",
		Severity:    models.SeverityHigh,
		Confidence:  0.8,
		ContentHash: "hash-1",
	})
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEmpty(t, f.ID)
	assert.Equal(t, 1, f.SightingCount)
	assert.Equal(t, models.FindingOpen, f.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindingUpsert_DuplicateBumpsSighting(t *testing.T) {
	db, mock := newMockDB(t)
	svc := NewFindingService(db)

	firstSeen := time.Now().UTC().Add(-time.Hour)
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM findings`).
		WithArgs("asset-1", "hash-1").
		WillReturnRows(sqlmock.NewRows(findingColumns()).AddRow(
			"fid-1", "sess-1", "asset-1", nil, "Reverse shell process", "high",
			0.8, "hash-1", nil, firstSeen, firstSeen, 1, nil, "open",
		))
	mock.ExpectExec(`UPDATE findings`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	f, created, err := svc.Upsert(context.Background(), &models.Finding{
		SessionID:   "sess-2",
		AssetID:     "asset-1",
		Title:       "Reverse shell process",
		Severity:    models.SeverityHigh,
		Confidence:  0.6, // lower than stored: stored confidence wins
		ContentHash: "hash-1",
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "fid-1", f.ID)
	assert.Equal(t, 2, f.SightingCount)
	assert.Equal(t, 0.8, f.Confidence)
	assert.True(t, f.LastSeen.After(firstSeen))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindingUpsert_DuplicateKeepsMaxConfidence(t *testing.T) {
	db, mock := newMockDB(t)
	svc := NewFindingService(db)

	seen := time.Now().UTC().Add(-time.Hour)
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM findings`).
		WithArgs("asset-1", "hash-1").
		WillReturnRows(sqlmock.NewRows(findingColumns()).AddRow(
			"fid-1", "sess-1", "asset-1", nil, "Reverse shell process", "high",
			0.6, "hash-1", nil, seen, seen, 3, nil, "open",
		))
	mock.ExpectExec(`UPDATE findings`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	f, created, err := svc.Upsert(context.Background(), &models.Finding{
		AssetID:     "asset-1",
		Confidence:  0.95,
		ContentHash: "hash-1",
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, 4, f.SightingCount)
	assert.Equal(t, 0.95, f.Confidence)
}

func TestFindingUpsert_RequiresHash(t *testing.T) {
	db, _ := newMockDB(t)
	svc := NewFindingService(db)

	_, _, err := svc.Upsert(context.Background(), &models.Finding{AssetID: "asset-1"})
	assert.True(t, IsValidationError(err))
}

func TestFindingList_Filters(t *testing.T) {
	db, mock := newMockDB(t)
	svc := NewFindingService(db)

	mock.ExpectQuery(`SELECT \* FROM findings WHERE 1=1 AND asset_id = \$1 AND severity = \$2 ORDER BY last_seen DESC`).
		WithArgs("asset-1", "critical").
		WillReturnRows(sqlmock.NewRows(findingColumns()))

	_, err := svc.List(context.Background(), FindingFilter{
		AssetID:  "asset-1",
		Severity: models.SeverityCritical,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindingUpdateStatus_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	svc := NewFindingService(db)

	mock.ExpectExec(`UPDATE findings SET status`).
		WithArgs("resolved", "missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := svc.UpdateStatus(context.Background(), "missing", models.FindingResolved)
	assert.ErrorIs(t, err, ErrNotFound)
}
