package database

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDatabaseName(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"postgresql://hound:pw@localhost:5432/darkhound", "darkhound"},
		{"postgresql://hound:pw@localhost:5432/darkhound?sslmode=disable", "darkhound"},
		{"postgresql://localhost/", "postgres"},
		{"not-a-url", "postgres"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, databaseName(tt.url), "url %q", tt.url)
	}
}

func TestHasEmbeddedMigrations(t *testing.T) {
	ok, err := hasEmbeddedMigrations()
	require.NoError(t, err)
	assert.True(t, ok, "migrations must be embedded in the binary")
}

func TestHealth(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectPing()

	status, err := Health(context.Background(), NewClientFromDB(db).DB())
	require.NoError(t, err)
	assert.Equal(t, "healthy", status.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHealth_Unreachable(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectPing().WillReturnError(assert.AnError)

	status, err := Health(context.Background(), NewClientFromDB(db).DB())
	assert.Error(t, err)
	assert.Equal(t, "unhealthy", status.Status)
}
