package services

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/darkhound-project/darkhound/pkg/models"
	"github.com/darkhound-project/darkhound/pkg/security"
)

func userColumns() []string {
	return []string{"id", "username", "password_hash", "role", "is_active", "created_at"}
}

func TestUserCreate_HashesPassword(t *testing.T) {
	db, mock := newMockDB(t)
	svc := NewUserService(db)

	mock.ExpectExec(`INSERT INTO users`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	u, err := svc.Create(context.Background(), "alice", "hunter2hunter2", models.RoleAnalyst)
	require.NoError(t, err)
	assert.NotEqual(t, "hunter2hunter2", u.PasswordHash)
	assert.True(t, security.VerifyPassword("hunter2hunter2", u.PasswordHash))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUserCreate_RejectsShortPassword(t *testing.T) {
	db, _ := newMockDB(t)
	svc := NewUserService(db)

	_, err := svc.Create(context.Background(), "alice", "short", models.RoleAnalyst)
	assert.True(t, IsValidationError(err))
}

func TestUserAuthenticate(t *testing.T) {
	db, mock := newMockDB(t)
	svc := NewUserService(db)

	hash, err := security.HashPassword("correct-password")
	require.NoError(t, err)

	rows := func() *sqlmock.Rows {
		return sqlmock.NewRows(userColumns()).
			AddRow("uid-1", "alice", hash, "analyst", true, time.Now())
	}

	mock.ExpectQuery(`SELECT \* FROM users WHERE username`).
		WithArgs("alice").WillReturnRows(rows())
	u, err := svc.Authenticate(context.Background(), "alice", "correct-password")
	require.NoError(t, err)
	assert.Equal(t, "uid-1", u.ID)

	mock.ExpectQuery(`SELECT \* FROM users WHERE username`).
		WithArgs("alice").WillReturnRows(rows())
	_, err = svc.Authenticate(context.Background(), "alice", "wrong")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUserAuthenticate_InactiveAccount(t *testing.T) {
	db, mock := newMockDB(t)
	svc := NewUserService(db)

	hash, err := security.HashPassword("correct-password")
	require.NoError(t, err)

	mock.ExpectQuery(`SELECT \* FROM users WHERE username`).
		WithArgs("bob").
		WillReturnRows(sqlmock.NewRows(userColumns()).
			AddRow("uid-2", "bob", hash, "analyst", false, time.Now()))

	_, err = svc.Authenticate(context.Background(), "bob", "correct-password")
	assert.ErrorIs(t, err, ErrNotFound)
}
