package services

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/darkhound-project/darkhound/pkg/models"
	"github.com/darkhound-project/darkhound/pkg/security"
)

func newAssetService(t *testing.T) (*AssetService, sqlmock.Sqlmock, *security.Cipher) {
	t.Helper()
	db, mock := newMockDB(t)
	cipher, err := security.NewCipher("0123456789abcdef0123456789abcdef")
	require.NoError(t, err)
	return NewAssetService(db, cipher), mock, cipher
}

func TestAssetCreate_EncryptsCredentials(t *testing.T) {
	svc, mock, cipher := newAssetService(t)

	mock.ExpectExec(`INSERT INTO assets`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	a, err := svc.Create(context.Background(), &models.Asset{
		Hostname:    "web-01.internal",
		SSHUsername: "root",
		SSHPassword: "hunter2",
	})
	require.NoError(t, err)

	assert.NotEqual(t, "hunter2", a.SSHPassword)
	plain, err := cipher.Decrypt(a.SSHPassword)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", plain)

	assert.Equal(t, 22, a.SSHPort)
	assert.Equal(t, models.OSUnknown, a.OSType)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAssetCreate_RequiresHostname(t *testing.T) {
	svc, _, _ := newAssetService(t)
	_, err := svc.Create(context.Background(), &models.Asset{})
	assert.True(t, IsValidationError(err))
}

func TestAssetDelete_NotFound(t *testing.T) {
	svc, mock, _ := newAssetService(t)

	mock.ExpectExec(`DELETE FROM assets`).
		WithArgs("missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	assert.ErrorIs(t, svc.Delete(context.Background(), "missing"), ErrNotFound)
}
