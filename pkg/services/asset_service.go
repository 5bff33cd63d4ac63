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
	"github.com/darkhound-project/darkhound/pkg/security"
)

// AssetService manages target hosts. SSH and sudo credentials are
// encrypted before they reach the database and are never returned in
// API responses.
type AssetService struct {
	db     *sqlx.DB
	cipher *security.Cipher
}

// NewAssetService creates a new AssetService.
func NewAssetService(db *sqlx.DB, cipher *security.Cipher) *AssetService {
	return &AssetService{db: db, cipher: cipher}
}

// Create inserts a new asset, encrypting any inline credentials.
func (s *AssetService) Create(ctx context.Context, a *models.Asset) (*models.Asset, error) {
	if a.Hostname == "" {
		return nil, NewValidationError("hostname", "required")
	}
	if a.SSHPort == 0 {
		a.SSHPort = 22
	}
	if a.OSType == "" {
		a.OSType = models.OSUnknown
	}
	if a.SudoMethod == "" {
		a.SudoMethod = string(models.SudoNone)
	}

	a.ID = uuid.New().String()
	now := time.Now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now

	if err := s.encryptCredentials(a); err != nil {
		return nil, err
	}

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO assets (
			id, hostname, ip_address, os_type, os_version, platform_metadata,
			credential_vault_path, ssh_username, ssh_password, ssh_key, ssh_port,
			sudo_method, sudo_password, created_at, updated_at
		) VALUES (
			:id, :hostname, :ip_address, :os_type, :os_version, :platform_metadata,
			:credential_vault_path, :ssh_username, :ssh_password, :ssh_key, :ssh_port,
			:sudo_method, :sudo_password, :created_at, :updated_at
		)`, a)
	if err != nil {
		return nil, fmt.Errorf("failed to insert asset: %w", err)
	}
	return a, nil
}

// Get fetches an asset by id, encrypted credentials included. Callers
// serving API responses rely on the model's json tags to withhold them.
func (s *AssetService) Get(ctx context.Context, id string) (*models.Asset, error) {
	var a models.Asset
	err := s.db.GetContext(ctx, &a, `SELECT * FROM assets WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query asset: %w", err)
	}
	return &a, nil
}

// List returns all assets ordered by hostname.
func (s *AssetService) List(ctx context.Context) ([]models.Asset, error) {
	var assets []models.Asset
	err := s.db.SelectContext(ctx, &assets, `SELECT * FROM assets ORDER BY hostname`)
	if err != nil {
		return nil, fmt.Errorf("failed to list assets: %w", err)
	}
	return assets, nil
}

// Update applies mutable fields. Credential fields are only overwritten
// when the caller supplies a non-empty value, so a PATCH without
// credentials never wipes stored ones.
func (s *AssetService) Update(ctx context.Context, id string, upd *models.Asset) (*models.Asset, error) {
	existing, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if upd.Hostname != "" {
		existing.Hostname = upd.Hostname
	}
	if upd.IPAddress != "" {
		existing.IPAddress = upd.IPAddress
	}
	if upd.OSType != "" {
		existing.OSType = upd.OSType
	}
	if upd.OSVersion != "" {
		existing.OSVersion = upd.OSVersion
	}
	if upd.PlatformMetadata != nil {
		existing.PlatformMetadata = upd.PlatformMetadata
	}
	if upd.CredentialVaultPath != "" {
		existing.CredentialVaultPath = upd.CredentialVaultPath
	}
	if upd.SSHUsername != "" {
		existing.SSHUsername = upd.SSHUsername
	}
	if upd.SSHPort != 0 {
		existing.SSHPort = upd.SSHPort
	}
	if upd.SudoMethod != "" {
		existing.SudoMethod = upd.SudoMethod
	}

	creds := &models.Asset{
		SSHPassword:  upd.SSHPassword,
		SSHKey:       upd.SSHKey,
		SudoPassword: upd.SudoPassword,
	}
	if err := s.encryptCredentials(creds); err != nil {
		return nil, err
	}
	if creds.SSHPassword != "" {
		existing.SSHPassword = creds.SSHPassword
	}
	if creds.SSHKey != "" {
		existing.SSHKey = creds.SSHKey
	}
	if creds.SudoPassword != "" {
		existing.SudoPassword = creds.SudoPassword
	}

	existing.UpdatedAt = time.Now().UTC()

	_, err = s.db.NamedExecContext(ctx, `
		UPDATE assets SET
			hostname = :hostname, ip_address = :ip_address, os_type = :os_type,
			os_version = :os_version, platform_metadata = :platform_metadata,
			credential_vault_path = :credential_vault_path,
			ssh_username = :ssh_username, ssh_password = :ssh_password,
			ssh_key = :ssh_key, ssh_port = :ssh_port,
			sudo_method = :sudo_method, sudo_password = :sudo_password,
			updated_at = :updated_at
		WHERE id = :id`, existing)
	if err != nil {
		return nil, fmt.Errorf("failed to update asset: %w", err)
	}
	return existing, nil
}

// Delete removes an asset and, via cascade, its sessions, hunts, findings,
// and timeline.
func (s *AssetService) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM assets WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete asset: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// TouchLastSeen records a successful connection to the asset.
func (s *AssetService) TouchLastSeen(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE assets SET last_seen = $1 WHERE id = $2`, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update last_seen: %w", err)
	}
	return nil
}

// UpdateFingerprint stores OS detection results.
func (s *AssetService) UpdateFingerprint(ctx context.Context, id string, osType models.OSType, osVersion string, metadata []byte) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE assets SET os_type = $1, os_version = $2, platform_metadata = $3, updated_at = $4
		WHERE id = $5`,
		osType, osVersion, metadata, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update fingerprint: %w", err)
	}
	return nil
}

func (s *AssetService) encryptCredentials(a *models.Asset) error {
	var err error
	if a.SSHPassword != "" {
		if a.SSHPassword, err = s.cipher.Encrypt(a.SSHPassword); err != nil {
			return fmt.Errorf("failed to encrypt ssh password: %w", err)
		}
	}
	if a.SSHKey != "" {
		if a.SSHKey, err = s.cipher.Encrypt(a.SSHKey); err != nil {
			return fmt.Errorf("failed to encrypt ssh key: %w", err)
		}
	}
	if a.SudoPassword != "" {
		if a.SudoPassword, err = s.cipher.Encrypt(a.SudoPassword); err != nil {
			return fmt.Errorf("failed to encrypt sudo password: %w", err)
		}
	}
	return nil
}
