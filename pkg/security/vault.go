package security

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	vault "github.com/hashicorp/vault/api"

	"github.com/darkhound-project/darkhound/pkg/config"
	"github.com/darkhound-project/darkhound/pkg/models"
)

// Credentials is the plaintext bundle the resolver hands to the SSH engine.
// It exists only in transient memory; the database stores ciphertext.
type Credentials struct {
	Username     string
	SSHKey       string
	SSHPassword  string
	SudoMethod   models.SudoMethod
	SudoPassword string
}

// CredentialResolver resolves an asset's SSH credentials. Source
// precedence: Vault (when enabled) → encrypted asset fields → environment
// variables (dev fallback).
type CredentialResolver struct {
	settings *config.Settings
	cipher   *Cipher

	mu     sync.Mutex
	client *vault.Client
}

// NewCredentialResolver builds a resolver over the given settings and cipher.
func NewCredentialResolver(settings *config.Settings, cipher *Cipher) *CredentialResolver {
	return &CredentialResolver{settings: settings, cipher: cipher}
}

// Resolve produces the plaintext credential bundle for an asset.
func (r *CredentialResolver) Resolve(ctx context.Context, asset *models.Asset) (*Credentials, error) {
	if r.settings.VaultEnabled {
		if asset.CredentialVaultPath == "" {
			return nil, fmt.Errorf("no vault path configured for asset %s", asset.ID)
		}
		return r.fromVault(ctx, asset)
	}

	if asset.SSHPassword != "" || asset.SSHKey != "" {
		return r.fromAsset(asset)
	}

	slog.Warn("Vault disabled — reading credentials from environment (dev mode only)",
		"asset_id", asset.ID)
	return fromEnv(asset.ID), nil
}

func (r *CredentialResolver) fromVault(ctx context.Context, asset *models.Asset) (*Credentials, error) {
	client, err := r.vaultClient()
	if err != nil {
		return nil, err
	}

	path := strings.TrimPrefix(asset.CredentialVaultPath, "secret/")
	secret, err := client.KVv2("secret").Get(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("vault read failed for asset %s: %w", asset.ID, err)
	}

	creds := &Credentials{Username: "root"}
	if v, ok := secret.Data["username"].(string); ok && v != "" {
		creds.Username = v
	}
	if v, ok := secret.Data["ssh_key"].(string); ok {
		creds.SSHKey = v
	}
	if v, ok := secret.Data["ssh_password"].(string); ok {
		creds.SSHPassword = v
	}
	r.applySudo(creds, asset, creds.SSHPassword)
	return creds, nil
}

func (r *CredentialResolver) fromAsset(asset *models.Asset) (*Credentials, error) {
	creds := &Credentials{Username: "root"}
	if asset.SSHUsername != "" {
		creds.Username = asset.SSHUsername
	}
	if asset.SSHKey != "" {
		key, err := r.cipher.Decrypt(asset.SSHKey)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt ssh_key for asset %s: %w", asset.ID, err)
		}
		creds.SSHKey = key
	}
	if asset.SSHPassword != "" {
		pw, err := r.cipher.Decrypt(asset.SSHPassword)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt ssh_password for asset %s: %w", asset.ID, err)
		}
		creds.SSHPassword = pw
	}
	r.applySudo(creds, asset, creds.SSHPassword)
	return creds, nil
}

// applySudo derives the sudo password per the asset's sudo method.
func (r *CredentialResolver) applySudo(creds *Credentials, asset *models.Asset, sshPassword string) {
	creds.SudoMethod = models.SudoMethod(asset.SudoMethod)
	switch creds.SudoMethod {
	case models.SudoSSHPassword:
		creds.SudoPassword = sshPassword
	case models.SudoCustomPassword:
		if asset.SudoPassword != "" {
			if pw, err := r.cipher.Decrypt(asset.SudoPassword); err == nil {
				creds.SudoPassword = pw
			} else {
				slog.Warn("Failed to decrypt custom sudo password", "asset_id", asset.ID, "error", err)
			}
		}
	}
}

func fromEnv(assetID string) *Credentials {
	safeID := strings.ToUpper(strings.ReplaceAll(assetID, "-", "_"))
	creds := &Credentials{Username: "root"}
	if v := os.Getenv("ASSET_" + safeID + "_SSH_USERNAME"); v != "" {
		creds.Username = v
	}
	creds.SSHKey = os.Getenv("ASSET_" + safeID + "_SSH_KEY")
	creds.SSHPassword = os.Getenv("ASSET_" + safeID + "_SSH_PASSWORD")
	return creds
}

func (r *CredentialResolver) vaultClient() (*vault.Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.client != nil {
		return r.client, nil
	}

	cfg := vault.DefaultConfig()
	cfg.Address = r.settings.VaultAddr
	client, err := vault.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("vault client init failed: %w", err)
	}

	resp, err := client.Logical().Write("auth/approle/login", map[string]any{
		"role_id":   r.settings.VaultRoleID,
		"secret_id": r.settings.VaultSecretID,
	})
	if err != nil {
		return nil, fmt.Errorf("vault AppRole login failed: %w", err)
	}
	if resp == nil || resp.Auth == nil {
		return nil, fmt.Errorf("vault AppRole login returned no auth data")
	}
	client.SetToken(resp.Auth.ClientToken)

	r.client = client
	return client, nil
}
