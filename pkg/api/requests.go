package api

// LoginRequest is the body for POST /auth/login.
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// RefreshRequest is the body for POST /auth/refresh.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// RegisterRequest is the body for POST /auth/register and the admin
// register endpoint.
type RegisterRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
	Role     string `json:"role"`
}

// ChangePasswordRequest is the body for POST /auth/change-password.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" binding:"required"`
	NewPassword     string `json:"new_password" binding:"required"`
}

// AssetRequest carries asset fields for create and update. Credential
// fields are write-only: they are encrypted at rest and never rendered
// back.
type AssetRequest struct {
	Hostname            string   `json:"hostname"`
	IPAddress           string   `json:"ip_address"`
	OSType              string   `json:"os_type"`
	OSVersion           string   `json:"os_version"`
	SSHUsername         string   `json:"ssh_username"`
	SSHPassword         string   `json:"ssh_password"`
	SSHKey              string   `json:"ssh_key"`
	SSHPort             int      `json:"ssh_port"`
	SudoMethod          string   `json:"sudo_method"`
	SudoPassword        string   `json:"sudo_password"`
	CredentialVaultPath string   `json:"credential_vault_path"`
	Tags                []string `json:"tags"`
}

// CreateSessionRequest is the body for POST /api/v1/sessions.
type CreateSessionRequest struct {
	AssetID string `json:"asset_id" binding:"required"`
}

// StartHuntRequest is the body for POST /api/v1/hunts.
type StartHuntRequest struct {
	SessionID string `json:"session_id" binding:"required"`
	ModuleID  string `json:"module_id" binding:"required"`
	RunAI     *bool  `json:"run_ai"`
}

// UpdateFindingStatusRequest is the body for PATCH .../findings/{id}/status.
type UpdateFindingStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// ModuleStepRequest is one step in a module save body.
type ModuleStepRequest struct {
	ID           string `json:"id" binding:"required"`
	Description  string `json:"description"`
	Command      string `json:"command" binding:"required"`
	Timeout      int    `json:"timeout_seconds"`
	RequiresSudo bool   `json:"requires_sudo"`
}

// ModuleSaveRequest is the body for creating or replacing a hunt module.
type ModuleSaveRequest struct {
	ID           string              `json:"id" binding:"required"`
	Name         string              `json:"name" binding:"required"`
	Description  string              `json:"description"`
	OSTypes      []string            `json:"os_types"`
	Tags         []string            `json:"tags"`
	SeverityHint string              `json:"severity_hint"`
	Steps        []ModuleStepRequest `json:"steps" binding:"required,min=1"`
}
