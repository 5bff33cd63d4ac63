package models

import (
	"encoding/json"
	"time"
)

// JSONMap is an opaque JSON object persisted as JSONB. The storage layer
// never looks inside it.
type JSONMap map[string]any

// Asset is a target host under observation.
type Asset struct {
	ID                 string     `db:"id" json:"id"`
	Hostname           string     `db:"hostname" json:"hostname"`
	IPAddress          string     `db:"ip_address" json:"ip_address,omitempty"`
	OSType             OSType     `db:"os_type" json:"os_type"`
	OSVersion          string     `db:"os_version" json:"os_version,omitempty"`
	PlatformMetadata   []byte     `db:"platform_metadata" json:"platform_metadata,omitempty"`
	CredentialVaultPath string    `db:"credential_vault_path" json:"credential_vault_path,omitempty"`
	SSHUsername        string     `db:"ssh_username" json:"ssh_username,omitempty"`
	SSHPassword        string     `db:"ssh_password" json:"-"` // encrypted at rest, write-only
	SSHKey             string     `db:"ssh_key" json:"-"`      // encrypted at rest, write-only
	SSHPort            int        `db:"ssh_port" json:"ssh_port,omitempty"`
	SudoMethod         string     `db:"sudo_method" json:"sudo_method,omitempty"`
	SudoPassword       string     `db:"sudo_password" json:"-"` // encrypted at rest, write-only
	Tags               []string   `db:"-" json:"tags,omitempty"`
	CreatedAt          time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time  `db:"updated_at" json:"updated_at"`
	LastSeen           *time.Time `db:"last_seen" json:"last_seen,omitempty"`
}

// User is an analyst or admin account.
type User struct {
	ID           string    `db:"id" json:"id"`
	Username     string    `db:"username" json:"username"`
	PasswordHash string    `db:"password_hash" json:"-"`
	Role         UserRole  `db:"role" json:"role"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	IsActive     bool      `db:"is_active" json:"is_active"`
}

// Session is the persisted row for an analyst↔asset binding. Runtime
// handles (locks, SSH connection) live on session.Context, not here.
type Session struct {
	ID        string       `db:"id" json:"id"`
	AssetID   string       `db:"asset_id" json:"asset_id"`
	AnalystID string       `db:"analyst_id" json:"analyst_id"`
	State     SessionState `db:"state" json:"state"`
	Mode      SessionMode  `db:"mode" json:"mode"`
	LockedBy  string       `db:"locked_by" json:"locked_by,omitempty"`
	CreatedAt time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt time.Time    `db:"updated_at" json:"updated_at"`
}

// Observation records one hunt step's outcome.
type Observation struct {
	StepID    string `json:"step_id"`
	Command   string `json:"command"`
	Stdout    string `json:"stdout,omitempty"`
	Stderr    string `json:"stderr,omitempty"`
	ExitCode  int    `json:"exit_code"`
	Truncated bool   `json:"truncated,omitempty"`
	Error     string `json:"error,omitempty"`
}

// HuntExecution is one run of a module on a session.
type HuntExecution struct {
	ID           string     `db:"id" json:"id"`
	SessionID    string     `db:"session_id" json:"session_id"`
	ModuleID     string     `db:"module_id" json:"module_id"`
	State        HuntState  `db:"state" json:"state"`
	StartedAt    time.Time  `db:"started_at" json:"started_at"`
	CompletedAt  *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	Observations []byte     `db:"observations" json:"-"`
	AIReportText string     `db:"ai_report_text" json:"ai_report_text,omitempty"`
}

// ObservationList decodes the persisted observations column.
func (h *HuntExecution) ObservationList() ([]Observation, error) {
	if len(h.Observations) == 0 {
		return nil, nil
	}
	var obs []Observation
	if err := json.Unmarshal(h.Observations, &obs); err != nil {
		return nil, err
	}
	return obs, nil
}

// Finding is a deduplicated threat artefact.
type Finding struct {
	ID              string        `db:"id" json:"id"`
	SessionID       string        `db:"session_id" json:"session_id"`
	AssetID         string        `db:"asset_id" json:"asset_id"`
	HuntExecutionID string        `db:"hunt_execution_id" json:"hunt_execution_id,omitempty"`
	Title           string        `db:"title" json:"title"`
	Severity        Severity      `db:"severity" json:"severity"`
	Confidence      float64       `db:"confidence" json:"confidence"`
	ContentHash     string        `db:"content_hash" json:"content_hash"`
	StixBundle      []byte        `db:"stix_bundle" json:"stix_bundle,omitempty"`
	FirstSeen       time.Time     `db:"first_seen" json:"first_seen"`
	LastSeen        time.Time     `db:"last_seen" json:"last_seen"`
	SightingCount   int           `db:"sighting_count" json:"sighting_count"`
	Remediation     []byte        `db:"remediation" json:"remediation,omitempty"`
	Status          FindingStatus `db:"status" json:"status"`
}

// TimelineEvent is an immutable audit log entry for an asset.
type TimelineEvent struct {
	ID         string    `db:"id" json:"id"`
	AssetID    string    `db:"asset_id" json:"asset_id"`
	SessionID  string    `db:"session_id" json:"session_id,omitempty"`
	EventType  string    `db:"event_type" json:"event_type"`
	Payload    []byte    `db:"payload" json:"payload,omitempty"`
	OccurredAt time.Time `db:"occurred_at" json:"occurred_at"`
	AnalystID  string    `db:"analyst_id" json:"analyst_id"`
}

// Indicator is a single IOC attached to an AI finding.
type Indicator struct {
	Type    string `json:"type"` // ip | domain | hash | file_path | user | process
	Value   string `json:"value"`
	Context string `json:"context,omitempty"`
}

// AIFinding is one structured finding extracted from an AI analysis.
// Severity and confidence are raw model output; normalisation happens in
// pkg/ai before persistence. Confidence may arrive as a number or a
// string ("high", "75%"), so it stays untyped here.
type AIFinding struct {
	Title            string      `json:"title"`
	Severity         string      `json:"severity"`
	Confidence       any         `json:"confidence"`
	Description      string      `json:"description"`
	TechniqueIDs     []string    `json:"technique_ids"`
	Indicators       []Indicator `json:"indicators"`
	RemediationSteps []string    `json:"remediation_steps"`
	RawEvidence      string      `json:"raw_evidence,omitempty"`
}

// AIAnalysisResult is the structured JSON block an analysis produces.
type AIAnalysisResult struct {
	Summary     string      `json:"summary"`
	OverallRisk string      `json:"overall_risk"`
	Findings    []AIFinding `json:"findings"`
}

// HuntStep is one shell probe in a hunt module.
type HuntStep struct {
	ID           string `json:"id"`
	Description  string `json:"description"`
	Command      string `json:"command"`
	Timeout      int    `json:"timeout_seconds"`
	RequiresSudo bool   `json:"requires_sudo"`
}

// HuntModule is a declarative probe template loaded from markdown on disk.
type HuntModule struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Description  string     `json:"description"`
	OSTypes      []string   `json:"os_types"`
	Tags         []string   `json:"tags"`
	SeverityHint string     `json:"severity_hint"`
	Steps        []HuntStep `json:"steps"`
}
