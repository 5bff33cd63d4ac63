package events

import "github.com/darkhound-project/darkhound/pkg/models"

// SessionCreatedPayload accompanies session.created.
type SessionCreatedPayload struct {
	AssetID   string `json:"asset_id"`
	AnalystID string `json:"analyst_id"`
}

// SessionStateChangedPayload accompanies session.state_changed.
type SessionStateChangedPayload struct {
	FromState string `json:"from_state"`
	ToState   string `json:"to_state"`
	Reason    string `json:"reason,omitempty"`
}

// SessionModeChangedPayload accompanies session.mode_changed.
type SessionModeChangedPayload struct {
	FromMode string `json:"from_mode"`
	ToMode   string `json:"to_mode"`
}

// SSHConnectingPayload accompanies ssh.connecting.
type SSHConnectingPayload struct {
	TargetHost string `json:"target_host"`
}

// SSHConnectedPayload accompanies ssh.connected.
type SSHConnectedPayload struct {
	ServerFingerprint string `json:"server_fingerprint"`
}

// SSHDisconnectedPayload accompanies ssh.disconnected.
type SSHDisconnectedPayload struct {
	Reason string `json:"reason,omitempty"`
}

// SSHErrorPayload accompanies ssh.error.
type SSHErrorPayload struct {
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
}

// CommandStartedPayload accompanies ssh.command_started.
type CommandStartedPayload struct {
	CommandID string `json:"command_id"`
	Command   string `json:"command"`
}

// CommandOutputPayload accompanies ssh.command_output.
type CommandOutputPayload struct {
	CommandID string `json:"command_id"`
	Chunk     string `json:"chunk"`
	Stream    string `json:"stream"` // "stdout" | "stderr"
}

// CommandCompletedPayload accompanies ssh.command_completed.
type CommandCompletedPayload struct {
	CommandID  string `json:"command_id"`
	ExitCode   int    `json:"exit_code"`
	DurationMS int64  `json:"duration_ms"`
}

// TerminalStartedPayload accompanies terminal.started.
type TerminalStartedPayload struct {
	Cols int `json:"cols"`
	Rows int `json:"rows"`
}

// TerminalDataPayload accompanies terminal.data. Data is base64-encoded
// raw PTY bytes.
type TerminalDataPayload struct {
	Data string `json:"data"`
}

// TerminalResizedPayload accompanies terminal.resized.
type TerminalResizedPayload struct {
	Cols int `json:"cols"`
	Rows int `json:"rows"`
}

// TerminalClosedPayload accompanies terminal.closed.
type TerminalClosedPayload struct {
	Reason string `json:"reason,omitempty"`
}

// HuntStartedPayload accompanies hunt.started.
type HuntStartedPayload struct {
	HuntID   string `json:"hunt_id"`
	ModuleID string `json:"module_id"`
}

// HuntStepStartedPayload accompanies hunt.step_started.
type HuntStepStartedPayload struct {
	HuntID      string `json:"hunt_id"`
	StepID      string `json:"step_id"`
	Description string `json:"description,omitempty"`
}

// HuntObservationPayload accompanies hunt.observation.
type HuntObservationPayload struct {
	HuntID        string             `json:"hunt_id"`
	ObservationID string             `json:"observation_id"`
	Data          models.Observation `json:"data"`
}

// HuntStepCompletedPayload accompanies hunt.step_completed.
type HuntStepCompletedPayload struct {
	HuntID string `json:"hunt_id"`
	StepID string `json:"step_id"`
}

// HuntCompletedPayload accompanies hunt.completed.
type HuntCompletedPayload struct {
	HuntID        string `json:"hunt_id"`
	FindingsCount int    `json:"findings_count"`
}

// HuntFailedPayload accompanies hunt.failed.
type HuntFailedPayload struct {
	HuntID string `json:"hunt_id"`
	Error  string `json:"error"`
}

// HuntCancelledPayload accompanies hunt.cancelled.
type HuntCancelledPayload struct {
	HuntID string `json:"hunt_id"`
}

// AIReasoningStartedPayload accompanies ai.reasoning_started.
type AIReasoningStartedPayload struct {
	HuntID         string `json:"hunt_id"`
	ContextSummary string `json:"context_summary,omitempty"`
}

// AIReasoningChunkPayload accompanies ai.reasoning_chunk.
type AIReasoningChunkPayload struct {
	HuntID string `json:"hunt_id"`
	Chunk  string `json:"chunk"`
	State  string `json:"state"` // analyzing | concluding | generating
}

// AIReasoningCompletedPayload accompanies ai.reasoning_completed.
type AIReasoningCompletedPayload struct {
	HuntID  string `json:"hunt_id"`
	Summary string `json:"summary,omitempty"`
}

// AIErrorPayload accompanies ai.error.
type AIErrorPayload struct {
	Error     string `json:"error"`
	Retryable bool   `json:"retryable"`
}

// AIFindingGeneratedPayload accompanies ai.finding_generated.
type AIFindingGeneratedPayload struct {
	HuntID    string `json:"hunt_id"`
	FindingID string `json:"finding_id"`
	Severity  string `json:"severity"`
	Title     string `json:"title"`
}

// AIStixGeneratedPayload accompanies ai.stix_generated.
type AIStixGeneratedPayload struct {
	FindingID string `json:"finding_id,omitempty"`
	BundleID  string `json:"bundle_id"`
}

// AIRemediationReadyPayload accompanies ai.remediation_ready.
type AIRemediationReadyPayload struct {
	FindingID       string `json:"finding_id,omitempty"`
	GuidanceSummary string `json:"guidance_summary,omitempty"`
}

// MCPLookupStartedPayload accompanies mcp.lookup_started.
type MCPLookupStartedPayload struct {
	FindingID string `json:"finding_id"`
	Provider  string `json:"provider"`
	IOCType   string `json:"ioc_type"`
	IOCValue  string `json:"ioc_value"`
}

// MCPLookupCompletedPayload accompanies mcp.lookup_completed.
type MCPLookupCompletedPayload struct {
	FindingID     string `json:"finding_id"`
	Provider      string `json:"provider"`
	ResultSummary string `json:"result_summary"`
}

// MCPLookupFailedPayload accompanies mcp.lookup_failed.
type MCPLookupFailedPayload struct {
	FindingID string `json:"finding_id"`
	Provider  string `json:"provider"`
	Error     string `json:"error"`
}

// MCPEnrichmentAppliedPayload accompanies mcp.enrichment_applied.
type MCPEnrichmentAppliedPayload struct {
	FindingID         string `json:"finding_id"`
	EnrichmentSummary string `json:"enrichment_summary"`
}

// SystemErrorPayload accompanies system.error.
type SystemErrorPayload struct {
	Component string `json:"component"`
	Error     string `json:"error"`
	Severity  string `json:"severity"`
}

// SystemBackpressurePayload accompanies system.backpressure.
type SystemBackpressurePayload struct {
	Component  string `json:"component"`
	QueueDepth int    `json:"queue_depth"`
	Limit      int    `json:"limit"`
}
