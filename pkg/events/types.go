// Package events provides the bounded in-process event bus and the
// per-session fan-out to WebSocket subscribers.
//
// Every event carries its type, an optional session id used for room
// routing, and a UTC timestamp. Events are advisory for live UIs; the
// database rows are the ledger.
package events

import "time"

// Session lifecycle events.
const (
	TypeSessionCreated      = "session.created"
	TypeSessionStateChanged = "session.state_changed"
	TypeSessionTerminated   = "session.terminated"
	TypeSessionModeChanged  = "session.mode_changed"
)

// Remote-shell events.
const (
	TypeSSHConnecting       = "ssh.connecting"
	TypeSSHConnected        = "ssh.connected"
	TypeSSHDisconnected     = "ssh.disconnected"
	TypeSSHError            = "ssh.error"
	TypeSSHCommandStarted   = "ssh.command_started"
	TypeSSHCommandOutput    = "ssh.command_output"
	TypeSSHCommandCompleted = "ssh.command_completed"
)

// Interactive terminal events.
const (
	TypeTerminalStarted = "terminal.started"
	TypeTerminalData    = "terminal.data"
	TypeTerminalResized = "terminal.resized"
	TypeTerminalClosed  = "terminal.closed"
)

// Hunt lifecycle events.
const (
	TypeHuntStarted       = "hunt.started"
	TypeHuntStepStarted   = "hunt.step_started"
	TypeHuntObservation   = "hunt.observation"
	TypeHuntStepCompleted = "hunt.step_completed"
	TypeHuntCompleted     = "hunt.completed"
	TypeHuntFailed        = "hunt.failed"
	TypeHuntCancelled     = "hunt.cancelled"
)

// AI pipeline events.
const (
	TypeAIReasoningStarted   = "ai.reasoning_started"
	TypeAIReasoningChunk     = "ai.reasoning_chunk"
	TypeAIReasoningCompleted = "ai.reasoning_completed"
	TypeAIError              = "ai.error"
	TypeAIFindingGenerated   = "ai.finding_generated"
	TypeAIStixGenerated      = "ai.stix_generated"
	TypeAIRemediationReady   = "ai.remediation_ready"
)

// Enrichment (MCP provider) events.
const (
	TypeMCPLookupStarted     = "mcp.lookup_started"
	TypeMCPLookupCompleted   = "mcp.lookup_completed"
	TypeMCPLookupFailed      = "mcp.lookup_failed"
	TypeMCPEnrichmentApplied = "mcp.enrichment_applied"
)

// System events.
const (
	TypeSystemError        = "system.error"
	TypeSystemBackpressure = "system.backpressure"
)

// Event is the envelope placed on the bus and pushed to subscribers.
type Event struct {
	Type      string    `json:"event_type"`
	SessionID string    `json:"session_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload,omitempty"`
}

// New builds an Event stamped with the current UTC time.
func New(eventType, sessionID string, payload any) Event {
	return Event{
		Type:      eventType,
		SessionID: sessionID,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}
