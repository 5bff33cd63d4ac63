// Package models defines DarkHound's domain types. Enumerated values are
// persisted as strings; parsers coerce unknown values to a default rather
// than fail, because several of them originate from LLM output.
package models

import "log/slog"

// OSType classifies a target host's operating system.
type OSType string

// OS type values.
const (
	OSLinux   OSType = "linux"
	OSWindows OSType = "windows"
	OSMacOS   OSType = "macos"
	OSUnknown OSType = "unknown"
)

// ParseOSType coerces a string to an OSType, defaulting to unknown.
func ParseOSType(s string) OSType {
	switch OSType(s) {
	case OSLinux, OSWindows, OSMacOS:
		return OSType(s)
	default:
		if s != "" && s != string(OSUnknown) {
			slog.Warn("Unrecognised os_type, defaulting to unknown", "value", s)
		}
		return OSUnknown
	}
}

// SessionState is a state in the session FSM.
type SessionState string

// Session FSM states. FAILED and TERMINATED are terminal.
const (
	StateInitializing SessionState = "INITIALIZING"
	StateConnecting   SessionState = "CONNECTING"
	StateConnected    SessionState = "CONNECTED"
	StateRunning      SessionState = "RUNNING"
	StatePaused       SessionState = "PAUSED"
	StateLocked       SessionState = "LOCKED"
	StateDisconnected SessionState = "DISCONNECTED"
	StateFailed       SessionState = "FAILED"
	StateTerminated   SessionState = "TERMINATED"
)

// IsTerminal reports whether the state admits no further transitions.
func (s SessionState) IsTerminal() bool {
	return s == StateFailed || s == StateTerminated
}

// SessionMode selects between AI-driven and interactive execution.
type SessionMode string

// Session modes. The two are mutually exclusive per session.
const (
	ModeAI          SessionMode = "ai"
	ModeInteractive SessionMode = "interactive"
)

// HuntState is the lifecycle state of a hunt execution.
type HuntState string

// Hunt execution states.
const (
	HuntPending   HuntState = "PENDING"
	HuntRunning   HuntState = "RUNNING"
	HuntCompleted HuntState = "COMPLETED"
	HuntFailed    HuntState = "FAILED"
	HuntCancelled HuntState = "CANCELLED"
)

// Severity grades a finding.
type Severity string

// Severity levels, highest first.
const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// ParseSeverity coerces a string to a Severity, defaulting to medium.
// LLM output is not trusted to use the enum correctly.
func ParseSeverity(s string) Severity {
	switch Severity(s) {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow, SeverityInfo:
		return Severity(s)
	default:
		if s != "" {
			slog.Warn("Unrecognised severity, defaulting to medium", "value", s)
		}
		return SeverityMedium
	}
}

// FindingStatus is an analyst-managed triage state.
type FindingStatus string

// Finding triage states.
const (
	FindingOpen         FindingStatus = "open"
	FindingAcknowledged FindingStatus = "acknowledged"
	FindingResolved     FindingStatus = "resolved"
)

// ParseFindingStatus validates a triage state string.
func ParseFindingStatus(s string) (FindingStatus, bool) {
	switch FindingStatus(s) {
	case FindingOpen, FindingAcknowledged, FindingResolved:
		return FindingStatus(s), true
	default:
		return "", false
	}
}

// UserRole distinguishes analysts from admins.
type UserRole string

// User roles.
const (
	RoleAnalyst UserRole = "analyst"
	RoleAdmin   UserRole = "admin"
)

// SudoMethod declares how privilege escalation is invoked on an asset.
type SudoMethod string

// Sudo methods.
const (
	SudoNone           SudoMethod = "none"
	SudoNoPasswd       SudoMethod = "nopasswd"
	SudoSSHPassword    SudoMethod = "ssh_password"
	SudoCustomPassword SudoMethod = "custom_password"
)
