package security

import (
	"strings"

	"github.com/darkhound-project/darkhound/pkg/models"
)

// SudoPolicy decides whether and how sudo is prepended to a hunt step
// command, based on the asset's declared sudo method.
type SudoPolicy struct {
	Method models.SudoMethod
}

// WrapCommand applies the sudo policy. Commands already starting with
// "sudo " are never re-wrapped.
func (p SudoPolicy) WrapCommand(command string, requiresSudo bool) string {
	if !requiresSudo {
		return command
	}
	if p.Method == "" || p.Method == models.SudoNone {
		return command
	}
	if strings.HasPrefix(strings.TrimSpace(command), "sudo ") {
		return command
	}

	if p.Method == models.SudoNoPasswd {
		return "sudo -n " + command
	}
	// ssh_password and custom_password both pipe the password via stdin.
	return "sudo -S " + command
}

// NeedsPassword reports whether the policy delivers a password on stdin.
func (p SudoPolicy) NeedsPassword(requiresSudo bool) bool {
	return requiresSudo && (p.Method == models.SudoSSHPassword || p.Method == models.SudoCustomPassword)
}
