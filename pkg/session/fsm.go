// Package session owns the session lifecycle: the state machine, the
// concurrency ceiling, per-session locks, and the stale-session reaper.
package session

import (
	"errors"
	"fmt"

	"github.com/darkhound-project/darkhound/pkg/models"
)

// ErrInvalidTransition is wrapped by transition errors so callers can
// errors.Is against it.
var ErrInvalidTransition = errors.New("invalid_transition")

// transitions is the allowed edge set of the session FSM. TERMINATED is
// additionally reachable from every non-terminal state via explicit
// destroy; FAILED and TERMINATED admit nothing.
var transitions = map[models.SessionState][]models.SessionState{
	models.StateInitializing: {models.StateConnecting},
	models.StateConnecting:   {models.StateConnected, models.StateFailed},
	models.StateConnected:    {models.StateRunning, models.StateTerminated},
	models.StateRunning:      {models.StatePaused, models.StateLocked, models.StateDisconnected, models.StateTerminated},
	models.StatePaused:       {models.StateRunning, models.StateDisconnected, models.StateTerminated},
	models.StateLocked:       {models.StateRunning, models.StateDisconnected, models.StateTerminated},
	models.StateDisconnected: {models.StateConnecting, models.StateTerminated},
}

// CanTransition reports whether the FSM permits from→to.
func CanTransition(from, to models.SessionState) bool {
	if from.IsTerminal() {
		return false
	}
	if to == models.StateTerminated {
		return true
	}
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// validateTransition returns a descriptive error for a rejected edge.
func validateTransition(from, to models.SessionState) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}
