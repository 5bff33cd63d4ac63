package session

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/darkhound-project/darkhound/pkg/models"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from models.SessionState
		to   models.SessionState
		ok   bool
	}{
		{models.StateInitializing, models.StateConnecting, true},
		{models.StateConnecting, models.StateConnected, true},
		{models.StateConnecting, models.StateFailed, true},
		{models.StateConnected, models.StateRunning, true},
		{models.StateRunning, models.StatePaused, true},
		{models.StateRunning, models.StateLocked, true},
		{models.StateRunning, models.StateDisconnected, true},
		{models.StatePaused, models.StateRunning, true},
		{models.StateLocked, models.StateRunning, true},
		{models.StateDisconnected, models.StateConnecting, true},

		// Explicit destroy from any non-terminal state.
		{models.StateInitializing, models.StateTerminated, true},
		{models.StateRunning, models.StateTerminated, true},
		{models.StateDisconnected, models.StateTerminated, true},

		// Rejected edges.
		{models.StateConnected, models.StateFailed, false},
		{models.StateInitializing, models.StateRunning, false},
		{models.StateRunning, models.StateConnected, false},
		{models.StatePaused, models.StateLocked, false},

		// Terminal states admit nothing.
		{models.StateFailed, models.StateConnecting, false},
		{models.StateFailed, models.StateTerminated, false},
		{models.StateTerminated, models.StateTerminated, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.ok, CanTransition(tt.from, tt.to),
			"%s -> %s", tt.from, tt.to)
	}
}

func TestValidateTransition_WrapsSentinel(t *testing.T) {
	err := validateTransition(models.StateConnected, models.StateFailed)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Contains(t, err.Error(), "CONNECTED -> FAILED")
}
