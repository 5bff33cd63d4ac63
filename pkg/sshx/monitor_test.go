package sshx

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/darkhound-project/darkhound/pkg/models"
	"github.com/darkhound-project/darkhound/pkg/security"
)

// stopDriver mimics session cleanup running inside a state transition:
// the manager stops the watcher before the transition call returns.
type stopDriver struct {
	monitor *Monitor
	calls   chan models.SessionState
}

func (d *stopDriver) Transition(ctx context.Context, sessionID string, to models.SessionState, reason string) error {
	d.monitor.Stop()
	d.calls <- to
	return errors.New("session gone")
}

func TestMonitor_StopFromTransitionDoesNotDeadlock(t *testing.T) {
	em := &captureEmitter{}
	engine := NewEngine("sess-1", "10.0.0.5", 22, &security.Credentials{Username: "root", SSHPassword: "pw"}, em, nopDriver{})
	driver := &stopDriver{calls: make(chan models.SessionState, 1)}

	m := NewMonitor(engine, em, driver)
	driver.monitor = m
	m.pollInterval = 5 * time.Millisecond

	m.Start()
	select {
	case st := <-driver.calls:
		assert.Equal(t, models.StateDisconnected, st)
	case <-time.After(2 * time.Second):
		t.Fatal("monitor never completed the drop transition")
	}

	// Idempotent after the loop exited.
	m.Stop()
}
