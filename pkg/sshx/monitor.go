package sshx

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/darkhound-project/darkhound/pkg/events"
	"github.com/darkhound-project/darkhound/pkg/models"
)

const (
	healthPollInterval   = 5 * time.Second
	reconnectBaseBackoff = 2 * time.Second
	maxReconnectAttempts = 3
)

// Monitor watches a connection's liveness and drives reconnection. On an
// unexpected drop it walks the session to DISCONNECTED, retries the dial
// with exponential backoff (2s, 4s, 8s), and either restores RUNNING or
// gives up into FAILED.
type Monitor struct {
	engine  *Engine
	emitter Emitter
	driver  StateDriver

	pollInterval time.Duration

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewMonitor creates a Monitor for an engine.
func NewMonitor(engine *Engine, emitter Emitter, driver StateDriver) *Monitor {
	return &Monitor{
		engine:       engine,
		emitter:      emitter,
		driver:       driver,
		pollInterval: healthPollInterval,
		stopCh:       make(chan struct{}),
	}
}

// Start launches the polling loop.
func (m *Monitor) Start() {
	go func() {
		ticker := time.NewTicker(m.pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if !m.engine.IsAlive() {
					if !m.handleDrop(context.Background()) {
						return
					}
				}
			case <-m.stopCh:
				return
			}
		}
	}()
}

// Stop ends monitoring. Signal-only: session cleanup runs on the
// monitor's own goroutine when reconnection exhausts into FAILED, so
// waiting for the loop here would deadlock.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
	})
}

// handleDrop runs the disconnect/reconnect protocol. Returns false when
// the session is lost for good and monitoring should end.
func (m *Monitor) handleDrop(ctx context.Context) bool {
	sessionID := m.engine.sessionID
	slog.Warn("SSH connection dropped", "session_id", sessionID)

	m.emitter.Emit(events.TypeSSHDisconnected, sessionID, events.SSHDisconnectedPayload{
		Reason: "connection lost",
	})
	if err := m.driver.Transition(ctx, sessionID, models.StateDisconnected, "connection lost"); err != nil {
		slog.Error("Failed to mark session disconnected",
			"session_id", sessionID, "error", err)
		return false
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = reconnectBaseBackoff
	policy.Multiplier = 2
	policy.RandomizationFactor = 0
	policy.MaxElapsedTime = 0
	policy.Reset()

	// Waits 2s, 4s, 8s before attempts 1..3.
	reconnected := false
	for attempt := 1; attempt <= maxReconnectAttempts; attempt++ {
		wait := time.NewTimer(policy.NextBackOff())
		select {
		case <-wait.C:
		case <-m.stopCh:
			wait.Stop()
			return false
		}

		slog.Info("Attempting SSH reconnect",
			"session_id", sessionID, "attempt", attempt)
		m.emitter.Emit(events.TypeSSHConnecting, sessionID, events.SSHConnectingPayload{
			TargetHost: m.engine.host,
		})
		if err := m.engine.Reconnect(); err != nil {
			slog.Warn("SSH reconnect attempt failed",
				"session_id", sessionID, "attempt", attempt, "error", err)
			continue
		}
		reconnected = true
		break
	}

	if !reconnected {
		slog.Error("SSH reconnect exhausted",
			"session_id", sessionID, "attempts", maxReconnectAttempts)
		if terr := m.driver.Transition(ctx, sessionID, models.StateFailed, "reconnect exhausted"); terr != nil {
			slog.Error("Failed to mark session failed",
				"session_id", sessionID, "error", terr)
		}
		return false
	}

	// DISCONNECTED→CONNECTING→CONNECTED→RUNNING restores the session.
	for _, step := range []models.SessionState{
		models.StateConnecting, models.StateConnected, models.StateRunning,
	} {
		if err := m.driver.Transition(ctx, sessionID, step, "reconnected"); err != nil {
			slog.Error("Failed to restore session state after reconnect",
				"session_id", sessionID, "state", step, "error", err)
			return false
		}
	}
	m.emitter.Emit(events.TypeSSHConnected, sessionID, events.SSHConnectedPayload{
		ServerFingerprint: m.engine.Fingerprint(),
	})
	slog.Info("SSH reconnected", "session_id", sessionID)
	return true
}
