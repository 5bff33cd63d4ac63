package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/darkhound-project/darkhound/pkg/events"
	"github.com/darkhound-project/darkhound/pkg/models"
)

// ErrCapacityExhausted is returned when the concurrency ceiling is hit.
// The API maps it to 503.
var ErrCapacityExhausted = errors.New("capacity_exhausted")

// ErrSessionNotFound is returned for unknown or already-reaped sessions.
var ErrSessionNotFound = errors.New("session not found")

// ErrCommandInFlight is returned when a mode switch races an AI command.
var ErrCommandInFlight = errors.New("command in flight, cannot switch mode")

// ErrNotLockHolder is returned when an unlock comes from the wrong analyst.
var ErrNotLockHolder = errors.New("session locked by another analyst")

// Store is the persistence surface the manager writes through to.
// Implemented by services.SessionService.
type Store interface {
	Create(ctx context.Context, assetID, analystID string) (*models.Session, error)
	UpdateState(ctx context.Context, id string, state models.SessionState) error
	UpdateMode(ctx context.Context, id string, mode models.SessionMode) error
	SetLock(ctx context.Context, id, holder string) error
}

// Emitter publishes session events. Implemented by events.Emitter.
type Emitter interface {
	Emit(eventType, sessionID string, payload any)
}

// Config bounds the manager.
type Config struct {
	MaxSessions int
	StaleAfter  time.Duration
	ReapEvery   time.Duration
}

// Manager is the session registry. It enforces the concurrency ceiling
// with a permit channel, validates every FSM transition, writes state
// through to the database, and reaps stale sessions in the background.
type Manager struct {
	store   Store
	emitter Emitter
	cfg     Config

	mu       sync.RWMutex
	sessions map[string]*Context

	permits chan struct{}

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewManager creates a Manager. Zero config fields get defaults
// (50 sessions, 1h stale threshold, 5m reap interval).
func NewManager(store Store, emitter Emitter, cfg Config) *Manager {
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = 50
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = time.Hour
	}
	if cfg.ReapEvery <= 0 {
		cfg.ReapEvery = 5 * time.Minute
	}
	return &Manager{
		store:    store,
		emitter:  emitter,
		cfg:      cfg,
		sessions: make(map[string]*Context),
		permits:  make(chan struct{}, cfg.MaxSessions),
		stopCh:   make(chan struct{}),
	}
}

// Create acquires a permit, persists a session in INITIALIZING state, and
// registers it. Returns ErrCapacityExhausted without blocking when the
// ceiling is reached.
func (m *Manager) Create(ctx context.Context, assetID, analystID string) (*Context, error) {
	select {
	case m.permits <- struct{}{}:
	default:
		return nil, ErrCapacityExhausted
	}

	sess, err := m.store.Create(ctx, assetID, analystID)
	if err != nil {
		<-m.permits
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	c := &Context{Session: sess}
	m.mu.Lock()
	m.sessions[sess.ID] = c
	m.mu.Unlock()

	m.emitter.Emit(events.TypeSessionCreated, sess.ID, events.SessionCreatedPayload{
		AssetID:   assetID,
		AnalystID: analystID,
	})
	slog.Info("Session created",
		"session_id", sess.ID, "asset_id", assetID, "analyst_id", analystID)
	return c, nil
}

// Get returns a registered session context.
func (m *Manager) Get(id string) (*Context, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return c, nil
}

// ActiveCount returns the number of registered sessions.
func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Transition validates and applies an FSM edge: memory first, then the
// database row, then the session.state_changed event. A rejected edge
// surfaces as a high-severity system.error and returns the error.
// Reaching a terminal state triggers cleanup.
func (m *Manager) Transition(ctx context.Context, id string, to models.SessionState, reason string) error {
	c, err := m.Get(id)
	if err != nil {
		return err
	}

	from := c.State()
	if err := validateTransition(from, to); err != nil {
		m.emitter.Emit(events.TypeSystemError, id, events.SystemErrorPayload{
			Component: "session_manager",
			Error:     err.Error(),
			Severity:  "high",
		})
		return err
	}

	c.setState(to)
	if err := m.store.UpdateState(ctx, id, to); err != nil {
		slog.Error("Failed to persist session state",
			"session_id", id, "state", to, "error", err)
	}

	m.emitter.Emit(events.TypeSessionStateChanged, id, events.SessionStateChangedPayload{
		FromState: string(from),
		ToState:   string(to),
		Reason:    reason,
	})
	slog.Info("Session state changed",
		"session_id", id, "from", from, "to", to, "reason", reason)

	if to.IsTerminal() {
		m.cleanup(c)
	}
	return nil
}

// Terminate destroys a session. Idempotent: an unknown or already
// terminal session is a no-op.
func (m *Manager) Terminate(ctx context.Context, id, reason string) error {
	c, err := m.Get(id)
	if err != nil {
		return nil
	}
	if c.State().IsTerminal() {
		return nil
	}
	return m.Transition(ctx, id, models.StateTerminated, reason)
}

// SetMode switches between ai and interactive mode. Fails fast when an
// AI command is in flight rather than pre-empting it.
func (m *Manager) SetMode(ctx context.Context, id string, mode models.SessionMode) error {
	c, err := m.Get(id)
	if err != nil {
		return err
	}

	c.ModeMu.Lock()
	defer c.ModeMu.Unlock()

	if !c.CommandMu.TryLock() {
		return ErrCommandInFlight
	}
	c.CommandMu.Unlock()

	from := c.Mode()
	if from == mode {
		return nil
	}

	c.setMode(mode)
	if err := m.store.UpdateMode(ctx, id, mode); err != nil {
		slog.Error("Failed to persist session mode",
			"session_id", id, "mode", mode, "error", err)
	}

	m.emitter.Emit(events.TypeSessionModeChanged, id, events.SessionModeChangedPayload{
		FromMode: string(from),
		ToMode:   string(mode),
	})
	return nil
}

// Lock moves a RUNNING session to LOCKED and records the holder.
func (m *Manager) Lock(ctx context.Context, id, analystID string) error {
	c, err := m.Get(id)
	if err != nil {
		return err
	}
	if err := m.Transition(ctx, id, models.StateLocked, "locked by "+analystID); err != nil {
		return err
	}
	c.setLockedBy(analystID)
	if err := m.store.SetLock(ctx, id, analystID); err != nil {
		slog.Error("Failed to persist session lock",
			"session_id", id, "error", err)
	}
	return nil
}

// Unlock releases a lock held by analystID (or unheld) and resumes RUNNING.
func (m *Manager) Unlock(ctx context.Context, id, analystID string) error {
	c, err := m.Get(id)
	if err != nil {
		return err
	}
	if holder := c.LockedBy(); holder != "" && holder != analystID {
		return ErrNotLockHolder
	}
	if err := m.Transition(ctx, id, models.StateRunning, "unlocked by "+analystID); err != nil {
		return err
	}
	c.setLockedBy("")
	if err := m.store.SetLock(ctx, id, ""); err != nil {
		slog.Error("Failed to persist session unlock",
			"session_id", id, "error", err)
	}
	return nil
}

// cleanup releases everything a session holds. Idempotent.
func (m *Manager) cleanup(c *Context) {
	c.cleanupOnce.Do(func() {
		if w := c.GetWatcher(); w != nil {
			w.Stop()
		}
		if shell := c.GetShell(); shell != nil {
			if err := shell.Close(); err != nil {
				slog.Warn("Failed to close session shell",
					"session_id", c.Session.ID, "error", err)
			}
		}

		m.mu.Lock()
		_, registered := m.sessions[c.Session.ID]
		delete(m.sessions, c.Session.ID)
		m.mu.Unlock()

		if registered {
			select {
			case <-m.permits:
			default:
			}
		}

		m.emitter.Emit(events.TypeSessionTerminated, c.Session.ID, nil)
		slog.Info("Session cleaned up", "session_id", c.Session.ID)
	})
}

// StartReaper launches the background task that removes DISCONNECTED and
// FAILED sessions older than the stale threshold.
func (m *Manager) StartReaper() {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.cfg.ReapEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.reap(context.Background())
			case <-m.stopCh:
				return
			}
		}
	}()
}

// Stop terminates the reaper and every live session's watcher.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
	})
	m.wg.Wait()

	m.mu.RLock()
	live := make([]*Context, 0, len(m.sessions))
	for _, c := range m.sessions {
		live = append(live, c)
	}
	m.mu.RUnlock()
	for _, c := range live {
		if w := c.GetWatcher(); w != nil {
			w.Stop()
		}
	}
}

// reap terminates sessions stuck in DISCONNECTED or FAILED past the
// threshold. FAILED sessions are already terminal: they skip the FSM and
// go straight to cleanup.
func (m *Manager) reap(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-m.cfg.StaleAfter)

	m.mu.RLock()
	var stale []*Context
	for _, c := range m.sessions {
		state := c.State()
		if (state == models.StateDisconnected || state == models.StateFailed) &&
			c.Session.UpdatedAt.Before(cutoff) {
			stale = append(stale, c)
		}
	}
	m.mu.RUnlock()

	for _, c := range stale {
		slog.Info("Reaping stale session",
			"session_id", c.Session.ID, "state", c.State())
		if c.State() == models.StateFailed {
			m.cleanup(c)
			continue
		}
		if err := m.Transition(ctx, c.Session.ID, models.StateTerminated, "reaped: stale session"); err != nil {
			slog.Warn("Failed to reap session",
				"session_id", c.Session.ID, "error", err)
		}
	}
}
