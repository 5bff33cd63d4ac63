package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/darkhound-project/darkhound/pkg/events"
	"github.com/darkhound-project/darkhound/pkg/models"
)

// fakeStore records writes in memory.
type fakeStore struct {
	mu        sync.Mutex
	states    map[string]models.SessionState
	modes     map[string]models.SessionMode
	lockers   map[string]string
	createErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		states:  make(map[string]models.SessionState),
		modes:   make(map[string]models.SessionMode),
		lockers: make(map[string]string),
	}
}

func (f *fakeStore) Create(_ context.Context, assetID, analystID string) (*models.Session, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	now := time.Now().UTC()
	s := &models.Session{
		ID:        uuid.New().String(),
		AssetID:   assetID,
		AnalystID: analystID,
		State:     models.StateInitializing,
		Mode:      models.ModeInteractive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	f.mu.Lock()
	f.states[s.ID] = s.State
	f.mu.Unlock()
	return s, nil
}

func (f *fakeStore) UpdateState(_ context.Context, id string, state models.SessionState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states[id] = state
	return nil
}

func (f *fakeStore) UpdateMode(_ context.Context, id string, mode models.SessionMode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.modes[id] = mode
	return nil
}

func (f *fakeStore) SetLock(_ context.Context, id, holder string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lockers[id] = holder
	return nil
}

func (f *fakeStore) stateOf(id string) models.SessionState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.states[id]
}

// fakeEmitter captures emitted events.
type fakeEmitter struct {
	mu     sync.Mutex
	events []events.Event
}

func (f *fakeEmitter) Emit(eventType, sessionID string, payload any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, events.New(eventType, sessionID, payload))
}

func (f *fakeEmitter) typesFor(sessionID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var types []string
	for _, ev := range f.events {
		if ev.SessionID == sessionID {
			types = append(types, ev.Type)
		}
	}
	return types
}

// fakeShell counts Close calls.
type fakeShell struct {
	mu     sync.Mutex
	closed int
}

func (f *fakeShell) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

// fakeWatcher counts Stop calls.
type fakeWatcher struct {
	mu      sync.Mutex
	stopped int
}

func (f *fakeWatcher) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped++
}

func (f *fakeWatcher) stopCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopped
}

func newTestManager(cfg Config) (*Manager, *fakeStore, *fakeEmitter) {
	store := newFakeStore()
	emitter := &fakeEmitter{}
	return NewManager(store, emitter, cfg), store, emitter
}

func TestManager_CreateRegistersSession(t *testing.T) {
	m, _, emitter := newTestManager(Config{})
	ctx := context.Background()

	c, err := m.Create(ctx, "asset-1", "analyst-1")
	require.NoError(t, err)
	assert.Equal(t, models.StateInitializing, c.State())
	assert.Equal(t, 1, m.ActiveCount())
	assert.Contains(t, emitter.typesFor(c.Session.ID), events.TypeSessionCreated)
}

func TestManager_CapacityExhausted(t *testing.T) {
	m, _, _ := newTestManager(Config{MaxSessions: 2})
	ctx := context.Background()

	_, err := m.Create(ctx, "a", "u")
	require.NoError(t, err)
	_, err = m.Create(ctx, "a", "u")
	require.NoError(t, err)

	_, err = m.Create(ctx, "a", "u")
	assert.ErrorIs(t, err, ErrCapacityExhausted)
}

func TestManager_TerminateReleasesPermit(t *testing.T) {
	m, _, _ := newTestManager(Config{MaxSessions: 1})
	ctx := context.Background()

	c, err := m.Create(ctx, "a", "u")
	require.NoError(t, err)
	require.NoError(t, m.Terminate(ctx, c.Session.ID, "done"))

	// Permit returned: a new session fits again.
	_, err = m.Create(ctx, "a", "u")
	assert.NoError(t, err)
}

func TestManager_TerminateStopsWatcher(t *testing.T) {
	m, _, _ := newTestManager(Config{})
	ctx := context.Background()

	c, err := m.Create(ctx, "a", "u")
	require.NoError(t, err)
	shell := &fakeShell{}
	watcher := &fakeWatcher{}
	c.SetShell(shell)
	c.SetWatcher(watcher)

	require.NoError(t, m.Terminate(ctx, c.Session.ID, "done"))
	assert.Equal(t, 1, watcher.stopCount())

	// Cleanup is once-only: a second terminate does not stop again.
	require.NoError(t, m.Terminate(ctx, c.Session.ID, "again"))
	assert.Equal(t, 1, watcher.stopCount())
}

func TestManager_StopStopsLiveWatchers(t *testing.T) {
	m, _, _ := newTestManager(Config{})
	ctx := context.Background()

	c1, err := m.Create(ctx, "a", "u")
	require.NoError(t, err)
	c2, err := m.Create(ctx, "b", "u")
	require.NoError(t, err)
	w1, w2 := &fakeWatcher{}, &fakeWatcher{}
	c1.SetWatcher(w1)
	c2.SetWatcher(w2)

	m.Stop()
	assert.Equal(t, 1, w1.stopCount())
	assert.Equal(t, 1, w2.stopCount())
}

func TestManager_InvalidTransitionRejected(t *testing.T) {
	m, store, emitter := newTestManager(Config{})
	ctx := context.Background()

	c, err := m.Create(ctx, "a", "u")
	require.NoError(t, err)
	require.NoError(t, m.Transition(ctx, c.Session.ID, models.StateConnecting, ""))
	require.NoError(t, m.Transition(ctx, c.Session.ID, models.StateConnected, ""))

	// CONNECTED -> FAILED is not an FSM edge.
	err = m.Transition(ctx, c.Session.ID, models.StateFailed, "")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	// State unchanged in memory and in the store.
	assert.Equal(t, models.StateConnected, c.State())
	assert.Equal(t, models.StateConnected, store.stateOf(c.Session.ID))

	// A high-severity system.error was emitted.
	var sawError bool
	for _, ev := range emitter.events {
		if ev.Type == events.TypeSystemError {
			p := ev.Payload.(events.SystemErrorPayload)
			assert.Equal(t, "high", p.Severity)
			sawError = true
		}
	}
	assert.True(t, sawError)
}

func TestManager_TransitionWritesThroughAndEmits(t *testing.T) {
	m, store, emitter := newTestManager(Config{})
	ctx := context.Background()

	c, err := m.Create(ctx, "a", "u")
	require.NoError(t, err)
	require.NoError(t, m.Transition(ctx, c.Session.ID, models.StateConnecting, "connect requested"))

	assert.Equal(t, models.StateConnecting, store.stateOf(c.Session.ID))

	var found bool
	for _, ev := range emitter.events {
		if ev.Type == events.TypeSessionStateChanged {
			p := ev.Payload.(events.SessionStateChangedPayload)
			assert.Equal(t, "INITIALIZING", p.FromState)
			assert.Equal(t, "CONNECTING", p.ToState)
			assert.Equal(t, "connect requested", p.Reason)
			found = true
		}
	}
	assert.True(t, found)
}

func TestManager_TerminateIdempotent(t *testing.T) {
	m, _, emitter := newTestManager(Config{})
	ctx := context.Background()

	c, err := m.Create(ctx, "a", "u")
	require.NoError(t, err)

	shell := &fakeShell{}
	c.SetShell(shell)

	require.NoError(t, m.Terminate(ctx, c.Session.ID, "first"))
	require.NoError(t, m.Terminate(ctx, c.Session.ID, "second"))
	require.NoError(t, m.Terminate(ctx, "nonexistent", "third"))

	assert.Equal(t, 1, shell.closed)
	assert.Equal(t, 0, m.ActiveCount())

	var terminated int
	for _, typ := range emitter.typesFor(c.Session.ID) {
		if typ == events.TypeSessionTerminated {
			terminated++
		}
	}
	assert.Equal(t, 1, terminated)
}

func TestManager_SetMode(t *testing.T) {
	m, store, emitter := newTestManager(Config{})
	ctx := context.Background()

	c, err := m.Create(ctx, "a", "u")
	require.NoError(t, err)

	require.NoError(t, m.SetMode(ctx, c.Session.ID, models.ModeAI))
	assert.Equal(t, models.ModeAI, c.Mode())
	assert.Equal(t, models.ModeAI, store.modes[c.Session.ID])
	assert.Contains(t, emitter.typesFor(c.Session.ID), events.TypeSessionModeChanged)

	// Same mode is a no-op.
	require.NoError(t, m.SetMode(ctx, c.Session.ID, models.ModeAI))
}

func TestManager_SetModeBlockedByCommandInFlight(t *testing.T) {
	m, _, _ := newTestManager(Config{})
	ctx := context.Background()

	c, err := m.Create(ctx, "a", "u")
	require.NoError(t, err)

	c.CommandMu.Lock()
	defer c.CommandMu.Unlock()

	err = m.SetMode(ctx, c.Session.ID, models.ModeAI)
	assert.ErrorIs(t, err, ErrCommandInFlight)
}

func TestManager_LockUnlock(t *testing.T) {
	m, store, _ := newTestManager(Config{})
	ctx := context.Background()

	c, err := m.Create(ctx, "a", "u")
	require.NoError(t, err)
	require.NoError(t, m.Transition(ctx, c.Session.ID, models.StateConnecting, ""))
	require.NoError(t, m.Transition(ctx, c.Session.ID, models.StateConnected, ""))
	require.NoError(t, m.Transition(ctx, c.Session.ID, models.StateRunning, ""))

	require.NoError(t, m.Lock(ctx, c.Session.ID, "analyst-1"))
	assert.Equal(t, models.StateLocked, c.State())
	assert.Equal(t, "analyst-1", store.lockers[c.Session.ID])

	err = m.Unlock(ctx, c.Session.ID, "analyst-2")
	assert.ErrorIs(t, err, ErrNotLockHolder)

	require.NoError(t, m.Unlock(ctx, c.Session.ID, "analyst-1"))
	assert.Equal(t, models.StateRunning, c.State())
	assert.Empty(t, store.lockers[c.Session.ID])
}

func TestManager_ReapRemovesStaleSessions(t *testing.T) {
	m, _, _ := newTestManager(Config{StaleAfter: time.Hour})
	ctx := context.Background()

	stale, err := m.Create(ctx, "a", "u")
	require.NoError(t, err)
	require.NoError(t, m.Transition(ctx, stale.Session.ID, models.StateConnecting, ""))
	require.NoError(t, m.Transition(ctx, stale.Session.ID, models.StateConnected, ""))
	require.NoError(t, m.Transition(ctx, stale.Session.ID, models.StateRunning, ""))
	require.NoError(t, m.Transition(ctx, stale.Session.ID, models.StateDisconnected, ""))
	stale.Session.UpdatedAt = time.Now().UTC().Add(-2 * time.Hour)

	fresh, err := m.Create(ctx, "a", "u")
	require.NoError(t, err)

	m.reap(ctx)

	_, err = m.Get(stale.Session.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = m.Get(fresh.Session.ID)
	assert.NoError(t, err)
}
