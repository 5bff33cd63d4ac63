package session

import (
	"sync"
	"time"

	"github.com/darkhound-project/darkhound/pkg/models"
)

// Shell is the remote-connection handle a session owns once connected.
// Implemented by sshx.Engine; declared here so cleanup can close it
// without importing the transport package.
type Shell interface {
	Close() error
}

// Watcher is the background health loop attached to a connected session.
// Implemented by sshx.Monitor; declared here so cleanup can stop it
// without importing the transport package.
type Watcher interface {
	Stop()
}

// Context is the in-memory runtime state of one session. The persisted
// row is the durable record; this struct carries what must not hit the
// database: locks, the live shell handle, and cancellation flags.
type Context struct {
	Session *models.Session

	// CommandMu serialises AI-mode command execution on this session.
	CommandMu sync.Mutex
	// AIMu serialises streaming AI analyses on this session.
	AIMu sync.Mutex
	// ModeMu protects ai/interactive mode switches so an in-flight AI
	// command cannot be pre-empted by opening a PTY.
	ModeMu sync.Mutex

	mu      sync.RWMutex
	shell   Shell
	watcher Watcher

	cleanupOnce sync.Once
}

// State returns the current FSM state.
func (c *Context) State() models.SessionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Session.State
}

// Mode returns the current interaction mode.
func (c *Context) Mode() models.SessionMode {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Session.Mode
}

// SetShell attaches the live connection handle after a successful connect.
func (c *Context) SetShell(s Shell) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shell = s
}

// GetShell returns the attached connection handle, or nil.
func (c *Context) GetShell() Shell {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.shell
}

// SetWatcher attaches the connection health loop once monitoring starts.
func (c *Context) SetWatcher(w Watcher) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.watcher = w
}

// GetWatcher returns the attached health loop, or nil.
func (c *Context) GetWatcher() Watcher {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.watcher
}

func (c *Context) setState(state models.SessionState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Session.State = state
	c.Session.UpdatedAt = time.Now().UTC()
}

func (c *Context) setMode(mode models.SessionMode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Session.Mode = mode
}

func (c *Context) setLockedBy(holder string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Session.LockedBy = holder
}

// LockedBy returns the analyst currently holding the session lock, if any.
func (c *Context) LockedBy() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Session.LockedBy
}
