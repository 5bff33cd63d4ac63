// Package sshx wraps one outbound SSH connection per session: connect,
// non-interactive command execution, the interactive PTY, and the
// reconnect monitor.
package sshx

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"regexp"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/darkhound-project/darkhound/pkg/events"
	"github.com/darkhound-project/darkhound/pkg/models"
	"github.com/darkhound-project/darkhound/pkg/security"
)

const (
	defaultConnectTimeout = 30 * time.Second
	keepaliveInterval     = 30 * time.Second
)

// sudoPromptRe matches the literal password prompt sudo -S writes to
// stderr, which is noise once the password went in via stdin. Multiline:
// the prompt can follow earlier stderr lines.
var sudoPromptRe = regexp.MustCompile(`(?m)^\[sudo\] password for \S+:\s*`)

// Emitter publishes transport events. Implemented by events.Emitter.
type Emitter interface {
	Emit(eventType, sessionID string, payload any)
}

// StateDriver advances the session FSM. Implemented by session.Manager.
type StateDriver interface {
	Transition(ctx context.Context, sessionID string, to models.SessionState, reason string) error
}

// Engine owns a single SSH connection to an asset.
type Engine struct {
	sessionID string
	host      string
	port      int
	creds     *security.Credentials
	emitter   Emitter
	driver    StateDriver

	connectTimeout time.Duration

	mu          sync.Mutex
	client      *ssh.Client
	fingerprint string
	closed      bool

	ptyMu sync.Mutex
	pty   *PTY
}

// NewEngine builds an engine for one session↔asset pair. It does not dial.
func NewEngine(sessionID, host string, port int, creds *security.Credentials, emitter Emitter, driver StateDriver) *Engine {
	if port == 0 {
		port = 22
	}
	return &Engine{
		sessionID:      sessionID,
		host:           host,
		port:           port,
		creds:          creds,
		emitter:        emitter,
		driver:         driver,
		connectTimeout: defaultConnectTimeout,
	}
}

// Credentials returns a copy of the bundle the engine connected with.
// Hunt runs snapshot this so a mid-hunt credential rotation cannot change
// sudo behaviour between steps.
func (e *Engine) Credentials() *security.Credentials {
	creds := *e.creds
	return &creds
}

// Fingerprint returns the SHA-256 fingerprint of the server host key
// captured during connect.
func (e *Engine) Fingerprint() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.fingerprint
}

// Connect dials the asset, emits ssh.connecting/ssh.connected, and drives
// the FSM INITIALIZING→CONNECTING→CONNECTED. Connect is the only path
// that moves CONNECTING→CONNECTED. Failure emits ssh.error and lands the
// session in FAILED.
func (e *Engine) Connect(ctx context.Context) error {
	e.emitter.Emit(events.TypeSSHConnecting, e.sessionID, events.SSHConnectingPayload{
		TargetHost: e.host,
	})
	if err := e.driver.Transition(ctx, e.sessionID, models.StateConnecting, "ssh connect"); err != nil {
		return err
	}

	if err := e.dial(); err != nil {
		e.emitter.Emit(events.TypeSSHError, e.sessionID, events.SSHErrorPayload{
			ErrorCode: "connect_failed",
			Message:   err.Error(),
		})
		if terr := e.driver.Transition(ctx, e.sessionID, models.StateFailed, "ssh connect failed"); terr != nil {
			slog.Error("Failed to mark session failed", "session_id", e.sessionID, "error", terr)
		}
		return err
	}

	e.emitter.Emit(events.TypeSSHConnected, e.sessionID, events.SSHConnectedPayload{
		ServerFingerprint: e.Fingerprint(),
	})
	return e.driver.Transition(ctx, e.sessionID, models.StateConnected, "ssh connected")
}

// dial establishes the TCP+SSH transport and starts the keepalive loop.
// Host-key verification is disabled here: targets are short-lived IR
// assets with no prior trust anchor.
func (e *Engine) dial() error {
	auth, err := authMethods(e.creds)
	if err != nil {
		return err
	}

	slog.Warn("Host key verification disabled for session",
		"session_id", e.sessionID, "host", e.host)

	cfg := &ssh.ClientConfig{
		User: e.creds.Username,
		Auth: auth,
		HostKeyCallback: func(_ string, _ net.Addr, key ssh.PublicKey) error {
			e.mu.Lock()
			e.fingerprint = ssh.FingerprintSHA256(key)
			e.mu.Unlock()
			return nil
		},
		Timeout: e.connectTimeout,
	}

	addr := net.JoinHostPort(e.host, fmt.Sprintf("%d", e.port))
	conn, err := net.DialTimeout("tcp", addr, e.connectTimeout)
	if err != nil {
		return fmt.Errorf("tcp dial %s: %w", addr, err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("ssh handshake %s: %w", addr, err)
	}

	client := ssh.NewClient(sshConn, chans, reqs)
	e.mu.Lock()
	e.client = client
	e.closed = false
	e.mu.Unlock()

	go e.keepaliveLoop(client)
	return nil
}

// Reconnect re-dials using the stored credentials. Used by the monitor;
// it does not touch the FSM.
func (e *Engine) Reconnect() error {
	e.mu.Lock()
	old := e.client
	e.client = nil
	e.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}
	return e.dial()
}

func authMethods(creds *security.Credentials) ([]ssh.AuthMethod, error) {
	var auth []ssh.AuthMethod
	if creds.SSHKey != "" {
		signer, err := ssh.ParsePrivateKey([]byte(creds.SSHKey))
		if err != nil {
			return nil, fmt.Errorf("parse ssh key: %w", err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if creds.SSHPassword != "" {
		auth = append(auth, ssh.Password(creds.SSHPassword))
	}
	if len(auth) == 0 {
		return nil, errors.New("no ssh credentials available")
	}
	return auth, nil
}

func (e *Engine) keepaliveLoop(client *ssh.Client) {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()
	for range ticker.C {
		e.mu.Lock()
		current := e.client
		e.mu.Unlock()
		if current != client {
			return
		}
		if _, _, err := client.SendRequest("keepalive@openssh.com", true, nil); err != nil {
			slog.Debug("SSH keepalive failed",
				"session_id", e.sessionID, "error", err)
			return
		}
	}
}

// IsAlive probes the connection with a keepalive request.
func (e *Engine) IsAlive() bool {
	e.mu.Lock()
	client := e.client
	closed := e.closed
	e.mu.Unlock()
	if client == nil || closed {
		return false
	}
	_, _, err := client.SendRequest("keepalive@openssh.com", true, nil)
	return err == nil
}

// CommandResult is the outcome of one non-interactive command.
type CommandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Run executes a command with a wall-clock timeout. A timeout returns
// ("", "timed out after Ns", -1) without tearing down the connection.
// A non-empty sudoPassword is written to stdin followed by a newline, and
// the sudo prompt line is scrubbed from stderr.
func (e *Engine) Run(ctx context.Context, command string, timeout time.Duration, sudoPassword string) (*CommandResult, error) {
	e.mu.Lock()
	client := e.client
	e.mu.Unlock()
	if client == nil {
		return nil, errors.New("not connected")
	}

	sess, err := client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("new ssh session: %w", err)
	}
	defer sess.Close()

	var stdout, stderr bytes.Buffer
	sess.Stdout = &stdout
	sess.Stderr = &stderr

	if sudoPassword != "" {
		sess.Stdin = strings.NewReader(sudoPassword + "\n")
	}

	if err := sess.Start(command); err != nil {
		return nil, fmt.Errorf("start command: %w", err)
	}

	done := make(chan error, 1)
	go func() { done <- sess.Wait() }()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		exitCode := 0
		if err != nil {
			var exitErr *ssh.ExitError
			if errors.As(err, &exitErr) {
				exitCode = exitErr.ExitStatus()
			} else {
				return nil, fmt.Errorf("command wait: %w", err)
			}
		}
		return &CommandResult{
			Stdout:   stdout.String(),
			Stderr:   scrubSudoPrompt(stderr.String()),
			ExitCode: exitCode,
		}, nil

	case <-timer.C:
		_ = sess.Signal(ssh.SIGKILL)
		return &CommandResult{
			Stderr:   fmt.Sprintf("timed out after %ds", int(timeout.Seconds())),
			ExitCode: -1,
		}, nil

	case <-ctx.Done():
		_ = sess.Signal(ssh.SIGKILL)
		return nil, ctx.Err()
	}
}

// scrubSudoPrompt strips the leading "[sudo] password for user:" line
// sudo -S leaves on stderr.
func scrubSudoPrompt(stderr string) string {
	return sudoPromptRe.ReplaceAllString(stderr, "")
}

// Close tears down the PTY (if open) and the transport. Safe to call twice.
func (e *Engine) Close() error {
	e.ptyMu.Lock()
	pty := e.pty
	e.pty = nil
	e.ptyMu.Unlock()
	if pty != nil {
		pty.Close()
	}

	e.mu.Lock()
	client := e.client
	e.client = nil
	e.closed = true
	e.mu.Unlock()

	if client == nil {
		return nil
	}
	return client.Close()
}
