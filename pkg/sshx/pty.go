package sshx

import (
	"encoding/base64"
	"io"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/darkhound-project/darkhound/pkg/events"
)

const (
	// coalesceInterval caps terminal.data emission at ~60 frames per second.
	coalesceInterval = time.Second / 60
	// coalesceMaxBytes forces an immediate flush once the buffer exceeds 8 KB.
	coalesceMaxBytes = 8 * 1024
)

// rateLimiter coalesces raw PTY bytes into at most one flush per interval,
// flushing early when the buffer passes the size cap. Bytes are never
// dropped or reordered.
type rateLimiter struct {
	mu      sync.Mutex
	buf     []byte
	pending *time.Timer
	flush   func([]byte)

	interval time.Duration
	maxBytes int
}

func newRateLimiter(flush func([]byte)) *rateLimiter {
	return &rateLimiter{
		flush:    flush,
		interval: coalesceInterval,
		maxBytes: coalesceMaxBytes,
	}
}

// Write buffers bytes and schedules a flush. Called from the PTY read loop.
func (r *rateLimiter) Write(p []byte) {
	r.mu.Lock()
	r.buf = append(r.buf, p...)
	if len(r.buf) >= r.maxBytes {
		r.flushLocked()
		r.mu.Unlock()
		return
	}
	if r.pending == nil {
		r.pending = time.AfterFunc(r.interval, func() {
			r.mu.Lock()
			r.flushLocked()
			r.mu.Unlock()
		})
	}
	r.mu.Unlock()
}

// Flush emits anything buffered immediately.
func (r *rateLimiter) Flush() {
	r.mu.Lock()
	r.flushLocked()
	r.mu.Unlock()
}

func (r *rateLimiter) flushLocked() {
	if r.pending != nil {
		r.pending.Stop()
		r.pending = nil
	}
	if len(r.buf) == 0 {
		return
	}
	out := r.buf
	r.buf = nil
	r.flush(out)
}

// PTY is the single interactive terminal a connection may hold.
type PTY struct {
	sessionID string
	sess      *ssh.Session
	stdin     io.WriteCloser
	limiter   *rateLimiter
	emitter   Emitter
	onClose   func()

	closeOnce sync.Once
	done      chan struct{}
}

// OpenPTY starts an interactive shell with an xterm-256color terminal.
// At most one PTY exists per connection; a second open fails. onClose
// runs once when the PTY ends, however it ends.
func (e *Engine) OpenPTY(cols, rows int, onClose func()) (*PTY, error) {
	e.ptyMu.Lock()
	defer e.ptyMu.Unlock()
	if e.pty != nil {
		return nil, errAlreadyOpen
	}

	e.mu.Lock()
	client := e.client
	e.mu.Unlock()
	if client == nil {
		return nil, errNotConnected
	}

	sess, err := client.NewSession()
	if err != nil {
		return nil, err
	}

	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := sess.RequestPty("xterm-256color", rows, cols, modes); err != nil {
		_ = sess.Close()
		return nil, err
	}

	stdin, err := sess.StdinPipe()
	if err != nil {
		_ = sess.Close()
		return nil, err
	}
	stdout, err := sess.StdoutPipe()
	if err != nil {
		_ = sess.Close()
		return nil, err
	}

	p := &PTY{
		sessionID: e.sessionID,
		sess:      sess,
		stdin:     stdin,
		emitter:   e.emitter,
		onClose:   onClose,
		done:      make(chan struct{}),
	}
	p.limiter = newRateLimiter(func(data []byte) {
		p.emitter.Emit(events.TypeTerminalData, p.sessionID, events.TerminalDataPayload{
			Data: base64.StdEncoding.EncodeToString(data),
		})
	})

	if err := sess.Shell(); err != nil {
		_ = sess.Close()
		return nil, err
	}

	e.pty = p
	go p.readLoop(stdout, func() {
		e.ptyMu.Lock()
		if e.pty == p {
			e.pty = nil
		}
		e.ptyMu.Unlock()
	})

	e.emitter.Emit(events.TypeTerminalStarted, e.sessionID, events.TerminalStartedPayload{
		Cols: cols,
		Rows: rows,
	})
	return p, nil
}

func (p *PTY) readLoop(stdout io.Reader, detach func()) {
	buf := make([]byte, 4096)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			p.limiter.Write(buf[:n])
		}
		if err != nil {
			if err != io.EOF {
				slog.Debug("PTY read ended", "session_id", p.sessionID, "error", err)
			}
			break
		}
	}
	detach()
	p.closeInternal("shell exited")
}

// Write delivers raw input bytes to the remote shell.
func (p *PTY) Write(input []byte) error {
	_, err := p.stdin.Write(input)
	return err
}

// Resize propagates a window-size change and emits terminal.resized.
func (p *PTY) Resize(cols, rows int) error {
	if err := p.sess.WindowChange(rows, cols); err != nil {
		return err
	}
	p.emitter.Emit(events.TypeTerminalResized, p.sessionID, events.TerminalResizedPayload{
		Cols: cols,
		Rows: rows,
	})
	return nil
}

// Close ends the PTY explicitly.
func (p *PTY) Close() {
	p.closeInternal("closed by analyst")
}

func (p *PTY) closeInternal(reason string) {
	p.closeOnce.Do(func() {
		_ = p.stdin.Close()
		_ = p.sess.Close()
		p.limiter.Flush()
		close(p.done)
		p.emitter.Emit(events.TypeTerminalClosed, p.sessionID, events.TerminalClosedPayload{
			Reason: reason,
		})
		if p.onClose != nil {
			p.onClose()
		}
	})
}
