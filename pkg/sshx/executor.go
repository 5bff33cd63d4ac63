package sshx

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/darkhound-project/darkhound/pkg/events"
	"github.com/darkhound-project/darkhound/pkg/models"
	"github.com/darkhound-project/darkhound/pkg/security"
	"github.com/darkhound-project/darkhound/pkg/session"
)

// outputChunkSize bounds the payload of one ssh.command_output event.
const outputChunkSize = 4 * 1024

var (
	errAlreadyOpen  = errors.New("pty already open for this connection")
	errNotConnected = errors.New("not connected")

	// ErrBlocked is terminal: the command will never run.
	ErrBlocked = errors.New("command blocked by safety policy")
	// ErrApprovalRequired is recoverable: re-submit with allow_suspect.
	ErrApprovalRequired = errors.New("command requires analyst approval")
	// ErrInteractiveMode rejects AI commands while a PTY owns the channel.
	ErrInteractiveMode = errors.New("cannot execute ai commands while session is in interactive mode")
)

// Executor gates and runs AI-mode commands on a session: classifier
// verdict first, then the session command lock, then execution with
// started/output/completed events.
type Executor struct {
	classifier *security.Classifier
	emitter    Emitter
}

// NewExecutor creates an Executor.
func NewExecutor(classifier *security.Classifier, emitter Emitter) *Executor {
	return &Executor{classifier: classifier, emitter: emitter}
}

// Execute classifies, locks, and runs one command. Sessions in
// interactive mode fail with ErrInteractiveMode: the PTY owns the channel
// and AI commands must never interleave with terminal traffic. BLOCKED
// verdicts fail terminally; SUSPECT verdicts fail with ErrApprovalRequired
// unless allowSuspect is set. Output is streamed as 4 KB
// ssh.command_output chunks, followed by exactly one ssh.command_completed.
func (x *Executor) Execute(ctx context.Context, sc *session.Context, engine *Engine, command string, timeout time.Duration, sudoPassword string, allowSuspect bool) (*CommandResult, error) {
	verdict := x.classifier.Classify(command)
	switch verdict.Class {
	case security.ClassBlocked:
		return nil, fmt.Errorf("%w: %s", ErrBlocked, verdict.Reason)
	case security.ClassSuspect:
		if !allowSuspect {
			return nil, fmt.Errorf("%w: %s", ErrApprovalRequired, verdict.Reason)
		}
	}

	// The mode lock spans the check and the command-lock acquisition so a
	// toggle to interactive cannot slip in between.
	sc.ModeMu.Lock()
	if sc.Mode() == models.ModeInteractive {
		sc.ModeMu.Unlock()
		return nil, ErrInteractiveMode
	}
	sc.CommandMu.Lock()
	sc.ModeMu.Unlock()
	defer sc.CommandMu.Unlock()

	commandID := uuid.New().String()
	sessionID := sc.Session.ID

	x.emitter.Emit(events.TypeSSHCommandStarted, sessionID, events.CommandStartedPayload{
		CommandID: commandID,
		Command:   command,
	})

	start := time.Now()
	result, err := engine.Run(ctx, command, timeout, sudoPassword)
	if err != nil {
		x.emitter.Emit(events.TypeSSHError, sessionID, events.SSHErrorPayload{
			ErrorCode: "command_failed",
			Message:   err.Error(),
		})
		return nil, err
	}

	x.emitChunks(sessionID, commandID, "stdout", result.Stdout)
	x.emitChunks(sessionID, commandID, "stderr", result.Stderr)

	x.emitter.Emit(events.TypeSSHCommandCompleted, sessionID, events.CommandCompletedPayload{
		CommandID:  commandID,
		ExitCode:   result.ExitCode,
		DurationMS: time.Since(start).Milliseconds(),
	})
	return result, nil
}

func (x *Executor) emitChunks(sessionID, commandID, stream, text string) {
	for len(text) > 0 {
		n := len(text)
		if n > outputChunkSize {
			n = outputChunkSize
		}
		x.emitter.Emit(events.TypeSSHCommandOutput, sessionID, events.CommandOutputPayload{
			CommandID: commandID,
			Chunk:     text[:n],
			Stream:    stream,
		})
		text = text[n:]
	}
}
