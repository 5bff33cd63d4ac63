package hunt

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/darkhound-project/darkhound/pkg/events"
	"github.com/darkhound-project/darkhound/pkg/models"
	"github.com/darkhound-project/darkhound/pkg/security"
	"github.com/darkhound-project/darkhound/pkg/session"
	"github.com/darkhound-project/darkhound/pkg/sshx"
)

const (
	maxStdoutBytes = 32 * 1024
	maxStderrBytes = 8 * 1024
)

// Emitter publishes hunt events. Implemented by events.Emitter.
type Emitter interface {
	Emit(eventType, sessionID string, payload any)
}

// Store is the persistence surface for hunt executions. Implemented by
// services.HuntService.
type Store interface {
	Create(ctx context.Context, sessionID, moduleID string) (*models.HuntExecution, error)
	UpdateState(ctx context.Context, id string, state models.HuntState) error
	SaveObservations(ctx context.Context, id string, observations []models.Observation) error
}

// TimelineStore appends audit entries. Implemented by services.TimelineService.
type TimelineStore interface {
	Append(ctx context.Context, assetID, sessionID, analystID, eventType string, payload any) (*models.TimelineEvent, error)
}

// Analyzer runs the AI pipeline over a finished hunt's observations and
// returns the number of findings persisted. Implemented by ai.Engine.
type Analyzer interface {
	Analyze(ctx context.Context, sc *session.Context, hunt *models.HuntExecution, module *models.HuntModule, observations []models.Observation) (int, error)
}

type runState struct {
	cancel context.CancelFunc

	mu        sync.Mutex
	cancelled bool
}

func (r *runState) markCancelled() {
	r.mu.Lock()
	r.cancelled = true
	r.mu.Unlock()
	r.cancel()
}

func (r *runState) isCancelled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancelled
}

// Orchestrator drives hunt executions: step iteration, observation
// aggregation, cancellation at step boundaries, and the AI hand-off.
type Orchestrator struct {
	registry *Registry
	sessions *session.Manager
	store    Store
	timeline TimelineStore
	executor *sshx.Executor
	emitter  Emitter
	analyzer Analyzer

	mu      sync.Mutex
	running map[string]*runState
}

// NewOrchestrator wires the orchestrator. analyzer may be nil when no AI
// provider is configured; hunts then complete without analysis.
func NewOrchestrator(registry *Registry, sessions *session.Manager, store Store, timeline TimelineStore, executor *sshx.Executor, emitter Emitter, analyzer Analyzer) *Orchestrator {
	return &Orchestrator{
		registry: registry,
		sessions: sessions,
		store:    store,
		timeline: timeline,
		executor: executor,
		emitter:  emitter,
		analyzer: analyzer,
		running:  make(map[string]*runState),
	}
}

// Start validates the session and module, creates a PENDING execution,
// and spawns the background run. Returns the new hunt id immediately.
func (o *Orchestrator) Start(ctx context.Context, sessionID, moduleID string, runAI bool) (string, error) {
	sc, err := o.sessions.Get(sessionID)
	if err != nil {
		return "", err
	}
	module, ok := o.registry.Get(moduleID)
	if !ok {
		return "", fmt.Errorf("unknown hunt module: %s", moduleID)
	}

	h, err := o.store.Create(ctx, sessionID, moduleID)
	if err != nil {
		return "", err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	state := &runState{cancel: cancel}
	o.mu.Lock()
	o.running[h.ID] = state
	o.mu.Unlock()

	go func() {
		defer func() {
			o.mu.Lock()
			delete(o.running, h.ID)
			o.mu.Unlock()
			cancel()
		}()
		o.run(runCtx, state, sc, h, module, runAI)
	}()

	return h.ID, nil
}

// Cancel flags a running hunt. The run notices at the next step boundary.
func (o *Orchestrator) Cancel(huntID string) bool {
	o.mu.Lock()
	state, ok := o.running[huntID]
	o.mu.Unlock()
	if !ok {
		return false
	}
	state.markCancelled()
	return true
}

func (o *Orchestrator) run(ctx context.Context, state *runState, sc *session.Context, h *models.HuntExecution, module *models.HuntModule, runAI bool) {
	sessionID := sc.Session.ID
	assetID := sc.Session.AssetID
	analystID := sc.Session.AnalystID

	fail := func(err error) {
		slog.Error("Hunt failed",
			"hunt_id", h.ID, "module_id", module.ID, "error", err)
		if uerr := o.store.UpdateState(context.Background(), h.ID, models.HuntFailed); uerr != nil {
			slog.Error("Failed to persist hunt failure", "hunt_id", h.ID, "error", uerr)
		}
		o.emitter.Emit(events.TypeHuntFailed, sessionID, events.HuntFailedPayload{
			HuntID: h.ID,
			Error:  err.Error(),
		})
		o.appendTimeline(assetID, sessionID, analystID, "hunt.failed", map[string]string{
			"hunt_id": h.ID, "module_id": module.ID, "error": err.Error(),
		})
	}

	engine, ok := sc.GetShell().(*sshx.Engine)
	if !ok || engine == nil {
		fail(fmt.Errorf("session %s has no live connection", sessionID))
		return
	}

	if err := o.store.UpdateState(ctx, h.ID, models.HuntRunning); err != nil {
		fail(err)
		return
	}
	o.emitter.Emit(events.TypeHuntStarted, sessionID, events.HuntStartedPayload{
		HuntID:   h.ID,
		ModuleID: module.ID,
	})
	o.appendTimeline(assetID, sessionID, analystID, "hunt.started", map[string]string{
		"hunt_id": h.ID, "module_id": module.ID,
	})

	// Snapshot credentials up front: a mid-hunt reconnect with rotated
	// credentials must not change sudo behaviour between steps.
	creds := engine.Credentials()
	policy := security.SudoPolicy{Method: creds.SudoMethod}

	var observations []models.Observation
	for _, step := range module.Steps {
		if state.isCancelled() {
			o.finishCancelled(sc, h, observations)
			return
		}

		command := policy.WrapCommand(step.Command, step.RequiresSudo)
		sudoPassword := ""
		if policy.NeedsPassword(step.RequiresSudo) {
			sudoPassword = creds.SudoPassword
		}

		o.emitter.Emit(events.TypeHuntStepStarted, sessionID, events.HuntStepStartedPayload{
			HuntID:      h.ID,
			StepID:      step.ID,
			Description: step.Description,
		})

		obs := models.Observation{StepID: step.ID, Command: command}
		timeout := time.Duration(step.Timeout) * time.Second
		// Steps are author-trusted: SUSPECT verdicts run without approval.
		result, err := o.executor.Execute(ctx, sc, engine, command, timeout, sudoPassword, true)
		if err != nil {
			if ctx.Err() != nil {
				o.finishCancelled(sc, h, observations)
				return
			}
			obs.Error = err.Error()
			obs.ExitCode = -1
		} else {
			obs.Stdout, obs.Truncated = truncate(result.Stdout, maxStdoutBytes)
			var stderrClipped bool
			obs.Stderr, stderrClipped = truncate(result.Stderr, maxStderrBytes)
			obs.Truncated = obs.Truncated || stderrClipped
			obs.ExitCode = result.ExitCode
		}
		observations = append(observations, obs)

		o.emitter.Emit(events.TypeHuntObservation, sessionID, events.HuntObservationPayload{
			HuntID:        h.ID,
			ObservationID: step.ID,
			Data:          obs,
		})
		o.emitter.Emit(events.TypeHuntStepCompleted, sessionID, events.HuntStepCompletedPayload{
			HuntID: h.ID,
			StepID: step.ID,
		})
	}

	if err := o.store.SaveObservations(context.Background(), h.ID, observations); err != nil {
		fail(err)
		return
	}

	findings := 0
	if runAI && o.analyzer != nil {
		n, err := o.analyzer.Analyze(ctx, sc, h, module, observations)
		if err != nil {
			// AI failure never fails the hunt.
			slog.Error("AI analysis failed",
				"hunt_id", h.ID, "session_id", sessionID, "error", err)
		} else {
			findings = n
		}
	}

	if err := o.store.UpdateState(context.Background(), h.ID, models.HuntCompleted); err != nil {
		fail(err)
		return
	}
	o.emitter.Emit(events.TypeHuntCompleted, sessionID, events.HuntCompletedPayload{
		HuntID:        h.ID,
		FindingsCount: findings,
	})
	o.appendTimeline(assetID, sessionID, analystID, "hunt.completed", map[string]any{
		"hunt_id": h.ID, "module_id": module.ID, "findings_count": findings,
	})
	slog.Info("Hunt completed",
		"hunt_id", h.ID, "module_id", module.ID, "steps", len(observations), "findings", findings)
}

func (o *Orchestrator) finishCancelled(sc *session.Context, h *models.HuntExecution, observations []models.Observation) {
	ctx := context.Background()
	if err := o.store.SaveObservations(ctx, h.ID, observations); err != nil {
		slog.Error("Failed to save observations for cancelled hunt", "hunt_id", h.ID, "error", err)
	}
	if err := o.store.UpdateState(ctx, h.ID, models.HuntCancelled); err != nil {
		slog.Error("Failed to persist hunt cancellation", "hunt_id", h.ID, "error", err)
	}
	o.emitter.Emit(events.TypeHuntCancelled, sc.Session.ID, events.HuntCancelledPayload{
		HuntID: h.ID,
	})
	slog.Info("Hunt cancelled", "hunt_id", h.ID, "steps_done", len(observations))
}

func (o *Orchestrator) appendTimeline(assetID, sessionID, analystID, eventType string, payload any) {
	if _, err := o.timeline.Append(context.Background(), assetID, sessionID, analystID, eventType, payload); err != nil {
		slog.Warn("Failed to append timeline event",
			"asset_id", assetID, "event_type", eventType, "error", err)
	}
}

// truncate clips s to max bytes, reporting whether clipping happened.
func truncate(s string, max int) (string, bool) {
	if len(s) <= max {
		return s, false
	}
	return s[:max], true
}
