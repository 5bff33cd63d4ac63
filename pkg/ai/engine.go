package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/darkhound-project/darkhound/pkg/events"
	"github.com/darkhound-project/darkhound/pkg/intel"
	"github.com/darkhound-project/darkhound/pkg/models"
	"github.com/darkhound-project/darkhound/pkg/session"
)

const summaryLimit = 500

// HuntStore persists the assembled report text. Implemented by
// services.HuntService.
type HuntStore interface {
	SaveReport(ctx context.Context, id, report string) error
}

// FindingStore deduplicates and persists findings. Implemented by
// services.FindingService.
type FindingStore interface {
	Upsert(ctx context.Context, f *models.Finding) (*models.Finding, bool, error)
}

// TimelineStore records audit entries. Implemented by
// services.TimelineService.
type TimelineStore interface {
	Append(ctx context.Context, assetID, sessionID, analystID, eventType string, payload any) (*models.TimelineEvent, error)
}

// Enricher looks up a finding's IOCs against external intelligence.
// Calls are fire-and-forget; implementations must not panic.
type Enricher interface {
	EnrichFinding(ctx context.Context, sessionID, findingID string, indicators []models.Indicator)
}

// Engine runs the streaming analysis pipeline for one hunt: prompt the
// provider, re-emit batched reasoning chunks, persist the report,
// extract findings, and store them with their intel artefacts.
type Engine struct {
	provider Provider
	emitter  Emitter
	hunts    HuntStore
	findings FindingStore
	timeline TimelineStore
	enricher Enricher
	logger   *slog.Logger
}

// NewEngine wires the analysis pipeline. enricher may be nil when no
// enrichment providers are configured.
func NewEngine(provider Provider, emitter Emitter, hunts HuntStore, findings FindingStore, timeline TimelineStore, enricher Enricher) *Engine {
	return &Engine{
		provider: provider,
		emitter:  emitter,
		hunts:    hunts,
		findings: findings,
		timeline: timeline,
		enricher: enricher,
		logger:   slog.Default().With("component", "ai_engine"),
	}
}

// Analyze streams an analysis of the hunt's observations and persists
// the findings it yields. Analyses on the same session are serialised.
// Returns the number of findings persisted.
func (e *Engine) Analyze(ctx context.Context, sc *session.Context, hunt *models.HuntExecution, module *models.HuntModule, observations []models.Observation) (int, error) {
	sc.AIMu.Lock()
	defer sc.AIMu.Unlock()

	sessionID := hunt.SessionID
	e.emitter.Emit(events.TypeAIReasoningStarted, sessionID, events.AIReasoningStartedPayload{
		HuntID:         hunt.ID,
		ContextSummary: fmt.Sprintf("Analyzing %d observations from %s", len(observations), module.Name),
	})

	assembler := NewAssembler(sessionID, hunt.ID, e.emitter)
	streamErr := e.provider.Stream(ctx, SystemPrompt(), BuildUserPrompt(module, observations), assembler.Feed)
	text := assembler.Finish()

	if streamErr != nil {
		e.emitter.Emit(events.TypeAIError, sessionID, events.AIErrorPayload{
			Error:     streamErr.Error(),
			Retryable: IsRetryable(streamErr),
		})
		return 0, fmt.Errorf("%s stream failed: %w", e.provider.Name(), streamErr)
	}
	if assembler.Truncated() {
		e.logger.Warn("response hit size cap, tail discarded", "hunt_id", hunt.ID)
	}

	e.emitter.Emit(events.TypeAIReasoningCompleted, sessionID, events.AIReasoningCompletedPayload{
		HuntID:  hunt.ID,
		Summary: clip(text, summaryLimit),
	})

	// Saved on its own so a later failure cannot take the report with it.
	if err := e.hunts.SaveReport(ctx, hunt.ID, text); err != nil {
		e.logger.Warn("failed to persist report text", "hunt_id", hunt.ID, "error", err)
	}

	result, err := ExtractResult(text)
	if err != nil {
		e.emitter.Emit(events.TypeAIError, sessionID, events.AIErrorPayload{
			Error:     err.Error(),
			Retryable: false,
		})
		return 0, err
	}

	count := 0
	for i := range result.Findings {
		if id := e.persistFinding(ctx, sc, hunt, &result.Findings[i]); id != "" {
			count++
		}
	}
	e.logger.Info("analysis complete", "hunt_id", hunt.ID, "findings", count)
	return count, nil
}

// persistFinding builds the intel artefacts for one finding, upserts it,
// and kicks off enrichment. Returns the stored finding id, or empty on
// failure; a failed finding never aborts its siblings.
func (e *Engine) persistFinding(ctx context.Context, sc *session.Context, hunt *models.HuntExecution, af *models.AIFinding) string {
	sessionID := hunt.SessionID
	assetID := sc.Session.AssetID
	severity := models.ParseSeverity(strings.ToLower(strings.TrimSpace(af.Severity)))
	confidence := NormalizeConfidence(af.Confidence, severity)

	var stixBundle []byte
	bundle, bundleID, err := intel.BuildBundle(af, severity, confidence)
	if err != nil {
		e.logger.Warn("stix bundle generation failed", "hunt_id", hunt.ID, "title", af.Title, "error", err)
	} else {
		stixBundle = bundle
		e.emitter.Emit(events.TypeAIStixGenerated, sessionID, events.AIStixGeneratedPayload{BundleID: bundleID})
	}

	remediation := intel.StructureRemediation(af, severity)
	remediationRaw, err := json.Marshal(remediation)
	if err != nil {
		e.logger.Warn("remediation marshal failed", "hunt_id", hunt.ID, "error", err)
		remediationRaw = nil
	}
	e.emitter.Emit(events.TypeAIRemediationReady, sessionID, events.AIRemediationReadyPayload{
		GuidanceSummary: remediation.Summary(),
	})

	stored, created, err := e.findings.Upsert(ctx, &models.Finding{
		SessionID:       sessionID,
		AssetID:         assetID,
		HuntExecutionID: hunt.ID,
		Title:           af.Title,
		Severity:        severity,
		Confidence:      confidence,
		ContentHash:     intel.ContentHash(assetID, af.Title, intel.PrimaryTechnique(af.TechniqueIDs)),
		StixBundle:      stixBundle,
		Remediation:     remediationRaw,
	})
	if err != nil {
		e.logger.Warn("failed to persist finding", "hunt_id", hunt.ID, "title", af.Title, "error", err)
		return ""
	}
	if !created {
		e.logger.Debug("finding deduplicated", "finding_id", stored.ID, "sightings", stored.SightingCount)
	}

	e.emitter.Emit(events.TypeAIFindingGenerated, sessionID, events.AIFindingGeneratedPayload{
		HuntID:    hunt.ID,
		FindingID: stored.ID,
		Severity:  string(severity),
		Title:     af.Title,
	})
	if _, err := e.timeline.Append(ctx, assetID, sessionID, sc.Session.AnalystID, "finding.generated", map[string]any{
		"finding_id": stored.ID,
		"title":      af.Title,
		"severity":   string(severity),
	}); err != nil {
		e.logger.Warn("timeline record failed", "finding_id", stored.ID, "error", err)
	}

	if e.enricher != nil && len(af.Indicators) > 0 {
		indicators := af.Indicators
		go e.enricher.EnrichFinding(context.WithoutCancel(ctx), sessionID, stored.ID, indicators)
	}
	return stored.ID
}
