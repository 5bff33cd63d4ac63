package enrich

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/darkhound-project/darkhound/pkg/config"
	"github.com/darkhound-project/darkhound/pkg/events"
	"github.com/darkhound-project/darkhound/pkg/models"
)

// supportedIOCTypes are the indicator types worth an external lookup.
var supportedIOCTypes = map[string]bool{"ip": true, "domain": true, "hash": true}

// Provider resolves one IOC against one intelligence service.
type Provider interface {
	Name() string
	Lookup(ctx context.Context, iocType, iocValue string) *Result
}

// Emitter publishes pipeline events. Implemented by events.Emitter.
type Emitter interface {
	Emit(eventType, sessionID string, payload any)
}

// Orchestrator fans a finding's IOCs out to every configured provider.
// Lookups run in parallel and never block finding persistence; results
// surface only as events.
type Orchestrator struct {
	providers []Provider
	emitter   Emitter
	logger    *slog.Logger
}

// NewOrchestrator builds the orchestrator from configured API keys;
// providers without a key are absent.
func NewOrchestrator(settings *config.Settings, emitter Emitter) *Orchestrator {
	var providers []Provider
	if settings.VirusTotalAPIKey != "" {
		providers = append(providers, NewVirusTotal(settings.VirusTotalAPIKey, settings.VirusTotalURL))
	}
	if settings.ShodanAPIKey != "" {
		providers = append(providers, NewShodan(settings.ShodanAPIKey, settings.ShodanURL))
	}
	if settings.AbuseIPDBAPIKey != "" {
		providers = append(providers, NewAbuseIPDB(settings.AbuseIPDBAPIKey, settings.AbuseIPDBURL))
	}
	return newOrchestrator(providers, emitter)
}

func newOrchestrator(providers []Provider, emitter Emitter) *Orchestrator {
	return &Orchestrator{
		providers: providers,
		emitter:   emitter,
		logger:    slog.Default().With("component", "enrichment"),
	}
}

// ProviderCount reports how many providers are configured.
func (o *Orchestrator) ProviderCount() int {
	return len(o.providers)
}

// EnrichFinding looks up every supported indicator of a finding.
// Satisfies the AI engine's enricher hook.
func (o *Orchestrator) EnrichFinding(ctx context.Context, sessionID, findingID string, indicators []models.Indicator) {
	if len(o.providers) == 0 {
		o.logger.Warn("no enrichment providers configured, skipping", "finding_id", findingID)
		return
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, ioc := range indicators {
		if !supportedIOCTypes[ioc.Type] || ioc.Value == "" {
			continue
		}
		ioc := ioc
		g.Go(func() error {
			o.enrichIOC(ctx, sessionID, findingID, ioc.Type, ioc.Value)
			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck // lookups report failures via events
}

// enrichIOC runs all providers for one IOC in parallel and emits an
// applied summary when any of them produced a verdict.
func (o *Orchestrator) enrichIOC(ctx context.Context, sessionID, findingID, iocType, iocValue string) {
	var mu sync.Mutex
	var summaries []string

	var wg sync.WaitGroup
	for _, provider := range o.providers {
		wg.Add(1)
		go func(p Provider) {
			defer wg.Done()
			if result := o.lookupOne(ctx, sessionID, findingID, iocType, iocValue, p); result != nil && result.Error == "" {
				mu.Lock()
				summaries = append(summaries, result.Summary())
				mu.Unlock()
			}
		}(provider)
	}
	wg.Wait()

	if len(summaries) > 0 {
		o.emitter.Emit(events.TypeMCPEnrichmentApplied, sessionID, events.MCPEnrichmentAppliedPayload{
			FindingID:         findingID,
			EnrichmentSummary: strings.Join(summaries, "; "),
		})
	}
}

func (o *Orchestrator) lookupOne(ctx context.Context, sessionID, findingID, iocType, iocValue string, provider Provider) *Result {
	o.emitter.Emit(events.TypeMCPLookupStarted, sessionID, events.MCPLookupStartedPayload{
		FindingID: findingID,
		Provider:  provider.Name(),
		IOCType:   iocType,
		IOCValue:  iocValue,
	})

	result := provider.Lookup(ctx, iocType, iocValue)
	if result.Error != "" {
		o.logger.Warn("enrichment lookup failed",
			"provider", provider.Name(), "ioc_type", iocType, "error", result.Error)
		o.emitter.Emit(events.TypeMCPLookupFailed, sessionID, events.MCPLookupFailedPayload{
			FindingID: findingID,
			Provider:  provider.Name(),
			Error:     result.Error,
		})
		return result
	}

	o.emitter.Emit(events.TypeMCPLookupCompleted, sessionID, events.MCPLookupCompletedPayload{
		FindingID:     findingID,
		Provider:      provider.Name(),
		ResultSummary: result.Summary(),
	})
	return result
}
