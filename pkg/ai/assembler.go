package ai

import (
	"strings"
	"time"

	"github.com/darkhound-project/darkhound/pkg/events"
)

const (
	// chunkFlushInterval batches provider tokens into UI-sized chunks.
	chunkFlushInterval = 150 * time.Millisecond
	// maxResponseBytes caps the assembled response. Anything past the cap
	// is discarded.
	maxResponseBytes = 64 * 1024
)

// Reasoning states labelling streamed chunks.
const (
	StateAnalyzing  = "analyzing"
	StateConcluding = "concluding"
	StateGenerating = "generating"
)

var concludingMarkers = []string{
	"## Remediation",
	"Remediation Summary",
	"## Findings",
	"## Risk Assessment",
	"## Key Findings",
	"in conclusion",
	"to summarize",
	"based on the evidence",
}

var generatingMarkers = []string{
	"```json",
	`"findings"`,
}

// Emitter publishes pipeline events. Implemented by events.Emitter.
type Emitter interface {
	Emit(eventType, sessionID string, payload any)
}

// Assembler accumulates a provider's token stream, re-emitting batched
// ai.reasoning_chunk events and tracking the reasoning state. Not safe
// for concurrent use; one assembler serves one stream.
type Assembler struct {
	sessionID string
	huntID    string
	emitter   Emitter

	full      strings.Builder
	pending   strings.Builder
	lastFlush time.Time
	state     string
	truncated bool

	now func() time.Time
}

// NewAssembler creates an assembler for one analysis stream.
func NewAssembler(sessionID, huntID string, emitter Emitter) *Assembler {
	return &Assembler{
		sessionID: sessionID,
		huntID:    huntID,
		emitter:   emitter,
		state:     StateAnalyzing,
		now:       time.Now,
	}
}

// State returns the current reasoning state.
func (a *Assembler) State() string {
	return a.state
}

// Truncated reports whether the response hit the size cap.
func (a *Assembler) Truncated() bool {
	return a.truncated
}

// Feed appends a token. Pending text is flushed as a chunk event once the
// batch interval has elapsed.
func (a *Assembler) Feed(token string) {
	if token == "" {
		return
	}
	if a.full.Len() >= maxResponseBytes {
		a.truncated = true
		return
	}
	if a.full.Len()+len(token) > maxResponseBytes {
		token = token[:maxResponseBytes-a.full.Len()]
		a.truncated = true
	}

	a.full.WriteString(token)
	a.pending.WriteString(token)
	a.updateState()

	if a.lastFlush.IsZero() {
		a.lastFlush = a.now()
		return
	}
	if a.now().Sub(a.lastFlush) >= chunkFlushInterval {
		a.flush()
	}
}

// Finish flushes the residual buffer and returns the assembled text.
func (a *Assembler) Finish() string {
	a.flush()
	return a.full.String()
}

func (a *Assembler) flush() {
	if a.pending.Len() == 0 {
		return
	}
	chunk := a.pending.String()
	a.pending.Reset()
	a.lastFlush = a.now()
	a.emitter.Emit(events.TypeAIReasoningChunk, a.sessionID, events.AIReasoningChunkPayload{
		HuntID: a.huntID,
		Chunk:  chunk,
		State:  a.state,
	})
}

// updateState walks analyzing → concluding → generating, forward only.
func (a *Assembler) updateState() {
	if a.state == StateGenerating {
		return
	}
	text := a.full.String()
	for _, marker := range generatingMarkers {
		if strings.Contains(text, marker) {
			a.state = StateGenerating
			return
		}
	}
	if a.state != StateAnalyzing {
		return
	}
	for _, marker := range concludingMarkers {
		if strings.Contains(text, marker) {
			a.state = StateConcluding
			return
		}
	}
}
