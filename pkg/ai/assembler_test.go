package ai

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/darkhound-project/darkhound/pkg/events"
)

type capturedEvent struct {
	eventType string
	sessionID string
	payload   any
}

type captureEmitter struct {
	mu     sync.Mutex
	events []capturedEvent
}

func (c *captureEmitter) Emit(eventType, sessionID string, payload any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, capturedEvent{eventType, sessionID, payload})
}

func (c *captureEmitter) byType(eventType string) []capturedEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []capturedEvent
	for _, ev := range c.events {
		if ev.eventType == eventType {
			out = append(out, ev)
		}
	}
	return out
}

// fakeClock drives the assembler's batching without real sleeps.
type fakeClock struct {
	now time.Time
}

func (f *fakeClock) advance(d time.Duration) {
	f.now = f.now.Add(d)
}

func newTestAssembler(emitter Emitter) (*Assembler, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	a := NewAssembler("sess-1", "hunt-1", emitter)
	a.now = func() time.Time { return clock.now }
	return a, clock
}

func TestAssemblerBatchesChunks(t *testing.T) {
	emitter := &captureEmitter{}
	a, clock := newTestAssembler(emitter)

	a.Feed("The host ")
	a.Feed("shows signs ")
	assert.Empty(t, emitter.byType(events.TypeAIReasoningChunk), "no flush before interval")

	clock.advance(chunkFlushInterval)
	a.Feed("of compromise.")

	chunks := emitter.byType(events.TypeAIReasoningChunk)
	require.Len(t, chunks, 1)
	payload := chunks[0].payload.(events.AIReasoningChunkPayload)
	assert.Equal(t, "The host shows signs of compromise.", payload.Chunk)
	assert.Equal(t, "hunt-1", payload.HuntID)
	assert.Equal(t, StateAnalyzing, payload.State)
	assert.Equal(t, "sess-1", chunks[0].sessionID)
}

func TestAssemblerFinishFlushesResidual(t *testing.T) {
	emitter := &captureEmitter{}
	a, _ := newTestAssembler(emitter)

	a.Feed("tail text")
	full := a.Finish()

	assert.Equal(t, "tail text", full)
	chunks := emitter.byType(events.TypeAIReasoningChunk)
	require.Len(t, chunks, 1)
	assert.Equal(t, "tail text", chunks[0].payload.(events.AIReasoningChunkPayload).Chunk)
}

func TestAssemblerStateTransitions(t *testing.T) {
	a, _ := newTestAssembler(&captureEmitter{})
	assert.Equal(t, StateAnalyzing, a.State())

	a.Feed("Looking at the process list.\n")
	assert.Equal(t, StateAnalyzing, a.State())

	a.Feed("## Risk Assessment\n")
	assert.Equal(t, StateConcluding, a.State())

	a.Feed("```json\n")
	assert.Equal(t, StateGenerating, a.State())

	// Forward only: later concluding markers do not regress the state.
	a.Feed("in conclusion ")
	assert.Equal(t, StateGenerating, a.State())
}

func TestAssemblerStateSkipsToGenerating(t *testing.T) {
	a, _ := newTestAssembler(&captureEmitter{})
	a.Feed(`"findings"`)
	assert.Equal(t, StateGenerating, a.State())
}

func TestAssemblerSizeCap(t *testing.T) {
	a, _ := newTestAssembler(&captureEmitter{})

	block := strings.Repeat("x", 10*1024)
	for i := 0; i < 8; i++ {
		a.Feed(block)
	}
	assert.True(t, a.Truncated())

	full := a.Finish()
	assert.Len(t, full, maxResponseBytes)

	// Further tokens are discarded outright.
	a.Feed("more")
	assert.Len(t, a.full.String(), maxResponseBytes)
}
