package sshx

import (
	"bytes"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flushRecorder struct {
	mu      sync.Mutex
	flushes [][]byte
}

func (f *flushRecorder) record(data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushes = append(f.flushes, append([]byte(nil), data...))
}

func (f *flushRecorder) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.flushes)
}

func (f *flushRecorder) joined() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return bytes.Join(f.flushes, nil)
}

func TestRateLimiter_CoalescesBurst(t *testing.T) {
	rec := &flushRecorder{}
	rl := newRateLimiter(rec.record)

	// A burst of 1000 single-byte writes inside the coalesce window.
	var want []byte
	for i := 0; i < 1000; i++ {
		b := []byte(strconv.Itoa(i % 10))
		rl.Write(b)
		want = append(want, b...)
	}

	// Wait out the coalesce interval plus slack.
	time.Sleep(coalesceInterval + 50*time.Millisecond)

	// One flush, all bytes, original order.
	assert.Equal(t, 1, rec.count())
	assert.Equal(t, want, rec.joined())
}

func TestRateLimiter_SizeCapForcesFlush(t *testing.T) {
	rec := &flushRecorder{}
	rl := newRateLimiter(rec.record)

	big := bytes.Repeat([]byte("x"), coalesceMaxBytes)
	rl.Write(big)

	// Immediate flush, no timer wait needed.
	require.Equal(t, 1, rec.count())
	assert.Equal(t, big, rec.joined())
}

func TestRateLimiter_FlushEmitsResidual(t *testing.T) {
	rec := &flushRecorder{}
	rl := newRateLimiter(rec.record)

	rl.Write([]byte("tail"))
	rl.Flush()

	assert.Equal(t, 1, rec.count())
	assert.Equal(t, []byte("tail"), rec.joined())

	// Nothing buffered: Flush is a no-op.
	rl.Flush()
	assert.Equal(t, 1, rec.count())
}

func TestRateLimiter_PreservesOrderAcrossFlushes(t *testing.T) {
	rec := &flushRecorder{}
	rl := newRateLimiter(rec.record)

	rl.Write(bytes.Repeat([]byte("a"), coalesceMaxBytes))
	rl.Write([]byte("b"))
	rl.Flush()

	joined := rec.joined()
	assert.Len(t, joined, coalesceMaxBytes+1)
	assert.Equal(t, byte('b'), joined[len(joined)-1])
}
