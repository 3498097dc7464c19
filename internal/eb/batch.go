package eb

import (
	"sync"
	"time"
)

// Batcher accumulates StreamEvents up to size or flushes after timeout,
// the batch-accumulator-with-timeout-flush re-expression of EB's
// processor discipline called for in spec.md §9.
type Batcher struct {
	size    int
	timeout time.Duration

	mu      sync.Mutex
	buf     []StreamEvent
	lastFlush time.Time
}

// NewBatcher builds a Batcher with the given size/timeout policy.
func NewBatcher(size int, timeout time.Duration) *Batcher {
	return &Batcher{size: size, timeout: timeout, lastFlush: time.Now()}
}

// Add appends e to the buffer and reports whether the batch is now ready
// to flush (full, or timeout elapsed since the last flush).
func (b *Batcher) Add(e StreamEvent) (ready []StreamEvent, shouldFlush bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, e)
	if len(b.buf) >= b.size || time.Since(b.lastFlush) >= b.timeout {
		return b.drainLocked(), true
	}
	return nil, false
}

// FlushIfDue returns the buffered events if the timeout has elapsed since
// the last flush, even if the batch isn't full, and clears the buffer.
func (b *Batcher) FlushIfDue() []StreamEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.buf) == 0 || time.Since(b.lastFlush) < b.timeout {
		return nil
	}
	return b.drainLocked()
}

func (b *Batcher) drainLocked() []StreamEvent {
	out := b.buf
	b.buf = nil
	b.lastFlush = time.Now()
	return out
}
