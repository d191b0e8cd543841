// Package stream holds the per-turn streaming primitives: the throttled text
// accumulator, the stall monitor, and the Session object that owns every
// timer, subscription and cancel func opened for one send.
//
// Thread safety: all types here are safe for concurrent use. Deltas arrive
// from the stream read goroutine while commits, stall checks and disposal can
// fire from timer goroutines.
package stream

import (
	"strings"
	"sync"
	"time"
)

// DefaultCommitInterval bounds how often accumulated text is pushed to the
// observer. Per-delta pushes saturate the render loop under rapid token
// arrival; batching trades a little latency for throughput without losing
// data, because the buffer (not the schedule) is authoritative.
const DefaultCommitInterval = 100 * time.Millisecond

// Accumulator buffers incoming text deltas and commits the full accumulated
// text to an observer at a bounded rate.
//
// Invariants:
//   - Append always updates the authoritative buffer immediately.
//   - Committed text is a prefix of any later committed text until Flush.
//   - Flush cancels any pending scheduled commit and performs one final
//     synchronous commit; no scheduled commit is ever silently lost.
type Accumulator struct {
	mu       sync.Mutex
	buf      strings.Builder
	interval time.Duration
	commit   func(full string)
	timer    *time.Timer // pending scheduled commit, nil when none
	flushed  bool
}

// NewAccumulator creates an accumulator committing through the given func.
// A zero interval selects DefaultCommitInterval. The commit func is invoked
// from timer goroutines and from the Flush caller; it must be safe for that.
func NewAccumulator(interval time.Duration, commit func(full string)) *Accumulator {
	if interval <= 0 {
		interval = DefaultCommitInterval
	}
	return &Accumulator{interval: interval, commit: commit}
}

// Append adds a delta to the authoritative buffer and schedules a commit if
// none is pending. O(1) amortized; never blocks on the observer.
func (a *Accumulator) Append(delta string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.flushed {
		return
	}
	a.buf.WriteString(delta)
	if a.timer == nil {
		a.timer = time.AfterFunc(a.interval, a.fire)
	}
}

// fire delivers a scheduled commit.
func (a *Accumulator) fire() {
	a.mu.Lock()
	if a.flushed {
		a.mu.Unlock()
		return
	}
	a.timer = nil
	full := a.buf.String()
	a.mu.Unlock()

	// Commit outside the lock: the observer may call back into UI state.
	a.commit(full)
}

// Flush cancels any pending scheduled commit, commits the complete buffer
// synchronously and returns it. Further Appends are ignored. Idempotent.
func (a *Accumulator) Flush() string {
	a.mu.Lock()
	if a.flushed {
		full := a.buf.String()
		a.mu.Unlock()
		return full
	}
	a.flushed = true
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	full := a.buf.String()
	a.mu.Unlock()

	a.commit(full)
	return full
}

// Len returns the authoritative buffer length in bytes.
func (a *Accumulator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.buf.Len()
}

// String returns the current authoritative buffer content.
func (a *Accumulator) String() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.buf.String()
}
