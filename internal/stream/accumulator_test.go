package stream

import (
	"sync"
	"testing"
	"time"
)

// commitRecorder collects commits in order, safely across goroutines.
type commitRecorder struct {
	mu      sync.Mutex
	commits []string
}

func (r *commitRecorder) record(full string) {
	r.mu.Lock()
	r.commits = append(r.commits, full)
	r.mu.Unlock()
}

func (r *commitRecorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.commits...)
}

func TestAccumulatorFlushDeliversEverything(t *testing.T) {
	rec := &commitRecorder{}
	// Long interval so no scheduled commit can fire before Flush.
	acc := NewAccumulator(time.Hour, rec.record)

	acc.Append("Hel")
	acc.Append("lo wor")
	acc.Append("ld")

	final := acc.Flush()
	if final != "Hello world" {
		t.Fatalf("Flush() = %q, want %q", final, "Hello world")
	}

	commits := rec.all()
	if len(commits) != 1 || commits[0] != "Hello world" {
		t.Fatalf("commits = %v, want exactly one full commit", commits)
	}
}

func TestAccumulatorThrottlesCommits(t *testing.T) {
	rec := &commitRecorder{}
	acc := NewAccumulator(30*time.Millisecond, rec.record)

	// Many rapid deltas within one interval produce at most one scheduled
	// commit carrying the full text so far.
	for range 50 {
		acc.Append("x")
	}

	time.Sleep(80 * time.Millisecond)

	commits := rec.all()
	if len(commits) != 1 {
		t.Fatalf("got %d scheduled commits, want 1", len(commits))
	}
	if commits[0] != acc.String() {
		t.Errorf("commit %q does not match buffer %q", commits[0], acc.String())
	}
}

func TestAccumulatorCommitsArePrefixes(t *testing.T) {
	rec := &commitRecorder{}
	acc := NewAccumulator(5*time.Millisecond, rec.record)

	words := []string{"alpha ", "beta ", "gamma ", "delta ", "epsilon"}
	for _, w := range words {
		acc.Append(w)
		time.Sleep(12 * time.Millisecond)
	}
	final := acc.Flush()

	commits := rec.all()
	prev := ""
	for i, c := range commits {
		if len(c) < len(prev) || c[:len(prev)] != prev {
			t.Fatalf("commit %d %q is not an extension of %q", i, c, prev)
		}
		prev = c
	}
	if final != "alpha beta gamma delta epsilon" {
		t.Errorf("final = %q", final)
	}
}

func TestAccumulatorFlushIdempotent(t *testing.T) {
	rec := &commitRecorder{}
	acc := NewAccumulator(time.Hour, rec.record)

	acc.Append("once")
	first := acc.Flush()
	second := acc.Flush()

	if first != "once" || second != "once" {
		t.Fatalf("Flush() = %q, %q, want %q twice", first, second, "once")
	}
	if got := len(rec.all()); got != 1 {
		t.Fatalf("got %d commits, want 1", got)
	}

	// Appends after Flush are ignored.
	acc.Append(" more")
	if acc.String() != "once" {
		t.Errorf("buffer grew after flush: %q", acc.String())
	}
}

func TestAccumulatorConcurrentAppends(t *testing.T) {
	rec := &commitRecorder{}
	acc := NewAccumulator(time.Millisecond, rec.record)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				acc.Append("a")
			}
		}()
	}
	wg.Wait()

	final := acc.Flush()
	if len(final) != 800 {
		t.Fatalf("final length = %d, want 800", len(final))
	}
}
