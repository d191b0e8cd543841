package stream

import (
	"sync"
	"time"

	"github.com/parley0/parley/internal/log"
)

// Stall monitor defaults. The monitor is advisory: it flags silence on the
// stream for diagnostics but never cancels anything itself.
const (
	DefaultStallPoll      = 5 * time.Second
	DefaultStallThreshold = 10 * time.Second
)

// StallMonitor watches the wall-clock gap since the most recent delta and
// reports when it exceeds a threshold. Stop must be called on every exit path
// of the owning turn; it is idempotent.
type StallMonitor struct {
	poll      time.Duration
	threshold time.Duration
	logger    log.Logger
	onStall   func(silence time.Duration)

	mu   sync.Mutex
	last time.Time

	stopOnce sync.Once
	done     chan struct{}
}

// NewStallMonitor creates a monitor. onStall may be nil, in which case stalls
// are only logged. Zero durations select the defaults.
func NewStallMonitor(poll, threshold time.Duration, logger log.Logger, onStall func(time.Duration)) *StallMonitor {
	if poll <= 0 {
		poll = DefaultStallPoll
	}
	if threshold <= 0 {
		threshold = DefaultStallThreshold
	}
	return &StallMonitor{
		poll:      poll,
		threshold: threshold,
		logger:    logger,
		onStall:   onStall,
		last:      time.Now(),
		done:      make(chan struct{}),
	}
}

// Start launches the polling goroutine. The goroutine exits on Stop.
func (m *StallMonitor) Start() {
	go func() {
		ticker := time.NewTicker(m.poll)
		defer ticker.Stop()
		for {
			select {
			case <-m.done:
				return
			case <-ticker.C:
				m.check()
			}
		}
	}()
}

// Touch records delta arrival.
func (m *StallMonitor) Touch() {
	m.mu.Lock()
	m.last = time.Now()
	m.mu.Unlock()
}

// Stop halts the monitor. Safe to call multiple times and from any goroutine.
func (m *StallMonitor) Stop() {
	m.stopOnce.Do(func() { close(m.done) })
}

func (m *StallMonitor) check() {
	m.mu.Lock()
	silence := time.Since(m.last)
	m.mu.Unlock()

	if silence < m.threshold {
		return
	}
	m.logger.Warn("stream stalled", "silence", silence, "threshold", m.threshold)
	if m.onStall != nil {
		m.onStall(silence)
	}
}
