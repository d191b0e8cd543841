package orchestrator

import (
	"context"
	"sync"

	"github.com/parley0/parley/internal/store"
)

// guard is the per-orchestrator send/session state machine:
// idle -> sending -> idle. "sending" is a single-flight lock; a second
// acquire is rejected outright rather than queued. The guard also pins the
// conversation/agent pair a send is bound to, so a send can never target a
// conversation the user has navigated away from.
type guard struct {
	mu      sync.Mutex
	sending bool
	conv    *store.Conversation
	agent   string
}

// bind records the active conversation and agent selection.
func (g *guard) bind(conv *store.Conversation, agentSlug string) {
	g.mu.Lock()
	g.conv = conv
	g.agent = agentSlug
	g.mu.Unlock()
}

// conversation returns the bound conversation, or nil.
func (g *guard) conversation() *store.Conversation {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.conv
}

// acquire validates the send and takes the single-flight lock. On success the
// caller owns the lock and must call release on every exit path.
func (g *guard) acquire(ctx context.Context, o *Orchestrator, agentSlug string) (*store.Conversation, error) {
	g.mu.Lock()
	if g.sending {
		g.mu.Unlock()
		return nil, ErrSendInProgress
	}
	conv := g.conv
	bound := g.agent
	// Take the lock before any await: resolution below must not admit a
	// concurrent send.
	g.sending = true
	g.mu.Unlock()

	// Lazily resolve the conversation on first send.
	if conv == nil {
		resolved, err := o.store.EnsureConversation(ctx, o.cfg.UserID, agentSlug)
		if err != nil {
			g.release()
			return nil, err
		}
		g.bind(resolved, agentSlug)
		conv = resolved
		bound = agentSlug
	}

	// The conversation must still belong to the agent the user has selected.
	if bound != agentSlug || conv.AgentSlug != agentSlug {
		g.release()
		return nil, ErrAgentMismatch
	}
	return conv, nil
}

// release returns the guard to idle. Idempotent within one turn because the
// orchestrator calls it exactly once via defer.
func (g *guard) release() {
	g.mu.Lock()
	g.sending = false
	g.mu.Unlock()
}

// isSending reports the current state; used by tests.
func (g *guard) isSending() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.sending
}
