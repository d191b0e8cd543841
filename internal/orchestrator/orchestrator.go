// Package orchestrator drives one streaming chat turn end to end: it opens
// the backend stream, assembles the assistant message under a throttled
// commit policy, executes local tool commands arriving mid-stream, hands off
// to push subscriptions when the backend switches to background generation,
// and recovers from dropped streams by consulting persisted state.
//
// Ownership: a turn's ephemeral state (placeholder id, buffer, timers,
// subscriptions) lives in a stream.Session owned by the send guard. Message
// list mutations are keyed by message id, never by position.
package orchestrator

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/parley0/parley/internal/backend"
	"github.com/parley0/parley/internal/log"
	"github.com/parley0/parley/internal/realtime"
	"github.com/parley0/parley/internal/store"
	"github.com/parley0/parley/internal/toolserver"
)

// Guard violations, rejected before any network call.
var (
	// ErrSendInProgress rejects a second submit while one is in flight.
	ErrSendInProgress = errors.New("a send is already in progress")
	// ErrAgentMismatch rejects a send when the conversation belongs to a
	// different agent than the one currently selected.
	ErrAgentMismatch = errors.New("conversation is bound to a different agent")
	// ErrNoConversation indicates conversation resolution failed.
	ErrNoConversation = errors.New("no conversation available")
)

// maxToolRounds caps nested silent turns triggered by tool round-trips, so a
// backend that keeps requesting tools cannot recurse forever.
const maxToolRounds = 8

// Message is the UI-facing view of one chat message.
type Message struct {
	ID       string
	Role     string
	Content  string
	Provider string
}

// LocalExecution reflects the currently running tool command. At most one is
// active per stream.
type LocalExecution struct {
	Tool      string
	Action    string
	StartedAt time.Time
}

// Sink receives observable state changes. Implemented by the UI. All methods
// may be called from stream and timer goroutines; implementations must hand
// off to their own event loop.
type Sink interface {
	// MessageAppended adds a new message to the visible list.
	MessageAppended(msg Message)
	// MessageUpdated replaces the content of the message with the given id.
	MessageUpdated(id, content string)
	// MessageCompleted finalizes a message with its provider tag.
	MessageCompleted(id, content, provider string)
	// ConversationLoaded replaces the whole visible list.
	ConversationLoaded(msgs []Message)
	// ToolStatus reports the running tool command; nil clears it.
	ToolStatus(status *LocalExecution)
	// Notice shows a transient, toast-level notification.
	Notice(text string)
	// ControlSignal delivers a consumed reserved-prefix system message.
	ControlSignal(tag string, payload []byte)
}

// Backend opens one chat stream per send.
type Backend interface {
	Send(ctx context.Context, req backend.SendRequest) (io.ReadCloser, error)
}

// BackendFunc adapts a function to the Backend interface.
type BackendFunc func(ctx context.Context, req backend.SendRequest) (io.ReadCloser, error)

// Send calls f.
func (f BackendFunc) Send(ctx context.Context, req backend.SendRequest) (io.ReadCloser, error) {
	return f(ctx, req)
}

// MessageStore is the persisted-state view the orchestrator needs: lazily
// resolved conversations plus point reads used by recovery and the heartbeat.
type MessageStore interface {
	EnsureConversation(ctx context.Context, userID, agentSlug string) (*store.Conversation, error)
	GetMessage(ctx context.Context, id uuid.UUID) (*store.Message, error)
	GetResponseTracking(ctx context.Context, messageID uuid.UUID) (*store.ResponseTracking, error)
	Messages(ctx context.Context, conversationID uuid.UUID) ([]store.Message, error)
}

// Notifier opens push subscriptions keyed by message id.
type Notifier interface {
	Subscribe(ctx context.Context, messageID string) (<-chan realtime.RowEvent, error)
}

// ToolRunner executes local tool commands.
type ToolRunner interface {
	Call(ctx context.Context, action string, params map[string]any) *toolserver.Result
	ReplayPlan(ctx context.Context, plan []toolserver.PlanStep) *toolserver.Result
	RunDesktop(ctx context.Context, task toolserver.DesktopTask) *toolserver.Result
	FetchDOMTree(ctx context.Context, params map[string]any) *toolserver.Result
	SessionID() string
}

// Config tunes turn behavior. Zero values select the documented defaults.
type Config struct {
	// UserID identifies the client for conversation resolution.
	UserID string
	// CommitInterval throttles UI commits (default 100ms).
	CommitInterval time.Duration
	// StallPoll / StallThreshold tune the advisory stall monitor.
	StallPoll      time.Duration
	StallThreshold time.Duration
	// HeartbeatInterval is the background-handoff reconciliation poll
	// spacing (default 10s).
	HeartbeatInterval time.Duration
	// HandoffTTL bounds the whole background handoff (default 10m).
	HandoffTTL time.Duration
	// CreditErrorSubstring identifies the provider's out-of-credit error.
	CreditErrorSubstring string
}

func (c *Config) applyDefaults() {
	if c.CommitInterval <= 0 {
		c.CommitInterval = 100 * time.Millisecond
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 10 * time.Second
	}
	if c.HandoffTTL <= 0 {
		c.HandoffTTL = 10 * time.Minute
	}
	if c.CreditErrorSubstring == "" {
		c.CreditErrorSubstring = "insufficient credit"
	}
}

// Orchestrator coordinates sends for one user across agent conversations.
type Orchestrator struct {
	backend  Backend
	store    MessageStore
	notifier Notifier
	tools    ToolRunner
	sink     Sink
	cfg      Config
	logger   log.Logger

	guard guard

	// handoffs tracks detached background handoffs, which outlive the turns
	// that spawned them.
	handoffs sync.WaitGroup
}

// New creates an orchestrator. All dependencies are required except notifier
// and tools, which may be nil when the deployment has no push channel or no
// tool server; the corresponding features then degrade gracefully.
func New(b Backend, st MessageStore, notifier Notifier, tools ToolRunner, sink Sink, cfg Config, logger log.Logger) *Orchestrator {
	cfg.applyDefaults()
	return &Orchestrator{
		backend:  b,
		store:    st,
		notifier: notifier,
		tools:    tools,
		sink:     sink,
		cfg:      cfg,
		logger:   logger,
	}
}

// SendOptions carries everything optional about a send as explicit fields.
type SendOptions struct {
	Attachments []backend.Attachment
	ForcedTool  string
}

// SelectAgent resolves (lazily creating) the conversation for the given
// agent, loads its history and publishes it to the sink. Reserved-prefix
// system messages are consumed as control signals and removed from the
// visible list.
func (o *Orchestrator) SelectAgent(ctx context.Context, agentSlug string) error {
	conv, err := o.store.EnsureConversation(ctx, o.cfg.UserID, agentSlug)
	if err != nil {
		return err
	}
	o.guard.bind(conv, agentSlug)
	return o.reloadConversation(ctx)
}

// Conversation returns the currently bound conversation, or nil.
func (o *Orchestrator) Conversation() *store.Conversation {
	return o.guard.conversation()
}

// reloadConversation re-reads the bound conversation from the store and
// republishes it. Used on load and by silent recovery, which also picks up
// any other messages that arrived while the stream was down.
func (o *Orchestrator) reloadConversation(ctx context.Context) error {
	conv := o.guard.conversation()
	if conv == nil {
		return ErrNoConversation
	}
	msgs, err := o.store.Messages(ctx, conv.ID)
	if err != nil {
		return err
	}

	visible := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		if tag, payload, ok := parseControlSignal(m); ok {
			o.sink.ControlSignal(tag, payload)
			continue
		}
		visible = append(visible, Message{
			ID:       m.ID.String(),
			Role:     m.Role,
			Content:  m.Content,
			Provider: m.LLMProvider,
		})
	}
	o.sink.ConversationLoaded(visible)
	return nil
}

// Send submits one user message. It enforces single-flight per orchestrator:
// a second call while a turn is in flight returns ErrSendInProgress without
// creating a placeholder or touching the network. The send is bound to the
// conversation/agent pair active at call time.
func (o *Orchestrator) Send(ctx context.Context, text, agentSlug string, opts SendOptions) error {
	conv, err := o.guard.acquire(ctx, o, agentSlug)
	if err != nil {
		if errors.Is(err, ErrSendInProgress) {
			o.logger.Warn("send rejected: already sending")
			return err
		}
		if errors.Is(err, ErrAgentMismatch) {
			o.sink.Notice("The selected agent changed. Please try again.")
		}
		return err
	}
	defer o.guard.release()

	// Optimistic entries: the user bubble and the assistant placeholder.
	userID := uuid.New().String()
	o.sink.MessageAppended(Message{ID: userID, Role: store.RoleUser, Content: text})

	req := backend.SendRequest{
		Message:        text,
		ConversationID: conv.ID.String(),
		AgentSlug:      agentSlug,
		Attachments:    opts.Attachments,
		ForcedTool:     opts.ForcedTool,
	}
	return o.runTurn(ctx, req, 0)
}
