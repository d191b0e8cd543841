// Package tui provides the Bubble Tea terminal interface for Parley.
package tui

import (
	"context"
	"errors"
	"strings"
	"time"

	"charm.land/bubbles/v2/help"
	"charm.land/bubbles/v2/spinner"
	"charm.land/bubbles/v2/textarea"
	"charm.land/bubbles/v2/viewport"
	tea "charm.land/bubbletea/v2"
	"charm.land/lipgloss/v2"

	"github.com/parley0/parley/internal/log"
	"github.com/parley0/parley/internal/orchestrator"
)

// State represents the TUI state machine.
type State int

// TUI state machine states.
const (
	StateInput   State = iota // Awaiting user input
	StateSending              // A turn is in flight
)

// Memory bounds to prevent unbounded growth.
const (
	maxMessages = 200 // Maximum messages stored
	maxHistory  = 100 // Maximum command history entries
)

// noticeTTL is how long a transient notice stays in the status area.
const noticeTTL = 5 * time.Second

// Layout constants for viewport height calculation.
const (
	separatorLines = 2 // Two separator lines (above and below input)
	helpLines      = 1 // Help bar height
	promptLines    = 1 // Prompt prefix line
	minViewport    = 3 // Minimum viewport height
)

// Model is the Bubble Tea model for the Parley terminal interface.
type Model struct {
	// Input (textarea for multi-line support, Shift+Enter for newline)
	input      textarea.Model
	history    []string
	historyIdx int

	// State
	state     State
	lastCtrlC time.Time

	// Conversation display. Messages are keyed by id so concurrent updates
	// from stream and handoff goroutines always land on the right bubble.
	messages []orchestrator.Message
	byID     map[string]int

	toolStatus string
	notice     string
	noticeAt   time.Time

	// Scrollable message viewport
	viewport viewport.Model
	viewBuf  strings.Builder
	spinner  spinner.Model

	// Help bar for keyboard shortcuts
	help help.Model
	keys keyMap

	// Dependencies (direct, no interface)
	conductor *orchestrator.Orchestrator
	agentSlug string
	events    <-chan sinkEvent
	ctx       context.Context
	ctxCancel context.CancelFunc
	logger    log.Logger

	// Dimensions
	width  int
	height int

	// Styles
	styles Styles

	// Markdown rendering for assistant bubbles
	markdown bubbleRenderer
}

// New creates a Model bound to the given orchestrator and agent. The sink
// must be the one wired into the orchestrator so its events reach this model.
//
// IMPORTANT: ctx MUST be the same context passed to tea.WithContext()
// to ensure consistent cancellation behavior.
func New(ctx context.Context, conductor *orchestrator.Orchestrator, sink *ChannelSink, agentSlug string, logger log.Logger) (*Model, error) {
	if conductor == nil {
		return nil, errors.New("tui.New: orchestrator is required")
	}
	if sink == nil {
		return nil, errors.New("tui.New: sink is required")
	}
	if ctx == nil {
		return nil, errors.New("tui.New: ctx is required")
	}
	if agentSlug == "" {
		return nil, errors.New("tui.New: agent slug is required")
	}

	ctx, cancel := context.WithCancel(ctx)

	// Enter submits, Shift+Enter adds newline (default behavior)
	ta := textarea.New()
	ta.Placeholder = "Message " + agentSlug + "..."
	ta.SetHeight(1)
	ta.SetWidth(120) // Updated on WindowSizeMsg
	ta.MaxWidth = 0
	ta.ShowLineNumbers = false

	// Minimal styling, no backgrounds
	cleanStyle := textarea.StyleState{
		Base:        lipgloss.NewStyle(),
		Text:        lipgloss.NewStyle(),
		Placeholder: lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
		Prompt:      lipgloss.NewStyle(),
	}
	ta.SetStyles(textarea.Styles{
		Focused: cleanStyle,
		Blurred: cleanStyle,
	})
	ta.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	// Viewport keyboard handling is routed explicitly in handleKey to avoid
	// conflicts with textarea and history navigation.
	vp := viewport.New(viewport.WithWidth(80), viewport.WithHeight(20))
	vp.MouseWheelEnabled = true
	vp.SoftWrap = true
	vp.KeyMap = viewport.KeyMap{}

	h := help.New()

	return &Model{
		conductor: conductor,
		agentSlug: agentSlug,
		events:    sink.Events(),
		ctx:       ctx,
		ctxCancel: cancel,
		logger:    logger,
		input:     ta,
		spinner:   sp,
		viewport:  vp,
		help:      h,
		keys:      newKeyMap(),
		styles:    DefaultStyles(),
		history:   make([]string, 0, maxHistory),
		byID:      make(map[string]int),
		markdown:  bubbleRenderer{width: 80},
		width:     80, // Default width until WindowSizeMsg arrives
	}, nil
}

// Init implements tea.Model.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(
		textarea.Blink,
		m.spinner.Tick,
		m.input.Focus(),
		m.loadConversation(),
		listenForEvents(m.events),
	)
}

// appendMessage adds a message and enforces the maxMessages bound.
func (m *Model) appendMessage(msg orchestrator.Message) {
	m.messages = append(m.messages, msg)
	if len(m.messages) > maxMessages {
		m.messages = m.messages[len(m.messages)-maxMessages:]
	}
	m.reindex()
}

// setMessages replaces the visible list wholesale.
func (m *Model) setMessages(msgs []orchestrator.Message) {
	m.messages = msgs
	if len(m.messages) > maxMessages {
		m.messages = m.messages[len(m.messages)-maxMessages:]
	}
	m.reindex()
}

// updateMessage replaces content by id. Unknown ids are appended as assistant
// messages rather than dropped, so no streamed text is ever lost.
func (m *Model) updateMessage(id, content, provider string) {
	if i, ok := m.byID[id]; ok {
		m.messages[i].Content = content
		if provider != "" {
			m.messages[i].Provider = provider
		}
		return
	}
	m.appendMessage(orchestrator.Message{
		ID:       id,
		Role:     "assistant",
		Content:  content,
		Provider: provider,
	})
}

func (m *Model) reindex() {
	clear(m.byID)
	for i, msg := range m.messages {
		m.byID[msg.ID] = i
	}
}
