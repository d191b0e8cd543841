package tui

import (
	"errors"
	"fmt"

	tea "charm.land/bubbletea/v2"

	"github.com/parley0/parley/internal/orchestrator"
)

// eventBufferSize is sized for a ~1.5s burst at 60 FPS refresh rate. The
// orchestrator commits at most every 100ms, so this never backpressures a
// healthy stream while keeping memory bounded.
const eventBufferSize = 100

// sinkEvent is a discriminated union for all orchestrator events. A single
// channel with a union type keeps the Bubble Tea select logic flat.
type sinkEvent struct {
	// Exactly one group of fields is meaningful per event
	kind     sinkEventKind
	msg      orchestrator.Message
	id       string
	content  string
	provider string
	msgs     []orchestrator.Message
	tool     *orchestrator.LocalExecution
	notice   string
	tag      string
	payload  []byte
}

type sinkEventKind int

const (
	eventAppended sinkEventKind = iota
	eventUpdated
	eventCompleted
	eventLoaded
	eventTool
	eventNotice
	eventControl
)

// ChannelSink bridges orchestrator callbacks into the Bubble Tea event loop.
// Orchestrator goroutines call the Sink methods; the model drains the channel
// via listenForEvents. Sends never block: if the UI falls behind, updates are
// dropped in favor of newer ones, which is safe because every update carries
// the full message content rather than a delta.
type ChannelSink struct {
	ch chan sinkEvent
}

// NewChannelSink creates a sink ready to wire into orchestrator.New.
func NewChannelSink() *ChannelSink {
	return &ChannelSink{ch: make(chan sinkEvent, eventBufferSize)}
}

// Events exposes the receive side for the model.
func (s *ChannelSink) Events() <-chan sinkEvent { return s.ch }

func (s *ChannelSink) send(ev sinkEvent) {
	select {
	case s.ch <- ev:
	default: // best-effort: never block an orchestrator goroutine
	}
}

// MessageAppended implements orchestrator.Sink.
func (s *ChannelSink) MessageAppended(msg orchestrator.Message) {
	s.send(sinkEvent{kind: eventAppended, msg: msg})
}

// MessageUpdated implements orchestrator.Sink.
func (s *ChannelSink) MessageUpdated(id, content string) {
	s.send(sinkEvent{kind: eventUpdated, id: id, content: content})
}

// MessageCompleted implements orchestrator.Sink.
func (s *ChannelSink) MessageCompleted(id, content, provider string) {
	s.send(sinkEvent{kind: eventCompleted, id: id, content: content, provider: provider})
}

// ConversationLoaded implements orchestrator.Sink.
func (s *ChannelSink) ConversationLoaded(msgs []orchestrator.Message) {
	s.send(sinkEvent{kind: eventLoaded, msgs: msgs})
}

// ToolStatus implements orchestrator.Sink.
func (s *ChannelSink) ToolStatus(status *orchestrator.LocalExecution) {
	s.send(sinkEvent{kind: eventTool, tool: status})
}

// Notice implements orchestrator.Sink.
func (s *ChannelSink) Notice(text string) {
	s.send(sinkEvent{kind: eventNotice, notice: text})
}

// ControlSignal implements orchestrator.Sink.
func (s *ChannelSink) ControlSignal(tag string, payload []byte) {
	s.send(sinkEvent{kind: eventControl, tag: tag, payload: payload})
}

// Compile-time interface verification.
var _ orchestrator.Sink = (*ChannelSink)(nil)

// Bubble Tea message types carrying sink events and send outcomes.
type sinkEventMsg struct {
	event sinkEvent
}

type sendFinishedMsg struct {
	err error
}

type conversationReadyMsg struct {
	err error
}

type noticeExpiredMsg struct{}

// listenForEvents waits for the next orchestrator event. Re-issued after each
// delivery so the model keeps draining the channel.
func listenForEvents(events <-chan sinkEvent) tea.Cmd {
	return func() tea.Msg {
		if events == nil {
			return nil
		}
		event, ok := <-events
		if !ok {
			return nil
		}
		return sinkEventMsg{event: event}
	}
}

// startSend runs one orchestrator turn off the event loop. The visible
// effects of the turn all arrive through the sink; the returned message only
// carries the terminal error, if any.
func (m *Model) startSend(text string) tea.Cmd {
	return func() tea.Msg {
		defer func() {
			if r := recover(); r != nil {
				m.logger.Error("send panic recovered", "panic", r)
			}
		}()
		err := m.conductor.Send(m.ctx, text, m.agentSlug, orchestrator.SendOptions{})
		return sendFinishedMsg{err: err}
	}
}

// loadConversation resolves the agent's conversation and publishes its
// history through the sink.
func (m *Model) loadConversation() tea.Cmd {
	return func() tea.Msg {
		err := m.conductor.SelectAgent(m.ctx, m.agentSlug)
		if err != nil {
			err = fmt.Errorf("load conversation for %s: %w", m.agentSlug, err)
		}
		return conversationReadyMsg{err: err}
	}
}

// isRejectedSend reports whether the error is a guard rejection that should
// be shown as a notice rather than an error bubble.
func isRejectedSend(err error) bool {
	return errors.Is(err, orchestrator.ErrSendInProgress) ||
		errors.Is(err, orchestrator.ErrAgentMismatch)
}
