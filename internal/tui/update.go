package tui

import (
	"context"
	"errors"
	"time"

	"charm.land/bubbles/v2/spinner"
	tea "charm.land/bubbletea/v2"
)

// Update implements tea.Model.
//
//nolint:gocognit,gocyclo // Bubble Tea Update requires a type switch on all message types
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyPressMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

		// Viewport height: total - input - separators - help
		inputHeight := m.input.Height() + promptLines
		fixedHeight := separatorLines + inputHeight + helpLines
		vpHeight := max(msg.Height-fixedHeight, minViewport)

		m.viewport.SetWidth(msg.Width)
		m.viewport.SetHeight(vpHeight)
		m.input.SetWidth(msg.Width - 4) // Room for "> " prompt
		m.help.SetWidth(msg.Width)
		m.markdown.setWidth(msg.Width)

		m.rebuildViewportContent()
		return m, nil

	case tea.MouseWheelMsg:
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		if m.state == StateSending {
			m.rebuildViewportContent()
		}
		return m, cmd

	case sinkEventMsg:
		m.applySinkEvent(msg.event)
		m.rebuildViewportContent()
		m.viewport.GotoBottom()
		if msg.event.kind == eventNotice {
			return m, tea.Batch(listenForEvents(m.events), m.noticeTimer())
		}
		return m, listenForEvents(m.events)

	case conversationReadyMsg:
		if msg.err != nil {
			m.logger.Error("conversation load failed", "error", msg.err)
			m.setNotice("Could not load conversation: " + msg.err.Error())
			m.rebuildViewportContent()
			return m, m.noticeTimer()
		}
		return m, nil

	case sendFinishedMsg:
		m.state = StateInput
		m.toolStatus = ""
		if msg.err != nil {
			switch {
			case isRejectedSend(msg.err):
				// The orchestrator already raised a notice for these.
			case errors.Is(msg.err, context.Canceled):
				m.setNotice("(Canceled)")
			default:
				// Turn failures are rendered into the assistant bubble by
				// the orchestrator; log the detail here.
				m.logger.Warn("turn ended with error", "error", msg.err)
			}
		}
		m.rebuildViewportContent()
		m.viewport.GotoBottom()
		return m, m.input.Focus()

	case noticeExpiredMsg:
		if time.Since(m.noticeAt) >= noticeTTL {
			m.notice = ""
			m.rebuildViewportContent()
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// applySinkEvent folds one orchestrator event into the display state.
func (m *Model) applySinkEvent(ev sinkEvent) {
	switch ev.kind {
	case eventAppended:
		m.appendMessage(ev.msg)

	case eventUpdated:
		m.updateMessage(ev.id, ev.content, "")

	case eventCompleted:
		m.updateMessage(ev.id, ev.content, ev.provider)

	case eventLoaded:
		m.setMessages(ev.msgs)

	case eventTool:
		if ev.tool == nil {
			m.toolStatus = ""
		} else {
			m.toolStatus = toolDisplayName(ev.tool.Tool, ev.tool.Action)
		}

	case eventNotice:
		m.setNotice(ev.notice)

	case eventControl:
		// Control signals are consumed silently for now; agents use them to
		// coordinate multi-step flows, not to talk to the user.
		m.logger.Debug("control signal", "tag", ev.tag, "payload_bytes", len(ev.payload))
	}
}

func (m *Model) setNotice(text string) {
	m.notice = text
	m.noticeAt = time.Now()
}

func (m *Model) noticeTimer() tea.Cmd {
	return tea.Tick(noticeTTL, func(time.Time) tea.Msg {
		return noticeExpiredMsg{}
	})
}
