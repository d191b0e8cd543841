package tui

import (
	"strings"
	"time"

	"charm.land/bubbles/v2/key"
	tea "charm.land/bubbletea/v2"
)

// Slash command constants.
const (
	cmdHelp  = "/help"
	cmdClear = "/clear"
	cmdExit  = "/exit"
	cmdQuit  = "/quit"
)

// keyMap holds key bindings for help bar display.
type keyMap struct {
	Submit     key.Binding
	NewLine    key.Binding
	History    key.Binding
	Cancel     key.Binding
	Quit       key.Binding
	ScrollUp   key.Binding
	ScrollDown key.Binding
}

func newKeyMap() keyMap {
	return keyMap{
		Submit:     key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "send")),
		NewLine:    key.NewBinding(key.WithKeys("shift+enter"), key.WithHelp("s+enter", "newline")),
		History:    key.NewBinding(key.WithKeys("up", "down"), key.WithHelp("↑/↓", "history")),
		Cancel:     key.NewBinding(key.WithKeys("ctrl+c"), key.WithHelp("ctrl+c", "cancel")),
		Quit:       key.NewBinding(key.WithKeys("ctrl+d"), key.WithHelp("ctrl+d", "exit")),
		ScrollUp:   key.NewBinding(key.WithKeys("pgup"), key.WithHelp("pgup", "scroll up")),
		ScrollDown: key.NewBinding(key.WithKeys("pgdown"), key.WithHelp("pgdn", "scroll down")),
	}
}

func (m *Model) handleKey(msg tea.KeyPressMsg) (tea.Model, tea.Cmd) {
	k := msg.Key()

	if k.Mod&tea.ModCtrl != 0 {
		switch k.Code {
		case 'c':
			return m.handleCtrlC()
		case 'd':
			return m, m.cleanup()
		}
	}

	switch k.Code {
	case tea.KeyEnter:
		// Enter submits, Shift+Enter falls through to the textarea as a
		// newline. Submits during an in-flight turn are attempted anyway:
		// the send guard rejects them and a notice explains why, which is
		// the observable single-flight contract.
		if k.Mod&tea.ModShift == 0 {
			return m.handleSubmit()
		}

	case tea.KeyUp:
		// Up at first line navigates history, otherwise pass to textarea
		if m.state == StateInput && m.input.Line() == 0 {
			return m.navigateHistory(-1)
		}

	case tea.KeyDown:
		// Down at last line navigates history, otherwise pass to textarea
		if m.state == StateInput && m.input.Line() == m.input.LineCount()-1 {
			return m.navigateHistory(1)
		}

	case tea.KeyPgUp:
		m.viewport.PageUp()
		return m, nil

	case tea.KeyPgDown:
		m.viewport.PageDown()
		return m, nil
	}

	// Pass keys to textarea for typing. Typing stays enabled during a turn
	// so the next message can be prepared while the agent responds.
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) handleCtrlC() (tea.Model, tea.Cmd) {
	now := time.Now()

	// Double Ctrl+C within 1 second = quit
	if now.Sub(m.lastCtrlC) < time.Second {
		return m, m.cleanup()
	}
	m.lastCtrlC = now

	if m.state == StateInput {
		m.input.Reset()
	}
	return m, nil
}

func (m *Model) handleSubmit() (tea.Model, tea.Cmd) {
	text := strings.TrimSpace(m.input.Value())
	if text == "" {
		return m, nil
	}

	if strings.HasPrefix(text, "/") {
		return m.handleSlashCommand(text)
	}

	// Add to history (enforce maxHistory cap)
	m.history = append(m.history, text)
	if len(m.history) > maxHistory {
		m.history = m.history[len(m.history)-maxHistory:]
	}
	m.historyIdx = len(m.history)

	m.input.Reset()
	m.state = StateSending

	// The user bubble itself arrives through the sink; the orchestrator
	// appends it optimistically before the network call.
	return m, tea.Batch(
		m.spinner.Tick,
		m.startSend(text),
	)
}

func (m *Model) handleSlashCommand(cmd string) (tea.Model, tea.Cmd) {
	switch cmd {
	case cmdHelp:
		m.setNotice("Commands: " + cmdHelp + ", " + cmdClear + ", " + cmdExit +
			" | Enter: send, Shift+Enter: newline, Ctrl+D: exit, PgUp/PgDn: scroll")
	case cmdClear:
		m.setMessages(nil)
		m.rebuildViewportContent()
	case cmdExit, cmdQuit:
		return m, m.cleanup()
	default:
		m.setNotice("Unknown command: " + cmd)
	}
	m.input.Reset()
	return m, m.noticeTimer()
}

func (m *Model) navigateHistory(delta int) (tea.Model, tea.Cmd) {
	if len(m.history) == 0 {
		return m, nil
	}

	m.historyIdx += delta

	if m.historyIdx < 0 {
		m.historyIdx = 0
	}
	if m.historyIdx > len(m.history) {
		m.historyIdx = len(m.history)
	}

	if m.historyIdx == len(m.history) {
		m.input.SetValue("")
	} else {
		m.input.SetValue(m.history[m.historyIdx])
		m.input.CursorEnd()
	}

	return m, nil
}

// cleanup cancels all background work and returns the quit command.
func (m *Model) cleanup() tea.Cmd {
	if m.ctxCancel != nil {
		m.ctxCancel()
		m.ctxCancel = nil
	}
	return tea.Quit
}
