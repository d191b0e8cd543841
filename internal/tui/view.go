package tui

import (
	"strings"

	"charm.land/bubbles/v2/key"
	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/glamour"

	"github.com/parley0/parley/internal/store"
)

// minRenderWidth keeps glamour's word wrap sane on tiny terminals.
const minRenderWidth = 20

// bubbleRenderer lazily builds a glamour renderer for the current wrap width.
// A build failure marks the renderer dead for that width and assistant
// bubbles degrade to raw markdown instead of retrying every frame.
type bubbleRenderer struct {
	width int
	tr    *glamour.TermRenderer
	dead  bool
}

// setWidth invalidates the cached renderer when the wrap width changes.
func (r *bubbleRenderer) setWidth(width int) {
	width = max(width, minRenderWidth)
	if width == r.width {
		return
	}
	r.width = width
	r.tr = nil
	r.dead = false
}

// render converts markdown to styled terminal output, falling back to the
// raw text when glamour is unavailable or rejects the input.
func (r *bubbleRenderer) render(markdown string) string {
	if r.dead {
		return markdown
	}
	if r.tr == nil {
		tr, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(), // follow the terminal's light/dark scheme
			glamour.WithWordWrap(r.width),
			glamour.WithEmoji(),
		)
		if err != nil {
			r.dead = true
			return markdown
		}
		r.tr = tr
	}
	out, err := r.tr.Render(markdown)
	if err != nil {
		return markdown
	}
	return strings.TrimRight(out, "\n")
}

// View implements tea.Model.
// Uses AltScreen with a viewport for scrollable message history.
func (m *Model) View() tea.View {
	m.viewBuf.Reset()

	// Viewport (scrollable message area)
	_, _ = m.viewBuf.WriteString(m.viewport.View())
	_, _ = m.viewBuf.WriteString("\n")

	// Separator line above input
	_, _ = m.viewBuf.WriteString(m.renderSeparator())
	_, _ = m.viewBuf.WriteString("\n")

	// Input prompt. Always shown: the next message can be typed while a
	// turn is still streaming.
	_, _ = m.viewBuf.WriteString(m.styles.Prompt.Render("> "))
	_, _ = m.viewBuf.WriteString(m.input.View())
	_, _ = m.viewBuf.WriteString("\n")

	// Separator line below input
	_, _ = m.viewBuf.WriteString(m.renderSeparator())
	_, _ = m.viewBuf.WriteString("\n")

	// Help bar (keyboard shortcuts)
	_, _ = m.viewBuf.WriteString(m.renderStatusBar())

	v := tea.NewView(m.viewBuf.String())
	v.AltScreen = true
	return v
}

// rebuildViewportContent reconstructs the viewport content from messages and
// state. Called when messages, tool status, or notices change.
func (m *Model) rebuildViewportContent() {
	var b strings.Builder

	_, _ = b.WriteString(m.styles.RenderBanner())
	_, _ = b.WriteString("\n")
	_, _ = b.WriteString(m.styles.RenderWelcomeTips())
	_, _ = b.WriteString("\n")

	// Messages (already bounded by appendMessage/setMessages)
	for _, msg := range m.messages {
		switch msg.Role {
		case store.RoleUser:
			_, _ = b.WriteString(m.styles.User.Render("You> "))
			_, _ = b.WriteString(msg.Content)
		case store.RoleAssistant:
			_, _ = b.WriteString(m.styles.Assistant.Render(m.agentSlug + "> "))
			_, _ = b.WriteString(m.markdown.render(msg.Content))
			if msg.Provider != "" {
				_, _ = b.WriteString("\n")
				_, _ = b.WriteString(m.styles.Provider.Render("via " + msg.Provider))
			}
		default:
			_, _ = b.WriteString(m.styles.System.Render(msg.Content))
		}
		_, _ = b.WriteString("\n\n")
	}

	// Tool status indicator (shown while a local tool command runs)
	if m.toolStatus != "" {
		_, _ = b.WriteString(m.spinner.View())
		_, _ = b.WriteString(" ")
		_, _ = b.WriteString(m.styles.System.Render(m.toolStatus))
		_, _ = b.WriteString("\n\n")
	}

	// Transient notice
	if m.notice != "" {
		_, _ = b.WriteString(m.styles.Notice.Render(m.notice))
		_, _ = b.WriteString("\n\n")
	}

	// Waiting indicator before the first content arrives
	if m.state == StateSending && m.toolStatus == "" {
		_, _ = b.WriteString(m.spinner.View())
		_, _ = b.WriteString(" Thinking...\n\n")
	}

	m.viewport.SetContent(b.String())
}

// renderSeparator returns a horizontal line separator.
func (m *Model) renderSeparator() string {
	width := m.width
	if width <= 0 {
		width = 80 // Default width
	}
	return m.styles.Separator.Render(strings.Repeat("─", width))
}

// renderStatusBar returns state-appropriate keyboard shortcut help.
func (m *Model) renderStatusBar() string {
	var bindings []key.Binding
	switch m.state {
	case StateInput:
		bindings = []key.Binding{
			m.keys.Submit, m.keys.NewLine, m.keys.History,
			m.keys.Quit, m.keys.ScrollUp,
		}
	case StateSending:
		bindings = []key.Binding{
			m.keys.Cancel, m.keys.ScrollUp, m.keys.ScrollDown,
		}
	}
	return m.help.ShortHelpView(bindings)
}
