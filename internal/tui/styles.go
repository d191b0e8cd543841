package tui

import (
	"strings"

	"charm.land/lipgloss/v2"
)

// Accent color for the PARLEY branding.
const accentTeal = "#2BB3A3"

// PARLEY ASCII art (filled block style).
var parleyArt = []string{
	" ██████╗  █████╗ ██████╗ ██╗     ███████╗██╗   ██╗",
	" ██╔══██╗██╔══██╗██╔══██╗██║     ██╔════╝╚██╗ ██╔╝",
	" ██████╔╝███████║██████╔╝██║     █████╗   ╚████╔╝ ",
	" ██╔═══╝ ██╔══██║██╔══██╗██║     ██╔══╝    ╚██╔╝  ",
	" ██║     ██║  ██║██║  ██║███████╗███████╗   ██║   ",
	" ╚═╝     ╚═╝  ╚═╝╚═╝  ╚═╝╚══════╝╚══════╝   ╚═╝   ",
}

// Styles contains all lipgloss styles for the TUI.
type Styles struct {
	Banner    lipgloss.Style
	User      lipgloss.Style
	Assistant lipgloss.Style
	System    lipgloss.Style
	Provider  lipgloss.Style // "via openai" attribution under assistant messages
	Tips      lipgloss.Style
	Notice    lipgloss.Style
	Prompt    lipgloss.Style
	Separator lipgloss.Style
	StatusBar lipgloss.Style
}

// DefaultStyles returns the default style configuration.
func DefaultStyles() Styles {
	return Styles{
		Banner:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(accentTeal)),
		User:      lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86")),
		Assistant: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212")),
		System:    lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("240")),
		Provider:  lipgloss.NewStyle().Faint(true).Foreground(lipgloss.Color("240")),
		Tips:      lipgloss.NewStyle().Foreground(lipgloss.Color("255")),
		Notice:    lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("214")),
		Prompt:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86")),
		Separator: lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
		StatusBar: lipgloss.NewStyle().Foreground(lipgloss.Color("250")),
	}
}

// RenderBanner returns the PARLEY ASCII art banner as a styled string.
func (s Styles) RenderBanner() string {
	var b strings.Builder
	for _, line := range parleyArt {
		_, _ = b.WriteString(s.Banner.Render(line))
		_, _ = b.WriteString("\n")
	}
	return b.String()
}

// welcomeTips contains getting started tips displayed under the banner.
var welcomeTips = []string{
	"Tips for getting started:",
	"  • Type a message and press Enter to talk to the agent",
	"  • Use /help to see available commands",
	"  • Press Ctrl+D to exit, double Ctrl+C also quits",
	"  • Up/Down arrows navigate message history",
}

// RenderWelcomeTips returns styled welcome tips.
func (s Styles) RenderWelcomeTips() string {
	var b strings.Builder
	for _, tip := range welcomeTips {
		_, _ = b.WriteString(s.Tips.Render(tip))
		_, _ = b.WriteString("\n")
	}
	return b.String()
}
