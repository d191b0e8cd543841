package tui

// toolDisplayNames maps tool names to human-readable activity labels.
var toolDisplayNames = map[string]string{
	"browser_action":     "Operating the browser",
	"browser_plan":       "Replaying browser plan",
	"desktop_automation": "Automating the desktop",
	"dom_snapshot":       "Reading the page",
}

// actionDisplayNames refines the label for individual browser actions.
var actionDisplayNames = map[string]string{
	"browser_start": "Opening the browser",
	"navigate":      "Navigating",
	"click":         "Clicking",
	"type":          "Typing",
	"scroll":        "Scrolling",
	"screenshot":    "Taking a screenshot",
}

// toolDisplayName returns a display label for a running tool command. Step
// progress from plan replays and todo runs arrives as a free-form action
// string and is shown after the tool label.
func toolDisplayName(tool, action string) string {
	if display, ok := actionDisplayNames[action]; ok {
		return display + "..."
	}
	display, ok := toolDisplayNames[tool]
	if !ok {
		display = tool
	}
	if action != "" {
		return display + ": " + action + "..."
	}
	return display + "..."
}
