package tui

import (
	"strings"
	"testing"
)

func TestBubbleRendererWidthHandling(t *testing.T) {
	var r bubbleRenderer

	r.setWidth(5)
	if r.width != minRenderWidth {
		t.Errorf("width = %d, want clamped to %d", r.width, minRenderWidth)
	}

	r.setWidth(120)
	if r.width != 120 {
		t.Errorf("width = %d, want 120", r.width)
	}

	out := r.render("plain text")
	if out == "" {
		t.Fatal("render returned nothing")
	}
	if strings.HasSuffix(out, "\n") {
		t.Error("trailing newline not trimmed")
	}
}

func TestToolDisplayNameStepProgress(t *testing.T) {
	// Known single actions keep their refined label.
	if got := toolDisplayName("browser_action", "click"); got != "Clicking..." {
		t.Errorf("toolDisplayName = %q, want Clicking...", got)
	}
	// Free-form step progress is shown after the tool label.
	if got := toolDisplayName("browser_plan", "navigate (1/3)"); got != "Replaying browser plan: navigate (1/3)..." {
		t.Errorf("toolDisplayName = %q", got)
	}
	if got := toolDisplayName("browser_plan", ""); got != "Replaying browser plan..." {
		t.Errorf("toolDisplayName = %q", got)
	}
}
