package orchestrator

import (
	"strings"

	"github.com/parley0/parley/internal/store"
)

// Known control-signal tags. System messages carrying these are consumed and
// never rendered as chat bubbles.
const (
	TagConsultationComplete = "CONSULTATION_COMPLETE"
	TagDocumentReady        = "DOCUMENT_READY"
)

// parseControlSignal recognizes system messages of the form
// "__TAG__{json payload}". The payload after the closing delimiter is passed
// through verbatim; callers decide whether they understand the tag.
func parseControlSignal(m store.Message) (tag string, payload []byte, ok bool) {
	if m.Role != store.RoleSystem {
		return "", nil, false
	}
	content := m.Content
	if !strings.HasPrefix(content, "__") {
		return "", nil, false
	}
	rest := content[2:]
	end := strings.Index(rest, "__")
	if end <= 0 {
		return "", nil, false
	}
	tag = rest[:end]
	payload = []byte(strings.TrimSpace(rest[end+2:]))
	return tag, payload, true
}
