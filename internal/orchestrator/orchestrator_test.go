package orchestrator

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/parley0/parley/internal/backend"
	"github.com/parley0/parley/internal/log"
	"github.com/parley0/parley/internal/realtime"
	"github.com/parley0/parley/internal/store"
	"github.com/parley0/parley/internal/toolserver"
)

// recordingSink captures every sink callback for assertions. Safe for the
// cross-goroutine delivery the orchestrator performs.
type recordingSink struct {
	mu        sync.Mutex
	appended  []Message
	updates   map[string][]string
	completed map[string][2]string // id -> {content, provider}
	loaded    [][]Message
	notices   []string
	tools     []*LocalExecution
	controls  []string
}

func newRecordingSink() *recordingSink {
	return &recordingSink{
		updates:   make(map[string][]string),
		completed: make(map[string][2]string),
	}
}

func (s *recordingSink) MessageAppended(msg Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appended = append(s.appended, msg)
}

func (s *recordingSink) MessageUpdated(id, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates[id] = append(s.updates[id], content)
}

func (s *recordingSink) MessageCompleted(id, content, provider string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completed[id] = [2]string{content, provider}
}

func (s *recordingSink) ConversationLoaded(msgs []Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loaded = append(s.loaded, msgs)
}

func (s *recordingSink) ToolStatus(status *LocalExecution) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tools = append(s.tools, status)
}

func (s *recordingSink) Notice(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notices = append(s.notices, text)
}

func (s *recordingSink) ControlSignal(tag string, _ []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.controls = append(s.controls, tag)
}

// placeholderID returns the id of the n-th appended assistant placeholder.
func (s *recordingSink) placeholderID(t *testing.T, n int) string {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := 0
	for _, m := range s.appended {
		if m.Role == store.RoleAssistant {
			if seen == n {
				return m.ID
			}
			seen++
		}
	}
	t.Fatalf("no assistant placeholder %d among %d appended messages", n, len(s.appended))
	return ""
}

func (s *recordingSink) completedFor(id string) ([2]string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.completed[id]
	return c, ok
}

func (s *recordingSink) updatesFor(id string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.updates[id]...)
}

func (s *recordingSink) allNotices() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.notices...)
}

// fakeStore is an in-memory MessageStore. getScript and trackScript, when
// non-empty, override the point reads with one scripted result per call; a
// nil entry means not found.
type fakeStore struct {
	mu          sync.Mutex
	conv        *store.Conversation
	byID        map[uuid.UUID]*store.Message
	history     []store.Message
	getScript   []*store.Message
	getCalls    int
	trackScript []*store.ResponseTracking
	trackCalls  int
}

func newFakeStore(agentSlug string) *fakeStore {
	return &fakeStore{
		conv: &store.Conversation{
			ID:        uuid.New(),
			UserID:    "u1",
			AgentSlug: agentSlug,
		},
		byID: make(map[uuid.UUID]*store.Message),
	}
}

func (f *fakeStore) EnsureConversation(_ context.Context, _, agentSlug string) (*store.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conv.AgentSlug != agentSlug {
		f.conv = &store.Conversation{ID: uuid.New(), UserID: "u1", AgentSlug: agentSlug}
	}
	return f.conv, nil
}

func (f *fakeStore) GetMessage(_ context.Context, id uuid.UUID) (*store.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.getScript) > 0 {
		i := min(f.getCalls, len(f.getScript)-1)
		f.getCalls++
		if f.getScript[i] == nil {
			return nil, store.ErrNotFound
		}
		return f.getScript[i], nil
	}
	msg, ok := f.byID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return msg, nil
}

func (f *fakeStore) GetResponseTracking(_ context.Context, _ uuid.UUID) (*store.ResponseTracking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.trackScript) == 0 {
		return nil, store.ErrNotFound
	}
	i := min(f.trackCalls, len(f.trackScript)-1)
	f.trackCalls++
	if f.trackScript[i] == nil {
		return nil, store.ErrNotFound
	}
	return f.trackScript[i], nil
}

func (f *fakeStore) Messages(_ context.Context, _ uuid.UUID) ([]store.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]store.Message(nil), f.history...), nil
}

// scriptedBackend serves one canned SSE body per Send call and records the
// requests it received.
type scriptedBackend struct {
	mu       sync.Mutex
	bodies   []string
	requests []backend.SendRequest
	err      error
}

func (b *scriptedBackend) Send(_ context.Context, req backend.SendRequest) (io.ReadCloser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return nil, b.err
	}
	b.requests = append(b.requests, req)
	i := min(len(b.requests)-1, len(b.bodies)-1)
	return io.NopCloser(strings.NewReader(b.bodies[i])), nil
}

func (b *scriptedBackend) recorded() []backend.SendRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]backend.SendRequest(nil), b.requests...)
}

// fakeTools records tool invocations and serves a fixed result.
type fakeTools struct {
	mu      sync.Mutex
	calls   []string
	result  *toolserver.Result
	session string
}

func (f *fakeTools) record(what string) {
	f.mu.Lock()
	f.calls = append(f.calls, what)
	f.mu.Unlock()
}

func (f *fakeTools) Call(_ context.Context, action string, _ map[string]any) *toolserver.Result {
	f.record("call:" + action)
	return f.result
}

func (f *fakeTools) ReplayPlan(_ context.Context, plan []toolserver.PlanStep) *toolserver.Result {
	f.record("plan")
	return f.result
}

func (f *fakeTools) RunDesktop(_ context.Context, _ toolserver.DesktopTask) *toolserver.Result {
	f.record("desktop")
	return f.result
}

func (f *fakeTools) FetchDOMTree(_ context.Context, _ map[string]any) *toolserver.Result {
	f.record("dom")
	return f.result
}

func (f *fakeTools) SessionID() string { return f.session }

func (f *fakeTools) recorded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// fakeNotifier serves a pre-made event channel.
type fakeNotifier struct {
	ch  chan realtime.RowEvent
	err error
}

func (f *fakeNotifier) Subscribe(_ context.Context, _ string) (<-chan realtime.RowEvent, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.ch, nil
}

func testConfig() Config {
	return Config{
		UserID: "u1",
		// Long interval: the only commits come from Flush and terminal
		// events, making update sequences deterministic.
		CommitInterval:    time.Hour,
		StallPoll:         time.Hour,
		StallThreshold:    time.Hour,
		HeartbeatInterval: 15 * time.Millisecond,
		HandoffTTL:        2 * time.Second,
	}
}

func newTestOrchestrator(b Backend, st MessageStore, n Notifier, tools ToolRunner, sink Sink) *Orchestrator {
	return New(b, st, n, tools, sink, testConfig(), log.NewNop())
}

func TestSendStreamsToCompletion(t *testing.T) {
	backendID := uuid.New().String()
	be := &scriptedBackend{bodies: []string{
		"data: {\"type\":\"message_start\",\"messageId\":\"" + backendID + "\"}\n" +
			"data: {\"type\":\"content\",\"text\":\"Hi\"}\n" +
			"data: {\"type\":\"content\",\"text\":\" there\"}\n" +
			"data: {\"type\":\"content\",\"text\":\"!\"}\n" +
			"data: {\"type\":\"complete\",\"llmProvider\":\"openai\"}\n",
	}}
	sink := newRecordingSink()
	o := newTestOrchestrator(be, newFakeStore("demo-agent"), nil, nil, sink)

	if err := o.Send(context.Background(), "Hello", "demo-agent", SendOptions{}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	// The user bubble appears before any network activity.
	sink.mu.Lock()
	if len(sink.appended) < 2 || sink.appended[0].Role != store.RoleUser || sink.appended[0].Content != "Hello" {
		sink.mu.Unlock()
		t.Fatalf("appended = %+v, want user Hello first", sink.appended)
	}
	sink.mu.Unlock()

	id := sink.placeholderID(t, 0)
	done, ok := sink.completedFor(id)
	if !ok {
		t.Fatal("placeholder never completed")
	}
	if done[0] != "Hi there!" {
		t.Errorf("final content = %q, want %q", done[0], "Hi there!")
	}
	if done[1] != "openai" {
		t.Errorf("provider = %q, want openai", done[1])
	}

	// The guard is released: a follow-up send succeeds.
	if err := o.Send(context.Background(), "again", "demo-agent", SendOptions{}); err != nil {
		t.Fatalf("follow-up Send: %v", err)
	}
}

// gatedBody blocks the first Read until released, letting tests hold a turn
// open while probing the guard.
type gatedBody struct {
	gate <-chan struct{}
	r    io.Reader
}

func (g *gatedBody) Read(p []byte) (int, error) {
	<-g.gate
	return g.r.Read(p)
}

func (g *gatedBody) Close() error { return nil }

func TestSendSingleFlight(t *testing.T) {
	gate := make(chan struct{})
	started := make(chan struct{})
	body := "data: {\"type\":\"complete\",\"llmProvider\":\"openai\"}\n"

	be := BackendFunc(func(_ context.Context, _ backend.SendRequest) (io.ReadCloser, error) {
		close(started)
		return &gatedBody{gate: gate, r: strings.NewReader(body)}, nil
	})
	sink := newRecordingSink()
	o := newTestOrchestrator(be, newFakeStore("demo-agent"), nil, nil, sink)

	errCh := make(chan error, 1)
	go func() {
		errCh <- o.Send(context.Background(), "first", "demo-agent", SendOptions{})
	}()
	<-started

	// Second send while the first is still reading: rejected without any
	// placeholder or network call.
	err := o.Send(context.Background(), "second", "demo-agent", SendOptions{})
	if !errors.Is(err, ErrSendInProgress) {
		t.Fatalf("concurrent Send error = %v, want ErrSendInProgress", err)
	}

	close(gate)
	if err := <-errCh; err != nil {
		t.Fatalf("first Send: %v", err)
	}

	// Only one user bubble and one placeholder were created.
	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.appended) != 2 {
		t.Fatalf("appended %d messages, want 2 (rejected send must not append)", len(sink.appended))
	}
}

func TestSendAgentMismatch(t *testing.T) {
	sink := newRecordingSink()
	st := newFakeStore("agent-a")
	o := newTestOrchestrator(&scriptedBackend{bodies: []string{""}}, st, nil, nil, sink)

	if err := o.SelectAgent(context.Background(), "agent-a"); err != nil {
		t.Fatalf("SelectAgent: %v", err)
	}

	err := o.Send(context.Background(), "hi", "agent-b", SendOptions{})
	if !errors.Is(err, ErrAgentMismatch) {
		t.Fatalf("Send error = %v, want ErrAgentMismatch", err)
	}
	if o.guard.isSending() {
		t.Error("guard left in sending state after rejection")
	}
}

func TestSendBackendRefusalFailsTurn(t *testing.T) {
	be := &scriptedBackend{err: &backend.Error{Status: 402, Message: "Insufficient credits for this request"}}
	sink := newRecordingSink()
	o := newTestOrchestrator(be, newFakeStore("demo-agent"), nil, nil, sink)
	o.cfg.CreditErrorSubstring = "insufficient credit"

	err := o.Send(context.Background(), "hi", "demo-agent", SendOptions{})
	if err == nil {
		t.Fatal("Send succeeded despite backend refusal")
	}

	id := sink.placeholderID(t, 0)
	updates := sink.updatesFor(id)
	if len(updates) == 0 || !strings.Contains(updates[len(updates)-1], "out of credits") {
		t.Errorf("placeholder updates = %v, want credit error text", updates)
	}
}

func TestStreamErrorEventShowsGenericMessage(t *testing.T) {
	be := &scriptedBackend{bodies: []string{
		"data: {\"type\":\"content\",\"text\":\"par\"}\n" +
			"data: {\"type\":\"error\",\"error\":\"upstream exploded\"}\n",
	}}
	sink := newRecordingSink()
	o := newTestOrchestrator(be, newFakeStore("demo-agent"), nil, nil, sink)

	if err := o.Send(context.Background(), "hi", "demo-agent", SendOptions{}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	id := sink.placeholderID(t, 0)
	updates := sink.updatesFor(id)
	if len(updates) == 0 || updates[len(updates)-1] != genericErrorMessage {
		t.Errorf("final update = %v, want generic error message", updates)
	}
	if notices := sink.allNotices(); len(notices) == 0 {
		t.Error("no notice raised for stream error")
	}
}

// countingBody hands out one chunk per Read and records reads that happen
// after Close.
type countingBody struct {
	mu             sync.Mutex
	chunks         []string
	reads          int
	closed         bool
	readAfterClose bool
}

func (b *countingBody) Read(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		b.readAfterClose = true
		return 0, errors.New("read on closed body")
	}
	if len(b.chunks) == 0 {
		return 0, io.EOF
	}
	b.reads++
	n := copy(p, b.chunks[0])
	b.chunks = b.chunks[1:]
	return n, nil
}

func (b *countingBody) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

func TestCompleteStopsReadingStream(t *testing.T) {
	// The transport keeps delivering after logical completion; none of it may
	// be read or displayed.
	body := &countingBody{chunks: []string{
		"data: {\"type\":\"content\",\"text\":\"Hi\"}\n" +
			"data: {\"type\":\"complete\",\"llmProvider\":\"openai\"}\n",
		"data: {\"type\":\"content\",\"text\":\"LEAKED\"}\n",
	}}
	be := BackendFunc(func(_ context.Context, _ backend.SendRequest) (io.ReadCloser, error) {
		return body, nil
	})
	sink := newRecordingSink()
	o := newTestOrchestrator(be, newFakeStore("demo-agent"), nil, nil, sink)

	if err := o.Send(context.Background(), "hi", "demo-agent", SendOptions{}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	body.mu.Lock()
	reads, closed, readAfterClose := body.reads, body.closed, body.readAfterClose
	body.mu.Unlock()
	if reads != 1 {
		t.Errorf("body read %d times, want 1 (reading must stop at complete)", reads)
	}
	if !closed {
		t.Error("body not closed after the terminal event")
	}
	if readAfterClose {
		t.Error("body read again after being closed")
	}

	id := sink.placeholderID(t, 0)
	done, ok := sink.completedFor(id)
	if !ok || done[0] != "Hi" {
		t.Fatalf("completed = %v %v, want Hi", done, ok)
	}
	for _, u := range sink.updatesFor(id) {
		if strings.Contains(u, "LEAKED") {
			t.Fatal("content delivered after completion reached the display")
		}
	}
}

func TestSelectAgentConsumesControlSignals(t *testing.T) {
	st := newFakeStore("demo-agent")
	st.history = []store.Message{
		{ID: uuid.New(), Role: store.RoleUser, Content: "hi"},
		{ID: uuid.New(), Role: store.RoleSystem, Content: "__CONSULTATION_COMPLETE__{\"summary\":\"done\"}"},
		{ID: uuid.New(), Role: store.RoleAssistant, Content: "hello", LLMProvider: "openai"},
	}
	sink := newRecordingSink()
	o := newTestOrchestrator(&scriptedBackend{bodies: []string{""}}, st, nil, nil, sink)

	if err := o.SelectAgent(context.Background(), "demo-agent"); err != nil {
		t.Fatalf("SelectAgent: %v", err)
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.loaded) != 1 {
		t.Fatalf("loaded %d times, want 1", len(sink.loaded))
	}
	if len(sink.loaded[0]) != 2 {
		t.Fatalf("visible messages = %d, want 2 (control signal filtered)", len(sink.loaded[0]))
	}
	if len(sink.controls) != 1 || sink.controls[0] != TagConsultationComplete {
		t.Errorf("controls = %v, want [%s]", sink.controls, TagConsultationComplete)
	}
}
