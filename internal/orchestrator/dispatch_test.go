package orchestrator

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/parley0/parley/internal/sse"
	"github.com/parley0/parley/internal/store"
	"github.com/parley0/parley/internal/toolserver"
)

func TestUnknownToolDoesNotAbortStream(t *testing.T) {
	be := &scriptedBackend{bodies: []string{
		"data: {\"type\":\"content\",\"text\":\"a\"}\n" +
			"data: {\"type\":\"tool_execute_locally\",\"data\":{\"tool\":\"quantum_fax\"}}\n" +
			"data: {\"type\":\"content\",\"text\":\"b\"}\n" +
			"data: {\"type\":\"complete\",\"llmProvider\":\"openai\"}\n",
	}}
	sink := newRecordingSink()
	tools := &fakeTools{result: toolserver.Failure("unused")}
	o := newTestOrchestrator(be, newFakeStore("demo-agent"), nil, tools, sink)

	if err := o.Send(context.Background(), "hi", "demo-agent", SendOptions{}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	// The stream completed with all content despite the bad command.
	id := sink.placeholderID(t, 0)
	done, ok := sink.completedFor(id)
	if !ok || done[0] != "ab" {
		t.Fatalf("completed = %v %v, want ab", done, ok)
	}

	// The failure surfaced as a notice, not an abort.
	found := false
	for _, n := range sink.allNotices() {
		if strings.Contains(n, "Unknown tool") {
			found = true
		}
	}
	if !found {
		t.Errorf("notices = %v, want unknown-tool failure", sink.allNotices())
	}

	// No executor was invoked for the unknown name.
	if calls := tools.recorded(); len(calls) != 0 {
		t.Errorf("tool calls = %v, want none", calls)
	}
}

func TestBrowserStartRoundTripsResult(t *testing.T) {
	be := &scriptedBackend{bodies: []string{
		// Turn 0: the agent asks to establish a browser session.
		"data: {\"type\":\"tool_execute_locally\",\"data\":{\"tool\":\"browser_action\",\"action\":\"browser_start\"}}\n" +
			"data: {\"type\":\"complete\"}\n",
		// Turn 1 (silent): the agent finishes.
		"data: {\"type\":\"content\",\"text\":\"browser ready\"}\n" +
			"data: {\"type\":\"complete\",\"llmProvider\":\"openai\"}\n",
	}}
	sink := newRecordingSink()
	tools := &fakeTools{
		result:  &toolserver.Result{Success: true, Data: map[string]any{"session_id": "s-9"}},
		session: "s-9",
	}
	o := newTestOrchestrator(be, newFakeStore("demo-agent"), nil, tools, sink)

	if err := o.Send(context.Background(), "open a browser", "demo-agent", SendOptions{}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	reqs := be.recorded()
	if len(reqs) != 2 {
		t.Fatalf("backend received %d requests, want 2 (original + silent reply)", len(reqs))
	}
	reply := reqs[1]
	if !reply.Silent {
		t.Error("tool result reply is not marked silent")
	}
	if reply.ToolServerResult == nil {
		t.Fatal("reply carries no tool server result")
	}
	if reply.ToolServerResult["sessionId"] != "s-9" {
		t.Errorf("sessionId = %v, want s-9", reply.ToolServerResult["sessionId"])
	}
	if reply.ToolServerResult["tool"] != ToolBrowserAction {
		t.Errorf("tool = %v, want %s", reply.ToolServerResult["tool"], ToolBrowserAction)
	}

	if calls := tools.recorded(); len(calls) != 1 || calls[0] != "call:browser_start" {
		t.Errorf("tool calls = %v, want [call:browser_start]", calls)
	}
}

func TestDOMSnapshotRepliesOnDOMField(t *testing.T) {
	be := &scriptedBackend{bodies: []string{
		"data: {\"type\":\"tool_execute_locally\",\"data\":{\"tool\":\"dom_snapshot\"}}\n" +
			"data: {\"type\":\"complete\"}\n",
		"data: {\"type\":\"complete\",\"llmProvider\":\"openai\"}\n",
	}}
	sink := newRecordingSink()
	tools := &fakeTools{result: &toolserver.Result{Success: true, Data: map[string]any{"tree": "<html/>"}}}
	o := newTestOrchestrator(be, newFakeStore("demo-agent"), nil, tools, sink)

	if err := o.Send(context.Background(), "read the page", "demo-agent", SendOptions{}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	reqs := be.recorded()
	if len(reqs) != 2 {
		t.Fatalf("backend received %d requests, want 2", len(reqs))
	}
	if reqs[1].DOMResult == nil {
		t.Error("DOM snapshot reply not sent on the DOM result field")
	}
	if reqs[1].ToolServerResult != nil {
		t.Error("DOM snapshot reply also set the generic tool result field")
	}
}

func TestClickResultIsNotRoundTripped(t *testing.T) {
	be := &scriptedBackend{bodies: []string{
		"data: {\"type\":\"tool_execute_locally\",\"data\":{\"tool\":\"browser_action\",\"action\":\"click\",\"params\":{\"selector\":\"#x\"}}}\n" +
			"data: {\"type\":\"content\",\"text\":\"clicked\"}\n" +
			"data: {\"type\":\"complete\",\"llmProvider\":\"openai\"}\n",
	}}
	sink := newRecordingSink()
	tools := &fakeTools{result: &toolserver.Result{Success: true}}
	o := newTestOrchestrator(be, newFakeStore("demo-agent"), nil, tools, sink)

	if err := o.Send(context.Background(), "click it", "demo-agent", SendOptions{}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	if reqs := be.recorded(); len(reqs) != 1 {
		t.Fatalf("backend received %d requests, want 1 (click needs no reply)", len(reqs))
	}
	if calls := tools.recorded(); len(calls) != 1 || calls[0] != "call:click" {
		t.Errorf("tool calls = %v, want [call:click]", calls)
	}
}

func TestToolStatusSetAndCleared(t *testing.T) {
	be := &scriptedBackend{bodies: []string{
		"data: {\"type\":\"tool_execute_locally\",\"data\":{\"tool\":\"desktop_automation\",\"task\":\"tidy up\"}}\n" +
			"data: {\"type\":\"complete\",\"llmProvider\":\"openai\"}\n",
	}}
	sink := newRecordingSink()
	tools := &fakeTools{result: &toolserver.Result{Success: true}}
	o := newTestOrchestrator(be, newFakeStore("demo-agent"), nil, tools, sink)

	if err := o.Send(context.Background(), "tidy", "demo-agent", SendOptions{}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.tools) != 2 {
		t.Fatalf("tool status changed %d times, want 2 (set, clear)", len(sink.tools))
	}
	if sink.tools[0] == nil || sink.tools[0].Tool != ToolDesktop {
		t.Errorf("first status = %+v, want desktop_automation running", sink.tools[0])
	}
	if sink.tools[1] != nil {
		t.Errorf("second status = %+v, want nil (cleared)", sink.tools[1])
	}
}

// planTools drives the progress emitter the way the tool-server client does
// while replaying a plan.
type planTools struct {
	fakeTools
}

func (p *planTools) ReplayPlan(ctx context.Context, plan []toolserver.PlanStep) *toolserver.Result {
	if emitter := toolserver.EmitterFromContext(ctx); emitter != nil {
		for i, step := range plan {
			emitter.OnStepStart(i, len(plan), step.Action)
			emitter.OnStepDone(i, nil)
		}
	}
	return p.fakeTools.ReplayPlan(ctx, plan)
}

func TestPlanStepProgressReachesToolStatus(t *testing.T) {
	be := &scriptedBackend{bodies: []string{
		"data: {\"type\":\"tool_execute_locally\",\"data\":{\"tool\":\"browser_plan\",\"plan\":[{\"action\":\"navigate\"},{\"action\":\"click\"}]}}\n" +
			"data: {\"type\":\"complete\",\"llmProvider\":\"openai\"}\n",
	}}
	sink := newRecordingSink()
	tools := &planTools{fakeTools{result: &toolserver.Result{Success: true}}}
	o := newTestOrchestrator(be, newFakeStore("demo-agent"), nil, tools, sink)

	if err := o.Send(context.Background(), "replay it", "demo-agent", SendOptions{}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	// Status sequence: initial set, one per step, final clear.
	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.tools) != 4 {
		t.Fatalf("tool status changed %d times, want 4 (set, 2 steps, clear)", len(sink.tools))
	}
	if sink.tools[1] == nil || sink.tools[1].Action != "navigate (1/2)" {
		t.Errorf("step 1 status = %+v, want navigate (1/2)", sink.tools[1])
	}
	if sink.tools[2] == nil || sink.tools[2].Action != "click (2/2)" {
		t.Errorf("step 2 status = %+v, want click (2/2)", sink.tools[2])
	}
	if sink.tools[3] != nil {
		t.Errorf("final status = %+v, want nil (cleared)", sink.tools[3])
	}
}

func TestRoundLimitStopsRecursion(t *testing.T) {
	sink := newRecordingSink()
	tools := &fakeTools{result: &toolserver.Result{Success: true}}
	be := &scriptedBackend{bodies: []string{"data: {\"type\":\"complete\"}\n"}}
	o := newTestOrchestrator(be, newFakeStore("demo-agent"), nil, tools, sink)
	o.guard.bind(&store.Conversation{ID: uuid.New(), AgentSlug: "demo-agent"}, "demo-agent")

	cmd := &sse.ToolCommand{Tool: ToolBrowserAction, Action: toolserver.ActionBrowserStart}
	o.dispatchTool(context.Background(), cmd, maxToolRounds)

	if reqs := be.recorded(); len(reqs) != 0 {
		t.Fatalf("backend received %d requests at the round limit, want 0", len(reqs))
	}
}
