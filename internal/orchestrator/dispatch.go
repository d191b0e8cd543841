package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/parley0/parley/internal/backend"
	"github.com/parley0/parley/internal/sse"
	"github.com/parley0/parley/internal/toolserver"
)

// Tool names accepted in tool_execute_locally commands.
const (
	ToolBrowserAction = "browser_action"
	ToolBrowserPlan   = "browser_plan"
	ToolDesktop       = "desktop_automation"
	ToolDOMSnapshot   = "dom_snapshot"
)

// dispatchTool routes one mid-stream tool command to a local executor.
// Executor failures are surfaced as transient notices and never propagate: a
// failed tool action must not abort the encompassing stream.
func (o *Orchestrator) dispatchTool(ctx context.Context, cmd *sse.ToolCommand, round int) {
	if cmd == nil {
		return
	}
	o.sink.ToolStatus(&LocalExecution{Tool: cmd.Tool, Action: cmd.Action, StartedAt: time.Now()})
	defer o.sink.ToolStatus(nil)

	if o.tools == nil {
		o.sink.Notice("No tool server configured, skipping " + cmd.Tool)
		return
	}

	// Per-step progress from plan replays and desktop todo runs flows back
	// into the tool status line through the context emitter.
	ctx = toolserver.ContextWithEmitter(ctx, &sinkProgress{sink: o.sink, tool: cmd.Tool})

	result := o.executeTool(ctx, cmd)
	if !result.Success {
		o.sink.Notice(fmt.Sprintf("Tool %s failed: %s", cmd.Tool, result.Error))
	}

	if !roundTripResult(cmd) {
		return
	}
	if round >= maxToolRounds {
		o.logger.Warn("tool round limit reached, result not sent back",
			"tool", cmd.Tool, "round", round)
		return
	}
	o.replyWithResult(ctx, cmd, result, round)
}

// sinkProgress forwards executor step progress to the sink, so a multi-step
// plan or todo list shows which step is running instead of one static label.
type sinkProgress struct {
	sink Sink
	tool string
}

func (p *sinkProgress) OnStepStart(index, total int, description string) {
	p.sink.ToolStatus(&LocalExecution{
		Tool:      p.tool,
		Action:    fmt.Sprintf("%s (%d/%d)", description, index+1, total),
		StartedAt: time.Now(),
	})
}

func (p *sinkProgress) OnStepDone(_ int, _ error) {
	// Step failures end the run and surface through the aggregated result.
}

func (p *sinkProgress) OnTodoStart(index, total int, todo string) {
	p.sink.ToolStatus(&LocalExecution{
		Tool:      p.tool,
		Action:    fmt.Sprintf("%s (%d/%d)", todo, index+1, total),
		StartedAt: time.Now(),
	})
}

// executeTool selects the executor by tool name. Unknown names yield a failed
// result without touching the outer stream's state.
func (o *Orchestrator) executeTool(ctx context.Context, cmd *sse.ToolCommand) *toolserver.Result {
	switch cmd.Tool {
	case ToolBrowserAction:
		if cmd.Action == "" {
			return toolserver.Failure("browser_action requires an action")
		}
		return o.tools.Call(ctx, cmd.Action, cmd.Params)

	case ToolBrowserPlan:
		steps := make([]toolserver.PlanStep, len(cmd.Plan))
		for i, s := range cmd.Plan {
			steps[i] = toolserver.PlanStep{Action: s.Action, Params: s.Params}
		}
		return o.tools.ReplayPlan(ctx, steps)

	case ToolDesktop:
		return o.tools.RunDesktop(ctx, toolserver.DesktopTask{Task: cmd.Task, Todos: cmd.Todos})

	case ToolDOMSnapshot:
		return o.tools.FetchDOMTree(ctx, cmd.Params)

	default:
		return toolserver.Failure("Unknown tool: %s", cmd.Tool)
	}
}

// roundTripResult reports whether the conversation partner needs to react to
// this command's outcome: session establishment, DOM snapshots and
// screenshots feed the backend's next step.
func roundTripResult(cmd *sse.ToolCommand) bool {
	switch cmd.Tool {
	case ToolDOMSnapshot:
		return true
	case ToolBrowserAction:
		return cmd.Action == toolserver.ActionBrowserStart ||
			cmd.Action == toolserver.ActionScreenshot
	default:
		return false
	}
}

// replyWithResult sends the structured result back as a UI-silent turn. The
// session id always rides along so statefulness survives the local/remote
// boundary.
func (o *Orchestrator) replyWithResult(ctx context.Context, cmd *sse.ToolCommand, result *toolserver.Result, round int) {
	conv := o.guard.conversation()
	if conv == nil {
		o.logger.Warn("no conversation bound, dropping tool result", "tool", cmd.Tool)
		return
	}

	payload := map[string]any{
		"tool":      cmd.Tool,
		"success":   result.Success,
		"sessionId": o.tools.SessionID(),
	}
	if cmd.Action != "" {
		payload["action"] = cmd.Action
	}
	if result.Data != nil {
		payload["data"] = result.Data
	}
	if result.Error != "" {
		payload["error"] = result.Error
	}

	req := backend.SendRequest{
		ConversationID: conv.ID.String(),
		AgentSlug:      conv.AgentSlug,
		Silent:         true,
	}
	if cmd.Tool == ToolDOMSnapshot {
		req.DOMResult = payload
	} else {
		req.ToolServerResult = payload
	}

	if err := o.runTurn(ctx, req, round+1); err != nil {
		o.logger.Error("silent turn failed", "tool", cmd.Tool, "error", err)
	}
}
