package toolserver

import (
	"context"
	"errors"
	"fmt"
)

// PlanStep is one step of a pre-built browser plan.
type PlanStep struct {
	Action string
	Params map[string]any
}

// ReplayPlan executes an ordered list of browser steps, surfacing per-step
// progress through the context emitter. It stops at the first failed step and
// reports which one.
func (c *Client) ReplayPlan(ctx context.Context, plan []PlanStep) *Result {
	if len(plan) == 0 {
		return Failure("plan has no steps")
	}
	emitter := EmitterFromContext(ctx)

	for i, step := range plan {
		if emitter != nil {
			emitter.OnStepStart(i, len(plan), step.Action)
		}

		result := c.Call(ctx, step.Action, step.Params)

		var stepErr error
		if !result.Success {
			stepErr = errors.New(result.Error)
		}
		if emitter != nil {
			emitter.OnStepDone(i, stepErr)
		}
		if stepErr != nil {
			return Failure("plan step %d (%s) failed: %v", i+1, step.Action, stepErr)
		}
	}

	return &Result{
		Success: true,
		Data:    map[string]any{"steps_completed": len(plan)},
	}
}

// DesktopTask describes one desktop automation run: either a todo-list-driven
// sequence or a single free-form task.
type DesktopTask struct {
	Task  string
	Todos []string
}

// RunDesktop executes a desktop automation task through the tool server's
// desktop capability, surfacing todo-level progress. The capability is loaded
// by the server on first use; the client only sequences calls.
func (c *Client) RunDesktop(ctx context.Context, task DesktopTask) *Result {
	emitter := EmitterFromContext(ctx)

	// Single-task mode: one call, no todo bookkeeping.
	if len(task.Todos) == 0 {
		if task.Task == "" {
			return Failure("desktop task is empty")
		}
		return c.Call(ctx, ActionDesktopExecute, map[string]any{"task": task.Task})
	}

	completed := 0
	for i, todo := range task.Todos {
		if emitter != nil {
			emitter.OnTodoStart(i, len(task.Todos), todo)
		}

		result := c.Call(ctx, ActionDesktopExecute, map[string]any{
			"task":       todo,
			"todo_index": i,
			"todo_total": len(task.Todos),
		})
		if !result.Success {
			return Failure("desktop todo %d/%d failed: %s", i+1, len(task.Todos), result.Error)
		}
		completed++
	}

	return &Result{
		Success: true,
		Data: map[string]any{
			"todos_completed": completed,
		},
	}
}

// FetchDOMTree fetches a structural snapshot of the current page for
// planning. Independent of the single-action path: its own timeout, no retry
// beyond the client default.
func (c *Client) FetchDOMTree(ctx context.Context, params map[string]any) *Result {
	result := c.Call(ctx, ActionDOMTree, params)
	if !result.Success && result.Error == "" {
		result.Error = fmt.Sprintf("%s returned no data", ActionDOMTree)
	}
	return result
}
