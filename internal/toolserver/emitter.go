package toolserver

import "context"

// emitterKey uses an empty struct for a zero-allocation context key.
type emitterKey struct{}

// ProgressEmitter receives step-level progress while a multi-step plan or a
// desktop todo list executes. The interface is minimal on purpose: names and
// indices only, presentation belongs to the UI layer.
type ProgressEmitter interface {
	// OnStepStart signals that step index (0-based) of total has started.
	OnStepStart(index, total int, description string)

	// OnStepDone signals the step finished; err is nil on success.
	OnStepDone(index int, err error)

	// OnTodoStart signals a desktop todo item has started.
	OnTodoStart(index, total int, todo string)
}

// EmitterFromContext retrieves the ProgressEmitter, or nil when the caller
// did not install one (non-interactive paths emit nothing).
func EmitterFromContext(ctx context.Context) ProgressEmitter {
	emitter, _ := ctx.Value(emitterKey{}).(ProgressEmitter)
	return emitter
}

// ContextWithEmitter binds a ProgressEmitter to the context for the duration
// of one tool command.
func ContextWithEmitter(ctx context.Context, emitter ProgressEmitter) context.Context {
	return context.WithValue(ctx, emitterKey{}, emitter)
}
