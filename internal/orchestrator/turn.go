package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/parley0/parley/internal/backend"
	"github.com/parley0/parley/internal/sse"
	"github.com/parley0/parley/internal/store"
	"github.com/parley0/parley/internal/stream"
)

// runTurn executes one stream-consuming turn: the initial user send, or a
// nested silent turn carrying a tool result. round counts tool round-trips.
func (o *Orchestrator) runTurn(ctx context.Context, req backend.SendRequest, round int) error {
	sess := stream.NewSession()
	defer sess.Dispose()

	placeholderID := sess.PlaceholderID.String()
	o.sink.MessageAppended(Message{ID: placeholderID, Role: store.RoleAssistant})

	acc := stream.NewAccumulator(o.cfg.CommitInterval, func(full string) {
		o.sink.MessageUpdated(placeholderID, full)
	})

	monitor := stream.NewStallMonitor(o.cfg.StallPoll, o.cfg.StallThreshold, o.logger, nil)
	monitor.Start()
	sess.OnDispose(monitor.Stop)

	body, err := o.backend.Send(ctx, req)
	if err != nil {
		// The stream never opened: a backend-reported or transport-level
		// refusal, always user-visible.
		o.failTurn(placeholderID, err)
		return err
	}
	sess.OnDispose(func() { _ = body.Close() })

	decoder := sse.NewDecoder(o.logger)
	buf := make([]byte, 8192)
	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			for _, ev := range decoder.Feed(buf[:n]) {
				done, evErr := o.handleEvent(ctx, sess, acc, monitor, body, ev, round)
				if done || evErr != nil {
					return evErr
				}
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				// Truncation: the transport ended cleanly but no complete
				// event arrived. The backend may still have finished.
				readErr = fmt.Errorf("stream ended without completion")
			}
			return o.recoverTurn(ctx, sess, acc, readErr)
		}
	}
}

// handleEvent applies one decoded event. done reports that the turn reached a
// terminal state and reading must stop.
func (o *Orchestrator) handleEvent(
	ctx context.Context,
	sess *stream.Session,
	acc *stream.Accumulator,
	monitor *stream.StallMonitor,
	body io.ReadCloser,
	ev sse.Event,
	round int,
) (done bool, err error) {
	placeholderID := sess.PlaceholderID.String()

	switch ev.Type {
	case sse.EventMessageStart:
		sess.SetBackendID(ev.MessageID)
		return false, nil

	case sse.EventContent:
		monitor.Touch()
		acc.Append(ev.Text)
		return false, nil

	case sse.EventComplete:
		// Cancel the reader even though the transport may keep the
		// connection open past logical completion.
		_ = body.Close()
		monitor.Stop()
		final := acc.Flush()
		o.sink.MessageCompleted(placeholderID, final, ev.Provider)
		o.logger.Debug("turn completed",
			"message_id", sess.MessageID(),
			"provider", ev.Provider,
			"chars", len(final),
		)
		return true, nil

	case sse.EventBackground:
		_ = body.Close()
		monitor.Stop()
		// Flush first so no scheduled commit can later clobber the notice,
		// then overwrite with the placeholder text the event carries.
		acc.Flush()
		o.sink.MessageUpdated(placeholderID, ev.Notice)
		// The handoff runs detached: this turn ends here and the send guard
		// is released, so the user can keep talking while the backend
		// finishes the message in the background.
		o.startHandoff(ctx, sess.MessageID(), placeholderID, ev.Notice)
		return true, nil

	case sse.EventError:
		_ = body.Close()
		monitor.Stop()
		acc.Flush()
		o.failTurn(placeholderID, errors.New(ev.ErrorText))
		return true, nil

	case sse.EventToolCommand:
		o.dispatchTool(ctx, ev.Tool, round)
		return false, nil

	default:
		return false, nil
	}
}

// failTurn resolves the placeholder to an explicit error string and surfaces
// a toast-level notification. Every failure path lands here so no turn ever
// leaves a dangling "streaming" state.
func (o *Orchestrator) failTurn(placeholderID string, cause error) {
	msg := friendlyError(cause, o.cfg.CreditErrorSubstring)
	o.sink.MessageUpdated(placeholderID, msg)
	o.sink.Notice(msg)
	o.logger.Error("turn failed", "error", cause)
}
