package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/parley0/parley/internal/realtime"
	"github.com/parley0/parley/internal/store"
	"github.com/parley0/parley/internal/stream"
)

// startHandoff detaches the background handoff from the turn that spawned it.
// The HTTP stream has already ended at this point; the turn returns, the send
// guard is released and the user can keep talking while the handoff tracks
// the still-generating message. The handoff owns its resources through its
// own session scope, disposed when the goroutine exits.
func (o *Orchestrator) startHandoff(ctx context.Context, messageID, displayID, initial string) {
	// Detach from the turn context: the stream's own timeout must not cut
	// the handoff short, the TTL is the only ceiling.
	hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.HandoffTTL)

	sess := stream.NewSession()
	sess.SetBackendID(messageID)
	sess.OnDispose(cancel)

	o.handoffs.Add(1)
	go func() {
		defer o.handoffs.Done()
		defer sess.Dispose()
		o.runHandoff(hctx, sess, displayID, initial)
	}()
}

// runHandoff takes over a message whose generation continues outside the
// HTTP connection. The source of truth switches from the stream to a push
// subscription plus a reconciliation heartbeat against persisted state; the
// heartbeat guards against missed or delayed push notifications.
//
// Teardown is unconditional after the handoff TTL, whatever the terminal
// status, so no message can hold a subscription and a timer forever. A row
// status of completed or failed ends the handoff early.
func (o *Orchestrator) runHandoff(ctx context.Context, sess *stream.Session, displayID, initial string) {
	displayed := initial
	messageID := sess.MessageID()

	var events <-chan realtime.RowEvent
	if o.notifier != nil {
		var err error
		events, err = o.notifier.Subscribe(ctx, messageID)
		if err != nil {
			o.logger.Warn("push subscription failed, relying on heartbeat",
				"message_id", messageID, "error", err)
			events = nil
		}
	}

	heartbeat := time.NewTicker(o.cfg.HeartbeatInterval)
	sess.OnDispose(heartbeat.Stop)

	o.logger.Info("switched to background handoff", "message_id", messageID)

	for {
		select {
		case <-ctx.Done():
			o.logger.Warn("background handoff ceiling reached", "message_id", messageID)
			o.sink.MessageCompleted(displayID, displayed, "")
			return

		case ev, ok := <-events:
			if !ok {
				// Subscription ended; the heartbeat keeps reconciling.
				events = nil
				continue
			}
			// Push updates apply directly: they are the live feed.
			if text := ev.New.Text(); text != "" {
				displayed = text
				o.sink.MessageUpdated(displayID, displayed)
			}
			switch ev.New.Status {
			case store.StatusCompleted:
				o.sink.MessageCompleted(displayID, displayed, ev.New.LLMProvider)
				return
			case store.StatusFailed:
				o.failTurn(displayID, errors.New("background generation failed"))
				return
			}

		case <-heartbeat.C:
			text, provider, status := o.persistedProgress(ctx, sess)
			// Never regress: a stale poll result must not truncate fresher
			// push-delivered content. Only strictly longer content wins.
			if len(text) > len(displayed) {
				displayed = text
				o.sink.MessageUpdated(displayID, displayed)
			}
			switch status {
			case store.StatusCompleted:
				o.sink.MessageCompleted(displayID, displayed, provider)
				return
			case store.StatusFailed:
				o.failTurn(displayID, errors.New("background generation failed"))
				return
			}
		}
	}
}

// persistedProgress merges the message row with its long-response tracking
// row. While the backend generates in the background it appends to
// response_tracking.response_chunks, which can run ahead of messages.content,
// so the longer of the two texts wins. Status precedence across the rows:
// failed > completed > still generating.
func (o *Orchestrator) persistedProgress(ctx context.Context, sess *stream.Session) (text, provider, status string) {
	if msg := o.persistedMessage(ctx, sess); msg != nil {
		text, provider, status = msg.Content, msg.LLMProvider, msg.Status
	}

	id, err := uuid.Parse(sess.MessageID())
	if err != nil {
		return text, provider, status
	}
	rt, err := o.store.GetResponseTracking(ctx, id)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			o.logger.Warn("response tracking lookup failed", "message_id", id, "error", err)
		}
		return text, provider, status
	}

	if full := rt.FullText(); len(full) > len(text) {
		text = full
	}
	switch rt.Status {
	case store.TrackingFailed:
		status = store.StatusFailed
	case store.TrackingCompleted:
		if status != store.StatusFailed {
			status = store.StatusCompleted
		}
	}
	return text, provider, status
}
