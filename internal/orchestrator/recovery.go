package orchestrator

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/parley0/parley/internal/store"
	"github.com/parley0/parley/internal/stream"
)

// User-facing error strings. The credit case is distinguished because it has
// an action the user can take; everything else gets the generic message and
// the detail goes to the log.
const (
	creditErrorMessage  = "The AI provider account is out of credits. Please add credits and try again."
	genericErrorMessage = "Something went wrong while generating this response. Please try again."

	recoveringNotice = "Connection interrupted. Restoring the response from the server..."
)

// recoveryQueryTimeout bounds the persisted-state lookup that decides
// between silent recovery and a real failure.
const recoveryQueryTimeout = 10 * time.Second

// recoverTurn disambiguates "backend actually failed" from "connection
// dropped after success". A network-level interruption is not evidence that
// generation failed: the backend may have persisted the full answer after the
// client's connection dropped, and treating every interruption as failure
// would discard correct answers.
func (o *Orchestrator) recoverTurn(ctx context.Context, sess *stream.Session, acc *stream.Accumulator, cause error) error {
	// Keep whatever streamed so far on screen while we decide.
	acc.Flush()
	placeholderID := sess.PlaceholderID.String()
	o.logger.Warn("stream interrupted, checking persisted state",
		"message_id", sess.MessageID(),
		"error", cause,
	)

	// The turn context may already be cancelled (that is often why we are
	// here); the recovery queries must still run.
	qctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recoveryQueryTimeout)
	defer cancel()

	if msg := o.persistedMessage(qctx, sess); msg != nil && msg.Content != "" {
		// Silent recovery: the answer exists server-side. Reloading the
		// conversation also picks up any other messages that arrived while
		// the stream was down.
		o.sink.Notice(recoveringNotice)
		if err := o.reloadConversation(qctx); err != nil {
			o.logger.Error("conversation reload failed after recovery", "error", err)
			o.sink.MessageCompleted(placeholderID, msg.Content, msg.LLMProvider)
		}
		return nil
	}

	// Real failure: nothing persisted for this turn.
	o.failTurn(placeholderID, cause)
	return cause
}

// persistedMessage fetches the persisted row for this turn, preferring the
// backend-assigned id and falling back to the local placeholder id. Returns
// nil when the row is absent or unreadable.
func (o *Orchestrator) persistedMessage(ctx context.Context, sess *stream.Session) *store.Message {
	id, err := uuid.Parse(sess.MessageID())
	if err != nil {
		o.logger.Warn("unparseable message id", "id", sess.MessageID())
		return nil
	}
	msg, err := o.store.GetMessage(ctx, id)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			o.logger.Warn("persisted message lookup failed", "error", err)
		}
		return nil
	}
	return msg
}

// friendlyError maps an internal error to the user-facing string shown in the
// assistant bubble.
func friendlyError(err error, creditSubstring string) string {
	if err == nil {
		return genericErrorMessage
	}
	if creditSubstring != "" &&
		strings.Contains(strings.ToLower(err.Error()), strings.ToLower(creditSubstring)) {
		return creditErrorMessage
	}
	return genericErrorMessage
}
