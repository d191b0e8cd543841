// Package realtime delivers row-change push notifications from PostgreSQL.
//
// The backend (or the migration triggers, in a self-hosted setup) publishes
// every messages/response_tracking row change on one NOTIFY channel. A
// subscription filters that firehose down to the single message id a
// background handoff cares about. Push delivery is best-effort by nature, so
// the orchestrator pairs every subscription with a heartbeat poll against the
// store.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/parley0/parley/internal/log"
)

// Channel is the NOTIFY channel all row changes are published on.
const Channel = "parley_rows"

// Row event types.
const (
	EventInsert = "INSERT"
	EventUpdate = "UPDATE"
)

// Row is the row image carried by a notification. Message rows set ID;
// response_tracking rows set MessageID instead.
type Row struct {
	ID                string          `json:"id"`
	MessageID         string          `json:"message_id"`
	ConversationID    string          `json:"conversation_id"`
	Content           string          `json:"content"`
	LLMProvider       string          `json:"llm_provider"`
	Status            string          `json:"status"`
	TotalCharacters   int64           `json:"total_characters"`
	CurrentChunkIndex int             `json:"current_chunk_index"`
	ResponseChunks    []responseChunk `json:"response_chunks"`
}

type responseChunk struct {
	Chunk string `json:"chunk"`
}

// Text returns the row's response text: the ordered chunk concatenation when
// chunks are present, the plain content column otherwise.
func (r *Row) Text() string {
	if len(r.ResponseChunks) == 0 {
		return r.Content
	}
	var out []byte
	for _, c := range r.ResponseChunks {
		out = append(out, c.Chunk...)
	}
	return string(out)
}

// Key returns the message id this row belongs to.
func (r *Row) Key() string {
	if r.MessageID != "" {
		return r.MessageID
	}
	return r.ID
}

// RowEvent is one decoded notification.
type RowEvent struct {
	EventType string `json:"eventType"`
	Table     string `json:"table"`
	New       Row    `json:"new"`
}

// Notifier subscribes to row events over a dedicated LISTEN connection per
// subscription.
type Notifier struct {
	pool   *pgxpool.Pool
	logger log.Logger
}

// New creates a notifier over the shared pool.
func New(pool *pgxpool.Pool, logger log.Logger) *Notifier {
	return &Notifier{pool: pool, logger: logger}
}

// Subscribe delivers row events matching messageID until ctx is cancelled.
// The returned channel is closed when the subscription ends; cancelling ctx
// is the only way to end it, so callers must register the cancel with their
// turn session.
func (n *Notifier) Subscribe(ctx context.Context, messageID string) (<-chan RowEvent, error) {
	conn, err := n.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire listen connection: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+Channel); err != nil {
		conn.Release()
		return nil, fmt.Errorf("listen on %s: %w", Channel, err)
	}

	events := make(chan RowEvent, 16)
	go func() {
		defer close(events)
		defer conn.Release()

		for {
			notification, err := conn.Conn().WaitForNotification(ctx)
			if err != nil {
				// Context cancellation is the normal shutdown path.
				if ctx.Err() == nil {
					n.logger.Warn("push subscription lost", "message_id", messageID, "error", err)
				}
				return
			}

			var ev RowEvent
			if err := json.Unmarshal([]byte(notification.Payload), &ev); err != nil {
				n.logger.Warn("malformed row notification", "error", err)
				continue
			}
			if ev.New.Key() != messageID {
				continue
			}

			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	n.logger.Debug("push subscription opened", "message_id", messageID)
	return events, nil
}
