// Package store persists conversations and messages in PostgreSQL.
//
// The orchestrator treats this store as the source of truth whenever the live
// stream becomes unreliable: recovery after a dropped connection and the
// background-handoff heartbeat both re-read persisted rows from here.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound indicates the requested row does not exist.
var ErrNotFound = errors.New("not found")

// Message role constants.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message status constants.
const (
	StatusStreaming = "streaming"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Response-tracking status constants.
const (
	TrackingGenerating = "generating"
	TrackingCompleted  = "completed"
	TrackingFailed     = "failed"
)

// Conversation is a durable chat between one user and one agent. The primary
// flow uses at most one conversation per (user, agent) pair, created lazily.
type Conversation struct {
	ID        uuid.UUID
	UserID    string
	AgentSlug string
	Title     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Message is one ordered unit of dialogue. Content is mutable while the
// message is streaming; ids are client-generated for optimistic entries and
// authoritative once persisted.
type Message struct {
	ID             uuid.UUID
	ConversationID uuid.UUID
	Role           string
	Content        string
	LLMProvider    string
	Status         string
	Metadata       map[string]any
	SequenceNumber int64
	CreatedAt      time.Time
}

// ResponseTracking mirrors one long-response tracking row: the backend's
// progress record for a message still generating after the HTTP stream ended.
type ResponseTracking struct {
	MessageID         uuid.UUID
	Status            string
	TotalCharacters   int64
	CurrentChunkIndex int
	ResponseChunks    []ResponseChunk
	UpdatedAt         time.Time
}

// ResponseChunk is one element of the ordered response_chunks array.
type ResponseChunk struct {
	Chunk string `json:"chunk"`
}

// FullText reconstructs the complete response by concatenating chunks in
// order.
func (rt *ResponseTracking) FullText() string {
	var out []byte
	for _, c := range rt.ResponseChunks {
		out = append(out, c.Chunk...)
	}
	return string(out)
}

// decodeChunks parses the raw JSONB response_chunks array.
func decodeChunks(raw []byte) ([]ResponseChunk, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var chunks []ResponseChunk
	if err := json.Unmarshal(raw, &chunks); err != nil {
		return nil, fmt.Errorf("decode response_chunks: %w", err)
	}
	return chunks, nil
}
