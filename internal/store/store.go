package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/parley0/parley/internal/log"
)

// Store provides message and conversation persistence over a pgx pool.
// Safe for concurrent use; the pool handles connection management.
type Store struct {
	pool   *pgxpool.Pool
	logger log.Logger
}

// New creates a store over an existing pool.
func New(pool *pgxpool.Pool, logger log.Logger) *Store {
	return &Store{pool: pool, logger: logger}
}

// Connect opens a pgx pool for the given DSN and verifies connectivity.
func Connect(ctx context.Context, dsn string, logger log.Logger) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	logger.Debug("database connected")
	return pool, nil
}

// EnsureConversation returns the conversation for (userID, agentSlug),
// creating it lazily on first use. Concurrent callers converge on the same
// row via the unique constraint.
func (s *Store) EnsureConversation(ctx context.Context, userID, agentSlug string) (*Conversation, error) {
	const q = `
		INSERT INTO conversations (user_id, agent_slug)
		VALUES ($1, $2)
		ON CONFLICT (user_id, agent_slug) DO UPDATE SET updated_at = now()
		RETURNING id, user_id, agent_slug, title, created_at, updated_at`

	var c Conversation
	err := s.pool.QueryRow(ctx, q, userID, agentSlug).Scan(
		&c.ID, &c.UserID, &c.AgentSlug, &c.Title, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("ensure conversation: %w", err)
	}
	return &c, nil
}

// GetConversation fetches one conversation by id.
func (s *Store) GetConversation(ctx context.Context, id uuid.UUID) (*Conversation, error) {
	const q = `
		SELECT id, user_id, agent_slug, title, created_at, updated_at
		FROM conversations WHERE id = $1`

	var c Conversation
	err := s.pool.QueryRow(ctx, q, id).Scan(
		&c.ID, &c.UserID, &c.AgentSlug, &c.Title, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	return &c, nil
}

// ListConversations returns all conversations for a user, most recent first.
func (s *Store) ListConversations(ctx context.Context, userID string) ([]Conversation, error) {
	const q = `
		SELECT id, user_id, agent_slug, title, created_at, updated_at
		FROM conversations WHERE user_id = $1
		ORDER BY updated_at DESC`

	rows, err := s.pool.Query(ctx, q, userID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var out []Conversation
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.ID, &c.UserID, &c.AgentSlug, &c.Title, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Messages returns a conversation's messages in sequence order.
func (s *Store) Messages(ctx context.Context, conversationID uuid.UUID) ([]Message, error) {
	const q = `
		SELECT id, conversation_id, role, content, llm_provider, status, metadata, sequence_number, created_at
		FROM messages WHERE conversation_id = $1
		ORDER BY sequence_number, created_at`

	rows, err := s.pool.Query(ctx, q, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

// GetMessage fetches one message by id. Returns ErrNotFound when absent;
// the recovery coordinator relies on that distinction.
func (s *Store) GetMessage(ctx context.Context, id uuid.UUID) (*Message, error) {
	const q = `
		SELECT id, conversation_id, role, content, llm_provider, status, metadata, sequence_number, created_at
		FROM messages WHERE id = $1`

	row := s.pool.QueryRow(ctx, q, id)
	m, err := scanMessage(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

// InsertMessage persists one message with the next sequence number in its
// conversation.
func (s *Store) InsertMessage(ctx context.Context, m *Message) error {
	metadata := m.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	raw, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	const q = `
		INSERT INTO messages (id, conversation_id, role, content, llm_provider, status, metadata, sequence_number)
		VALUES ($1, $2, $3, $4, $5, $6, $7,
			(SELECT COALESCE(MAX(sequence_number), 0) + 1 FROM messages WHERE conversation_id = $2))`

	status := m.Status
	if status == "" {
		status = StatusCompleted
	}
	_, err = s.pool.Exec(ctx, q, m.ID, m.ConversationID, m.Role, m.Content, m.LLMProvider, status, raw)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// UpdateMessage overwrites a message's content, provider tag and status.
func (s *Store) UpdateMessage(ctx context.Context, id uuid.UUID, content, provider, status string) error {
	const q = `
		UPDATE messages
		SET content = $2, llm_provider = $3, status = $4, updated_at = now()
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, q, id, content, provider, status)
	if err != nil {
		return fmt.Errorf("update message: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteMessage removes one message by id.
func (s *Store) DeleteMessage(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM messages WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return nil
}

// GetResponseTracking fetches the long-response tracking row for a message.
func (s *Store) GetResponseTracking(ctx context.Context, messageID uuid.UUID) (*ResponseTracking, error) {
	const q = `
		SELECT message_id, status, total_characters, current_chunk_index, response_chunks, updated_at
		FROM response_tracking WHERE message_id = $1`

	var rt ResponseTracking
	var rawChunks []byte
	err := s.pool.QueryRow(ctx, q, messageID).Scan(
		&rt.MessageID, &rt.Status, &rt.TotalCharacters, &rt.CurrentChunkIndex, &rawChunks, &rt.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get response tracking: %w", err)
	}

	rt.ResponseChunks, err = decodeChunks(rawChunks)
	if err != nil {
		return nil, err
	}
	return &rt, nil
}

// scanMessage reads one message row from either a pgx.Row or pgx.Rows.
func scanMessage(row pgx.Row) (*Message, error) {
	var m Message
	var rawMeta []byte
	err := row.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.LLMProvider,
		&m.Status, &rawMeta, &m.SequenceNumber, &m.CreatedAt)
	if err != nil {
		return nil, err
	}
	if len(rawMeta) > 0 {
		if err := json.Unmarshal(rawMeta, &m.Metadata); err != nil {
			return nil, fmt.Errorf("decode message metadata: %w", err)
		}
	}
	return &m, nil
}
