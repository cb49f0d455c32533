package sink

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/convolog/ingestd/internal/clickhouse"
	"github.com/convolog/ingestd/internal/domain"
	"github.com/convolog/ingestd/internal/retry"
)

var errUnknownConversation = errors.New("unknown conversation")

// ClickHouseSink persists conversations and messages in ClickHouse.
// The messages table is a ReplacingMergeTree ordered by
// (conversation_id, seq): redelivering an already-written sequence after a
// crash replaces the row instead of duplicating it, which is exactly the
// idempotence the orchestrator relies on.
type ClickHouseSink struct {
	client *clickhouse.Client
}

// NewClickHouseSink wraps a connected client and ensures the schema exists.
func NewClickHouseSink(ctx context.Context, client *clickhouse.Client) (*ClickHouseSink, error) {
	s := &ClickHouseSink{client: client}
	if err := s.createTables(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *ClickHouseSink) createTables(ctx context.Context) error {
	conversations := `
		CREATE TABLE IF NOT EXISTS conversations (
			conversation_id UUID,
			session_id      String,
			agent_kind      LowCardinality(String),
			working_dir     String,
			started_at      DateTime64(3),
			parser_name     LowCardinality(String),
			parser_version  LowCardinality(String),
			created_at      DateTime64(3) DEFAULT now64(3)
		) ENGINE = ReplacingMergeTree(created_at)
		ORDER BY session_id`

	messages := `
		CREATE TABLE IF NOT EXISTS messages (
			conversation_id UUID,
			seq             Int64,
			role            LowCardinality(String),
			content         String,
			model           LowCardinality(String),
			message_time    DateTime64(3),
			ingested_at     DateTime64(3) DEFAULT now64(3)
		) ENGINE = ReplacingMergeTree(ingested_at)
		ORDER BY (conversation_id, seq)`

	for _, ddl := range []string{conversations, messages} {
		if err := s.client.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}
	return nil
}

// CreateConversation is idempotent per session ID: an existing conversation
// for the session is returned as-is.
func (s *ClickHouseSink) CreateConversation(ctx context.Context, meta domain.ConversationMetadata) (string, error) {
	var existing string
	row := s.client.QueryRow(ctx,
		"SELECT toString(conversation_id) FROM conversations FINAL WHERE session_id = ? LIMIT 1",
		meta.SessionID)
	if err := row.Scan(&existing); err == nil && existing != "" {
		return existing, nil
	}

	ref := uuid.NewString()
	startedAt := meta.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now().UTC()
	}

	err := s.client.Exec(ctx, `
		INSERT INTO conversations
			(conversation_id, session_id, agent_kind, working_dir, started_at, parser_name, parser_version)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ref, meta.SessionID, meta.AgentKind, meta.WorkingDir, startedAt,
		meta.ParserName, meta.ParserVersion)
	if err != nil {
		return "", &domain.SinkWriteError{ConversationRef: ref, Err: err}
	}

	log.Debug().
		Str("conversation_id", ref).
		Str("session_id", meta.SessionID).
		Str("agent_kind", meta.AgentKind).
		Msg("Conversation created")

	return ref, nil
}

// AppendMessages sends one chunk as a prepared batch.
func (s *ClickHouseSink) AppendMessages(ctx context.Context, conversationRef string, msgs []domain.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	err := retry.Do(ctx, s.client.RetryConfig(), func() error {
		batch, err := s.client.Conn().PrepareBatch(ctx,
			"INSERT INTO messages (conversation_id, seq, role, content, model, message_time)")
		if err != nil {
			return err
		}
		for _, m := range msgs {
			ts := m.Timestamp
			if ts.IsZero() {
				ts = time.Now().UTC()
			}
			if err := batch.Append(conversationRef, m.Seq, m.Role, m.Content, m.Model, ts); err != nil {
				return err
			}
		}
		return batch.Send()
	})
	if err != nil {
		return &domain.SinkWriteError{ConversationRef: conversationRef, Err: err}
	}
	return nil
}

// DeleteConversation removes the conversation row and its messages.
func (s *ClickHouseSink) DeleteConversation(ctx context.Context, conversationRef string) error {
	stmts := []string{
		"ALTER TABLE messages DELETE WHERE conversation_id = ?",
		"ALTER TABLE conversations DELETE WHERE conversation_id = ?",
	}
	for _, stmt := range stmts {
		if err := s.client.Exec(ctx, stmt, conversationRef); err != nil {
			return &domain.SinkWriteError{ConversationRef: conversationRef, Err: err}
		}
	}
	return nil
}

func (s *ClickHouseSink) Close() error {
	return s.client.Close()
}
