package sink

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/convolog/ingestd/internal/domain"
)

// MemorySink is an in-process ConversationSink with the same idempotence
// semantics as the ClickHouse implementation. It backs read-only mode and
// the test suite.
type MemorySink struct {
	mu            sync.Mutex
	bySession     map[string]string // session ID -> conversation ref
	conversations map[string]domain.ConversationMetadata
	messages      map[string]map[int64]domain.Message // ref -> seq -> message
}

// NewMemorySink returns an empty in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{
		bySession:     make(map[string]string),
		conversations: make(map[string]domain.ConversationMetadata),
		messages:      make(map[string]map[int64]domain.Message),
	}
}

func (s *MemorySink) CreateConversation(ctx context.Context, meta domain.ConversationMetadata) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ref, ok := s.bySession[meta.SessionID]; ok {
		return ref, nil
	}

	ref := uuid.NewString()
	s.bySession[meta.SessionID] = ref
	s.conversations[ref] = meta
	s.messages[ref] = make(map[int64]domain.Message)
	return ref, nil
}

func (s *MemorySink) AppendMessages(ctx context.Context, conversationRef string, msgs []domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	seqs, ok := s.messages[conversationRef]
	if !ok {
		return &domain.SinkWriteError{ConversationRef: conversationRef, Err: errUnknownConversation}
	}
	for _, m := range msgs {
		seqs[m.Seq] = m // redelivered sequences replace in place
	}
	return nil
}

func (s *MemorySink) DeleteConversation(ctx context.Context, conversationRef string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for session, ref := range s.bySession {
		if ref == conversationRef {
			delete(s.bySession, session)
		}
	}
	delete(s.conversations, conversationRef)
	delete(s.messages, conversationRef)
	return nil
}

func (s *MemorySink) Close() error { return nil }

// MessageCount reports how many distinct sequences a conversation holds.
func (s *MemorySink) MessageCount(conversationRef string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages[conversationRef])
}

// ConversationCount reports how many conversations exist.
func (s *MemorySink) ConversationCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conversations)
}

// Messages returns a conversation's messages ordered by sequence.
func (s *MemorySink) Messages(conversationRef string) []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	seqs := s.messages[conversationRef]
	out := make([]domain.Message, 0, len(seqs))
	var max int64
	for seq := range seqs {
		if seq > max {
			max = seq
		}
	}
	for seq := int64(1); seq <= max; seq++ {
		if m, ok := seqs[seq]; ok {
			out = append(out, m)
		}
	}
	return out
}
