// Package sink defines the persistence contract the ingestion core produces
// to, plus the ClickHouse production implementation and an in-memory
// implementation used by tests and read-only mode.
package sink

import (
	"context"

	"github.com/convolog/ingestd/internal/domain"
)

// ConversationSink receives normalized conversation records.
//
// AppendMessages must be idempotent under sequence redelivery: a record
// whose (conversationRef, seq) pair was already written replaces the
// earlier copy rather than duplicating it. This is what makes crash
// recovery mid-chunk-loop safe.
type ConversationSink interface {
	// CreateConversation creates (or returns the existing) conversation for
	// the session identified by the metadata. Idempotent per session ID.
	CreateConversation(ctx context.Context, meta domain.ConversationMetadata) (string, error)

	// AppendMessages appends a chunk of records to a conversation. The
	// records carry their own sequence numbers.
	AppendMessages(ctx context.Context, conversationRef string, msgs []domain.Message) error

	// DeleteConversation removes a conversation and its messages. Used only
	// by the forced re-ingestion path.
	DeleteConversation(ctx context.Context, conversationRef string) error

	Close() error
}
