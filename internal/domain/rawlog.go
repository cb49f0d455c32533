package domain

import "time"

// RawLogState is the durable per-file bookkeeping record that makes
// incremental resumption possible. There is exactly one per tracked file,
// keyed by path, with a secondary unique index on ContentHash.
//
// Invariants (hold after every successful finalize):
//   - LastProcessedOffset <= FileSizeBytes
//   - PartialHash == hash of bytes [0, LastProcessedOffset)
type RawLogState struct {
	FilePath            string    `json:"file_path"`
	ContentHash         string    `json:"content_hash"` // hash of the entire file at last observation
	PartialHash         string    `json:"partial_hash"` // hash of the consumed prefix
	LastProcessedOffset int64     `json:"last_processed_offset"`
	LastProcessedLine   int64     `json:"last_processed_line"`
	FileSizeBytes       int64     `json:"file_size_bytes"`
	ConversationRef     string    `json:"conversation_ref"`
	ParserName          string    `json:"parser_name"`
	ParserVersion       string    `json:"parser_version"`
	UpdatedAt           time.Time `json:"updated_at"`
}
