package domain

import "time"

// Message is a single normalized conversation record.
// Seq is the 1-based record index within the owning file and doubles as the
// per-conversation deduplication key: the sink must absorb redelivery of an
// already-seen sequence without inserting a second copy.
type Message struct {
	Seq       int64     `json:"seq"`
	Role      string    `json:"role"` // user, assistant, tool, system, ...
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Model     string    `json:"model,omitempty"`
}

// MessageChunk is one bounded batch of parsed records plus the cursor needed
// to resume parsing. Records never exceeds the limit passed to ParseMessages.
type MessageChunk struct {
	Records       []Message
	NextOffset    int64  // byte offset to resume from
	NextLine      int64  // record count consumed through NextOffset
	IsLast        bool   // true iff EOF was reached
	PartialHash   string // hash of bytes [0, NextOffset)
	FileSizeBytes int64  // file size observed when the chunk was read
	Warnings      []string
}

// ConversationMetadata identifies the owning conversation aggregate.
// Parsers extract it from the first few records only, independent of file size.
type ConversationMetadata struct {
	SessionID     string
	AgentKind     string // e.g. "claude-code", "codex"
	WorkingDir    string
	StartedAt     time.Time
	EndedAt       time.Time
	ParserName    string
	ParserVersion string
}
