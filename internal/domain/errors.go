package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for identity-level failures. These surface as terminal
// failed ledger entries; they are never recovered locally.
var (
	// ErrNoParserMatch means no registered capability cleared the probe
	// confidence threshold for a file.
	ErrNoParserMatch = errors.New("no parser capability matched")

	// ErrInvalidState means a stored offset exceeds the current file size.
	// The orchestrator treats this the same as a truncation: full reparse.
	ErrInvalidState = errors.New("stored offset exceeds current file size")
)

// ChangeDetectionError wraps an I/O failure while hashing for change
// classification. Recovered by degrading to a full reparse.
type ChangeDetectionError struct {
	Path string
	Err  error
}

func (e *ChangeDetectionError) Error() string {
	return fmt.Sprintf("change detection failed for %s: %v", e.Path, e.Err)
}

func (e *ChangeDetectionError) Unwrap() error { return e.Err }

// IncrementalParseError wraps a failure inside the chunk loop of an APPEND
// attempt. Recovered once via a full-reparse fallback, otherwise fatal.
type IncrementalParseError struct {
	Path   string
	Offset int64
	Err    error
}

func (e *IncrementalParseError) Error() string {
	return fmt.Sprintf("incremental parse failed for %s at offset %d: %v", e.Path, e.Offset, e.Err)
}

func (e *IncrementalParseError) Unwrap() error { return e.Err }

// RecordDecodeError marks a single malformed record. The parser skips the
// record, records a warning and continues the chunk.
type RecordDecodeError struct {
	Line int64
	Err  error
}

func (e *RecordDecodeError) Error() string {
	return fmt.Sprintf("record %d: %v", e.Line, e.Err)
}

func (e *RecordDecodeError) Unwrap() error { return e.Err }

// SinkWriteError wraps a persistence failure. Propagated as job failure with
// RawLogState left unmodified, so a retry resumes from the last committed
// offset.
type SinkWriteError struct {
	ConversationRef string
	Err             error
}

func (e *SinkWriteError) Error() string {
	return fmt.Sprintf("sink write failed for conversation %s: %v", e.ConversationRef, e.Err)
}

func (e *SinkWriteError) Unwrap() error { return e.Err }
