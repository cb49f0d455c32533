// Package parser defines the capability contract that format-specific log
// parsers satisfy to participate in ingestion, the registry that selects
// among them, and the built-in JSONL capabilities for AI coding assistant
// session transcripts.
package parser

import "github.com/convolog/ingestd/internal/domain"

const (
	// probeReadLimit bounds how much of a file a probe may read.
	probeReadLimit = 8 * 1024

	// DefaultChunkLimit caps records per ParseMessages call. Chunk byte size
	// varies with record size, but record count is fixed, which bounds
	// per-chunk memory independent of file size.
	DefaultChunkLimit = 500
)

// ProbeResult is a capability's confidence that it can parse a file.
type ProbeResult struct {
	Confidence float64 // 0.0 .. 1.0
	Reason     string
}

// Capability is the contract a format-specific parser implements.
// Probe and ParseMetadata read at most the first few records and must not
// scale with file size. ParseMessages parses up to limit records starting at
// byte offset; a call with offset zero and no prior chunks is a full parse.
type Capability interface {
	Name() string
	Version() string
	Probe(path string) (ProbeResult, error)
	ParseMetadata(path string) (domain.ConversationMetadata, error)
	ParseMessages(path string, offset, startLine int64, limit int) (domain.MessageChunk, error)
}

// ParseFull drains a file through repeated ParseMessages calls. It exists
// for non-pipeline callers (debugging, export); the orchestrator always
// drives the chunk loop itself so it can commit between chunks.
func ParseFull(pc Capability, path string, limit int) (domain.ConversationMetadata, []domain.Message, []string, error) {
	meta, err := pc.ParseMetadata(path)
	if err != nil {
		return domain.ConversationMetadata{}, nil, nil, err
	}

	var (
		records  []domain.Message
		warnings []string
		offset   int64
		line     int64
	)
	for {
		chunk, err := pc.ParseMessages(path, offset, line, limit)
		if err != nil {
			return meta, records, warnings, err
		}
		records = append(records, chunk.Records...)
		warnings = append(warnings, chunk.Warnings...)
		offset = chunk.NextOffset
		line = chunk.NextLine
		if chunk.IsLast {
			return meta, records, warnings, nil
		}
	}
}
