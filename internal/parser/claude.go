package parser

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/convolog/ingestd/internal/domain"
)

// ClaudeCapability parses Claude Code session transcripts: JSONL files where
// each line carries a sessionId, a record type and, for conversation
// records, a nested message object.
type ClaudeCapability struct{}

// NewClaudeCapability returns the Claude Code transcript capability.
func NewClaudeCapability() *ClaudeCapability { return &ClaudeCapability{} }

func (c *ClaudeCapability) Name() string    { return "claude" }
func (c *ClaudeCapability) Version() string { return "1.0.0" }

// claudeRecord is the envelope shared by all Claude Code transcript lines.
type claudeRecord struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	Timestamp string `json:"timestamp"`
	CWD       string `json:"cwd"`
	Summary   string `json:"summary"`
	Message   *struct {
		Role    string          `json:"role"`
		Model   string          `json:"model"`
		Content json.RawMessage `json:"content"`
	} `json:"message"`
}

// Probe inspects the first few lines only.
func (c *ClaudeCapability) Probe(path string) (ProbeResult, error) {
	lines, err := readProbeLines(path, 5)
	if err != nil {
		return ProbeResult{}, err
	}
	if len(lines) == 0 {
		return ProbeResult{Confidence: 0, Reason: "empty file"}, nil
	}

	for _, line := range lines {
		var rec claudeRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			continue
		}
		if rec.SessionID != "" && rec.Type != "" && (rec.Message != nil || rec.Summary != "") {
			return ProbeResult{Confidence: 1.0, Reason: "sessionId envelope with message payload"}, nil
		}
		if rec.Type != "" && rec.Timestamp != "" {
			return ProbeResult{Confidence: 0.6, Reason: "typed JSONL with timestamps"}, nil
		}
	}
	return ProbeResult{Confidence: 0, Reason: "no recognizable transcript records"}, nil
}

// ParseMetadata reads only the head of the file.
func (c *ClaudeCapability) ParseMetadata(path string) (domain.ConversationMetadata, error) {
	meta := domain.ConversationMetadata{
		AgentKind:     "claude-code",
		ParserName:    c.Name(),
		ParserVersion: c.Version(),
	}

	lines, err := readProbeLines(path, 10)
	if err != nil {
		return meta, err
	}

	for _, line := range lines {
		var rec claudeRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			continue
		}
		if meta.SessionID == "" && rec.SessionID != "" {
			meta.SessionID = rec.SessionID
		}
		if meta.WorkingDir == "" && rec.CWD != "" {
			meta.WorkingDir = rec.CWD
		}
		if meta.StartedAt.IsZero() && rec.Timestamp != "" {
			if ts, err := time.Parse(time.RFC3339, rec.Timestamp); err == nil {
				meta.StartedAt = ts
			}
		}
	}

	if meta.SessionID == "" {
		return meta, fmt.Errorf("no sessionId found in transcript head")
	}
	return meta, nil
}

// ParseMessages parses up to limit records starting at byte offset.
func (c *ClaudeCapability) ParseMessages(path string, offset, startLine int64, limit int) (domain.MessageChunk, error) {
	return parseJSONLChunk(path, offset, startLine, limit, decodeClaudeLine)
}

func decodeClaudeLine(line []byte, lineNo int64) (*domain.Message, error) {
	var rec claudeRecord
	if err := json.Unmarshal(line, &rec); err != nil {
		return nil, &domain.RecordDecodeError{Line: lineNo, Err: err}
	}

	msg := domain.Message{Role: rec.Type}
	if rec.Timestamp != "" {
		if ts, err := time.Parse(time.RFC3339, rec.Timestamp); err == nil {
			msg.Timestamp = ts
		}
	}

	switch {
	case rec.Message != nil:
		if rec.Message.Role != "" {
			msg.Role = rec.Message.Role
		}
		msg.Model = rec.Message.Model
		msg.Content = flattenContent(rec.Message.Content)
	case rec.Summary != "":
		msg.Role = "system"
		msg.Content = rec.Summary
	case rec.Type != "":
		msg.Role = "system"
	default:
		return nil, &domain.RecordDecodeError{Line: lineNo, Err: fmt.Errorf("record has neither type nor message")}
	}

	return &msg, nil
}

// flattenContent handles the two shapes Claude Code emits: a plain string,
// or an array of typed blocks.
func flattenContent(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var blocks []struct {
		Type string `json:"type"`
		Text string `json:"text"`
		Name string `json:"name"`
	}
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return string(raw)
	}

	var parts []string
	for _, b := range blocks {
		switch {
		case b.Text != "":
			parts = append(parts, b.Text)
		case b.Type == "tool_use" && b.Name != "":
			parts = append(parts, "[tool_use: "+b.Name+"]")
		case b.Type != "":
			parts = append(parts, "["+b.Type+"]")
		}
	}
	return strings.Join(parts, "\n")
}
