package parser

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/convolog/ingestd/internal/domain"
)

// CodexCapability parses Codex CLI session rollouts: JSONL files opening
// with a session_meta record followed by typed payload envelopes.
type CodexCapability struct{}

// NewCodexCapability returns the Codex rollout capability.
func NewCodexCapability() *CodexCapability { return &CodexCapability{} }

func (c *CodexCapability) Name() string    { return "codex" }
func (c *CodexCapability) Version() string { return "1.0.0" }

type codexRecord struct {
	Timestamp string          `json:"timestamp"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
}

type codexSessionMeta struct {
	ID        string `json:"id"`
	CWD       string `json:"cwd"`
	Timestamp string `json:"timestamp"`
}

type codexMessagePayload struct {
	Type    string `json:"type"`
	Role    string `json:"role"`
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

func (c *CodexCapability) Probe(path string) (ProbeResult, error) {
	lines, err := readProbeLines(path, 3)
	if err != nil {
		return ProbeResult{}, err
	}
	if len(lines) == 0 {
		return ProbeResult{Confidence: 0, Reason: "empty file"}, nil
	}

	var rec codexRecord
	if err := json.Unmarshal(lines[0], &rec); err != nil {
		return ProbeResult{Confidence: 0, Reason: "first line is not JSON"}, nil
	}
	if rec.Type == "session_meta" {
		return ProbeResult{Confidence: 1.0, Reason: "session_meta header record"}, nil
	}
	if rec.Type != "" && len(rec.Payload) > 0 {
		return ProbeResult{Confidence: 0.7, Reason: "typed payload envelope"}, nil
	}
	return ProbeResult{Confidence: 0, Reason: "no rollout envelope"}, nil
}

func (c *CodexCapability) ParseMetadata(path string) (domain.ConversationMetadata, error) {
	meta := domain.ConversationMetadata{
		AgentKind:     "codex",
		ParserName:    c.Name(),
		ParserVersion: c.Version(),
	}

	lines, err := readProbeLines(path, 5)
	if err != nil {
		return meta, err
	}

	for _, line := range lines {
		var rec codexRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			continue
		}
		if rec.Type != "session_meta" {
			continue
		}
		var sm codexSessionMeta
		if err := json.Unmarshal(rec.Payload, &sm); err != nil {
			continue
		}
		meta.SessionID = sm.ID
		meta.WorkingDir = sm.CWD
		for _, raw := range []string{sm.Timestamp, rec.Timestamp} {
			if raw == "" {
				continue
			}
			if ts, err := time.Parse(time.RFC3339, raw); err == nil {
				meta.StartedAt = ts
				break
			}
		}
		break
	}

	if meta.SessionID == "" {
		return meta, fmt.Errorf("no session_meta record found in rollout head")
	}
	return meta, nil
}

func (c *CodexCapability) ParseMessages(path string, offset, startLine int64, limit int) (domain.MessageChunk, error) {
	return parseJSONLChunk(path, offset, startLine, limit, decodeCodexLine)
}

func decodeCodexLine(line []byte, lineNo int64) (*domain.Message, error) {
	var rec codexRecord
	if err := json.Unmarshal(line, &rec); err != nil {
		return nil, &domain.RecordDecodeError{Line: lineNo, Err: err}
	}
	if rec.Type == "" {
		return nil, &domain.RecordDecodeError{Line: lineNo, Err: fmt.Errorf("record has no type")}
	}

	msg := domain.Message{Role: "system", Content: rec.Type}
	if rec.Timestamp != "" {
		if ts, err := time.Parse(time.RFC3339, rec.Timestamp); err == nil {
			msg.Timestamp = ts
		}
	}

	if rec.Type == "response_item" && len(rec.Payload) > 0 {
		var p codexMessagePayload
		if err := json.Unmarshal(rec.Payload, &p); err != nil {
			return nil, &domain.RecordDecodeError{Line: lineNo, Err: err}
		}
		if p.Type == "message" {
			if p.Role != "" {
				msg.Role = p.Role
			}
			msg.Model = p.Model
			var parts []string
			for _, blk := range p.Content {
				if blk.Text != "" {
					parts = append(parts, blk.Text)
				}
			}
			msg.Content = strings.Join(parts, "\n")
		}
	}

	return &msg, nil
}
