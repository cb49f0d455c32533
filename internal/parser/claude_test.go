package parser

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/convolog/ingestd/internal/domain"
)

func writeTranscript(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "session.jsonl")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write transcript: %v", err)
	}
	return path
}

func claudeLine(role, content string) string {
	return fmt.Sprintf(`{"type":%q,"sessionId":"sess-0001","timestamp":"2026-08-20T10:00:00Z","cwd":"/home/dev/proj","message":{"role":%q,"model":"m-large","content":%q}}`,
		role, role, content)
}

func claudeTranscript(n int) string {
	var b strings.Builder
	for i := 1; i <= n; i++ {
		role := "user"
		if i%2 == 0 {
			role = "assistant"
		}
		b.WriteString(claudeLine(role, fmt.Sprintf("message %d", i)))
		b.WriteByte('\n')
	}
	return b.String()
}

func TestClaudeProbe(t *testing.T) {
	c := NewClaudeCapability()

	tests := []struct {
		name    string
		content string
		want    float64
	}{
		{
			name:    "full transcript envelope",
			content: claudeTranscript(3),
			want:    1.0,
		},
		{
			name:    "typed records without session id",
			content: `{"type":"event","timestamp":"2026-08-20T10:00:00Z"}` + "\n",
			want:    0.6,
		},
		{
			name:    "summary record counts as transcript",
			content: `{"type":"summary","sessionId":"s1","summary":"compacted"}` + "\n",
			want:    1.0,
		},
		{
			name:    "not json",
			content: "plain text log line\nanother line\n",
			want:    0,
		},
		{
			name:    "empty file",
			content: "",
			want:    0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeTranscript(t, tt.content)
			res, err := c.Probe(path)
			if err != nil {
				t.Fatalf("Probe() error = %v", err)
			}
			if res.Confidence != tt.want {
				t.Errorf("Probe() confidence = %v, want %v (%s)", res.Confidence, tt.want, res.Reason)
			}
		})
	}
}

func TestClaudeParseMetadata(t *testing.T) {
	c := NewClaudeCapability()
	path := writeTranscript(t, claudeTranscript(4))

	meta, err := c.ParseMetadata(path)
	if err != nil {
		t.Fatalf("ParseMetadata() error = %v", err)
	}
	if meta.SessionID != "sess-0001" {
		t.Errorf("SessionID = %s, want sess-0001", meta.SessionID)
	}
	if meta.AgentKind != "claude-code" {
		t.Errorf("AgentKind = %s, want claude-code", meta.AgentKind)
	}
	if meta.WorkingDir != "/home/dev/proj" {
		t.Errorf("WorkingDir = %s, want /home/dev/proj", meta.WorkingDir)
	}
	if meta.StartedAt.IsZero() {
		t.Error("StartedAt not extracted")
	}

	noSession := writeTranscript(t, `{"type":"event","timestamp":"2026-08-20T10:00:00Z"}`+"\n")
	if _, err := c.ParseMetadata(noSession); err == nil {
		t.Error("ParseMetadata() expected error without sessionId")
	}
}

func TestClaudeParseMessages_FullFile(t *testing.T) {
	c := NewClaudeCapability()
	path := writeTranscript(t, claudeTranscript(5))

	chunk, err := c.ParseMessages(path, 0, 0, 100)
	if err != nil {
		t.Fatalf("ParseMessages() error = %v", err)
	}
	if len(chunk.Records) != 5 {
		t.Fatalf("got %d records, want 5", len(chunk.Records))
	}
	if !chunk.IsLast {
		t.Error("IsLast = false for fully consumed file")
	}

	info, _ := os.Stat(path)
	if chunk.NextOffset != info.Size() {
		t.Errorf("NextOffset = %d, want file size %d", chunk.NextOffset, info.Size())
	}
	if chunk.NextLine != 5 {
		t.Errorf("NextLine = %d, want 5", chunk.NextLine)
	}

	for i, rec := range chunk.Records {
		if rec.Seq != int64(i+1) {
			t.Errorf("record %d Seq = %d, want %d", i, rec.Seq, i+1)
		}
	}
	if chunk.Records[0].Role != "user" || chunk.Records[1].Role != "assistant" {
		t.Errorf("roles = %s, %s; want user, assistant", chunk.Records[0].Role, chunk.Records[1].Role)
	}
	if chunk.Records[2].Content != "message 3" {
		t.Errorf("content = %q, want %q", chunk.Records[2].Content, "message 3")
	}
}

func TestClaudeParseMessages_ChunkedMatchesFull(t *testing.T) {
	c := NewClaudeCapability()
	path := writeTranscript(t, claudeTranscript(7))

	full, err := c.ParseMessages(path, 0, 0, 100)
	if err != nil {
		t.Fatalf("full parse error = %v", err)
	}

	var (
		chunked []domain.Message
		offset  int64
		line    int64
	)
	for {
		chunk, err := c.ParseMessages(path, offset, line, 2)
		if err != nil {
			t.Fatalf("chunked parse error = %v", err)
		}
		if len(chunk.Records) > 2 {
			t.Fatalf("chunk exceeded limit: %d records", len(chunk.Records))
		}
		chunked = append(chunked, chunk.Records...)
		offset = chunk.NextOffset
		line = chunk.NextLine
		if chunk.IsLast {
			break
		}
	}

	if len(chunked) != len(full.Records) {
		t.Fatalf("chunked parse yielded %d records, full parse %d", len(chunked), len(full.Records))
	}
	for i := range chunked {
		if chunked[i] != full.Records[i] {
			t.Errorf("record %d differs: %+v vs %+v", i, chunked[i], full.Records[i])
		}
	}
}

func TestClaudeParseMessages_MalformedRecordSkipped(t *testing.T) {
	c := NewClaudeCapability()
	content := claudeLine("user", "first") + "\n" +
		"{this is not json}\n" +
		claudeLine("assistant", "third") + "\n"
	path := writeTranscript(t, content)

	chunk, err := c.ParseMessages(path, 0, 0, 100)
	if err != nil {
		t.Fatalf("ParseMessages() error = %v", err)
	}
	if len(chunk.Records) != 2 {
		t.Fatalf("got %d records, want 2", len(chunk.Records))
	}
	if len(chunk.Warnings) != 1 {
		t.Fatalf("got %d warnings, want 1: %v", len(chunk.Warnings), chunk.Warnings)
	}
	if !strings.Contains(chunk.Warnings[0], "record 2") {
		t.Errorf("warning %q does not name the malformed record", chunk.Warnings[0])
	}
	// The malformed line still occupies its sequence slot.
	if chunk.Records[1].Seq != 3 {
		t.Errorf("record after malformed line Seq = %d, want 3", chunk.Records[1].Seq)
	}
	if !chunk.IsLast {
		t.Error("IsLast = false, want true")
	}
}

func TestClaudeParseMessages_BlankLinesConsumed(t *testing.T) {
	c := NewClaudeCapability()
	content := claudeLine("user", "one") + "\n\n\n" + claudeLine("assistant", "two") + "\n"
	path := writeTranscript(t, content)

	chunk, err := c.ParseMessages(path, 0, 0, 100)
	if err != nil {
		t.Fatalf("ParseMessages() error = %v", err)
	}
	if len(chunk.Records) != 2 {
		t.Fatalf("got %d records, want 2", len(chunk.Records))
	}
	if len(chunk.Warnings) != 0 {
		t.Errorf("blank lines produced warnings: %v", chunk.Warnings)
	}
	if chunk.Records[1].Seq != 2 {
		t.Errorf("Seq after blank lines = %d, want 2", chunk.Records[1].Seq)
	}
	if !chunk.IsLast {
		t.Error("IsLast = false, want true")
	}
}

func TestClaudeParseMessages_UnterminatedTailLeftForNextAttempt(t *testing.T) {
	c := NewClaudeCapability()
	complete := claudeLine("user", "done") + "\n"
	partial := `{"type":"assistant","sessionId":"sess-0001","mess`
	path := writeTranscript(t, complete+partial)

	chunk, err := c.ParseMessages(path, 0, 0, 100)
	if err != nil {
		t.Fatalf("ParseMessages() error = %v", err)
	}
	if len(chunk.Records) != 1 {
		t.Fatalf("got %d records, want 1", len(chunk.Records))
	}
	if chunk.NextOffset != int64(len(complete)) {
		t.Errorf("NextOffset = %d, want %d (end of last complete line)", chunk.NextOffset, len(complete))
	}
	if chunk.IsLast {
		t.Error("IsLast = true with an unconsumed tail")
	}
	if len(chunk.Warnings) != 0 {
		t.Errorf("mid-write tail produced warnings: %v", chunk.Warnings)
	}

	// Complete the record and resume from the committed offset.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		t.Fatalf("failed to open for append: %v", err)
	}
	if _, err := f.WriteString(`age":{"role":"assistant","content":"late"}}` + "\n"); err != nil {
		t.Fatalf("failed to append: %v", err)
	}
	f.Close()

	resumed, err := c.ParseMessages(path, chunk.NextOffset, chunk.NextLine, 100)
	if err != nil {
		t.Fatalf("resumed ParseMessages() error = %v", err)
	}
	if len(resumed.Records) != 1 {
		t.Fatalf("resumed parse got %d records, want 1", len(resumed.Records))
	}
	if resumed.Records[0].Seq != 2 {
		t.Errorf("resumed record Seq = %d, want 2", resumed.Records[0].Seq)
	}
	if resumed.Records[0].Content != "late" {
		t.Errorf("resumed record content = %q, want %q", resumed.Records[0].Content, "late")
	}
	if !resumed.IsLast {
		t.Error("resumed IsLast = false, want true")
	}
}

func TestClaudeParseMessages_OffsetPastSize(t *testing.T) {
	c := NewClaudeCapability()
	path := writeTranscript(t, claudeTranscript(1))

	if _, err := c.ParseMessages(path, 10_000, 0, 100); err == nil {
		t.Error("ParseMessages() expected error for offset past file size")
	}
}

func TestFlattenContent(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{
			name: "plain string",
			raw:  `"hello"`,
			want: "hello",
		},
		{
			name: "text blocks",
			raw:  `[{"type":"text","text":"a"},{"type":"text","text":"b"}]`,
			want: "a\nb",
		},
		{
			name: "tool use block",
			raw:  `[{"type":"tool_use","name":"Bash"}]`,
			want: "[tool_use: Bash]",
		},
		{
			name: "typed block without text",
			raw:  `[{"type":"thinking"}]`,
			want: "[thinking]",
		},
		{
			name: "empty",
			raw:  ``,
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := flattenContent([]byte(tt.raw))
			if got != tt.want {
				t.Errorf("flattenContent(%s) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}
