package parser

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/convolog/ingestd/internal/domain"
	"github.com/convolog/ingestd/internal/hashutil"
)

// decodeFunc turns one JSONL line into a message. Returning a
// *domain.RecordDecodeError marks the line as malformed: the chunk records a
// warning and continues. A nil message with nil error drops the line
// silently (blank lines).
type decodeFunc func(line []byte, lineNo int64) (*domain.Message, error)

// parseJSONLChunk reads up to limit records from path starting at byte
// offset, tracking the exact byte position after each consumed line so the
// caller can resume. A final line without a trailing newline is consumed
// only if it decodes cleanly; otherwise it is assumed to be a record still
// being written and is left for the next attempt.
func parseJSONLChunk(path string, offset, startLine int64, limit int, decode decodeFunc) (domain.MessageChunk, error) {
	var chunk domain.MessageChunk

	f, err := os.Open(path)
	if err != nil {
		return chunk, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return chunk, fmt.Errorf("failed to stat file: %w", err)
	}
	size := info.Size()
	if offset > size {
		return chunk, fmt.Errorf("%w: offset %d, size %d", domain.ErrInvalidState, offset, size)
	}

	if offset > 0 {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			return chunk, fmt.Errorf("failed to seek to offset %d: %w", offset, err)
		}
	}

	records, warnings, pos, line, err := scanRecords(f, size, offset, startLine, limit, decode)
	if err != nil {
		return chunk, err
	}

	partialHash, err := hashutil.HashRange(path, 0, pos)
	if err != nil {
		return chunk, fmt.Errorf("failed to hash consumed prefix: %w", err)
	}

	chunk = domain.MessageChunk{
		Records:       records,
		NextOffset:    pos,
		NextLine:      line,
		IsLast:        pos >= size,
		PartialHash:   partialHash,
		FileSizeBytes: size,
		Warnings:      warnings,
	}
	return chunk, nil
}

// scanRecords reads up to limit records from r, which is positioned at byte
// offset, never consuming past size: the file size observed before reading.
// The file may keep growing underneath the reader, so a line that straddles
// the size boundary is a record still being written by the agent and is left
// for the next attempt, like an unterminated tail.
func scanRecords(r io.Reader, size, offset, startLine int64, limit int, decode decodeFunc) ([]domain.Message, []string, int64, int64, error) {
	reader := bufio.NewReaderSize(io.LimitReader(r, size-offset), 64*1024)
	pos := offset
	line := startLine
	records := make([]domain.Message, 0, limit)
	var warnings []string

	for len(records) < limit && pos < size {
		raw, readErr := reader.ReadBytes('\n')
		if len(raw) == 0 {
			if readErr != nil && readErr != io.EOF {
				return records, warnings, pos, line, fmt.Errorf("failed to read line: %w", readErr)
			}
			break
		}

		terminated := raw[len(raw)-1] == '\n'
		trimmed := bytes.TrimRight(raw, "\r\n")

		if len(trimmed) == 0 {
			// Blank line: consume the bytes, no record.
			pos += int64(len(raw))
		} else {
			msg, decErr := decode(trimmed, line+1)
			if decErr != nil && !terminated {
				// Unterminated malformed tail: likely a record mid-write by
				// the producing agent. Leave it for the next attempt.
				break
			}
			pos += int64(len(raw))
			line++
			if decErr != nil {
				warnings = append(warnings, decErr.Error())
			} else if msg != nil {
				msg.Seq = line
				records = append(records, *msg)
			}
		}

		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return records, warnings, pos, line, fmt.Errorf("failed to read line: %w", readErr)
		}
	}

	return records, warnings, pos, line, nil
}

// readProbeLines returns up to maxLines non-blank lines from the first
// probeReadLimit bytes of the file. Shared by capability probes, which must
// stay cheap regardless of file size.
func readProbeLines(path string, maxLines int) ([][]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	buf := make([]byte, probeReadLimit)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return nil, fmt.Errorf("failed to read probe window: %w", err)
	}
	buf = buf[:n]

	var lines [][]byte
	for _, l := range bytes.Split(buf, []byte{'\n'}) {
		l = bytes.TrimRight(l, "\r")
		if len(bytes.TrimSpace(l)) == 0 {
			continue
		}
		lines = append(lines, l)
		if len(lines) >= maxLines {
			break
		}
	}
	return lines, nil
}
