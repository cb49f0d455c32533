package hashutil

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
)

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data.bin")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	return path
}

func sha256Hex(data string) string {
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])
}

func TestHashRange(t *testing.T) {
	path := writeTemp(t, "hello world")

	tests := []struct {
		name    string
		start   int64
		end     int64
		want    string
		wantErr bool
	}{
		{
			name:  "full file",
			start: 0,
			end:   11,
			want:  sha256Hex("hello world"),
		},
		{
			name:  "prefix only",
			start: 0,
			end:   5,
			want:  sha256Hex("hello"),
		},
		{
			name:  "interior range",
			start: 6,
			end:   11,
			want:  sha256Hex("world"),
		},
		{
			name:  "empty range",
			start: 0,
			end:   0,
			want:  sha256Hex(""),
		},
		{
			name:    "end before start",
			start:   5,
			end:     2,
			wantErr: true,
		},
		{
			name:    "negative start",
			start:   -1,
			end:     5,
			wantErr: true,
		},
		{
			name:    "end past file size",
			start:   0,
			end:     100,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := HashRange(path, tt.start, tt.end)
			if (err != nil) != tt.wantErr {
				t.Fatalf("HashRange() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("HashRange() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestHashRange_PrefixStableUnderAppend(t *testing.T) {
	path := writeTemp(t, "stable prefix")
	before, err := HashRange(path, 0, 13)
	if err != nil {
		t.Fatalf("HashRange() error = %v", err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		t.Fatalf("failed to open for append: %v", err)
	}
	if _, err := f.WriteString(" and appended tail"); err != nil {
		t.Fatalf("failed to append: %v", err)
	}
	f.Close()

	after, err := HashRange(path, 0, 13)
	if err != nil {
		t.Fatalf("HashRange() error = %v", err)
	}
	if before != after {
		t.Errorf("prefix hash changed after append: %s != %s", before, after)
	}
}

func TestHashFile(t *testing.T) {
	path := writeTemp(t, "whole file contents")

	digest, size, err := HashFile(path)
	if err != nil {
		t.Fatalf("HashFile() error = %v", err)
	}
	if size != int64(len("whole file contents")) {
		t.Errorf("HashFile() size = %d, want %d", size, len("whole file contents"))
	}
	if digest != sha256Hex("whole file contents") {
		t.Errorf("HashFile() digest = %s, want %s", digest, sha256Hex("whole file contents"))
	}

	if _, _, err := HashFile(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("HashFile() expected error for missing file")
	}
}
