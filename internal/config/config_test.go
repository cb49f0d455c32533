package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("LOG_DIRS", "/var/log/sessions")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ClickHouseHost != "localhost" || cfg.ClickHousePort != 9000 {
		t.Errorf("ClickHouse defaults = %s:%d", cfg.ClickHouseHost, cfg.ClickHousePort)
	}
	if cfg.ChunkLimit != 500 {
		t.Errorf("ChunkLimit = %d, want 500", cfg.ChunkLimit)
	}
	if cfg.RescanInterval != 30*time.Second {
		t.Errorf("RescanInterval = %v, want 30s", cfg.RescanInterval)
	}
	if cfg.ReadOnly {
		t.Error("ReadOnly defaults to false")
	}
}

func TestLoad_RequiresLogDirs(t *testing.T) {
	t.Setenv("LOG_DIRS", "")

	if _, err := Load(); err == nil {
		t.Error("Load() expected error without LOG_DIRS")
	}
}

func TestLoad_ReadOnlySkipsSinkValidation(t *testing.T) {
	t.Setenv("LOG_DIRS", "/var/log/sessions")
	t.Setenv("READ_ONLY", "true")
	t.Setenv("CLICKHOUSE_PORT", "0")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !cfg.ReadOnly {
		t.Error("ReadOnly not parsed")
	}
}

func TestParsePathList(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{
			name:  "single path",
			input: "/a",
			want:  []string{"/a"},
		},
		{
			name:  "multiple with whitespace",
			input: "/a; /b ;/c",
			want:  []string{"/a", "/b", "/c"},
		},
		{
			name:  "empty segments dropped",
			input: ";/a;;",
			want:  []string{"/a"},
		},
		{
			name:  "empty string",
			input: "",
			want:  nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parsePathList(tt.input)
			if len(got) != len(tt.want) {
				t.Fatalf("parsePathList(%q) = %v, want %v", tt.input, got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("parsePathList(%q)[%d] = %q, want %q", tt.input, i, got[i], tt.want[i])
				}
			}
		})
	}
}
