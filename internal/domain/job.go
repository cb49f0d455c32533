package domain

import (
	"time"

	"github.com/google/uuid"
)

// SourceKind identifies which entry point requested an ingestion attempt.
type SourceKind string

const (
	SourceWatch  SourceKind = "watch"
	SourceUpload SourceKind = "upload"
	SourceCLI    SourceKind = "cli"
)

// JobStatus is the outcome of an ingestion attempt.
type JobStatus string

const (
	StatusProcessing JobStatus = "processing"
	StatusSuccess    JobStatus = "success"
	StatusDuplicate  JobStatus = "duplicate"
	StatusSkipped    JobStatus = "skipped"
	StatusFailed     JobStatus = "failed"
)

// Terminal reports whether the status is a final outcome.
func (s JobStatus) Terminal() bool {
	return s != StatusProcessing
}

// JobMetrics is the per-job timing and warning bag.
type JobMetrics struct {
	StageDurationsMs map[string]int64 `json:"stage_durations_ms,omitempty"`
	Warnings         []string         `json:"warnings,omitempty"`
	ParserName       string           `json:"parser_name,omitempty"`
	ParserVersion    string           `json:"parser_version,omitempty"`
	Chunks           int              `json:"chunks,omitempty"`
}

// IngestionJob is one row in the job ledger: one per ingestion attempt,
// created in processing status before any parsing work starts so that no
// attempt is ever invisible. Every job reaches exactly one terminal status.
type IngestionJob struct {
	ID               string     `json:"id"`
	SourceKind       SourceKind `json:"source_kind"`
	FilePath         string     `json:"file_path,omitempty"`
	RawLogRef        string     `json:"raw_log_ref,omitempty"` // RawLogState key (file path)
	ConversationRef  string     `json:"conversation_ref,omitempty"`
	Status           JobStatus  `json:"status"`
	ErrorMessage     string     `json:"error_message,omitempty"`
	ProcessingTimeMs int64      `json:"processing_time_ms"`
	Incremental      bool       `json:"incremental"`
	MessagesAdded    int        `json:"messages_added"`
	StartedAt        time.Time  `json:"started_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	Metrics          JobMetrics `json:"metrics"`
}

// NewJob creates a job row in processing status.
func NewJob(source SourceKind, filePath string) *IngestionJob {
	return &IngestionJob{
		ID:         uuid.NewString(),
		SourceKind: source,
		FilePath:   filePath,
		Status:     StatusProcessing,
		StartedAt:  time.Now().UTC(),
		Metrics:    JobMetrics{StageDurationsMs: make(map[string]int64)},
	}
}
