// Package ingest contains the ingestion orchestrator: the state machine
// that sequences change detection, deduplication, chunked parsing, sink
// persistence and finalization for one file, and is the single entry point
// for every caller (watcher, upload, CLI).
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/convolog/ingestd/internal/detect"
	"github.com/convolog/ingestd/internal/domain"
	"github.com/convolog/ingestd/internal/hashutil"
	"github.com/convolog/ingestd/internal/ledger"
	"github.com/convolog/ingestd/internal/observability"
	"github.com/convolog/ingestd/internal/parser"
	"github.com/convolog/ingestd/internal/sink"
	"github.com/convolog/ingestd/internal/state"
)

// PostHook runs after a successful ingestion, at most once per run.
// Failures are logged but never roll back ingested messages.
type PostHook func(ctx context.Context, conversationRef string) error

// Config tunes the orchestrator.
type Config struct {
	ChunkLimit int    // records per parse chunk; bounds peak memory
	StagingDir string // where uploaded byte streams are spooled
}

// Request describes one ingestion attempt.
type Request struct {
	Path   string
	Source domain.SourceKind
	Force  bool // delete any existing identity and re-ingest from scratch
}

// Orchestrator drives Detect -> Dedup -> ChangeDetect -> Parse -> Ingest ->
// Postprocess -> Finalize for one file per Run call. Concurrent runs for
// the same file identity serialize on per-path and per-content-hash locks,
// acquired in that order.
type Orchestrator struct {
	states   *state.Store
	jobs     *ledger.Ledger
	sink     sink.ConversationSink
	registry *parser.Registry
	cfg      Config
	metrics  *observability.IngestMetrics
	hooks    []PostHook
	tracer   trace.Tracer

	pathLocks keyedMutex
	hashLocks keyedMutex
}

// New creates an orchestrator.
func New(states *state.Store, jobs *ledger.Ledger, snk sink.ConversationSink, registry *parser.Registry, cfg Config) *Orchestrator {
	if cfg.ChunkLimit <= 0 {
		cfg.ChunkLimit = parser.DefaultChunkLimit
	}
	return &Orchestrator{
		states:   states,
		jobs:     jobs,
		sink:     snk,
		registry: registry,
		cfg:      cfg,
		tracer:   otel.Tracer("ingestd/ingest"),
	}
}

// SetMetrics wires Prometheus instruments. Optional.
func (o *Orchestrator) SetMetrics(m *observability.IngestMetrics) { o.metrics = m }

// AddPostHook registers a post-ingestion hook. Optional.
func (o *Orchestrator) AddPostHook(h PostHook) { o.hooks = append(o.hooks, h) }

// Run executes one ingestion attempt. The returned job always carries a
// terminal status; the error is non-nil only when the attempt could not
// even be recorded in the ledger.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*domain.IngestionJob, error) {
	path, err := filepath.Abs(req.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path: %w", err)
	}

	// The job row exists before any heavy work: no attempt is invisible.
	job := domain.NewJob(req.Source, path)
	if err := o.jobs.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create ledger entry: %w", err)
	}

	ctx, span := o.tracer.Start(ctx, "ingest.run",
		trace.WithAttributes(
			attribute.String("file.path", path),
			attribute.String("source.kind", string(req.Source)),
			attribute.Bool("force", req.Force),
		))
	defer span.End()

	o.execute(ctx, job, req, path)

	if err := o.jobs.Finalize(ctx, job); err != nil {
		log.Error().Err(err).Str("job_id", job.ID).Msg("Failed to finalize ledger entry")
	}
	o.metrics.ObserveJob(job)

	span.SetAttributes(
		attribute.String("job.status", string(job.Status)),
		attribute.Int("job.messages_added", job.MessagesAdded),
		attribute.Bool("job.incremental", job.Incremental),
	)
	if job.Status == domain.StatusFailed {
		span.SetStatus(codes.Error, job.ErrorMessage)
	}

	log.Info().
		Str("job_id", job.ID).
		Str("file", path).
		Str("source", string(req.Source)).
		Str("status", string(job.Status)).
		Bool("incremental", job.Incremental).
		Int("messages_added", job.MessagesAdded).
		Int64("duration_ms", job.ProcessingTimeMs).
		Msg("Ingestion attempt finished")

	return job, nil
}

// IngestBytes spools an uploaded byte stream into the staging directory and
// runs the normal file pipeline on it.
func (o *Orchestrator) IngestBytes(ctx context.Context, r io.Reader, name string, source domain.SourceKind, force bool) (*domain.IngestionJob, error) {
	if o.cfg.StagingDir == "" {
		return nil, fmt.Errorf("no staging directory configured")
	}
	if err := os.MkdirAll(o.cfg.StagingDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}

	base := filepath.Base(name)
	if base == "." || base == string(filepath.Separator) {
		base = "upload.jsonl"
	}
	dst := filepath.Join(o.cfg.StagingDir, fmt.Sprintf("%s-%s", uuid.NewString()[:8], base))

	f, err := os.Create(dst)
	if err != nil {
		return nil, fmt.Errorf("failed to create staging file: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(dst)
		return nil, fmt.Errorf("failed to spool upload: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to close staging file: %w", err)
	}

	return o.Run(ctx, Request{Path: dst, Source: source, Force: force})
}

// execute runs the state machine and leaves job with a terminal status set.
func (o *Orchestrator) execute(ctx context.Context, job *domain.IngestionJob, req Request, path string) {
	unlockPath := o.pathLocks.lock(path)
	defer unlockPath()

	sw := newStopwatch(job)

	// Dedup: whole-file identity by content hash, not by path.
	contentHash, size, err := hashutil.HashFile(path)
	if err != nil {
		o.failJob(job, fmt.Errorf("failed to hash file: %w", err))
		return
	}
	unlockHash := o.hashLocks.lock(contentHash)
	defer unlockHash()

	existing, err := o.states.GetByContentHash(ctx, contentHash)
	if err != nil {
		o.failJob(job, err)
		return
	}
	if existing != nil && existing.FilePath != path {
		if !req.Force {
			job.Status = domain.StatusDuplicate
			job.RawLogRef = existing.FilePath
			job.ConversationRef = existing.ConversationRef
			sw.mark("dedup")
			return
		}
		o.dropIdentity(ctx, existing)
	}

	st, err := o.states.Get(ctx, path)
	if err != nil {
		o.failJob(job, err)
		return
	}
	if req.Force && st != nil {
		o.dropIdentity(ctx, st)
		st = nil
	}
	sw.mark("dedup")

	// ChangeDetect: only the previously-consumed prefix is rehashed.
	change := domain.ChangeAppend // first-time files append from offset zero
	if st != nil {
		snap := detect.Snapshot{
			StoredSize:        st.FileSizeBytes,
			StoredOffset:      st.LastProcessedOffset,
			StoredPartialHash: st.PartialHash,
		}
		change, err = detect.Classify(size, snap, func(n int64) (string, error) {
			return hashutil.HashRange(path, 0, n)
		})
		if err != nil {
			// Invalid state and hashing I/O errors both degrade to a full
			// reparse instead of failing the attempt.
			cdErr := err
			if !errors.Is(err, domain.ErrInvalidState) {
				cdErr = &domain.ChangeDetectionError{Path: path, Err: err}
			}
			log.Warn().Err(cdErr).Str("file", path).Msg("Change detection degraded, forcing full reparse")
			job.Metrics.Warnings = append(job.Metrics.Warnings, cdErr.Error())
			change = domain.ChangeRewrite
		}

		if change == domain.ChangeUnchanged {
			job.Status = domain.StatusSkipped
			job.RawLogRef = path
			job.ConversationRef = st.ConversationRef
			sw.mark("change_detect")
			return
		}

		log.Debug().
			Str("file", path).
			Str("change", change.String()).
			Int64("stored_offset", st.LastProcessedOffset).
			Int64("current_size", size).
			Msg("Classified file change")
	}

	incremental := st != nil && change == domain.ChangeAppend
	var startOffset, startLine int64
	if incremental {
		startOffset = st.LastProcessedOffset
		startLine = st.LastProcessedLine
	}
	job.Incremental = incremental
	sw.mark("change_detect")

	// Parse: an already-identified file reuses its recorded parser.
	var pc parser.Capability
	if st != nil && st.ParserName != "" {
		if c, ok := o.registry.Get(st.ParserName); ok {
			pc = c
		}
	}
	if pc == nil {
		pc, err = o.registry.Select(path)
		if err != nil {
			o.failJob(job, err)
			return
		}
	}
	job.Metrics.ParserName = pc.Name()
	job.Metrics.ParserVersion = pc.Version()
	sw.mark("parser_select")

	convRef := ""
	if st != nil {
		convRef = st.ConversationRef
	}
	if convRef == "" {
		meta, err := pc.ParseMetadata(path)
		if err != nil {
			o.failJob(job, fmt.Errorf("failed to extract conversation metadata: %w", err))
			return
		}
		convRef, err = o.sink.CreateConversation(ctx, meta)
		if err != nil {
			o.failJob(job, err)
			return
		}
	}
	job.ConversationRef = convRef

	// Ingest: chunk loop, with a single full-reparse fallback for failed
	// incremental attempts.
	last, added, warnings, err := o.parseLoop(ctx, job, pc, path, convRef, startOffset, startLine)
	if err != nil {
		if !incremental {
			o.failJob(job, err)
			return
		}
		ipErr := &domain.IncrementalParseError{Path: path, Offset: startOffset, Err: err}
		log.Warn().Err(ipErr).Str("file", path).Msg("Incremental parse failed, falling back to full reparse")
		job.Metrics.Warnings = append(job.Metrics.Warnings, ipErr.Error())
		job.Incremental = false

		last, added, warnings, err = o.parseLoop(ctx, job, pc, path, convRef, 0, 0)
		if err != nil {
			o.failJob(job, fmt.Errorf("full reparse fallback failed: %w", err))
			return
		}
	}
	job.MessagesAdded = added
	job.Metrics.Warnings = append(job.Metrics.Warnings, warnings...)
	sw.mark("parse")

	// Postprocess: at most once, failures do not roll anything back.
	for _, hook := range o.hooks {
		if err := hook(ctx, convRef); err != nil {
			log.Warn().Err(err).Str("conversation", convRef).Msg("Postprocess hook failed")
			job.Metrics.Warnings = append(job.Metrics.Warnings, "postprocess: "+err.Error())
		}
	}
	sw.mark("postprocess")

	// Finalize: the only place RawLogState is written.
	finalHash := last.PartialHash
	if last.NextOffset != last.FileSizeBytes {
		// The file kept growing during the parse; the whole-file hash must
		// cover the size we are recording.
		finalHash, err = hashutil.HashRange(path, 0, last.FileSizeBytes)
		if err != nil {
			o.failJob(job, fmt.Errorf("failed to hash file for finalize: %w", err))
			return
		}
	}

	newState := &domain.RawLogState{
		FilePath:            path,
		ContentHash:         finalHash,
		PartialHash:         last.PartialHash,
		LastProcessedOffset: last.NextOffset,
		LastProcessedLine:   last.NextLine,
		FileSizeBytes:       last.FileSizeBytes,
		ConversationRef:     convRef,
		ParserName:          pc.Name(),
		ParserVersion:       pc.Version(),
	}
	if err := o.states.Save(ctx, newState); err != nil {
		o.failJob(job, err)
		return
	}
	job.RawLogRef = path
	job.Status = domain.StatusSuccess
	sw.mark("finalize")
}

// parseLoop drives ParseMessages until EOF, appending each chunk to the
// sink before requesting the next one. Per-chunk buffers are released
// between iterations, which is what keeps memory bounded by the chunk
// limit rather than the file size.
func (o *Orchestrator) parseLoop(ctx context.Context, job *domain.IngestionJob, pc parser.Capability, path, convRef string, offset, line int64) (domain.MessageChunk, int, []string, error) {
	var (
		last     domain.MessageChunk
		added    int
		warnings []string
	)

	for {
		if err := ctx.Err(); err != nil {
			return last, added, warnings, fmt.Errorf("ingestion cancelled: %w", err)
		}

		chunk, err := pc.ParseMessages(path, offset, line, o.cfg.ChunkLimit)
		if err != nil {
			return last, added, warnings, err
		}
		job.Metrics.Chunks++

		if len(chunk.Records) > 0 {
			if err := o.sink.AppendMessages(ctx, convRef, chunk.Records); err != nil {
				return last, added, warnings, err
			}
			added += len(chunk.Records)
		}
		warnings = append(warnings, chunk.Warnings...)

		progressed := chunk.NextOffset > offset
		offset = chunk.NextOffset
		line = chunk.NextLine
		last = chunk
		if chunk.IsLast || !progressed {
			// No progress without EOF means an unterminated tail record is
			// still being written; stop here and resume on a later attempt.
			return last, added, warnings, nil
		}
	}
}

// dropIdentity deletes a tracked identity and its downstream records, for
// forced re-ingestion.
func (o *Orchestrator) dropIdentity(ctx context.Context, st *domain.RawLogState) {
	if st.ConversationRef != "" {
		if err := o.sink.DeleteConversation(ctx, st.ConversationRef); err != nil {
			log.Warn().Err(err).Str("conversation", st.ConversationRef).Msg("Failed to delete conversation for forced re-ingest")
		}
	}
	if err := o.states.Delete(ctx, st.FilePath); err != nil {
		log.Warn().Err(err).Str("file", st.FilePath).Msg("Failed to delete raw log state for forced re-ingest")
	}
}

func (o *Orchestrator) failJob(job *domain.IngestionJob, err error) {
	job.Status = domain.StatusFailed
	job.ErrorMessage = err.Error()
	log.Error().Err(err).Str("job_id", job.ID).Str("file", job.FilePath).Msg("Ingestion attempt failed")
}

// stopwatch records per-stage wall time into the job metrics bag.
type stopwatch struct {
	job  *domain.IngestionJob
	prev time.Time
}

func newStopwatch(job *domain.IngestionJob) *stopwatch {
	return &stopwatch{job: job, prev: time.Now()}
}

func (s *stopwatch) mark(stage string) {
	now := time.Now()
	s.job.Metrics.StageDurationsMs[stage] = now.Sub(s.prev).Milliseconds()
	s.prev = now
}
