// Package service wires the ingestion components together and owns their
// lifecycle: storage, sink, orchestrator, watcher and the metrics endpoint.
package service

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"go.etcd.io/bbolt"

	"github.com/convolog/ingestd/internal/clickhouse"
	"github.com/convolog/ingestd/internal/config"
	"github.com/convolog/ingestd/internal/ingest"
	"github.com/convolog/ingestd/internal/ledger"
	"github.com/convolog/ingestd/internal/observability"
	"github.com/convolog/ingestd/internal/parser"
	"github.com/convolog/ingestd/internal/sink"
	"github.com/convolog/ingestd/internal/state"
	"github.com/convolog/ingestd/internal/watch"
)

// staleJobCutoff is how old a processing job must be before the startup
// recovery sweep declares it interrupted.
const staleJobCutoff = time.Minute

// IngestService is the daemon-side composition root.
type IngestService struct {
	cfg *config.Config

	db      *bbolt.DB
	states  *state.Store
	jobs    *ledger.Ledger
	snk     sink.ConversationSink
	orch    *ingest.Orchestrator
	watcher *watch.Watcher

	metricsSrv *http.Server
}

// NewIngestService builds the full pipeline from configuration.
func NewIngestService(cfg *config.Config) (*IngestService, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	db, err := state.Open(filepath.Join(cfg.DataDir, "ingestd.db"))
	if err != nil {
		return nil, err
	}
	states := state.NewStore(db)
	jobs := ledger.New(db)

	opts, err := parser.LoadOptions(cfg.ParserOptionsPath)
	if err != nil {
		db.Close()
		return nil, err
	}
	registry := parser.BuildRegistry(opts)

	var snk sink.ConversationSink
	if cfg.ReadOnly {
		log.Info().Msg("Read-only mode: using in-memory sink")
		snk = sink.NewMemorySink()
	} else {
		client, err := clickhouse.NewClient(cfg.ClickHouseHost, cfg.ClickHousePort, cfg.ClickHouseDB)
		if err != nil {
			db.Close()
			return nil, err
		}
		snk, err = sink.NewClickHouseSink(context.Background(), client)
		if err != nil {
			client.Close()
			db.Close()
			return nil, err
		}
	}

	orch := ingest.New(states, jobs, snk, registry, ingest.Config{
		ChunkLimit: cfg.ChunkLimit,
		StagingDir: cfg.StagingDir,
	})

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	orch.SetMetrics(observability.NewIngestMetrics(reg))

	watcher := watch.New(watch.Config{
		Dirs:           cfg.LogDirs,
		RescanInterval: cfg.RescanInterval,
		Workers:        cfg.Workers,
	}, orch, watch.NewRetryCoordinator(nil))

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	metricsSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.MetricsPort),
		Handler: mux,
	}

	return &IngestService{
		cfg:        cfg,
		db:         db,
		states:     states,
		jobs:       jobs,
		snk:        snk,
		orch:       orch,
		watcher:    watcher,
		metricsSrv: metricsSrv,
	}, nil
}

// Orchestrator exposes the ingestion entry point for non-watch callers.
func (s *IngestService) Orchestrator() *ingest.Orchestrator {
	return s.orch
}

// Start runs the recovery sweep, the metrics endpoint and the watcher.
// Blocks until the context is cancelled.
func (s *IngestService) Start(ctx context.Context) error {
	if _, err := s.jobs.RecoverStale(ctx, staleJobCutoff); err != nil {
		log.Warn().Err(err).Msg("Recovery sweep failed")
	}

	go func() {
		log.Info().Int("port", s.cfg.MetricsPort).Msg("Serving metrics")
		if err := s.metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("Metrics server error")
		}
	}()

	return s.watcher.Start(ctx)
}

// Stop shuts everything down in reverse dependency order.
func (s *IngestService) Stop() error {
	s.watcher.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.metricsSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Metrics server shutdown error")
	}

	if err := s.snk.Close(); err != nil {
		log.Warn().Err(err).Msg("Sink close error")
	}
	return s.db.Close()
}
