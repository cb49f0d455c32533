// Command ingest is the one-shot CLI entry point: it runs files through
// the same ingestion pipeline as the daemon and prints each job's outcome.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/convolog/ingestd/internal/clickhouse"
	"github.com/convolog/ingestd/internal/domain"
	"github.com/convolog/ingestd/internal/ingest"
	"github.com/convolog/ingestd/internal/ledger"
	"github.com/convolog/ingestd/internal/observability"
	"github.com/convolog/ingestd/internal/parser"
	"github.com/convolog/ingestd/internal/sink"
	"github.com/convolog/ingestd/internal/state"
)

func main() {
	// All teardown happens inside run; calling os.Exit there would skip the
	// deferred closes and leave the bolt lock and sink connection dangling.
	os.Exit(run())
}

func run() int {
	var (
		dataDir       = pflag.String("data-dir", "data", "directory holding the ingestion state database")
		force         = pflag.Bool("force", false, "delete any existing identity and re-ingest from scratch")
		chunkLimit    = pflag.Int("chunk-limit", parser.DefaultChunkLimit, "records per parse chunk")
		readOnly      = pflag.Bool("read-only", false, "do not write to ClickHouse; sink in memory")
		chHost        = pflag.String("clickhouse-host", "localhost", "ClickHouse host")
		chPort        = pflag.Int("clickhouse-port", 9000, "ClickHouse native port")
		chDB          = pflag.String("clickhouse-db", "conversations", "ClickHouse database")
		parserOptions = pflag.String("parser-options", "", "YAML file overriding parser registry options")
		listJobs      = pflag.Int("jobs", 0, "list the N most recent ingestion jobs and exit")
		logLevel      = pflag.String("log-level", "warn", "log level")
	)
	pflag.Parse()

	observability.InitLogger(*logLevel, "")

	if *listJobs <= 0 && pflag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: ingest [flags] FILE...")
		pflag.PrintDefaults()
		return 2
	}

	db, err := state.Open(filepath.Join(*dataDir, "ingestd.db"))
	if err != nil {
		log.Error().Err(err).Msg("Failed to open state database")
		return 1
	}
	defer db.Close()

	jobs := ledger.New(db)
	ctx := context.Background()

	if *listJobs > 0 {
		if err := printJobs(ctx, jobs, *listJobs); err != nil {
			log.Error().Err(err).Msg("Failed to list jobs")
			return 1
		}
		return 0
	}

	opts, err := parser.LoadOptions(*parserOptions)
	if err != nil {
		log.Error().Err(err).Msg("Failed to load parser options")
		return 1
	}

	var snk sink.ConversationSink
	if *readOnly {
		snk = sink.NewMemorySink()
	} else {
		client, err := clickhouse.NewClient(*chHost, *chPort, *chDB)
		if err != nil {
			log.Error().Err(err).Msg("Failed to connect to ClickHouse")
			return 1
		}
		snk, err = sink.NewClickHouseSink(ctx, client)
		if err != nil {
			client.Close()
			log.Error().Err(err).Msg("Failed to initialize sink")
			return 1
		}
	}
	defer snk.Close()

	orch := ingest.New(state.NewStore(db), jobs, snk, parser.BuildRegistry(opts), ingest.Config{
		ChunkLimit: *chunkLimit,
	})

	exitCode := 0
	for _, path := range pflag.Args() {
		job, err := orch.Run(ctx, ingest.Request{
			Path:   path,
			Source: domain.SourceCLI,
			Force:  *force,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
			exitCode = 1
			continue
		}
		printJob(job)
		if job.Status == domain.StatusFailed {
			exitCode = 1
		}
	}
	return exitCode
}

func printJob(job *domain.IngestionJob) {
	switch job.Status {
	case domain.StatusSuccess:
		mode := "full"
		if job.Incremental {
			mode = "incremental"
		}
		fmt.Printf("%s: %s (%s, %d messages, %d ms)\n",
			job.FilePath, job.Status, mode, job.MessagesAdded, job.ProcessingTimeMs)
	case domain.StatusFailed:
		fmt.Printf("%s: %s (%s)\n", job.FilePath, job.Status, job.ErrorMessage)
	default:
		fmt.Printf("%s: %s\n", job.FilePath, job.Status)
	}
	for _, warning := range job.Metrics.Warnings {
		fmt.Printf("  warning: %s\n", warning)
	}
}

func printJobs(ctx context.Context, jobs *ledger.Ledger, limit int) error {
	list, err := jobs.List(ctx, limit)
	if err != nil {
		return err
	}
	for _, job := range list {
		fmt.Printf("%s  %-9s  %-6s  msgs=%-5d  %s\n",
			job.StartedAt.Format("2006-01-02 15:04:05"),
			job.Status, job.SourceKind, job.MessagesAdded, job.FilePath)
		if job.ErrorMessage != "" {
			fmt.Printf("    error: %s\n", job.ErrorMessage)
		}
	}
	return nil
}
