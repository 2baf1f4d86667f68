package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"golang.org/x/time/rate"

	"github.com/wimjan123/tweede-kamer-scraper/internal/archive"
	"github.com/wimjan123/tweede-kamer-scraper/internal/catalog"
	"github.com/wimjan123/tweede-kamer-scraper/internal/config"
	"github.com/wimjan123/tweede-kamer-scraper/internal/export"
	"github.com/wimjan123/tweede-kamer-scraper/internal/feed"
	"github.com/wimjan123/tweede-kamer-scraper/internal/fetch"
	"github.com/wimjan123/tweede-kamer-scraper/internal/ledger"
	"github.com/wimjan123/tweede-kamer-scraper/internal/logger"
	"github.com/wimjan123/tweede-kamer-scraper/internal/models"
	"github.com/wimjan123/tweede-kamer-scraper/internal/pipeline"
)

func main() {
	_ = godotenv.Load()

	log := logger.New("scraper")
	cfg, err := config.LoadScraper()
	if err != nil {
		log.Error("load config", slog.Any("err", err))
		os.Exit(1)
	}

	// Flags are a thin override layer on top of the environment.
	out := flag.String("out", cfg.OutputDir, "output directory")
	maxPages := flag.Int("max-pages", cfg.MaxPages, "maximum feed pages per category (0 = unlimited)")
	delay := flag.Duration("delay", cfg.RequestDelay, "delay between outbound requests")
	workers := flag.Int("workers", cfg.Workers, "sessions processed concurrently")
	force := flag.Bool("force", cfg.Force, "overwrite existing output")
	sessionType := flag.String("session-type", cfg.SessionType, "session soort filter, empty keeps all")
	meetingID := flag.String("meeting", "", "process a single meeting id instead of the full catalog")
	printLink := flag.Bool("print-link", false, "with -meeting: print the canonical report URL and exit")
	dumpLinks := flag.Bool("dump-links", false, "dump the meeting to report URL map as JSON and exit")
	output := flag.String("output", "", "with -dump-links: write JSON to this file instead of stdout")
	listFailed := flag.Bool("failed", false, "list failed sessions from the last run and exit")
	extractXMLs := flag.Bool("extract-xmls", false, "rebuild missing raw XML artifacts from structured outputs and exit")
	flag.Parse()

	cfg.OutputDir = *out
	cfg.MaxPages = *maxPages
	cfg.RequestDelay = *delay
	cfg.Workers = *workers
	cfg.Force = *force
	cfg.SessionType = *sessionType

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if *listFailed {
		if err := printFailedSessions(cfg.OutputDir); err != nil {
			log.Error("list failed sessions", slog.Any("err", err))
			os.Exit(1)
		}
		return
	}

	var limiter *rate.Limiter
	if cfg.RequestDelay > 0 {
		limiter = rate.NewLimiter(rate.Every(cfg.RequestDelay), 1)
	}
	client := fetch.New(
		&http.Client{Timeout: cfg.RequestTimeout},
		fetch.RetryPolicy{MaxAttempts: cfg.RetryAttempts, Backoff: cfg.RetryBackoff},
		limiter,
		cfg.UserAgent,
	)

	if *extractXMLs {
		store, err := archive.NewStore(cfg.OutputDir)
		if err != nil {
			log.Error("init output store", slog.Any("err", err))
			os.Exit(1)
		}
		rebuilt, scanned, err := extractRawArtifacts(ctx, log, store, client, cfg.Force)
		if err != nil {
			log.Error("rebuild raw artifacts", slog.Any("err", err))
			os.Exit(1)
		}
		log.Info("raw artifact rebuild completed",
			slog.Int("scanned", scanned),
			slog.Int("rebuilt", rebuilt),
		)
		return
	}

	log.Info("building report index",
		slog.String("feed", cfg.FeedURL),
		slog.String("category", cfg.ReportCategory),
	)
	resolver, err := catalog.BuildResolver(ctx,
		feed.NewReader(client, cfg.FeedURL, cfg.ReportCategory, cfg.MaxPages), log)
	if err != nil {
		log.Error("build report index", slog.Any("err", err))
		os.Exit(1)
	}
	log.Info("report index built", slog.Int("sessions_with_reports", resolver.Len()))

	if *dumpLinks {
		if err := writeLinks(resolver, *output); err != nil {
			log.Error("dump links", slog.Any("err", err))
			os.Exit(1)
		}
		return
	}

	if *printLink {
		if *meetingID == "" {
			log.Error("-print-link requires -meeting")
			os.Exit(1)
		}
		ref, err := resolver.Resolve(*meetingID)
		if err != nil {
			log.Error("no report link found", slog.String("meeting", *meetingID))
			os.Exit(1)
		}
		fmt.Println(ref.URL)
		return
	}

	var sessions []models.Session
	if *meetingID != "" {
		// Single-session lookup mode; title and date come from the
		// report document itself.
		sessions = []models.Session{{ID: *meetingID}}
	} else {
		log.Info("building session catalog",
			slog.String("category", cfg.SessionCategory),
			slog.String("soort", cfg.SessionType),
		)
		cat, err := catalog.BuildCatalog(ctx,
			feed.NewReader(client, cfg.FeedURL, cfg.SessionCategory, cfg.MaxPages), cfg.SessionType, log)
		if err != nil {
			log.Error("build session catalog", slog.Any("err", err))
			os.Exit(1)
		}
		sessions = cat.Sessions()
		log.Info("session catalog built", slog.Int("sessions", cat.Len()))
	}

	store, err := archive.NewStore(cfg.OutputDir)
	if err != nil {
		log.Error("init output store", slog.Any("err", err))
		os.Exit(1)
	}

	runLedger, err := ledger.Open(filepath.Join(cfg.OutputDir, "runs.db"))
	if err != nil {
		log.Error("open run ledger", slog.Any("err", err))
		os.Exit(1)
	}
	defer runLedger.Close()

	runID := uuid.NewString()
	if err := runLedger.BeginRun(runID, time.Now()); err != nil {
		log.Error("begin run", slog.Any("err", err))
		os.Exit(1)
	}

	exporter, closeExporters, err := buildExporter(cfg, log)
	if err != nil {
		log.Error("init exporters", slog.Any("err", err))
		os.Exit(1)
	}
	defer closeExporters()

	p := pipeline.New(pipeline.Options{
		Resolver: resolver,
		Fetcher:  client,
		Archive:  store,
		Recorder: &ledgerRecorder{runID: runID, ledger: runLedger, log: log},
		Exporter: exporter,
		Log:      log,
		Workers:  cfg.Workers,
		Force:    cfg.Force,
		RunID:    runID,
	})

	log.Info("harvest starting",
		slog.String("run_id", runID),
		slog.Int("sessions", len(sessions)),
		slog.Int("workers", cfg.Workers),
	)

	sum := p.Run(ctx, sessions)

	if err := runLedger.FinishRun(runID, sum.Done, sum.Skipped, sum.Failed); err != nil {
		log.Error("finish run", slog.Any("err", err))
	}

	log.Info("harvest completed",
		slog.Int("done", sum.Done),
		slog.Int("skipped", sum.Skipped),
		slog.Int("failed", sum.Failed),
		slog.Int("canceled", sum.Canceled),
	)
}

// documentFetcher is the slice of the fetch client the recovery mode uses.
type documentFetcher interface {
	Get(ctx context.Context, url string) ([]byte, error)
}

// extractRawArtifacts rebuilds missing raw XML and sidecar files from the
// structured outputs, re-fetching each document by its stored URL. With
// force every session is rebuilt, not just those missing raw artifacts.
func extractRawArtifacts(ctx context.Context, log *slog.Logger, store *archive.Store, fetcher documentFetcher, force bool) (rebuilt, scanned int, err error) {
	ids, err := store.List()
	if err != nil {
		return 0, 0, err
	}

	for _, id := range ids {
		if ctx.Err() != nil {
			return rebuilt, scanned, ctx.Err()
		}
		scanned++

		if !force {
			if _, err := store.ReadRawXML(id); err == nil {
				continue
			}
		}

		t, err := store.ReadTranscript(id)
		if err != nil {
			log.Warn("read structured output", slog.String("session", id), slog.Any("err", err))
			continue
		}
		if t.URL == "" {
			log.Warn("no stored document url", slog.String("session", id))
			continue
		}

		raw, err := fetcher.Get(ctx, t.URL)
		if err != nil {
			log.Warn("refetch document", slog.String("session", id), slog.Any("err", err))
			continue
		}

		if err := store.PersistRaw(t, raw); err != nil {
			log.Warn("rebuild raw artifacts", slog.String("session", id), slog.Any("err", err))
			continue
		}
		log.Info("raw artifacts rebuilt", slog.String("session", id))
		rebuilt++
	}
	return rebuilt, scanned, nil
}

// ledgerRecorder streams pipeline outcomes into the run ledger.
type ledgerRecorder struct {
	runID  string
	ledger *ledger.Ledger
	log    *slog.Logger
}

func (r *ledgerRecorder) Record(o pipeline.Outcome) {
	msg := ""
	if o.Err != nil {
		msg = o.Err.Error()
	}
	if err := r.ledger.RecordOutcome(r.runID, o.SessionID, string(o.Status), string(o.Stage), msg); err != nil {
		r.log.Error("record outcome", slog.String("session", o.SessionID), slog.Any("err", err))
	}
}

func buildExporter(cfg *config.Scraper, log *slog.Logger) (export.Exporter, func(), error) {
	var exporters []export.Exporter
	closers := []func(){}

	if len(cfg.KafkaBrokers) > 0 {
		k := export.NewKafka(cfg.KafkaBrokers, cfg.KafkaTopic)
		exporters = append(exporters, k)
		closers = append(closers, func() { k.Close() })
	}

	if cfg.ElasticsearchAddr != "" {
		es, err := export.NewElasticsearch(cfg.ElasticsearchAddr, cfg.ElasticsearchIndex, log)
		if err != nil {
			return nil, func() {}, err
		}
		exporters = append(exporters, es)
	}

	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}
	if m := export.NewMulti(log, exporters...); m != nil {
		return m, closeAll, nil
	}
	return nil, closeAll, nil
}

func writeLinks(resolver *catalog.Resolver, path string) error {
	data, err := json.MarshalIndent(resolver.All(), "", "  ")
	if err != nil {
		return err
	}
	if path == "" {
		fmt.Println(string(data))
		return nil
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

func printFailedSessions(outputDir string) error {
	path := filepath.Join(outputDir, "runs.db")
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("no run ledger at %s", path)
	}

	l, err := ledger.Open(path)
	if err != nil {
		return err
	}
	defer l.Close()

	failed, err := l.FailedSessions("")
	if err != nil {
		return err
	}
	if len(failed) == 0 {
		fmt.Println("no failed sessions in last run")
		return nil
	}
	for _, o := range failed {
		fmt.Printf("%s\t%s\t%s\n", o.SessionID, o.Stage, o.Error)
	}
	return nil
}
