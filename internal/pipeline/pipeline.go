// Package pipeline composes catalog, fetch, parse and archive into the
// harvest run. Sessions are processed independently; one session failing
// never aborts the batch.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wimjan123/tweede-kamer-scraper/internal/export"
	"github.com/wimjan123/tweede-kamer-scraper/internal/models"
	"github.com/wimjan123/tweede-kamer-scraper/internal/vlos"
)

// Stage identifies where in the per-session state machine an outcome was
// decided.
type Stage string

const (
	StageResolve Stage = "resolve"
	StageFetch   Stage = "fetch"
	StageParse   Stage = "parse"
	StagePersist Stage = "persist"
)

// Status is the terminal state of one session.
type Status string

const (
	StatusDone     Status = "done"
	StatusSkipped  Status = "skipped"
	StatusFailed   Status = "failed"
	StatusCanceled Status = "canceled"
)

// Outcome records how one session ended.
type Outcome struct {
	SessionID string
	Status    Status
	Stage     Stage
	Err       error
}

// Summary are the final counters of a run.
type Summary struct {
	Done     int
	Skipped  int
	Failed   int
	Canceled int
}

// Resolver maps a session id to its canonical report reference.
type Resolver interface {
	Resolve(sessionID string) (models.ReportReference, error)
}

// Fetcher retrieves a report document by URL.
type Fetcher interface {
	Get(ctx context.Context, url string) ([]byte, error)
}

// Archiver is the resumable persistence layer.
type Archiver interface {
	ShouldSkip(sessionID string, force bool) bool
	Persist(t models.Transcript, rawXML []byte) error
}

// Recorder observes outcomes as they are decided.
type Recorder interface {
	Record(o Outcome)
}

// Options wire a Pipeline.
type Options struct {
	Resolver Resolver
	Fetcher  Fetcher
	Archive  Archiver
	Recorder Recorder        // optional
	Exporter export.Exporter // optional
	Log      *slog.Logger
	Workers  int
	Force    bool
	RunID    string
}

// Pipeline runs the harvest.
type Pipeline struct {
	opts Options
}

// New builds a Pipeline. Workers below 1 fall back to the sequential
// reference model.
func New(opts Options) *Pipeline {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	return &Pipeline{opts: opts}
}

// Run processes every session and returns the final counters. Each session
// is handled by exactly one goroutine, so there is at most one in-flight
// persist per session id. Cancellation stops new sessions; in-flight ones
// finish or abort via their context without leaving partial artifacts.
func (p *Pipeline) Run(ctx context.Context, sessions []models.Session) Summary {
	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(p.opts.Workers)

	var mu sync.Mutex
	var sum Summary

	for _, s := range sessions {
		s := s
		if gctx.Err() != nil {
			break
		}
		eg.Go(func() error {
			o := p.ProcessOne(gctx, s)

			mu.Lock()
			switch o.Status {
			case StatusDone:
				sum.Done++
			case StatusSkipped:
				sum.Skipped++
			case StatusFailed:
				sum.Failed++
			case StatusCanceled:
				sum.Canceled++
			}
			mu.Unlock()

			if p.opts.Recorder != nil {
				p.opts.Recorder.Record(o)
			}
			return nil
		})
	}

	eg.Wait()
	return sum
}

// ProcessOne drives a single session through
// resolve -> fetch -> parse -> persist.
func (p *Pipeline) ProcessOne(ctx context.Context, s models.Session) Outcome {
	log := p.opts.Log.With(slog.String("session", s.ID))

	if ctx.Err() != nil {
		// Not a failure: the session was never attempted, so it must not
		// show up in the failed listing of the run.
		log.Debug("canceled before processing")
		return Outcome{SessionID: s.ID, Status: StatusCanceled, Err: ctx.Err()}
	}

	if p.opts.Archive.ShouldSkip(s.ID, p.opts.Force) {
		log.Debug("output present, skipping")
		return Outcome{SessionID: s.ID, Status: StatusSkipped}
	}

	ref, err := p.opts.Resolver.Resolve(s.ID)
	if err != nil {
		return p.failed(log, s.ID, StageResolve, err)
	}

	raw, err := p.opts.Fetcher.Get(ctx, ref.URL)
	if err != nil {
		return p.failed(log, s.ID, StageFetch, err)
	}

	rep, err := vlos.Parse(raw)
	if err != nil {
		return p.failed(log, s.ID, StageParse, fmt.Errorf("session %s: %w", s.ID, err))
	}

	t := p.buildTranscript(s, ref, rep)
	if err := p.opts.Archive.Persist(t, raw); err != nil {
		return p.failed(log, s.ID, StagePersist, err)
	}

	if p.opts.Exporter != nil {
		if err := p.opts.Exporter.Export(ctx, t); err != nil {
			log.Warn("export failed", slog.Any("err", err))
		}
	}

	log.Info("session harvested", slog.Int("segments", len(t.Segments)))
	return Outcome{SessionID: s.ID, Status: StatusDone}
}

func (p *Pipeline) failed(log *slog.Logger, id string, stage Stage, err error) Outcome {
	log.Warn("session failed", slog.String("stage", string(stage)), slog.Any("err", err))
	return Outcome{SessionID: id, Status: StatusFailed, Stage: stage, Err: err}
}

func (p *Pipeline) buildTranscript(s models.Session, ref models.ReportReference, rep *vlos.Report) models.Transcript {
	title := rep.Title
	if title == "" {
		title = s.Title
	}
	date := rep.Date
	if date == "" {
		date = s.Date
	}

	segments := rep.Segments
	if segments == nil {
		segments = []models.Segment{}
	}

	return models.Transcript{
		MeetingID: s.ID,
		Title:     title,
		Date:      date,
		URL:       ref.URL,
		Segments:  segments,
		Metadata: models.Metadata{
			MeetingID:     s.ID,
			Title:         title,
			Date:          date,
			URL:           ref.URL,
			SegmentsCount: len(segments),
			RunID:         p.opts.RunID,
			HarvestedAt:   time.Now().UTC().Format(time.RFC3339),
		},
	}
}
