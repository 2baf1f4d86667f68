package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wimjan123/tweede-kamer-scraper/internal/archive"
	"github.com/wimjan123/tweede-kamer-scraper/internal/config"
	"github.com/wimjan123/tweede-kamer-scraper/internal/ledger"
	"github.com/wimjan123/tweede-kamer-scraper/internal/models"
	"github.com/wimjan123/tweede-kamer-scraper/internal/pipeline"
)

func TestLedgerRecorderPersistsOutcomes(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	l, err := ledger.Open(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	defer l.Close()

	require.NoError(t, l.BeginRun("run-1", time.Now()))

	rec := &ledgerRecorder{runID: "run-1", ledger: l, log: log}
	rec.Record(pipeline.Outcome{SessionID: "sess-ok", Status: pipeline.StatusDone})
	rec.Record(pipeline.Outcome{
		SessionID: "sess-bad",
		Status:    pipeline.StatusFailed,
		Stage:     pipeline.StageParse,
		Err:       errors.New("bad xml"),
	})
	rec.Record(pipeline.Outcome{
		SessionID: "sess-cut",
		Status:    pipeline.StatusCanceled,
		Err:       context.Canceled,
	})

	// Canceled sessions are recorded but never listed as failures.
	failed, err := l.FailedSessions("run-1")
	require.NoError(t, err)
	require.Len(t, failed, 1)
	require.Equal(t, "sess-bad", failed[0].SessionID)
	require.Equal(t, "parse", failed[0].Stage)
	require.Equal(t, "bad xml", failed[0].Error)
}

func TestPrintFailedSessionsWithoutLedger(t *testing.T) {
	err := printFailedSessions(t.TempDir())
	require.Error(t, err)
}

type stubDocFetcher struct {
	docs  map[string][]byte
	calls []string
}

func (s *stubDocFetcher) Get(_ context.Context, url string) ([]byte, error) {
	s.calls = append(s.calls, url)
	doc, ok := s.docs[url]
	if !ok {
		return nil, fmt.Errorf("unexpected url %s", url)
	}
	return doc, nil
}

func extractTranscript(id, url string) models.Transcript {
	return models.Transcript{
		MeetingID: id,
		Title:     "Vergadering " + id,
		Date:      "2024-03-01",
		URL:       url,
		Segments:  []models.Segment{},
		Metadata: models.Metadata{
			MeetingID: id,
			Title:     "Vergadering " + id,
			Date:      "2024-03-01",
			URL:       url,
		},
	}
}

func TestExtractRawArtifactsRebuildsMissingXML(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := archive.NewStore(t.TempDir())
	require.NoError(t, err)

	rawDoc := []byte(`<?xml version="1.0"?><vergaderverslag/>`)
	lost := extractTranscript("sess-lost", "https://example.org/doc/sess-lost")
	intact := extractTranscript("sess-ok", "https://example.org/doc/sess-ok")
	require.NoError(t, store.Persist(lost, rawDoc))
	require.NoError(t, store.Persist(intact, rawDoc))

	require.NoError(t, os.Remove(filepath.Join(store.Dir(), "xml", "sess-lost.xml")))
	require.NoError(t, os.Remove(filepath.Join(store.Dir(), "xml", "sess-lost.metadata.json")))

	f := &stubDocFetcher{docs: map[string][]byte{
		"https://example.org/doc/sess-lost": rawDoc,
	}}

	rebuilt, scanned, err := extractRawArtifacts(context.Background(), log, store, f, false)
	require.NoError(t, err)
	require.Equal(t, 2, scanned)
	require.Equal(t, 1, rebuilt)

	// Only the session with missing artifacts is refetched.
	require.Equal(t, []string{"https://example.org/doc/sess-lost"}, f.calls)

	raw, err := store.ReadRawXML("sess-lost")
	require.NoError(t, err)
	embedded, err := archive.ExtractMetadata(raw)
	require.NoError(t, err)
	require.Equal(t, lost.Metadata, embedded)

	sidecar, err := store.ReadMetadata("sess-lost")
	require.NoError(t, err)
	require.Equal(t, embedded, sidecar)
}

func TestExtractRawArtifactsForceRebuildsAll(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := archive.NewStore(t.TempDir())
	require.NoError(t, err)

	rawDoc := []byte(`<?xml version="1.0"?><vergaderverslag/>`)
	tr := extractTranscript("sess-1", "https://example.org/doc/sess-1")
	require.NoError(t, store.Persist(tr, rawDoc))

	f := &stubDocFetcher{docs: map[string][]byte{
		"https://example.org/doc/sess-1": rawDoc,
	}}

	rebuilt, scanned, err := extractRawArtifacts(context.Background(), log, store, f, true)
	require.NoError(t, err)
	require.Equal(t, 1, scanned)
	require.Equal(t, 1, rebuilt)
	require.Len(t, f.calls, 1)
}

func TestBuildExporterDisabledByDefault(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := &config.Scraper{}

	exporter, closeAll, err := buildExporter(cfg, log)
	require.NoError(t, err)
	require.Nil(t, exporter)
	closeAll()
}
