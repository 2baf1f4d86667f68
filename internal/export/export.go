// Package export hands persisted transcripts to optional downstream
// systems. The archive on disk stays the source of truth; exporters are
// best-effort and their failures never fail the pipeline.
package export

import (
	"context"
	"log/slog"

	"github.com/wimjan123/tweede-kamer-scraper/internal/models"
)

// Exporter publishes one transcript downstream.
type Exporter interface {
	Export(ctx context.Context, t models.Transcript) error
	Name() string
}

// Multi fans a transcript out to several exporters. A failing exporter is
// logged and skipped.
type Multi struct {
	exporters []Exporter
	log       *slog.Logger
}

// NewMulti bundles exporters; returns nil when none are given so callers
// can test for "no export configured".
func NewMulti(log *slog.Logger, exporters ...Exporter) *Multi {
	if len(exporters) == 0 {
		return nil
	}
	return &Multi{exporters: exporters, log: log}
}

func (m *Multi) Name() string { return "multi" }

// Export delivers to every exporter, logging failures as warnings.
func (m *Multi) Export(ctx context.Context, t models.Transcript) error {
	for _, e := range m.exporters {
		if err := e.Export(ctx, t); err != nil {
			m.log.Warn("export failed",
				slog.String("exporter", e.Name()),
				slog.String("meeting_id", t.MeetingID),
				slog.Any("err", err),
			)
		}
	}
	return nil
}
