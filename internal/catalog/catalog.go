// Package catalog builds the two read-only mappings the pipeline runs
// against: the set of known sessions and the session-to-report index.
package catalog

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/wimjan123/tweede-kamer-scraper/internal/feed"
	"github.com/wimjan123/tweede-kamer-scraper/internal/models"
)

// ErrNoReport is returned by Resolve when no report reference exists for a
// session.
var ErrNoReport = errors.New("catalog: no report for session")

// Catalog is the full set of sessions discovered in the Vergadering feed,
// in stable insertion order.
type Catalog struct {
	sessions []models.Session
	seen     map[string]bool
}

// BuildCatalog drains the session feed. When soort is non-empty only
// sessions of that type (e.g. Plenair) are kept. Duplicate identifiers keep
// the first occurrence. A feed failure aborts the build; this is an
// unrecoverable precondition for the run.
func BuildCatalog(ctx context.Context, r *feed.Reader, soort string, log *slog.Logger) (*Catalog, error) {
	c := &Catalog{seen: make(map[string]bool)}

	for {
		e, err := r.Next(ctx)
		if errors.Is(err, feed.Done) {
			break
		}
		if err != nil {
			return nil, err
		}

		v, err := e.Vergadering()
		if err != nil {
			log.Debug("skipping undecodable session entry", slog.String("entry", e.ID), slog.Any("err", err))
			continue
		}
		if v.ID == "" {
			continue
		}
		if soort != "" && !strings.EqualFold(v.Soort, soort) {
			continue
		}
		if c.seen[v.ID] {
			continue
		}

		c.seen[v.ID] = true
		c.sessions = append(c.sessions, models.Session{
			ID:    v.ID,
			Title: v.Titel,
			Date:  v.Datum,
			URL:   e.SelfHref(),
		})
	}

	return c, nil
}

// Sessions returns all known sessions in discovery order.
func (c *Catalog) Sessions() []models.Session { return c.sessions }

// Len reports the number of known sessions.
func (c *Catalog) Len() int { return len(c.sessions) }

// Resolver maps a session identifier to its canonical report reference.
// Candidates referencing sessions outside the current catalog are retained;
// reports may point at sessions the session feed did not enumerate.
type Resolver struct {
	candidates map[string][]models.ReportReference
}

// BuildResolver drains the report feed, retaining every candidate per
// session until canonical selection at resolve time.
func BuildResolver(ctx context.Context, r *feed.Reader, log *slog.Logger) (*Resolver, error) {
	res := &Resolver{candidates: make(map[string][]models.ReportReference)}

	for {
		e, err := r.Next(ctx)
		if errors.Is(err, feed.Done) {
			break
		}
		if err != nil {
			return nil, err
		}

		v, err := e.Verslag()
		if err != nil {
			log.Debug("skipping undecodable report entry", slog.String("entry", e.ID), slog.Any("err", err))
			continue
		}

		ref := models.ReportReference{
			SessionID:  v.Vergadering.Ref,
			DocumentID: v.ID,
			URL:        e.EnclosureHref(),
			Updated:    e.Updated,
		}
		if ref.SessionID == "" || ref.URL == "" {
			continue
		}
		res.candidates[ref.SessionID] = append(res.candidates[ref.SessionID], ref)
	}

	return res, nil
}

// Resolve returns the canonical report reference for a session, or
// ErrNoReport. Selection is deterministic under any discovery order: the
// latest feed timestamp wins, ties go to the lexicographically greatest
// document id.
func (r *Resolver) Resolve(sessionID string) (models.ReportReference, error) {
	refs := r.candidates[sessionID]
	if len(refs) == 0 {
		return models.ReportReference{}, ErrNoReport
	}

	best := refs[0]
	for _, ref := range refs[1:] {
		if ref.Updated.After(best.Updated) {
			best = ref
			continue
		}
		if ref.Updated.Equal(best.Updated) && ref.DocumentID > best.DocumentID {
			best = ref
		}
	}
	return best, nil
}

// Len reports how many sessions have at least one report candidate.
func (r *Resolver) Len() int { return len(r.candidates) }

// All returns the canonical report URL per session id, for the dump-links
// mode.
func (r *Resolver) All() map[string]string {
	out := make(map[string]string, len(r.candidates))
	for id := range r.candidates {
		ref, err := r.Resolve(id)
		if err != nil {
			continue
		}
		out[id] = ref.URL
	}
	return out
}
