// Package feed reads the paginated Atom SyncFeed of the Dutch parliament's
// open data platform. A Reader walks rel="next" links lazily and yields raw
// entries until the terminal page or a configured page limit.
package feed

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/url"
	"time"

	"golang.org/x/net/html/charset"
)

// Done is returned by Next after the final entry has been yielded.
var Done = errors.New("feed: no more entries")

// Fetcher retrieves one page by URL.
type Fetcher interface {
	Get(ctx context.Context, url string) ([]byte, error)
}

// Link is an Atom link element.
type Link struct {
	Rel  string `xml:"rel,attr"`
	Href string `xml:"href,attr"`
}

// Entry is one raw feed entry. Content holds the embedded tkData XML
// verbatim; Vergadering and Verslag decode the two shapes this scraper
// consumes.
type Entry struct {
	ID      string    `xml:"id"`
	Title   string    `xml:"title"`
	Updated time.Time `xml:"updated"`
	Links   []Link    `xml:"link"`
	Content innerXML  `xml:"content"`
}

type innerXML struct {
	Raw []byte `xml:",innerxml"`
}

type page struct {
	Links   []Link  `xml:"link"`
	Entries []Entry `xml:"entry"`
}

// href returns the first link with the given rel, or "".
func href(links []Link, rel string) string {
	for _, l := range links {
		if l.Rel == rel {
			return l.Href
		}
	}
	return ""
}

// EnclosureHref returns the entry's enclosure link, the URL of the
// actual report document.
func (e Entry) EnclosureHref() string {
	return href(e.Links, "enclosure")
}

// SelfHref returns the entry's self link when present, else its Atom id.
func (e Entry) SelfHref() string {
	if h := href(e.Links, "self"); h != "" {
		return h
	}
	return e.ID
}

// Reader pages through one feed category. It is lazy, finite and
// non-restartable: a page fetch or parse failure ends the read, entries
// already yielded stay valid.
type Reader struct {
	fetcher  Fetcher
	nextURL  string
	maxPages int
	pages    int
	buf      []Entry
	err      error
	done     bool
}

// NewReader builds a Reader over baseURL filtered to the given category.
// maxPages <= 0 means unlimited; the limit counts pages fetched, not
// entries.
func NewReader(f Fetcher, baseURL, category string, maxPages int) *Reader {
	return &Reader{
		fetcher:  f,
		nextURL:  baseURL + "?category=" + url.QueryEscape(category),
		maxPages: maxPages,
	}
}

// Pages reports how many pages have been fetched so far.
func (r *Reader) Pages() int { return r.pages }

// Next returns the next entry, Done after the terminal page, or the error
// that ended the read. Subsequent calls after an error return the same
// error.
func (r *Reader) Next(ctx context.Context) (Entry, error) {
	for len(r.buf) == 0 {
		if r.err != nil {
			return Entry{}, r.err
		}
		if r.done {
			return Entry{}, Done
		}
		if r.nextURL == "" || (r.maxPages > 0 && r.pages >= r.maxPages) {
			r.done = true
			return Entry{}, Done
		}

		data, err := r.fetcher.Get(ctx, r.nextURL)
		if err != nil {
			r.err = err
			return Entry{}, err
		}
		r.pages++

		p, err := parsePage(data)
		if err != nil {
			r.err = fmt.Errorf("parse feed page %d: %w", r.pages, err)
			return Entry{}, r.err
		}

		r.nextURL = href(p.Links, "next")
		r.buf = p.Entries
		// An empty entry set marks the terminal page even when a next
		// link is still present.
		if len(r.buf) == 0 {
			r.done = true
			return Entry{}, Done
		}
	}

	e := r.buf[0]
	r.buf = r.buf[1:]
	return e, nil
}

func parsePage(data []byte) (*page, error) {
	d := newDecoder(stripBOM(data))
	var p page
	if err := d.Decode(&p); err != nil {
		return nil, err
	}
	return &p, nil
}

// newDecoder builds an XML decoder tolerant of the feed's declared
// encodings. Element matching is by local name so the known namespace
// variants of both Atom and tkData content resolve the same way.
func newDecoder(data []byte) *xml.Decoder {
	d := xml.NewDecoder(bytes.NewReader(data))
	d.CharsetReader = charset.NewReaderLabel
	return d
}

func stripBOM(data []byte) []byte {
	return bytes.TrimPrefix(data, []byte{0xEF, 0xBB, 0xBF})
}

// Vergadering is the session record embedded in a Vergadering feed entry.
type Vergadering struct {
	ID    string `xml:"id,attr"`
	Soort string `xml:"soort"`
	Titel string `xml:"titel"`
	Datum string `xml:"datum"`
}

// Verslag is the report record embedded in a Verslag feed entry. The
// vergadering child carries the session reference.
type Verslag struct {
	ID          string `xml:"id,attr"`
	Soort       string `xml:"soort"`
	Status      string `xml:"status"`
	Vergadering struct {
		Ref string `xml:"ref,attr"`
	} `xml:"vergadering"`
}

// Vergadering decodes the entry content as a session record.
func (e Entry) Vergadering() (Vergadering, error) {
	var v Vergadering
	if err := decodeContent(e.Content.Raw, &v); err != nil {
		return Vergadering{}, err
	}
	return v, nil
}

// Verslag decodes the entry content as a report record.
func (e Entry) Verslag() (Verslag, error) {
	var v Verslag
	if err := decodeContent(e.Content.Raw, &v); err != nil {
		return Verslag{}, err
	}
	return v, nil
}

func decodeContent(raw []byte, out any) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return io.ErrUnexpectedEOF
	}
	return newDecoder(trimmed).Decode(out)
}
