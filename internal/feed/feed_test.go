package feed_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wimjan123/tweede-kamer-scraper/internal/feed"
)

type stubFetcher struct {
	pages map[string][]byte
	errs  map[string]error
	calls []string
}

func (s *stubFetcher) Get(_ context.Context, url string) ([]byte, error) {
	s.calls = append(s.calls, url)
	if err, ok := s.errs[url]; ok {
		return nil, err
	}
	data, ok := s.pages[url]
	if !ok {
		return nil, fmt.Errorf("unexpected url %s", url)
	}
	return data, nil
}

func feedPage(next string, entries ...string) []byte {
	page := `<?xml version="1.0" encoding="utf-8"?>` + "\n" +
		`<feed xmlns="http://www.w3.org/2005/Atom">`
	if next != "" {
		page += `<link rel="next" href="` + next + `"/>`
	}
	for _, e := range entries {
		page += e
	}
	return []byte(page + `</feed>`)
}

func sessionEntry(id, soort, datum string) string {
	return fmt.Sprintf(`<entry>
		<id>https://example.org/%s</id>
		<title>vergadering %s</title>
		<updated>2024-03-01T10:00:00Z</updated>
		<content type="application/xml">
			<vergadering xmlns="http://www.tweedekamer.nl/xsd/tkData/v1-0" id="%s">
				<soort>%s</soort>
				<titel>Vergadering %s</titel>
				<datum>%s</datum>
			</vergadering>
		</content>
	</entry>`, id, id, id, soort, id, datum)
}

func reportEntry(docID, sessionID, href, updated string) string {
	return fmt.Sprintf(`<entry>
		<id>https://example.org/verslag/%s</id>
		<title>verslag</title>
		<updated>%s</updated>
		<link rel="enclosure" href="%s"/>
		<content type="application/xml">
			<verslag xmlns="http://www.tweedekamer.nl/xsd/tkData/v1-0" id="%s">
				<vergadering ref="%s"/>
				<status>Casco</status>
				<soort>Voorpublicatie</soort>
			</verslag>
		</content>
	</entry>`, docID, updated, href, docID, sessionID)
}

func drain(t *testing.T, r *feed.Reader) []feed.Entry {
	t.Helper()
	var out []feed.Entry
	for {
		e, err := r.Next(context.Background())
		if errors.Is(err, feed.Done) {
			return out
		}
		require.NoError(t, err)
		out = append(out, e)
	}
}

func TestReaderYieldsAllEntriesAcrossPages(t *testing.T) {
	base := "https://api.example.org/Feed"
	f := &stubFetcher{pages: map[string][]byte{
		base + "?category=Vergadering": feedPage(base+"?page=2",
			sessionEntry("a", "Plenair", "2024-01-01"),
			sessionEntry("b", "Plenair", "2024-01-02"),
			sessionEntry("c", "Commissie", "2024-01-03"),
		),
		base + "?page=2": feedPage(base+"?page=3",
			sessionEntry("d", "Plenair", "2024-01-04"),
			sessionEntry("e", "Plenair", "2024-01-05"),
		),
		base + "?page=3": feedPage(""),
	}}

	r := feed.NewReader(f, base, "Vergadering", 0)
	entries := drain(t, r)

	require.Len(t, entries, 5)
	require.Equal(t, 3, r.Pages())

	v, err := entries[0].Vergadering()
	require.NoError(t, err)
	require.Equal(t, "a", v.ID)
	require.Equal(t, "Plenair", v.Soort)
	require.Equal(t, "2024-01-01", v.Datum)
	require.Equal(t, "Vergadering a", v.Titel)
}

func TestReaderHonorsPageLimit(t *testing.T) {
	base := "https://api.example.org/Feed"
	f := &stubFetcher{pages: map[string][]byte{
		base + "?category=Vergadering": feedPage(base+"?page=2", sessionEntry("a", "Plenair", "2024-01-01")),
		base + "?page=2":               feedPage(base+"?page=3", sessionEntry("b", "Plenair", "2024-01-02")),
		base + "?page=3":               feedPage("", sessionEntry("c", "Plenair", "2024-01-03")),
	}}

	r := feed.NewReader(f, base, "Vergadering", 2)
	entries := drain(t, r)

	require.Len(t, entries, 2)
	require.Equal(t, 2, r.Pages())
	require.Len(t, f.calls, 2)
}

func TestReaderStopsOnEmptyPage(t *testing.T) {
	base := "https://api.example.org/Feed"
	// Terminal page still advertises a next link; the empty entry set wins.
	f := &stubFetcher{pages: map[string][]byte{
		base + "?category=Vergadering": feedPage(base+"?page=2", sessionEntry("a", "Plenair", "2024-01-01")),
		base + "?page=2":               feedPage(base + "?page=3"),
	}}

	r := feed.NewReader(f, base, "Vergadering", 0)
	entries := drain(t, r)

	require.Len(t, entries, 1)
	require.Len(t, f.calls, 2)
}

func TestReaderSurfacesPageFailureAfterPartialYield(t *testing.T) {
	base := "https://api.example.org/Feed"
	pageErr := errors.New("boom")
	f := &stubFetcher{
		pages: map[string][]byte{
			base + "?category=Vergadering": feedPage(base+"?page=2", sessionEntry("a", "Plenair", "2024-01-01")),
		},
		errs: map[string]error{base + "?page=2": pageErr},
	}

	r := feed.NewReader(f, base, "Vergadering", 0)

	e, err := r.Next(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, e.ID)

	_, err = r.Next(context.Background())
	require.ErrorIs(t, err, pageErr)

	// The error is sticky.
	_, err = r.Next(context.Background())
	require.ErrorIs(t, err, pageErr)
}

func TestReaderToleratesBOMAndLegacyNamespace(t *testing.T) {
	base := "https://api.example.org/Feed"
	bom := []byte{0xEF, 0xBB, 0xBF}
	page := []byte(`<?xml version="1.0" encoding="utf-8"?>
		<feed xmlns="http://www.w3.org/2005/Atom">
			<entry>
				<id>x</id>
				<content>
					<vergadering xmlns="http://www.tweedekamer.nl/xsd/tkData/v2-0" id="x">
						<soort>Plenair</soort>
					</vergadering>
				</content>
			</entry>
		</feed>`)

	f := &stubFetcher{pages: map[string][]byte{
		base + "?category=Vergadering": append(bom, page...),
	}}

	r := feed.NewReader(f, base, "Vergadering", 0)
	entries := drain(t, r)
	require.Len(t, entries, 1)

	v, err := entries[0].Vergadering()
	require.NoError(t, err)
	require.Equal(t, "x", v.ID)
	require.Equal(t, "Plenair", v.Soort)
}

func TestEntryVerslagAndEnclosure(t *testing.T) {
	base := "https://api.example.org/Feed"
	f := &stubFetcher{pages: map[string][]byte{
		base + "?category=Verslag": feedPage("",
			reportEntry("doc-1", "sess-1", "https://example.org/resource/doc-1", "2024-03-01T10:00:00Z"),
		),
	}}

	r := feed.NewReader(f, base, "Verslag", 0)
	entries := drain(t, r)
	require.Len(t, entries, 1)

	v, err := entries[0].Verslag()
	require.NoError(t, err)
	require.Equal(t, "doc-1", v.ID)
	require.Equal(t, "sess-1", v.Vergadering.Ref)
	require.Equal(t, "https://example.org/resource/doc-1", entries[0].EnclosureHref())
}
