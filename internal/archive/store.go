// Package archive persists harvested transcripts. Each session yields three
// artifacts: the structured JSON, the raw XML with an embedded provenance
// comment, and a metadata sidecar. The structured JSON doubles as the
// resume signal, so it is committed last; a crash mid-persist can never
// leave a false "already done" marker.
package archive

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/wimjan123/tweede-kamer-scraper/internal/models"
)

const metadataMarker = "scraper-metadata:base64:"

// PersistError reports a failed output write.
type PersistError struct {
	SessionID string
	Path      string
	Err       error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("persist session %s (%s): %v", e.SessionID, e.Path, e.Err)
}

func (e *PersistError) Unwrap() error { return e.Err }

// Store lays out one output directory:
//
//	<dir>/<id>.json              structured transcript
//	<dir>/xml/<id>.xml           raw document with embedded metadata comment
//	<dir>/xml/<id>.metadata.json sidecar mirroring the embedded blob
type Store struct {
	dir    string
	xmlDir string
}

// NewStore creates the output layout under dir.
func NewStore(dir string) (*Store, error) {
	xmlDir := filepath.Join(dir, "xml")
	if err := os.MkdirAll(xmlDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	return &Store{dir: dir, xmlDir: xmlDir}, nil
}

// Dir returns the store's root directory.
func (s *Store) Dir() string { return s.dir }

// Has reports whether a session's structured output exists. This is the
// output index consulted for resume; it performs no writes.
func (s *Store) Has(sessionID string) bool {
	_, err := os.Stat(s.jsonPath(sessionID))
	return err == nil
}

// ShouldSkip reports whether processing for a session can be skipped.
func (s *Store) ShouldSkip(sessionID string, force bool) bool {
	return !force && s.Has(sessionID)
}

// Persist writes all three artifacts for a transcript. Writes are staged to
// temp files and renamed into place; the structured JSON rename happens
// only after the raw XML and sidecar are committed, and an existing JSON is
// removed before the first rename so an interrupted overwrite leaves the
// session looking unprocessed rather than half old, half new.
func (s *Store) Persist(t models.Transcript, rawXML []byte) error {
	id := t.MeetingID

	metaJSON, err := json.Marshal(t.Metadata)
	if err != nil {
		return &PersistError{SessionID: id, Err: err}
	}

	structured, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return &PersistError{SessionID: id, Err: err}
	}

	return s.commit(id, []artifact{
		{s.xmlPath(id), embedMetadata(rawXML, metaJSON)},
		{s.sidecarPath(id), metaJSON},
		{s.jsonPath(id), structured},
	}, true)
}

// PersistRaw rebuilds only the raw XML and its sidecar, leaving the
// structured JSON untouched. Used to restore raw artifacts for sessions
// whose structured output already exists.
func (s *Store) PersistRaw(t models.Transcript, rawXML []byte) error {
	id := t.MeetingID

	metaJSON, err := json.Marshal(t.Metadata)
	if err != nil {
		return &PersistError{SessionID: id, Err: err}
	}

	return s.commit(id, []artifact{
		{s.xmlPath(id), embedMetadata(rawXML, metaJSON)},
		{s.sidecarPath(id), metaJSON},
	}, false)
}

type artifact struct {
	path string
	data []byte
}

// commit stages every artifact to a temp file, then renames them into
// place in order. With dropSkipSignal the existing structured JSON is
// removed after staging and before the first rename; a crash mid-commit
// then leaves no skip signal instead of a stale one paired with new raw
// artifacts.
func (s *Store) commit(id string, artifacts []artifact, dropSkipSignal bool) error {
	var temps []string
	cleanup := func() {
		for _, tmp := range temps {
			os.Remove(tmp)
		}
	}

	for _, a := range artifacts {
		tmp, err := writeTemp(a.path, a.data)
		if err != nil {
			cleanup()
			return &PersistError{SessionID: id, Path: a.path, Err: err}
		}
		temps = append(temps, tmp)
	}

	if dropSkipSignal {
		if err := os.Remove(s.jsonPath(id)); err != nil && !os.IsNotExist(err) {
			cleanup()
			return &PersistError{SessionID: id, Path: s.jsonPath(id), Err: err}
		}
	}

	for i, a := range artifacts {
		if err := os.Rename(temps[i], a.path); err != nil {
			cleanup()
			return &PersistError{SessionID: id, Path: a.path, Err: err}
		}
	}
	return nil
}

func writeTemp(target string, data []byte) (string, error) {
	f, err := os.CreateTemp(filepath.Dir(target), "."+filepath.Base(target)+".tmp-*")
	if err != nil {
		return "", err
	}
	tmp := f.Name()
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return "", err
	}
	return tmp, nil
}

// embedMetadata inserts the base64 metadata comment directly after the XML
// declaration, or prepends it when no declaration is present.
func embedMetadata(rawXML, metaJSON []byte) []byte {
	comment := fmt.Sprintf("<!-- %s%s -->\n", metadataMarker, base64.StdEncoding.EncodeToString(metaJSON))

	if bytes.HasPrefix(bytes.TrimLeft(rawXML, " \t\r\n"), []byte("<?xml")) {
		if end := bytes.Index(rawXML, []byte("?>")); end != -1 {
			var out bytes.Buffer
			out.Write(rawXML[:end+2])
			out.WriteByte('\n')
			out.WriteString(comment)
			out.Write(rawXML[end+2:])
			return out.Bytes()
		}
	}
	return append([]byte(comment), rawXML...)
}

// ExtractMetadata decodes the embedded metadata comment of a raw output
// file.
func ExtractMetadata(rawXML []byte) (models.Metadata, error) {
	var meta models.Metadata

	start := bytes.Index(rawXML, []byte(metadataMarker))
	if start == -1 {
		return meta, fmt.Errorf("no embedded metadata comment")
	}
	rest := rawXML[start+len(metadataMarker):]
	end := bytes.Index(rest, []byte(" -->"))
	if end == -1 {
		return meta, fmt.Errorf("unterminated metadata comment")
	}

	decoded, err := base64.StdEncoding.DecodeString(string(rest[:end]))
	if err != nil {
		return meta, fmt.Errorf("decode metadata comment: %w", err)
	}
	if err := json.Unmarshal(decoded, &meta); err != nil {
		return meta, fmt.Errorf("unmarshal metadata comment: %w", err)
	}
	return meta, nil
}

// ReplaceMetadata swaps the embedded metadata comment of a raw output for
// the given JSON blob, leaving the rest of the document untouched.
// Documents without a comment get one embedded.
func ReplaceMetadata(rawXML, metaJSON []byte) []byte {
	start := bytes.Index(rawXML, []byte(metadataMarker))
	if start == -1 {
		return embedMetadata(rawXML, metaJSON)
	}
	rest := rawXML[start+len(metadataMarker):]
	end := bytes.Index(rest, []byte(" -->"))
	if end == -1 {
		return embedMetadata(rawXML, metaJSON)
	}

	var out bytes.Buffer
	out.Write(rawXML[:start+len(metadataMarker)])
	out.WriteString(base64.StdEncoding.EncodeToString(metaJSON))
	out.Write(rest[end:])
	return out.Bytes()
}

// List returns the session ids with structured output, sorted.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read output dir: %w", err)
	}

	var ids []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(e.Name(), ".json"))
	}
	sort.Strings(ids)
	return ids, nil
}

// ReadTranscript loads a session's structured output.
func (s *Store) ReadTranscript(sessionID string) (models.Transcript, error) {
	var t models.Transcript
	data, err := os.ReadFile(s.jsonPath(sessionID))
	if err != nil {
		return t, err
	}
	if err := json.Unmarshal(data, &t); err != nil {
		return t, fmt.Errorf("unmarshal transcript %s: %w", sessionID, err)
	}
	return t, nil
}

// ReadRawXML loads a session's raw document, embedded comment included.
func (s *Store) ReadRawXML(sessionID string) ([]byte, error) {
	return os.ReadFile(s.xmlPath(sessionID))
}

// ReadMetadata loads a session's sidecar metadata.
func (s *Store) ReadMetadata(sessionID string) (models.Metadata, error) {
	var meta models.Metadata
	data, err := os.ReadFile(s.sidecarPath(sessionID))
	if err != nil {
		return meta, err
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return meta, fmt.Errorf("unmarshal metadata %s: %w", sessionID, err)
	}
	return meta, nil
}

func (s *Store) jsonPath(id string) string    { return filepath.Join(s.dir, id+".json") }
func (s *Store) xmlPath(id string) string     { return filepath.Join(s.xmlDir, id+".xml") }
func (s *Store) sidecarPath(id string) string { return filepath.Join(s.xmlDir, id+".metadata.json") }
