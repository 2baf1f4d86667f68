package models

import "time"

// Session is one recorded parliamentary sitting as discovered in the
// Vergadering feed. Immutable after discovery.
type Session struct {
	ID    string `json:"id"`
	Title string `json:"title,omitempty"`
	Date  string `json:"date,omitempty"`
	URL   string `json:"url,omitempty"`
}

// ReportReference points at the verbatim report document for a session.
// The Verslag feed may publish several revisions per session; the catalog
// resolver picks one canonical reference.
type ReportReference struct {
	SessionID  string    `json:"session_id"`
	DocumentID string    `json:"document_id"`
	URL        string    `json:"url"`
	Updated    time.Time `json:"updated,omitempty"`
}

// Speaker identifies who is talking in a segment. Party and role vary over
// time for the same person, so the speaker is embedded per segment rather
// than stored once.
type Speaker struct {
	Name  string `json:"name"`
	Party string `json:"party,omitempty"`
	Role  string `json:"role,omitempty"`
}

// Segment is one contiguous span of speech. Timestamps keep the source's
// sortable textual form and may be empty when the source omits them.
type Segment struct {
	Speaker        Speaker `json:"speaker"`
	Text           string  `json:"text"`
	StartTimestamp string  `json:"start_timestamp,omitempty"`
	EndTimestamp   string  `json:"end_timestamp,omitempty"`
}

// Metadata is the provenance block embedded in the raw XML output and
// mirrored into the sidecar file.
type Metadata struct {
	MeetingID     string `json:"meeting_id"`
	Title         string `json:"title"`
	Date          string `json:"date"`
	URL           string `json:"url"`
	SegmentsCount int    `json:"segments_count"`
	RunID         string `json:"run_id,omitempty"`
	HarvestedAt   string `json:"harvested_at,omitempty"`
}

// Transcript is the structured output written per session.
type Transcript struct {
	MeetingID string    `json:"meeting_id"`
	Title     string    `json:"title"`
	Date      string    `json:"date"`
	URL       string    `json:"url"`
	Segments  []Segment `json:"segments"`
	Metadata  Metadata  `json:"metadata"`
}
