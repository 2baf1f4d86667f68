// Package vlos parses the VLOS vergaderverslag XML schema into
// speaker-attributed segments. Documents in the wild mix namespace
// variants, declared encodings and byte-order marks, so elements are
// resolved by local name against a small namespace alias table and decoding
// falls back to UTF-8 when the declared encoding does not hold.
package vlos

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"regexp"
	"strings"

	"golang.org/x/net/html/charset"

	"github.com/wimjan123/tweede-kamer-scraper/internal/models"
)

// ParseError reports a structurally unparseable document.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string { return fmt.Sprintf("parse transcript: %v", e.Err) }

func (e *ParseError) Unwrap() error { return e.Err }

// Report is the parsed transcript.
type Report struct {
	Title    string
	Date     string
	Encoding string
	Segments []models.Segment
}

// Known namespace variants for VLOS documents. The empty namespace covers
// documents that drop the declaration entirely.
var vlosNamespaces = map[string]bool{
	"": true,
	"http://www.tweedekamer.nl/ggm/vergaderverslag/v1.0": true,
	"http://www.tweedekamer.nl/xsd/vlos/v1-0":            true,
}

func knownNamespace(space string) bool {
	if vlosNamespaces[space] {
		return true
	}
	return strings.HasPrefix(space, "http://www.tweedekamer.nl/")
}

// Parse decodes a raw VLOS document into a Report. Segments preserve
// document order. A speech turn without text is dropped; a turn with text
// but no identifiable speaker is kept with an empty speaker name.
func Parse(data []byte) (*Report, error) {
	data = stripBOM(data)

	root, err := parseTree(data, false)
	if err != nil {
		// The declared encoding may be wrong; retry assuming UTF-8.
		root, err = parseTree(data, true)
		if err != nil {
			return nil, &ParseError{Err: err}
		}
	}

	rep := &Report{
		Title:    root.findText("titel"),
		Date:     root.findText("datum"),
		Encoding: declaredEncoding(data),
	}

	turns := root.findAll("woordvoering")
	if len(turns) == 0 {
		// Legacy documents attach paragraphs directly under spreker.
		turns = root.findAll("spreker")
	}

	for _, turn := range turns {
		seg := segmentFromTurn(turn)
		if seg.Text == "" {
			continue
		}
		rep.Segments = append(rep.Segments, seg)
	}

	return rep, nil
}

func segmentFromTurn(turn *node) models.Segment {
	speaker := turn
	if spreker := turn.find("spreker"); spreker != nil {
		speaker = spreker
	}

	name := speaker.findText("verslagnaam")
	if name == "" {
		name = speaker.findText("weergavenaam")
	}

	return models.Segment{
		Speaker: models.Speaker{
			Name:  name,
			Party: speaker.findText("fractie"),
			Role:  speaker.findText("functie"),
		},
		Text:           joinParagraphs(turn.findAll("alinea")),
		StartTimestamp: trimFraction(turn.findText("markeertijdbegin")),
		EndTimestamp:   trimFraction(turn.findText("markeertijdeind")),
	}
}

// joinParagraphs combines paragraph texts with single spaces, skipping
// empty ones.
func joinParagraphs(alineas []*node) string {
	parts := make([]string, 0, len(alineas))
	for _, a := range alineas {
		if txt := strings.TrimSpace(a.text()); txt != "" {
			parts = append(parts, txt)
		}
	}
	return strings.Join(parts, " ")
}

// trimFraction drops fractional seconds from a timestamp, keeping the
// sortable prefix.
func trimFraction(ts string) string {
	ts = strings.TrimSpace(ts)
	if i := strings.IndexByte(ts, '.'); i != -1 && strings.ContainsRune(ts, 'T') {
		return ts[:i]
	}
	return ts
}

var encodingDecl = regexp.MustCompile(`(?i)<\?xml[^>]*encoding=["']([^"']+)["']`)

func declaredEncoding(data []byte) string {
	head := data
	if len(head) > 256 {
		head = head[:256]
	}
	if m := encodingDecl.FindSubmatch(head); m != nil {
		return strings.ToLower(string(m[1]))
	}
	return "utf-8"
}

func stripBOM(data []byte) []byte {
	data = bytes.TrimPrefix(data, []byte{0xEF, 0xBB, 0xBF})
	data = bytes.TrimPrefix(data, []byte{0xFF, 0xFE})
	return bytes.TrimPrefix(data, []byte{0xFE, 0xFF})
}

// node is a light element tree; the schema nests activities recursively so
// fixed structs cannot express it.
type node struct {
	name     xml.Name
	children []*node
	chardata strings.Builder
}

func parseTree(data []byte, forceUTF8 bool) (*node, error) {
	d := xml.NewDecoder(bytes.NewReader(data))
	if forceUTF8 {
		d.CharsetReader = func(_ string, input io.Reader) (io.Reader, error) { return input, nil }
	} else {
		d.CharsetReader = charset.NewReaderLabel
	}

	root := &node{}
	stack := []*node{root}

	for {
		tok, err := d.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			n := &node{name: t.Name}
			parent := stack[len(stack)-1]
			parent.children = append(parent.children, n)
			stack = append(stack, n)
		case xml.EndElement:
			if len(stack) > 1 {
				stack = stack[:len(stack)-1]
			}
		case xml.CharData:
			stack[len(stack)-1].chardata.Write(t)
		}
	}

	if len(root.children) == 0 {
		return nil, fmt.Errorf("document has no root element")
	}
	return root.children[0], nil
}

func (n *node) matches(local string) bool {
	return n.name.Local == local && knownNamespace(n.name.Space)
}

// find returns the first descendant with the given local name, in document
// order.
func (n *node) find(local string) *node {
	for _, c := range n.children {
		if c.matches(local) {
			return c
		}
		if found := c.find(local); found != nil {
			return found
		}
	}
	return nil
}

// findAll returns every descendant with the given local name, in document
// order. Matching elements nested inside a match are not revisited.
func (n *node) findAll(local string) []*node {
	var out []*node
	for _, c := range n.children {
		if c.matches(local) {
			out = append(out, c)
			continue
		}
		out = append(out, c.findAll(local)...)
	}
	return out
}

func (n *node) findText(local string) string {
	if found := n.find(local); found != nil {
		return strings.TrimSpace(found.text())
	}
	return ""
}

// text returns the node's full recursive character data.
func (n *node) text() string {
	var b strings.Builder
	n.collectText(&b)
	return b.String()
}

func (n *node) collectText(b *strings.Builder) {
	b.WriteString(n.chardata.String())
	for _, c := range n.children {
		c.collectText(b)
	}
}
