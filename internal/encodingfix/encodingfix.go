// Package encodingfix repairs mojibake in JSON outputs written by older
// scraper versions that double-encoded UTF-8: the original bytes were read
// as Windows-1252 and re-encoded, turning "é" into "Ã©".
package encodingfix

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// mojibake sequences start with these lead runes once UTF-8 bytes have been
// misread as Windows-1252.
const leadRunes = "ÃÂ"

// maxPasses bounds repeated repair; text double-encoded more than twice has
// not been observed.
const maxPasses = 3

// Repair reverses double-encoded UTF-8 in s. Strings without mojibake
// markers are returned unchanged.
func Repair(s string) string {
	for pass := 0; pass < maxPasses; pass++ {
		if !strings.ContainsAny(s, leadRunes) {
			break
		}
		enc := charmap.Windows1252.NewEncoder()
		reencoded, err := enc.String(s)
		if err != nil || !utf8.ValidString(reencoded) {
			break
		}
		s = reencoded
	}
	return s
}

// RepairJSON repairs every string value in a JSON document, returning the
// re-encoded document and whether anything changed. The output keeps the
// scraper's two-space indentation.
func RepairJSON(data []byte) ([]byte, bool, error) {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, false, fmt.Errorf("unmarshal json: %w", err)
	}

	repaired, changed := repairValue(doc)
	if !changed {
		return data, false, nil
	}

	var buf bytes.Buffer
	e := json.NewEncoder(&buf)
	e.SetEscapeHTML(false)
	e.SetIndent("", "  ")
	if err := e.Encode(repaired); err != nil {
		return nil, false, fmt.Errorf("marshal json: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), true, nil
}

func repairValue(v any) (any, bool) {
	switch t := v.(type) {
	case string:
		fixed := Repair(t)
		return fixed, fixed != t
	case map[string]any:
		changed := false
		for k, val := range t {
			fixed, c := repairValue(val)
			if c {
				t[k] = fixed
				changed = true
			}
		}
		return t, changed
	case []any:
		changed := false
		for i, val := range t {
			fixed, c := repairValue(val)
			if c {
				t[i] = fixed
				changed = true
			}
		}
		return t, changed
	default:
		return v, false
	}
}
