// Package report builds scout reports and sends each one only when its
// content changed or the keep-alive interval has passed.
package report

import (
	"regexp"
	"slices"
	"strings"
	"time"
)

// Entry is one recognized overview row.
type Entry struct {
	Type        string `json:"type,omitempty"`
	Corporation string `json:"corporation,omitempty"`
	Alliance    string `json:"alliance,omitempty"`
	Name        string `json:"name,omitempty"`
	Distance    string `json:"distance,omitempty"`
	Velocity    string `json:"velocity,omitempty"`
}

// Payload is the body posted to the report endpoint.
type Payload struct {
	ID           string    `json:"id"`
	Label        string    `json:"sourceLabel"`
	Text         string    `json:"recognizedText"`
	System       string    `json:"system,omitempty"`
	Wormhole     string    `json:"wormhole,omitempty"`
	Disconnected bool      `json:"disconnected"`
	Entries      []Entry   `json:"entries,omitempty"`
	Version      string    `json:"version"`
	SentAt       time.Time `json:"sentAt"`
}

// Equal compares every reportable field. ID, Version and SentAt describe a
// send, not its content, and are ignored.
func (p Payload) Equal(o Payload) bool {
	return p.Label == o.Label &&
		p.Text == o.Text &&
		p.System == o.System &&
		p.Wormhole == o.Wormhole &&
		p.Disconnected == o.Disconnected &&
		slices.Equal(p.Entries, o.Entries)
}

var columnSep = regexp.MustCompile(`\t+| {2,}`)

// ParseEntries splits tabular OCR output into rows. Columns are separated by
// tabs or runs of two or more spaces; lines with a single column are skipped.
func ParseEntries(text string) []Entry {
	var entries []Entry
	for _, line := range strings.Split(text, "\n") {
		cols := columnSep.Split(strings.TrimSpace(line), -1)
		if len(cols) < 2 {
			continue
		}
		var e Entry
		fields := []*string{&e.Type, &e.Corporation, &e.Alliance, &e.Name, &e.Distance, &e.Velocity}
		for i, c := range cols {
			if i >= len(fields) {
				break
			}
			*fields[i] = strings.TrimSpace(c)
		}
		entries = append(entries, e)
	}
	return entries
}

// IsDisconnected reports whether text contains any phrase, ignoring case.
func IsDisconnected(text string, phrases []string) bool {
	lower := strings.ToLower(text)
	for _, p := range phrases {
		if p != "" && strings.Contains(lower, strings.ToLower(p)) {
			return true
		}
	}
	return false
}

const wormholePrefix = "wormhole "

// WormholeCode returns the signature of the single wormhole entry on grid,
// or "" when there is none or more than one.
func WormholeCode(entries []Entry) string {
	code, found := "", 0
	for _, e := range entries {
		if !strings.HasPrefix(strings.ToLower(e.Type), wormholePrefix) {
			continue
		}
		found++
		code = e.Name
		if strings.HasPrefix(strings.ToLower(code), wormholePrefix) {
			code = code[len(wormholePrefix):]
		}
	}
	if found != 1 {
		return ""
	}
	return strings.TrimSpace(code)
}

// Pilots counts the non-wormhole entries.
func Pilots(entries []Entry) int {
	n := 0
	for _, e := range entries {
		if !strings.HasPrefix(strings.ToLower(e.Type), wormholePrefix) {
			n++
		}
	}
	return n
}
