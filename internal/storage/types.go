package storage

import (
	"errors"
	"strings"
	"time"

	"turboprint/pkg/handler"
	"turboprint/pkg/turboprint"
)

var ErrClosed = errors.New("storage closed")

// DefaultCapacity bounds history when Config.Capacity is zero.
const DefaultCapacity = 1000

// Config configures storage.
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	Capacity    int
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Entry is one stored record. Fields are kept in their rendered form.
type Entry struct {
	ID      string            `json:"id,omitempty"`
	Time    time.Time         `json:"time"`
	Level   turboprint.Level  `json:"level"`
	Logger  string            `json:"logger"`
	Message string            `json:"message"`
	Text    string            `json:"text"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// FromEvent flattens a published event.
func FromEvent(ev handler.Event) Entry {
	rec := ev.Record
	e := Entry{
		ID:      rec.ID,
		Time:    rec.Time,
		Level:   rec.Level,
		Logger:  rec.Logger,
		Message: rec.Message,
		Text:    ev.Text,
	}
	if len(rec.Fields) > 0 {
		e.Fields = make(map[string]string, len(rec.Fields))
		for _, f := range rec.Fields {
			e.Fields[f.Key] = turboprint.ValueString(f.Value)
		}
	}
	return e
}

// Query selects entries. The zero Query returns everything retained.
type Query struct {
	Limit    int
	MinLevel turboprint.Level
	// Logger matches the named logger and its descendants.
	Logger string
	Since  time.Time
}

// Match reports whether e satisfies q, ignoring Limit.
func (q Query) Match(e Entry) bool {
	if e.Level < q.MinLevel {
		return false
	}
	if !q.Since.IsZero() && e.Time.Before(q.Since) {
		return false
	}
	return matchLogger(q.Logger, e.Logger)
}

func matchLogger(want, name string) bool {
	want = strings.TrimSpace(want)
	if want == "" || want == turboprint.RootName {
		return true
	}
	return name == want || strings.HasPrefix(name, want+turboprint.Delimiter)
}
