// Package filter provides record predicates for loggers and handlers.
package filter

import (
	"regexp"
	"strings"
	"time"

	"turboprint/pkg/turboprint"
)

// Level passes records at or above min.
func Level(min turboprint.Level) turboprint.Filter {
	return turboprint.FilterFunc(func(rec turboprint.Record) bool { return rec.Level >= min })
}

// LevelRange passes records with min <= level <= max.
func LevelRange(min, max turboprint.Level) turboprint.Filter {
	return turboprint.FilterFunc(func(rec turboprint.Record) bool {
		return rec.Level >= min && rec.Level <= max
	})
}

// Regex passes records whose message matches pattern, or does not match when invert is set.
type Regex struct {
	re     *regexp.Regexp
	invert bool
}

// NewRegex compiles pattern; a bad pattern is a configuration error.
func NewRegex(pattern string, invert bool) (*Regex, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, turboprint.NewError(turboprint.KindConfiguration, "compile regex filter", err)
	}
	return &Regex{re: re, invert: invert}, nil
}

func (f *Regex) Allow(rec turboprint.Record) bool {
	return f.re.MatchString(rec.Message) != f.invert
}

// TimeWindow passes records whose local time of day lies in [start, end).
// A window with end before start wraps midnight ("22:00"-"06:00").
type TimeWindow struct {
	start, end time.Duration
	loc        *time.Location
}

// NewTimeWindow parses "HH:MM" or "HH:MM:SS" bounds. A nil loc means time.Local.
func NewTimeWindow(start, end string, loc *time.Location) (*TimeWindow, error) {
	s, err := parseClock(start)
	if err != nil {
		return nil, err
	}
	e, err := parseClock(end)
	if err != nil {
		return nil, err
	}
	if loc == nil {
		loc = time.Local
	}
	return &TimeWindow{start: s, end: e, loc: loc}, nil
}

func parseClock(s string) (time.Duration, error) {
	for _, layout := range []string{"15:04:05", "15:04"} {
		if t, err := time.Parse(layout, strings.TrimSpace(s)); err == nil {
			return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute + time.Duration(t.Second())*time.Second, nil
		}
	}
	return 0, turboprint.ConfigError("parse time window", "invalid clock %q, want HH:MM", s)
}

func (f *TimeWindow) Allow(rec turboprint.Record) bool {
	t := rec.Time.In(f.loc)
	tod := time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute + time.Duration(t.Second())*time.Second
	switch {
	case f.start == f.end:
		return true
	case f.start < f.end:
		return tod >= f.start && tod < f.end
	default:
		return tod >= f.start || tod < f.end
	}
}

// Module passes records from the named loggers or their descendants.
// "app" matches "app" and "app.db" but not "application".
func Module(names ...string) turboprint.Filter {
	norm := make([]string, 0, len(names))
	for _, n := range names {
		norm = append(norm, turboprint.NormalizeName(n))
	}
	return turboprint.FilterFunc(func(rec turboprint.Record) bool {
		for _, n := range norm {
			if n == turboprint.RootName || rec.Logger == n || strings.HasPrefix(rec.Logger, n+turboprint.Delimiter) {
				return true
			}
		}
		return false
	})
}

// All passes a record only if every filter does. An empty All passes everything.
func All(filters ...turboprint.Filter) turboprint.Filter {
	return turboprint.FilterFunc(func(rec turboprint.Record) bool {
		for _, f := range filters {
			if !f.Allow(rec) {
				return false
			}
		}
		return true
	})
}

// Any passes a record if at least one filter does. An empty Any passes nothing.
func Any(filters ...turboprint.Filter) turboprint.Filter {
	return turboprint.FilterFunc(func(rec turboprint.Record) bool {
		for _, f := range filters {
			if f.Allow(rec) {
				return true
			}
		}
		return false
	})
}

func Not(f turboprint.Filter) turboprint.Filter {
	return turboprint.FilterFunc(func(rec turboprint.Record) bool { return !f.Allow(rec) })
}

// HasField passes records carrying key.
func HasField(key string) turboprint.Filter {
	return turboprint.FilterFunc(func(rec turboprint.Record) bool {
		_, ok := rec.Field(key)
		return ok
	})
}
