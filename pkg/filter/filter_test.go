package filter

import (
	"errors"
	"testing"
	"time"

	"turboprint/pkg/turboprint"
)

func at(h, m int) turboprint.Record {
	return turboprint.Record{Time: time.Date(2026, 10, 17, h, m, 0, 0, time.UTC)}
}

func TestLevelFilters(t *testing.T) {
	t.Parallel()
	f := Level(turboprint.LevelWarning)
	if f.Allow(turboprint.Record{Level: turboprint.LevelInfo}) || !f.Allow(turboprint.Record{Level: turboprint.LevelError}) {
		t.Fatal("Level filter threshold wrong")
	}
	r := LevelRange(turboprint.LevelDebug, turboprint.LevelInfo)
	if !r.Allow(turboprint.Record{Level: turboprint.LevelDebug}) || r.Allow(turboprint.Record{Level: turboprint.LevelSuccess}) {
		t.Fatal("LevelRange bounds wrong")
	}
}

func TestRegex(t *testing.T) {
	t.Parallel()
	f, err := NewRegex(`^health`, false)
	if err != nil {
		t.Fatalf("NewRegex: %v", err)
	}
	inv, _ := NewRegex(`^health`, true)
	rec := turboprint.Record{Message: "healthcheck ok"}
	if !f.Allow(rec) || inv.Allow(rec) {
		t.Fatal("regex match/invert wrong")
	}
	if _, err := NewRegex(`(`, false); !errors.Is(err, turboprint.ErrConfiguration) {
		t.Fatalf("bad pattern err = %v", err)
	}
}

func TestTimeWindow(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name       string
		start, end string
		rec        turboprint.Record
		want       bool
	}{
		{"inside", "09:00", "17:00", at(12, 0), true},
		{"end exclusive", "09:00", "17:00", at(17, 0), false},
		{"wraps late", "22:00", "06:00", at(23, 30), true},
		{"wraps early", "22:00", "06:00", at(5, 59), true},
		{"wraps outside", "22:00", "06:00", at(12, 0), false},
		{"full day", "00:00", "00:00", at(3, 0), true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			f, err := NewTimeWindow(tt.start, tt.end, time.UTC)
			if err != nil {
				t.Fatalf("NewTimeWindow: %v", err)
			}
			if got := f.Allow(tt.rec); got != tt.want {
				t.Fatalf("Allow = %v, want %v", got, tt.want)
			}
		})
	}
	if _, err := NewTimeWindow("25:00", "01:00", nil); err == nil {
		t.Fatal("expected error for invalid clock")
	}
}

func TestModuleAndComposites(t *testing.T) {
	t.Parallel()
	m := Module("app")
	for name, want := range map[string]bool{"app": true, "app.db": true, "application": false, "other": false} {
		if got := m.Allow(turboprint.Record{Logger: name}); got != want {
			t.Fatalf("Module(app).Allow(%s) = %v", name, got)
		}
	}

	warnApp := All(m, Level(turboprint.LevelWarning))
	if warnApp.Allow(turboprint.Record{Logger: "app", Level: turboprint.LevelInfo}) {
		t.Fatal("All should require every filter")
	}
	either := Any(Module("db"), HasField("trace_id"))
	rec := turboprint.Record{Logger: "api", Fields: []turboprint.Field{turboprint.String("trace_id", "t1")}}
	if !either.Allow(rec) || Not(either).Allow(rec) {
		t.Fatal("Any/Not wrong")
	}
	if Any().Allow(rec) || !All().Allow(rec) {
		t.Fatal("empty composite semantics wrong")
	}
}
