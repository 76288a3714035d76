package handler

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/coreos/go-systemd/v22/journal"

	"turboprint/pkg/filter"
	"turboprint/pkg/format"
	logx "turboprint/pkg/logx"
	"turboprint/pkg/turboprint"
)

func discardFallback() logx.Logger { return logx.Nop() }

func TestStreamLevelAndFilters(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	h := NewStream(&buf,
		WithLevel(turboprint.LevelWarning),
		WithFilters(filter.Module("app")),
		WithFormatter(format.MustTemplate("{level_short} {logger}: {message}")),
	)
	recs := []turboprint.Record{
		{Level: turboprint.LevelInfo, Logger: "app", Message: "quiet"},
		{Level: turboprint.LevelError, Logger: "other", Message: "elsewhere"},
		{Level: turboprint.LevelError, Logger: "app.db", Message: "boom"},
	}
	for _, rec := range recs {
		if err := h.Handle(context.Background(), rec); err != nil {
			t.Fatalf("Handle: %v", err)
		}
	}
	if got := buf.String(); got != "ERR app.db: boom\n" {
		t.Fatalf("output = %q", got)
	}
}

func TestStreamColorAlways(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	h := NewStream(&buf, WithColor(ColorAlways), WithFormatter(format.MustTemplate("{message}")))
	_ = h.Handle(context.Background(), turboprint.Record{Level: turboprint.LevelCritical, Message: "red alert"})
	if !strings.HasPrefix(buf.String(), "\x1b[") || !strings.Contains(buf.String(), "red alert") {
		t.Fatalf("output = %q", buf.String())
	}

	buf.Reset()
	plain := NewStream(&buf, WithFormatter(format.MustTemplate("{message}")))
	_ = plain.Handle(context.Background(), turboprint.Record{Level: turboprint.LevelCritical, Message: "plain"})
	if buf.String() != "plain\n" {
		t.Fatalf("auto colour on a buffer: %q", buf.String())
	}
}

type recordingPublisher struct{ got []Event }

func (p *recordingPublisher) Publish(ev Event) { p.got = append(p.got, ev) }

func TestPublishForwardsRenderedEvents(t *testing.T) {
	t.Parallel()
	pub := &recordingPublisher{}
	h := NewPublish(pub, WithLevel(turboprint.LevelInfo), WithFormatter(format.MustTemplate("[{level}] {message}")))
	_ = h.Handle(context.Background(), turboprint.Record{Level: turboprint.LevelDebug, Message: "skip"})
	_ = h.Handle(context.Background(), turboprint.Record{Level: turboprint.LevelSuccess, Message: "deployed"})
	if len(pub.got) != 1 || pub.got[0].Text != "[SUCCESS] deployed" || pub.got[0].Record.Message != "deployed" {
		t.Fatalf("events = %+v", pub.got)
	}
}

func TestJournalVarsAndPriority(t *testing.T) {
	t.Parallel()
	var (
		gotMsg  string
		gotPri  journal.Priority
		gotVars map[string]string
	)
	send := func(msg string, pri journal.Priority, vars map[string]string) error {
		gotMsg, gotPri, gotVars = msg, pri, vars
		return nil
	}
	j := newJournal("turboprint", send, nil)
	rec := turboprint.Record{
		Level:   turboprint.LevelError,
		Logger:  "app.db",
		Message: "query failed",
		Caller:  "store.go:42",
		Fields:  []turboprint.Field{turboprint.String("sql-state", "40001"), turboprint.Int("_rows", 3)},
	}
	if err := j.Handle(context.Background(), rec); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if gotPri != journal.PriErr {
		t.Fatalf("priority = %v", gotPri)
	}
	if !strings.HasPrefix(gotMsg, "query failed") {
		t.Fatalf("message = %q", gotMsg)
	}
	want := map[string]string{
		"TP_LOGGER":         "app.db",
		"TP_LEVEL":          "ERROR",
		"SYSLOG_IDENTIFIER": "turboprint",
		"FIELD_SQL_STATE":   "40001",
		"FIELD_ROWS":        "3",
		"CODE_FILE":         "store.go",
		"CODE_LINE":         "42",
	}
	for k, v := range want {
		if gotVars[k] != v {
			t.Fatalf("var %s = %q, want %q (all: %v)", k, gotVars[k], v, gotVars)
		}
	}
}

func TestPriorityMapping(t *testing.T) {
	t.Parallel()
	cases := map[turboprint.Level]journal.Priority{
		turboprint.LevelTrace:    journal.PriDebug,
		turboprint.LevelInfo:     journal.PriInfo,
		turboprint.LevelSuccess:  journal.PriNotice,
		turboprint.LevelFail:     journal.PriWarning,
		turboprint.LevelCritical: journal.PriCrit,
	}
	for lvl, want := range cases {
		if got := Priority(lvl); got != want {
			t.Fatalf("Priority(%s) = %v, want %v", lvl, got, want)
		}
	}
}
