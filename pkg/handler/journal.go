package handler

import (
	"context"
	"errors"
	"strings"

	"github.com/coreos/go-systemd/v22/journal"

	"turboprint/pkg/format"
	"turboprint/pkg/turboprint"
)

// ErrNoJournal is returned when the systemd journal socket is unavailable.
var ErrNoJournal = errors.New("systemd journal not available")

// Journal sends records to journald with structured fields.
//
// The message is the formatted record; logger name, level and every record
// field are attached as journal variables (TP_LOGGER, TP_LEVEL, FIELD_<KEY>).
type Journal struct {
	Base
	identifier string
	send       func(msg string, pri journal.Priority, vars map[string]string) error
}

// NewJournal fails with a resource error when journald is not reachable.
// identifier sets SYSLOG_IDENTIFIER; an empty one leaves journald's default.
func NewJournal(identifier string, opts ...Option) (*Journal, error) {
	if !journal.Enabled() {
		return nil, turboprint.ResourceError("open journal", ErrNoJournal)
	}
	return newJournal(identifier, journal.Send, opts), nil
}

func newJournal(identifier string, send func(string, journal.Priority, map[string]string) error, opts []Option) *Journal {
	o := buildOptions(opts)
	if o.formatter == nil {
		o.formatter = format.MustTemplate("{message} {fields}")
	}
	return &Journal{Base: newBase(o), identifier: identifier, send: send}
}

func (j *Journal) Handle(_ context.Context, rec turboprint.Record) error {
	if !j.Allow(rec) {
		return nil
	}
	vars := map[string]string{
		"TP_LOGGER": rec.Logger,
		"TP_LEVEL":  rec.Level.String(),
	}
	if j.identifier != "" {
		vars["SYSLOG_IDENTIFIER"] = j.identifier
	}
	if rec.ID != "" {
		vars["TP_ID"] = rec.ID
	}
	if rec.Caller != "" {
		file, line := rec.Caller, ""
		if i := strings.LastIndexByte(file, ':'); i >= 0 {
			file, line = file[:i], file[i+1:]
		}
		vars["CODE_FILE"] = file
		if line != "" {
			vars["CODE_LINE"] = line
		}
	}
	if rec.Stack != "" {
		vars["TP_STACK"] = rec.Stack
	}
	for _, f := range rec.Fields {
		if k := journalVar(f.Key); k != "" {
			vars["FIELD_"+k] = turboprint.ValueString(f.Value)
		}
	}
	msg := strings.TrimRight(j.Format(rec), " \n")
	if err := j.send(msg, Priority(rec.Level), vars); err != nil {
		return turboprint.ResourceError("journal send", err)
	}
	return nil
}

// Priority maps a level to a syslog priority.
func Priority(l turboprint.Level) journal.Priority {
	switch {
	case l >= turboprint.LevelCritical:
		return journal.PriCrit
	case l >= turboprint.LevelError:
		return journal.PriErr
	case l >= turboprint.LevelWarning:
		return journal.PriWarning
	case l >= turboprint.LevelSuccess:
		return journal.PriNotice
	case l >= turboprint.LevelInfo:
		return journal.PriInfo
	default:
		return journal.PriDebug
	}
}

// journalVar uppercases key and replaces anything outside [A-Z0-9_].
func journalVar(key string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(key) {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return strings.TrimLeft(b.String(), "_")
}
