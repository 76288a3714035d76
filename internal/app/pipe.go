package app

import (
	"bufio"
	"context"
	"io"
	"strings"

	"turboprint/pkg/format"
	"turboprint/pkg/turboprint"
)

// Input formats understood by Pipe.
const (
	InputPlain    = "plain"
	InputJSON     = "json"
	InputTemplate = "template"
)

// PipeOptions controls how input lines become records.
type PipeOptions struct {
	// Logger receives plain lines and parsed records without a logger name.
	Logger string
	// Level is used for plain lines and parsed records without a level.
	Level turboprint.Level
	// Format is plain (default), json (format.JSON lines) or template.
	Format string
	// Template parses template input; nil means the default layout.
	Template *format.Template
}

// Pipe logs each line of r until EOF or ctx ends and returns the number of
// lines read. Lines that fail to parse are logged verbatim.
func (a *App) Pipe(ctx context.Context, r io.Reader, opts PipeOptions) (int, error) {
	if opts.Level == turboprint.LevelNotSet {
		opts.Level = turboprint.LevelInfo
	}
	parse, err := lineParser(opts)
	if err != nil {
		return 0, err
	}
	base := a.reg.Get(opts.Logger)

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	n := 0
	for sc.Scan() {
		if ctx.Err() != nil {
			return n, ctx.Err()
		}
		line := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		n++
		if parse == nil {
			base.LogContext(ctx, opts.Level, line)
			continue
		}
		rec, err := parse(line)
		if err != nil {
			base.LogContext(ctx, opts.Level, line, turboprint.Bool("unparsed", true))
			continue
		}
		l := base
		if rec.Logger != "" {
			l = a.reg.Get(rec.Logger)
		}
		level := rec.Level
		if level == turboprint.LevelNotSet {
			level = opts.Level
		}
		fields := rec.Fields
		if _, dup := rec.Field("error"); rec.Err != nil && !dup {
			fields = append(fields, turboprint.Err(rec.Err))
		}
		l.LogContext(ctx, level, rec.Message, fields...)
	}
	return n, sc.Err()
}

func lineParser(opts PipeOptions) (func(string) (turboprint.Record, error), error) {
	switch strings.ToLower(strings.TrimSpace(opts.Format)) {
	case "", InputPlain:
		return nil, nil
	case InputJSON:
		return func(line string) (turboprint.Record, error) {
			return format.ParseJSON([]byte(line))
		}, nil
	case InputTemplate:
		t := opts.Template
		if t == nil {
			t = format.Default()
		}
		return t.Parse, nil
	default:
		return nil, turboprint.ConfigError("pipe", "unknown input format %q", opts.Format)
	}
}
