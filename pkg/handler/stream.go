package handler

import (
	"context"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"

	"turboprint/pkg/format"
	"turboprint/pkg/turboprint"
)

// Stream writes one formatted line per record to an io.Writer.
type Stream struct {
	Base

	mu sync.Mutex
	w  io.Writer
}

// NewStream writes to w. ColorAuto never colours an arbitrary writer.
func NewStream(w io.Writer, opts ...Option) *Stream {
	o := buildOptions(opts)
	return newStream(w, o, o.color == ColorAlways)
}

// Stdout writes to the process stdout; on Windows consoles ANSI codes are translated.
func Stdout(opts ...Option) *Stream { return newFileStream(os.Stdout, opts) }

// Stderr writes to the process stderr.
func Stderr(opts ...Option) *Stream { return newFileStream(os.Stderr, opts) }

func newFileStream(f *os.File, opts []Option) *Stream {
	o := buildOptions(opts)
	color := false
	switch o.color {
	case ColorAlways:
		color = true
	case ColorAuto:
		color = IsTerminal(f)
	}
	var w io.Writer = f
	if color {
		w = colorable.NewColorable(f)
	} else {
		w = colorable.NewNonColorable(f)
	}
	return newStream(w, o, color)
}

func newStream(w io.Writer, o options, color bool) *Stream {
	if o.formatter == nil {
		o.formatter = format.Default()
	}
	if color {
		if _, ok := o.formatter.(*format.Colored); !ok {
			o.formatter = format.NewColored(o.formatter, true)
		}
	}
	return &Stream{Base: newBase(o), w: w}
}

// IsTerminal reports whether f is attached to a terminal (including Cygwin/MSYS ptys).
func IsTerminal(f *os.File) bool {
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func (s *Stream) Handle(_ context.Context, rec turboprint.Record) error {
	if !s.Allow(rec) {
		return nil
	}
	line := s.Format(rec)
	if !strings.HasSuffix(line, "\n") {
		line += "\n"
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := io.WriteString(s.w, line); err != nil {
		return turboprint.ResourceError("write stream", err)
	}
	return nil
}
