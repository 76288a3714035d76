package bridge

import (
	"bytes"
	"strings"

	"turboprint/pkg/turboprint"
)

// Writer logs every line written to it at a fixed level. Point the standard
// log package at it with log.SetOutput and log.SetFlags(0).
type Writer struct {
	l     *turboprint.Logger
	level turboprint.Level
}

// NewWriter returns a Writer for l.
func NewWriter(l *turboprint.Logger, level turboprint.Level) *Writer {
	return &Writer{l: l, level: level}
}

// Write logs one record per non-empty line and always reports len(p).
func (w *Writer) Write(p []byte) (int, error) {
	if !w.l.Enabled(w.level) {
		return len(p), nil
	}
	for _, line := range bytes.Split(p, []byte{'\n'}) {
		msg := strings.TrimRight(string(line), "\r")
		if msg == "" {
			continue
		}
		w.l.Log(w.level, msg)
	}
	return len(p), nil
}
