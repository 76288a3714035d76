package turboprint

import (
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
)

// forwardingPackages log on behalf of their caller; their frames are skipped
// like the logger's own.
var forwardingPackages = []string{
	"turboprint/pkg/bridge.",
	"log/slog.",
	"log.",
	"github.com/rs/zerolog.",
}

// internalFrame reports whether a frame belongs to the dispatch path.
func internalFrame(fr runtime.Frame) bool {
	if strings.HasSuffix(fr.File, "_test.go") {
		return false
	}
	if strings.Contains(fr.Function, "/pkg/turboprint.") {
		return true
	}
	for _, p := range forwardingPackages {
		if strings.HasPrefix(fr.Function, p) {
			return true
		}
	}
	return false
}

func userFrames(max int) *runtime.Frames {
	pcs := make([]uintptr, max+8)
	n := runtime.Callers(3, pcs)
	return runtime.CallersFrames(pcs[:n])
}

// callSite returns "file.go:line" of the first frame outside the logger.
func callSite() string {
	frames := userFrames(8)
	for {
		fr, more := frames.Next()
		if !internalFrame(fr) && fr.File != "" {
			return filepath.Base(fr.File) + ":" + strconv.Itoa(fr.Line)
		}
		if !more {
			return ""
		}
	}
}

// callStack renders up to max frames starting at the first frame outside the logger.
func callStack(max int) string {
	frames := userFrames(max)
	var b strings.Builder
	n := 0
	started := false
	for n < max {
		fr, more := frames.Next()
		if !started && internalFrame(fr) {
			if !more {
				break
			}
			continue
		}
		started = true
		if fr.File != "" {
			if n > 0 {
				b.WriteString("\n")
			}
			b.WriteString(fr.Function)
			b.WriteString("\n  ")
			b.WriteString(fr.File)
			b.WriteString(":")
			b.WriteString(strconv.Itoa(fr.Line))
			n++
		}
		if !more {
			break
		}
	}
	return b.String()
}
