package format

import (
	"github.com/fatih/color"

	"turboprint/pkg/turboprint"
)

// LevelColors maps each level to its console colour.
var LevelColors = map[turboprint.Level]color.Attribute{
	turboprint.LevelNotSet:   color.FgWhite,
	turboprint.LevelTrace:    color.FgHiBlue,
	turboprint.LevelDebug:    color.FgHiCyan,
	turboprint.LevelInfo:     color.FgHiGreen,
	turboprint.LevelSuccess:  color.FgGreen,
	turboprint.LevelWarning:  color.FgHiYellow,
	turboprint.LevelFail:     color.FgRed,
	turboprint.LevelError:    color.FgHiRed,
	turboprint.LevelCritical: color.FgHiMagenta,
}

// Colored wraps another formatter and paints the whole line in the level's colour.
type Colored struct {
	inner  Formatter
	colors map[turboprint.Level]*color.Color
	plain  *color.Color
}

// NewColored wraps inner. With force set, colour codes are emitted even when
// the process output is not a terminal.
func NewColored(inner Formatter, force bool) *Colored {
	if inner == nil {
		inner = Default()
	}
	c := &Colored{inner: inner, colors: make(map[turboprint.Level]*color.Color, len(LevelColors))}
	for lvl, attr := range LevelColors {
		c.colors[lvl] = paint(color.New(attr), force)
	}
	c.plain = paint(color.New(color.Reset), force)
	return c
}

func paint(c *color.Color, force bool) *color.Color {
	if force {
		c.EnableColor()
	}
	return c
}

func (c *Colored) Format(rec turboprint.Record) string {
	line := c.inner.Format(rec)
	if col, ok := c.colors[rec.Level]; ok {
		return col.Sprint(line)
	}
	return c.plain.Sprint(line)
}

// Unwrap returns the wrapped formatter.
func (c *Colored) Unwrap() Formatter { return c.inner }
