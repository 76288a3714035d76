package format

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"turboprint/pkg/turboprint"
)

// DefaultTimeLayout is used by {time} without an explicit layout.
const DefaultTimeLayout = "2006-01-02 15:04:05"

type segKind uint8

const (
	segLiteral segKind = iota
	segTime
	segLevel
	segLevelValue
	segLevelShort
	segLogger
	segPrefix
	segMessage
	segFields
	segCaller
	segError
	segID
)

var placeholders = map[string]segKind{
	"time":        segTime,
	"level":       segLevel,
	"level_value": segLevelValue,
	"level_short": segLevelShort,
	"logger":      segLogger,
	"prefix":      segPrefix,
	"message":     segMessage,
	"fields":      segFields,
	"caller":      segCaller,
	"error":       segError,
	"id":          segID,
}

type segment struct {
	kind segKind
	text string // literal text or time layout
}

// Template formats records from a layout such as
//
//	[{time:15:04:05}] {level} {logger}: {message} {fields}
//
// Placeholders: time[:layout], level, level_value, level_short, logger,
// prefix, message, fields, caller, error, id. "{{" and "}}" are literal braces.
type Template struct {
	src  string
	segs []segment
	loc  *time.Location
}

// TemplateOption configures a Template.
type TemplateOption func(*Template)

// InLocation renders and parses timestamps in loc. Without it Format uses the
// record's own zone and Parse reads times as local time, which is how the
// registry stamps records.
func InLocation(loc *time.Location) TemplateOption {
	return func(t *Template) { t.loc = loc }
}

// ParseTemplate compiles src. Unknown placeholders and unbalanced braces are
// configuration errors.
func ParseTemplate(src string, opts ...TemplateOption) (*Template, error) {
	t := &Template{src: src}
	for _, opt := range opts {
		opt(t)
	}
	var lit strings.Builder
	flush := func() {
		if lit.Len() > 0 {
			t.segs = append(t.segs, segment{kind: segLiteral, text: lit.String()})
			lit.Reset()
		}
	}
	for i := 0; i < len(src); i++ {
		c := src[i]
		switch {
		case c == '{' && i+1 < len(src) && src[i+1] == '{':
			lit.WriteByte('{')
			i++
		case c == '}' && i+1 < len(src) && src[i+1] == '}':
			lit.WriteByte('}')
			i++
		case c == '}':
			return nil, turboprint.ConfigError("parse template", "unmatched '}' at offset %d", i)
		case c == '{':
			end := strings.IndexByte(src[i+1:], '}')
			if end < 0 {
				return nil, turboprint.ConfigError("parse template", "unclosed '{' at offset %d", i)
			}
			body := src[i+1 : i+1+end]
			name, arg, _ := strings.Cut(body, ":")
			kind, ok := placeholders[strings.TrimSpace(name)]
			if !ok {
				return nil, turboprint.ConfigError("parse template", "unknown placeholder %q", name)
			}
			if arg != "" && kind != segTime {
				return nil, turboprint.ConfigError("parse template", "placeholder %q takes no argument", name)
			}
			if kind == segTime && arg == "" {
				arg = DefaultTimeLayout
			}
			flush()
			t.segs = append(t.segs, segment{kind: kind, text: arg})
			i += end + 1
		default:
			lit.WriteByte(c)
		}
	}
	flush()
	return t, nil
}

// MustTemplate panics if src does not compile.
func MustTemplate(src string, opts ...TemplateOption) *Template {
	t, err := ParseTemplate(src, opts...)
	if err != nil {
		panic(err)
	}
	return t
}

func (t *Template) String() string { return t.src }

func (t *Template) Format(rec turboprint.Record) string {
	var b strings.Builder
	b.Grow(len(t.src) + len(rec.Message) + 32)
	for _, s := range t.segs {
		switch s.kind {
		case segLiteral:
			b.WriteString(s.text)
		case segTime:
			ts := rec.Time
			if t.loc != nil {
				ts = ts.In(t.loc)
			}
			b.WriteString(ts.Format(s.text))
		case segLevel:
			b.WriteString(rec.Level.String())
		case segLevelValue:
			b.WriteString(strconv.Itoa(int(rec.Level)))
		case segLevelShort:
			b.WriteString(rec.Level.Short())
		case segLogger:
			b.WriteString(rec.Logger)
		case segPrefix:
			b.WriteString(rec.Prefix)
		case segMessage:
			b.WriteString(rec.Message)
		case segFields:
			b.WriteString(Fields(rec.Fields))
		case segCaller:
			b.WriteString(rec.Caller)
		case segError:
			if rec.Err != nil {
				b.WriteString(rec.Err.Error())
			}
		case segID:
			b.WriteString(rec.ID)
		}
	}
	return b.String()
}

// Lossless reports whether Parse can recover every placeholder: each
// placeholder must be followed by a literal or end the template.
func (t *Template) Lossless() bool {
	for i, s := range t.segs {
		if s.kind == segLiteral {
			continue
		}
		if i+1 < len(t.segs) && t.segs[i+1].kind != segLiteral {
			return false
		}
	}
	return true
}

// Parse reads a line produced by Format back into a record. A placeholder's
// value runs up to the first occurrence of the literal that follows it, so
// values must not contain that literal. Two cases read from the other side:
// a placeholder followed by the final literal takes everything before it, and
// a placeholder followed by a literal and a trailing {fields} ends at the
// first separator after which the rest reads as key=value pairs. A message
// whose own trailing words look like key=value pairs is therefore read back
// as fields. Field values come back as strings; an {error} value comes back
// as a plain error carrying the same text.
func (t *Template) Parse(line string) (turboprint.Record, error) {
	var rec turboprint.Record
	if !t.Lossless() {
		return rec, turboprint.ConfigError("parse line", "template %q has adjacent placeholders", t.src)
	}
	rest := line
	levelSet := false
	for i, s := range t.segs {
		if s.kind == segLiteral {
			if !strings.HasPrefix(rest, s.text) {
				return rec, turboprint.ConfigError("parse line", "expected %q near %q", s.text, rest)
			}
			rest = rest[len(s.text):]
			continue
		}
		val := rest
		if i+1 < len(t.segs) {
			next := t.segs[i+1].text
			var end int
			switch {
			case i+2 == len(t.segs):
				end = -1
				if strings.HasSuffix(rest, next) {
					end = len(rest) - len(next)
				}
			case s.kind != segFields && t.fieldsTail(i+2):
				end = splitBeforeFields(rest, next, t.segs[len(t.segs)-1])
			default:
				end = strings.Index(rest, next)
			}
			if end < 0 {
				return rec, turboprint.ConfigError("parse line", "missing %q after {%s}", next, kindName(s.kind))
			}
			val = rest[:end]
		}
		rest = rest[len(val):]
		if err := t.assign(&rec, s, val, &levelSet); err != nil {
			return rec, err
		}
	}
	return rec, nil
}

// fieldsTail reports whether segs[j:] is {fields}, optionally followed by a
// closing literal.
func (t *Template) fieldsTail(j int) bool {
	if j >= len(t.segs) || t.segs[j].kind != segFields {
		return false
	}
	switch len(t.segs) - j {
	case 1:
		return true
	case 2:
		return t.segs[j+1].kind == segLiteral
	}
	return false
}

// splitBeforeFields returns the offset of the first sep in rest after which
// the remainder (minus a closing literal) parses as fields, or -1.
func splitBeforeFields(rest, sep string, last segment) int {
	tail := ""
	if last.kind == segLiteral {
		tail = last.text
	}
	for off := 0; off <= len(rest); {
		k := strings.Index(rest[off:], sep)
		if k < 0 {
			return -1
		}
		pos := off + k
		fields := rest[pos+len(sep):]
		if strings.HasSuffix(fields, tail) {
			if _, err := parseFields(fields[:len(fields)-len(tail)]); err == nil {
				return pos
			}
		}
		off = pos + 1
	}
	return -1
}

func (t *Template) assign(rec *turboprint.Record, s segment, val string, levelSet *bool) error {
	switch s.kind {
	case segTime:
		loc := t.loc
		if loc == nil {
			loc = time.Local
		}
		ts, err := time.ParseInLocation(s.text, val, loc)
		if err != nil {
			return turboprint.ConfigError("parse line", "time %q: %v", val, err)
		}
		rec.Time = ts
	case segLevel:
		lvl, err := turboprint.ParseLevel(val)
		if err != nil {
			return err
		}
		rec.Level = lvl
		*levelSet = true
	case segLevelValue:
		n, err := strconv.Atoi(val)
		if err != nil {
			return turboprint.ConfigError("parse line", "level value %q: %v", val, err)
		}
		if !*levelSet {
			rec.Level = turboprint.Level(n)
		}
	case segLevelShort:
		if !*levelSet {
			for _, l := range turboprint.Levels {
				if l.Short() == val {
					rec.Level = l
					break
				}
			}
		}
	case segLogger:
		rec.Logger = val
	case segPrefix:
		rec.Prefix = val
	case segMessage:
		rec.Message = val
	case segFields:
		fields, err := parseFields(val)
		if err != nil {
			return err
		}
		rec.Fields = fields
	case segCaller:
		rec.Caller = val
	case segError:
		if val != "" {
			rec.Err = errors.New(val)
		}
	case segID:
		rec.ID = val
	}
	return nil
}

func kindName(k segKind) string {
	for name, v := range placeholders {
		if v == k {
			return name
		}
	}
	return "?"
}
