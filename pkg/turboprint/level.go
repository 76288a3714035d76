package turboprint

import (
	"strconv"
	"strings"
)

// Level is an ordered severity. Higher values are more severe.
type Level int

const (
	// LevelNotSet means "no explicit level"; a logger with this level inherits from its parent.
	LevelNotSet   Level = 0
	LevelTrace    Level = 10
	LevelDebug    Level = 20
	LevelInfo     Level = 30
	LevelSuccess  Level = 40
	LevelWarning  Level = 50
	LevelFail     Level = 60
	LevelError    Level = 70
	LevelCritical Level = 80
)

// Levels lists the named levels in ascending order (LevelNotSet excluded).
var Levels = []Level{
	LevelTrace,
	LevelDebug,
	LevelInfo,
	LevelSuccess,
	LevelWarning,
	LevelFail,
	LevelError,
	LevelCritical,
}

var levelNames = map[Level]string{
	LevelNotSet:   "NOTSET",
	LevelTrace:    "TRACE",
	LevelDebug:    "DEBUG",
	LevelInfo:     "INFO",
	LevelSuccess:  "SUCCESS",
	LevelWarning:  "WARNING",
	LevelFail:     "FAIL",
	LevelError:    "ERROR",
	LevelCritical: "CRITICAL",
}

func (l Level) String() string {
	if s, ok := levelNames[l]; ok {
		return s
	}
	return "LEVEL(" + strconv.Itoa(int(l)) + ")"
}

// Short returns a three letter tag used by compact console output.
func (l Level) Short() string {
	switch {
	case l <= LevelNotSet:
		return "---"
	case l <= LevelTrace:
		return "TRC"
	case l <= LevelDebug:
		return "DBG"
	case l <= LevelInfo:
		return "INF"
	case l <= LevelSuccess:
		return "SUC"
	case l <= LevelWarning:
		return "WRN"
	case l <= LevelFail:
		return "FAL"
	case l <= LevelError:
		return "ERR"
	default:
		return "CRT"
	}
}

// ParseLevel accepts a level name (case-insensitive, WARN and FATAL aliases
// included) or a non-negative integer.
func ParseLevel(s string) (Level, error) {
	raw := strings.ToUpper(strings.TrimSpace(s))
	switch raw {
	case "", "NOTSET", "UNSET":
		return LevelNotSet, nil
	case "TRACE":
		return LevelTrace, nil
	case "DEBUG":
		return LevelDebug, nil
	case "INFO":
		return LevelInfo, nil
	case "SUCCESS":
		return LevelSuccess, nil
	case "WARN", "WARNING":
		return LevelWarning, nil
	case "FAIL":
		return LevelFail, nil
	case "ERROR":
		return LevelError, nil
	case "CRITICAL", "FATAL":
		return LevelCritical, nil
	}
	if n, err := strconv.Atoi(raw); err == nil && n >= 0 {
		return Level(n), nil
	}
	return LevelNotSet, configErr("parse level", "unknown level %q", s)
}

// MustParseLevel is ParseLevel for constants known at compile time.
func MustParseLevel(s string) Level {
	l, err := ParseLevel(s)
	if err != nil {
		panic(err)
	}
	return l
}

func (l Level) MarshalText() ([]byte, error) { return []byte(l.String()), nil }

func (l *Level) UnmarshalText(b []byte) error {
	v, err := ParseLevel(string(b))
	if err != nil {
		return err
	}
	*l = v
	return nil
}
