package config

import (
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"turboprint/pkg/turboprint"
)

func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, turboprint.ConfigError(path, "invalid duration %q: %v", raw, err)
	}
	if d < 0 {
		return 0, turboprint.ConfigError(path, "duration must be >= 0")
	}
	return d, nil
}

// ParseSizeField accepts "10MB", "512KiB" or a plain byte count; empty is 0.
func ParseSizeField(path, raw string) (int64, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, turboprint.ConfigError(path, "invalid size %q: %v", raw, err)
	}
	if n > 1<<62 {
		return 0, turboprint.ConfigError(path, "size %q too large", raw)
	}
	return int64(n), nil
}

func parseLevelField(path, raw string) (turboprint.Level, error) {
	l, err := turboprint.ParseLevel(raw)
	if err != nil {
		return 0, turboprint.ConfigError(path, "%v", err)
	}
	return l, nil
}
