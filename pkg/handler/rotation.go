package handler

import (
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"turboprint/pkg/turboprint"
)

// Naming selects how archived files are named.
type Naming string

const (
	// NamingCounter names archives app.000001.log, app.000002.log, ...; higher is newer.
	NamingCounter Naming = "counter"
	// NamingTimestamp names archives app.20261017T150405.log, with -N appended on collision.
	NamingTimestamp Naming = "timestamp"
)

const (
	counterWidth    = 6
	timestampLayout = "20060102T150405"
)

// RotationPolicy decides when the active file is rolled over and how many
// archives are kept.
//
// Triggers are combined: the file rotates when any configured trigger fires.
// A zero policy never rotates.
type RotationPolicy struct {
	// MaxBytes rotates before a write that would push the file past this size.
	// A single record larger than MaxBytes is written to a fresh file on its own.
	MaxBytes int64
	// MaxAge rotates once the active file has been open this long.
	MaxAge time.Duration
	// Schedule is a standard cron expression ("0 0 * * *", "@daily") marking rotation instants.
	Schedule string
	// Retention caps the number of archives kept; 0 keeps all of them.
	Retention int
	Naming    Naming
	// Compression is applied to archives after they are renamed.
	Compression Compression
	// UTC names timestamp archives in UTC instead of local time.
	UTC bool

	sched cron.Schedule
}

// Validate checks the policy and compiles the schedule.
func (p *RotationPolicy) Validate() error {
	if p.MaxBytes < 0 {
		return turboprint.ConfigError("rotation policy", "max bytes must be >= 0, got %d", p.MaxBytes)
	}
	if p.MaxAge < 0 {
		return turboprint.ConfigError("rotation policy", "max age must be >= 0, got %s", p.MaxAge)
	}
	if p.Retention < 0 {
		return turboprint.ConfigError("rotation policy", "retention must be >= 0, got %d", p.Retention)
	}
	switch p.Naming {
	case "":
		p.Naming = NamingCounter
	case NamingCounter, NamingTimestamp:
	default:
		return turboprint.ConfigError("rotation policy", "unknown naming %q", p.Naming)
	}
	if _, err := ParseCompression(string(p.Compression)); err != nil {
		return err
	}
	p.sched = nil
	if s := strings.TrimSpace(p.Schedule); s != "" {
		sched, err := cron.ParseStandard(s)
		if err != nil {
			return turboprint.NewError(turboprint.KindConfiguration, "rotation schedule", err)
		}
		p.sched = sched
	}
	return nil
}

// RotationState describes the active file.
type RotationState struct {
	Size     int64
	OpenedAt time.Time
	// NextCut is the next schedule instant after OpenedAt; zero without a schedule.
	NextCut time.Time
}

// ShouldRotate reports whether a write of incoming bytes at now must go to a new file.
// An empty file is never rotated.
func (p *RotationPolicy) ShouldRotate(st RotationState, incoming int, now time.Time) bool {
	if st.Size <= 0 {
		return false
	}
	if p.MaxBytes > 0 && st.Size+int64(incoming) > p.MaxBytes {
		return true
	}
	if p.MaxAge > 0 && !st.OpenedAt.IsZero() && now.Sub(st.OpenedAt) >= p.MaxAge {
		return true
	}
	if !st.NextCut.IsZero() && !now.Before(st.NextCut) {
		return true
	}
	return false
}

// NextCut returns the next scheduled rotation after t, or the zero time.
func (p *RotationPolicy) NextCut(t time.Time) time.Time {
	if p.sched == nil {
		return time.Time{}
	}
	return p.sched.Next(t)
}

// archive is a rotated file found on disk.
type archive struct {
	path string
	// ordering keys: counter, or timestamp + collision index
	n  int
	ts time.Time
}

// splitBase splits "/var/log/app.log" into ("/var/log", "app", ".log").
func splitBase(path string) (dir, stem, ext string) {
	dir = filepath.Dir(path)
	base := filepath.Base(path)
	ext = filepath.Ext(base)
	stem = strings.TrimSuffix(base, ext)
	return dir, stem, ext
}

// parseArchive recognises "<stem>.<key><ext>[.gz|.zst]".
func (p *RotationPolicy) parseArchive(stem, ext, name string) (archive, bool) {
	rest, ok := strings.CutPrefix(name, stem+".")
	if !ok {
		return archive{}, false
	}
	for _, c := range compressions {
		if c.ext != "" && strings.HasSuffix(rest, c.ext) {
			rest = strings.TrimSuffix(rest, c.ext)
			break
		}
	}
	key, ok := strings.CutSuffix(rest, ext)
	if !ok || key == "" {
		return archive{}, false
	}
	switch p.Naming {
	case NamingTimestamp:
		raw, idx, _ := strings.Cut(key, "-")
		ts, err := time.Parse(timestampLayout, raw)
		if err != nil {
			return archive{}, false
		}
		n := 0
		if idx != "" {
			if n, err = strconv.Atoi(idx); err != nil {
				return archive{}, false
			}
		}
		return archive{ts: ts, n: n}, true
	default:
		if len(key) < counterWidth {
			return archive{}, false
		}
		n, err := strconv.Atoi(key)
		if err != nil || n <= 0 {
			return archive{}, false
		}
		return archive{n: n}, true
	}
}

// sortArchives orders oldest first.
func sortArchives(as []archive) {
	sort.Slice(as, func(i, j int) bool {
		if !as[i].ts.Equal(as[j].ts) {
			return as[i].ts.Before(as[j].ts)
		}
		return as[i].n < as[j].n
	})
}

// archiveName picks the next archive path (without compression suffix)
// given the archives already present.
func (p *RotationPolicy) archiveName(dir, stem, ext string, existing []archive, now time.Time) string {
	switch p.Naming {
	case NamingTimestamp:
		if p.UTC {
			now = now.UTC()
		}
		key := now.Format(timestampLayout)
		ts, _ := time.Parse(timestampLayout, key)
		n := -1
		for _, a := range existing {
			if a.ts.Equal(ts) && a.n > n {
				n = a.n
			}
		}
		if n >= 0 {
			key += "-" + strconv.Itoa(n+1)
		}
		return filepath.Join(dir, stem+"."+key+ext)
	default:
		max := 0
		for _, a := range existing {
			if a.n > max {
				max = a.n
			}
		}
		return filepath.Join(dir, fmt.Sprintf("%s.%0*d%s", stem, counterWidth, max+1, ext))
	}
}
