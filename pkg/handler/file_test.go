package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"turboprint/pkg/format"
	"turboprint/pkg/turboprint"
)

var messageOnly = WithFormatter(format.Func(func(rec turboprint.Record) string { return rec.Message }))

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newFile(t *testing.T, policy RotationPolicy, fopts ...FileOption) *File {
	t.Helper()
	path := filepath.Join(t.TempDir(), "app.log")
	h, err := NewFile(path, policy, []Option{messageOnly}, fopts...)
	if err != nil {
		t.Fatalf("NewFile: %v", err)
	}
	t.Cleanup(func() { _ = h.Close() })
	return h
}

func logLines(t *testing.T, h turboprint.Handler, n int, width int) {
	t.Helper()
	for i := 0; i < n; i++ {
		msg := fmt.Sprintf("%0*d", width-1, i) // plus newline
		if err := h.Handle(context.Background(), turboprint.Record{Level: turboprint.LevelInfo, Message: msg}); err != nil {
			t.Fatalf("Handle #%d: %v", i, err)
		}
	}
}

func countFiles(t *testing.T, h *File) int {
	t.Helper()
	archives, err := h.Archives()
	if err != nil {
		t.Fatalf("Archives: %v", err)
	}
	n := len(archives)
	if _, err := os.Stat(h.Path()); err == nil {
		n++
	}
	return n
}

func TestFileRotationProducesCeilFiles(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		maxBytes int64
		records  int
		width    int
		want     int
	}{
		{name: "exact multiple", maxBytes: 100, records: 30, width: 10, want: 3},
		{name: "partial last file", maxBytes: 100, records: 25, width: 10, want: 3},
		{name: "single file", maxBytes: 100, records: 10, width: 10, want: 1},
		{name: "one record per file", maxBytes: 20, records: 7, width: 20, want: 7},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := newFile(t, RotationPolicy{MaxBytes: tt.maxBytes})
			logLines(t, h, tt.records, tt.width)
			total := int64(tt.records * tt.width)
			ceil := int((total + tt.maxBytes - 1) / tt.maxBytes)
			if ceil != tt.want {
				t.Fatalf("bad table: ceil=%d want=%d", ceil, tt.want)
			}
			if got := countFiles(t, h); got != tt.want {
				t.Fatalf("files = %d, want %d", got, tt.want)
			}
			archives, _ := h.Archives()
			for _, a := range archives {
				info, err := os.Stat(a)
				if err != nil {
					t.Fatalf("stat %s: %v", a, err)
				}
				if info.Size() > tt.maxBytes {
					t.Fatalf("archive %s is %d bytes, max %d", a, info.Size(), tt.maxBytes)
				}
			}
		})
	}
}

func TestFileRetentionCapsArchives(t *testing.T) {
	t.Parallel()
	h := newFile(t, RotationPolicy{MaxBytes: 10, Retention: 2})
	logLines(t, h, 6, 10)

	archives, err := h.Archives()
	if err != nil {
		t.Fatalf("Archives: %v", err)
	}
	if len(archives) != 2 {
		t.Fatalf("archives = %v, want 2", archives)
	}
	wantNames := []string{"app.000004.log", "app.000005.log"}
	for i, a := range archives {
		if filepath.Base(a) != wantNames[i] {
			t.Fatalf("archive %d = %s, want %s", i, filepath.Base(a), wantNames[i])
		}
	}
	data, err := os.ReadFile(archives[0])
	if err != nil {
		t.Fatalf("read archive: %v", err)
	}
	if string(data) != "000000003\n" {
		t.Fatalf("oldest kept archive holds %q", data)
	}
}

func TestFileTimestampNamingCollisions(t *testing.T) {
	t.Parallel()
	clk := &fakeClock{t: time.Date(2026, 10, 17, 15, 4, 5, 0, time.UTC)}
	h := newFile(t, RotationPolicy{MaxBytes: 10, Naming: NamingTimestamp, UTC: true, Retention: 2}, WithClock(clk.Now))
	logLines(t, h, 4, 10)

	archives, _ := h.Archives()
	var names []string
	for _, a := range archives {
		names = append(names, filepath.Base(a))
	}
	want := "app.20261017T150405-1.log,app.20261017T150405-2.log"
	if got := strings.Join(names, ","); got != want {
		t.Fatalf("archives = %s, want %s", got, want)
	}
}

func TestFileCompressesArchives(t *testing.T) {
	t.Parallel()
	for _, c := range []Compression{CompressGzip, CompressZstd} {
		c := c
		t.Run(string(c), func(t *testing.T) {
			t.Parallel()
			h := newFile(t, RotationPolicy{MaxBytes: 10, Compression: c})
			logLines(t, h, 2, 10)

			archives, _ := h.Archives()
			if len(archives) != 1 || !strings.HasSuffix(archives[0], ".log"+c.Ext()) {
				t.Fatalf("archives = %v", archives)
			}
			rc, err := openArchive(archives[0])
			if err != nil {
				t.Fatalf("openArchive: %v", err)
			}
			defer rc.Close()
			data, err := io.ReadAll(rc)
			if err != nil {
				t.Fatalf("read: %v", err)
			}
			if string(data) != "000000000\n" {
				t.Fatalf("archive content = %q", data)
			}
		})
	}
}

func TestFileAgeAndScheduleTriggers(t *testing.T) {
	t.Parallel()
	clk := &fakeClock{t: time.Date(2026, 10, 17, 10, 30, 0, 0, time.UTC)}
	h := newFile(t, RotationPolicy{MaxAge: 2 * time.Hour, Schedule: "0 * * * *"}, WithClock(clk.Now))

	logLines(t, h, 1, 10)
	clk.Advance(15 * time.Minute)
	logLines(t, h, 1, 10)
	if got := countFiles(t, h); got != 1 {
		t.Fatalf("rotated before the hour: %d files", got)
	}
	clk.Advance(20 * time.Minute) // 11:05, past the 11:00 cut
	logLines(t, h, 1, 10)
	if got := countFiles(t, h); got != 2 {
		t.Fatalf("files after cron cut = %d, want 2", got)
	}
}

func TestFileOpenFailureSuppressesAndRetries(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	blocker := filepath.Join(dir, "logs")
	if err := os.WriteFile(blocker, []byte("not a dir"), 0o644); err != nil {
		t.Fatal(err)
	}
	h, err := NewFile(filepath.Join(blocker, "app.log"), RotationPolicy{}, []Option{messageOnly})
	if err != nil {
		t.Fatalf("NewFile: %v", err)
	}
	defer h.Close()

	rec := turboprint.Record{Level: turboprint.LevelError, Message: "lost"}
	if err := h.Handle(context.Background(), rec); !errors.Is(err, turboprint.ErrResource) {
		t.Fatalf("Handle err = %v, want resource error", err)
	}

	if err := os.Remove(blocker); err != nil {
		t.Fatal(err)
	}
	rec.Message = "kept"
	if err := h.Handle(context.Background(), rec); err != nil {
		t.Fatalf("Handle after recovery: %v", err)
	}
	data, _ := os.ReadFile(h.Path())
	if string(data) != "kept\n" {
		t.Fatalf("file = %q", data)
	}
}

func TestFileFailureIsReportedNotRaised(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocked")
	_ = os.WriteFile(blocker, nil, 0o644)
	bad, err := NewFile(filepath.Join(blocker, "x.log"), RotationPolicy{}, nil)
	if err != nil {
		t.Fatalf("NewFile: %v", err)
	}
	good := NewStream(io.Discard)

	reg := turboprint.NewRegistry(turboprint.WithFallback(discardFallback()))
	log := reg.Get("io")
	log.AddHandler(bad)
	log.AddHandler(good)
	log.Error("disk full?")
	if s := reg.Stats(); s.HandlerErrors != 1 || s.Processed != 1 {
		t.Fatalf("stats = %+v", s)
	}
}

func TestFileConcurrentWritersKeepLinesWhole(t *testing.T) {
	t.Parallel()
	h := newFile(t, RotationPolicy{MaxBytes: 200})
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				_ = h.Handle(context.Background(), turboprint.Record{Message: fmt.Sprintf("g%d-%03d", g, i)})
			}
		}(g)
	}
	wg.Wait()
	paths, _ := h.Archives()
	paths = append(paths, h.Path())
	lines := 0
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			t.Fatalf("read %s: %v", p, err)
		}
		for _, line := range strings.Split(strings.TrimSuffix(string(data), "\n"), "\n") {
			if len(line) != len("g0-000") {
				t.Fatalf("torn line %q in %s", line, p)
			}
			lines++
		}
	}
	if lines != 400 {
		t.Fatalf("lines = %d, want 400", lines)
	}
}

func TestManualRotateAndClose(t *testing.T) {
	t.Parallel()
	h := newFile(t, RotationPolicy{})
	if err := h.Rotate(); err != nil {
		t.Fatalf("Rotate on empty file: %v", err)
	}
	logLines(t, h, 1, 10)
	if err := h.Rotate(); err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if got := countFiles(t, h); got != 1 {
		t.Fatalf("files = %d, want only the archive", got)
	}
	if err := h.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	err := h.Handle(context.Background(), turboprint.Record{Message: "late"})
	if !errors.Is(err, turboprint.ErrClosed) {
		t.Fatalf("Handle after Close err = %v", err)
	}
}

func TestRotationPolicyValidate(t *testing.T) {
	t.Parallel()
	bad := []RotationPolicy{
		{MaxBytes: -1},
		{Retention: -2},
		{Naming: "sequence"},
		{Schedule: "every tuesday"},
		{Compression: "brotli"},
	}
	for _, p := range bad {
		p := p
		if err := p.Validate(); !errors.Is(err, turboprint.ErrConfiguration) {
			t.Fatalf("Validate(%+v) = %v, want configuration error", p, err)
		}
	}
	ok := RotationPolicy{Schedule: "@daily"}
	if err := ok.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if ok.Naming != NamingCounter {
		t.Fatalf("default naming = %q", ok.Naming)
	}
	from := time.Date(2026, 10, 17, 15, 0, 0, 0, time.UTC)
	if next := ok.NextCut(from); !next.Equal(time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("NextCut = %v", next)
	}
}
