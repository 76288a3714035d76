package handler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "turboprint/pkg/logx"
	"turboprint/pkg/turboprint"
)

// File appends formatted records to a file and rotates it per RotationPolicy.
//
// The size check, rotation and write happen under one lock, so a record is
// never split across files and concurrent writers never interleave lines.
// If the file cannot be opened the record is dropped, the error is returned to
// the dispatcher, and the next record retries the open.
type File struct {
	Base

	path     string
	policy   RotationPolicy
	fallback logx.Logger
	now      func() time.Time

	mu     sync.Mutex
	f      *os.File
	state  RotationState
	closed bool
}

// FileOption configures File beyond the common handler options.
type FileOption func(*File)

// WithClock replaces time.Now for age and schedule triggers and archive names.
func WithClock(now func() time.Time) FileOption {
	return func(h *File) {
		if now != nil {
			h.now = now
		}
	}
}

// NewFile validates policy and prepares a handler for path. The file itself is
// opened lazily on the first record, so a missing directory is reported then.
func NewFile(path string, policy RotationPolicy, opts []Option, fopts ...FileOption) (*File, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, turboprint.ConfigError("file handler", "path is empty")
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	o := buildOptions(opts)
	h := &File{
		Base:     newBase(o),
		path:     filepath.Clean(path),
		policy:   policy,
		fallback: o.fallback.With(logx.String("file", path)),
		now:      time.Now,
	}
	for _, opt := range fopts {
		if opt != nil {
			opt(h)
		}
	}
	return h, nil
}

func (h *File) Path() string { return h.path }

func (h *File) Handle(_ context.Context, rec turboprint.Record) error {
	if !h.Allow(rec) {
		return nil
	}
	line := h.Format(rec)
	if !strings.HasSuffix(line, "\n") {
		line += "\n"
	}
	return h.write([]byte(line))
}

func (h *File) write(p []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return turboprint.ErrClosed
	}
	if err := h.openLocked(); err != nil {
		return err
	}
	now := h.now()
	if h.policy.ShouldRotate(h.state, len(p), now) {
		if err := h.rotateLocked(now); err != nil {
			return err
		}
		if err := h.openLocked(); err != nil {
			return err
		}
	}
	n, err := h.f.Write(p)
	h.state.Size += int64(n)
	if err != nil {
		return turboprint.ResourceError("write "+h.path, err)
	}
	return nil
}

func (h *File) openLocked() error {
	if h.f != nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(h.path), 0o755); err != nil {
		return turboprint.ResourceError("create log dir", err)
	}
	f, err := os.OpenFile(h.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return turboprint.ResourceError("open "+h.path, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return turboprint.ResourceError("stat "+h.path, err)
	}
	now := h.now()
	h.f = f
	h.state = RotationState{Size: info.Size(), OpenedAt: now, NextCut: h.policy.NextCut(now)}
	return nil
}

// Rotate archives the active file now, regardless of the policy triggers.
// Rotating an empty or unopened file is a no-op.
func (h *File) Rotate() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return turboprint.ErrClosed
	}
	if h.f == nil {
		if err := h.openLocked(); err != nil {
			return err
		}
	}
	if h.state.Size == 0 {
		return nil
	}
	return h.rotateLocked(h.now())
}

// rotateLocked closes the active file, renames it to the next archive name,
// compresses and prunes. The next write reopens the active path.
func (h *File) rotateLocked(now time.Time) error {
	if h.f != nil {
		if err := h.f.Close(); err != nil {
			h.fallback.Warn("close before rotate failed", logx.Err(err))
		}
		h.f = nil
	}
	dir, stem, ext := splitBase(h.path)
	existing, err := h.archives()
	if err != nil {
		return turboprint.ResourceError("list archives", err)
	}
	dst := h.policy.archiveName(dir, stem, ext, existing, now)
	if err := os.Rename(h.path, dst); err != nil {
		return turboprint.ResourceError("rotate "+h.path, err)
	}
	if h.policy.Compression != CompressNone {
		if _, err := compressFile(dst, h.policy.Compression); err != nil {
			h.fallback.Warn("archive compression failed", logx.String("archive", dst), logx.Err(err))
		}
	}
	if err := h.pruneLocked(); err != nil {
		h.fallback.Warn("archive pruning failed", logx.Err(err))
	}
	h.state = RotationState{}
	return nil
}

// archives lists rotated files for this handler, oldest first.
func (h *File) archives() ([]archive, error) {
	dir, stem, ext := splitBase(h.path)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var out []archive
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		a, ok := h.policy.parseArchive(stem, ext, e.Name())
		if !ok {
			continue
		}
		a.path = filepath.Join(dir, e.Name())
		out = append(out, a)
	}
	sortArchives(out)
	return out, nil
}

// Archives returns the paths of rotated files, oldest first.
func (h *File) Archives() ([]string, error) {
	as, err := h.archives()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(as))
	for _, a := range as {
		out = append(out, a.path)
	}
	return out, nil
}

func (h *File) pruneLocked() error {
	if h.policy.Retention <= 0 {
		return nil
	}
	as, err := h.archives()
	if err != nil {
		return err
	}
	var errs []error
	for len(as) > h.policy.Retention {
		if err := os.Remove(as[0].path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, fmt.Errorf("remove %s: %w", as[0].path, err))
		}
		as = as[1:]
	}
	return errors.Join(errs...)
}

// Sync flushes the active file to disk.
func (h *File) Sync() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.f == nil {
		return nil
	}
	return h.f.Sync()
}

// Close closes the active file. Later records return ErrClosed.
func (h *File) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	if h.f == nil {
		return nil
	}
	err := h.f.Close()
	h.f = nil
	if err != nil {
		return turboprint.ResourceError("close "+h.path, err)
	}
	return nil
}
