package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"turboprint/pkg/turboprint"

	logx "turboprint/pkg/logx"
)

// fileStore appends entries as JSON Lines and serves queries from an
// in-memory ring loaded at open.
//
// The file is compacted to the ring contents once it holds twice the
// capacity, so it never grows without bound.
type fileStore struct {
	log  logx.Logger
	path string

	mu     sync.Mutex
	f      *os.File
	r      *ring
	lines  int
	closed bool
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, turboprint.ConfigError("storage.open", "storage.path is required for file driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, turboprint.ResourceError("storage.open", err)
	}

	s := &fileStore{log: log, path: path, r: newRing(cfg.Capacity)}
	if err := s.load(); err != nil && !os.IsNotExist(err) {
		log.Warn("history load failed", logx.String("path", path), logx.Err(err))
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, turboprint.ResourceError("storage.open", err)
	}
	s.f = f
	return s, nil
}

func (s *fileStore) load() error {
	f, err := os.Open(s.path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		var e Entry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			// Torn tail from a crash.
			continue
		}
		s.r.push(e)
		s.lines++
	}
	return sc.Err()
}

func (s *fileStore) Append(_ context.Context, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	b = append(b, '\n')
	if _, err := s.f.Write(b); err != nil {
		return turboprint.ResourceError("storage.append", err)
	}
	s.r.push(e)
	s.lines++
	if s.lines >= 2*len(s.r.buf) {
		if err := s.compactLocked(); err != nil {
			s.log.Debug("history compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) Recent(_ context.Context, q Query) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	return s.r.query(q), nil
}

// compactLocked rewrites the file with the ring contents and swaps it in.
func (s *fileStore) compactLocked() error {
	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	var encErr error
	s.r.each(func(e Entry) {
		if encErr == nil {
			encErr = enc.Encode(e)
		}
	})
	if encErr == nil {
		encErr = w.Flush()
	}
	if encErr != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return encErr
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return err
	}

	nf, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	_ = s.f.Close()
	s.f = nf
	s.lines = s.r.len()
	return nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.f.Close()
}
