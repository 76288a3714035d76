package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"turboprint/pkg/turboprint"

	logx "turboprint/pkg/logx"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS history (
	seq     INTEGER PRIMARY KEY AUTOINCREMENT,
	id      TEXT,
	at      INTEGER NOT NULL,
	level   INTEGER NOT NULL,
	logger  TEXT NOT NULL,
	message TEXT NOT NULL,
	text    TEXT NOT NULL,
	fields  TEXT
);
CREATE INDEX IF NOT EXISTS history_level ON history(level);
CREATE INDEX IF NOT EXISTS history_logger ON history(logger);
`

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger

	capacity   int
	opCount    atomic.Uint64
	pruneEvery uint64
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, turboprint.ConfigError("storage.open", "sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, turboprint.ResourceError("storage.open", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, turboprint.ResourceError("storage.open", err)
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log, capacity: cfg.Capacity, pruneEvery: 100}
	if st.capacity <= 0 {
		st.capacity = DefaultCapacity
	}

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.ExecContext(context.Background(), schema); err != nil {
		_ = db.Close()
		return nil, turboprint.ResourceError("storage.migrate", err)
	}
	return st, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Append(ctx context.Context, e Entry) error {
	var fields any
	if len(e.Fields) > 0 {
		b, err := json.Marshal(e.Fields)
		if err != nil {
			return err
		}
		fields = string(b)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO history(id, at, level, logger, message, text, fields) VALUES(?,?,?,?,?,?,?)`,
		nullStr(e.ID), e.Time.UnixNano(), int(e.Level), e.Logger, e.Message, e.Text, fields,
	)
	if err != nil {
		return turboprint.ResourceError("storage.append", err)
	}
	if s.opCount.Add(1)%s.pruneEvery == 0 {
		pctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		if err := s.prune(pctx); err != nil {
			s.log.Debug("history prune failed", logx.Err(err))
		}
		cancel()
	}
	return nil
}

func (s *sqliteStore) Recent(ctx context.Context, q Query) ([]Entry, error) {
	where := []string{"level >= ?"}
	args := []any{int(q.MinLevel)}
	if !q.Since.IsZero() {
		where = append(where, "at >= ?")
		args = append(args, q.Since.UnixNano())
	}
	if lg := strings.TrimSpace(q.Logger); lg != "" && lg != turboprint.RootName {
		where = append(where, "(logger = ? OR substr(logger, 1, ?) = ?)")
		args = append(args, lg, len(lg)+1, lg+turboprint.Delimiter)
	}
	limit := q.Limit
	if limit <= 0 {
		limit = s.capacity
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, at, level, logger, message, text, fields FROM history WHERE `+
			strings.Join(where, " AND ")+` ORDER BY seq DESC LIMIT ?`, args...)
	if err != nil {
		return nil, turboprint.ResourceError("storage.recent", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e      Entry
			id     sql.NullString
			at     int64
			level  int
			fields sql.NullString
		)
		if err := rows.Scan(&id, &at, &level, &e.Logger, &e.Message, &e.Text, &fields); err != nil {
			return nil, err
		}
		e.ID = id.String
		e.Time = time.Unix(0, at)
		e.Level = turboprint.Level(level)
		if fields.Valid && fields.String != "" {
			_ = json.Unmarshal([]byte(fields.String), &e.Fields)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// prune keeps the newest capacity rows.
func (s *sqliteStore) prune(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM history WHERE seq <= (SELECT COALESCE(MAX(seq), 0) FROM history) - ?`, s.capacity)
	return err
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
