package storage

import (
	"context"
	"strings"

	"turboprint/pkg/turboprint"

	logx "turboprint/pkg/logx"
)

// Store is the history API used by the viewer.
type Store interface {
	Append(ctx context.Context, e Entry) error
	// Recent returns matching entries oldest first, at most q.Limit of the newest.
	Recent(ctx context.Context, q Query) ([]Entry, error)
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}

	switch driver {
	case "memory", "mem":
		return NewMemory(cfg.Capacity), nil
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, turboprint.ConfigError("storage.open", "unknown storage driver %q", driver)
	}
}
