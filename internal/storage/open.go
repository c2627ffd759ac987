package storage

import (
	"context"
	"errors"
	"strings"

	logx "tickd/pkg/logx"
)

// Store is the minimal persistence API used by the overlap guard and the run
// recorder.
type Store interface {
	PersistLock(ctx context.Context, e LockEntry) error
	ClearLock(ctx context.Context, name string) error
	LoadLocks(ctx context.Context) ([]LockEntry, error)

	AppendRun(ctx context.Context, e RunEntry) error
	RecentRuns(ctx context.Context, limit int) ([]RunEntry, error)

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

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
