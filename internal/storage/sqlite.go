//go:build sqlite
// +build sqlite

package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	logx "tickd/pkg/logx"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger

	keepRuns   int
	opCount    atomic.Uint64
	pruneEvery uint64
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	keep := cfg.KeepRuns
	if keep <= 0 {
		keep = defaultKeepRuns
	}
	st := &sqliteStore{db: db, log: log, keepRuns: keep, pruneEvery: 500}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) PersistLock(ctx context.Context, e LockEntry) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	name := strings.TrimSpace(e.Name)
	if name == "" {
		return nil
	}
	if e.Since.IsZero() {
		e.Since = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO locks(name, run_id, since_ms) VALUES(?,?,?)
		 ON CONFLICT(name) DO UPDATE SET run_id=excluded.run_id, since_ms=excluded.since_ms`,
		name, nullStr(e.RunID), e.Since.UnixMilli(),
	)
	return err
}

func (s *sqliteStore) ClearLock(ctx context.Context, name string) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM locks WHERE name = ?`, name)
	return err
}

func (s *sqliteStore) LoadLocks(ctx context.Context) ([]LockEntry, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx, `SELECT name, COALESCE(run_id,''), since_ms FROM locks`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []LockEntry
	for rows.Next() {
		var e LockEntry
		var ms int64
		if err := rows.Scan(&e.Name, &e.RunID, &ms); err != nil {
			return nil, err
		}
		e.Since = msTime(ms)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *sqliteStore) AppendRun(ctx context.Context, e RunEntry) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs(run_id, job, tier, at_ms, outcome, duration_ms, attempts, error)
		 VALUES(?,?,?,?,?,?,?,?)`,
		nullStr(e.RunID), e.Job, nullStr(e.Tier), e.At.UnixMilli(),
		e.Outcome, e.DurationMS, e.Attempts, nullStr(e.Error),
	)
	if err == nil && s.opCount.Add(1)%s.pruneEvery == 0 {
		pctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		_ = s.pruneRuns(pctx)
		cancel()
	}
	return err
}

func (s *sqliteStore) RecentRuns(ctx context.Context, limit int) ([]RunEntry, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT COALESCE(run_id,''), job, COALESCE(tier,''), at_ms, outcome, duration_ms, attempts, COALESCE(error,'')
		 FROM runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunEntry
	for rows.Next() {
		var e RunEntry
		var ms int64
		if err := rows.Scan(&e.RunID, &e.Job, &e.Tier, &ms, &e.Outcome, &e.DurationMS, &e.Attempts, &e.Error); err != nil {
			return nil, err
		}
		e.At = msTime(ms)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *sqliteStore) pruneRuns(ctx context.Context) error {
	if s == nil || s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM runs WHERE id NOT IN (SELECT id FROM runs ORDER BY id DESC LIMIT ?)`,
		s.keepRuns,
	)
	return err
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
