package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	logx "tickd/pkg/logx"
)

const defaultKeepRuns = 10000

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.runs.jsonl          (append-only JSON Lines run history)
//   - <prefix>.locks.snapshot.json (periodic lock snapshot)
//   - <prefix>.locks.journal.jsonl (append-only lock transition journal)
//
// The journal is periodically compacted into the snapshot. The run history
// is trimmed to the retention cap on open.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	runsPath string
	runsFile *os.File
	keepRuns int

	lockSnapshotPath string
	lockJournalFile  *os.File
	locks            map[string]LockEntry

	lockWrites int
}

type lockRecord struct {
	Name    string `json:"name"`
	RunID   string `json:"run_id,omitempty"`
	SinceMS int64  `json:"since_ms,omitempty"`
	Held    bool   `json:"held"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	runsPath := prefix + ".runs.jsonl"
	snapPath := prefix + ".locks.snapshot.json"
	journalPath := prefix + ".locks.journal.jsonl"

	keep := cfg.KeepRuns
	if keep <= 0 {
		keep = defaultKeepRuns
	}
	if err := trimRunsFile(runsPath, keep); err != nil {
		log.Debug("run history trim failed", logx.Any("err", err))
	}

	rf, err := os.OpenFile(runsPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}

	// Load locks from snapshot + journal.
	locks := map[string]LockEntry{}
	_ = loadLockSnapshot(snapPath, locks)
	_ = replayLockJournal(journalPath, locks)

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		_ = rf.Close()
		return nil, err
	}

	return &fileStore{
		log:              log,
		runsPath:         runsPath,
		runsFile:         rf,
		keepRuns:         keep,
		lockSnapshotPath: snapPath,
		lockJournalFile:  jf,
		locks:            locks,
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err1, err2 error
	if s.runsFile != nil {
		err1 = s.runsFile.Close()
		s.runsFile = nil
	}
	if s.lockJournalFile != nil {
		err2 = s.lockJournalFile.Close()
		s.lockJournalFile = nil
	}
	if err1 != nil {
		return err1
	}
	return err2
}

func (s *fileStore) AppendRun(ctx context.Context, e RunEntry) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runsFile == nil {
		return errors.New("run history file closed")
	}
	return json.NewEncoder(s.runsFile).Encode(e)
}

func (s *fileStore) RecentRuns(ctx context.Context, limit int) ([]RunEntry, error) {
	_ = ctx
	if limit <= 0 {
		limit = 50
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.runsPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	// Keep the last <limit> decodable lines, newest first.
	ring := make([]RunEntry, 0, limit)
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		var e RunEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			continue
		}
		if len(ring) == limit {
			copy(ring, ring[1:])
			ring = ring[:limit-1]
		}
		ring = append(ring, e)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(ring)-1; i < j; i, j = i+1, j-1 {
		ring[i], ring[j] = ring[j], ring[i]
	}
	return ring, nil
}

func (s *fileStore) PersistLock(ctx context.Context, e LockEntry) error {
	_ = ctx
	name := strings.TrimSpace(e.Name)
	if name == "" {
		return nil
	}
	e.Name = name

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lockJournalFile == nil {
		return errors.New("lock journal closed")
	}
	s.locks[name] = e
	return s.appendLockLocked(lockRecord{Name: name, RunID: e.RunID, SinceMS: e.Since.UnixMilli(), Held: true})
}

func (s *fileStore) ClearLock(ctx context.Context, name string) error {
	_ = ctx
	name = strings.TrimSpace(name)
	if name == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lockJournalFile == nil {
		return errors.New("lock journal closed")
	}
	delete(s.locks, name)
	return s.appendLockLocked(lockRecord{Name: name, Held: false})
}

func (s *fileStore) LoadLocks(ctx context.Context) ([]LockEntry, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]LockEntry, 0, len(s.locks))
	for _, e := range s.locks {
		out = append(out, e)
	}
	return out, nil
}

func (s *fileStore) appendLockLocked(r lockRecord) error {
	if err := json.NewEncoder(s.lockJournalFile).Encode(r); err != nil {
		return err
	}
	s.lockWrites++
	if s.lockWrites%64 == 0 {
		// Best-effort compact.
		if err := s.compactLocked(); err != nil {
			s.log.Debug("lock journal compact failed", logx.Any("err", err))
		}
	}
	return nil
}

func (s *fileStore) compactLocked() error {
	tmp := s.lockSnapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(s.locks); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.lockSnapshotPath); err != nil {
		return err
	}
	// Truncate journal.
	if err := s.lockJournalFile.Truncate(0); err != nil {
		return err
	}
	_, err = s.lockJournalFile.Seek(0, 2)
	return err
}

func loadLockSnapshot(path string, out map[string]LockEntry) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var m map[string]LockEntry
	if err := json.NewDecoder(f).Decode(&m); err != nil {
		return err
	}
	for k, v := range m {
		out[k] = v
	}
	return nil
}

func replayLockJournal(path string, out map[string]LockEntry) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r lockRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			continue
		}
		if r.Name == "" {
			continue
		}
		if !r.Held {
			delete(out, r.Name)
			continue
		}
		out[r.Name] = LockEntry{Name: r.Name, RunID: r.RunID, Since: msTime(r.SinceMS)}
	}
	return sc.Err()
}

// trimRunsFile keeps the newest keep lines, rewriting the file when it grew
// past twice that.
func trimRunsFile(path string, keep int) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	lines := make([]string, 0, keep)
	total := 0
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		total++
		if len(lines) == keep {
			copy(lines, lines[1:])
			lines = lines[:keep-1]
		}
		lines = append(lines, sc.Text())
	}
	scanErr := sc.Err()
	_ = f.Close()
	if scanErr != nil {
		return scanErr
	}
	if total <= keep*2 {
		return nil
	}

	tmp := path + ".tmp"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(out)
	for _, l := range lines {
		if _, err := w.WriteString(l + "\n"); err != nil {
			_ = out.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		_ = out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
