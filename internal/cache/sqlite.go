package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"
)

type SQLiteStore struct {
	db   *sql.DB
	lock *flock.Flock
	now  func() time.Time
}

func OpenSQLite(path, lockPath string, now func() time.Time) (*SQLiteStore, error) {
	if now == nil {
		now = time.Now
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite cache: %w", err)
	}

	queries := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"CREATE TABLE IF NOT EXISTS responses (key TEXT PRIMARY KEY, value BLOB NOT NULL, created_ms INTEGER NOT NULL, ttl_ms INTEGER NOT NULL);",
	}
	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init cache schema: %w", err)
		}
	}

	store := &SQLiteStore{db: db, lock: flock.New(lockPath), now: now}
	_ = store.Prune()
	return store, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Prune deletes every entry whose TTL has elapsed.
func (s *SQLiteStore) Prune() error {
	_, err := s.PruneCount()
	return err
}

func (s *SQLiteStore) PruneCount() (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var removed int64
	err := s.withLock(func() error {
		res, err := s.db.Exec("DELETE FROM responses WHERE created_ms + ttl_ms < ?", s.now().UTC().UnixMilli())
		if err != nil {
			return err
		}
		removed, _ = res.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("prune cache: %w", err)
	}
	return removed, nil
}

func (s *SQLiteStore) Get(key string) (Entry, bool, error) {
	var value []byte
	var createdMS, ttlMS int64
	err := s.db.QueryRow("SELECT value, created_ms, ttl_ms FROM responses WHERE key = ?", key).Scan(&value, &createdMS, &ttlMS)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, false, nil
		}
		return Entry{}, false, fmt.Errorf("cache read: %w", err)
	}

	now := s.now().UTC()
	entry := Entry{
		Value:     value,
		CreatedAt: time.UnixMilli(createdMS).UTC(),
		TTL:       time.Duration(ttlMS) * time.Millisecond,
	}
	if entry.expired(now) {
		if err := s.Delete(key); err != nil {
			return Entry{}, false, err
		}
		return Entry{}, false, nil
	}
	entry.Age = max(now.Sub(entry.CreatedAt), 0)
	return entry, true, nil
}

func (s *SQLiteStore) Set(key string, value []byte, ttl time.Duration) error {
	ttlMS := ttl.Milliseconds()
	if ttlMS <= 0 {
		ttlMS = 1
	}
	err := s.withLock(func() error {
		_, err := s.db.Exec(`
			INSERT INTO responses (key, value, created_ms, ttl_ms)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET
				value=excluded.value,
				created_ms=excluded.created_ms,
				ttl_ms=excluded.ttl_ms
		`, key, value, s.now().UTC().UnixMilli(), ttlMS)
		return err
	})
	if err != nil {
		return fmt.Errorf("cache write: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Delete(key string) error {
	err := s.withLock(func() error {
		_, err := s.db.Exec("DELETE FROM responses WHERE key = ?", key)
		return err
	})
	if err != nil {
		return fmt.Errorf("cache delete: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Clear() error {
	err := s.withLock(func() error {
		_, err := s.db.Exec("DELETE FROM responses")
		return err
	})
	if err != nil {
		return fmt.Errorf("cache clear: %w", err)
	}
	return nil
}

// Len counts stored rows, expired ones included.
func (s *SQLiteStore) Len() (int, error) {
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM responses").Scan(&n); err != nil {
		return 0, fmt.Errorf("cache count: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) withLock(fn func() error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	locked, err := s.lock.TryLockContext(ctx, 10*time.Millisecond)
	if err != nil {
		return fmt.Errorf("lock cache: %w", err)
	}
	if !locked {
		return fmt.Errorf("lock cache: timeout acquiring lock")
	}
	defer func() { _ = s.lock.Unlock() }()
	return fn()
}
