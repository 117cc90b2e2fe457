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

// Retention is how long an entry survives past its expiry before Open
// prunes it. It bounds the largest usable --max-stale window.
const Retention = 24 * time.Hour

const lockTimeout = 5 * time.Second

// Freshness classifies a lookup against the caller's stale window.
type Freshness int

const (
	Missing Freshness = iota
	Fresh
	// Stale entries are past their TTL but inside the stale window; they are
	// only served when a refresh fails.
	Stale
	// Expired entries are past the stale window and never served.
	Expired
)

func (f Freshness) String() string {
	switch f {
	case Fresh:
		return "fresh"
	case Stale:
		return "stale"
	case Expired:
		return "expired"
	default:
		return "missing"
	}
}

// Entry is one lookup result. Value is nil unless the entry is servable.
type Entry struct {
	Value     []byte
	FetchedAt time.Time
	ExpiresAt time.Time
	Freshness Freshness
}

func (e Entry) Age() time.Duration {
	if e.FetchedAt.IsZero() {
		return 0
	}
	age := time.Since(e.FetchedAt)
	if age < 0 {
		return 0
	}
	return age
}

// Servable reports whether the entry may stand in for a failed refresh.
func (e Entry) Servable() bool {
	return e.Freshness == Fresh || e.Freshness == Stale
}

// Store is a sqlite key/value cache for slow provider lookups (chain lists,
// token prices). Writes are serialized across processes with a file lock.
type Store struct {
	db   *sql.DB
	lock *flock.Flock
	now  func() time.Time
}

func Open(path, lockPath string) (*Store, error) {
	for _, dir := range []string{filepath.Dir(path), filepath.Dir(lockPath)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create cache directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite cache: %w", err)
	}
	schema := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		`CREATE TABLE IF NOT EXISTS lookups (
			key TEXT PRIMARY KEY,
			value BLOB NOT NULL,
			fetched_at INTEGER NOT NULL,
			expires_at INTEGER NOT NULL
		);`,
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init cache schema: %w", err)
		}
	}
	s := &Store{db: db, lock: flock.New(lockPath), now: time.Now}
	_ = s.Prune(Retention)
	return s, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Prune drops entries that expired more than keep ago.
func (s *Store) Prune(keep time.Duration) error {
	if s == nil || s.db == nil {
		return nil
	}
	cutoff := s.now().Add(-keep).UnixMilli()
	if _, err := s.db.Exec("DELETE FROM lookups WHERE expires_at < ?", cutoff); err != nil {
		return fmt.Errorf("prune cache: %w", err)
	}
	return nil
}

// Get classifies the entry for key. maxStale is how long past expiry the
// value may still be served; zero disables the stale window.
func (s *Store) Get(key string, maxStale time.Duration) (Entry, error) {
	var value []byte
	var fetchedMs, expiresMs int64
	err := s.db.QueryRow("SELECT value, fetched_at, expires_at FROM lookups WHERE key = ?", key).Scan(&value, &fetchedMs, &expiresMs)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{Freshness: Missing}, nil
	}
	if err != nil {
		return Entry{}, fmt.Errorf("cache read: %w", err)
	}

	entry := Entry{FetchedAt: time.UnixMilli(fetchedMs), ExpiresAt: time.UnixMilli(expiresMs)}
	if maxStale < 0 {
		maxStale = 0
	}
	now := s.now()
	switch {
	case now.Before(entry.ExpiresAt):
		entry.Freshness = Fresh
	case maxStale > 0 && !now.After(entry.ExpiresAt.Add(maxStale)):
		entry.Freshness = Stale
	default:
		entry.Freshness = Expired
		return entry, nil
	}
	entry.Value = value
	return entry, nil
}

// Set stores value as fetched now and fresh for ttl.
func (s *Store) Set(key string, value []byte, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), lockTimeout)
	defer cancel()
	locked, err := s.lock.TryLockContext(ctx, 50*time.Millisecond)
	if err != nil {
		return fmt.Errorf("lock cache: %w", err)
	}
	if !locked {
		return errors.New("lock cache: timeout acquiring lock")
	}
	defer func() { _ = s.lock.Unlock() }()

	if ttl <= 0 {
		ttl = time.Second
	}
	now := s.now()
	_, err = s.db.Exec(`
		INSERT INTO lookups (key, value, fetched_at, expires_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value=excluded.value, fetched_at=excluded.fetched_at, expires_at=excluded.expires_at
	`, key, value, now.UnixMilli(), now.Add(ttl).UnixMilli())
	if err != nil {
		return fmt.Errorf("cache write: %w", err)
	}
	return nil
}

// Remember serves a fresh entry, otherwise calls fetch and stores the result.
// When fetch fails a stale entry is served instead. A nil store always
// fetches.
func (s *Store) Remember(key string, ttl, maxStale time.Duration, fetch func() ([]byte, error)) ([]byte, Entry, error) {
	if s == nil || s.db == nil {
		value, err := fetch()
		return value, Entry{}, err
	}
	cached, readErr := s.Get(key, maxStale)
	if readErr == nil && cached.Freshness == Fresh {
		return cached.Value, cached, nil
	}
	value, err := fetch()
	if err != nil {
		if readErr == nil && cached.Servable() {
			return cached.Value, cached, nil
		}
		return nil, Entry{}, err
	}
	if err := s.Set(key, value, ttl); err != nil {
		return value, Entry{}, err
	}
	return value, Entry{Value: value, FetchedAt: s.now(), Freshness: Fresh}, nil
}
