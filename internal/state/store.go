// Package state persists the restriction records and global
// configuration shared by the interactive CLI and the unattended
// fail-safe runner. A record row is the sole source of truth that a
// lock is active; global settings live in a flat key/value table.
package state

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/ppiankov/lockward/internal/model"
)

// ErrStore marks storage-layer failures. Callers must not advance an
// enable/disable protocol past a failed state write: an applied deny
// without a matching record is untrackable by recovery.
var ErrStore = errors.New("state store error")

const schema = `
CREATE TABLE IF NOT EXISTS restrictions (
	category     TEXT NOT NULL,
	resource_key TEXT NOT NULL,
	username     TEXT NOT NULL,
	flag         INTEGER NOT NULL DEFAULT 1,
	PRIMARY KEY (category, resource_key, username)
);
CREATE TABLE IF NOT EXISTS config (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// Store is the durable restriction/config store. Safe for concurrent
// use within a process; cross-process exclusion is the caller's job
// (see the proclock package).
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Open opens (or creates) the store at the given SQLite path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, storeErr("create directory", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, storeErr("open database", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, storeErr("create schema", err)
	}

	return &Store{db: db}, nil
}

// DefaultPath returns the default state database location.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "lockward", "state.db")
	}
	return filepath.Join(home, ".lockward", "state.db")
}

// Close closes the underlying database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// Set records a restriction. Idempotent: repeated calls with the same
// (category, key, user) triple leave exactly one row.
func (s *Store) Set(rec model.RestrictionRecord) error {
	if !rec.Category.Valid() {
		return storeErr("set", fmt.Errorf("unknown category %q", rec.Category))
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT OR IGNORE INTO restrictions (category, resource_key, username) VALUES (?, ?, ?)`,
		string(rec.Category), rec.Key, rec.User,
	)
	if err != nil {
		return storeErr("insert restriction", err)
	}
	return nil
}

// GetAll returns every record across all categories, in stable
// (category, key, user) order. Used by full disable and recovery.
func (s *Store) GetAll() ([]model.RestrictionRecord, error) {
	return s.query(
		`SELECT category, resource_key, username FROM restrictions ORDER BY category, resource_key, username`,
	)
}

// GetCategory returns the records for one category.
func (s *Store) GetCategory(cat model.Category) ([]model.RestrictionRecord, error) {
	return s.query(
		`SELECT category, resource_key, username FROM restrictions WHERE category = ? ORDER BY resource_key, username`,
		string(cat),
	)
}

// GetUser returns every record owned by the given user.
func (s *Store) GetUser(user string) ([]model.RestrictionRecord, error) {
	return s.query(
		`SELECT category, resource_key, username FROM restrictions WHERE username = ? ORDER BY category, resource_key`,
		user,
	)
}

// Exists reports whether any user holds a restriction on the given
// resource ("is this resource locked by anyone").
func (s *Store) Exists(cat model.Category, key string) (bool, error) {
	return s.exists(
		`SELECT 1 FROM restrictions WHERE category = ? AND resource_key = ? LIMIT 1`,
		string(cat), key,
	)
}

// ExistsFor reports whether the exact (category, key, user) leaf exists.
func (s *Store) ExistsFor(cat model.Category, key, user string) (bool, error) {
	return s.exists(
		`SELECT 1 FROM restrictions WHERE category = ? AND resource_key = ? AND username = ? LIMIT 1`,
		string(cat), key, user,
	)
}

// Remove deletes one record. Removing an absent record is a no-op.
func (s *Store) Remove(rec model.RestrictionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`DELETE FROM restrictions WHERE category = ? AND resource_key = ? AND username = ?`,
		string(rec.Category), rec.Key, rec.User,
	)
	if err != nil {
		return storeErr("delete restriction", err)
	}
	return nil
}

// ClearUser removes every record owned by the given user across all
// categories and keys.
func (s *Store) ClearUser(user string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec(`DELETE FROM restrictions WHERE username = ?`, user); err != nil {
		return storeErr("clear user", err)
	}
	return nil
}

// ClearAll deletes every restriction record unconditionally.
// Used by recovery and full disable.
func (s *Store) ClearAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec(`DELETE FROM restrictions`); err != nil {
		return storeErr("clear all", err)
	}
	return nil
}

// SetConfig stores a flat configuration value outside the
// restrictions table, overwriting any previous value.
func (s *Store) SetConfig(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec(`INSERT OR REPLACE INTO config (key, value) VALUES (?, ?)`, key, value); err != nil {
		return storeErr("set config", err)
	}
	return nil
}

// GetConfig returns a configuration value and whether it was present.
func (s *Store) GetConfig(key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var value string
	err := s.db.QueryRow(`SELECT value FROM config WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, storeErr("get config", err)
	}
	return value, true, nil
}

// DeleteConfig removes a configuration value. Absent keys are a no-op.
func (s *Store) DeleteConfig(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec(`DELETE FROM config WHERE key = ?`, key); err != nil {
		return storeErr("delete config", err)
	}
	return nil
}

func (s *Store) query(q string, args ...any) ([]model.RestrictionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, storeErr("query restrictions", err)
	}
	defer rows.Close()

	var recs []model.RestrictionRecord
	for rows.Next() {
		var cat, key, user string
		if err := rows.Scan(&cat, &key, &user); err != nil {
			return nil, storeErr("scan restriction", err)
		}
		recs = append(recs, model.RestrictionRecord{Category: model.Category(cat), Key: key, User: user})
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate restrictions", err)
	}
	return recs, nil
}

func (s *Store) exists(q string, args ...any) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var one int
	err := s.db.QueryRow(q, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, storeErr("exists", err)
	}
	return true, nil
}

func storeErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrStore, op, err)
}

// Config keys for the global lock window and UAC toggle.
const (
	ConfigLockStart    = "lock_start_time"
	ConfigLockDuration = "lock_duration_minutes"
	ConfigUACEnforced  = "uac_enforced"
)

// SetLockWindow records when the restrictions were enabled and how
// long the fail-safe must wait before reverting them. Written once
// per enable; the recovery runner only reads it.
func (s *Store) SetLockWindow(start time.Time, duration time.Duration) error {
	minutes := int(duration / time.Minute)
	if err := s.SetConfig(ConfigLockStart, start.UTC().Format(time.RFC3339)); err != nil {
		return err
	}
	return s.SetConfig(ConfigLockDuration, fmt.Sprintf("%d", minutes))
}

// LockWindow returns the recorded lock start and duration. The bool
// is false when no window is recorded (recovery proceeds immediately).
func (s *Store) LockWindow() (time.Time, time.Duration, bool, error) {
	startStr, ok, err := s.GetConfig(ConfigLockStart)
	if err != nil || !ok {
		return time.Time{}, 0, false, err
	}
	durStr, ok, err := s.GetConfig(ConfigLockDuration)
	if err != nil || !ok {
		return time.Time{}, 0, false, err
	}

	start, err := time.Parse(time.RFC3339, startStr)
	if err != nil {
		return time.Time{}, 0, false, storeErr("parse lock start", err)
	}
	var minutes int
	if _, err := fmt.Sscanf(durStr, "%d", &minutes); err != nil {
		return time.Time{}, 0, false, storeErr("parse lock duration", err)
	}
	return start, time.Duration(minutes) * time.Minute, true, nil
}

// ClearLockWindow removes the lock window fields.
func (s *Store) ClearLockWindow() error {
	if err := s.DeleteConfig(ConfigLockStart); err != nil {
		return err
	}
	return s.DeleteConfig(ConfigLockDuration)
}

// SetUACEnforced records the machine-global UAC toggle.
func (s *Store) SetUACEnforced(on bool) error {
	if !on {
		return s.DeleteConfig(ConfigUACEnforced)
	}
	return s.SetConfig(ConfigUACEnforced, "1")
}

// UACEnforced reports whether UAC enforcement was recorded.
func (s *Store) UACEnforced() (bool, error) {
	v, ok, err := s.GetConfig(ConfigUACEnforced)
	if err != nil {
		return false, err
	}
	return ok && v == "1", nil
}
