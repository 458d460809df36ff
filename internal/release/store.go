// Package release manages early-release authorizations: single-use,
// short-lived tokens an administrator mints so the fail-safe may
// revert restrictions before the lock window elapses. Without an
// active token the timer gate never unlocks early.
package release

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"
)

// validID matches alphanumeric, dash characters only (rel-<hex>).
var validID = regexp.MustCompile(`^[a-zA-Z0-9-]+$`)

// validateID rejects IDs that could cause path traversal.
func validateID(id string) error {
	if id == "" {
		return fmt.Errorf("id must not be empty")
	}
	if strings.Contains(id, "..") {
		return fmt.Errorf("id must not contain '..'")
	}
	if !validID.MatchString(id) {
		return fmt.Errorf("id contains invalid characters")
	}
	return nil
}

const (
	// DefaultValidity is the default early-release token lifetime.
	DefaultValidity = 15 * time.Minute
	// MaxValidity caps how far ahead an early release can be armed.
	MaxValidity = 2 * time.Hour
)

// Token authorizes one early fail-safe run.
type Token struct {
	ID          string     `json:"id"`
	Reason      string     `json:"reason"`
	RequestedBy string     `json:"requested_by"`
	CreatedAt   time.Time  `json:"created_at"`
	ExpiresAt   time.Time  `json:"expires_at"`
	ConsumedAt  *time.Time `json:"consumed_at,omitempty"`
	RevokedAt   *time.Time `json:"revoked_at,omitempty"`
}

// Active reports whether the token can still authorize a release:
// not consumed, not revoked, not expired.
func (t *Token) Active() bool {
	if t.ConsumedAt != nil || t.RevokedAt != nil {
		return false
	}
	return time.Now().UTC().Before(t.ExpiresAt)
}

// Store manages early-release token files on disk.
type Store struct {
	dir string
	mu  sync.Mutex
}

// NewStore creates a Store backed by the given directory.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("cannot create release directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Mint creates a new early-release token with a mandatory reason.
func (s *Store) Mint(reason, requestedBy string, validity time.Duration) (*Token, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, fmt.Errorf("early-release reason is required")
	}
	if validity <= 0 {
		validity = DefaultValidity
	}
	if validity > MaxValidity {
		return nil, fmt.Errorf("early-release validity %s exceeds maximum %s", validity, MaxValidity)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := generateID()
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	token := &Token{
		ID:          id,
		Reason:      reason,
		RequestedBy: requestedBy,
		CreatedAt:   now,
		ExpiresAt:   now.Add(validity),
	}

	if err := s.writeAtomic(s.path(id), token); err != nil {
		return nil, fmt.Errorf("failed to write token: %w", err)
	}

	return token, nil
}

// FindActive returns the first active token, or nil.
func (s *Store) FindActive() *Token {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil
	}

	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		id := strings.TrimSuffix(e.Name(), ".json")
		token, err := s.read(id)
		if err != nil {
			continue
		}
		if token.Active() {
			return token
		}
	}

	return nil
}

// Consume marks a token as used. Returns error if not active.
func (s *Store) Consume(id string) error {
	if err := validateID(id); err != nil {
		return fmt.Errorf("invalid token id: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	token, err := s.read(id)
	if err != nil {
		return fmt.Errorf("token %q not found: %w", id, err)
	}

	if !token.Active() {
		return fmt.Errorf("token %q is not active", id)
	}

	now := time.Now().UTC()
	token.ConsumedAt = &now
	return s.writeAtomic(s.path(id), token)
}

// Revoke marks a token as revoked.
func (s *Store) Revoke(id string) error {
	if err := validateID(id); err != nil {
		return fmt.Errorf("invalid token id: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	token, err := s.read(id)
	if err != nil {
		return fmt.Errorf("token %q not found: %w", id, err)
	}

	now := time.Now().UTC()
	token.RevokedAt = &now
	return s.writeAtomic(s.path(id), token)
}

// List returns all tokens in the store.
func (s *Store) List() ([]Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var tokens []Token
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		id := strings.TrimSuffix(e.Name(), ".json")
		token, err := s.read(id)
		if err != nil {
			continue
		}
		tokens = append(tokens, *token)
	}

	return tokens, nil
}

// Cleanup removes expired, consumed, and revoked token files.
func (s *Store) Cleanup() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	now := time.Now().UTC()
	var errs []error
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		id := strings.TrimSuffix(e.Name(), ".json")
		token, err := s.read(id)
		if err != nil {
			continue
		}
		if token.ConsumedAt != nil || token.RevokedAt != nil || now.After(token.ExpiresAt) {
			if err := os.Remove(s.path(id)); err != nil {
				errs = append(errs, err)
			}
		}
	}

	return errors.Join(errs...)
}

// Authorize consumes the first active token and returns it, or nil
// when no active token exists. Fail-closed: a token that cannot be
// consumed does not authorize anything.
func Authorize(s *Store) *Token {
	if s == nil {
		return nil
	}

	token := s.FindActive()
	if token == nil {
		return nil
	}
	if err := s.Consume(token.ID); err != nil {
		return nil
	}
	return token
}

func (s *Store) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

func (s *Store) read(id string) (*Token, error) {
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		return nil, err
	}
	var token Token
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, err
	}
	return &token, nil
}

func (s *Store) writeAtomic(path string, token *Token) error {
	data, err := json.MarshalIndent(token, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func generateID() (string, error) {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random ID: %w", err)
	}
	return "rel-" + hex.EncodeToString(b), nil
}
