// Package creds stores the bearer credential used by the remote gateway.
//
// The token lives in a permission-restricted file under the data directory
// and in a mutex-guarded in-memory copy, so there is at most one in-flight
// mutation of the credential at any time.
package creds

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// ErrNoToken is returned when no credential has been stored.
var ErrNoToken = errors.New("no stored credential")

// Store guards access to the persisted bearer token.
type Store struct {
	mu     sync.Mutex
	path   string
	token  string
	loaded bool
}

// NewStore creates a credential store rooted at the given data directory.
func NewStore(dataDir string) *Store {
	return &Store{path: filepath.Join(dataDir, "token")}
}

// Token returns the stored bearer token, reading it from disk on first use.
// Returns ErrNoToken if no credential has been stored.
func (s *Store) Token() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.loaded {
		data, err := os.ReadFile(s.path)
		if err != nil {
			if os.IsNotExist(err) {
				return "", ErrNoToken
			}
			return "", fmt.Errorf("failed to read credential: %w", err)
		}
		s.token = strings.TrimSpace(string(data))
		s.loaded = true
	}

	if s.token == "" {
		return "", ErrNoToken
	}
	return s.token, nil
}

// Save persists a new bearer token with owner-only permissions.
func (s *Store) Save(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("failed to create credential directory: %w", err)
	}
	if err := os.WriteFile(s.path, []byte(token), 0600); err != nil {
		return fmt.Errorf("failed to write credential: %w", err)
	}

	s.token = token
	s.loaded = true
	return nil
}

// Clear removes the stored credential.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove credential: %w", err)
	}

	s.token = ""
	s.loaded = true
	return nil
}
