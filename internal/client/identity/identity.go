// Package identity persists the local participant record between runs so
// a returning user keeps their display name without re-entering it. The
// server roster stays authoritative; this is only a cache.
package identity

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/qiwen/lan-chat/internal/model/presence"
)

const fileName = "identity.json"

// Store reads and writes the single local identity record. It is
// single-writer: one client process owns the file.
type Store struct {
	path string
}

// NewStore creates a store rooted at dir.
func NewStore(dir string) *Store {
	return &Store{path: filepath.Join(dir, fileName)}
}

// DefaultStore places the record under the user config directory.
func DefaultStore() (*Store, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return nil, fmt.Errorf("resolve config dir: %w", err)
	}
	return NewStore(filepath.Join(base, "lan-chat")), nil
}

// Load reads the stored record. A missing file is an error the caller
// treats as a cache miss.
func (s *Store) Load() (presence.Participant, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return presence.Participant{}, fmt.Errorf("read identity: %w", err)
	}

	var p presence.Participant
	if err := json.Unmarshal(data, &p); err != nil {
		return presence.Participant{}, fmt.Errorf("decode identity: %w", err)
	}
	return p, nil
}

// Save writes the record, creating the directory if needed. Failures are
// non-fatal for callers: the record is best-effort.
func (s *Store) Save(p presence.Participant) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create identity dir: %w", err)
	}

	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode identity: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("write identity: %w", err)
	}
	return nil
}
