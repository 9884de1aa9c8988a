// Package auth handles the chat site login: the persisted authentication
// snapshot (cookies + local storage), the element-based "is this page logged
// in" check, and the interactive wait for a human to sign in.
package auth

import (
	"errors"
	"fmt"
	"os"

	"github.com/roelfdiedericks/chatrelay/internal/config"
	. "github.com/roelfdiedericks/chatrelay/internal/logging"
)

// Store persists the authentication snapshot as an opaque blob.
type Store struct {
	path string
}

// NewStore returns a store backed by the file at path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the snapshot file path.
func (s *Store) Path() string { return s.path }

// Exists reports whether a snapshot has been saved.
func (s *Store) Exists() bool {
	info, err := os.Stat(s.path)
	return err == nil && !info.IsDir()
}

// Load returns the saved snapshot, or nil if there is none.
func (s *Store) Load() ([]byte, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		L_debug("auth: no snapshot", "path", s.path)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("auth: read snapshot: %w", err)
	}
	L_debug("auth: snapshot loaded", "path", s.path, "bytes", len(data))
	return data, nil
}

// snapshotBackups is how many previous snapshots Save keeps as .bak files.
const snapshotBackups = 2

// Save replaces the snapshot atomically, keeping the previous one as .bak.
// The file holds session cookies, so it is written owner-only.
func (s *Store) Save(data []byte) error {
	if len(data) == 0 {
		return errors.New("auth: refusing to save an empty snapshot")
	}
	if err := config.BackupAndWrite(s.path, data, 0600, snapshotBackups); err != nil {
		return fmt.Errorf("auth: save snapshot: %w", err)
	}
	L_info("auth: snapshot saved", "path", s.path)
	return nil
}

// Remove deletes the snapshot. A missing file is not an error.
func (s *Store) Remove() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("auth: remove snapshot: %w", err)
	}
	return nil
}
