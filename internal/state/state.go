// Package state persists the deployment markers that survive between
// runs: the hash and full text of the last deployed stack rendering and
// the time of the last floating-tag refresh. Markers are written only
// after the corresponding runtime operations succeeded, so a crashed run
// repeats its work instead of skipping it.
package state

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gofrs/flock"
)

const (
	hashFile     = "last.hash"
	snapshotFile = "last.config.yaml"
	pullFile     = "last.pull"
	lockFile     = "lock"
)

// Store reads and writes the persisted markers in the state directory.
type Store struct {
	dir  string
	lock *flock.Flock
}

// NewStore returns a store rooted at dir. The directory is created on
// Ensure, not here.
func NewStore(dir string) *Store {
	return &Store{
		dir:  dir,
		lock: flock.New(filepath.Join(dir, lockFile)),
	}
}

// Dir returns the state directory path.
func (s *Store) Dir() string {
	return s.dir
}

// Ensure creates the state directory if it does not exist.
func (s *Store) Ensure() error {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	return nil
}

// TryLock attempts to take the advisory run lock without blocking.
// It returns false when another run holds the lock.
func (s *Store) TryLock() (bool, error) {
	locked, err := s.lock.TryLock()
	if err != nil {
		return false, fmt.Errorf("failed to acquire run lock: %w", err)
	}
	return locked, nil
}

// Unlock releases the advisory run lock.
func (s *Store) Unlock() error {
	return s.lock.Unlock()
}

// LoadHash returns the hash of the last deployed rendering. ok is false
// when no deploy has been recorded yet.
func (s *Store) LoadHash() (hash string, ok bool, err error) {
	data, err := os.ReadFile(filepath.Join(s.dir, hashFile))
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to read hash marker: %w", err)
	}
	hash = strings.TrimSpace(string(data))
	if hash == "" {
		return "", false, nil
	}
	return hash, true, nil
}

// LoadSnapshot returns the full text of the last deployed rendering. ok
// is false when no snapshot has been recorded yet.
func (s *Store) LoadSnapshot() (text string, ok bool, err error) {
	data, err := os.ReadFile(filepath.Join(s.dir, snapshotFile))
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to read snapshot marker: %w", err)
	}
	return string(data), true, nil
}

// LoadLastPull returns the time of the last floating-tag refresh. A
// missing or malformed marker reads as the zero time with ok false,
// which makes the next refresh immediately due.
func (s *Store) LoadLastPull() (t time.Time, ok bool, err error) {
	data, err := os.ReadFile(filepath.Join(s.dir, pullFile))
	if err != nil {
		if os.IsNotExist(err) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("failed to read pull marker: %w", err)
	}
	secs, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return time.Time{}, false, nil
	}
	return time.Unix(secs, 0), true, nil
}

// SaveDeployState records the hash and full text of a successfully
// deployed rendering.
func (s *Store) SaveDeployState(hash, snapshotText string) error {
	if err := s.writeFileAtomic(snapshotFile, []byte(snapshotText)); err != nil {
		return fmt.Errorf("failed to save snapshot marker: %w", err)
	}
	if err := s.writeFileAtomic(hashFile, []byte(hash+"\n")); err != nil {
		return fmt.Errorf("failed to save hash marker: %w", err)
	}
	return nil
}

// SaveLastPull records the time of a completed floating-tag refresh.
func (s *Store) SaveLastPull(t time.Time) error {
	data := []byte(strconv.FormatInt(t.Unix(), 10) + "\n")
	if err := s.writeFileAtomic(pullFile, data); err != nil {
		return fmt.Errorf("failed to save pull marker: %w", err)
	}
	return nil
}

// writeFileAtomic writes data to a temp file in the state directory and
// renames it into place.
func (s *Store) writeFileAtomic(name string, data []byte) error {
	if err := s.Ensure(); err != nil {
		return err
	}

	// Create temp file next to the destination
	tmpFile, err := os.CreateTemp(s.dir, ".composewatch-tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()
	defer func() {
		_ = os.Remove(tmpPath)
	}() // cleanup on error

	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		return err
	}

	if err := tmpFile.Chmod(0644); err != nil {
		_ = tmpFile.Close()
		return err
	}

	if err := tmpFile.Close(); err != nil {
		return err
	}

	// Atomic rename
	return os.Rename(tmpPath, filepath.Join(s.dir, name))
}
