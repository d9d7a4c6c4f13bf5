package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/JonMunkholm/qaimport/internal/core"
)

// DefaultFile is the progress file used when no path is configured.
const DefaultFile = "progress.json"

var _ Store = (*FileStore)(nil)

// FileStore keeps cursors in a single JSON object keyed by target id:
//
//	{"1": 57, "6": "20150103"}
//
// Writes replace the file atomically, so a crash mid-save leaves either the
// old or the new contents on disk.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore returns a store backed by path. The file is created on the
// first Save.
func NewFileStore(path string) *FileStore {
	if path == "" {
		path = DefaultFile
	}
	return &FileStore{path: path}
}

// Path returns the backing file.
func (s *FileStore) Path() string { return s.path }

// Load returns the cursor for targetID. A missing file or key is ok=false
// with no error; an unreadable or malformed file is an error.
func (s *FileStore) Load(_ context.Context, targetID string, kind core.CursorKind) (core.Cursor, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.read()
	if err != nil {
		return core.Cursor{}, false, err
	}
	c, ok, err := decode(all[targetID], kind)
	if err != nil {
		return core.Cursor{}, false, fmt.Errorf("progress for %s in %s: %w", targetID, s.path, err)
	}
	return c, ok, nil
}

// Save merges the cursor for targetID into the file.
func (s *FileStore) Save(_ context.Context, targetID string, c core.Cursor) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.read()
	if err != nil {
		return err
	}
	all[targetID] = c
	return s.write(all)
}

func (s *FileStore) All(context.Context) (map[string]core.Cursor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.read()
}

func (s *FileStore) Reset(_ context.Context, targetID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.read()
	if err != nil {
		return err
	}
	if _, ok := all[targetID]; !ok {
		return nil
	}
	delete(all, targetID)
	return s.write(all)
}

func (s *FileStore) Close() error { return nil }

func (s *FileStore) read() (map[string]core.Cursor, error) {
	all := make(map[string]core.Cursor)

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return all, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read progress file: %w", err)
	}
	if len(data) == 0 {
		return all, nil
	}
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, fmt.Errorf("parse progress file %s: %w", s.path, err)
	}
	return all, nil
}

func (s *FileStore) write(all map[string]core.Cursor) error {
	data, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return fmt.Errorf("encode progress: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".progress-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp progress file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("write progress: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync progress: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close progress: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace progress file: %w", err)
	}
	return nil
}
