package statestore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// StateFileName is the well-known file name of the corruption state document.
const StateFileName = "corruption_state.yaml"

// fileDocument is the on-disk layout of the state file.
type fileDocument struct {
	Key       string    `yaml:"key"`
	Status    Status    `yaml:"status"`
	Count     int       `yaml:"count"`
	UpdatedAt time.Time `yaml:"updated_at"`
}

// FileStore persists the corruption state as a small YAML document.
// Writes go to a temporary file that is synced and renamed over the state
// file, so a reader sees either the old or the new record.
type FileStore struct {
	fs     afero.Afero
	dir    string
	mu     sync.RWMutex
	closed bool
}

// NewFileStore creates a file-backed state store in dir.
// The directory is created if missing and must not be the directory that
// gets replaced when the database is restored.
func NewFileStore(fs afero.Fs, dir string) (*FileStore, error) {
	store := &FileStore{fs: afero.Afero{Fs: fs}, dir: dir}
	exists, err := store.fs.DirExists(dir)
	if err != nil {
		return nil, fmt.Errorf("stat state dir: %w", err)
	}
	if !exists {
		if err := store.fs.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create state dir: %w", err)
		}
	}
	return store, nil
}

// Path returns the location of the state file.
func (s *FileStore) Path() string {
	return filepath.Join(s.dir, StateFileName)
}

// Read implements Store.
func (s *FileStore) Read() (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return Record{}, ErrStoreClosed
	}

	data, err := s.fs.ReadFile(s.Path())
	if errors.Is(err, os.ErrNotExist) {
		return Record{Status: NotCorrupted}, nil
	}
	if err != nil {
		return Record{}, fmt.Errorf("read corruption state: %w", err)
	}

	var doc fileDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Record{}, fmt.Errorf("decode corruption state: %w", err)
	}
	return Record{Status: doc.Status, Count: doc.Count, UpdatedAt: doc.UpdatedAt}, nil
}

// Write implements Store.
func (s *FileStore) Write(rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}

	data, err := yaml.Marshal(fileDocument{
		Key:       StateKey,
		Status:    rec.Status,
		Count:     rec.Count,
		UpdatedAt: rec.UpdatedAt,
	})
	if err != nil {
		return fmt.Errorf("encode corruption state: %w", err)
	}

	if err := s.writeAtomic(data); err != nil {
		return fmt.Errorf("write corruption state: %w", err)
	}
	return nil
}

func (s *FileStore) writeAtomic(data []byte) error {
	tmp, err := s.fs.TempFile(s.dir, "."+StateFileName+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := true
	defer func() {
		if cleanup {
			_ = s.fs.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := s.fs.Rename(tmpPath, s.Path()); err != nil {
		return fmt.Errorf("atomic rename: %w", err)
	}
	cleanup = false

	return s.syncDir()
}

// syncDir makes the rename durable on filesystems that need it.
func (s *FileStore) syncDir() error {
	dir, err := s.fs.Open(s.dir)
	if err != nil {
		return fmt.Errorf("open dir for sync: %w", err)
	}
	defer dir.Close()

	if err := dir.Sync(); err != nil {
		return fmt.Errorf("sync dir: %w", err)
	}
	return nil
}

// Close implements Store.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	return nil
}
