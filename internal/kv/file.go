package kv

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/cespare/xxhash/v2"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/spicysparks/sparks-client/internal/fsutil"
)

// FileStore keeps all keys in a single JSON object document. Every
// operation re-reads the document, so several processes can share one
// home directory. On the OS filesystem operations also hold an exclusive
// lock on "<path>.lock".
type FileStore struct {
	mu      sync.Mutex
	fs      afero.Fs
	path    string
	data    map[string]string
	lastSum uint64 // xxhash of the document as last read or written
}

// NewFileStore loads the document at path. A document that does not parse
// is replaced by an empty one.
func NewFileStore(fsys afero.Fs, path string) (*FileStore, error) {
	s := &FileStore{
		fs:   fsys,
		path: path,
		data: make(map[string]string),
	}
	unlock, err := s.lock()
	if err != nil {
		return nil, err
	}
	defer unlock()
	if err := s.loadLocked(); err != nil {
		return nil, err
	}
	return s, nil
}

// lock serializes goroutines with mu and processes with flock.
func (s *FileStore) lock() (func(), error) {
	s.mu.Lock()
	if _, ok := s.fs.(*afero.OsFs); !ok {
		return s.mu.Unlock, nil
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	f, err := os.OpenFile(s.path+".lock", os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("open store lock: %w", err)
	}
	if err := flockExclusive(f); err != nil {
		_ = f.Close()
		s.mu.Unlock()
		return nil, fmt.Errorf("lock store %s: %w", s.path, err)
	}
	return func() {
		_ = flockUnlock(f)
		_ = f.Close()
		s.mu.Unlock()
	}, nil
}

// loadLocked refreshes data from disk. Unchanged bytes keep the parsed map.
func (s *FileStore) loadLocked() error {
	b, err := afero.ReadFile(s.fs, s.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		s.data = make(map[string]string)
		s.lastSum = 0
		return nil
	case err != nil:
		return fmt.Errorf("read store %s: %w", s.path, err)
	}

	sum := xxhash.Sum64(b)
	if sum == s.lastSum && s.lastSum != 0 {
		return nil
	}
	s.lastSum = sum
	data := make(map[string]string)
	if len(b) == 0 {
		s.data = data
		return nil
	}
	if err := json.Unmarshal(b, &data); err != nil {
		log.Warnf("store document %s is corrupt, replacing it with an empty one: %v", s.path, err)
		s.data = data
		return s.flushLocked()
	}
	s.data = data
	return nil
}

func (s *FileStore) Get(key string) (string, bool, error) {
	unlock, err := s.lock()
	if err != nil {
		return "", false, err
	}
	defer unlock()
	if err := s.loadLocked(); err != nil {
		return "", false, err
	}
	v, ok := s.data[key]
	return v, ok, nil
}

func (s *FileStore) Set(key, value string) error {
	unlock, err := s.lock()
	if err != nil {
		return err
	}
	defer unlock()
	if err := s.loadLocked(); err != nil {
		return err
	}

	old, had := s.data[key]
	s.data[key] = value
	if err := s.flushLocked(); err != nil {
		if had {
			s.data[key] = old
		} else {
			delete(s.data, key)
		}
		return err
	}
	return nil
}

func (s *FileStore) Remove(key string) error {
	unlock, err := s.lock()
	if err != nil {
		return err
	}
	defer unlock()
	if err := s.loadLocked(); err != nil {
		return err
	}

	old, had := s.data[key]
	if !had {
		return nil
	}
	delete(s.data, key)
	if err := s.flushLocked(); err != nil {
		s.data[key] = old
		return err
	}
	return nil
}

func (s *FileStore) Close() error { return nil }

// flushLocked writes data unless the encoded document equals what is on disk.
func (s *FileStore) flushLocked() error {
	b, err := json.Marshal(s.data)
	if err != nil {
		return fmt.Errorf("encode store: %w", err)
	}
	sum := xxhash.Sum64(b)
	if sum == s.lastSum {
		return nil
	}
	if err := fsutil.WriteFileAtomic(s.fs, s.path, b); err != nil {
		return fmt.Errorf("write store %s: %w", s.path, err)
	}
	s.lastSum = sum
	return nil
}
