package kv

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/afero"
)

// Store is a durable string key-value store. Every Set and Remove is
// atomic per key: either the new value is persisted or the old one is kept.
type Store interface {
	// Get returns the value for key and whether it exists.
	Get(key string) (string, bool, error)
	Set(key, value string) error
	Remove(key string) error
	Close() error
}

const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"

	fileStoreName   = "sparks-settings.json"
	sqliteStoreName = "sparks-settings.db"
)

// Open returns the store for backend rooted at home. The file backend uses fs;
// the sqlite backend always works on the real filesystem.
func Open(backend string, fs afero.Fs, home string) (Store, error) {
	switch backend {
	case "", BackendFile:
		return NewFileStore(fs, filepath.Join(home, fileStoreName))
	case BackendSQLite:
		return NewSQLiteStore(filepath.Join(home, sqliteStoreName))
	default:
		return nil, fmt.Errorf("unknown store backend %q", backend)
	}
}
