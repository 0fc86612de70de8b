// Package settings holds the durable update records: the pending update
// marker, the failed updates list, the latest rollback info and the client
// unique id. Records are stored as JSON documents in a kv.Store.
package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/spicysparks/sparks-client/internal/bundle"
	"github.com/spicysparks/sparks-client/internal/kv"
)

const (
	keyPendingUpdate      = "SPARKS_PENDING_UPDATE"
	keyFailedUpdates      = "SPARKS_FAILED_UPDATES"
	keyLatestRollbackInfo = "SPARKS_LATEST_ROLLBACK_INFO"
	keyClientUniqueID     = "SPARKS_CLIENT_UNIQUE_ID"
)

// Manager gives typed access to the update records.
type Manager struct {
	store kv.Store
	now   func() time.Time
}

type Option func(*Manager)

// WithClock replaces the clock used to stamp rollback info.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func New(store kv.Store, opts ...Option) *Manager {
	m := &Manager{store: store, now: time.Now}
	for _, o := range opts {
		o(m)
	}
	return m
}

// readJSON decodes key into v. A value that does not parse is removed and
// reported as absent.
func (m *Manager) readJSON(key string, v any) (bool, error) {
	raw, ok, err := m.store.Get(key)
	if err != nil {
		return false, fmt.Errorf("read %s: %w", key, err)
	}
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		log.Warnf("unable to parse %s, discarding it: %v", key, err)
		if rmErr := m.store.Remove(key); rmErr != nil {
			return false, fmt.Errorf("remove corrupt %s: %w", key, rmErr)
		}
		return false, nil
	}
	return true, nil
}

func (m *Manager) writeJSON(key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := m.store.Set(key, string(b)); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

// FailedUpdates returns every package recorded as failed, oldest first.
func (m *Manager) FailedUpdates() ([]bundle.Package, error) {
	var failed []bundle.Package
	ok, err := m.readJSON(keyFailedUpdates, &failed)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []bundle.Package{}, nil
	}
	return failed, nil
}

func (m *Manager) IsFailedHash(hash string) (bool, error) {
	if hash == "" {
		return false, nil
	}
	failed, err := m.FailedUpdates()
	if err != nil {
		return false, err
	}
	for _, p := range failed {
		if p.PackageHash == hash {
			return true, nil
		}
	}
	return false, nil
}

// SaveFailedUpdate appends pkg unless a record with the same hash exists.
func (m *Manager) SaveFailedUpdate(pkg *bundle.Package) error {
	if pkg == nil || pkg.PackageHash == "" {
		return bundle.Unknown("save failed update", errors.New("package has no hash"))
	}
	failed, err := m.FailedUpdates()
	if err != nil {
		return err
	}
	for _, p := range failed {
		if p.PackageHash == pkg.PackageHash {
			return nil
		}
	}
	rec := *pkg
	rec.IsPending = false
	rec.IsDebugOnly = false
	return m.writeJSON(keyFailedUpdates, append(failed, rec))
}

func (m *Manager) RemoveFailedUpdates() error {
	return m.store.Remove(keyFailedUpdates)
}

// PendingUpdate returns the pending update marker or nil.
func (m *Manager) PendingUpdate() (*bundle.PendingUpdate, error) {
	var p bundle.PendingUpdate
	ok, err := m.readJSON(keyPendingUpdate, &p)
	if err != nil || !ok {
		return nil, err
	}
	return &p, nil
}

func (m *Manager) SavePendingUpdate(hash string, isLoading bool) error {
	return m.writeJSON(keyPendingUpdate, bundle.PendingUpdate{Hash: hash, IsLoading: isLoading})
}

func (m *Manager) RemovePendingUpdate() error {
	return m.store.Remove(keyPendingUpdate)
}

// IsPendingUpdate reports whether an unconfirmed install is waiting to be
// loaded. An empty hash matches any marker.
func (m *Manager) IsPendingUpdate(hash string) (bool, error) {
	p, err := m.PendingUpdate()
	if err != nil || p == nil {
		return false, err
	}
	return !p.IsLoading && (hash == "" || p.Hash == hash), nil
}

// LatestRollbackInfo returns the rollback counter or nil when no rollback
// was recorded.
func (m *Manager) LatestRollbackInfo() (*bundle.RollbackInfo, error) {
	var info bundle.RollbackInfo
	ok, err := m.readJSON(keyLatestRollbackInfo, &info)
	if err != nil || !ok {
		return nil, err
	}
	return &info, nil
}

// SetLatestRollbackInfo records a rollback of hash. The count grows while the
// same hash keeps rolling back and restarts at 1 for a different hash.
func (m *Manager) SetLatestRollbackInfo(hash string) error {
	prev, err := m.LatestRollbackInfo()
	if err != nil {
		return err
	}
	count := 0
	if prev != nil && prev.PackageHash == hash {
		count = prev.Count
	}
	return m.writeJSON(keyLatestRollbackInfo, bundle.RollbackInfo{
		PackageHash: hash,
		Time:        m.now().UnixMilli(),
		Count:       count + 1,
	})
}

// ClientUniqueID returns the id of this installation, generating and
// persisting it on first use.
func (m *Manager) ClientUniqueID() (string, error) {
	id, ok, err := m.store.Get(keyClientUniqueID)
	if err != nil {
		return "", fmt.Errorf("read client id: %w", err)
	}
	if ok && id != "" {
		return id, nil
	}
	id = uuid.NewString()
	if err := m.store.Set(keyClientUniqueID, id); err != nil {
		return "", fmt.Errorf("write client id: %w", err)
	}
	return id, nil
}

// Store exposes the underlying store for records owned by other packages.
func (m *Manager) Store() kv.Store { return m.store }
