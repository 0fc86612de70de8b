package update

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/spicysparks/sparks-client/internal/bundle"
)

const (
	cacheFileName = ".update-check"
	cacheDuration = 10 * time.Minute
)

// CacheEntry stores the last update check result
type CacheEntry struct {
	CheckedAt     time.Time       `json:"checked_at"`
	DeploymentKey string          `json:"deployment_key"`
	AppVersion    string          `json:"app_version"`
	PackageHash   string          `json:"package_hash"` // hash the check was made for
	Package       *bundle.Package `json:"package,omitempty"`
	// UpdateAppVersion is set when the latest release needs a newer binary.
	UpdateAppVersion bool   `json:"update_app_version,omitempty"`
	TargetAppVersion string `json:"target_app_version,omitempty"`
}

// GetCachePath returns the path to the cache file
func GetCachePath(homeDir string) string {
	return filepath.Join(homeDir, cacheFileName)
}

// LoadCache loads the cached update check result
func LoadCache(homeDir string) (*CacheEntry, error) {
	path := GetCachePath(homeDir)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var entry CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, err
	}

	return &entry, nil
}

// SaveCache saves the update check result
func SaveCache(homeDir string, entry *CacheEntry) error {
	path := GetCachePath(homeDir)
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// IsCacheValid returns true if cache is fresh (< 10m old)
func IsCacheValid(entry *CacheEntry) bool {
	return time.Since(entry.CheckedAt) < cacheDuration
}

// Matches reports whether entry was recorded for the same deployment,
// binary version and running package.
func (e *CacheEntry) Matches(deploymentKey, appVersion, packageHash string) bool {
	return e.DeploymentKey == deploymentKey && e.AppVersion == appVersion && e.PackageHash == packageHash
}

// Result converts the entry back into a check result.
func (e *CacheEntry) Result() *CheckResult {
	return &CheckResult{
		Package:          e.Package.Clone(),
		UpdateAppVersion: e.UpdateAppVersion,
		TargetAppVersion: e.TargetAppVersion,
		CheckedAt:        e.CheckedAt,
	}
}

// NewCacheEntry records result for the given query.
func NewCacheEntry(deploymentKey string, q Query, result *CheckResult) *CacheEntry {
	return &CacheEntry{
		CheckedAt:        result.CheckedAt,
		DeploymentKey:    deploymentKey,
		AppVersion:       q.AppVersion,
		PackageHash:      q.PackageHash,
		Package:          result.Package.Clone(),
		UpdateAppVersion: result.UpdateAppVersion,
		TargetAppVersion: result.TargetAppVersion,
	}
}
