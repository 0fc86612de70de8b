package update

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spicysparks/sparks-client/internal/bundle"
)

func TestGetCachePath(t *testing.T) {
	tests := []struct {
		name    string
		homeDir string
		want    string
	}{
		{
			name:    "unix path",
			homeDir: "/home/user",
			want:    "/home/user/.update-check",
		},
		{
			name:    "relative path",
			homeDir: ".",
			want:    filepath.Join(".", ".update-check"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := GetCachePath(tt.homeDir)
			if got != tt.want {
				t.Errorf("GetCachePath() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSaveAndLoadCache(t *testing.T) {
	homeDir := t.TempDir()

	original := &CacheEntry{
		CheckedAt:     time.Now().Truncate(time.Second), // Truncate for JSON precision
		DeploymentKey: "key",
		AppVersion:    "1.0.0",
		PackageHash:   "running",
		Package:       &bundle.Package{PackageHash: "next", Label: "v2"},
	}

	if err := SaveCache(homeDir, original); err != nil {
		t.Fatalf("SaveCache() error = %v", err)
	}

	loaded, err := LoadCache(homeDir)
	if err != nil {
		t.Fatalf("LoadCache() error = %v", err)
	}

	if !loaded.CheckedAt.Equal(original.CheckedAt) {
		t.Errorf("CheckedAt = %v, want %v", loaded.CheckedAt, original.CheckedAt)
	}
	if !loaded.Matches("key", "1.0.0", "running") {
		t.Errorf("Matches() = false for the query the entry was saved for")
	}
	if loaded.Matches("key", "1.0.0", "other") {
		t.Errorf("Matches() = true for another running package")
	}
	if loaded.Package == nil || loaded.Package.PackageHash != "next" {
		t.Errorf("Package = %+v, want hash next", loaded.Package)
	}
}

func TestLoadCache_NotExists(t *testing.T) {
	homeDir := t.TempDir()

	_, err := LoadCache(homeDir)
	if err == nil {
		t.Fatal("LoadCache() expected error, got nil")
	}
	if !os.IsNotExist(err) {
		t.Errorf("LoadCache() error type = %T, want os.PathError", err)
	}
}

func TestLoadCache_InvalidJSON(t *testing.T) {
	homeDir := t.TempDir()
	cachePath := GetCachePath(homeDir)

	err := os.WriteFile(cachePath, []byte("invalid json {"), 0644)
	if err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}

	_, err = LoadCache(homeDir)
	if err == nil {
		t.Fatal("LoadCache() expected error for invalid JSON, got nil")
	}
}

func TestIsCacheValid(t *testing.T) {
	// Note: cacheDuration is 10 minutes
	tests := []struct {
		name      string
		checkedAt time.Time
		want      bool
	}{
		{
			name:      "fresh cache - just now",
			checkedAt: time.Now(),
			want:      true,
		},
		{
			name:      "fresh cache - 9 minutes ago",
			checkedAt: time.Now().Add(-9 * time.Minute),
			want:      true,
		},
		{
			name:      "stale cache - 11 minutes ago",
			checkedAt: time.Now().Add(-11 * time.Minute),
			want:      false,
		},
		{
			name:      "stale cache - 24 hours ago",
			checkedAt: time.Now().Add(-24 * time.Hour),
			want:      false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsCacheValid(&CacheEntry{CheckedAt: tt.checkedAt})
			if got != tt.want {
				t.Errorf("IsCacheValid() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCacheEntryRoundTripsResult(t *testing.T) {
	q := Query{AppVersion: "1.0.0", PackageHash: "running"}
	result := &CheckResult{
		UpdateAppVersion: true,
		TargetAppVersion: "2.0.0",
		CheckedAt:        time.Now(),
	}

	got := NewCacheEntry("key", q, result).Result()
	if !got.UpdateAppVersion || got.TargetAppVersion != "2.0.0" || got.Package != nil {
		t.Errorf("Result() = %+v, want binary update to 2.0.0", got)
	}
}

func TestSaveCache_NonexistentDirectory(t *testing.T) {
	err := SaveCache("/nonexistent/path/to/dir", &CacheEntry{CheckedAt: time.Now()})
	if err == nil {
		t.Fatal("expected error writing to non-existent directory")
	}
}
