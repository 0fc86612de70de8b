package repo

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spicysparks/sparks-client/internal/bundle"
)

const home = "/data/app"

// seedPackage writes an installed package folder without going through a download.
func seedPackage(t *testing.T, r *Repository, hash string) {
	t.Helper()
	pkg := bundle.Package{PackageHash: hash, AppVersion: "1.0.0", BundlePath: "index.bundle"}
	b, err := json.Marshal(pkg)
	require.NoError(t, err)
	require.NoError(t, afero.WriteFile(r.fs, filepath.Join(r.packageFolder(hash), metadataFile), b, 0o644))
	require.NoError(t, afero.WriteFile(r.fs, filepath.Join(r.packageFolder(hash), "index.bundle"), []byte(hash), 0o644))
}

func folderExists(t *testing.T, r *Repository, hash string) bool {
	t.Helper()
	ok, err := afero.DirExists(r.fs, r.packageFolder(hash))
	require.NoError(t, err)
	return ok
}

func TestEmptyRepository(t *testing.T) {
	r := New(afero.NewMemMapFs(), home)

	pkg, err := r.CurrentPackage()
	require.NoError(t, err)
	assert.Nil(t, pkg)

	path, err := r.CurrentPackageBundlePath("index.bundle")
	require.NoError(t, err)
	assert.Empty(t, path)

	folder, err := r.CurrentPackageFolder()
	require.NoError(t, err)
	assert.Empty(t, folder)
}

func TestInstallPackage_DemotesCurrent(t *testing.T) {
	r := New(afero.NewMemMapFs(), home)
	for _, h := range []string{"a", "b", "c"} {
		seedPackage(t, r, h)
	}

	require.NoError(t, r.InstallPackage(&bundle.Package{PackageHash: "a"}, false))
	require.NoError(t, r.InstallPackage(&bundle.Package{PackageHash: "b"}, false))

	cur, err := r.CurrentPackageHash()
	require.NoError(t, err)
	prev, err := r.PreviousPackageHash()
	require.NoError(t, err)
	assert.Equal(t, "b", cur)
	assert.Equal(t, "a", prev)

	require.NoError(t, r.InstallPackage(&bundle.Package{PackageHash: "c"}, false))
	prev, err = r.PreviousPackageHash()
	require.NoError(t, err)
	assert.Equal(t, "b", prev)
	assert.False(t, folderExists(t, r, "a"), "package two installs back is removed")

	path, err := r.CurrentPackageBundlePath("ignored.bundle")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, DirName, "c", "index.bundle"), path)
}

func TestInstallPackage_OverPendingKeepsConfirmed(t *testing.T) {
	r := New(afero.NewMemMapFs(), home)
	for _, h := range []string{"good", "p1", "p2"} {
		seedPackage(t, r, h)
	}
	require.NoError(t, r.InstallPackage(&bundle.Package{PackageHash: "good"}, false))
	require.NoError(t, r.InstallPackage(&bundle.Package{PackageHash: "p1"}, false))
	require.NoError(t, r.InstallPackage(&bundle.Package{PackageHash: "p2"}, true))

	cur, _ := r.CurrentPackageHash()
	prev, _ := r.PreviousPackageHash()
	assert.Equal(t, "p2", cur)
	assert.Equal(t, "good", prev)
	assert.False(t, folderExists(t, r, "p1"))
	assert.True(t, folderExists(t, r, "good"))
}

func TestInstallPackage_SameHashIsNoop(t *testing.T) {
	r := New(afero.NewMemMapFs(), home)
	seedPackage(t, r, "a")
	seedPackage(t, r, "b")
	require.NoError(t, r.InstallPackage(&bundle.Package{PackageHash: "a"}, false))
	require.NoError(t, r.InstallPackage(&bundle.Package{PackageHash: "b"}, false))
	require.NoError(t, r.InstallPackage(&bundle.Package{PackageHash: "b"}, false))

	prev, _ := r.PreviousPackageHash()
	assert.Equal(t, "a", prev)
}

func TestInstallPackage_RequiresHash(t *testing.T) {
	r := New(afero.NewMemMapFs(), home)
	assert.Error(t, r.InstallPackage(&bundle.Package{}, false))
}

func TestRollbackPackage(t *testing.T) {
	r := New(afero.NewMemMapFs(), home)
	seedPackage(t, r, "a")
	seedPackage(t, r, "b")
	require.NoError(t, r.InstallPackage(&bundle.Package{PackageHash: "a"}, false))
	require.NoError(t, r.InstallPackage(&bundle.Package{PackageHash: "b"}, false))

	require.NoError(t, r.RollbackPackage())
	cur, err := r.CurrentPackage()
	require.NoError(t, err)
	require.NotNil(t, cur)
	assert.Equal(t, "a", cur.PackageHash)
	assert.False(t, folderExists(t, r, "b"))

	prev, err := r.PreviousPackage()
	require.NoError(t, err)
	assert.Nil(t, prev)

	// rolling back past the first package leaves nothing installed
	require.NoError(t, r.RollbackPackage())
	require.NoError(t, r.RollbackPackage())
	cur, err = r.CurrentPackage()
	require.NoError(t, err)
	assert.Nil(t, cur)
}

func TestClearUpdates(t *testing.T) {
	r := New(afero.NewMemMapFs(), home)
	seedPackage(t, r, "a")
	require.NoError(t, r.InstallPackage(&bundle.Package{PackageHash: "a"}, false))

	require.NoError(t, r.ClearUpdates())
	require.NoError(t, r.ClearUpdates())
	cur, err := r.CurrentPackage()
	require.NoError(t, err)
	assert.Nil(t, cur)
	assert.False(t, folderExists(t, r, "a"))
}

func TestMalformedIndex(t *testing.T) {
	r := New(afero.NewMemMapFs(), home)
	require.NoError(t, afero.WriteFile(r.fs, filepath.Join(r.root, indexFile), []byte("{oops"), 0o644))

	_, err := r.CurrentPackage()
	require.Error(t, err)
	assert.ErrorIs(t, err, bundle.ErrMalformedData)

	_, err = r.CurrentPackageBundlePath("index.bundle")
	assert.ErrorIs(t, err, bundle.ErrMalformedData)
}

func TestMalformedMetadata(t *testing.T) {
	r := New(afero.NewMemMapFs(), home)
	require.NoError(t, afero.WriteFile(r.fs, filepath.Join(r.packageFolder("a"), metadataFile), []byte("[]x"), 0o644))
	require.NoError(t, r.InstallPackage(&bundle.Package{PackageHash: "a"}, false))

	_, err := r.CurrentPackage()
	assert.ErrorIs(t, err, bundle.ErrMalformedData)
}
