package fsutil

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteFileAtomic(t *testing.T) {
	fs := afero.NewMemMapFs()

	require.NoError(t, WriteFileAtomic(fs, "/a/b/c.json", []byte(`{"x":1}`)))
	got, err := afero.ReadFile(fs, "/a/b/c.json")
	require.NoError(t, err)
	assert.Equal(t, `{"x":1}`, string(got))

	require.NoError(t, WriteFileAtomic(fs, "/a/b/c.json", []byte(`{"x":2}`)))
	got, err = afero.ReadFile(fs, "/a/b/c.json")
	require.NoError(t, err)
	assert.Equal(t, `{"x":2}`, string(got))

	entries, err := afero.ReadDir(fs, "/a/b")
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

func TestWriteFileAtomic_ReadOnlyFs(t *testing.T) {
	fs := afero.NewReadOnlyFs(afero.NewMemMapFs())
	err := WriteFileAtomic(fs, "/x/y.json", []byte("{}"))
	assert.Error(t, err)
}
