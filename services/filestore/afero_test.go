package filestore

import (
	"io"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/elimu/core"
)

func TestStore(t *testing.T) {
	s := NewMemoryStore()

	n, err := s.Save("imports/a.zip", strings.NewReader("archive"))
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)

	ok, err := s.Exists("/imports/../imports/a.zip")
	require.NoError(t, err)
	assert.True(t, ok)

	f, err := s.Open("imports/a.zip")
	require.NoError(t, err)
	data, err := io.ReadAll(f)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	assert.Equal(t, "archive", string(data))

	_, err = s.Save("imports/a.zip", strings.NewReader("new"))
	require.NoError(t, err)
	data, err = afero.ReadFile(s.fs, "/imports/a.zip")
	require.NoError(t, err)
	assert.Equal(t, "new", string(data), "saving truncates")

	require.NoError(t, s.Delete("imports/a.zip", "missing.zip", " "))
	_, err = s.Open("imports/a.zip")
	assert.Equal(t, core.ErrFileNotFound, err)
}

func TestStore_emptyPath(t *testing.T) {
	s := NewMemoryStore()
	for _, p := range []string{"", " ", "/", "a/.."} {
		_, err := s.Save(p, strings.NewReader("x"))
		assert.Error(t, err, "%q", p)
		_, err = s.Exists(p)
		assert.Error(t, err, "%q", p)
	}
}

func TestNewLocalStore(t *testing.T) {
	root := t.TempDir() + "/media"
	s, err := NewLocalStore(root)
	require.NoError(t, err)

	_, err = s.Save("resources/r.txt", strings.NewReader("r"))
	require.NoError(t, err)
	ok, err := afero.Exists(afero.NewOsFs(), root+"/resources/r.txt")
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = s.Save("../../escape.txt", strings.NewReader("x"))
	require.NoError(t, err)
	ok, err = afero.Exists(afero.NewOsFs(), root+"/escape.txt")
	require.NoError(t, err)
	assert.True(t, ok, "paths stay under the root")
}
