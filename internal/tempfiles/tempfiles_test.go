package tempfiles

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCommitReplacesTarget(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "out", "asset.png")

	f, err := Create(dir, ".upload-*")
	require.NoError(t, err)
	tmp := f.Name()
	_, err = f.WriteString("hello")
	require.NoError(t, err)

	require.NoError(t, Commit(f, target))
	data, err := os.ReadFile(target)
	require.NoError(t, err)
	require.Equal(t, "hello", string(data))

	_, err = os.Stat(tmp)
	require.True(t, os.IsNotExist(err))

	Discard(f)
	_, err = os.Stat(target)
	require.NoError(t, err)
}

func TestDiscardRemovesFile(t *testing.T) {
	dir := t.TempDir()
	f, err := Create(filepath.Join(dir, "nested"), "tempfiles-test-*")
	require.NoError(t, err)
	path := f.Name()

	Discard(f)
	_, err = os.Stat(path)
	require.True(t, os.IsNotExist(err))
}
