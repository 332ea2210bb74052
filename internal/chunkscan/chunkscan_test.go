package chunkscan_test

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fricon-project/fricon/internal/chunkscan"
)

func TestListOrdersByNumericIndexNotLexically(t *testing.T) {
	dir := t.TempDir()
	for _, n := range []int{2, 10, 1} {
		path := filepath.Join(dir, fmt.Sprintf("data_chunk_%d.arrow", n))
		require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	}
	// A lexical sort would put "data_chunk_1" before "data_chunk_10"
	// before "data_chunk_2"; List must sort by the numeric index.
	paths, err := chunkscan.List(dir)
	require.NoError(t, err)
	require.Len(t, paths, 3)
	assert.Equal(t, filepath.Join(dir, "data_chunk_1.arrow"), paths[0])
	assert.Equal(t, filepath.Join(dir, "data_chunk_2.arrow"), paths[1])
	assert.Equal(t, filepath.Join(dir, "data_chunk_10.arrow"), paths[2])
}

func TestListEmptyDirectory(t *testing.T) {
	paths, err := chunkscan.List(t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, paths)
}

func TestListMissingDirectory(t *testing.T) {
	paths, err := chunkscan.List(filepath.Join(t.TempDir(), "does-not-exist"))
	require.NoError(t, err)
	assert.Empty(t, paths)
}

func TestOpenMissingFile(t *testing.T) {
	_, err := chunkscan.Open(filepath.Join(t.TempDir(), "data_chunk_0.arrow"))
	require.Error(t, err)
}
