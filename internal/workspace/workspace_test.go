package workspace_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fricon-project/fricon/internal/ferrors"
	"github.com/fricon-project/fricon/internal/workspace"
)

func mustParseUUID(t *testing.T, s string) uuid.UUID {
	t.Helper()
	id, err := uuid.Parse(s)
	require.NoError(t, err)
	return id
}

func TestCreateThenOpen(t *testing.T) {
	dir := t.TempDir()
	root, err := workspace.Create(dir)
	require.NoError(t, err)

	for _, d := range []string{"data", "log", "backup"} {
		info, err := os.Stat(filepath.Join(dir, d))
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
	require.NoError(t, root.Close())

	reopened, err := workspace.Open(dir)
	require.NoError(t, err)
	require.NoError(t, reopened.Close())
}

func TestCreateOnNonEmptyDirFails(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "junk.txt"), []byte("x"), 0o644))

	_, err := workspace.Create(dir)
	require.Error(t, err)
	assert.True(t, ferrors.Is(err, ferrors.CodeNotEmpty))
}

func TestCreateTwiceFailsAlreadyInitialized(t *testing.T) {
	dir := t.TempDir()
	root, err := workspace.Create(dir)
	require.NoError(t, err)
	require.NoError(t, root.Close())

	_, err = workspace.Create(dir)
	require.Error(t, err)
	assert.True(t, ferrors.Is(err, ferrors.CodeAlreadyInitialized))
}

// TestLockExclusivity is P8: a second attempt to open the same
// workspace root while the first handle is alive fails.
func TestLockExclusivity(t *testing.T) {
	dir := t.TempDir()
	root, err := workspace.Create(dir)
	require.NoError(t, err)
	defer root.Close()

	_, err = workspace.Open(dir)
	require.Error(t, err)
	assert.True(t, ferrors.Is(err, ferrors.CodeLocked))
}

func TestLockReleasedAfterClose(t *testing.T) {
	dir := t.TempDir()
	root, err := workspace.Create(dir)
	require.NoError(t, err)
	require.NoError(t, root.Close())

	second, err := workspace.Open(dir)
	require.NoError(t, err)
	require.NoError(t, second.Close())
}

func TestOpenVersionMismatch(t *testing.T) {
	dir := t.TempDir()
	root, err := workspace.Create(dir)
	require.NoError(t, err)
	require.NoError(t, root.Close())

	require.NoError(t, os.WriteFile(workspace.NewPaths(dir).MetadataFile(), []byte(`{"version":"99.0.0"}`), 0o644))

	_, err = workspace.Open(dir)
	require.Error(t, err)
	assert.True(t, ferrors.Is(err, ferrors.CodeVersionMismatch))
}

func TestValidateDoesNotLock(t *testing.T) {
	dir := t.TempDir()
	root, err := workspace.Create(dir)
	require.NoError(t, err)
	defer root.Close()

	// Validate must not require (or take) the exclusive lock, since
	// it's used by clients that will merely connect to a running
	// server that already holds it.
	require.NoError(t, workspace.Validate(dir))
}

func TestDatasetPathShardsByFirstTwoHexChars(t *testing.T) {
	paths := workspace.NewPaths("/root")
	id := mustParseUUID(t, "ab34cdef-0000-0000-0000-000000000000")
	got := paths.DatasetPath(id)
	want := filepath.Join("/root", "data", "ab", "ab34cdef-0000-0000-0000-000000000000")
	assert.Equal(t, want, got)
}
