package registry_test

import (
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fricon-project/fricon/internal/chunkwriter"
	"github.com/fricon-project/fricon/internal/registry"
)

var testSchema = arrow.NewSchema([]arrow.Field{{Name: "v", Type: arrow.PrimitiveTypes.Float64}}, nil)

func TestStartGetRemoveOnCommit(t *testing.T) {
	reg := registry.New()
	dir := t.TempDir()
	id := int64(1)

	guard := reg.Start(id, uuid.New(), dir, testSchema, chunkwriter.DefaultLimits(), 4, nil, nil)

	_, ok := reg.Get(id)
	assert.True(t, ok)

	require.NoError(t, guard.Commit())

	_, ok = reg.Get(id)
	assert.False(t, ok)
}

func TestStartGetRemoveOnAbort(t *testing.T) {
	reg := registry.New()
	dir := t.TempDir()
	id := int64(2)

	guard := reg.Start(id, uuid.New(), dir, testSchema, chunkwriter.DefaultLimits(), 4, nil, nil)
	_, ok := reg.Get(id)
	assert.True(t, ok)

	require.NoError(t, guard.Abort())
	_, ok = reg.Get(id)
	assert.False(t, ok)
}

// TestDuplicateSessionPanics is I5: a dataset has exactly zero or one
// active write session at any time.
func TestDuplicateSessionPanics(t *testing.T) {
	reg := registry.New()
	dir := t.TempDir()
	id := int64(3)
	guard := reg.Start(id, uuid.New(), dir, testSchema, chunkwriter.DefaultLimits(), 4, nil, nil)
	defer guard.Abort()

	assert.Panics(t, func() {
		reg.Start(id, uuid.New(), dir, testSchema, chunkwriter.DefaultLimits(), 4, nil, nil)
	})
}

func TestCommitIsIdempotent(t *testing.T) {
	reg := registry.New()
	dir := t.TempDir()
	id := int64(4)
	guard := reg.Start(id, uuid.New(), dir, testSchema, chunkwriter.DefaultLimits(), 4, nil, nil)

	require.NoError(t, guard.Commit())
	require.NoError(t, guard.Commit())
}
