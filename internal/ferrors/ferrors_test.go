package ferrors_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fricon-project/fricon/internal/ferrors"
)

func TestNewAndKindOf(t *testing.T) {
	err := ferrors.New(ferrors.KindNotFound, ferrors.CodeCatalogNotFound)
	assert.Equal(t, ferrors.KindNotFound, ferrors.KindOf(err))
	assert.True(t, ferrors.Is(err, ferrors.CodeCatalogNotFound))
	assert.False(t, ferrors.Is(err, ferrors.CodeCatalogConflict))
}

func TestWrapPreservesCauseChain(t *testing.T) {
	cause := errors.New("disk full")
	err := ferrors.Wrap(ferrors.KindInternal, ferrors.CodeWorkspaceIO, cause, "write metadata")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.ErrorIs(t, err, cause)
}

func TestWrapNilCauseIsPlainNew(t *testing.T) {
	err := ferrors.Wrap(ferrors.KindInternal, ferrors.CodeWorkspaceIO, nil, "ignored")
	assert.Nil(t, err.Unwrap())
}

func TestKindOfUnknownForForeignError(t *testing.T) {
	assert.Equal(t, ferrors.KindUnknown, ferrors.KindOf(errors.New("not ours")))
	assert.False(t, ferrors.Is(errors.New("not ours"), ferrors.CodeCatalogNotFound))
}

func TestKindStringUnknown(t *testing.T) {
	var k ferrors.Kind = 99
	assert.Equal(t, "Unknown", k.String())
}
