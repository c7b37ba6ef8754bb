package errclass_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/nammalakes/nodeup/pkg/errclass"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_Error(t *testing.T) {
	err := errclass.ErrNodeBusy.WithMessage("node n1 is locked")
	assert.Equal(t, "E_NODE_BUSY: node n1 is locked", err.Error())
	assert.Equal(t, "E_NODE_BUSY", errclass.ErrNodeBusy.Error())
}

func TestError_Is(t *testing.T) {
	err := errclass.ErrBackupFailed.WithMessagef("copy %s", "n1")
	require.True(t, errors.Is(err, errclass.ErrBackupFailed))
	require.False(t, errors.Is(err, errclass.ErrRestoreFailed))

	wrapped := fmt.Errorf("snapshot: %w", err)
	require.True(t, errors.Is(wrapped, errclass.ErrBackupFailed))
}

func TestCode(t *testing.T) {
	wrapped := fmt.Errorf("outer: %w", errclass.ErrNoBackupFound.WithMessage("x"))
	assert.Equal(t, "E_NO_BACKUP_FOUND", errclass.Code(wrapped))
	assert.Equal(t, "", errclass.Code(errors.New("plain")))
	assert.Equal(t, "", errclass.Code(nil))
}

func TestCode_MultipleClasses(t *testing.T) {
	err := fmt.Errorf("%w: %w", errclass.ErrRestoreFailed.WithMessage("n3"), errclass.ErrNoBackupFound)
	assert.Equal(t, "E_RESTORE_FAILED", errclass.Code(err))
	assert.ErrorIs(t, err, errclass.ErrNoBackupFound)
}
