package pathutil_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/nammalakes/nodeup/pkg/errclass"
	"github.com/nammalakes/nodeup/pkg/pathutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateNodeID_Valid(t *testing.T) {
	valid := []string{"n1", "lake-07", "sensor.v2", "node_a", "A-Z.test"}
	for _, id := range valid {
		assert.NoError(t, pathutil.ValidateNodeID(id), "should accept: %s", id)
	}
}

func TestValidateNodeID_Invalid(t *testing.T) {
	invalid := []string{"", "..", "a/b", "a\\b", "hello\x00world", ".hidden", "sp ace"}
	for _, id := range invalid {
		err := pathutil.ValidateNodeID(id)
		require.ErrorIs(t, err, errclass.ErrNameInvalid, "should reject: %q", id)
	}
}

func TestValidateNodeID_ReservedSuffix(t *testing.T) {
	err := pathutil.ValidateNodeID("n1_backup", "_backup", ".lock")
	require.ErrorIs(t, err, errclass.ErrNameInvalid)

	err = pathutil.ValidateNodeID("n1.lock", "_backup", ".lock")
	require.ErrorIs(t, err, errclass.ErrNameInvalid)

	assert.NoError(t, pathutil.ValidateNodeID("backup_n1", "_backup", ".lock"))
}

func TestValidatePathSafety_UnderRoot(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(root, "n1")
	require.NoError(t, os.MkdirAll(target, 0755))
	assert.NoError(t, pathutil.ValidatePathSafety(root, target))
}

func TestValidatePathSafety_Escape(t *testing.T) {
	root := t.TempDir()
	err := pathutil.ValidatePathSafety(root, "/tmp/evil")
	require.ErrorIs(t, err, errclass.ErrPathEscape)
}

func TestValidatePathSafety_SymlinkEscape(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	link := filepath.Join(root, "escape")
	require.NoError(t, os.Symlink(outside, link))
	err := pathutil.ValidatePathSafety(root, link)
	require.ErrorIs(t, err, errclass.ErrPathEscape)
}

func TestValidatePathSafety_NonExistentTarget(t *testing.T) {
	root := t.TempDir()
	assert.NoError(t, pathutil.ValidatePathSafety(root, filepath.Join(root, "new-node")))
}

func TestValidatePathSafety_DeepMissingTarget(t *testing.T) {
	root := t.TempDir()
	assert.NoError(t, pathutil.ValidatePathSafety(root, filepath.Join(root, "a", "b", "c")))
}

func TestValidatePathSafety_DotDotInsideTarget(t *testing.T) {
	root := t.TempDir()
	err := pathutil.ValidatePathSafety(root, filepath.Join(root, "..", "sibling"))
	require.ErrorIs(t, err, errclass.ErrPathEscape)
}

func TestValidatePathSafety_RootItself(t *testing.T) {
	root := t.TempDir()
	assert.NoError(t, pathutil.ValidatePathSafety(root, root))
}

func TestValidateNodeID_MessageNamesRule(t *testing.T) {
	err := pathutil.ValidateNodeID("a/b")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "separators")
}
