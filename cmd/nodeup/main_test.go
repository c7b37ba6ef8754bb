package main

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// getProjectRoot returns the absolute path to the project root.
func getProjectRoot(t *testing.T) string {
	dir, err := os.Getwd()
	require.NoError(t, err)
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	t.Fatal("go.mod not found")
	return ""
}

// buildBinary compiles the nodeup binary into a temp dir.
func buildBinary(t *testing.T) string {
	t.Helper()
	binPath := filepath.Join(t.TempDir(), "nodeup-test")
	buildCmd := exec.Command("go", "build", "-o", binPath, ".")
	buildCmd.Dir = filepath.Join(getProjectRoot(t), "cmd", "nodeup")
	output, err := buildCmd.CombinedOutput()
	require.NoError(t, err, "build failed: %s", string(output))
	return binPath
}

func TestExecute(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping build test in short mode")
	}

	binPath := buildBinary(t)
	info, err := os.Stat(binPath)
	require.NoError(t, err)
	assert.True(t, info.Mode()&0111 != 0, "binary should be executable")
}

func TestMainHelpFlag(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping build test in short mode")
	}

	out, err := exec.Command(buildBinary(t), "--help").CombinedOutput()
	require.NoError(t, err)
	assert.Contains(t, string(out), "nodeup")
	assert.Contains(t, string(out), "update")
}

func TestMainUnknownCommand(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping build test in short mode")
	}

	out, err := exec.Command(buildBinary(t), "unknown-command-xyz").CombinedOutput()
	assert.Error(t, err)
	assert.Contains(t, strings.ToLower(string(out)), "unknown")
}

func TestMainEntryPoints(t *testing.T) {
	_ = main
}

// TestBinaryConfigAndLog runs config init and log against a fresh directory.
func TestBinaryConfigAndLog(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	binPath := buildBinary(t)
	dir := t.TempDir()

	cmd := exec.Command(binPath, "config", "init")
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, "config init failed: %s", string(out))
	assert.Contains(t, string(out), "Wrote default configuration")
	_, err = os.Stat(filepath.Join(dir, "nodeup.yaml"))
	require.NoError(t, err)

	// the default config has no owner yet
	cmd = exec.Command(binPath, "config", "validate")
	cmd.Dir = dir
	out, err = cmd.CombinedOutput()
	assert.Error(t, err)
	assert.Contains(t, string(out), "E_CONFIG_INVALID")

	cmd = exec.Command(binPath, "config", "show")
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "NODEUP_REMOTE_OWNER=acme", "NODEUP_REMOTE_REPO=app")
	out, err = cmd.CombinedOutput()
	require.NoError(t, err)
	assert.Contains(t, string(out), "owner: acme")
}

func TestBinaryUpdateFailureExitCode(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	binPath := buildBinary(t)
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nodes"), 0755))
	cfg := "remote:\n  owner: acme\n  repo: app\nnodes_dir: nodes\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "nodeup.yaml"), []byte(cfg), 0644))

	cmd := exec.Command(binPath, "--no-color", "update", "ghost")
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	var exitErr *exec.ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 1, exitErr.ExitCode())
	assert.Contains(t, string(out), "Node ghost does not exist.")
	assert.Contains(t, string(out), "No nodes are registered.")
}
