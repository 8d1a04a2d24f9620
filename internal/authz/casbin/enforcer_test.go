package casbin

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writePolicy(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "policy.csv")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestAllowGrantsPermittedAction(t *testing.T) {
	path := writePolicy(t, "p, operator, robot, pause\ng, alice, operator\n")
	e, err := New(path, discardLogger())
	require.NoError(t, err)

	ok, err := e.Allow("alice", "robot", "pause")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestAllowDeniesUnlistedAction(t *testing.T) {
	path := writePolicy(t, "p, operator, robot, pause\ng, alice, operator\n")
	e, err := New(path, discardLogger())
	require.NoError(t, err)

	ok, err := e.Allow("alice", "robot", "shutdown")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestReloadPicksUpPolicyChanges(t *testing.T) {
	path := writePolicy(t, "p, operator, robot, pause\ng, alice, operator\n")
	e, err := New(path, discardLogger())
	require.NoError(t, err)

	ok, err := e.Allow("alice", "robot", "shutdown")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, os.WriteFile(path, []byte("p, operator, robot, pause\np, operator, robot, shutdown\ng, alice, operator\n"), 0o644))
	require.NoError(t, e.Reload())

	ok, err = e.Allow("alice", "robot", "shutdown")
	require.NoError(t, err)
	require.True(t, ok)
}
