package shell

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m := NewManager(Config{
		DefaultTimeout: 10 * time.Second,
	}, zerolog.Nop())
	t.Cleanup(m.Stop)
	return m
}

func TestExecuteExitCodes(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping session integration test in short mode")
	}

	m := newTestManager(t)
	ctx := context.Background()

	res, err := m.Execute(ctx, Request{Command: "true"})
	require.NoError(t, err)
	require.NotNil(t, res.ExitCode)
	assert.Equal(t, 0, *res.ExitCode)

	res, err = m.Execute(ctx, Request{Command: "false"})
	require.NoError(t, err)
	require.NotNil(t, res.ExitCode)
	assert.Equal(t, 1, *res.ExitCode)

	res, err = m.Execute(ctx, Request{Command: "exit 42"})
	require.NoError(t, err)
	// "exit" ends the shell; either the code is reported or the death is
	// surfaced on the next call. Accept the reported code when present.
	if res.ExitCode != nil {
		assert.Equal(t, 42, *res.ExitCode)
	}
}

func TestExecuteCapturesOutput(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping session integration test in short mode")
	}

	m := newTestManager(t)
	res, err := m.Execute(context.Background(), Request{Command: "echo hello world"})
	require.NoError(t, err)
	require.NotNil(t, res.ExitCode)
	assert.Equal(t, 0, *res.ExitCode)
	assert.Contains(t, res.Output, "hello world")
}

func TestExecuteEmptyCommand(t *testing.T) {
	m := newTestManager(t)
	_, err := m.Execute(context.Background(), Request{Command: ""})
	assert.ErrorIs(t, err, ErrEmptyCommand)
}

func TestTrackedWorkingDirectory(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping session integration test in short mode")
	}

	m := newTestManager(t)
	ctx := context.Background()

	res, err := m.Execute(ctx, Request{Command: "pwd"})
	require.NoError(t, err)
	first := res.WorkingDir
	require.NotEmpty(t, first)

	// No override: the next call reports the same tracked directory.
	res, err = m.Execute(ctx, Request{Command: "true"})
	require.NoError(t, err)
	assert.Equal(t, first, res.WorkingDir)
	assert.Equal(t, first, m.WorkingDir())
}

func TestCdUpdatesTrackedDirectory(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping session integration test in short mode")
	}

	m := newTestManager(t)
	ctx := context.Background()
	dir := t.TempDir()
	resolved, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)

	res, err := m.Execute(ctx, Request{Command: fmt.Sprintf("cd '%s'", dir)})
	require.NoError(t, err)
	require.NotNil(t, res.ExitCode)
	assert.Equal(t, 0, *res.ExitCode)
	assert.Equal(t, resolved, mustEvalSymlinks(t, res.WorkingDir))

	// pwd after cd reflects the new directory.
	res, err = m.Execute(ctx, Request{Command: "pwd"})
	require.NoError(t, err)
	assert.Contains(t, mustEvalSymlinks(t, firstLine(res.Output)), resolved)
}

func TestDirOverrideConfirmedBeforeCommand(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping session integration test in short mode")
	}

	m := newTestManager(t)
	dir := t.TempDir()
	resolved, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)

	res, err := m.Execute(context.Background(), Request{Command: "pwd", Dir: dir})
	require.NoError(t, err)
	require.NotNil(t, res.ExitCode)
	assert.Equal(t, resolved, mustEvalSymlinks(t, res.WorkingDir))
	assert.Equal(t, resolved, mustEvalSymlinks(t, m.WorkingDir()))
}

func TestExecuteTimeout(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping session integration test in short mode")
	}

	m := newTestManager(t)

	start := time.Now()
	res, err := m.Execute(context.Background(), Request{
		Command: "sleep 30",
		Timeout: 500 * time.Millisecond,
	})
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.True(t, res.TimedOut)
	assert.Nil(t, res.ExitCode, "timeout must not report an exit code")
	assert.Less(t, elapsed, 5*time.Second, "timeout must not hang past its deadline")

	// The session was torn down; the next command gets a fresh one and
	// still works.
	res, err = m.Execute(context.Background(), Request{Command: "true"})
	require.NoError(t, err)
	require.NotNil(t, res.ExitCode)
	assert.Equal(t, 0, *res.ExitCode)
}

func TestSessionDeathRecovery(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping session integration test in short mode")
	}

	m := newTestManager(t)
	ctx := context.Background()

	// Prime the session, then kill the shell out from under the manager.
	_, err := m.Execute(ctx, Request{Command: "true"})
	require.NoError(t, err)

	res, err := m.Execute(ctx, Request{Command: "kill -9 $$; sleep 5"})
	require.NoError(t, err)
	assert.Nil(t, res.ExitCode)
	assert.True(t, res.Restarted, "death must be annotated as a restart")

	// Next command works against a fresh session.
	res, err = m.Execute(ctx, Request{Command: "echo recovered"})
	require.NoError(t, err)
	require.NotNil(t, res.ExitCode)
	assert.Contains(t, res.Output, "recovered")
}

func TestStopIdempotent(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping session integration test in short mode")
	}

	m := newTestManager(t)
	_, err := m.Execute(context.Background(), Request{Command: "true"})
	require.NoError(t, err)

	m.Stop()
	m.Stop()
	assert.False(t, m.Alive())
}

func TestExecuteScript(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping session integration test in short mode")
	}

	m := newTestManager(t)
	res, err := m.ExecuteScript(context.Background(), "echo from-script\nexit 7\n", "", 10*time.Second)
	require.NoError(t, err)
	require.NotNil(t, res.ExitCode)
	assert.Equal(t, 7, *res.ExitCode)
	assert.Contains(t, res.Output, "from-script")
}

func TestExecuteScriptEmpty(t *testing.T) {
	m := newTestManager(t)
	_, err := m.ExecuteScript(context.Background(), "", "", time.Second)
	assert.ErrorIs(t, err, ErrEmptyCommand)
}

func firstLine(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			return s[:i]
		}
	}
	return s
}

func mustEvalSymlinks(t *testing.T, path string) string {
	t.Helper()
	if path == "" {
		return ""
	}
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		return path
	}
	return resolved
}
