package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type execCall struct {
	argv0 string
	argv  []string
	env   []string
}

func execute(t *testing.T, a *app, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd(a)
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func recordingApp(calls *[]execCall) *app {
	a := newApp()
	a.exec = func(argv0 string, argv []string, env []string) error {
		*calls = append(*calls, execCall{argv0: argv0, argv: argv, env: env})
		return nil
	}
	return a
}

func TestVersion(t *testing.T) {
	out, _, err := execute(t, newApp(), "version")
	require.NoError(t, err)
	assert.Contains(t, out, "callshim version "+Version)
	assert.Contains(t, out, "Strategy: "+linkedStrategy.String())
}

func TestRunRequiresPreload(t *testing.T) {
	var calls []execCall
	_, _, err := execute(t, recordingApp(&calls), "run", "--", "true")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no interposer given")
	assert.Empty(t, calls)
}

func TestRunRejectsNonELF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "libfake.so")
	require.NoError(t, os.WriteFile(path, []byte("not an object"), 0o644))

	var calls []execCall
	_, _, err := execute(t, recordingApp(&calls), "run", "--preload", path, "--", "true")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid ELF image")
	assert.Empty(t, calls)
}

func TestRunPreloadFromEnv(t *testing.T) {
	t.Setenv("CALLSHIM_PRELOAD", filepath.Join(t.TempDir(), "missing.so"))

	var calls []execCall
	_, _, err := execute(t, recordingApp(&calls), "run", "--", "true")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing.so")
	assert.Empty(t, calls)
}

func TestRunRejectsSeparatorInPath(t *testing.T) {
	var calls []execCall
	_, _, err := execute(t, recordingApp(&calls), "run", "--preload", "/tmp/a b.so", "--", "true")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot be listed in LD_PRELOAD")
}

func TestRunNeedsCommand(t *testing.T) {
	_, _, err := execute(t, newApp(), "run", "--preload", "/tmp/libcallshim.so")
	require.Error(t, err)
}

func TestInvalidConfiguration(t *testing.T) {
	t.Setenv("CALLSHIM_THREADS", "0")
	_, _, err := execute(t, newApp(), "version")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "threads must be positive")
}

func TestCheckInheritable(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "notice")
	require.NoError(t, err)
	defer f.Close()

	// Files opened by Go are close-on-exec.
	assert.ErrorIs(t, checkInheritable(int(f.Fd())), errCloseOnExec)
	assert.Error(t, checkInheritable(1<<20))
}

func TestInspectUnknownFormat(t *testing.T) {
	_, _, err := execute(t, newApp(), "inspect", "-o", "yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown format")
}

func TestInspectObjectRejectsNonELF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "libfake.so")
	require.NoError(t, os.WriteFile(path, []byte{0x7f, 'E', 'L', 'F'}, 0o644))

	_, _, err := execute(t, newApp(), "inspect", "--object", path)
	require.Error(t, err)
}

func TestLogLevelFlag(t *testing.T) {
	_, stderr, err := execute(t, newApp(), "--log-level", "debug", "--log-pretty=false", "version")
	require.NoError(t, err)

	line := strings.SplitN(strings.TrimSpace(stderr), "\n", 2)[0]
	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(line), &entry), stderr)
	assert.Equal(t, "debug", entry["level"])
	assert.Equal(t, "cli", entry["component"])
	assert.Equal(t, "configuration loaded", entry["message"])
}

func TestNoticeOffFromEnv(t *testing.T) {
	t.Setenv("CALLSHIM_NOTICE", "off")

	a := newApp()
	_, _, err := execute(t, a, "version")
	require.NoError(t, err)
	assert.False(t, a.cfg.Notice)
}
