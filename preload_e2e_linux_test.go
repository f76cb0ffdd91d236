//go:build linux && cgo

package callshim_test

import (
	"bytes"
	"io"
	"os"
	"os/exec"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sliverarmory/callshim"
	"github.com/sliverarmory/callshim/symbol"
)

const notice = "callshim: interpose intercepted pthread_create\n"

type driverRun struct {
	stdout string
	stderr string
	fields map[string]uint64
}

func runDriver(t *testing.T, env []string, extra []*os.File, args ...string) driverRun {
	t.Helper()
	fx := buildFixtures(t)

	var stdout, stderr bytes.Buffer
	cmd := exec.Command(fx.driver, args...)
	cmd.Env = env
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.ExtraFiles = extra
	err := cmd.Run()
	require.NoError(t, err, "driver %v\nstdout:\n%s\nstderr:\n%s", args, stdout.String(), stderr.String())

	return driverRun{
		stdout: stdout.String(),
		stderr: stderr.String(),
		fields: driverFields(t, stdout.String()),
	}
}

func preloadEnv(t *testing.T, settings map[string]string) []string {
	t.Helper()
	fx := buildFixtures(t)
	return callshim.PreloadEnv(overrideEnv(os.Environ(), settings), fx.object)
}

func TestPreloadObjectExports(t *testing.T) {
	fx := buildFixtures(t)

	report, err := symbol.Inspect(fx.object, callshim.Exports...)
	require.NoError(t, err)
	assert.Empty(t, report.Missing())

	if _, err := exec.LookPath("nm"); err == nil {
		nmOut := runCmd(t, "nm", "-D", "--defined-only", fx.object)
		for _, name := range callshim.Exports {
			assert.Contains(t, nmOut, " "+name+"\n", "nm output lacks %s", name)
		}
	}
}

func TestPreloadSingleThread(t *testing.T) {
	run := runDriver(t, preloadEnv(t, map[string]string{"CALLSHIM_NOTICE": "1"}), nil, "1")

	assert.Contains(t, run.stdout, "ok\n")
	assert.Equal(t, uint64(1), run.fields["created"])
	assert.Equal(t, uint64(1), run.fields["ran"])
	// The interposer's runtime creates threads of its own, so only the
	// driver's call is guaranteed to have completed.
	assert.GreaterOrEqual(t, run.fields["completed"], uint64(1))
	assert.GreaterOrEqual(t, run.fields["calls"], run.fields["completed"])
	assert.Zero(t, run.fields["failures"])
	assert.Equal(t, uint64(1), run.fields["resolutions"])
	assert.Contains(t, run.stderr, notice)
}

func TestPreloadConcurrent(t *testing.T) {
	run := runDriver(t, preloadEnv(t, map[string]string{"CALLSHIM_NOTICE": "0"}), nil, "-c", "100")

	assert.Contains(t, run.stdout, "ok\n")
	assert.Equal(t, uint64(100), run.fields["created"])
	assert.Equal(t, uint64(100), run.fields["ran"])
	// 100 launchers plus one worker each.
	assert.GreaterOrEqual(t, run.fields["calls"], uint64(200))
	assert.Zero(t, run.fields["failures"])
	assert.Equal(t, uint64(1), run.fields["resolutions"])
}

func TestPreloadNoticeDisabled(t *testing.T) {
	for _, value := range []string{"0", "false", "off", "OFF", "False"} {
		run := runDriver(t, preloadEnv(t, map[string]string{"CALLSHIM_NOTICE": value}), nil, "2")
		assert.Contains(t, run.stdout, "ok\n")
		assert.NotContains(t, run.stderr, notice, "CALLSHIM_NOTICE=%s", value)
	}
}

func TestPreloadNoticeOnForOtherValues(t *testing.T) {
	for _, value := range []string{"1", "F", "no"} {
		run := runDriver(t, preloadEnv(t, map[string]string{"CALLSHIM_NOTICE": value}), nil, "1")
		assert.Contains(t, run.stderr, notice, "CALLSHIM_NOTICE=%s", value)
	}
}

func TestPreloadNoticeFD(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()

	// ExtraFiles[0] is fd 3 in the child.
	env := preloadEnv(t, map[string]string{"CALLSHIM_NOTICE": "1", "CALLSHIM_NOTICE_FD": "3"})
	run := runDriver(t, env, []*os.File{w}, "1")
	require.NoError(t, w.Close())

	out, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Contains(t, string(out), notice)
	assert.NotContains(t, run.stderr, notice)
}

func TestDriverWithoutPreload(t *testing.T) {
	run := runDriver(t, overrideEnv(os.Environ(), map[string]string{"LD_PRELOAD": ""}), nil, "3")
	assert.Contains(t, run.stdout, "counters=absent\n")
	assert.Contains(t, run.stdout, "ok\n")
	assert.NotContains(t, run.stderr, notice)
}

func TestRunCommand(t *testing.T) {
	fx := buildFixtures(t)

	var stdout, stderr bytes.Buffer
	cmd := exec.Command(fx.cli, "run", "--preload", fx.object, "--", fx.driver, "3")
	cmd.Env = overrideEnv(os.Environ(), map[string]string{"CALLSHIM_LOG_LEVEL": "disabled"})
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	require.NoError(t, cmd.Run(), "stdout:\n%s\nstderr:\n%s", stdout.String(), stderr.String())

	fields := driverFields(t, stdout.String())
	assert.Contains(t, stdout.String(), "ok\n")
	assert.Equal(t, uint64(3), fields["created"])
	assert.Equal(t, uint64(1), fields["resolutions"])
	assert.Contains(t, stderr.String(), notice)
}

func TestRunCommandWithoutNotice(t *testing.T) {
	fx := buildFixtures(t)

	var stdout, stderr bytes.Buffer
	cmd := exec.Command(fx.cli, "run", "--preload", fx.object, "--notice=false", "--", fx.driver, "1")
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	require.NoError(t, cmd.Run(), "stderr:\n%s", stderr.String())

	assert.Contains(t, stdout.String(), "ok\n")
	assert.NotContains(t, stderr.String(), notice)
}

func TestRunCommandRejectsForeignObject(t *testing.T) {
	fx := buildFixtures(t)

	var stderr bytes.Buffer
	cmd := exec.Command(fx.cli, "run", "--preload", fx.driver, "--", fx.driver, "1")
	cmd.Stderr = &stderr
	err := cmd.Run()
	require.Error(t, err)

	msg := stderr.String()
	assert.True(t,
		strings.Contains(msg, "is not a callshim interposer") || strings.Contains(msg, "unsupported ELF file type"),
		"unexpected error output: %s", msg)
}

// Loading the stand-in object into the default scope is enough for
// Preloaded to find it; the object is closed again before returning.
func TestPreloadedFindsGlobalObject(t *testing.T) {
	path := buildFakeInterposer(t, t.TempDir())

	module, err := symbol.Open(path, symbol.Global())
	require.NoError(t, err)
	t.Cleanup(func() { _ = module.Close() })

	target, err := callshim.Preloaded()
	require.NoError(t, err)
	assert.Equal(t, callshim.Symbol, target.Symbol())
	assert.Equal(t, callshim.StrategyInterpose, target.Strategy())

	fixture, err := module.Lookup("callshim_fixture_original")
	require.NoError(t, err)
	want := symbol.Call0(fixture)

	original, err := target.Original()
	require.NoError(t, err)
	assert.Equal(t, want, original)

	stats := target.Stats()
	assert.Equal(t, callshim.StrategyInterpose, stats.Strategy)
	assert.Equal(t, want, stats.Original)
	assert.True(t, stats.Resolved)
	assert.Equal(t, callshim.Counters{Calls: 7, Completed: 6, Failures: 1, Nested: 2, Resolutions: 1}, stats.Counters)
}
