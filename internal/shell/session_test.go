package shell

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOneShot(t *testing.T, cfg Config) *Session {
	t.Helper()
	cfg.Persistent = false
	s := New(cfg)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNewAppliesDefaults(t *testing.T) {
	s := newOneShot(t, Config{})
	cfg := s.Config()
	assert.Equal(t, "bash", cfg.Shell)
	assert.NotEmpty(t, cfg.WorkDir)
	assert.Equal(t, DefaultTimeout, cfg.DefaultTimeout)
	assert.NotEmpty(t, s.ID().String())
}

func TestExecCapturesStreamsSeparately(t *testing.T) {
	s := newOneShot(t, Config{})

	result, err := s.Exec(context.Background(), "echo out; echo err >&2")
	require.NoError(t, err)
	assert.Equal(t, "out\n", result.Stdout)
	assert.Equal(t, "err\n", result.Stderr)
	assert.Equal(t, 0, result.ExitCode)
	assert.Greater(t, result.Duration, time.Duration(0))
}

func TestExecReportsExitStatusWithoutError(t *testing.T) {
	s := newOneShot(t, Config{})

	result, err := s.Exec(context.Background(), "exit 42")
	require.NoError(t, err)
	assert.Equal(t, 42, result.ExitCode)
}

func TestExecCheckTurnsStatusIntoError(t *testing.T) {
	s := newOneShot(t, Config{})

	result, err := s.Exec(context.Background(), "exit 3", WithCheck())
	require.Error(t, err)

	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 3, exitErr.Result.ExitCode)
	assert.Equal(t, 3, result.ExitCode)
	assert.Equal(t, 3, ExitCode(err))
}

func TestConfiguredEnvVisibleToCommands(t *testing.T) {
	s := newOneShot(t, Config{Env: map[string]string{"INITIAL": "from-config"}})

	result, err := s.Exec(context.Background(), "echo $INITIAL")
	require.NoError(t, err)
	assert.Equal(t, "from-config\n", result.Stdout)
}

func TestSetVarVisibleToNextCommand(t *testing.T) {
	s := newOneShot(t, Config{})
	require.NoError(t, s.SetVar("INJECTED", "live"))

	result, err := s.Exec(context.Background(), "echo $INJECTED")
	require.NoError(t, err)
	assert.Equal(t, "live\n", result.Stdout)
}

func TestExportTrackedAcrossOneShotProcesses(t *testing.T) {
	s := newOneShot(t, Config{})

	_, err := s.Exec(context.Background(), "export TRACKED=persisted")
	require.NoError(t, err)

	// A fresh process is spawned per command; the tracked variable must
	// still be there because it was replayed from the model.
	result, err := s.Exec(context.Background(), "echo $TRACKED")
	require.NoError(t, err)
	assert.Equal(t, "persisted\n", result.Stdout)

	v, ok := s.GetVar("TRACKED")
	assert.True(t, ok)
	assert.Equal(t, "persisted", v)
}

func TestExpansionChainAcrossCalls(t *testing.T) {
	s := newOneShot(t, Config{})

	_, err := s.Exec(context.Background(), "export A='1'")
	require.NoError(t, err)

	// Single quotes keep $A literal inside the shell; the tracker still
	// records the expanded value, and the authoritative dump must not
	// clobber it back to the raw text.
	_, err = s.Exec(context.Background(), `export B='$A-2'`)
	require.NoError(t, err)
	v, _ := s.GetVar("B")
	assert.Equal(t, "1-2", v)

	// Double quotes expand in the shell too; tracker and dump agree.
	_, err = s.Exec(context.Background(), `export C="$A-3"`)
	require.NoError(t, err)
	v, _ = s.GetVar("C")
	assert.Equal(t, "1-3", v)
}

func TestWithoutEnvSyncSkipsTracking(t *testing.T) {
	s := newOneShot(t, Config{})

	_, err := s.Exec(context.Background(), "export UNTRACKED=x", WithoutEnvSync())
	require.NoError(t, err)

	_, ok := s.GetVar("UNTRACKED")
	assert.False(t, ok)
}

func TestEnvSyncDumpNeverLeaksIntoOutput(t *testing.T) {
	s := newOneShot(t, Config{})

	result, err := s.Exec(context.Background(), "echo visible")
	require.NoError(t, err)
	assert.Equal(t, "visible\n", result.Stdout)
	assert.NotContains(t, result.Stdout, envSyncStart)
	assert.NotContains(t, result.Stdout, "declare -x")
}

func TestOneShotTimeoutKillsAndReturnsPartial(t *testing.T) {
	s := newOneShot(t, Config{})

	start := time.Now()
	result, err := s.Exec(context.Background(), "echo early; sleep 10", WithTimeout(300*time.Millisecond))
	elapsed := time.Since(start)

	require.Error(t, err)
	var timeoutErr *TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.True(t, IsTimeout(err))
	// The sleep child must not delay the return: the whole process
	// group is killed, not just the top-level shell.
	assert.Less(t, elapsed, 2*time.Second)

	require.NotNil(t, result)
	assert.Equal(t, -1, result.ExitCode)
	assert.Contains(t, result.Stdout, "early")
}

func TestOneShotContextCancellation(t *testing.T) {
	s := newOneShot(t, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(200 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	result, err := s.Exec(ctx, "echo first; sleep 10")
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, IsTimeout(err))
	assert.Less(t, elapsed, 2*time.Second)

	require.NotNil(t, result)
	assert.Equal(t, -1, result.ExitCode)
	assert.Contains(t, result.Stdout, "first")
}

func TestForkDeepCopiesEnvironment(t *testing.T) {
	parent := newOneShot(t, Config{Env: map[string]string{"SHARED": "original"}})

	child, err := parent.Fork(nil)
	require.NoError(t, err)
	defer child.Close()

	assert.NotEqual(t, parent.ID(), child.ID())

	require.NoError(t, child.SetVar("SHARED", "child-only"))
	require.NoError(t, child.SetVar("NEW", "only-in-child"))

	v, _ := parent.GetVar("SHARED")
	assert.Equal(t, "original", v)
	_, ok := parent.GetVar("NEW")
	assert.False(t, ok)

	// And the other direction.
	require.NoError(t, parent.SetVar("SHARED", "parent-now"))
	v, _ = child.GetVar("SHARED")
	assert.Equal(t, "child-only", v)
}

func TestForkAppliesOverrides(t *testing.T) {
	parent := newOneShot(t, Config{})

	child, err := parent.Fork(&Config{
		WorkDir: "/tmp",
		Env:     map[string]string{"EXTRA": "added"},
	})
	require.NoError(t, err)
	defer child.Close()

	assert.Equal(t, "/tmp", child.Config().WorkDir)
	v, _ := child.GetVar("EXTRA")
	assert.Equal(t, "added", v)
	// Parent untouched.
	_, ok := parent.GetVar("EXTRA")
	assert.False(t, ok)
}

func TestForkPersistenceOverride(t *testing.T) {
	oneShot := newOneShot(t, Config{})

	child, err := oneShot.Fork(&Config{Persistent: true})
	require.NoError(t, err)
	defer child.Close()
	assert.True(t, child.Config().Persistent)

	// false is the bool zero value and therefore not an explicit
	// override; persistence is inherited.
	persistent := newPersistent(t, Config{})
	child2, err := persistent.Fork(&Config{WorkDir: "/tmp"})
	require.NoError(t, err)
	defer child2.Close()
	assert.True(t, child2.Config().Persistent)
	assert.Equal(t, "/tmp", child2.Config().WorkDir)
}

func TestCloseIsIdempotent(t *testing.T) {
	s := New(Config{Persistent: false})
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.True(t, s.Closed())
}

func TestOperationsAfterCloseFail(t *testing.T) {
	s := New(Config{Persistent: false})
	require.NoError(t, s.Close())

	_, err := s.Exec(context.Background(), "echo nope")
	assert.ErrorIs(t, err, ErrClosed)

	assert.ErrorIs(t, s.SetVar("X", "y"), ErrClosed)

	_, err = s.Fork(nil)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestSpawnFailureIsFatalError(t *testing.T) {
	s := newOneShot(t, Config{Shell: "/nonexistent/shell-binary"})

	_, err := s.Exec(context.Background(), "echo hi")
	require.Error(t, err)
	var spawnErr *SpawnError
	assert.ErrorAs(t, err, &spawnErr)
}

func TestRunHelper(t *testing.T) {
	result, err := Run(context.Background(), "echo one shot helper")
	require.NoError(t, err)
	assert.Equal(t, "one shot helper\n", result.Stdout)
}

func TestWithClosesOnReturn(t *testing.T) {
	var captured *Session
	err := With(Config{Persistent: false}, func(s *Session) error {
		captured = s
		return nil
	})
	require.NoError(t, err)
	assert.True(t, captured.Closed())
}

func TestPwdDefaultsToWorkDir(t *testing.T) {
	s := newOneShot(t, Config{WorkDir: "/tmp"})
	s.env.Delete("PWD") // inherited from the test process otherwise
	assert.Equal(t, "/tmp", s.Pwd())
}

func TestSplitEnvSyncDump(t *testing.T) {
	visible, dump := splitEnvSyncDump("hello\n" + envSyncStart + "\nA=1\nB=2\n" + envSyncEnd + "\n")
	assert.Equal(t, "hello\n", visible)
	assert.Equal(t, "A=1\nB=2\n", dump)

	visible, dump = splitEnvSyncDump("no sentinels here")
	assert.Equal(t, "no sentinels here", visible)
	assert.Empty(t, dump)

	// Unterminated dump leaves output untouched.
	visible, dump = splitEnvSyncDump("x\n" + envSyncStart + "\nA=1")
	assert.Equal(t, "x\n"+envSyncStart+"\nA=1", visible)
	assert.Empty(t, dump)
}
