package shell

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingHook struct {
	name   string
	log    *[]string
	before func(command string, ec *ExecContext) (string, error)
	after  func(result *Result, ec *ExecContext) (*Result, error)
}

func (h *recordingHook) BeforeExec(_ context.Context, command string, ec *ExecContext) (string, error) {
	*h.log = append(*h.log, "before:"+h.name)
	if h.before != nil {
		return h.before(command, ec)
	}
	return command, nil
}

func (h *recordingHook) AfterExec(_ context.Context, _ string, result *Result, ec *ExecContext) (*Result, error) {
	*h.log = append(*h.log, "after:"+h.name)
	if h.after != nil {
		return h.after(result, ec)
	}
	return result, nil
}

func TestHookOrdering(t *testing.T) {
	var log []string
	hooks := []Hook{
		&recordingHook{name: "outer", log: &log},
		&recordingHook{name: "inner", log: &log},
	}

	ec := &ExecContext{}
	cmd, err := applyBeforeHooks(context.Background(), hooks, "true", ec)
	require.NoError(t, err)
	_, err = applyAfterHooks(context.Background(), hooks, cmd, &Result{}, ec)
	require.NoError(t, err)

	assert.Equal(t, []string{"before:outer", "before:inner", "after:inner", "after:outer"}, log)
}

func TestBeforeHookTransformsCommand(t *testing.T) {
	var log []string
	hooks := []Hook{&recordingHook{
		name: "prefix",
		log:  &log,
		before: func(command string, _ *ExecContext) (string, error) {
			return "set -e; " + command, nil
		},
	}}

	cmd, err := applyBeforeHooks(context.Background(), hooks, "make", &ExecContext{})
	require.NoError(t, err)
	assert.Equal(t, "set -e; make", cmd)
}

func TestHookErrorAborts(t *testing.T) {
	var log []string
	boom := errors.New("rejected")
	hooks := []Hook{&recordingHook{
		name: "gate",
		log:  &log,
		before: func(string, *ExecContext) (string, error) {
			return "", boom
		},
	}}

	_, err := applyBeforeHooks(context.Background(), hooks, "rm -rf /", &ExecContext{})
	assert.ErrorIs(t, err, boom)
}

func TestExecContextValues(t *testing.T) {
	ec := &ExecContext{}
	_, ok := ec.Value("missing")
	assert.False(t, ok)

	ec.Put("started", 123)
	v, ok := ec.Value("started")
	require.True(t, ok)
	assert.Equal(t, 123, v)
}

func TestHooksRunDuringExec(t *testing.T) {
	var log []string
	redact := &recordingHook{
		name: "redact",
		log:  &log,
		after: func(result *Result, _ *ExecContext) (*Result, error) {
			clean := *result
			clean.Stdout = strings.ReplaceAll(result.Stdout, "secret", "[redacted]")
			return &clean, nil
		},
	}

	s := New(Config{Persistent: false, Hooks: []Hook{redact}})
	defer s.Close()

	result, err := s.Exec(context.Background(), "echo the secret word")
	require.NoError(t, err)
	assert.Equal(t, "the [redacted] word\n", result.Stdout)
	assert.Equal(t, []string{"before:redact", "after:redact"}, log)
}

func TestExecContextCarriesCallMetadata(t *testing.T) {
	var log []string
	var seen ExecContext
	capture := &recordingHook{
		name: "capture",
		log:  &log,
		before: func(command string, ec *ExecContext) (string, error) {
			seen = *ec
			return command, nil
		},
	}

	s := New(Config{Persistent: false, Hooks: []Hook{capture}})
	defer s.Close()

	_, err := s.Exec(context.Background(), "true", WithoutEnvSync())
	require.NoError(t, err)
	assert.NotEmpty(t, seen.ExecutionID)
	assert.False(t, seen.SyncEnv)
	assert.Equal(t, DefaultTimeout, seen.Timeout)
	assert.False(t, seen.StartedAt.IsZero())
}
