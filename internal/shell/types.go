package shell

import (
	"time"

	"go.uber.org/zap"
)

// DefaultTimeout bounds a single command when the caller provides none.
const DefaultTimeout = 30 * time.Second

// Config describes a session at creation time.
type Config struct {
	// Shell is the shell program to spawn. Defaults to "bash".
	Shell string
	// WorkDir is the working directory for spawned processes.
	// Defaults to the current process's working directory.
	WorkDir string
	// Env holds initial variables overlaid on the inherited process
	// environment.
	Env map[string]string
	// PreScripts are initialization commands. In persistent mode they
	// are baked into the startup script, in order, before the shell
	// starts idling on stdin.
	PreScripts []string
	// Persistent keeps one long-lived child process across commands.
	// When false every Exec spawns a fresh process.
	Persistent bool
	// DefaultTimeout overrides DefaultTimeout for calls that pass no
	// WithTimeout option.
	DefaultTimeout time.Duration
	// Hooks transform commands before send and results after receive.
	Hooks []Hook
	// Logger receives structured driver events. Defaults to a no-op
	// logger.
	Logger *zap.Logger
}

// Result is the immutable record of one command execution. Hooks and
// callers must not mutate it; post-processing produces a new record.
type Result struct {
	// Command is the original command text, before hook or marker
	// wrapping.
	Command string `json:"command"`
	// ExitCode is the command's real exit status. In persistent mode
	// it is recovered from the end marker line.
	ExitCode int `json:"exit_code"`
	// Stdout is the captured standard output, marker lines stripped.
	Stdout string `json:"stdout"`
	// Stderr is the captured standard error.
	Stderr string `json:"stderr"`
	// Duration is wall-clock time spent in the driver.
	Duration time.Duration `json:"duration"`
}

// execOptions collects per-call settings.
type execOptions struct {
	timeout time.Duration
	check   bool
	syncEnv bool
}

// ExecOption customizes a single Exec call.
type ExecOption func(*execOptions)

// WithTimeout sets the overall budget for the call. On expiry the call
// returns a *TimeoutError carrying partial output; in persistent mode
// the child process is left running.
func WithTimeout(d time.Duration) ExecOption {
	return func(o *execOptions) { o.timeout = d }
}

// WithCheck makes a non-zero exit status an *ExitError instead of a
// plain Result.
func WithCheck() ExecOption {
	return func(o *execOptions) { o.check = true }
}

// WithoutEnvSync disables both the predictive and the authoritative
// environment synchronization steps for this call.
func WithoutEnvSync() ExecOption {
	return func(o *execOptions) { o.syncEnv = false }
}
