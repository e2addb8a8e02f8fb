package shell

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/tinglyhq/agentshell/internal/shared/id"
)

// Session owns one logical shell context: its configuration, its
// environment model, and in persistent mode one live child
// process. A session allows exactly one in-flight command at a time;
// the execution lock serializes the full write → framed-read → sync
// path and transitively protects the environment model.
type Session struct {
	id     id.SessionID
	cfg    Config
	logger *zap.Logger

	mu     sync.Mutex
	env    *Environ
	closed bool
	proc   *process
}

// New creates a session. The environment model starts as a copy of the
// enclosing process environment with cfg.Env overlaid. The persistent
// child process, if any, is started lazily on first Exec.
func New(cfg Config) *Session {
	if cfg.Shell == "" {
		cfg.Shell = "bash"
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir, _ = os.Getwd()
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = DefaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	env := EnvironFromPairs(os.Environ())
	overlayEnv(env, cfg.Env)

	return &Session{
		id:     id.NewSessionID(),
		cfg:    cfg,
		logger: cfg.Logger,
		env:    env,
	}
}

// With runs fn against a fresh session and guarantees Close on every
// exit path, including panics.
func With(cfg Config, fn func(*Session) error) error {
	s := New(cfg)
	defer s.Close()
	return fn(s)
}

// Run executes a single command in a temporary non-persistent session.
func Run(ctx context.Context, command string, opts ...ExecOption) (*Result, error) {
	var result *Result
	err := With(Config{Persistent: false}, func(s *Session) error {
		var execErr error
		result, execErr = s.Exec(ctx, command, opts...)
		return execErr
	})
	return result, err
}

// ID returns the session's identifier.
func (s *Session) ID() id.SessionID { return s.id }

// Config returns a copy of the session's configuration.
func (s *Session) Config() Config { return s.cfg }

// Closed reports whether Close has been called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// GetVar returns a tracked environment variable.
func (s *Session) GetVar(name string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.env.Get(name)
}

// SetVar sets a variable on the model. It takes effect immediately for
// tracking purposes and is exported into the next spawned process.
func (s *Session) SetVar(name, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.env.Set(name, value)
	return nil
}

// Vars returns a snapshot copy of all tracked variables.
func (s *Session) Vars() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.env.All()
}

// Pwd returns the tracked working directory: the shell's PWD when the
// authoritative resync has observed one, the configured directory
// otherwise.
func (s *Session) Pwd() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if pwd, ok := s.env.Get("PWD"); ok && pwd != "" {
		return pwd
	}
	return s.cfg.WorkDir
}

// Fork creates a fully independent session seeded with a deep copy of
// this session's environment and configuration. Set fields of overrides
// win; zero-value fields are inherited. Because false is the bool zero
// value an override can enable Persistent but never disable it; a
// non-persistent copy of a persistent session is built with New and the
// parent's Vars. The forked session does not share the child process
// and lazily starts its own.
func (s *Session) Fork(overrides *Config) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}

	cfg := s.cfg
	cfg.Env = nil
	if overrides != nil {
		if overrides.Shell != "" {
			cfg.Shell = overrides.Shell
		}
		if overrides.WorkDir != "" {
			cfg.WorkDir = overrides.WorkDir
		}
		if overrides.PreScripts != nil {
			cfg.PreScripts = overrides.PreScripts
		}
		if overrides.DefaultTimeout > 0 {
			cfg.DefaultTimeout = overrides.DefaultTimeout
		}
		if overrides.Hooks != nil {
			cfg.Hooks = overrides.Hooks
		}
		if overrides.Logger != nil {
			cfg.Logger = overrides.Logger
		}
		cfg.Persistent = overrides.Persistent || s.cfg.Persistent
	}

	child := &Session{
		id:     id.NewSessionID(),
		cfg:    cfg,
		logger: cfg.Logger,
		env:    s.env.Clone(),
	}
	if overrides != nil {
		overlayEnv(child.env, overrides.Env)
	}
	return child, nil
}

// Exec executes command and returns its result. Persistent sessions
// reuse the live child process; otherwise a fresh process is spawned.
// A timeout yields a *TimeoutError carrying partial output.
func (s *Session) Exec(ctx context.Context, command string, opts ...ExecOption) (*Result, error) {
	o := execOptions{timeout: s.cfg.DefaultTimeout, syncEnv: true}
	for _, opt := range opts {
		opt(&o)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}

	marker := NewMarker()
	ec := &ExecContext{
		ExecutionID: marker.ID,
		Timeout:     o.timeout,
		SyncEnv:     o.syncEnv,
		StartedAt:   time.Now(),
	}

	toRun, err := applyBeforeHooks(ctx, s.cfg.Hooks, command, ec)
	if err != nil {
		return nil, err
	}

	// Predictive update happens before the round trip so a chain of
	// calls observes exported values immediately, whatever the
	// command's eventual status.
	var predicted, literal map[string]string
	if o.syncEnv {
		predicted = PredictExports(command, s.env)
		literal = LiteralExports(command)
		mergePredictions(s.env, predicted)
	}

	var result *Result
	var execErr error
	if s.cfg.Persistent {
		result, execErr = s.runFramed(ctx, toRun, command, marker, o.timeout)
	} else {
		result, execErr = s.execOnce(ctx, toRun, command, o)
	}
	if execErr != nil {
		return result, execErr
	}

	// Authoritative resync corrects what the predictor missed. Only
	// after success: a failed command's exports are anyone's guess.
	// Predictions are re-applied last where the dump still shows the
	// raw assignment text, so single-quoted values stay expanded.
	if o.syncEnv && result.ExitCode == 0 {
		if s.cfg.Persistent {
			s.resyncEnv(ctx)
		}
		s.restorePredictions(predicted, literal)
	}

	result, err = applyAfterHooks(ctx, s.cfg.Hooks, command, result, ec)
	if err != nil {
		return nil, err
	}

	if o.check && result.ExitCode != 0 {
		return result, &ExitError{Result: result}
	}
	return result, nil
}

// Close tears the session down: persistent children get a graceful
// shell exit, then a forced kill after the grace period. Close is
// idempotent and never fails on repeat calls.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	if s.proc != nil {
		s.proc.shutdown(s.logger)
		s.proc = nil
	}
	return nil
}

// one-shot sentinels bracketing the appended environment dump.
const (
	envSyncStart = "=== AGENTSHELL_ENV_SYNC_START ==="
	envSyncEnd   = "=== AGENTSHELL_ENV_SYNC_END ==="
)

// execOnce spawns a fresh `shell -c` process for one command. When env
// sync is on, a sentinel-delimited dump is appended to the command so
// the authoritative state comes out of the same process, with the
// command's own exit status preserved.
func (s *Session) execOnce(ctx context.Context, toRun, original string, o execOptions) (*Result, error) {
	script := toRun
	if o.syncEnv {
		script = toRun +
			"\n__agentshell_rc=$?" +
			"\necho \"" + envSyncStart + "\"" +
			"\nexport -p 2>/dev/null || env" +
			"\necho \"" + envSyncEnd + "\"" +
			"\nexit $__agentshell_rc"
	}

	cmd := exec.Command(s.cfg.Shell, "-c", script)
	cmd.Dir = s.cfg.WorkDir
	cmd.Env = s.env.Pairs()
	// Own process group, so an interrupted command can be killed along
	// with every child it spawned.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	started := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, &SpawnError{Shell: s.cfg.Shell, Err: err}
	}

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	timer := time.NewTimer(o.timeout)
	defer timer.Stop()

	var waitErr error
	var ctxErr error
	timedOut := false
	select {
	case waitErr = <-waitCh:
	case <-timer.C:
		timedOut = true
	case <-ctx.Done():
		ctxErr = ctx.Err()
	}
	if timedOut || ctxErr != nil {
		// Nothing persists in one-shot mode, so the process is killed
		// rather than abandoned. The kill targets the whole group:
		// children still holding the output pipes would otherwise keep
		// Wait blocked until they exit on their own.
		_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		<-waitCh
	}

	exitCode := 0
	if waitErr != nil {
		if ee, ok := waitErr.(*exec.ExitError); ok {
			exitCode = ee.ExitCode()
		} else {
			exitCode = -1
		}
	}

	visible, dump := splitEnvSyncDump(stdout.String())
	result := &Result{
		Command:  original,
		ExitCode: exitCode,
		Stdout:   visible,
		Stderr:   stderr.String(),
		Duration: time.Since(started),
	}

	if timedOut {
		result.ExitCode = -1
		return result, &TimeoutError{Timeout: o.timeout, Result: result}
	}
	if ctxErr != nil {
		result.ExitCode = -1
		return result, fmt.Errorf("shell: command canceled: %w", ctxErr)
	}

	if o.syncEnv && dump != "" && exitCode == 0 {
		s.env.CopyFrom(ParseDump(dump))
	}
	return result, nil
}

// splitEnvSyncDump separates the appended environment dump from the
// command's visible output. Missing or unterminated sentinels leave
// the output untouched.
func splitEnvSyncDump(stdout string) (visible, dump string) {
	start := strings.Index(stdout, envSyncStart)
	if start < 0 {
		return stdout, ""
	}
	rest := stdout[start+len(envSyncStart):]
	end := strings.Index(rest, envSyncEnd)
	if end < 0 {
		return stdout, ""
	}
	visible = stdout[:start]
	// The sentinel echoes put the dump on its own lines.
	dump = strings.TrimPrefix(rest[:end], "\n")
	return visible, dump
}

// overlayEnv sets entries from m in sorted key order, so session
// construction is reproducible.
func overlayEnv(env *Environ, m map[string]string) {
	if len(m) == 0 {
		return
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env.Set(k, m[k])
	}
}

// mergePredictions applies predicted exports in sorted key order.
func mergePredictions(env *Environ, predicted map[string]string) {
	overlayEnv(env, predicted)
}

// restorePredictions reinstates expanded predictions for exports whose
// authoritative dump entry still holds the literal assignment text.
// A single-quoted value reaches the shell unexpanded, so for those the
// expanded prediction is the tracked record; anything else the dump
// observed (command substitution, arithmetic) wins. Caller holds s.mu.
func (s *Session) restorePredictions(predicted, literal map[string]string) {
	for k, want := range predicted {
		cur, ok := s.env.Get(k)
		if !ok || cur == want {
			continue
		}
		if cur == literal[k] {
			s.env.Set(k, want)
		}
	}
}
