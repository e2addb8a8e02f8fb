package shell

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	// closeGrace is how long Close waits for a graceful shell exit
	// before escalating to a kill.
	closeGrace = 2 * time.Second
	// stderrIdle is the quiet window after which trailing stderr is
	// considered drained; it resets on every received chunk.
	stderrIdle = 5 * time.Millisecond
	// stderrGrace caps the total drain time whatever keeps arriving.
	stderrGrace = 25 * time.Millisecond
	// resyncTimeout bounds the internal environment-dump command.
	resyncTimeout = 5 * time.Second
	// readChunkSize is the per-read buffer for the stream readers.
	readChunkSize = 4096
)

var exportableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// process is the live persistent child: the shell program idling on
// stdin, with one reader goroutine per output stream feeding chunk
// channels the driver selects over.
type process struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout chan []byte
	stderr chan []byte
	exited bool
}

// ensureProcess lazily starts (or restarts, after the child died) the
// persistent shell process.
func (s *Session) ensureProcess() error {
	if s.proc != nil && !s.proc.exited {
		return nil
	}

	script := s.buildStartupScript()
	cmd := exec.Command(s.cfg.Shell, "-c", script)
	cmd.Dir = s.cfg.WorkDir
	cmd.Env = s.env.Pairs()

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return &SpawnError{Shell: s.cfg.Shell, Err: err}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return &SpawnError{Shell: s.cfg.Shell, Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return &SpawnError{Shell: s.cfg.Shell, Err: err}
	}
	if err := cmd.Start(); err != nil {
		return &SpawnError{Shell: s.cfg.Shell, Err: err}
	}

	p := &process{
		cmd:    cmd,
		stdin:  stdin,
		stdout: make(chan []byte, 64),
		stderr: make(chan []byte, 64),
	}
	go readPipe(stdout, p.stdout)
	go readPipe(stderr, p.stderr)

	s.logger.Debug("persistent shell started",
		zap.String("session_id", s.id.String()),
		zap.String("shell", s.cfg.Shell),
		zap.Int("pid", cmd.Process.Pid),
	)
	s.proc = p
	return nil
}

// buildStartupScript assembles the command that boots the persistent
// child: export every tracked variable (shell-safe escaping), run each
// init script in order, then start the interactive shell so the
// process idles on stdin. Init scripts run unframed here: fast, but
// not individually status-checked; their failures surface on the first
// framed command.
func (s *Session) buildStartupScript() string {
	var parts []string
	for _, k := range s.env.Keys() {
		if !exportableName.MatchString(k) {
			continue
		}
		v, _ := s.env.Get(k)
		parts = append(parts, fmt.Sprintf("export %s=\"%s\"", k, exportQuote(v)))
	}
	parts = append(parts, s.cfg.PreScripts...)
	parts = append(parts, s.cfg.Shell)
	return strings.Join(parts, "; ")
}

// exportQuote escapes a value for interpolation inside a
// double-quoted export statement.
func exportQuote(v string) string {
	r := strings.NewReplacer(
		`\`, `\\`,
		`"`, `\"`,
		`$`, `\$`,
		"`", "\\`",
	)
	return r.Replace(v)
}

// readPipe pumps one output stream into its chunk channel until EOF,
// then closes the channel so the driver observes stream end.
func readPipe(r io.Reader, ch chan<- []byte) {
	defer close(ch)
	buf := make([]byte, readChunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			ch <- chunk
		}
		if err != nil {
			return
		}
	}
}

// runFramed writes one marker-wrapped command to the persistent child
// and reads until the end marker, stream end, or the deadline.
//
// On timeout the in-flight command is abandoned, not killed: the shell
// is still running it, and because the shell consumes stdin serially
// the next command's start marker can only be echoed after the
// abandoned one finishes. Stale output preceding our start marker is
// stripped by the scanner; drainStale additionally discards whatever
// already arrived so buffers do not grow across abandoned calls. This
// is best-effort resynchronization: an abandoned command that never
// terminates will stall (and time out) subsequent calls until the
// session is closed.
func (s *Session) runFramed(ctx context.Context, toRun, original string, marker Marker, timeout time.Duration) (*Result, error) {
	if err := s.ensureProcess(); err != nil {
		return nil, err
	}
	p := s.proc
	p.drainStale()

	started := time.Now()
	if _, err := io.WriteString(p.stdin, marker.Wrap(toRun)+"\n"); err != nil {
		return nil, fmt.Errorf("shell: write command: %w", err)
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	var outBuf, errBuf strings.Builder
	stdoutCh, stderrCh := p.stdout, p.stderr

	for {
		select {
		case chunk, ok := <-stdoutCh:
			if !ok {
				// Process closed its output: assemble what we have.
				// The exit status never arrived, so it is unknown.
				p.exited = true
				return partialResult(original, marker, outBuf.String(), errBuf.String(), started), nil
			}
			outBuf.Write(chunk)
			if frame := marker.Scan(outBuf.String()); frame.Complete {
				drainTrailingStderr(stderrCh, &errBuf)
				return &Result{
					Command:  original,
					ExitCode: frame.ExitCode,
					Stdout:   frame.Body,
					Stderr:   errBuf.String(),
					Duration: time.Since(started),
				}, nil
			}

		case chunk, ok := <-stderrCh:
			if !ok {
				stderrCh = nil
				continue
			}
			errBuf.Write(chunk)

		case <-deadline.C:
			res := partialResult(original, marker, outBuf.String(), errBuf.String(), started)
			return res, &TimeoutError{Timeout: timeout, Result: res}

		case <-ctx.Done():
			res := partialResult(original, marker, outBuf.String(), errBuf.String(), started)
			return res, fmt.Errorf("shell: command canceled: %w", ctx.Err())
		}
	}
}

// partialResult assembles the result of an abandoned or truncated
// command: the start marker is stripped, the exit status is unknown.
func partialResult(original string, marker Marker, out, errOut string, started time.Time) *Result {
	if i := strings.Index(out, marker.StartLine()); i >= 0 {
		out = out[i+len(marker.StartLine()):]
		out = strings.TrimPrefix(out, "\r\n")
		out = strings.TrimPrefix(out, "\n")
	}
	return &Result{
		Command:  original,
		ExitCode: -1,
		Stdout:   out,
		Stderr:   errOut,
		Duration: time.Since(started),
	}
}

// drainStale discards output that arrived after the previous command
// was abandoned, so it cannot leak into the next framed body.
func (p *process) drainStale() {
	for {
		select {
		case _, ok := <-p.stdout:
			if !ok {
				p.exited = true
				return
			}
		case <-p.stderr:
		default:
			return
		}
	}
}

// drainTrailingStderr picks up stderr that was written just before the
// end marker but is still in flight on the other pipe. It returns after
// stderrIdle without a chunk, stderrGrace in total, or stream end,
// whichever comes first.
func drainTrailingStderr(ch chan []byte, buf *strings.Builder) {
	if ch == nil {
		return
	}
	total := time.NewTimer(stderrGrace)
	defer total.Stop()
	idle := time.NewTimer(stderrIdle)
	defer idle.Stop()
	for {
		select {
		case chunk, ok := <-ch:
			if !ok {
				return
			}
			buf.Write(chunk)
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(stderrIdle)
		case <-idle.C:
			return
		case <-total.C:
			return
		}
	}
}

// resyncEnv replaces tracked values with the authoritative state of
// the running shell: `export -p` first, plain `env` as fallback. Both
// failing is tolerated; tracking degrades to predictive-only.
func (s *Session) resyncEnv(ctx context.Context) {
	for _, dumpCmd := range [2]string{"export -p", "env"} {
		res, err := s.runFramed(ctx, dumpCmd, dumpCmd, NewMarker(), resyncTimeout)
		if err != nil || res.ExitCode != 0 {
			continue
		}
		dump := ParseDump(res.Stdout)
		if dump.Len() == 0 {
			continue
		}
		s.env.CopyFrom(dump)
		return
	}
	s.logger.Debug("environment resync unavailable; tracking is predictive only",
		zap.String("session_id", s.id.String()))
}

// shutdown releases the persistent child: a polite `exit`, a grace
// period, then a kill. The reader channels are drained to completion
// so both goroutines terminate before the process is reaped.
func (p *process) shutdown(logger *zap.Logger) {
	if p.stdin != nil {
		_, _ = io.WriteString(p.stdin, "exit\n")
		_ = p.stdin.Close()
	}

	grace := time.After(closeGrace)
	killed := false
	stdoutCh, stderrCh := p.stdout, p.stderr
	for stdoutCh != nil || stderrCh != nil {
		select {
		case _, ok := <-stdoutCh:
			if !ok {
				stdoutCh = nil
			}
		case _, ok := <-stderrCh:
			if !ok {
				stderrCh = nil
			}
		case <-grace:
			if killed {
				// Unkillable process; reap asynchronously.
				go func() { _ = p.cmd.Wait() }()
				return
			}
			logger.Warn("shell did not exit in time; killing",
				zap.Int("pid", p.cmd.Process.Pid))
			_ = p.cmd.Process.Kill()
			killed = true
			grace = time.After(closeGrace)
		}
	}
	_ = p.cmd.Wait()
	p.exited = true
}
