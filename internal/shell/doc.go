// Package shell drives command execution on behalf of an automated
// agent, in two modes: one-shot (spawn, wait, collect) and persistent
// (one long-lived interactive shell process reused across commands).
//
// The persistent driver solves three problems with nothing beyond what
// POSIX shells guarantee:
//
//   - Framing: command boundaries inside an unbounded byte stream are
//     recovered with a marker protocol. Each command is bracketed by
//     unique sentinel echoes, and the end marker carries the command's
//     real exit status ("=== CMD_MARKER_END_<id>:<status> ===").
//   - Environment tracking: child-process environment mutations are
//     invisible to the parent, so the session keeps an in-memory model
//     updated twice per command: predictively, by scanning the literal
//     command text for export statements, and authoritatively, by
//     running `export -p` through the same driver after success. The
//     predictor is a documented heuristic (no conditionals, command
//     substitution, or subshells); the resync corrects its drift.
//   - Timeouts: an expired call returns the partial output gathered so
//     far as a *TimeoutError and abandons the command without killing
//     the shared process.
//
// Sessions serialize execution: exactly one command is in flight per
// session, and the same lock transitively protects the environment
// model. Fork creates a fully independent session seeded with a deep
// copy of the parent's environment and configuration.
//
// Example:
//
//	s := shell.New(shell.Config{Persistent: true})
//	defer s.Close()
//
//	res, err := s.Exec(ctx, "export GREETING='hello'")
//	// s.GetVar("GREETING") == "hello"
//	res, err = s.Exec(ctx, "echo \"$GREETING world\"", shell.WithTimeout(5*time.Second))
//	// res.Stdout == "hello world\n", res.ExitCode == 0
package shell
