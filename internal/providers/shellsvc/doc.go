// Package shellsvc exposes shell sessions as a service provider.
//
// The Manager tracks live sessions by ID; the Provider maps tool calls
// (shell.create_session, shell.execute, shell.fork, ...) onto the
// session driver in internal/shell. Timeout and nonzero-exit outcomes
// are reported as failed results that still carry the partial output,
// so callers never lose what the command printed before it went wrong.
package shellsvc
