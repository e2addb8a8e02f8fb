package shell

import (
	"context"
	"time"
)

// ExecContext is the per-call execution context passed to hooks. It
// correlates a hook's pre- and post-processing of the same call and is
// discarded when Exec returns.
type ExecContext struct {
	// ExecutionID uniquely tags this call (the framer's marker id).
	ExecutionID string
	// Timeout is the overall budget requested for the call.
	Timeout time.Duration
	// SyncEnv reports whether environment synchronization was
	// requested for this call.
	SyncEnv bool
	// StartedAt is when the call entered the driver.
	StartedAt time.Time

	values map[string]any
}

// Put stores a hook-private value on the context.
func (ec *ExecContext) Put(key string, value any) {
	if ec.values == nil {
		ec.values = make(map[string]any)
	}
	ec.values[key] = value
}

// Value retrieves a hook-private value stored with Put.
func (ec *ExecContext) Value(key string) (any, bool) {
	v, ok := ec.values[key]
	return v, ok
}

// Hook transforms commands before they are sent to the shell and
// results after they are read back. BeforeExec hooks run in
// registration order, AfterExec hooks in reverse order, so a hook
// sees its own transformations innermost.
//
// AfterExec must treat the Result as immutable and return a new record
// when it wants to change anything. A hook error aborts the call.
type Hook interface {
	BeforeExec(ctx context.Context, command string, ec *ExecContext) (string, error)
	AfterExec(ctx context.Context, command string, result *Result, ec *ExecContext) (*Result, error)
}

// applyBeforeHooks runs every BeforeExec in order over command.
func applyBeforeHooks(ctx context.Context, hooks []Hook, command string, ec *ExecContext) (string, error) {
	var err error
	for _, h := range hooks {
		command, err = h.BeforeExec(ctx, command, ec)
		if err != nil {
			return "", err
		}
	}
	return command, nil
}

// applyAfterHooks runs every AfterExec in reverse order over result.
func applyAfterHooks(ctx context.Context, hooks []Hook, command string, result *Result, ec *ExecContext) (*Result, error) {
	var err error
	for i := len(hooks) - 1; i >= 0; i-- {
		result, err = hooks[i].AfterExec(ctx, command, result, ec)
		if err != nil {
			return nil, err
		}
	}
	return result, nil
}
