package shellsvc

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinglyhq/agentshell/internal/shell"
)

func newTestProvider(t *testing.T) *Provider {
	t.Helper()
	manager := NewManager(nil, nil)
	t.Cleanup(manager.CloseAll)
	return NewProvider(manager, shell.Config{Persistent: true}, nil, nil)
}

func createSession(t *testing.T, p *Provider, params map[string]interface{}) string {
	t.Helper()
	if params == nil {
		params = map[string]interface{}{}
	}
	res, err := p.Execute(context.Background(), "shell.create_session", params, nil)
	require.NoError(t, err)
	require.True(t, res.Success)
	return res.Data["id"].(string)
}

func TestCreateAndDescribeSession(t *testing.T) {
	p := newTestProvider(t)

	sessionID := createSession(t, p, map[string]interface{}{
		"env": map[string]interface{}{"GREETING": "hello"},
	})
	assert.NotEmpty(t, sessionID)

	res, err := p.Execute(context.Background(), "shell.get_session", map[string]interface{}{
		"session_id": sessionID,
	}, nil)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, sessionID, res.Data["id"])
	assert.Equal(t, true, res.Data["active"])
}

func TestExecuteCapturesOutputAndStatus(t *testing.T) {
	p := newTestProvider(t)
	sessionID := createSession(t, p, nil)

	res, err := p.Execute(context.Background(), "shell.execute", map[string]interface{}{
		"session_id": sessionID,
		"command":    "echo hello from the shell",
	}, nil)
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, "hello from the shell\n", res.Data["stdout"])
	assert.Equal(t, 0, res.Data["exit_code"])
}

func TestExecuteReportsNonzeroExit(t *testing.T) {
	p := newTestProvider(t)
	sessionID := createSession(t, p, nil)

	res, err := p.Execute(context.Background(), "shell.execute", map[string]interface{}{
		"session_id": sessionID,
		"command":    "exit 42",
	}, nil)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 42, res.Data["exit_code"])
}

func TestExecuteTimeoutKeepsPartialOutput(t *testing.T) {
	p := newTestProvider(t)
	sessionID := createSession(t, p, nil)

	res, err := p.Execute(context.Background(), "shell.execute", map[string]interface{}{
		"session_id": sessionID,
		"command":    "echo early; sleep 3",
		"timeout_ms": float64(500),
	}, nil)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, true, res.Data["timed_out"])
	assert.Contains(t, res.Data["stdout"], "early")

	// The session survives the abandoned command.
	res, err = p.Execute(context.Background(), "shell.execute", map[string]interface{}{
		"session_id": sessionID,
		"command":    "echo recovered",
	}, nil)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "recovered\n", res.Data["stdout"])
}

func TestVariableRoundTrip(t *testing.T) {
	p := newTestProvider(t)
	sessionID := createSession(t, p, nil)

	_, err := p.Execute(context.Background(), "shell.set_var", map[string]interface{}{
		"session_id": sessionID,
		"name":       "DEPLOY_ENV",
		"value":      "staging",
	}, nil)
	require.NoError(t, err)

	res, err := p.Execute(context.Background(), "shell.execute", map[string]interface{}{
		"session_id": sessionID,
		"command":    "echo $DEPLOY_ENV",
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "staging\n", res.Data["stdout"])

	res, err = p.Execute(context.Background(), "shell.get_var", map[string]interface{}{
		"session_id": sessionID,
		"name":       "DEPLOY_ENV",
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "staging", res.Data["value"])
	assert.Equal(t, true, res.Data["found"])
}

func TestExportTrackedAcrossCalls(t *testing.T) {
	p := newTestProvider(t)
	sessionID := createSession(t, p, nil)

	_, err := p.Execute(context.Background(), "shell.execute", map[string]interface{}{
		"session_id": sessionID,
		"command":    "export BUILD_TAG=v1.2.3",
	}, nil)
	require.NoError(t, err)

	res, err := p.Execute(context.Background(), "shell.get_var", map[string]interface{}{
		"session_id": sessionID,
		"name":       "BUILD_TAG",
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "v1.2.3", res.Data["value"])
}

func TestForkIsolation(t *testing.T) {
	p := newTestProvider(t)
	parentID := createSession(t, p, map[string]interface{}{
		"env": map[string]interface{}{"SHARED": "original"},
	})

	res, err := p.Execute(context.Background(), "shell.fork", map[string]interface{}{
		"session_id": parentID,
	}, nil)
	require.NoError(t, err)
	childID := res.Data["id"].(string)
	assert.NotEqual(t, parentID, childID)
	assert.Equal(t, parentID, res.Data["forked_of"])

	// Child sees the parent's value at fork time.
	res, err = p.Execute(context.Background(), "shell.get_var", map[string]interface{}{
		"session_id": childID,
		"name":       "SHARED",
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "original", res.Data["value"])

	// Mutating the child never leaks back to the parent.
	_, err = p.Execute(context.Background(), "shell.set_var", map[string]interface{}{
		"session_id": childID,
		"name":       "SHARED",
		"value":      "changed",
	}, nil)
	require.NoError(t, err)

	res, err = p.Execute(context.Background(), "shell.get_var", map[string]interface{}{
		"session_id": parentID,
		"name":       "SHARED",
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "original", res.Data["value"])
}

func TestRunOneShot(t *testing.T) {
	p := newTestProvider(t)

	res, err := p.Execute(context.Background(), "shell.run", map[string]interface{}{
		"command": "echo one shot",
	}, nil)
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, "one shot\n", res.Data["stdout"])
}

func TestListAndCloseSessions(t *testing.T) {
	p := newTestProvider(t)
	sessionID := createSession(t, p, nil)

	res, err := p.Execute(context.Background(), "shell.list_sessions", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Data["count"])

	res, err = p.Execute(context.Background(), "shell.close", map[string]interface{}{
		"session_id": sessionID,
	}, nil)
	require.NoError(t, err)
	assert.True(t, res.Success)

	_, err = p.Execute(context.Background(), "shell.get_session", map[string]interface{}{
		"session_id": sessionID,
	}, nil)
	assert.Error(t, err)
}

func TestUnknownToolRejected(t *testing.T) {
	p := newTestProvider(t)

	_, err := p.Execute(context.Background(), "shell.bogus", nil, nil)
	assert.Error(t, err)
}

func TestManagerCloseAll(t *testing.T) {
	manager := NewManager(nil, nil)
	s1 := manager.Create(shell.Config{Persistent: false})
	s2 := manager.Create(shell.Config{Persistent: false})
	require.Equal(t, 2, manager.Count())

	manager.CloseAll()
	assert.Equal(t, 0, manager.Count())
	assert.True(t, s1.Closed())
	assert.True(t, s2.Closed())
}

func TestManagerForkUnknownSession(t *testing.T) {
	manager := NewManager(nil, nil)
	_, err := manager.Fork("sess_missing", nil)
	assert.Error(t, err)
}

func TestExecuteTimeoutOptionPlumbing(t *testing.T) {
	params := map[string]interface{}{
		"timeout_ms": float64(1500),
		"check":      true,
		"sync_env":   false,
	}
	opts := execOptions(params)
	assert.Len(t, opts, 3)

	assert.Empty(t, execOptions(map[string]interface{}{}))
}
