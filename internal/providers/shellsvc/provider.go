package shellsvc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/tinglyhq/agentshell/internal/infrastructure/monitoring"
	"github.com/tinglyhq/agentshell/internal/shared/types"
	"github.com/tinglyhq/agentshell/internal/shared/utils"
	"github.com/tinglyhq/agentshell/internal/shell"
)

// Provider implements shell session operations
type Provider struct {
	manager  *Manager
	defaults shell.Config
	metrics  *monitoring.Metrics
	logger   *zap.Logger
}

// NewProvider creates a shell provider. The defaults configuration is
// used for sessions created without explicit overrides.
func NewProvider(manager *Manager, defaults shell.Config, metrics *monitoring.Metrics, logger *zap.Logger) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{
		manager:  manager,
		defaults: defaults,
		metrics:  metrics,
		logger:   logger,
	}
}

// Manager exposes the session manager for server shutdown hooks.
func (p *Provider) Manager() *Manager {
	return p.manager
}

// Definition returns service metadata
func (p *Provider) Definition() types.Service {
	return types.Service{
		ID:          "shell",
		Name:        "Shell Service",
		Description: "Persistent shell sessions with environment tracking for command execution",
		Category:    types.CategoryShell,
		Capabilities: []string{
			"command_execution",
			"persistent_sessions",
			"environment_tracking",
			"session_forking",
			"timeouts",
		},
		Tools: p.getTools(),
	}
}

// Execute routes to the appropriate operation
func (p *Provider) Execute(ctx context.Context, toolID string, params map[string]interface{}, _ *types.Context) (*types.Result, error) {
	switch toolID {
	case "shell.create_session":
		return p.createSession(params)
	case "shell.execute":
		return p.execute(ctx, params)
	case "shell.run":
		return p.run(ctx, params)
	case "shell.fork":
		return p.fork(params)
	case "shell.get_var":
		return p.getVar(params)
	case "shell.set_var":
		return p.setVar(params)
	case "shell.list_vars":
		return p.listVars(params)
	case "shell.get_session":
		return p.getSession(params)
	case "shell.list_sessions":
		return p.listSessions()
	case "shell.close":
		return p.close(params)
	default:
		return nil, fmt.Errorf("unknown tool: %s", toolID)
	}
}

func (p *Provider) getTools() []types.Tool {
	return []types.Tool{
		{
			ID:          "shell.create_session",
			Name:        "Create Shell Session",
			Description: "Create a new shell session with tracked environment state",
			Parameters: []types.Parameter{
				{Name: "shell", Type: "string", Description: "Shell program (e.g. bash, zsh). Defaults to bash", Required: false},
				{Name: "work_dir", Type: "string", Description: "Working directory for spawned processes", Required: false},
				{Name: "env", Type: "object", Description: "Environment variables overlaid on the inherited environment", Required: false},
				{Name: "pre_scripts", Type: "array", Description: "Initialization commands run before the first command", Required: false},
				{Name: "persistent", Type: "boolean", Description: "Keep one long-lived process across commands. Defaults to true", Required: false},
				{Name: "timeout_ms", Type: "number", Description: "Default per-command timeout in milliseconds", Required: false},
			},
			Returns: "session_info",
		},
		{
			ID:          "shell.execute",
			Name:        "Execute Command",
			Description: "Run a command in a session, capturing stdout, stderr, and the exit code",
			Parameters: []types.Parameter{
				{Name: "session_id", Type: "string", Description: "Shell session ID", Required: true},
				{Name: "command", Type: "string", Description: "Command text to run", Required: true},
				{Name: "timeout_ms", Type: "number", Description: "Timeout override in milliseconds", Required: false},
				{Name: "check", Type: "boolean", Description: "Treat a nonzero exit code as an error", Required: false},
				{Name: "sync_env", Type: "boolean", Description: "Resynchronize environment after the command. Defaults to true", Required: false},
			},
			Returns: "exec_result",
		},
		{
			ID:          "shell.run",
			Name:        "Run One-Shot Command",
			Description: "Run a single command in a throwaway session",
			Parameters: []types.Parameter{
				{Name: "command", Type: "string", Description: "Command text to run", Required: true},
				{Name: "timeout_ms", Type: "number", Description: "Timeout in milliseconds", Required: false},
			},
			Returns: "exec_result",
		},
		{
			ID:          "shell.fork",
			Name:        "Fork Session",
			Description: "Clone a session's environment into an isolated new session",
			Parameters: []types.Parameter{
				{Name: "session_id", Type: "string", Description: "Session to fork", Required: true},
				{Name: "shell", Type: "string", Description: "Override shell program for the child", Required: false},
				{Name: "work_dir", Type: "string", Description: "Override working directory for the child", Required: false},
			},
			Returns: "session_info",
		},
		{
			ID:          "shell.get_var",
			Name:        "Get Variable",
			Description: "Read a tracked environment variable",
			Parameters: []types.Parameter{
				{Name: "session_id", Type: "string", Description: "Shell session ID", Required: true},
				{Name: "name", Type: "string", Description: "Variable name", Required: true},
			},
			Returns: "var_value",
		},
		{
			ID:          "shell.set_var",
			Name:        "Set Variable",
			Description: "Set an environment variable for subsequent commands",
			Parameters: []types.Parameter{
				{Name: "session_id", Type: "string", Description: "Shell session ID", Required: true},
				{Name: "name", Type: "string", Description: "Variable name", Required: true},
				{Name: "value", Type: "string", Description: "Variable value", Required: true},
			},
			Returns: "success",
		},
		{
			ID:          "shell.list_vars",
			Name:        "List Variables",
			Description: "Snapshot all tracked environment variables",
			Parameters: []types.Parameter{
				{Name: "session_id", Type: "string", Description: "Shell session ID", Required: true},
			},
			Returns: "vars_map",
		},
		{
			ID:          "shell.get_session",
			Name:        "Get Session Info",
			Description: "Get information about a session",
			Parameters: []types.Parameter{
				{Name: "session_id", Type: "string", Description: "Shell session ID", Required: true},
			},
			Returns: "session_info",
		},
		{
			ID:          "shell.list_sessions",
			Name:        "List Sessions",
			Description: "List all tracked sessions",
			Parameters:  []types.Parameter{},
			Returns:     "sessions_list",
		},
		{
			ID:          "shell.close",
			Name:        "Close Session",
			Description: "Shut down a session and its shell process",
			Parameters: []types.Parameter{
				{Name: "session_id", Type: "string", Description: "Shell session ID", Required: true},
			},
			Returns: "success",
		},
	}
}

func (p *Provider) createSession(params map[string]interface{}) (*types.Result, error) {
	cfg := p.defaults

	if s, ok := params["shell"].(string); ok && s != "" {
		cfg.Shell = s
	}
	if wd, ok := params["work_dir"].(string); ok && wd != "" {
		cfg.WorkDir = wd
	}
	if persistent, ok := params["persistent"].(bool); ok {
		cfg.Persistent = persistent
	}
	if ms, ok := params["timeout_ms"].(float64); ok && ms > 0 {
		cfg.DefaultTimeout = time.Duration(ms) * time.Millisecond
	}
	if envMap, ok := params["env"].(map[string]interface{}); ok {
		env := make(map[string]string, len(envMap))
		for k, v := range envMap {
			if str, ok := v.(string); ok {
				env[k] = str
			}
		}
		if err := utils.ValidateEnv(env); err != nil {
			return types.Failure(err.Error()), nil
		}
		cfg.Env = env
	}
	if scripts, ok := params["pre_scripts"].([]interface{}); ok {
		pre := make([]string, 0, len(scripts))
		for _, s := range scripts {
			if str, ok := s.(string); ok {
				pre = append(pre, str)
			}
		}
		cfg.PreScripts = pre
	}

	session := p.manager.Create(cfg)
	info, err := p.manager.Describe(string(session.ID()))
	if err != nil {
		return nil, err
	}
	return &types.Result{Success: true, Data: sessionData(info)}, nil
}

func (p *Provider) execute(ctx context.Context, params map[string]interface{}) (*types.Result, error) {
	sessionID, ok := params["session_id"].(string)
	if !ok {
		return nil, fmt.Errorf("session_id is required")
	}
	command, ok := params["command"].(string)
	if !ok {
		return nil, fmt.Errorf("command is required")
	}
	if err := utils.ValidateCommand(command); err != nil {
		return types.Failure(err.Error()), nil
	}

	session, err := p.manager.Get(sessionID)
	if err != nil {
		return nil, err
	}

	opts := execOptions(params)
	mode := "oneshot"
	if session.Config().Persistent {
		mode = "persistent"
	}

	syncOn := true
	if v, ok := params["sync_env"].(bool); ok {
		syncOn = v
	}
	if p.metrics != nil && syncOn {
		if n := len(shell.PredictExports(command, nil)); n > 0 {
			p.metrics.EnvVarsPredicted.Add(float64(n))
		}
	}

	started := time.Now()
	result, err := session.Exec(ctx, command, opts...)
	p.recordCommand(mode, started, err)
	if p.metrics != nil && syncOn && err == nil && result.ExitCode == 0 && mode == "persistent" {
		p.metrics.EnvResyncs.Inc()
	}

	return p.buildResult(command, result, err)
}

func (p *Provider) run(ctx context.Context, params map[string]interface{}) (*types.Result, error) {
	command, ok := params["command"].(string)
	if !ok {
		return nil, fmt.Errorf("command is required")
	}
	if err := utils.ValidateCommand(command); err != nil {
		return types.Failure(err.Error()), nil
	}

	opts := execOptions(params)

	started := time.Now()
	result, err := shell.Run(ctx, command, opts...)
	p.recordCommand("oneshot", started, err)

	return p.buildResult(command, result, err)
}

func (p *Provider) fork(params map[string]interface{}) (*types.Result, error) {
	sessionID, ok := params["session_id"].(string)
	if !ok {
		return nil, fmt.Errorf("session_id is required")
	}

	var overrides *shell.Config
	s, _ := params["shell"].(string)
	wd, _ := params["work_dir"].(string)
	if s != "" || wd != "" {
		overrides = &shell.Config{Shell: s, WorkDir: wd}
	}

	child, err := p.manager.Fork(sessionID, overrides)
	if err != nil {
		return nil, err
	}

	info, err := p.manager.Describe(string(child.ID()))
	if err != nil {
		return nil, err
	}
	return &types.Result{Success: true, Data: sessionData(info)}, nil
}

func (p *Provider) getVar(params map[string]interface{}) (*types.Result, error) {
	session, name, err := p.sessionAndName(params)
	if err != nil {
		return nil, err
	}

	value, found := session.GetVar(name)
	return &types.Result{
		Success: true,
		Data: map[string]interface{}{
			"name":  name,
			"value": value,
			"found": found,
		},
	}, nil
}

func (p *Provider) setVar(params map[string]interface{}) (*types.Result, error) {
	session, name, err := p.sessionAndName(params)
	if err != nil {
		return nil, err
	}
	value, ok := params["value"].(string)
	if !ok {
		return nil, fmt.Errorf("value is required")
	}
	if err := utils.ValidateVarName(name); err != nil {
		return types.Failure(err.Error()), nil
	}
	if err := utils.ValidateVarValue(value); err != nil {
		return types.Failure(err.Error()), nil
	}

	if err := session.SetVar(name, value); err != nil {
		return types.Failure(err.Error()), err
	}
	return &types.Result{
		Success: true,
		Data:    map[string]interface{}{"success": true},
	}, nil
}

func (p *Provider) listVars(params map[string]interface{}) (*types.Result, error) {
	sessionID, ok := params["session_id"].(string)
	if !ok {
		return nil, fmt.Errorf("session_id is required")
	}

	session, err := p.manager.Get(sessionID)
	if err != nil {
		return nil, err
	}

	vars := session.Vars()
	out := make(map[string]interface{}, len(vars))
	for k, v := range vars {
		out[k] = v
	}
	return &types.Result{
		Success: true,
		Data: map[string]interface{}{
			"vars":  out,
			"count": len(vars),
			"pwd":   session.Pwd(),
		},
	}, nil
}

func (p *Provider) getSession(params map[string]interface{}) (*types.Result, error) {
	sessionID, ok := params["session_id"].(string)
	if !ok {
		return nil, fmt.Errorf("session_id is required")
	}

	info, err := p.manager.Describe(sessionID)
	if err != nil {
		return nil, err
	}
	return &types.Result{Success: true, Data: sessionData(info)}, nil
}

func (p *Provider) listSessions() (*types.Result, error) {
	infos := p.manager.List()
	sessions := make([]interface{}, 0, len(infos))
	for i := range infos {
		sessions = append(sessions, sessionData(&infos[i]))
	}
	return &types.Result{
		Success: true,
		Data: map[string]interface{}{
			"sessions": sessions,
			"count":    len(sessions),
		},
	}, nil
}

func (p *Provider) close(params map[string]interface{}) (*types.Result, error) {
	sessionID, ok := params["session_id"].(string)
	if !ok {
		return nil, fmt.Errorf("session_id is required")
	}

	if err := p.manager.Close(sessionID); err != nil {
		return nil, err
	}
	return &types.Result{
		Success: true,
		Data:    map[string]interface{}{"success": true},
	}, nil
}

func (p *Provider) sessionAndName(params map[string]interface{}) (*shell.Session, string, error) {
	sessionID, ok := params["session_id"].(string)
	if !ok {
		return nil, "", fmt.Errorf("session_id is required")
	}
	name, ok := params["name"].(string)
	if !ok {
		return nil, "", fmt.Errorf("name is required")
	}

	session, err := p.manager.Get(sessionID)
	if err != nil {
		return nil, "", err
	}
	return session, name, nil
}

// buildResult translates a driver result into a service result.
// Timeout, cancellation, and nonzero-exit outcomes still carry partial
// output data.
func (p *Provider) buildResult(command string, result *shell.Result, err error) (*types.Result, error) {
	if err != nil {
		var timeoutErr *shell.TimeoutError
		var exitErr *shell.ExitError
		switch {
		case errors.As(err, &timeoutErr):
			out := types.Failure(err.Error())
			out.Data = resultData(timeoutErr.Result)
			out.Data["timed_out"] = true
			return out, nil
		case errors.As(err, &exitErr):
			out := types.Failure(err.Error())
			out.Data = resultData(exitErr.Result)
			return out, nil
		default:
			out := types.Failure(err.Error())
			if result != nil {
				out.Data = resultData(result)
			}
			return out, err
		}
	}

	return &types.Result{Success: true, Data: resultData(result)}, nil
}

func (p *Provider) recordCommand(mode string, started time.Time, err error) {
	if p.metrics == nil {
		return
	}
	status := "ok"
	switch {
	case shell.IsTimeout(err):
		status = "timeout"
		p.metrics.CommandTimeouts.Inc()
	case err != nil:
		status = "error"
	}
	p.metrics.RecordCommand(mode, status, time.Since(started))
}

func execOptions(params map[string]interface{}) []shell.ExecOption {
	var opts []shell.ExecOption
	if ms, ok := params["timeout_ms"].(float64); ok && ms > 0 {
		opts = append(opts, shell.WithTimeout(time.Duration(ms)*time.Millisecond))
	}
	if check, ok := params["check"].(bool); ok && check {
		opts = append(opts, shell.WithCheck())
	}
	if sync, ok := params["sync_env"].(bool); ok && !sync {
		opts = append(opts, shell.WithoutEnvSync())
	}
	return opts
}

func sessionData(info *SessionInfo) map[string]interface{} {
	data := map[string]interface{}{
		"id":         info.ID,
		"shell":      info.Shell,
		"work_dir":   info.WorkDir,
		"persistent": info.Persistent,
		"active":     info.Active,
		"created_at": info.CreatedAt,
	}
	if info.ForkedOf != "" {
		data["forked_of"] = info.ForkedOf
	}
	return data
}

func resultData(result *shell.Result) map[string]interface{} {
	if result == nil {
		return map[string]interface{}{}
	}
	return map[string]interface{}{
		"command":     result.Command,
		"exit_code":   result.ExitCode,
		"stdout":      result.Stdout,
		"stderr":      result.Stderr,
		"duration_ms": result.Duration.Milliseconds(),
	}
}
