package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tinglyhq/agentshell/internal/api/middleware"
	"github.com/tinglyhq/agentshell/internal/infrastructure/monitoring"
	"github.com/tinglyhq/agentshell/internal/logging"
	"github.com/tinglyhq/agentshell/internal/providers/shellsvc"
	"github.com/tinglyhq/agentshell/internal/service"
	"github.com/tinglyhq/agentshell/internal/shared/types"
	"github.com/tinglyhq/agentshell/internal/shared/utils"
)

const version = "0.1.0"

// Handlers contains all HTTP handlers
type Handlers struct {
	registry *service.Registry
	shells   *shellsvc.Manager
	metrics  *monitoring.Metrics
	logger   *logging.Logger
}

func newHandlers(registry *service.Registry, shells *shellsvc.Manager, metrics *monitoring.Metrics, logger *logging.Logger) *Handlers {
	return &Handlers{
		registry: registry,
		shells:   shells,
		metrics:  metrics,
		logger:   logger,
	}
}

// DiscoverRequest asks for services relevant to an intent.
type DiscoverRequest struct {
	Query string `json:"query" binding:"required"`
	Limit int    `json:"limit"`
}

// ExecuteRequest invokes one service tool.
type ExecuteRequest struct {
	ToolID string                 `json:"tool_id" binding:"required"`
	Params map[string]interface{} `json:"params"`
}

// CreateSessionRequest configures a new shell session.
type CreateSessionRequest struct {
	Shell      string            `json:"shell"`
	WorkDir    string            `json:"work_dir"`
	Env        map[string]string `json:"env"`
	PreScripts []string          `json:"pre_scripts"`
	Persistent *bool             `json:"persistent"`
	TimeoutMs  float64           `json:"timeout_ms"`
}

// CommandRequest runs a command in an existing session.
type CommandRequest struct {
	Command   string  `json:"command" binding:"required"`
	TimeoutMs float64 `json:"timeout_ms"`
	Check     bool    `json:"check"`
	SyncEnv   *bool   `json:"sync_env"`
}

// ForkRequest clones a session, optionally overriding its shell.
type ForkRequest struct {
	Shell   string `json:"shell"`
	WorkDir string `json:"work_dir"`
}

// SetVarRequest sets one environment variable.
type SetVarRequest struct {
	Value string `json:"value"`
}

// Root handles the service banner
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": "agentshell",
		"version": version,
	})
}

// Health handles detailed health check
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":           "healthy",
		"service_registry": h.registry.Stats(),
		"sessions":         gin.H{"active": h.shells.Count()},
	})
}

// ListServices lists registered services
func (h *Handlers) ListServices(c *gin.Context) {
	var category *types.Category
	if categoryStr := c.Query("category"); categoryStr != "" {
		cat := types.Category(categoryStr)
		category = &cat
	}

	c.JSON(http.StatusOK, gin.H{
		"services": h.registry.List(category),
		"stats":    h.registry.Stats(),
	})
}

// DiscoverServices finds services relevant to a query
func (h *Handlers) DiscoverServices(c *gin.Context) {
	var req DiscoverRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	limit := req.Limit
	if limit <= 0 {
		limit = 5
	}

	c.JSON(http.StatusOK, gin.H{
		"query":    req.Query,
		"services": h.registry.Discover(req.Query, limit),
	})
}

// ExecuteService executes a service tool
func (h *Handlers) ExecuteService(c *gin.Context) {
	var req ExecuteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := utils.ValidateToolID(req.ToolID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	h.runTool(c, req.ToolID, req.Params, http.StatusOK)
}

// CreateSession creates a new shell session
func (h *Handlers) CreateSession(c *gin.Context) {
	// An empty body is fine; everything is optional.
	var req CreateSessionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	params := map[string]interface{}{}
	if req.Shell != "" {
		params["shell"] = req.Shell
	}
	if req.WorkDir != "" {
		params["work_dir"] = req.WorkDir
	}
	if len(req.Env) > 0 {
		env := make(map[string]interface{}, len(req.Env))
		for k, v := range req.Env {
			env[k] = v
		}
		params["env"] = env
	}
	if len(req.PreScripts) > 0 {
		pre := make([]interface{}, 0, len(req.PreScripts))
		for _, s := range req.PreScripts {
			pre = append(pre, s)
		}
		params["pre_scripts"] = pre
	}
	if req.Persistent != nil {
		params["persistent"] = *req.Persistent
	}
	if req.TimeoutMs > 0 {
		params["timeout_ms"] = req.TimeoutMs
	}

	h.runTool(c, "shell.create_session", params, http.StatusCreated)
}

// ListSessions lists tracked sessions
func (h *Handlers) ListSessions(c *gin.Context) {
	h.runTool(c, "shell.list_sessions", nil, http.StatusOK)
}

// GetSession returns info about one session
func (h *Handlers) GetSession(c *gin.Context) {
	h.runTool(c, "shell.get_session", map[string]interface{}{
		"session_id": c.Param("id"),
	}, http.StatusOK)
}

// CloseSession shuts down a session
func (h *Handlers) CloseSession(c *gin.Context) {
	h.runTool(c, "shell.close", map[string]interface{}{
		"session_id": c.Param("id"),
	}, http.StatusOK)
}

// ExecuteCommand runs a command inside a session
func (h *Handlers) ExecuteCommand(c *gin.Context) {
	var req CommandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	params := map[string]interface{}{
		"session_id": c.Param("id"),
		"command":    req.Command,
	}
	if req.TimeoutMs > 0 {
		params["timeout_ms"] = req.TimeoutMs
	}
	if req.Check {
		params["check"] = true
	}
	if req.SyncEnv != nil {
		params["sync_env"] = *req.SyncEnv
	}

	h.runTool(c, "shell.execute", params, http.StatusOK)
}

// ForkSession clones a session
func (h *Handlers) ForkSession(c *gin.Context) {
	var req ForkRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	params := map[string]interface{}{"session_id": c.Param("id")}
	if req.Shell != "" {
		params["shell"] = req.Shell
	}
	if req.WorkDir != "" {
		params["work_dir"] = req.WorkDir
	}

	h.runTool(c, "shell.fork", params, http.StatusCreated)
}

// ListVars snapshots a session's environment
func (h *Handlers) ListVars(c *gin.Context) {
	h.runTool(c, "shell.list_vars", map[string]interface{}{
		"session_id": c.Param("id"),
	}, http.StatusOK)
}

// GetVar reads one environment variable
func (h *Handlers) GetVar(c *gin.Context) {
	h.runTool(c, "shell.get_var", map[string]interface{}{
		"session_id": c.Param("id"),
		"name":       c.Param("name"),
	}, http.StatusOK)
}

// SetVar sets one environment variable
func (h *Handlers) SetVar(c *gin.Context) {
	var req SetVarRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	h.runTool(c, "shell.set_var", map[string]interface{}{
		"session_id": c.Param("id"),
		"name":       c.Param("name"),
		"value":      req.Value,
	}, http.StatusOK)
}

// runTool dispatches through the registry so REST and WebSocket callers
// share one execution path.
func (h *Handlers) runTool(c *gin.Context, toolID string, params map[string]interface{}, okStatus int) {
	reqCtx := &types.Context{}
	if rid, ok := middleware.GetRequestID(c); ok {
		reqCtx.RequestID = &rid
	}

	timer := monitoring.NewTimer(h.metrics, "shell", toolID)

	result, err := h.registry.Execute(c.Request.Context(), toolID, params, reqCtx)
	if err != nil && result == nil {
		timer.Stop("error")
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	if err != nil && !result.Success {
		timer.Stop("error")
		c.JSON(statusFor(err), result)
		return
	}

	timer.Stop("ok")
	c.JSON(okStatus, result)
}

func statusFor(err error) int {
	if errors.Is(err, shellsvc.ErrNotFound) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}
