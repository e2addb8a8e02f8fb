package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/tinglyhq/agentshell/internal/infrastructure/monitoring"
	"github.com/tinglyhq/agentshell/internal/service"
	"github.com/tinglyhq/agentshell/internal/shared/types"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins in dev
	},
}

// Message is one inbound WebSocket frame.
type Message struct {
	Type   string                 `json:"type"`
	ToolID string                 `json:"tool_id,omitempty"`
	Params map[string]interface{} `json:"params,omitempty"`
}

// Handler manages WebSocket connections
type Handler struct {
	registry *service.Registry
	metrics  *monitoring.Metrics
	logger   *zap.Logger
}

// NewHandler creates a new WebSocket handler
func NewHandler(registry *service.Registry, metrics *monitoring.Metrics, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		registry: registry,
		metrics:  metrics,
		logger:   logger,
	}
}

// HandleConnection handles WebSocket upgrade and messages
func (h *Handler) HandleConnection(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	if h.metrics != nil {
		h.metrics.WSConnections.Inc()
		defer h.metrics.WSConnections.Dec()
	}

	reqCtx := c.Request.Context()

	h.send(conn, map[string]interface{}{
		"type":    "system",
		"message": "Connected to agentshell",
	})

	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("websocket read error", zap.Error(err))
			}
			break
		}

		if h.metrics != nil {
			h.metrics.RecordWSMessage("in", msg.Type)
		}

		switch msg.Type {
		case "execute":
			h.handleExecute(conn, msg, reqCtx)
		case "ping":
			h.send(conn, map[string]interface{}{"type": "pong"})
		default:
			h.sendError(conn, "unknown message type")
		}
	}
}

// handleExecute runs one tool call. Long commands hold the connection's
// read loop; callers wanting concurrency open multiple connections.
func (h *Handler) handleExecute(conn *websocket.Conn, msg Message, reqCtx context.Context) {
	if msg.ToolID == "" {
		h.sendError(conn, "tool_id is required")
		return
	}

	h.send(conn, map[string]interface{}{
		"type":      "exec_start",
		"tool_id":   msg.ToolID,
		"timestamp": time.Now().Unix(),
	})

	// Bounded so a stuck tool never pins the connection forever.
	ctx, cancel := context.WithTimeout(reqCtx, 5*time.Minute)
	defer cancel()

	result, err := h.registry.Execute(ctx, msg.ToolID, msg.Params, &types.Context{})
	if err != nil && result == nil {
		h.sendError(conn, err.Error())
		return
	}

	h.send(conn, map[string]interface{}{
		"type":      "result",
		"tool_id":   msg.ToolID,
		"result":    result,
		"timestamp": time.Now().Unix(),
	})
}

func (h *Handler) send(conn *websocket.Conn, data interface{}) error {
	if h.metrics != nil {
		if m, ok := data.(map[string]interface{}); ok {
			if t, ok := m["type"].(string); ok {
				h.metrics.RecordWSMessage("out", t)
			}
		}
	}
	return conn.WriteJSON(data)
}

func (h *Handler) sendError(conn *websocket.Conn, msg string) error {
	return h.send(conn, map[string]interface{}{
		"type":      "error",
		"message":   msg,
		"timestamp": time.Now().Unix(),
	})
}
