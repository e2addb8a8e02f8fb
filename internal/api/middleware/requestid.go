package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/tinglyhq/agentshell/internal/shared/id"
)

// ContextKeyRequestID is the gin context key the request ID is stored under.
const ContextKeyRequestID = "request_id"

// HeaderRequestID is the HTTP header carrying the request ID.
const HeaderRequestID = "X-Request-ID"

// RequestID attaches a request ID to every request. An incoming
// X-Request-ID header is honored so callers can correlate retries.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(HeaderRequestID)
		if rid == "" {
			rid = id.NewRequestID().String()
		}
		c.Set(ContextKeyRequestID, rid)
		c.Header(HeaderRequestID, rid)
		c.Next()
	}
}

// GetRequestID returns the request ID set by RequestID, if any.
func GetRequestID(c *gin.Context) (string, bool) {
	rid, ok := c.Get(ContextKeyRequestID)
	if !ok {
		return "", false
	}
	s, ok := rid.(string)
	return s, ok
}
