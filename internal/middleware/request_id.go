// Package middleware provides the Control Plane admin router's HTTP
// middleware chain: request correlation, structured access logging,
// security headers, CORS, body size limiting, rate limiting, and request
// timeouts. The Route Dispatcher's engine does not use it.
package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	CorrelationIDHeader = "X-Correlation-ID"
	correlationIDKey    = "correlation_id"
)

// RequestID generates or propagates a correlation id for every request,
// storing it in the Gin context for handlers to read, and echoing it back on the response so a caller can reference a
// specific request when reporting an issue.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(CorrelationIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(correlationIDKey, id)
		c.Header(CorrelationIDHeader, id)
		c.Next()
	}
}

// GetCorrelationID retrieves the id set by RequestID.
func GetCorrelationID(c *gin.Context) string {
	if v, ok := c.Get(correlationIDKey); ok {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}
