package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// TimeoutConfig bounds request duration, excluding paths whose nature is
// inherently long-lived (the Control Plane's WebSocket push channel).
type TimeoutConfig struct {
	Timeout       time.Duration
	ExcludedPrefixes []string
}

// DefaultTimeoutConfig returns the platform default of 30 seconds, carving
// out the admin WebSocket endpoint.
func DefaultTimeoutConfig() TimeoutConfig {
	return TimeoutConfig{
		Timeout:          30 * time.Second,
		ExcludedPrefixes: []string{"/api/ws"},
	}
}

// Timeout aborts a request with 408 once config.Timeout elapses, replacing
// the request context so handlers observing ctx.Done() unwind promptly.
func Timeout(config TimeoutConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		for _, prefix := range config.ExcludedPrefixes {
			if strings.HasPrefix(path, prefix) {
				c.Next()
				return
			}
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), config.Timeout)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)

		finished := make(chan struct{})
		go func() {
			c.Next()
			close(finished)
		}()

		select {
		case <-finished:
		case <-ctx.Done():
			c.AbortWithStatusJSON(http.StatusRequestTimeout, gin.H{
				"ok":    false,
				"error": "timeout",
			})
		}
	}
}
