package middleware

import "github.com/gin-gonic/gin"

// CORS allows the Control Plane's browser-based dashboard to call the
// admin API from a different origin, and answers preflight OPTIONS
// requests directly rather than forwarding them to the router.
func CORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, PATCH, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Correlation-ID")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}
