package middleware

import "github.com/gin-gonic/gin"

// SecurityHeaders sets baseline security response headers on every
// response of the router it is installed on (in cmd/funcdock, the Control
// Plane's admin router; function responses do not pass through it).
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "no-referrer")
		c.Next()
	}
}
