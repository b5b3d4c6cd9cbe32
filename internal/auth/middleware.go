package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const claimsKey = "authClaims"

// RequireBearer builds gin middleware that rejects any request without a
// valid bearer token. WebSocket upgrade requests are treated specially: the
// browser client can't set a custom Authorization header during the
// handshake, so the token is accepted as a "token" query parameter instead,
// and a failed check aborts with a bare status (no JSON body) so it doesn't
// interfere with the upgrade.
func RequireBearer(v *Validator) gin.HandlerFunc {
	return func(c *gin.Context) {
		isWebSocket := strings.EqualFold(c.GetHeader("Upgrade"), "websocket") &&
			strings.Contains(strings.ToLower(c.GetHeader("Connection")), "upgrade")

		tokenString := ""
		if isWebSocket {
			tokenString = c.Query("token")
		}
		if tokenString == "" {
			tokenString = bearerFromHeader(c.GetHeader("Authorization"))
		}

		if tokenString == "" {
			reject(c, isWebSocket, "authorization required")
			return
		}

		claims, err := v.Validate(tokenString)
		if err != nil {
			reject(c, isWebSocket, err.Error())
			return
		}

		c.Set(claimsKey, claims)
		c.Next()
	}
}

func bearerFromHeader(header string) string {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return ""
	}
	return parts[1]
}

func reject(c *gin.Context, isWebSocket bool, message string) {
	if isWebSocket {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"ok":      false,
		"error":   "unauthorized",
		"message": message,
	})
}

// ClaimsFromContext returns the validated claims stored by RequireBearer.
func ClaimsFromContext(c *gin.Context) (*Claims, bool) {
	v, ok := c.Get(claimsKey)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*Claims)
	return claims, ok
}
