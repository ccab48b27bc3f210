package middlewares

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/Gopher0727/TeamLoom/middleware/jwt"
)

// Context keys set by Auth.
const (
	KeyUserID   = "user_id"
	KeyUserName = "user_name"
	KeyEmail    = "email"
)

// Auth JWT 认证中间件。Token 取自 Authorization: Bearer，
// 其次是 ?token= 查询参数 (浏览器的 WebSocket 无法设置请求头)。
func Auth(tokens *jwt.TokenManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		var token string

		if header := c.GetHeader("Authorization"); header != "" {
			scheme, value, ok := strings.Cut(header, " ")
			if ok && strings.EqualFold(scheme, "Bearer") {
				token = strings.TrimSpace(value)
			}
		}
		if token == "" {
			token = c.Query("token")
		}

		if token == "" {
			abortUnauthorized(c, "missing token")
			return
		}

		claims, err := tokens.ParseToken(token)
		if err != nil {
			abortUnauthorized(c, "invalid or expired token")
			return
		}

		c.Set(KeyUserID, claims.UserID)
		c.Set(KeyUserName, claims.Name)
		c.Set(KeyEmail, claims.Email)
		c.Next()
	}
}

// websocket handshakes are refused with a bare status
func abortUnauthorized(c *gin.Context, message string) {
	if isUpgrade(c.Request) {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": message, "code": "unauthenticated"})
}

func isUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

// UserID returns the authenticated user; zero when Auth did not run.
func UserID(c *gin.Context) uint {
	id, _ := c.Get(KeyUserID)
	uid, _ := id.(uint)
	return uid
}
