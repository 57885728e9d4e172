package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/hyunsoo-dev/persona-chat/internal/auth"
	"github.com/hyunsoo-dev/persona-chat/internal/common"
)

// UserIDKey is the gin context key the authenticated user id is stored
// under.
const UserIDKey = "auth_user_id"

func AuthRequired(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			common.Fail(c, http.StatusUnauthorized, 40101, "missing authorization header")
			c.Abort()
			return
		}
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			common.Fail(c, http.StatusUnauthorized, 40102, "malformed authorization header")
			c.Abort()
			return
		}

		uid, err := auth.ParseJWT(parts[1], secret)
		if err != nil {
			common.Fail(c, http.StatusUnauthorized, 40103, "invalid or expired token")
			c.Abort()
			return
		}

		c.Set(UserIDKey, uid)
		c.Next()
	}
}
