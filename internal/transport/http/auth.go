package httptransport

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"tuya-ble-cloud/internal/platform/logging"
)

// AuthSecretHeader carries the shared secret when requesting an operator token.
const AuthSecretHeader = "X-Auth-Secret"

// OperatorKey is the gin context key holding the authenticated operator.
const OperatorKey = "operator"

// TokenVerifier validates bearer tokens.
type TokenVerifier interface {
	VerifyToken(token string) (string, error)
}

// BearerAuth 认证中间件，校验 Authorization: Bearer <jwt>
func BearerAuth(verifier TokenVerifier, logger *logging.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = logging.NewDiscard()
	}
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			RespondError(c, http.StatusUnauthorized, "missing bearer token", nil)
			c.Abort()
			return
		}

		operator, err := verifier.VerifyToken(strings.TrimSpace(token))
		if err != nil {
			logger.WarnTag("HTTP", "rejected token from %s: %v", c.ClientIP(), err)
			RespondError(c, http.StatusUnauthorized, "invalid token", nil)
			c.Abort()
			return
		}

		c.Set(OperatorKey, operator)
		c.Next()
	}
}
