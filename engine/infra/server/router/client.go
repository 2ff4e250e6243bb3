package router

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/idc-core/idc/pkg/logger"
)

const (
	HeaderClientID = "X-Client-ID"
	clientIDKey    = "client_id"
)

// ClientMiddleware resolves the tenant from the X-Client-ID header. Requests
// without one are rejected with 401.
func ClientMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		clientID := strings.TrimSpace(c.GetHeader(HeaderClientID))
		if clientID == "" {
			RespondWithError(c, http.StatusUnauthorized, NewRequestError(
				http.StatusUnauthorized,
				"missing client settings",
				ErrMissingClientID,
			))
			return
		}
		c.Set(clientIDKey, clientID)
		log := logger.FromContext(c.Request.Context()).With("client_id", clientID)
		c.Request = c.Request.WithContext(logger.ContextWithLogger(c.Request.Context(), log))
		c.Next()
	}
}

func GetClientID(c *gin.Context) string {
	return c.GetString(clientIDKey)
}
