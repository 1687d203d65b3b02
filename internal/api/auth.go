package api

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/GilMM/caseflow/internal/logging"
)

// DefaultAPIKeyHeader is the default header name for admin authentication.
const DefaultAPIKeyHeader = "X-API-Key"

// ErrorResponse is the body of every rejected request.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// APIKeyAuth validates the admin API key from the request header. With no
// keys configured authentication is bypassed; this is the development
// posture, not the production one.
func APIKeyAuth(apiKeys []string, headerName string, logger *logging.Logger) gin.HandlerFunc {
	if headerName == "" {
		headerName = DefaultAPIKeyHeader
	}
	if len(apiKeys) == 0 {
		return func(c *gin.Context) {
			c.Next()
		}
	}

	return func(c *gin.Context) {
		apiKey := c.GetHeader(headerName)
		if apiKey == "" {
			logger.WarnWithContext(c.Request.Context(), "admin authentication failed: missing API key",
				"header_name", headerName,
				"client_ip", c.ClientIP(),
				"path", c.Request.URL.Path,
			)
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{
				Error:   "unauthorized",
				Message: "API key is required. Provide it in the '" + headerName + "' header",
				Code:    http.StatusUnauthorized,
			})
			return
		}

		for _, key := range apiKeys {
			if subtle.ConstantTimeCompare([]byte(apiKey), []byte(key)) == 1 {
				c.Set("authenticated", true)
				c.Next()
				return
			}
		}

		logger.WarnWithContext(c.Request.Context(), "admin authentication failed: invalid API key",
			"header_name", headerName,
			"client_ip", c.ClientIP(),
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{
			Error:   "unauthorized",
			Message: "Invalid API key",
			Code:    http.StatusUnauthorized,
		})
	}
}

// DispatchAuth validates the scheduler's shared secret. The sweep trigger
// carries it as a bearer token; per-tenant dispatch carries it in the
// x-dispatch-secret header. An empty configured secret rejects everything;
// dispatch endpoints are never open.
func DispatchAuth(secret string, logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		presented := c.GetHeader("x-dispatch-secret")
		if presented == "" {
			header := c.GetHeader("Authorization")
			if after, ok := strings.CutPrefix(header, "Bearer "); ok {
				presented = after
			}
		}

		if secret == "" || subtle.ConstantTimeCompare([]byte(presented), []byte(secret)) != 1 {
			logger.WarnWithContext(c.Request.Context(), "dispatch authentication failed",
				"client_ip", c.ClientIP(),
				"path", c.Request.URL.Path,
			)
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{
				Error:   "unauthorized",
				Message: "Invalid dispatch secret",
				Code:    http.StatusUnauthorized,
			})
			return
		}
		c.Next()
	}
}
