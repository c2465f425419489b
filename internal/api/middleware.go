package api

import (
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"kharomchat/internal/observability"
)

const requestIDHeader = "X-Request-ID"

// requestContext tags the request context with a request id and logs the outcome.
func requestContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		reqID := c.GetHeader(requestIDHeader)
		if reqID == "" {
			reqID = uuid.NewString()
		}
		c.Header(requestIDHeader, reqID)
		ctx := observability.ContextWithFields(c.Request.Context(),
			"request_id", reqID,
			"method", c.Request.Method,
			"path", c.FullPath(),
		)
		c.Request = c.Request.WithContext(ctx)

		started := time.Now()
		c.Next()

		logger := observability.LoggerFromContext(ctx)
		status := c.Writer.Status()
		switch {
		case status >= http.StatusInternalServerError:
			logger.Error("request failed", "status", status, "elapsed", time.Since(started))
		default:
			logger.Info("request handled", "status", status, "elapsed", time.Since(started))
		}
	}
}

// localOnly rejects callers that are not on the loopback interface. The session API has a single
// local writer and no authentication.
func localOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := net.ParseIP(c.RemoteIP())
		if ip == nil || !ip.IsLoopback() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "session api is only available locally"})
			return
		}
		c.Next()
	}
}
