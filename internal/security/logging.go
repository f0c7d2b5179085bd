package security

import (
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// FlagHeader marks requests as coming from the risugit client.
const FlagHeader = "x-risu-git-flag"

// RequestIDHeader carries the per-request correlation ID.
const RequestIDHeader = "X-Request-ID"

const contextKeyRequestID = "requestID"

// RequestIDMiddleware assigns every request an ID, reusing a well-formed
// incoming X-Request-ID, and echoes it in the response.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		c.Set(contextKeyRequestID, id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

// RequestID returns the ID assigned by RequestIDMiddleware.
func RequestID(c *gin.Context) string {
	return c.GetString(contextKeyRequestID)
}

// FlagMiddleware rejects requests without the client flag header. HEAD and
// OPTIONS pass so existence probes and CORS preflights work unflagged.
func FlagMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		switch c.Request.Method {
		case http.MethodHead, http.MethodOptions:
			c.Next()
			return
		}
		if c.GetHeader(FlagHeader) == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "missing " + FlagHeader + " header"})
			return
		}
		c.Next()
	}
}

// AccessLogMiddleware logs each HTTP request with method, path, status, and duration.
// Paths listed in skipPaths are silently passed through without logging.
func AccessLogMiddleware(skipPaths ...string) gin.HandlerFunc {
	skip := make(map[string]bool, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = true
	}
	return func(c *gin.Context) {
		if skip[c.Request.URL.Path] {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		log.Info("HTTP request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
			"clientIP", c.ClientIP(),
			"requestID", RequestID(c),
		)
	}
}
