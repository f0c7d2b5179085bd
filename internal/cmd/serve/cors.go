package serve

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rhplus0831/risugit/internal/security"
)

const corsMaxAge = "86400"

func corsMiddleware(originsCSV string) gin.HandlerFunc {
	origins := parseOrigins(originsCSV)
	allowAny := origins["*"]
	allowHeaders := strings.Join([]string{"Content-Type", security.FlagHeader, security.RequestIDHeader}, ", ")
	return func(c *gin.Context) {
		origin := strings.TrimSpace(c.GetHeader("Origin"))
		if origin != "" && (allowAny || origins[origin]) {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
			c.Header("Access-Control-Allow-Headers", allowHeaders)
			c.Header("Access-Control-Allow-Methods", "GET, HEAD, PUT, OPTIONS")
			c.Header("Access-Control-Max-Age", corsMaxAge)
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func parseOrigins(raw string) map[string]bool {
	result := map[string]bool{}
	for _, part := range strings.Split(raw, ",") {
		v := strings.TrimSpace(part)
		if v == "" {
			continue
		}
		result[v] = true
	}
	if len(result) == 0 {
		result["*"] = true
	}
	return result
}
