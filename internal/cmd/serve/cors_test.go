package serve

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rhplus0831/risugit/internal/security"
	"github.com/stretchr/testify/require"
)

func TestParseOrigins_DefaultsToWildcard(t *testing.T) {
	origins := parseOrigins("")
	require.True(t, origins["*"])
}

func TestCorsMiddleware_AllowsAnyOriginAndFlagHeader(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(corsMiddleware("*"))
	router.PUT("/:filename", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodOptions, "/abc.png", nil)
	req.Header.Set("Origin", "https://risu.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPut)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "https://risu.example", rec.Header().Get("Access-Control-Allow-Origin"))
	require.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), security.FlagHeader)
	require.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), http.MethodPut)
}

func TestCorsMiddleware_IgnoresUnlistedOrigin(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(corsMiddleware("https://risu.example"))
	router.GET("/health", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://other.example")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
