package system_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rhplus0831/risugit/internal/plugin/route/system"
	registryroute "github.com/rhplus0831/risugit/internal/registry/route"
	"github.com/stretchr/testify/require"
)

func TestReadiness(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	require.NoError(t, registryroute.MountAll(r))

	get := func(path string) int {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		return w.Code
	}

	require.Equal(t, http.StatusOK, get("/health"))
	system.MarkNotReady()
	require.Equal(t, http.StatusServiceUnavailable, get("/ready"))
	system.MarkReady()
	require.Equal(t, http.StatusOK, get("/ready"))
	require.Equal(t, http.StatusOK, get("/metrics"))
}
