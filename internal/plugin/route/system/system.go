package system

import (
	"net/http"
	"sync/atomic"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	registryroute "github.com/rhplus0831/risugit/internal/registry/route"
)

var ready atomic.Bool

// MarkReady signals that the asset server has opened its metadata database
// and storage and is ready to serve.
func MarkReady() {
	ready.Store(true)
}

// MarkNotReady flips readiness back while the server drains.
func MarkNotReady() {
	ready.Store(false)
}

func init() {
	registryroute.Register(registryroute.Plugin{
		Name:  "system",
		Order: 0,
		Loader: func(r *gin.Engine) error {
			r.GET("/health", func(c *gin.Context) {
				c.JSON(http.StatusOK, gin.H{"status": "ok"})
			})

			r.GET("/ready", func(c *gin.Context) {
				if ready.Load() {
					c.JSON(http.StatusOK, gin.H{"status": "ready"})
				} else {
					c.JSON(http.StatusServiceUnavailable, gin.H{"status": "starting"})
				}
			})

			r.GET("/metrics", gin.WrapH(promhttp.Handler()))
			return nil
		},
	})
}
