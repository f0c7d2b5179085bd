package security

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rhplus0831/risugit/internal/syncerr"
)

var (
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	assetBytesTotal     *prometheus.CounterVec
	assetCacheHits      prometheus.Counter
	assetCacheMisses    prometheus.Counter
	syncOperationsTotal *prometheus.CounterVec
)

// Directions for RecordAssetBytes.
const (
	DirectionUpload   = "upload"
	DirectionDownload = "download"
)

var validLabelKey = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ParseMetricsLabels parses a comma-separated list of key=value pairs into
// Prometheus labels. Values support ${VAR} / $VAR environment variable expansion.
// Label values may not contain commas. Returns nil for an empty string.
func ParseMetricsLabels(s string) (prometheus.Labels, error) {
	s = os.Expand(s, os.Getenv)
	if s == "" {
		return nil, nil
	}
	labels := prometheus.Labels{}
	for _, pair := range strings.Split(s, ",") {
		idx := strings.IndexByte(pair, '=')
		if idx < 0 {
			return nil, fmt.Errorf("invalid label %q: expected key=value", pair)
		}
		k, v := pair[:idx], pair[idx+1:]
		if !validLabelKey.MatchString(k) {
			return nil, fmt.Errorf("invalid label key %q: must match [a-zA-Z_][a-zA-Z0-9_]*", k)
		}
		labels[k] = v
	}
	return labels, nil
}

var initMetricsOnce sync.Once

// InitMetrics registers all Prometheus metrics with the given constant labels.
// Must be called before starting the HTTP server. Safe to call multiple times;
// only the first call registers.
func InitMetrics(constLabels prometheus.Labels) {
	initMetricsOnce.Do(func() {
		initMetricsInner(constLabels)
	})
}

func initMetricsInner(constLabels prometheus.Labels) {
	reg := prometheus.WrapRegistererWith(constLabels, prometheus.DefaultRegisterer)
	f := promauto.With(reg)

	httpRequestsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "risugit_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "status"},
	)

	httpRequestDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "risugit_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	assetBytesTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "risugit_asset_bytes_total",
			Help: "Asset bytes transferred",
		},
		[]string{"direction"},
	)

	assetCacheHits = f.NewCounter(prometheus.CounterOpts{
		Name: "risugit_asset_cache_hits_total",
		Help: "Asset existence cache hits",
	})

	assetCacheMisses = f.NewCounter(prometheus.CounterOpts{
		Name: "risugit_asset_cache_misses_total",
		Help: "Asset existence cache misses",
	})

	syncOperationsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "risugit_sync_operations_total",
			Help: "Sync operations by outcome",
		},
		[]string{"operation", "result"},
	)
}

// RecordAssetBytes adds n bytes moved in direction. No-op before InitMetrics.
func RecordAssetBytes(direction string, n int64) {
	if assetBytesTotal == nil || n <= 0 {
		return
	}
	assetBytesTotal.WithLabelValues(direction).Add(float64(n))
}

// RecordAssetCache counts an existence cache lookup.
func RecordAssetCache(hit bool) {
	if assetCacheHits == nil {
		return
	}
	if hit {
		assetCacheHits.Inc()
	} else {
		assetCacheMisses.Inc()
	}
}

// RecordSyncOperation counts a finished sync operation, labelled by the
// error code of err ("ok" on success).
func RecordSyncOperation(operation string, err error) {
	if syncOperationsTotal == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
		if code := syncerr.CodeOf(err); code != "" {
			result = string(code)
		}
	}
	syncOperationsTotal.WithLabelValues(operation, result).Inc()
}

// MetricsMiddleware records HTTP request metrics for Prometheus.
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if httpRequestsTotal == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()
		duration := time.Since(start)

		httpRequestsTotal.WithLabelValues(c.Request.Method, strconv.Itoa(c.Writer.Status())).Inc()
		httpRequestDuration.WithLabelValues(c.Request.Method).Observe(duration.Seconds())
	}
}
