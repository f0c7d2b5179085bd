package serve

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
	"github.com/rhplus0831/risugit/internal/config"
	registryblob "github.com/rhplus0831/risugit/internal/registry/blob"
	"github.com/urfave/cli/v3"

	// Import all plugins to trigger init() registration
	_ "github.com/rhplus0831/risugit/internal/plugin/blob/dir"
	_ "github.com/rhplus0831/risugit/internal/plugin/blob/s3store"
	_ "github.com/rhplus0831/risugit/internal/plugin/route/system"
)

// Command returns the serve sub-command. cfg is shared with the root
// command so global flags and the options file apply.
func Command(cfg *config.Config) *cli.Command {
	var readHeaderTimeoutSecs int = 5
	var retention, cleanupInterval string
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the asset server",
		Flags: flags(cfg, &readHeaderTimeoutSecs, &retention, &cleanupInterval),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg.Listener.ReadHeaderTimeout = time.Duration(readHeaderTimeoutSecs) * time.Second
			if cmd.IsSet("asset-retention") {
				d, err := config.ParseDuration(retention)
				if err != nil {
					return err
				}
				cfg.AssetRetention = d
			}
			if cmd.IsSet("asset-cleanup-interval") {
				d, err := config.ParseDuration(cleanupInterval)
				if err != nil {
					return err
				}
				cfg.AssetCleanupInterval = d
			}
			return run(config.WithContext(ctx, cfg), cfg)
		},
	}
}

func flags(cfg *config.Config, readHeaderTimeoutSecs *int, retention, cleanupInterval *string) []cli.Flag {
	return []cli.Flag{

		// ── Server ────────────────────────────────────────────────
		&cli.IntFlag{
			Name:        "port",
			Category:    "Server:",
			Sources:     cli.EnvVars("RISUGIT_PORT"),
			Destination: &cfg.Listener.Port,
			Value:       cfg.Listener.Port,
			Usage:       "HTTP server port (0 = OS-assigned random port)",
		},
		&cli.IntFlag{
			Name:        "read-header-timeout-seconds",
			Category:    "Server:",
			Sources:     cli.EnvVars("RISUGIT_READ_HEADER_TIMEOUT_SECONDS"),
			Destination: readHeaderTimeoutSecs,
			Value:       *readHeaderTimeoutSecs,
			Usage:       "HTTP read header timeout in seconds",
		},
		&cli.IntFlag{
			Name:        "drain-timeout",
			Category:    "Server:",
			Sources:     cli.EnvVars("RISUGIT_DRAIN_TIMEOUT"),
			Destination: &cfg.DrainTimeout,
			Value:       cfg.DrainTimeout,
			Usage:       "Seconds to wait for in-flight requests on shutdown",
		},
		&cli.StringFlag{
			Name:        "cors-origins",
			Category:    "Server:",
			Sources:     cli.EnvVars("RISUGIT_CORS_ORIGINS"),
			Destination: &cfg.CORSOrigins,
			Value:       cfg.CORSOrigins,
			Usage:       "Comma-separated allowed origins; * allows any",
		},
		&cli.BoolFlag{
			Name:        "access-log",
			Category:    "Server:",
			Sources:     cli.EnvVars("RISUGIT_ACCESS_LOG"),
			Destination: &cfg.ServerAccessLog,
			Usage:       "Log every request, including /health, /ready and /metrics",
		},

		// ── Storage ───────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "storage-kind",
			Category:    "Storage:",
			Sources:     cli.EnvVars("RISUGIT_STORAGE_KIND"),
			Destination: &cfg.StorageKind,
			Value:       cfg.StorageKind,
			Usage:       "Asset storage backend (" + strings.Join(registryblob.Names(), "|") + ")",
		},
		&cli.StringFlag{
			Name:        "storage-dir",
			Category:    "Storage:",
			Sources:     cli.EnvVars("RISUGIT_STORAGE_DIR"),
			Destination: &cfg.StorageDir,
			Value:       cfg.StorageDir,
			Usage:       "Directory for the dir storage backend",
		},
		// ── Database ──────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "db-kind",
			Category:    "Database:",
			Sources:     cli.EnvVars("RISUGIT_DB_KIND"),
			Destination: &cfg.DBKind,
			Value:       cfg.DBKind,
			Usage:       "Metadata database (sqlite|postgres)",
		},
		&cli.StringFlag{
			Name:        "db-url",
			Category:    "Database:",
			Sources:     cli.EnvVars("RISUGIT_DB_URL"),
			Destination: &cfg.DBURL,
			Value:       cfg.DBURL,
			Usage:       "Metadata database file or connection URL",
		},

		// ── Cleanup ───────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "asset-retention",
			Category:    "Cleanup:",
			Destination: retention,
			Usage:       "Delete assets not fetched for this long (Go or ISO-8601 duration, default P60D)",
		},
		&cli.StringFlag{
			Name:        "asset-cleanup-interval",
			Category:    "Cleanup:",
			Destination: cleanupInterval,
			Usage:       "How often the cleanup runs (default P1D)",
		},

		// ── Monitoring ────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "metrics-labels",
			Category:    "Monitoring:",
			Sources:     cli.EnvVars("RISUGIT_METRICS_LABELS"),
			Destination: &cfg.MetricsLabels,
			Value:       "service=risugit",
			Usage:       "Comma-separated key=value pairs added as constant labels to all Prometheus metrics. Supports ${VAR} expansion.",
		},
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	srv, err := StartServer(ctx, cfg)
	if err != nil {
		return err
	}

	<-ctx.Done()
	log.Info("Shutting down...")

	drainCtx, drainCancel := context.WithTimeout(context.Background(), time.Duration(cfg.DrainTimeout)*time.Second)
	defer drainCancel()
	if err := srv.Shutdown(drainCtx); err != nil {
		log.Error("Shutdown error", "err", err)
	}
	log.Info("Server stopped")
	return nil
}

// maxBodySizeMiddleware caps uploads at the asset limit plus room for the
// multipart envelope.
func maxBodySizeMiddleware(maxBodySize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method != http.MethodPut {
			c.Next()
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodySize+multipartOverhead)
		c.Next()
	}
}

const multipartOverhead = 1 << 20
