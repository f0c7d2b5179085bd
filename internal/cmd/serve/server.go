package serve

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
	"github.com/rhplus0831/risugit/internal/assetdb"
	"github.com/rhplus0831/risugit/internal/config"
	"github.com/rhplus0831/risugit/internal/plugin/route/assets"
	routesystem "github.com/rhplus0831/risugit/internal/plugin/route/system"
	registryblob "github.com/rhplus0831/risugit/internal/registry/blob"
	registrymigrate "github.com/rhplus0831/risugit/internal/registry/migrate"
	registryroute "github.com/rhplus0831/risugit/internal/registry/route"
	"github.com/rhplus0831/risugit/internal/security"
	"github.com/rhplus0831/risugit/internal/service"
)

// Server holds the running asset server and its subsystems.
type Server struct {
	Config *config.Config
	DB     *assetdb.DB
	Store  registryblob.Store
	Router *gin.Engine
	// Port is the bound port, useful when Listener.Port was 0.
	Port int

	http      *http.Server
	assets    *assets.Handler
	stopBg    context.CancelFunc
	bgDone    sync.WaitGroup
	closeOnce sync.Once
}

// Shutdown stops accepting requests, drains in-flight ones and releases the
// database and caches.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.closeOnce.Do(func() {
		routesystem.MarkNotReady()
		err = s.http.Shutdown(ctx)
		s.stopBg()
		s.bgDone.Wait()
		s.assets.Close()
		if cerr := s.DB.Close(); cerr != nil && err == nil {
			err = cerr
		}
	})
	return err
}

// StartServer initializes all subsystems and starts serving on
// cfg.Listener.Port. Use port 0 for a random port; see Server.Port.
func StartServer(ctx context.Context, cfg *config.Config) (*Server, error) {
	log.Info("Starting asset server",
		"port", cfg.Listener.Port,
		"storage", cfg.StorageKind,
		"db", cfg.DBKind,
	)
	ctx = config.WithContext(ctx, cfg)

	metricsLabels, err := security.ParseMetricsLabels(cfg.MetricsLabels)
	if err != nil {
		return nil, fmt.Errorf("invalid --metrics-labels: %w", err)
	}
	security.InitMetrics(metricsLabels)

	if err := registrymigrate.RunAll(ctx); err != nil {
		return nil, fmt.Errorf("migrations failed: %w", err)
	}
	db, err := assetdb.Open(cfg.DBKind, cfg.DBURL)
	if err != nil {
		return nil, err
	}

	storeLoader, err := registryblob.Select(cfg.StorageKind)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	store, err := storeLoader(ctx, registryblob.Location{Dir: cfg.StorageDir, Prefix: cfg.S3Prefix})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	handler, err := assets.New(db, store, cfg.AssetMaxSize, cfg.AccessTouchCooldown)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(security.RequestIDMiddleware())
	if cfg.ServerAccessLog {
		router.Use(security.AccessLogMiddleware())
	} else {
		router.Use(security.AccessLogMiddleware("/health", "/ready", "/metrics"))
	}
	router.Use(security.MetricsMiddleware())
	router.Use(corsMiddleware(cfg.CORSOrigins))
	router.Use(security.FlagMiddleware())
	router.Use(maxBodySizeMiddleware(cfg.AssetMaxSize))

	if err := registryroute.MountAll(router); err != nil {
		handler.Close()
		_ = db.Close()
		return nil, fmt.Errorf("failed to load routes: %w", err)
	}
	assets.MountRoutes(router, handler)

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Listener.Port))
	if err != nil {
		handler.Close()
		_ = db.Close()
		return nil, fmt.Errorf("listen failed: %w", err)
	}

	bgCtx, stopBg := context.WithCancel(context.WithoutCancel(ctx))
	srv := &Server{
		Config:   cfg,
		DB:       db,
		Store:    store,
		Router:   router,
		Port:     lis.Addr().(*net.TCPAddr).Port,
		assets:   handler,
		stopBg:   stopBg,
		http: &http.Server{
			Handler:           router,
			ReadHeaderTimeout: cfg.Listener.ReadHeaderTimeout,
		},
	}

	cleanup := service.NewAssetCleanupService(db, store, cfg.AssetRetention, cfg.AssetCleanupInterval)
	cleanup.OnDelete(handler.Forget)
	srv.bgDone.Add(1)
	go func() {
		defer srv.bgDone.Done()
		cleanup.Start(bgCtx)
	}()

	go func() {
		if err := srv.http.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Asset server failed", "err", err)
		}
	}()

	log.Info("Server listening", "port", srv.Port)
	routesystem.MarkReady()
	return srv, nil
}
