package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ListenerConfig holds the network settings of the asset server listener.
type ListenerConfig struct {
	Port              int
	ReadHeaderTimeout time.Duration
}

type contextKey struct{}

// WithContext returns a new context carrying the given Config.
func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, contextKey{}, cfg)
}

// FromContext retrieves the Config from the context.
func FromContext(ctx context.Context) *Config {
	cfg, _ := ctx.Value(contextKey{}).(*Config)
	return cfg
}

// BrowserGitProxy is the CORS proxy the browser plugin falls back to.
const BrowserGitProxy = "https://cors.isomorphic-git.org"

// Config holds all configuration for risugit.
type Config struct {
	// Local state
	DataDir     string // git working tree holding the snapshot
	HostDBPath  string // host database JSON file
	OptionsFile string // RisuGit::<name> options file
	TempDir     string

	// Encryption
	Passphrase    string
	KDFIterations int

	// Git remote
	GitURL      string
	GitUsername string
	GitPassword string
	GitProxy    string
	// GitProxyBrowserDefault applies BrowserGitProxy when GitProxy is empty.
	GitProxyBrowserDefault bool
	Branch                 string
	ClientName             string // commit author name
	Depth                  int

	// Automation toggles
	SaveChatOnRequest       bool
	SaveOtherOnSettingClose bool
	AutomaticPush           bool
	BootstrapPull           bool
	BootstrapSaveCharacter  bool
	BootstrapSaveOther      bool
	BootstrapPushAssets     bool
	DebounceQuiet           time.Duration

	// Asset sync (client side)
	AssetServer         string
	AssetMaxConnections int
	AssetStoreKind      string // "dir" or "s3"
	AssetDir            string
	AssetCacheKind      string // "none", "memory" or "redis"
	AssetCacheSize      int64

	// Redis
	RedisURL string

	// Secrets
	SecretKind string // "config" or "vault"
	VaultPath  string // KV v2 "<mount>/<path>"

	// S3
	S3Bucket       string
	S3Prefix       string
	S3UsePathStyle bool

	// Asset server
	Listener             ListenerConfig
	StorageKind          string // "dir" or "s3"
	StorageDir           string
	DBKind               string // "sqlite" or "postgres"
	DBURL                string
	AssetMaxSize         int64
	AssetRetention       time.Duration
	AssetCleanupInterval time.Duration
	AccessTouchCooldown  time.Duration
	CORSOrigins          string
	ServerAccessLog      bool
	DrainTimeout         int

	// MetricsLabels is a comma-separated list of key=value pairs added as
	// constant labels to all Prometheus metrics. Values support ${VAR} expansion.
	MetricsLabels string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		DataDir:              "risugit-data",
		KDFIterations:        600000,
		Branch:               "main",
		ClientName:           "risugit",
		DebounceQuiet:        5 * time.Second,
		AssetMaxConnections:  8,
		AssetStoreKind:       "dir",
		AssetCacheKind:       "memory",
		AssetCacheSize:       1 << 16,
		SecretKind:           "config",
		VaultPath:            "secret/risugit",
		StorageKind:          "dir",
		StorageDir:           "assets",
		DBKind:               "sqlite",
		DBURL:                "assets.db",
		AssetMaxSize:         25 * 1024 * 1024,
		AssetRetention:       60 * 24 * time.Hour,
		AssetCleanupInterval: 24 * time.Hour,
		AccessTouchCooldown:  time.Hour,
		CORSOrigins:          "*",
		DrainTimeout:         30,
		Listener: ListenerConfig{
			Port:              8000,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// ResolvedTempDir returns the configured temp directory or the platform default.
func (c *Config) ResolvedTempDir() string {
	if c == nil {
		return os.TempDir()
	}
	if dir := strings.TrimSpace(c.TempDir); dir != "" {
		return dir
	}
	return os.TempDir()
}

// ResolvedAssetDir returns the local asset directory, defaulting to "assets"
// next to the data dir.
func (c *Config) ResolvedAssetDir() string {
	if dir := strings.TrimSpace(c.AssetDir); dir != "" {
		return dir
	}
	return filepath.Join(filepath.Dir(filepath.Clean(c.DataDir)), "assets")
}

// EffectiveGitProxy returns the proxy prefix to use for git traffic.
func (c *Config) EffectiveGitProxy() string {
	if p := strings.TrimSpace(c.GitProxy); p != "" {
		return p
	}
	if c.GitProxyBrowserDefault {
		return BrowserGitProxy
	}
	return ""
}
