// Package setup holds the global CLI flags and builds the sync engine from
// them for every client sub-command.
package setup

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/rhplus0831/risugit/internal/assetsync"
	"github.com/rhplus0831/risugit/internal/config"
	"github.com/rhplus0831/risugit/internal/dataencryption"
	"github.com/rhplus0831/risugit/internal/gitrepo"
	"github.com/rhplus0831/risugit/internal/host"
	registryblob "github.com/rhplus0831/risugit/internal/registry/blob"
	registrycache "github.com/rhplus0831/risugit/internal/registry/cache"
	registrysecret "github.com/rhplus0831/risugit/internal/registry/secret"
	"github.com/rhplus0831/risugit/internal/service"
	"github.com/rhplus0831/risugit/internal/syncerr"
	"github.com/urfave/cli/v3"

	// Import all plugins to trigger init() registration
	_ "github.com/rhplus0831/risugit/internal/plugin/blob/dir"
	_ "github.com/rhplus0831/risugit/internal/plugin/blob/s3store"
	_ "github.com/rhplus0831/risugit/internal/plugin/cache/memory"
	_ "github.com/rhplus0831/risugit/internal/plugin/cache/none"
	_ "github.com/rhplus0831/risugit/internal/plugin/cache/redis"
	_ "github.com/rhplus0831/risugit/internal/plugin/secret/fromconfig"
	_ "github.com/rhplus0831/risugit/internal/plugin/secret/vault"
)

// State is shared by the root command and its sub-commands.
type State struct {
	Config   config.Config
	LogLevel string
}

func New() *State {
	return &State{Config: config.DefaultConfig(), LogLevel: "info"}
}

// Out is where commands print their results.
func Out(cmd *cli.Command) io.Writer {
	if w := cmd.Root().Writer; w != nil {
		return w
	}
	return os.Stdout
}

// Before configures logging and overlays the environment and the options
// file onto the flag values. Flags set explicitly win over the options file.
func (s *State) Before(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	level, err := log.ParseLevel(s.LogLevel)
	if err != nil {
		return ctx, syncerr.Config(fmt.Sprintf("invalid --log-level %q", s.LogLevel))
	}
	log.SetLevel(level)

	if err := s.Config.ApplyEnv(); err != nil {
		return ctx, err
	}
	opts, err := config.LoadOptions(s.Config.OptionsFile)
	if err != nil {
		return ctx, err
	}
	if err := s.Config.ApplyOptions(opts, cmd.IsSet); err != nil {
		return ctx, err
	}
	return config.WithContext(ctx, &s.Config), nil
}

// Syncer resolves secrets and assembles a Syncer over the data dir and the
// host database. The asset syncer is attached only when an asset server is
// configured.
func (s *State) Syncer(ctx context.Context) (*service.Syncer, error) {
	cfg := &s.Config
	ctx = config.WithContext(ctx, cfg)

	secretLoader, err := registrysecret.Select(cfg.SecretKind)
	if err != nil {
		return nil, syncerr.Config(err.Error())
	}
	secrets, err := secretLoader(ctx)
	if err != nil {
		return nil, err
	}
	if err := registrysecret.Apply(ctx, secrets, cfg); err != nil {
		return nil, err
	}

	if strings.TrimSpace(cfg.HostDBPath) == "" {
		return nil, syncerr.Config("--host-db is required")
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("setup: create data dir: %w", err)
	}

	repo := gitrepo.Open(gitrepo.Options{
		FS:         osfs.New(cfg.DataDir),
		Branch:     cfg.Branch,
		RemoteURL:  cfg.GitURL,
		Username:   cfg.GitUsername,
		Password:   cfg.GitPassword,
		Proxy:      cfg.EffectiveGitProxy(),
		AuthorName: cfg.ClientName,
		Depth:      cfg.Depth,
	})

	syncer := &service.Syncer{
		Repo:       repo,
		Host:       &host.JSONFile{Path: cfg.HostDBPath},
		Keyring:    dataencryption.NewKeyring(cfg.KDFIterations),
		Passphrase: cfg.Passphrase,
		Depth:      cfg.Depth,
	}
	if cfg.AssetServer != "" {
		if syncer.Assets, err = s.assets(ctx); err != nil {
			return nil, err
		}
	}
	return syncer, nil
}

func (s *State) assets(ctx context.Context) (*assetsync.Syncer, error) {
	cfg := &s.Config
	storeLoader, err := registryblob.Select(cfg.AssetStoreKind)
	if err != nil {
		return nil, syncerr.Config(err.Error())
	}
	store, err := storeLoader(ctx, registryblob.Location{Dir: cfg.ResolvedAssetDir(), Prefix: cfg.S3Prefix})
	if err != nil {
		return nil, err
	}

	cacheLoader, err := registrycache.Select(cfg.AssetCacheKind)
	if err != nil {
		return nil, syncerr.Config(err.Error())
	}
	cache, err := cacheLoader(ctx)
	if err != nil {
		log.Warn("Asset existence cache unavailable; asking the server every time", "cache", cfg.AssetCacheKind, "err", err)
		cache = nil
	}

	return &assetsync.Syncer{
		Local:          store,
		Cache:          cache,
		Client:         assetsync.NewClient(cfg.AssetServer, assetsync.DefaultSchedule),
		MaxConnections: cfg.AssetMaxConnections,
	}, nil
}
