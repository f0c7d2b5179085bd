package setup

import (
	"strings"

	registryblob "github.com/rhplus0831/risugit/internal/registry/blob"
	registrycache "github.com/rhplus0831/risugit/internal/registry/cache"
	registrysecret "github.com/rhplus0831/risugit/internal/registry/secret"
	"github.com/urfave/cli/v3"
)

// Flags returns the global flags. Names that have a RisuGit::<name> option
// are listed in config.ApplyOptions under the same flag name.
func (s *State) Flags() []cli.Flag {
	cfg := &s.Config
	return []cli.Flag{

		// ── Local State ───────────────────────────────────────────
		&cli.StringFlag{
			Name:        "data-dir",
			Category:    "Local State:",
			Sources:     cli.EnvVars("RISUGIT_DATA_DIR"),
			Destination: &cfg.DataDir,
			Value:       cfg.DataDir,
			Usage:       "Git working tree holding the encrypted snapshot",
		},
		&cli.StringFlag{
			Name:        "host-db",
			Category:    "Local State:",
			Sources:     cli.EnvVars("RISUGIT_HOST_DB"),
			Destination: &cfg.HostDBPath,
			Usage:       "Host database JSON file to save from and restore into",
		},
		&cli.StringFlag{
			Name:        "options-file",
			Category:    "Local State:",
			Sources:     cli.EnvVars("RISUGIT_OPTIONS_FILE"),
			Destination: &cfg.OptionsFile,
			Usage:       "JSON file of RisuGit::<name> plugin options",
		},
		&cli.StringFlag{
			Name:        "temp-dir",
			Category:    "Local State:",
			Sources:     cli.EnvVars("RISUGIT_TEMP_DIR"),
			Destination: &cfg.TempDir,
			Usage:       "Directory for temporary files; defaults to OS temp directory",
		},

		// ── Encryption ────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "passphrase",
			Category:    "Encryption:",
			Sources:     cli.EnvVars("RISUGIT_PASSPHRASE"),
			Destination: &cfg.Passphrase,
			Usage:       "Encryption passphrase (option encrypt_key)",
		},
		&cli.IntFlag{
			Name:        "kdf-iterations",
			Category:    "Encryption:",
			Destination: &cfg.KDFIterations,
			Value:       cfg.KDFIterations,
			Usage:       "PBKDF2 iterations; every client of one repository must agree",
		},

		// ── Git Remote ────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "git-url",
			Category:    "Git Remote:",
			Sources:     cli.EnvVars("RISUGIT_GIT_URL"),
			Destination: &cfg.GitURL,
			Usage:       "Remote repository URL (option git_url)",
		},
		&cli.StringFlag{
			Name:        "git-user",
			Category:    "Git Remote:",
			Sources:     cli.EnvVars("RISUGIT_GIT_USER"),
			Destination: &cfg.GitUsername,
			Usage:       "Basic auth user name (option git_id)",
		},
		&cli.StringFlag{
			Name:        "git-password",
			Category:    "Git Remote:",
			Sources:     cli.EnvVars("RISUGIT_GIT_PASSWORD"),
			Destination: &cfg.GitPassword,
			Usage:       "Basic auth password or token (option git_password)",
		},
		&cli.StringFlag{
			Name:        "git-proxy",
			Category:    "Git Remote:",
			Sources:     cli.EnvVars("RISUGIT_GIT_PROXY"),
			Destination: &cfg.GitProxy,
			Usage:       "CORS proxy prefix for git traffic (option git_proxy)",
		},
		&cli.BoolFlag{
			Name:        "git-proxy-browser-default",
			Category:    "Git Remote:",
			Destination: &cfg.GitProxyBrowserDefault,
			Usage:       "Use the public browser CORS proxy when --git-proxy is empty",
		},
		&cli.StringFlag{
			Name:        "branch",
			Category:    "Git Remote:",
			Sources:     cli.EnvVars("RISUGIT_BRANCH"),
			Destination: &cfg.Branch,
			Value:       cfg.Branch,
			Usage:       "Branch to commit to (option git_branch)",
		},
		&cli.StringFlag{
			Name:        "client-name",
			Category:    "Git Remote:",
			Sources:     cli.EnvVars("RISUGIT_CLIENT_NAME"),
			Destination: &cfg.ClientName,
			Value:       cfg.ClientName,
			Usage:       "Commit author name (option git_client_name)",
		},
		&cli.IntFlag{
			Name:        "depth",
			Category:    "Git Remote:",
			Sources:     cli.EnvVars("RISUGIT_DEPTH"),
			Destination: &cfg.Depth,
			Usage:       "Fetch depth for pull and reclone; 0 fetches everything",
		},

		// ── Secrets ───────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "secret-kind",
			Category:    "Secrets:",
			Sources:     cli.EnvVars("RISUGIT_SECRET_KIND"),
			Destination: &cfg.SecretKind,
			Value:       cfg.SecretKind,
			Usage:       "Where the passphrase and git password come from (" + strings.Join(registrysecret.Names(), "|") + ")",
		},
		&cli.StringFlag{
			Name:        "vault-path",
			Category:    "Secrets:",
			Sources:     cli.EnvVars("RISUGIT_VAULT_PATH"),
			Destination: &cfg.VaultPath,
			Value:       cfg.VaultPath,
			Usage:       "Vault KV v2 <mount>/<path> holding encrypt_key and git_password (VAULT_ADDR and VAULT_TOKEN apply)",
		},

		// ── Automation ────────────────────────────────────────────
		&cli.BoolFlag{
			Name:        "save-chat-on-request",
			Category:    "Automation:",
			Destination: &cfg.SaveChatOnRequest,
			Usage:       "watch: save the open chat once requests settle (option git_on_request_save_chat)",
		},
		&cli.BoolFlag{
			Name:        "save-other-on-setting-close",
			Category:    "Automation:",
			Destination: &cfg.SaveOtherOnSettingClose,
			Usage:       "Save other data when settings close (option git_setting_close_save_other)",
		},
		&cli.BoolFlag{
			Name:        "automatic-push",
			Category:    "Automation:",
			Destination: &cfg.AutomaticPush,
			Usage:       "Push after every automatic save (option git_automatic_push)",
		},
		&cli.BoolFlag{
			Name:        "bootstrap-pull",
			Category:    "Automation:",
			Destination: &cfg.BootstrapPull,
			Usage:       "bootstrap: pull first (option git_bootstrap_pull)",
		},
		&cli.BoolFlag{
			Name:        "bootstrap-save-character",
			Category:    "Automation:",
			Destination: &cfg.BootstrapSaveCharacter,
			Usage:       "bootstrap: save everything and push (option git_bootstrap_save_push_character)",
		},
		&cli.BoolFlag{
			Name:        "bootstrap-save-other",
			Category:    "Automation:",
			Destination: &cfg.BootstrapSaveOther,
			Usage:       "bootstrap: save other data and push (option git_bootstrap_save_push_other)",
		},
		&cli.BoolFlag{
			Name:        "bootstrap-push-assets",
			Category:    "Automation:",
			Destination: &cfg.BootstrapPushAssets,
			Usage:       "bootstrap: push all assets (option git_bootstrap_push_asset)",
		},
		&cli.DurationFlag{
			Name:        "debounce-quiet",
			Category:    "Automation:",
			Destination: &cfg.DebounceQuiet,
			Value:       cfg.DebounceQuiet,
			Usage:       "watch: quiet period after the last change before saving",
		},

		// ── Assets ────────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "asset-server",
			Category:    "Assets:",
			Sources:     cli.EnvVars("RISUGIT_ASSET_SERVER"),
			Destination: &cfg.AssetServer,
			Usage:       "Asset server base URL (option git_asset_server)",
		},
		&cli.IntFlag{
			Name:        "asset-max-connections",
			Category:    "Assets:",
			Destination: &cfg.AssetMaxConnections,
			Value:       cfg.AssetMaxConnections,
			Usage:       "Concurrent asset transfers (option git_asset_server_max_connection)",
		},
		&cli.StringFlag{
			Name:        "asset-store-kind",
			Category:    "Assets:",
			Sources:     cli.EnvVars("RISUGIT_ASSET_STORE_KIND"),
			Destination: &cfg.AssetStoreKind,
			Value:       cfg.AssetStoreKind,
			Usage:       "Local asset storage (" + strings.Join(registryblob.Names(), "|") + ")",
		},
		&cli.StringFlag{
			Name:        "asset-dir",
			Category:    "Assets:",
			Sources:     cli.EnvVars("RISUGIT_ASSET_DIR"),
			Destination: &cfg.AssetDir,
			Usage:       "Local asset directory; defaults to \"assets\" next to the data dir",
		},
		&cli.StringFlag{
			Name:        "asset-cache-kind",
			Category:    "Assets:",
			Sources:     cli.EnvVars("RISUGIT_ASSET_CACHE_KIND"),
			Destination: &cfg.AssetCacheKind,
			Value:       cfg.AssetCacheKind,
			Usage:       "Existence cache for pushed assets (" + strings.Join(registrycache.Names(), "|") + ")",
		},
		&cli.Int64Flag{
			Name:        "asset-cache-size",
			Category:    "Assets:",
			Destination: &cfg.AssetCacheSize,
			Value:       cfg.AssetCacheSize,
			Usage:       "Entries kept by the memory existence cache",
		},
		&cli.StringFlag{
			Name:        "redis-url",
			Category:    "Assets:",
			Sources:     cli.EnvVars("RISUGIT_REDIS_URL"),
			Destination: &cfg.RedisURL,
			Usage:       "Redis URL for the redis existence cache",
		},
		&cli.StringFlag{
			Name:        "s3-bucket",
			Category:    "Assets:",
			Sources:     cli.EnvVars("RISUGIT_S3_BUCKET"),
			Destination: &cfg.S3Bucket,
			Usage:       "S3 bucket for the s3 store, locally or on the server",
		},
		&cli.BoolFlag{
			Name:        "s3-use-path-style",
			Category:    "Assets:",
			Sources:     cli.EnvVars("RISUGIT_S3_USE_PATH_STYLE"),
			Destination: &cfg.S3UsePathStyle,
			Usage:       "Use path-style S3 addressing (MinIO, LocalStack)",
		},

		// ── Logging ───────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "log-level",
			Category:    "Logging:",
			Sources:     cli.EnvVars("RISUGIT_LOG_LEVEL"),
			Destination: &s.LogLevel,
			Value:       s.LogLevel,
			Usage:       "debug|info|warn|error",
		},
	}
}
