package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/rhplus0831/risugit/internal/syncerr"
)

// OptionPrefix namespaces risugit entries in the host's plugin arguments.
const OptionPrefix = "RisuGit::"

// Options is the host's plugin argument store: string values keyed by
// "RisuGit::<name>".
type Options map[string]string

// LoadOptions reads an options file. A missing file yields empty Options.
func LoadOptions(path string) (Options, error) {
	if path == "" {
		return Options{}, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Options{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: read options: %w", err)
	}
	raw := map[string]any{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, syncerr.Config(fmt.Sprintf("options file %s is not a JSON object: %v", path, err))
	}
	opts := make(Options, len(raw))
	for k, v := range raw {
		switch v := v.(type) {
		case string:
			opts[k] = v
		case nil:
		default:
			opts[k] = fmt.Sprint(v)
		}
	}
	return opts, nil
}

// Get returns the value of option name, or "".
func (o Options) Get(name string) string {
	return o[OptionPrefix+name]
}

// Set stores value under option name.
func (o Options) Set(name, value string) {
	o[OptionPrefix+name] = value
}

// Bool parses option name as "1" or "true" (any case). Empty yields def.
func (o Options) Bool(name string, def bool) bool {
	v := strings.TrimSpace(o.Get(name))
	if v == "" {
		return def
	}
	return v == "1" || strings.EqualFold(v, "true")
}

// Int parses option name as a decimal integer. Empty yields def.
func (o Options) Int(name string, def int) (int, error) {
	v := strings.TrimSpace(o.Get(name))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, syncerr.Config(fmt.Sprintf("option %s%s: %q is not a number", OptionPrefix, name, v))
	}
	return n, nil
}

func trimURL(s string) string {
	return strings.TrimSuffix(strings.TrimSpace(s), "/")
}

type stringOption struct {
	name, flag string
	dest       *string
	url        bool
}

type boolOption struct {
	name, flag string
	dest       *bool
}

// ApplyOptions overlays option values onto c. Options whose CLI flag was set
// explicitly (flagSet reports true) are left alone; flagSet may be nil.
func (c *Config) ApplyOptions(opts Options, flagSet func(flag string) bool) error {
	explicit := func(flag string) bool { return flagSet != nil && flag != "" && flagSet(flag) }

	for _, o := range []stringOption{
		{name: "encrypt_key", flag: "passphrase", dest: &c.Passphrase},
		{name: "git_url", flag: "git-url", dest: &c.GitURL, url: true},
		{name: "git_id", flag: "git-user", dest: &c.GitUsername},
		{name: "git_password", flag: "git-password", dest: &c.GitPassword},
		{name: "git_proxy", flag: "git-proxy", dest: &c.GitProxy, url: true},
		{name: "git_branch", flag: "branch", dest: &c.Branch},
		{name: "git_client_name", flag: "client-name", dest: &c.ClientName},
		{name: "git_asset_server", flag: "asset-server", dest: &c.AssetServer, url: true},
	} {
		v := opts.Get(o.name)
		if v == "" || explicit(o.flag) {
			continue
		}
		if o.url {
			v = trimURL(v)
		}
		*o.dest = v
	}

	for _, o := range []boolOption{
		{name: "git_on_request_save_chat", flag: "save-chat-on-request", dest: &c.SaveChatOnRequest},
		{name: "git_setting_close_save_other", flag: "save-other-on-setting-close", dest: &c.SaveOtherOnSettingClose},
		{name: "git_automatic_push", flag: "automatic-push", dest: &c.AutomaticPush},
		{name: "git_bootstrap_pull", flag: "bootstrap-pull", dest: &c.BootstrapPull},
		{name: "git_bootstrap_save_push_character", flag: "bootstrap-save-character", dest: &c.BootstrapSaveCharacter},
		{name: "git_bootstrap_save_push_other", flag: "bootstrap-save-other", dest: &c.BootstrapSaveOther},
		{name: "git_bootstrap_push_asset", flag: "bootstrap-push-assets", dest: &c.BootstrapPushAssets},
	} {
		if explicit(o.flag) {
			continue
		}
		*o.dest = opts.Bool(o.name, *o.dest)
	}

	if !explicit("asset-max-connections") {
		n, err := opts.Int("git_asset_server_max_connection", c.AssetMaxConnections)
		if err != nil {
			return err
		}
		c.AssetMaxConnections = n
	}
	if c.AssetMaxConnections <= 0 {
		return syncerr.Config("asset server connection count must be positive")
	}
	c.GitURL = trimURL(c.GitURL)
	c.AssetServer = trimURL(c.AssetServer)
	return nil
}
