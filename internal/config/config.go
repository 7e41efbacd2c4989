// Package config loads the node's configuration: a YAML file plus
// environment overrides via viper, the way pkg/config.Load does for the
// teacher's own node, generalized to this node's settings instead of a
// blockchain client's.
package config

import (
	"fmt"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/multiformats/go-multiaddr"
	"github.com/spf13/viper"

	"banyanswarm/pkg/utils"
)

// Config is the unified configuration for one node process.
type Config struct {
	Node struct {
		DataDir       string `mapstructure:"data_dir" json:"data_dir"`
		ListenAddr    string `mapstructure:"listen_addr" json:"listen_addr"`
		HTTPAddr      string `mapstructure:"http_addr" json:"http_addr"`
		TokenValidity uint32 `mapstructure:"token_validity_seconds" json:"token_validity_seconds"`
	} `mapstructure:"node" json:"node"`

	Prune struct {
		Streams []StreamPolicy `mapstructure:"streams" json:"streams"`
		Tick    time.Duration  `mapstructure:"tick" json:"tick"`
	} `mapstructure:"prune" json:"prune"`

	Bootstrap []string `mapstructure:"bootstrap_peers" json:"bootstrap_peers"`
}

// StreamPolicy configures one stream's retention rule (spec §4.L). Exactly
// one of Events/Age/SizeBytes should be set; which is resolved by the
// caller building a prune.Policy from it (config has no dependency on
// prune/ to keep the loader leaf-level in the package graph).
type StreamPolicy struct {
	StreamNr  uint64        `mapstructure:"stream_nr" json:"stream_nr"`
	Events    uint64        `mapstructure:"events" json:"events"`
	Age       time.Duration `mapstructure:"age" json:"age"`
	SizeBytes uint64        `mapstructure:"size_bytes" json:"size_bytes"`
}

// dataDirEnv is the override spec §6 Environment names for the data
// directory.
const dataDirEnv = "ACTYX_PATH"

// Load reads config.yaml from the given search paths (falling back to the
// current directory) and a local .env, if present, then merges in
// ACTYX_PATH as the final override for Node.DataDir.
func Load(searchPaths ...string) (*Config, error) {
	_ = godotenv.Load() // best-effort; absence of .env is not an error

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if len(searchPaths) == 0 {
		searchPaths = []string{"."}
	}
	for _, p := range searchPaths {
		v.AddConfigPath(p)
	}
	v.SetDefault("node.data_dir", "./data")
	v.SetDefault("node.listen_addr", "/ip4/0.0.0.0/tcp/4001")
	v.SetDefault("node.http_addr", ":4454")
	v.SetDefault("node.token_validity_seconds", 86400)
	v.SetDefault("prune.tick", "5m")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, utils.Wrap(err, "load config")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, utils.Wrap(err, "unmarshal config")
	}
	cfg.Node.DataDir = utils.EnvOrDefault(dataDirEnv, cfg.Node.DataDir)

	if err := cfg.validateAddrs(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// validateAddrs checks that listen_addr and every bootstrap_peers entry
// parse as multiaddrs, the way a malformed libp2p listen address would
// otherwise surface as an opaque failure deep inside libp2p.New.
func (c *Config) validateAddrs() error {
	if c.Node.ListenAddr != "" {
		if _, err := multiaddr.NewMultiaddr(c.Node.ListenAddr); err != nil {
			return fmt.Errorf("config: node.listen_addr %q: %w", c.Node.ListenAddr, err)
		}
	}
	for _, addr := range c.Bootstrap {
		if _, err := multiaddr.NewMultiaddr(addr); err != nil {
			return fmt.Errorf("config: bootstrap_peers entry %q: %w", addr, err)
		}
	}
	return nil
}

// WatchAndReload installs a fsnotify-backed watch (via viper) on the
// resolved config file and invokes onChange with the freshly reloaded
// config whenever it's edited on disk. A reload that fails to parse is
// dropped silently; onChange only ever sees a valid Config.
func WatchAndReload(searchPaths []string, onChange func(*Config)) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if len(searchPaths) == 0 {
		searchPaths = []string{"."}
	}
	for _, p := range searchPaths {
		v.AddConfigPath(p)
	}
	if err := v.ReadInConfig(); err != nil {
		return
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := Load(searchPaths...)
		if err != nil {
			return
		}
		onChange(cfg)
	})
	v.WatchConfig()
}
