package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// defaultConfigYAML is marshaled fresh each call (rather than kept as a
// literal string) so its shape always matches internal/config.Config's
// mapstructure tags.
type defaultConfigYAML struct {
	Node struct {
		DataDir             string `yaml:"data_dir"`
		ListenAddr          string `yaml:"listen_addr"`
		HTTPAddr            string `yaml:"http_addr"`
		TokenValiditySecond uint32 `yaml:"token_validity_seconds"`
	} `yaml:"node"`
	Prune struct {
		Streams []any  `yaml:"streams"`
		Tick    string `yaml:"tick"`
	} `yaml:"prune"`
	BootstrapPeers []string `yaml:"bootstrap_peers"`
}

// scaffoldConfig writes a fresh config.yaml under dir, refusing to
// overwrite an existing one.
func scaffoldConfig(dir string) error {
	path := filepath.Join(dir, "config.yaml")
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("banyanode: %s already exists", path)
	} else if !os.IsNotExist(err) {
		return err
	}

	var cfg defaultConfigYAML
	cfg.Node.DataDir = "./data"
	cfg.Node.ListenAddr = "/ip4/0.0.0.0/tcp/4001"
	cfg.Node.HTTPAddr = ":4454"
	cfg.Node.TokenValiditySecond = uint32(24 * time.Hour / time.Second)
	cfg.Prune.Tick = "5m"
	cfg.BootstrapPeers = nil

	out, err := yaml.Marshal(&cfg)
	if err != nil {
		return fmt.Errorf("banyanode: marshaling default config: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, out, 0o644)
}
