package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

type NodeConfig struct {
	Name        string         `toml:"name"`
	Listen      string         `toml:"listen"`
	AdminAddr   string         `toml:"admin_addr"`
	AdminToken  string         `toml:"admin_token"`
	CorsOrigins []string       `toml:"cors_origins"`
	OutDir      string         `toml:"out_dir"`
	Mode        string         `toml:"mode"`
	Security    SecurityConfig `toml:"security"`
	Peers       []PeerEntry    `toml:"peers"`
}

type SecurityConfig struct {
	Mode               string `toml:"mode"`
	TLS                bool   `toml:"tls"`
	Mutual             bool   `toml:"mutual"`
	CertFile           string `toml:"cert_file"`
	KeyFile            string `toml:"key_file"`
	CAFile             string `toml:"ca_file"`
	ServerName         string `toml:"server_name"`
	InsecureSkipVerify bool   `toml:"insecure_skip_verify"`
}

// PeerEntry names a remote node that binlinkctl send can address by name.
type PeerEntry struct {
	Name  string `toml:"name"`
	Addr  string `toml:"addr"`
	Group string `toml:"group"`
}

func LoadNodeConfig(path string) (NodeConfig, error) {
	var cfg NodeConfig
	if err := loadToml(path, &cfg); err != nil {
		return NodeConfig{}, err
	}
	if cfg.Name == "" {
		cfg.Name = "binlink"
	}
	if cfg.Listen == "" {
		cfg.Listen = ":7400"
	}
	if cfg.OutDir == "" {
		cfg.OutDir = "received"
	}
	if cfg.Mode == "" {
		cfg.Mode = "tcp"
	}
	if err := ValidateNodeConfig(cfg); err != nil {
		return NodeConfig{}, err
	}
	return cfg, nil
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func ValidateNodeConfig(cfg NodeConfig) error {
	if strings.TrimSpace(cfg.Name) == "" {
		return fmt.Errorf("node config missing name")
	}
	if strings.TrimSpace(cfg.Listen) == "" {
		return fmt.Errorf("node config missing listen")
	}
	if strings.TrimSpace(cfg.OutDir) == "" {
		return fmt.Errorf("node config missing out_dir")
	}
	if strings.TrimSpace(cfg.AdminAddr) != "" &&
		strings.TrimSpace(cfg.AdminAddr) == strings.TrimSpace(cfg.Listen) {
		return fmt.Errorf("node config admin_addr must differ from listen")
	}
	seen := make(map[string]bool, len(cfg.Peers))
	for i, p := range cfg.Peers {
		if err := ValidatePeerEntry(p); err != nil {
			return fmt.Errorf("peer[%d] invalid: %w", i, err)
		}
		if seen[p.Name] {
			return fmt.Errorf("peer[%d] invalid: duplicate name %q", i, p.Name)
		}
		seen[p.Name] = true
	}
	return nil
}

func ValidatePeerEntry(p PeerEntry) error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if strings.TrimSpace(p.Addr) == "" {
		return fmt.Errorf("addr is required")
	}
	if strings.HasPrefix(strings.TrimSpace(p.Addr), ":") {
		return fmt.Errorf("addr needs a host")
	}
	return nil
}

// LookupPeer returns the configured peer called name.
func (c NodeConfig) LookupPeer(name string) (PeerEntry, bool) {
	for _, p := range c.Peers {
		if p.Name == name {
			return p, true
		}
	}
	return PeerEntry{}, false
}
