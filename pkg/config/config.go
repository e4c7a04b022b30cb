// Package config loads the TOML server configuration file.
package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// Config is the top-level configuration file shape.
type Config struct {
	Server ServerConfig `toml:"server"`
}

// ServerConfig holds everything needed to stand up one proxy.
type ServerConfig struct {
	ControlPort     int      `toml:"control_port"`
	ProxyPort       int      `toml:"proxy_port"`
	BackendURL      string   `toml:"backend_url"`
	IncludePaths    []string `toml:"include_paths"`
	ExcludePaths    []string `toml:"exclude_paths"`
	WebsocketEnabled *bool   `toml:"websocket_enabled"`
	ForwardGetOnly  bool     `toml:"forward_get_only"`
	ControlAuth     string   `toml:"control_auth"`
}

const (
	defaultControlPort = 17809
	defaultProxyPort   = 3000
	defaultBackendURL  = "http://localhost:8080"
)

// Load reads and parses filename, applying defaults for any field the
// file leaves unset.
func Load(filename string) (Config, error) {
	var cfg Config
	raw, err := os.ReadFile(filename)
	if err != nil {
		return cfg, fmt.Errorf("config: reading %s: %w", filename, err)
	}
	if err := toml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parsing %s: %w", filename, err)
	}
	cfg.Server.applyDefaults()
	return cfg, nil
}

func (s *ServerConfig) applyDefaults() {
	if s.ControlPort == 0 {
		s.ControlPort = defaultControlPort
	}
	if s.ProxyPort == 0 {
		s.ProxyPort = defaultProxyPort
	}
	if s.BackendURL == "" {
		s.BackendURL = defaultBackendURL
	}
	if s.WebsocketEnabled == nil {
		enabled := true
		s.WebsocketEnabled = &enabled
	}
}

// WebsocketEnabledOrDefault reports whether upgrade tunneling is
// enabled, treating an unset file value as enabled.
func (s ServerConfig) WebsocketEnabledOrDefault() bool {
	if s.WebsocketEnabled == nil {
		return true
	}
	return *s.WebsocketEnabled
}
