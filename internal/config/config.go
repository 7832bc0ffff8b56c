// Package config provides the configuration structure for fips-installer,
// matching the schema of /etc/fips-installer/config.yaml.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cloudflared-fips/fips-installer/internal/gateway"
	"github.com/cloudflared-fips/fips-installer/internal/history"
	"github.com/cloudflared-fips/fips-installer/internal/ipc"
	"github.com/cloudflared-fips/fips-installer/internal/opensslconf"
)

// DefaultPath is where the daemon looks for its config file.
const DefaultPath = "/etc/fips-installer/config.yaml"

// Wait strategies for the module artifact.
const (
	WaitTimer = "timer"
	WaitWatch = "watch"
)

// Config represents the full fips-installer configuration file.
type Config struct {
	// Supported FIPS provider versions. The first entry is the canonical
	// version reported when the enabled profile is not recorded.
	Profiles []string `yaml:"profiles"`

	OpenSSLConfig string `yaml:"openssl-config"`
	ModuleConfig  string `yaml:"module-config"`

	Service ServiceConfig `yaml:"service"`

	PollInterval Duration `yaml:"poll-interval"`
	WaitStrategy string   `yaml:"wait-strategy"` // "timer" or "watch"

	SocketPath  string `yaml:"socket"`
	HistoryPath string `yaml:"history-db"` // empty disables the journal

	LogFile string `yaml:"logfile,omitempty"`
}

// ServiceConfig names the unit that regenerates the module artifact.
type ServiceConfig struct {
	Unit      string `yaml:"unit"`
	JobMode string `yaml:"job-mode,omitempty"`
}

// Duration is a time.Duration that reads and writes as "2s" in YAML.
type Duration time.Duration

// UnmarshalYAML parses a Go duration string.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalYAML renders the duration as a string.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// NewDefaultConfig returns a Config populated with the host defaults.
func NewDefaultConfig() *Config {
	return &Config{
		Profiles:      []string{"3.0.9"},
		OpenSSLConfig: opensslconf.DefaultConfigPath,
		ModuleConfig:  opensslconf.DefaultArtifactPath,
		Service: ServiceConfig{
			Unit:    gateway.DefaultUnit,
			JobMode: gateway.DefaultJobMode,
		},
		PollInterval: Duration(2 * time.Second),
		WaitStrategy: WaitTimer,
		SocketPath:   ipc.DefaultSocketPath,
		HistoryPath:  history.DefaultPath,
	}
}

// Load reads path over the defaults. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := NewDefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes cfg as YAML.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}
