package config

import (
	"fmt"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/cloudflared-fips/fips-installer/internal/gateway"
)

var profileRe = regexp.MustCompile(`^[0-9]+(\.[0-9]+)*([-+][0-9A-Za-z.-]+)?$`)

// MaxPollInterval bounds the enable wait so a request cannot hang for long.
const MaxPollInterval = 5 * time.Minute

// Validate checks the whole config.
func (c *Config) Validate() error {
	if err := ValidateProfiles(c.Profiles); err != nil {
		return err
	}
	if err := ValidateAbsPath(c.OpenSSLConfig); err != nil {
		return fmt.Errorf("openssl-config: %w", err)
	}
	if err := ValidateAbsPath(c.ModuleConfig); err != nil {
		return fmt.Errorf("module-config: %w", err)
	}
	if filepath.Clean(c.OpenSSLConfig) == filepath.Clean(c.ModuleConfig) {
		return fmt.Errorf("openssl-config and module-config must differ")
	}
	if strings.TrimSpace(c.Service.Unit) == "" {
		return fmt.Errorf("service.unit is required")
	}
	if !slices.Contains(gateway.JobModes, c.Service.JobMode) {
		return fmt.Errorf("service.job-mode must be one of %v", gateway.JobModes)
	}
	if c.PollInterval <= 0 || time.Duration(c.PollInterval) > MaxPollInterval {
		return fmt.Errorf("poll-interval must be between 0 and %s", MaxPollInterval)
	}
	switch c.WaitStrategy {
	case WaitTimer, WaitWatch:
	default:
		return fmt.Errorf("wait-strategy must be %q or %q", WaitTimer, WaitWatch)
	}
	if err := ValidateAbsPath(c.SocketPath); err != nil {
		return fmt.Errorf("socket: %w", err)
	}
	return nil
}

// ValidateProfiles checks that at least one profile is given, each looks
// like a version and none repeats.
func ValidateProfiles(profiles []string) error {
	if len(profiles) == 0 {
		return fmt.Errorf("at least one profile is required")
	}
	seen := make(map[string]bool, len(profiles))
	for _, p := range profiles {
		if !profileRe.MatchString(p) {
			return fmt.Errorf("invalid profile version %q", p)
		}
		if seen[p] {
			return fmt.Errorf("duplicate profile %q", p)
		}
		seen[p] = true
	}
	return nil
}

// ValidateAbsPath checks that path is non-empty and absolute.
func ValidateAbsPath(path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return fmt.Errorf("path is required")
	}
	if !filepath.IsAbs(path) {
		return fmt.Errorf("path must be absolute: %s", path)
	}
	return nil
}
