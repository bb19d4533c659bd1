// Package config loads and validates FIshare's on-disk configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fishare/fishare/internal/discovery"
)

// DefaultListenPort is the TCP port FIshare listens on for incoming
// transfers when config.json does not override it.
const DefaultListenPort = 49222

// fileName is the name of the config file inside a device's data directory.
const fileName = "config.json"

// Config is the persistent configuration loaded from
// <data_dir>/config.json, exactly per spec.md §6.
type Config struct {
	DeviceName    string `json:"device_name"`
	DownloadDir   string `json:"download_dir"`
	AllowIncoming bool   `json:"allow_incoming"`
	ListenPort    int    `json:"listen_port"`
	DiscoveryPort int    `json:"discovery_port"`
	// RateLimitBytesPerSec caps the rate at which transfer connections
	// are read; 0 means unlimited (spec.md §2 promises no throughput
	// guarantee either way, so capping it is an operator opt-in, not a
	// default). Writes are not throttled, so it caps what this device
	// receives, not the file data it sends.
	RateLimitBytesPerSec int64 `json:"rate_limit_bytes_per_sec"`
}

// Default returns a Config filled with FIshare's defaults. DeviceName is
// left empty; callers should fill it via DeviceNameFromEnv before
// persisting a freshly created config.
func Default() Config {
	return Config{
		DownloadDir:   "downloads",
		AllowIncoming: true,
		ListenPort:    DefaultListenPort,
		DiscoveryPort: discovery.DefaultDiscoveryPort,
	}
}

// Load reads <dataDir>/config.json. If the file does not exist, it
// creates one from Default() (with DeviceName resolved from the
// environment) and persists it so subsequent runs see a stable identity.
func Load(dataDir string) (Config, error) {
	path := filepath.Join(dataDir, fileName)

	data, err := os.ReadFile(path)
	if err == nil {
		var cfg Config
		if err := json.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
		applyDefaults(&cfg)
		if err := cfg.Validate(); err != nil {
			return Config{}, fmt.Errorf("config: %s: %w", path, err)
		}
		return cfg, nil
	}
	if !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg := Default()
	cfg.DeviceName = DeviceNameFromEnv()
	if err := cfg.Save(dataDir); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyDefaults fills zero-valued fields of a loaded config with
// FIshare's defaults, so an operator's config.json can omit fields it
// doesn't care to override.
func applyDefaults(cfg *Config) {
	def := Default()
	if cfg.DownloadDir == "" {
		cfg.DownloadDir = def.DownloadDir
	}
	if cfg.ListenPort == 0 {
		cfg.ListenPort = def.ListenPort
	}
	if cfg.DiscoveryPort == 0 {
		cfg.DiscoveryPort = def.DiscoveryPort
	}
	if cfg.DeviceName == "" {
		cfg.DeviceName = DeviceNameFromEnv()
	}
}

// Save atomically writes cfg to <dataDir>/config.json.
func (c Config) Save(dataDir string) error {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return fmt.Errorf("config: create data dir: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}

	path := filepath.Join(dataDir, fileName)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("config: write: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("config: persist: %w", err)
	}
	return nil
}

// maxDeviceNameLen is the spec.md §3 cap on a device's advertised name.
const maxDeviceNameLen = 32

// DeviceNameFromEnv resolves the startup device-name default: the
// FISHARE_DEVICE_NAME environment variable if set, otherwise the local
// hostname, truncated to 32 characters, per spec.md §6.
func DeviceNameFromEnv() string {
	name := os.Getenv("FISHARE_DEVICE_NAME")
	if name == "" {
		host, err := os.Hostname()
		if err == nil {
			name = host
		}
	}
	if name == "" {
		name = "fishare-device"
	}
	return truncate(name, maxDeviceNameLen)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// Validate checks cfg for internally inconsistent or out-of-range
// values, aggregating every problem found into a single error rather
// than stopping at the first one.
func (c Config) Validate() error {
	var errs []string

	if len([]rune(c.DeviceName)) > maxDeviceNameLen {
		errs = append(errs, fmt.Sprintf("device_name exceeds %d characters", maxDeviceNameLen))
	}
	if c.DownloadDir == "" {
		errs = append(errs, "download_dir is required")
	}
	if !isValidPort(c.ListenPort) {
		errs = append(errs, fmt.Sprintf("listen_port out of range: %d", c.ListenPort))
	}
	if !isValidPort(c.DiscoveryPort) {
		errs = append(errs, fmt.Sprintf("discovery_port out of range: %d", c.DiscoveryPort))
	}
	if c.ListenPort != 0 && c.ListenPort == c.DiscoveryPort {
		errs = append(errs, "listen_port and discovery_port must differ")
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func isValidPort(p int) bool {
	return p > 0 && p <= 65535
}

// ResolveDownloadDir joins a possibly-relative DownloadDir against
// dataDir, matching how LoadOrCreate-style resolvers in this module
// anchor relative paths to the device's data directory.
func (c Config) ResolveDownloadDir(dataDir string) string {
	if filepath.IsAbs(c.DownloadDir) {
		return c.DownloadDir
	}
	return filepath.Join(dataDir, c.DownloadDir)
}

// ListenAddr returns the TCP address FIshare's transfer receiver binds to.
func (c Config) ListenAddr() string {
	return fmt.Sprintf(":%d", c.ListenPort)
}
