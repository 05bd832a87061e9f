// Package config loads and persists the daemon configuration.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"
)

const (
	// AppDirectoryName is the per-user application data directory name.
	AppDirectoryName = "mirage"
	// DefaultDiscoveryPort is the mDNS discovery port.
	DefaultDiscoveryPort = 5353
	// DefaultControlPort carries session control traffic between hosts.
	DefaultControlPort = 8443
	// DefaultEdgeThreshold is the screen-edge proximity threshold in pixels.
	DefaultEdgeThreshold = 10
	// configFileName is the persisted configuration file.
	configFileName = "config.toml"
)

// Config is the full persisted daemon configuration.
type Config struct {
	Host      HostConfig      `toml:"host"`
	Network   NetworkConfig   `toml:"network"`
	Streaming StreamingConfig `toml:"streaming"`
	Security  SecurityConfig  `toml:"security"`
	Input     InputConfig     `toml:"input"`
	Topology  TopologyConfig  `toml:"topology"`
}

// HostConfig identifies this node and its edge-detection tunable.
type HostConfig struct {
	// Name overrides the advertised node name; hostname when empty.
	Name string `toml:"name"`
	// NodeID is the stable node identity, materialized on first run so
	// discovery behaves deterministically across restarts.
	NodeID               string `toml:"node_id"`
	DisplayEdgeThreshold uint   `toml:"display_edge_threshold"`
}

// NetworkConfig holds discovery and control endpoints.
type NetworkConfig struct {
	DiscoveryPort  int      `toml:"discovery_port"`
	ControlPort    int      `toml:"control_port"`
	AllowedSubnets []string `toml:"allowed_subnets"`
}

// StreamingConfig is consumed by the external stream engine.
type StreamingConfig struct {
	MaxFPS         int    `toml:"max_fps"`
	Codec          string `toml:"codec"`
	BitrateMbps    int    `toml:"bitrate_mbps"`
	HardwareEncode bool   `toml:"hardware_encode"`
}

// SecurityConfig holds pairing and session-lifetime settings.
type SecurityConfig struct {
	RequirePairing        bool   `toml:"require_pairing"`
	SessionTimeoutMinutes int    `toml:"session_timeout_minutes"`
	CertPath              string `toml:"cert_path"`
	KeyPath               string `toml:"key_path"`
}

// TopologyConfig binds screen edges to peer node IDs. An edge crossing
// only proposes an ownership transfer when its edge is bound; there is no
// guessed default target.
type TopologyConfig struct {
	Left   string `toml:"left"`
	Right  string `toml:"right"`
	Top    string `toml:"top"`
	Bottom string `toml:"bottom"`
}

// InputConfig tunes pointer capture behavior.
type InputConfig struct {
	MouseAcceleration     float64 `toml:"mouse_acceleration"`
	EnableSmoothScroll    bool    `toml:"enable_smooth_scroll"`
	EdgeActivationDelayMs int     `toml:"edge_activation_delay_ms"`
}

// Default returns the configuration materialized when no file exists yet.
// NodeID and Name are filled by normalizeDefaults.
func Default() *Config {
	return &Config{
		Host: HostConfig{
			DisplayEdgeThreshold: DefaultEdgeThreshold,
		},
		Network: NetworkConfig{
			DiscoveryPort:  DefaultDiscoveryPort,
			ControlPort:    DefaultControlPort,
			AllowedSubnets: []string{"192.168.0.0/16", "10.0.0.0/8"},
		},
		Streaming: StreamingConfig{
			MaxFPS:         60,
			Codec:          "h264",
			BitrateMbps:    10,
			HardwareEncode: true,
		},
		Security: SecurityConfig{
			RequirePairing:        true,
			SessionTimeoutMinutes: 60,
		},
		Input: InputConfig{
			MouseAcceleration:     1.0,
			EnableSmoothScroll:    true,
			EdgeActivationDelayMs: 100,
		},
	}
}

// ResolveDataDir returns the OS-aware app data directory.
//
// If MIRAGE_DATA_DIR is set, its value is used as an explicit override.
func ResolveDataDir() (string, error) {
	if override := os.Getenv("MIRAGE_DATA_DIR"); override != "" {
		return override, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve user home: %w", err)
	}

	switch runtime.GOOS {
	case "windows":
		base := os.Getenv("APPDATA")
		if base == "" {
			base = filepath.Join(home, "AppData", "Roaming")
		}
		return filepath.Join(base, AppDirectoryName), nil
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", AppDirectoryName), nil
	default:
		base := os.Getenv("XDG_CONFIG_HOME")
		if base == "" {
			base = filepath.Join(home, ".config")
		}
		return filepath.Join(base, AppDirectoryName), nil
	}
}

// ConfigPath returns the full path to config.toml for a data directory.
func ConfigPath(dataDir string) string {
	return filepath.Join(dataDir, configFileName)
}

// EnsureDataDirectories creates the app data directory layout if needed.
func EnsureDataDirectories(dataDir string) error {
	dirs := []string{
		dataDir,
		filepath.Join(dataDir, "keys"),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}

	return nil
}

// Load reads and parses config.toml from disk.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := toml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return &cfg, nil
}

// Save marshals and writes config.toml to disk.
func Save(path string, cfg *Config) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	encodeErr := toml.NewEncoder(f).Encode(cfg)
	closeErr := f.Close()
	if encodeErr != nil {
		return fmt.Errorf("marshal config: %w", encodeErr)
	}
	if closeErr != nil {
		return fmt.Errorf("write config: %w", closeErr)
	}

	return nil
}

// LoadOrCreate ensures directories and config exist, then returns both the
// parsed configuration and its path. A parse failure on an existing file is
// returned to the caller and is fatal at startup.
func LoadOrCreate() (*Config, string, error) {
	dataDir, err := ResolveDataDir()
	if err != nil {
		return nil, "", err
	}
	return LoadOrCreateAt(dataDir)
}

// LoadOrCreateAt is LoadOrCreate with an explicit data directory.
func LoadOrCreateAt(dataDir string) (*Config, string, error) {
	if err := EnsureDataDirectories(dataDir); err != nil {
		return nil, "", err
	}

	cfgPath := ConfigPath(dataDir)
	cfg, err := Load(cfgPath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, "", err
		}

		cfg = Default()
		normalizeDefaults(cfg)
		if err := Save(cfgPath, cfg); err != nil {
			return nil, "", err
		}

		return cfg, cfgPath, nil
	}

	if normalizeDefaults(cfg) {
		if err := Save(cfgPath, cfg); err != nil {
			return nil, "", err
		}
	}

	return cfg, cfgPath, nil
}

// normalizeDefaults fills missing values on a loaded config and reports
// whether anything changed and needs to be persisted.
func normalizeDefaults(cfg *Config) bool {
	updated := false

	if cfg.Host.NodeID == "" {
		cfg.Host.NodeID = uuid.NewString()
		updated = true
	}
	if cfg.Host.Name == "" {
		name := "mirage-host"
		if host, err := os.Hostname(); err == nil && host != "" {
			name = host
		}
		cfg.Host.Name = name
		updated = true
	}
	if cfg.Network.DiscoveryPort == 0 {
		cfg.Network.DiscoveryPort = DefaultDiscoveryPort
		updated = true
	}
	if cfg.Network.ControlPort == 0 {
		cfg.Network.ControlPort = DefaultControlPort
		updated = true
	}
	if len(cfg.Network.AllowedSubnets) == 0 {
		cfg.Network.AllowedSubnets = []string{"192.168.0.0/16", "10.0.0.0/8"}
		updated = true
	}
	if cfg.Streaming.MaxFPS == 0 {
		cfg.Streaming.MaxFPS = 60
		updated = true
	}
	if cfg.Streaming.Codec == "" {
		cfg.Streaming.Codec = "h264"
		updated = true
	}
	if cfg.Streaming.BitrateMbps == 0 {
		cfg.Streaming.BitrateMbps = 10
		updated = true
	}
	if cfg.Security.SessionTimeoutMinutes == 0 {
		cfg.Security.SessionTimeoutMinutes = 60
		updated = true
	}
	if cfg.Input.MouseAcceleration == 0 {
		cfg.Input.MouseAcceleration = 1.0
		updated = true
	}

	return updated
}

// Validate rejects configurations the daemon cannot run with.
func (c *Config) Validate() error {
	if c.Host.NodeID == "" {
		return errors.New("host.node_id is required")
	}
	if c.Network.DiscoveryPort < 1 || c.Network.DiscoveryPort > 65535 {
		return fmt.Errorf("network.discovery_port %d out of range", c.Network.DiscoveryPort)
	}
	if c.Network.ControlPort < 1 || c.Network.ControlPort > 65535 {
		return fmt.Errorf("network.control_port %d out of range", c.Network.ControlPort)
	}
	if _, err := c.ParsedSubnets(); err != nil {
		return err
	}
	if c.Streaming.MaxFPS <= 0 {
		return fmt.Errorf("streaming.max_fps must be positive, got %d", c.Streaming.MaxFPS)
	}
	if c.Streaming.BitrateMbps <= 0 {
		return fmt.Errorf("streaming.bitrate_mbps must be positive, got %d", c.Streaming.BitrateMbps)
	}
	if c.Security.SessionTimeoutMinutes <= 0 {
		return fmt.Errorf("security.session_timeout_minutes must be positive, got %d", c.Security.SessionTimeoutMinutes)
	}
	if c.Input.MouseAcceleration <= 0 {
		return fmt.Errorf("input.mouse_acceleration must be positive, got %g", c.Input.MouseAcceleration)
	}
	if c.Input.EdgeActivationDelayMs < 0 {
		return fmt.Errorf("input.edge_activation_delay_ms must not be negative, got %d", c.Input.EdgeActivationDelayMs)
	}
	return nil
}

// ParsedSubnets parses network.allowed_subnets into CIDR ranges.
func (c *Config) ParsedSubnets() ([]*net.IPNet, error) {
	out := make([]*net.IPNet, 0, len(c.Network.AllowedSubnets))
	for _, raw := range c.Network.AllowedSubnets {
		_, subnet, err := net.ParseCIDR(raw)
		if err != nil {
			return nil, fmt.Errorf("parse network.allowed_subnets entry %q: %w", raw, err)
		}
		out = append(out, subnet)
	}
	return out, nil
}

// SessionTimeout returns the idle-session timeout as a duration.
func (c *Config) SessionTimeout() time.Duration {
	return time.Duration(c.Security.SessionTimeoutMinutes) * time.Minute
}

// EdgeActivationDelay returns the edge debounce window as a duration.
func (c *Config) EdgeActivationDelay() time.Duration {
	return time.Duration(c.Input.EdgeActivationDelayMs) * time.Millisecond
}
