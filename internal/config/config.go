// Package config loads the runtime configuration of policygate.
//
// The configuration is a flat JSON object. A file with a .toml extension is
// decoded as TOML using the same keys.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// NAT backends understood by the bootstrap controller.
const (
	NATBackendIPTables = "iptables"
	NATBackendNFTables = "nftables"
)

// Defaults applied to keys missing from the config file.
const (
	DefaultConfigFile       = "config.json"
	DefaultDeviceFile       = "devices.json"
	DefaultVPNTableID       = "100"
	DefaultLocalNetwork     = "192.168.178.0/24"
	DefaultPrivilegeCommand = "sudo"
)

var (
	// DefaultInterfacePrefixes select tunnel-protocol interfaces (OpenVPN tun devices).
	DefaultInterfacePrefixes = []string{"tun"}

	// DefaultFallbackInterfacePrefixes are tried when no primary prefix matches.
	DefaultFallbackInterfacePrefixes = []string{"wg"}
)

// hostOS is the operating system dry-run forcing is decided on. Tests
// override it.
var hostOS = runtime.GOOS

// Config is the runtime configuration. It is loaded once at startup and not
// modified afterwards.
type Config struct {
	// DeviceFile is the path of the device registry. A relative path is
	// resolved against the directory of the config file.
	DeviceFile string `json:"device_file" toml:"device_file"`

	// VPNTableID is the routing table VPN-routed devices are sent to.
	VPNTableID string `json:"vpn_table_id" toml:"vpn_table_id"`

	// LocalNetwork is the LAN in CIDR notation that Secure devices are
	// blocked from reaching.
	LocalNetwork string `json:"local_network" toml:"local_network"`

	// DryRun logs privileged commands instead of running them. It is
	// always true on hosts other than Linux.
	DryRun bool `json:"dry_run" toml:"dry_run"`

	// PrivilegeCommand is prepended to every system command. An explicit
	// empty string runs commands directly (e.g. when already root).
	PrivilegeCommand *string `json:"privilege_command,omitempty" toml:"privilege_command,omitempty"`

	// InterfacePrefixes are the name prefixes of the VPN tunnel interface.
	InterfacePrefixes []string `json:"interface_prefixes,omitempty" toml:"interface_prefixes,omitempty"`

	// FallbackInterfacePrefixes are tried when no InterfacePrefixes match.
	FallbackInterfacePrefixes []string `json:"fallback_interface_prefixes,omitempty" toml:"fallback_interface_prefixes,omitempty"`

	// NATBackend selects how the masquerade rule is installed: "iptables"
	// (default) or "nftables".
	NATBackend string `json:"nat_backend,omitempty" toml:"nat_backend,omitempty"`
}

// DefaultConfig returns a Config populated with defaults.
func DefaultConfig() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// LoadConfig reads and decodes the config file at path. If the file does not
// exist, the returned error wraps fs.ErrNotExist. Callers that want to keep
// running on a broken config fall back to DefaultConfig.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config file not found: %w", err)
		}
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	cfg := &Config{}
	if isTOML(path) {
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("decoding config file %s: %w", path, err)
		}
	} else {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("decoding config file %s: %w", path, err)
		}
	}

	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

// SaveConfig writes cfg to path, as TOML for a .toml path and as indented
// JSON otherwise. Parent directories are created if they don't exist.
func SaveConfig(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	data, err := Marshal(cfg, isTOML(path))
	if err != nil {
		return err
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file %s: %w", path, err)
	}
	return nil
}

// Marshal encodes cfg as TOML or as 4-space indented JSON.
func Marshal(cfg *Config, asTOML bool) ([]byte, error) {
	var buf bytes.Buffer
	if asTOML {
		if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
			return nil, fmt.Errorf("encoding config: %w", err)
		}
		return buf.Bytes(), nil
	}

	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "    ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(cfg); err != nil {
		return nil, fmt.Errorf("encoding config: %w", err)
	}
	return buf.Bytes(), nil
}

// Validate checks the values that are interpolated into system commands.
func (c *Config) Validate() error {
	if _, err := c.TableID(); err != nil {
		return err
	}
	ip, _, err := net.ParseCIDR(c.LocalNetwork)
	if err != nil {
		return fmt.Errorf("invalid local_network %q: %w", c.LocalNetwork, err)
	}
	if ip.To4() == nil {
		return fmt.Errorf("local_network %q is not an IPv4 network", c.LocalNetwork)
	}
	switch c.NATBackend {
	case NATBackendIPTables, NATBackendNFTables:
	default:
		return fmt.Errorf("unknown nat_backend %q (expected %q or %q)",
			c.NATBackend, NATBackendIPTables, NATBackendNFTables)
	}
	return nil
}

// TableID returns the VPN routing table as a number.
func (c *Config) TableID() (int, error) {
	id, err := strconv.ParseUint(c.VPNTableID, 10, 32)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid vpn_table_id %q", c.VPNTableID)
	}
	return int(id), nil
}

// Privilege returns the privilege escalation argv prefix, which is empty
// when commands should run directly.
func (c *Config) Privilege() []string {
	if c.PrivilegeCommand == nil {
		return []string{DefaultPrivilegeCommand}
	}
	return strings.Fields(*c.PrivilegeCommand)
}

// ResolveDeviceFile returns DeviceFile, made absolute relative to the
// directory containing configPath when it is relative.
func (c *Config) ResolveDeviceFile(configPath string) string {
	if filepath.IsAbs(c.DeviceFile) {
		return c.DeviceFile
	}
	return filepath.Join(filepath.Dir(configPath), c.DeviceFile)
}

// applyDefaults fills in default values for fields that are zero-valued
// after decoding, and forces dry-run on hosts other than Linux.
func applyDefaults(cfg *Config) {
	if cfg.DeviceFile == "" {
		cfg.DeviceFile = DefaultDeviceFile
	}
	if cfg.VPNTableID == "" {
		cfg.VPNTableID = DefaultVPNTableID
	}
	if cfg.LocalNetwork == "" {
		cfg.LocalNetwork = DefaultLocalNetwork
	}
	if len(cfg.InterfacePrefixes) == 0 {
		cfg.InterfacePrefixes = append([]string(nil), DefaultInterfacePrefixes...)
	}
	if len(cfg.FallbackInterfacePrefixes) == 0 {
		cfg.FallbackInterfacePrefixes = append([]string(nil), DefaultFallbackInterfacePrefixes...)
	}
	if cfg.NATBackend == "" {
		cfg.NATBackend = NATBackendIPTables
	}
	if hostOS != "linux" {
		cfg.DryRun = true
	}
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}
