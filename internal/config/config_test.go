package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// withHostOS overrides the detected operating system for one test. Tests
// that use it must not call t.Parallel().
func withHostOS(t *testing.T, goos string) {
	t.Helper()
	prev := hostOS
	hostOS = goos
	t.Cleanup(func() { hostOS = prev })
}

func TestDefaultConfig(t *testing.T) {
	withHostOS(t, "linux")

	cfg := DefaultConfig()

	if cfg.DeviceFile != "devices.json" {
		t.Errorf("DeviceFile = %q, want %q", cfg.DeviceFile, "devices.json")
	}
	if cfg.VPNTableID != "100" {
		t.Errorf("VPNTableID = %q, want %q", cfg.VPNTableID, "100")
	}
	if cfg.LocalNetwork != "192.168.178.0/24" {
		t.Errorf("LocalNetwork = %q, want %q", cfg.LocalNetwork, "192.168.178.0/24")
	}
	if cfg.DryRun {
		t.Error("default DryRun should be false on linux")
	}
	if cfg.NATBackend != NATBackendIPTables {
		t.Errorf("NATBackend = %q, want %q", cfg.NATBackend, NATBackendIPTables)
	}
	if diff := cmp.Diff([]string{"sudo"}, cfg.Privilege()); diff != "" {
		t.Errorf("Privilege() mismatch (-want +got):\n%s", diff)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config does not validate: %v", err)
	}
}

func TestDefaultConfig_forcesDryRunOffLinux(t *testing.T) {
	withHostOS(t, "darwin")

	if !DefaultConfig().DryRun {
		t.Error("DryRun should be forced on darwin")
	}
}

func TestLoadConfig_JSON(t *testing.T) {
	withHostOS(t, "linux")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	content := `{
    "device_file": "/var/lib/policygate/devices.json",
    "vpn_table_id": "200",
    "local_network": "10.1.0.0/16",
    "dry_run": true,
    "privilege_command": "",
    "nat_backend": "nftables"
}`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}

	if cfg.DeviceFile != "/var/lib/policygate/devices.json" {
		t.Errorf("DeviceFile = %q", cfg.DeviceFile)
	}
	if cfg.VPNTableID != "200" {
		t.Errorf("VPNTableID = %q, want %q", cfg.VPNTableID, "200")
	}
	if cfg.LocalNetwork != "10.1.0.0/16" {
		t.Errorf("LocalNetwork = %q, want %q", cfg.LocalNetwork, "10.1.0.0/16")
	}
	if !cfg.DryRun {
		t.Error("DryRun = false, want true")
	}
	if got := cfg.Privilege(); len(got) != 0 {
		t.Errorf("Privilege() = %v, want empty", got)
	}
	if cfg.NATBackend != NATBackendNFTables {
		t.Errorf("NATBackend = %q, want %q", cfg.NATBackend, NATBackendNFTables)
	}
	if diff := cmp.Diff(DefaultInterfacePrefixes, cfg.InterfacePrefixes); diff != "" {
		t.Errorf("InterfacePrefixes mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadConfig_TOML(t *testing.T) {
	withHostOS(t, "linux")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
vpn_table_id = "51820"
interface_prefixes = ["ovpn", "tun"]
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}

	if cfg.VPNTableID != "51820" {
		t.Errorf("VPNTableID = %q, want %q", cfg.VPNTableID, "51820")
	}
	if diff := cmp.Diff([]string{"ovpn", "tun"}, cfg.InterfacePrefixes); diff != "" {
		t.Errorf("InterfacePrefixes mismatch (-want +got):\n%s", diff)
	}
	if cfg.LocalNetwork != DefaultLocalNetwork {
		t.Errorf("LocalNetwork = %q, want default %q", cfg.LocalNetwork, DefaultLocalNetwork)
	}
}

func TestLoadConfig_fileNotFound(t *testing.T) {
	t.Parallel()

	_, err := LoadConfig("/nonexistent/path/config.json")
	if err == nil {
		t.Fatal("LoadConfig() expected error for missing file")
	}
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("expected fs.ErrNotExist, got: %v", err)
	}
}

func TestLoadConfig_invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
	}{
		{name: "malformed json", content: `{"vpn_table_id": `},
		{name: "non-numeric table", content: `{"vpn_table_id": "main"}`},
		{name: "zero table", content: `{"vpn_table_id": "0"}`},
		{name: "bad cidr", content: `{"local_network": "192.168.178.0"}`},
		{name: "ipv6 network", content: `{"local_network": "fd00::/64"}`},
		{name: "unknown nat backend", content: `{"nat_backend": "pf"}`},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			path := filepath.Join(t.TempDir(), "config.json")
			if err := os.WriteFile(path, []byte(tc.content), 0644); err != nil {
				t.Fatalf("writing config: %v", err)
			}
			if _, err := LoadConfig(path); err == nil {
				t.Errorf("LoadConfig(%s) expected error", tc.content)
			}
		})
	}
}

func TestSaveAndLoadConfig_roundTrip(t *testing.T) {
	withHostOS(t, "linux")

	for _, name := range []string{"config.json", "config.toml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "nested", name)

			doas := "doas"
			original := DefaultConfig()
			original.VPNTableID = "300"
			original.PrivilegeCommand = &doas
			original.FallbackInterfacePrefixes = []string{"wg", "ppp"}

			if err := SaveConfig(path, original); err != nil {
				t.Fatalf("SaveConfig() error: %v", err)
			}

			loaded, err := LoadConfig(path)
			if err != nil {
				t.Fatalf("LoadConfig() error: %v", err)
			}
			if diff := cmp.Diff(original, loaded); diff != "" {
				t.Errorf("round-trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestResolveDeviceFile(t *testing.T) {
	t.Parallel()

	cfg := &Config{DeviceFile: "devices.json"}
	if got := cfg.ResolveDeviceFile("/etc/policygate/config.json"); got != "/etc/policygate/devices.json" {
		t.Errorf("relative: got %q", got)
	}
	if got := cfg.ResolveDeviceFile("config.json"); got != "devices.json" {
		t.Errorf("relative to cwd: got %q", got)
	}

	cfg.DeviceFile = "/srv/devices.json"
	if got := cfg.ResolveDeviceFile("/etc/policygate/config.json"); got != "/srv/devices.json" {
		t.Errorf("absolute: got %q", got)
	}
}

func TestPrivilege_customCommand(t *testing.T) {
	t.Parallel()

	cmdline := "doas -n"
	cfg := &Config{PrivilegeCommand: &cmdline}
	if diff := cmp.Diff([]string{"doas", "-n"}, cfg.Privilege()); diff != "" {
		t.Errorf("Privilege() mismatch (-want +got):\n%s", diff)
	}
}
