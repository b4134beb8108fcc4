package main

import (
	"errors"
	"fmt"
	"io/fs"
	"net/netip"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kuuji/policygate/internal/config"
	"github.com/kuuji/policygate/internal/tunnel"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or create the config file",
	Long: `Print the effective configuration.

  policygate config          Print the effective configuration
  policygate config init     Write a config file with defaults
  policygate config path     Print the config and device file paths`,
	Args: cobra.NoArgs,
	RunE: runConfigShow,
}

var configInitForce bool

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a config file with defaults",
	Long: `Write a config file with the default settings to the --config path.
local_network is set to the first LAN subnet found on this host. A .toml
path writes TOML, anything else JSON.`,
	Args: cobra.NoArgs,
	RunE: runConfigInit,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config and device file paths",
	Args:  cobra.NoArgs,
	RunE:  runConfigPath,
}

func init() {
	configInitCmd.Flags().BoolVar(&configInitForce, "force", false, "overwrite an existing config file")
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true
	cfg := loadConfig()

	data, err := config.Marshal(cfg, strings.EqualFold(filepath.Ext(globalConfigPath), ".toml"))
	if err != nil {
		return err
	}
	fmt.Print(string(data))
	return nil
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true

	if _, err := os.Stat(globalConfigPath); err == nil && !configInitForce {
		return fmt.Errorf("%s already exists (use --force to overwrite)", globalConfigPath)
	} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("checking %s: %w", globalConfigPath, err)
	}

	cfg := config.DefaultConfig()
	subnets, err := tunnel.DiscoverLocalSubnets(nil)
	if err != nil {
		globalLogger.Warn("discovering local subnets", "error", err)
	}
	if lan, ok := suggestLocalNetwork(subnets); ok {
		cfg.LocalNetwork = lan.CIDR
		fmt.Fprintf(os.Stderr, "Using local network %s (%s).\n", lan.CIDR, lan.Interface)
	}

	if err := config.SaveConfig(globalConfigPath, cfg); err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "%s %s\n", styleKey.Render("Wrote:"), globalConfigPath)
	return nil
}

// suggestLocalNetwork picks the first private-range subnet, falling back to
// the first subnet at all.
func suggestLocalNetwork(subnets []tunnel.SubnetInfo) (tunnel.SubnetInfo, bool) {
	for _, s := range subnets {
		if isPrivateCIDR(s.CIDR) {
			return s, true
		}
	}
	if len(subnets) > 0 {
		return subnets[0], true
	}
	return tunnel.SubnetInfo{}, false
}

func isPrivateCIDR(cidr string) bool {
	p, err := netip.ParsePrefix(cidr)
	return err == nil && p.Addr().IsPrivate()
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	fmt.Fprintf(os.Stdout, "%s  %s\n", styleKey.Render("Config:"), globalConfigPath)
	fmt.Fprintf(os.Stdout, "%s %s\n", styleKey.Render("Devices:"), cfg.ResolveDeviceFile(globalConfigPath))
	return nil
}
