package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kuuji/policygate/internal/executor"
)

// systemdServicePath is where the boot-time restore unit is installed.
const systemdServicePath = "/etc/systemd/system/policygate.service"

var serviceCmd = &cobra.Command{
	Use:   "service",
	Short: "Manage the boot-time restore service",
	Long: `Install or remove a systemd unit that runs "policygate --all" once at
boot, after the network is online, so that every device gets its profile
back after a reboot.

These commands must be run as root:
  sudo policygate service install
  sudo policygate service uninstall`,
}

var serviceInstallCmd = &cobra.Command{
	Use:   "install",
	Short: "Install and enable the systemd unit",
	Args:  cobra.NoArgs,
	RunE:  runServiceInstall,
}

var serviceUninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Disable and remove the systemd unit",
	Args:  cobra.NoArgs,
	RunE:  runServiceUninstall,
}

func init() {
	serviceCmd.AddCommand(serviceInstallCmd)
	serviceCmd.AddCommand(serviceUninstallCmd)
}

// systemdUnit returns the unit file for a restore run of exe with the
// config file at cfgPath.
func systemdUnit(exe, cfgPath string) string {
	return fmt.Sprintf(`[Unit]
Description=policygate - restore per-device routing profiles
After=network-online.target
Wants=network-online.target

[Service]
Type=oneshot
RemainAfterExit=yes
ExecStart=%s --config %s --all

[Install]
WantedBy=multi-user.target
`, systemdQuote(exe), systemdQuote(cfgPath))
}

// systemdQuote quotes a path for an ExecStart= line when it contains
// whitespace or quotes.
func systemdQuote(s string) string {
	if !strings.ContainsAny(s, " \t\"'\\") {
		return s
	}
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return `"` + r.Replace(s) + `"`
}

func checkServiceHost() error {
	if runtime.GOOS != "linux" {
		return fmt.Errorf("the restore service needs systemd on linux (running on %s)", runtime.GOOS)
	}
	if os.Getuid() != 0 && !globalDryRun {
		return errors.New("service management must be run as root (try: sudo policygate service ...)")
	}
	return nil
}

// systemctl runs systemctl directly, or only logs it with --dry-run.
func systemctl(cmd *cobra.Command, args ...string) {
	run := executor.New(globalLogger, nil, globalDryRun)
	res, err := run.Run(cmd.Context(), append([]string{"systemctl"}, args...)...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: systemctl %s: %v\n", strings.Join(args, " "), err)
		return
	}
	if !res.OK() {
		fmt.Fprintf(os.Stderr, "Warning: systemctl %s exited with status %d: %s\n",
			strings.Join(args, " "), res.ExitCode, strings.TrimSpace(res.Stderr))
	}
}

func runServiceInstall(cmd *cobra.Command, args []string) error {
	if err := checkServiceHost(); err != nil {
		return err
	}
	cmd.SilenceUsage = true

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locating policygate binary: %w", err)
	}
	cfgPath, err := filepath.Abs(globalConfigPath)
	if err != nil {
		return fmt.Errorf("resolving config path: %w", err)
	}

	unit := systemdUnit(exe, cfgPath)
	if globalDryRun {
		fmt.Fprintf(os.Stderr, "Would write %s:\n", systemdServicePath)
		fmt.Print(unit)
	} else {
		fmt.Fprintf(os.Stderr, "Installing systemd service to %s\n", systemdServicePath)
		if err := os.WriteFile(systemdServicePath, []byte(unit), 0644); err != nil {
			return fmt.Errorf("writing service file: %w", err)
		}
	}

	systemctl(cmd, "daemon-reload")
	systemctl(cmd, "enable", "policygate.service")

	fmt.Fprintf(os.Stderr, "  systemd service installed\n")
	return nil
}

func runServiceUninstall(cmd *cobra.Command, args []string) error {
	if err := checkServiceHost(); err != nil {
		return err
	}
	cmd.SilenceUsage = true

	if _, err := os.Stat(systemdServicePath); errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintln(os.Stderr, "systemd service not installed")
		return nil
	}

	systemctl(cmd, "disable", "policygate.service")
	if !globalDryRun {
		if err := os.Remove(systemdServicePath); err != nil {
			return fmt.Errorf("removing %s: %w", systemdServicePath, err)
		}
	}
	systemctl(cmd, "daemon-reload")

	fmt.Fprintln(os.Stderr, "  systemd service removed")
	return nil
}
