// Command policygate assigns routing profiles to devices behind a home
// gateway. A device on the Normal profile uses the default route, VPN sends
// its traffic through the VPN routing table and Secure additionally blocks
// it from reaching the local network.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kuuji/policygate/internal/bootstrap"
	"github.com/kuuji/policygate/internal/config"
)

// version is set at build time via -ldflags "-X main.version=...".
var version = "dev"

// Global flags shared across subcommands.
var (
	globalConfigPath string
	globalVerbose    bool
	globalDryRun     bool
	globalLogger     *slog.Logger
)

// rootCmd applies a profile to one device, restores all devices, or asks
// interactively when called without arguments.
var rootCmd = &cobra.Command{
	Use:   "policygate [<ip> <profile> [<name>]]",
	Short: "Per-device routing profiles for a VPN gateway",
	Long: `policygate routes each device on the local network according to its
profile:

  Normal   default route, no filtering
  VPN      traffic leaves through the VPN routing table
  Secure   VPN, and the device cannot reach the local network

  policygate 192.168.178.23 VPN laptop   Apply a profile and remember it
  policygate --all                       Restore every stored profile (boot)
  policygate                             Pick device and profile interactively`,
	Args: validateRootArgs,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		globalLogger = newLogger(os.Stderr, globalVerbose)
	},
	RunE: runRoot,
}

var restoreAll bool

func init() {
	rootCmd.PersistentFlags().StringVar(&globalConfigPath, "config", config.DefaultConfigFile, "path to config file")
	rootCmd.PersistentFlags().BoolVarP(&globalVerbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&globalDryRun, "dry-run", false, "log system commands instead of running them")
	rootCmd.Flags().BoolVar(&restoreAll, "all", false, "re-apply the stored profile of every registered device")

	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(serviceCmd)
	rootCmd.AddCommand(versionCmd)
}

// versionCmd prints the build version.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the policygate version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version)
	},
}

// newLogger returns the text logger used by all commands. Records at
// bootstrap.LevelCritical are labelled CRITICAL.
func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key != slog.LevelKey || len(groups) != 0 {
				return a
			}
			if lvl, ok := a.Value.Any().(slog.Level); ok && lvl >= bootstrap.LevelCritical {
				a.Value = slog.StringValue("CRITICAL")
			}
			return a
		},
	}))
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
