package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/kuuji/policygate/internal/policy"
)

// validateRootArgs accepts either --all alone, or an ip and a profile with
// an optional name, or nothing at all (interactive).
func validateRootArgs(cmd *cobra.Command, args []string) error {
	all, _ := cmd.Flags().GetBool("all")
	switch {
	case all && len(args) > 0:
		return errors.New("--all takes no arguments")
	case len(args) == 1:
		return errors.New("missing profile (expected: <ip> <profile> [<name>])")
	case len(args) > 3:
		return fmt.Errorf("too many arguments: got %d, expected at most 3", len(args))
	}
	return nil
}

func runRoot(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	var ip, profile, name string
	switch {
	case restoreAll:
	case len(args) == 0:
		if !isatty.IsTerminal(os.Stdin.Fd()) && !isatty.IsCygwinTerminal(os.Stdin.Fd()) {
			return errors.New("no device given and stdin is not a terminal (expected: <ip> <profile> [<name>] or --all)")
		}
		var err error
		if ip, profile, name, err = promptApply(); err != nil {
			return err
		}
	default:
		var err error
		if ip, profile, name, err = deviceFromArgs(args); err != nil {
			return err
		}
	}
	cmd.SilenceUsage = true

	g, err := openGateway()
	if err != nil {
		return err
	}
	g.Start(ctx)

	if restoreAll {
		if failed := g.RestoreAll(ctx); failed > 0 {
			return fmt.Errorf("%d device(s) could not be restored", failed)
		}
		return nil
	}

	if err := g.Apply(ctx, ip, profile, name); err != nil {
		return fmt.Errorf("applying %s to %s: %w", profile, ip, err)
	}
	return nil
}

// deviceFromArgs splits <ip> <profile> [<name>] and rejects a bad address
// before anything waits on the bootstrap.
func deviceFromArgs(args []string) (ip, profile, name string, err error) {
	ip, profile = args[0], args[1]
	if len(args) == 3 {
		name = args[2]
	}
	if err := policy.ValidateIP(ip); err != nil {
		return "", "", "", err
	}
	return ip, profile, name, nil
}

// promptApply asks for a device address, a profile and an optional name.
func promptApply() (ip, profile, name string, err error) {
	options := make([]huh.Option[string], 0, len(policy.Profiles()))
	for _, p := range policy.Profiles() {
		options = append(options, huh.NewOption(profileDescription(p), string(p)))
	}
	profile = string(policy.VPN)

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Device IP address").
				Placeholder("192.168.178.23").
				Validate(policy.ValidateIP).
				Value(&ip),
			huh.NewSelect[string]().
				Title("Profile").
				Options(options...).
				Value(&profile),
			huh.NewInput().
				Title("Name").
				Description("Optional. Keeps the current name, or the IP for a new device, when empty.").
				Value(&name),
		),
	).WithTheme(customHuhTheme())

	if err := form.Run(); err != nil {
		return "", "", "", fmt.Errorf("form cancelled: %w", err)
	}
	return ip, profile, name, nil
}

func profileDescription(p policy.Profile) string {
	switch p {
	case policy.Normal:
		return "Normal - default route"
	case policy.VPN:
		return "VPN - route through the VPN"
	case policy.Secure:
		return "Secure - VPN, no access to the local network"
	}
	return string(p)
}
