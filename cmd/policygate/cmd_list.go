package main

import (
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/kuuji/policygate/internal/gateway"
	"github.com/kuuji/policygate/internal/registry"
)

var listCheck bool

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered devices and their profiles",
	Long: `List the devices in the device file in file order.

With --check, the kernel's policy rules are read back and every device is
marked as in sync or drifted (its VPN routing rule is missing, or present
although its profile does not route through the VPN).`,
	Args: cobra.NoArgs,
	RunE: runList,
}

func init() {
	listCmd.Flags().BoolVar(&listCheck, "check", false, "compare with the kernel's policy rules")
}

func runList(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true

	g, err := openGateway()
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "%s %s\n", styleKey.Render("Devices:"), g.DeviceFile())

	devices := g.Devices()
	if len(devices) == 0 {
		fmt.Println("No devices registered.")
		return nil
	}

	if !listCheck {
		fmt.Println(deviceTable(devices, nil))
		return nil
	}

	states, err := g.Check()
	if err != nil {
		return fmt.Errorf("checking kernel rules: %w", err)
	}
	fmt.Println(deviceTable(devices, states))
	return nil
}

// deviceTable renders devices as a table. When states is not nil a KERNEL
// column shows whether the kernel matches each device's profile.
func deviceTable(devices []registry.Device, states []gateway.DeviceState) string {
	headers := []string{"IP", "NAME", "PROFILE"}
	if states != nil {
		headers = append(headers, "KERNEL")
	}

	rows := make([][]string, 0, len(devices))
	for i, d := range devices {
		row := []string{d.IP, d.Name, d.Profile}
		if states != nil {
			row = append(row, kernelCell(states[i]))
		}
		rows = append(rows, row)
	}

	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(styleBorder).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return styleHeader.Padding(0, 1)
			case col == 2:
				return profileStyle(devices[row].Profile).Padding(0, 1)
			case col == 3 && !states[row].InSync():
				return styleBad.Padding(0, 1)
			case col == 3:
				return styleOK.Padding(0, 1)
			}
			return styleCell
		}).
		String()
}

func kernelCell(s gateway.DeviceState) string {
	switch {
	case s.InSync():
		return "in sync"
	case s.WantRouted:
		return "routing rule missing"
	default:
		return "unexpected routing rule"
	}
}
