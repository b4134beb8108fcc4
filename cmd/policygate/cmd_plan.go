package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kuuji/policygate/internal/gateway"
	"github.com/kuuji/policygate/internal/policy"
)

var planCmd = &cobra.Command{
	Use:   "plan <ip> <profile>",
	Short: "Print the commands a profile change would run",
	Long: `Print the tear-down and install commands that applying <profile> to
<ip> would run, including the privilege prefix. Nothing is executed and the
device file is not changed.`,
	Args: cobra.ExactArgs(2),
	RunE: runPlan,
}

func runPlan(cmd *cobra.Command, args []string) error {
	ip, profile := args[0], args[1]
	cmd.SilenceUsage = true

	cfg := loadConfig()
	cmds, known, err := gateway.PlanConfig(cfg, ip, profile)
	if err != nil {
		return err
	}
	if !known {
		fmt.Fprintf(os.Stderr, "%s unknown profile %q, only the tear-down would run\n",
			styleBad.Render("Warning:"), profile)
	}

	fmt.Print(formatPlan(cmds, cfg.Privilege()))
	return nil
}

// formatPlan renders cmds grouped by phase, one shell-quoted command per
// line.
func formatPlan(cmds []policy.Command, prefix []string) string {
	var b strings.Builder
	phase := policy.Phase(-1)
	for _, c := range cmds {
		if c.Phase != phase {
			phase = c.Phase
			fmt.Fprintf(&b, "%s\n", styleHeader.Render("# "+phase.String()))
		}
		argv := append(append([]string(nil), prefix...), c.Argv...)
		fmt.Fprintf(&b, "%s  %s\n", shellJoin(argv), styleDim.Render("# "+c.Rule.String()))
	}
	return b.String()
}

// shellJoin quotes arguments that a shell would split or interpret.
func shellJoin(argv []string) string {
	quoted := make([]string, len(argv))
	for i, a := range argv {
		if a == "" || strings.ContainsAny(a, " \t\n'\"\\$`;&|<>*?()[]{}#~") {
			a = "'" + strings.ReplaceAll(a, "'", `'\''`) + "'"
		}
		quoted[i] = a
	}
	return strings.Join(quoted, " ")
}
