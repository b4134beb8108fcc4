package gateway

import (
	"log/slog"
	"net"

	"github.com/kuuji/policygate/internal/bootstrap"
	"github.com/kuuji/policygate/internal/executor"
	"github.com/kuuji/policygate/internal/tunnel"
)

// RuleInspector reads installed policy rules back from the kernel.
type RuleInspector interface {
	RoutedSources(table int) (map[string]bool, error)
}

// NFTables is the nftables masquerade manager used by the nftables NAT
// backend.
type NFTables interface {
	Exists(iface string) (bool, error)
	Add(iface string) error
}

// Deps holds the external dependencies of a Gateway. This allows tests to
// inject fakes for everything that touches the host. Production code uses
// DefaultDeps().
type Deps struct {
	// Runner builds the command runner from the privilege prefix and the
	// dry-run switch.
	Runner func(logger *slog.Logger, prefix []string, simulate bool) executor.Runner

	Interfaces      tunnel.InterfaceLister
	NFTables        func(logger *slog.Logger) NFTables
	Rules           RuleInspector
	ForwardingProbe func() (bool, error)
	Sleep           bootstrap.Sleeper
}

// DefaultDeps returns the production implementations.
func DefaultDeps() Deps {
	return Deps{
		Runner: func(logger *slog.Logger, prefix []string, simulate bool) executor.Runner {
			return executor.New(logger, prefix, simulate)
		},
		Interfaces: net.Interfaces,
		NFTables: func(logger *slog.Logger) NFTables {
			return tunnel.NewNFTMasquerade(logger)
		},
		Rules:           tunnel.NewRuleInspector(),
		ForwardingProbe: tunnel.ForwardingEnabled,
		Sleep:           bootstrap.Sleep,
	}
}
