// Package gateway wires configuration, the device registry, the bootstrap
// controller and the policy reconciler into the operations exposed on the
// command line.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kuuji/policygate/internal/bootstrap"
	"github.com/kuuji/policygate/internal/config"
	"github.com/kuuji/policygate/internal/executor"
	"github.com/kuuji/policygate/internal/policy"
	"github.com/kuuji/policygate/internal/registry"
	"github.com/kuuji/policygate/internal/tunnel"
)

// Gateway is one process's view of the router: its configuration, the
// registered devices and the bootstrap outcome.
type Gateway struct {
	log    *slog.Logger
	cfg    *config.Config
	deps   Deps
	params policy.Params

	// tableID is params.Table as a number, for reading rules back.
	tableID int

	reg        *registry.Registry
	run        executor.Runner
	boot       *bootstrap.Controller
	reconciler *policy.Reconciler
}

// New builds a Gateway from cfg. cfgPath is the path cfg was loaded from and
// anchors a relative device file. A registry that cannot be read is logged
// and replaced by an empty one; New only fails on an unusable config.
func New(cfg *config.Config, cfgPath string, logger *slog.Logger, deps Deps) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	table, _ := cfg.TableID()

	deviceFile := cfg.ResolveDeviceFile(cfgPath)
	reg, err := registry.Load(deviceFile, logger)
	if err != nil {
		logger.Error("loading device file, continuing with no devices", "path", deviceFile, "error", err)
	}

	run := deps.Runner(logger, cfg.Privilege(), cfg.DryRun)
	params := policy.Params{Table: cfg.VPNTableID, LocalNetwork: cfg.LocalNetwork}

	g := &Gateway{
		log:        logger.With("component", "gateway"),
		cfg:        cfg,
		deps:       deps,
		params:     params,
		tableID:    table,
		reg:        reg,
		run:        run,
		reconciler: policy.NewReconciler(run, reg, params, logger),
	}
	g.boot = bootstrap.New(bootstrap.Deps{
		Locator:         tunnel.NewLocator(deps.Interfaces, cfg.InterfacePrefixes, cfg.FallbackInterfacePrefixes),
		Runner:          run,
		NAT:             g.masquerader(logger),
		Sleep:           deps.Sleep,
		ForwardingProbe: deps.ForwardingProbe,
	}, logger)
	return g, nil
}

func (g *Gateway) masquerader(logger *slog.Logger) bootstrap.Masquerader {
	if g.cfg.NATBackend == config.NATBackendNFTables && g.deps.NFTables != nil {
		return bootstrap.NFTablesMasquerade{NAT: g.deps.NFTables(logger)}
	}
	return bootstrap.IPTablesMasquerade{Runner: g.run}
}

// Start runs the bootstrap sequence unless the gateway is in dry-run mode.
// A failed bootstrap is not an error: profiles are still applied, they just
// have no working VPN path yet.
func (g *Gateway) Start(ctx context.Context) bootstrap.Status {
	if g.cfg.DryRun {
		g.log.Info("dry-run mode, skipping gateway bootstrap")
		return g.boot.Status()
	}
	return g.boot.Run(ctx)
}

// Status returns the bootstrap status.
func (g *Gateway) Status() bootstrap.Status {
	return g.boot.Status()
}

// DryRun reports whether commands are only logged.
func (g *Gateway) DryRun() bool {
	return g.cfg.DryRun
}

// Apply moves ip to profile and records the change in the device file.
// name is only used when it is not empty.
func (g *Gateway) Apply(ctx context.Context, ip, profile, name string) error {
	return g.reconciler.Apply(ctx, ip, profile, name, true)
}

// RestoreAll re-applies every registered device's profile, for use after a
// reboot. It returns the number of devices that failed.
func (g *Gateway) RestoreAll(ctx context.Context) int {
	return g.reconciler.RestoreAll(ctx)
}

// Devices returns the registered devices in file order.
func (g *Gateway) Devices() []registry.Device {
	return g.reg.Devices()
}

// DeviceFile returns the path of the device registry.
func (g *Gateway) DeviceFile() string {
	return g.reg.Path()
}

// Plan returns the commands Apply would issue for ip and profile, without
// the privilege prefix and without running anything.
func (g *Gateway) Plan(ip, profile string) ([]policy.Command, bool, error) {
	return plan(g.params, ip, profile)
}

// PlanConfig is Plan for callers that only have a config. It does not touch
// the device file.
func PlanConfig(cfg *config.Config, ip, profile string) ([]policy.Command, bool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, false, fmt.Errorf("validating config: %w", err)
	}
	return plan(policy.Params{Table: cfg.VPNTableID, LocalNetwork: cfg.LocalNetwork}, ip, profile)
}

func plan(params policy.Params, ip, profile string) ([]policy.Command, bool, error) {
	if err := policy.ValidateIP(ip); err != nil {
		return nil, false, err
	}
	cmds, known := policy.Plan(ip, profile, params)
	return cmds, known, nil
}

// DeviceState compares a registered device with the kernel's policy rules.
type DeviceState struct {
	registry.Device

	// WantRouted is true when the device's profile routes through the VPN
	// table.
	WantRouted bool
	// Routed is true when a rule for the device's address points at the VPN
	// table.
	Routed bool
}

// InSync reports whether the kernel matches the device's profile.
func (s DeviceState) InSync() bool {
	return s.WantRouted == s.Routed
}

// ErrNoInspector is returned by Check when kernel rule inspection is not
// available.
var ErrNoInspector = errors.New("rule inspection not available")

// Check reports, for every registered device, whether its VPN routing rule
// is present in the kernel.
func (g *Gateway) Check() ([]DeviceState, error) {
	if g.deps.Rules == nil {
		return nil, ErrNoInspector
	}
	routed, err := g.deps.Rules.RoutedSources(g.tableID)
	if err != nil {
		return nil, fmt.Errorf("reading policy rules: %w", err)
	}

	devices := g.reg.Devices()
	states := make([]DeviceState, 0, len(devices))
	for _, d := range devices {
		states = append(states, DeviceState{
			Device:     d,
			WantRouted: routesViaVPN(d.Profile),
			Routed:     routed[d.IP],
		})
	}
	return states, nil
}

func routesViaVPN(profile string) bool {
	p, ok := policy.ParseProfile(profile)
	if !ok {
		return false
	}
	for _, k := range p.Rules() {
		if k == policy.RoutingRule {
			return true
		}
	}
	return false
}
