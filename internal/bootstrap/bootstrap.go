// Package bootstrap brings up the gateway's forwarding and NAT once the VPN
// tunnel interface exists.
//
// The controller runs once per process:
//
//	WaitingForInterface -> ForwardingCheck -> NatCheck -> Ready
//	WaitingForInterface -> Aborted (interface never appeared)
//
// Ready and Aborted are terminal. Forwarding and NAT failures are logged but
// do not abort the sequence.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kuuji/policygate/internal/executor"
)

// Polling bounds for the VPN interface after boot.
const (
	DefaultAttempts = 15
	DefaultInterval = 3 * time.Second
)

// LevelCritical is the slog level used when the gateway cannot be brought
// up and an operator has to step in.
const LevelCritical = slog.Level(12)

// State is a bootstrap state.
type State int

const (
	// Skipped means the controller was never run (dry-run mode).
	Skipped State = iota
	WaitingForInterface
	ForwardingCheck
	NatCheck
	Ready
	Aborted
)

func (s State) String() string {
	switch s {
	case Skipped:
		return "skipped"
	case WaitingForInterface:
		return "waiting-for-interface"
	case ForwardingCheck:
		return "forwarding-check"
	case NatCheck:
		return "nat-check"
	case Ready:
		return "ready"
	case Aborted:
		return "aborted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether no further transitions happen from s.
func (s State) Terminal() bool {
	return s == Ready || s == Aborted
}

// Status is the outcome of a bootstrap run. It lives for the process only.
type Status struct {
	State             State
	VPNInterface      string
	ForwardingEnabled bool
	NATInstalled      bool
}

// InterfaceLocator finds the VPN tunnel interface. *tunnel.Locator
// implements it.
type InterfaceLocator interface {
	Locate() (name string, found bool, err error)
}

// Masquerader checks for and installs the NAT masquerade rule on the VPN
// interface.
type Masquerader interface {
	Exists(ctx context.Context, iface string) (bool, error)
	Add(ctx context.Context, iface string) error
}

// Sleeper waits between interface polls. It returns early with the
// context's error when ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Sleep is the real Sleeper.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Deps holds the collaborators of the Controller so tests can inject fakes.
type Deps struct {
	Locator InterfaceLocator
	Runner  executor.Runner
	NAT     Masquerader
	Sleep   Sleeper

	// ForwardingProbe reads back the kernel forwarding switch after it was
	// set. Optional.
	ForwardingProbe func() (bool, error)
}

// Controller is the bootstrap state machine.
type Controller struct {
	log      *slog.Logger
	deps     Deps
	attempts int
	interval time.Duration

	status Status
}

// New creates a Controller polling DefaultAttempts times, DefaultInterval
// apart.
func New(deps Deps, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Sleep == nil {
		deps.Sleep = Sleep
	}
	return &Controller{
		log:      logger.With("component", "bootstrap"),
		deps:     deps,
		attempts: DefaultAttempts,
		interval: DefaultInterval,
	}
}

// Status returns the current status.
func (c *Controller) Status() Status {
	return c.status
}

// Run drives the state machine to a terminal state and returns the final
// status. Calling Run again after it finished returns the recorded status
// without doing anything.
func (c *Controller) Run(ctx context.Context) Status {
	if c.status.State.Terminal() {
		return c.status
	}

	c.transition(WaitingForInterface)
	iface, ok := c.waitForInterface(ctx)
	if !ok {
		c.transition(Aborted)
		c.log.Log(ctx, LevelCritical, "VPN interface not found, forwarding and NAT not configured",
			"attempts", c.attempts,
			"waited", time.Duration(c.attempts-1)*c.interval,
		)
		return c.status
	}
	c.status.VPNInterface = iface

	c.transition(ForwardingCheck)
	c.status.ForwardingEnabled = c.enableForwarding(ctx)

	c.transition(NatCheck)
	c.status.NATInstalled = c.ensureMasquerade(ctx, iface)

	c.transition(Ready)
	c.log.Info("gateway ready",
		"vpn_interface", iface,
		"forwarding", c.status.ForwardingEnabled,
		"nat", c.status.NATInstalled,
	)
	return c.status
}

func (c *Controller) transition(s State) {
	c.log.Debug("bootstrap state", "from", c.status.State, "to", s)
	c.status.State = s
}

// waitForInterface polls the locator up to c.attempts times. A locator
// error counts as a miss.
func (c *Controller) waitForInterface(ctx context.Context) (string, bool) {
	for attempt := 1; attempt <= c.attempts; attempt++ {
		name, found, err := c.deps.Locator.Locate()
		switch {
		case err != nil:
			c.log.Warn("listing interfaces", "attempt", attempt, "error", err)
		case found:
			c.log.Info("VPN interface found", "interface", name, "attempt", attempt)
			return name, true
		default:
			c.log.Info("waiting for VPN interface", "attempt", attempt, "max_attempts", c.attempts)
		}

		if attempt == c.attempts {
			break
		}
		if err := c.deps.Sleep(ctx, c.interval); err != nil {
			c.log.Warn("interface wait interrupted", "error", err)
			return "", false
		}
	}
	return "", false
}

// enableForwarding switches on IPv4 forwarding. The sysctl is idempotent.
func (c *Controller) enableForwarding(ctx context.Context) bool {
	res, err := c.deps.Runner.Run(ctx, "sysctl", "-w", "net.ipv4.ip_forward=1")
	if err != nil {
		c.log.Error("enabling IP forwarding", "error", err)
		return false
	}
	if !res.OK() {
		c.log.Warn("enabling IP forwarding failed", "exit_code", res.ExitCode, "stderr", res.Stderr)
		return false
	}

	if c.deps.ForwardingProbe != nil {
		on, err := c.deps.ForwardingProbe()
		if err != nil {
			c.log.Debug("reading back forwarding state", "error", err)
		} else if !on {
			c.log.Warn("IP forwarding still disabled after sysctl")
			return false
		}
	}

	c.log.Info("IP forwarding enabled")
	return true
}

// ensureMasquerade adds the masquerade rule for iface unless it exists.
func (c *Controller) ensureMasquerade(ctx context.Context, iface string) bool {
	exists, err := c.deps.NAT.Exists(ctx, iface)
	if err != nil {
		c.log.Error("checking NAT masquerade rule", "interface", iface, "error", err)
		return false
	}
	if exists {
		c.log.Info("NAT masquerade already present", "interface", iface)
		return true
	}

	if err := c.deps.NAT.Add(ctx, iface); err != nil {
		c.log.Error("adding NAT masquerade rule", "interface", iface, "error", err)
		return false
	}
	c.log.Info("NAT masquerade added", "interface", iface)
	return true
}

// IPTablesMasquerade manages the masquerade rule with the iptables command
// line:
//
//	iptables -t nat -C POSTROUTING -o <iface> -j MASQUERADE
//	iptables -t nat -A POSTROUTING -o <iface> -j MASQUERADE
type IPTablesMasquerade struct {
	Runner executor.Runner
}

// Exists runs the -C check. Exit status 0 means the rule is present; any
// other status means it is absent.
func (m IPTablesMasquerade) Exists(ctx context.Context, iface string) (bool, error) {
	res, err := m.Runner.Run(ctx, masqueradeArgv("-C", iface)...)
	if err != nil {
		return false, err
	}
	if res.Simulated {
		return false, nil
	}
	return res.ExitCode == 0, nil
}

// Add appends the rule to POSTROUTING.
func (m IPTablesMasquerade) Add(ctx context.Context, iface string) error {
	res, err := m.Runner.Run(ctx, masqueradeArgv("-A", iface)...)
	if err != nil {
		return err
	}
	if !res.OK() {
		return fmt.Errorf("%s: exit status %d: %s", strings.Join(res.Argv, " "), res.ExitCode, res.Stderr)
	}
	return nil
}

func masqueradeArgv(op, iface string) []string {
	return []string{"iptables", "-t", "nat", op, "POSTROUTING", "-o", iface, "-j", "MASQUERADE"}
}

// NFTablesMasquerade adapts *tunnel.NFTMasquerade, whose methods take no
// context, to Masquerader.
type NFTablesMasquerade struct {
	NAT interface {
		Exists(iface string) (bool, error)
		Add(iface string) error
	}
}

// Exists reports whether the nftables masquerade rule for iface exists.
func (m NFTablesMasquerade) Exists(ctx context.Context, iface string) (bool, error) {
	return m.NAT.Exists(iface)
}

// Add installs the nftables masquerade rule for iface.
func (m NFTablesMasquerade) Add(ctx context.Context, iface string) error {
	return m.NAT.Add(iface)
}
