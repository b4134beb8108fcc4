package policy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"

	"github.com/kuuji/policygate/internal/executor"
	"github.com/kuuji/policygate/internal/registry"
)

var (
	// ErrUnknownDevice is returned by a non-persisting Apply for an IP that
	// is not in the registry.
	ErrUnknownDevice = errors.New("unknown device")

	// ErrInvalidIP is returned when the device address is not IPv4.
	ErrInvalidIP = errors.New("invalid IPv4 address")
)

// Registry is the subset of *registry.Registry the reconciler needs.
type Registry interface {
	Get(ip string) (registry.Device, bool)
	Put(d registry.Device)
	Devices() []registry.Device
	Save() error
}

// Reconciler applies profiles to devices. Every Apply tears down all
// managed rules for the device before installing the profile's rules, so
// repeating an Apply never duplicates rules.
type Reconciler struct {
	log    *slog.Logger
	run    executor.Runner
	reg    Registry
	params Params
}

// NewReconciler creates a Reconciler issuing commands through run.
func NewReconciler(run executor.Runner, reg Registry, params Params, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		log:    logger.With("component", "policy"),
		run:    run,
		reg:    reg,
		params: params,
	}
}

// Apply moves ip to profile.
//
// With persist set, the registry is updated first (an unseen ip is added
// with name, or the ip itself when name is empty) and saved once the rules
// have been issued. Without persist the registry is read-only and ip must
// already be registered.
//
// Non-zero exit codes from individual rule commands are logged, not
// returned. An error is returned when a command could not be run at all;
// the remaining commands are then skipped and nothing is rolled back.
func (r *Reconciler) Apply(ctx context.Context, ip, profile, name string, persist bool) error {
	if err := ValidateIP(ip); err != nil {
		r.log.Error("rejecting device address", "ip", ip)
		return err
	}

	canonical := profile
	if p, ok := ParseProfile(profile); ok {
		canonical = string(p)
	}

	device, known := r.reg.Get(ip)
	switch {
	case persist && !known:
		device = registry.Device{IP: ip, Name: name, Profile: canonical}
		if device.Name == "" {
			device.Name = ip
		}
		r.reg.Put(device)
		r.log.Info("registering new device", "ip", ip, "name", device.Name)
	case persist:
		r.log.Info("changing profile",
			"ip", ip,
			"name", device.Name,
			"from", device.Profile,
			"to", canonical,
		)
		device.Profile = canonical
		if name != "" {
			device.Name = name
		}
		r.reg.Put(device)
	case !known:
		r.log.Error("device not registered", "ip", ip)
		return fmt.Errorf("%w: %s", ErrUnknownDevice, ip)
	}

	runErr := r.reconcile(ctx, ip, profile)

	if persist {
		if err := r.reg.Save(); err != nil {
			r.log.Error("saving device file", "error", err)
			return errors.Join(runErr, fmt.Errorf("saving device file: %w", err))
		}
		r.log.Debug("device file saved")
	}

	if runErr != nil {
		return runErr
	}

	r.log.Info("profile active", "profile", canonical, "name", device.Name, "ip", ip)
	return nil
}

// RestoreAll re-applies every registered device's stored profile without
// modifying the registry. A failing device does not stop the others; the
// number of failures is returned.
func (r *Reconciler) RestoreAll(ctx context.Context) int {
	devices := r.reg.Devices()
	failed := 0
	for _, d := range devices {
		if err := ctx.Err(); err != nil {
			r.log.Warn("restore interrupted", "error", err)
			return failed + 1
		}
		if err := r.Apply(ctx, d.IP, d.Profile, "", false); err != nil {
			failed++
		}
	}

	if failed > 0 {
		r.log.Warn("profiles restored with failures", "devices", len(devices), "failed", failed)
	} else {
		r.log.Info("all profiles restored", "devices", len(devices))
	}
	return failed
}

// reconcile issues the tear-down and install commands for ip.
func (r *Reconciler) reconcile(ctx context.Context, ip, profile string) error {
	cmds, known := Plan(ip, profile, r.params)
	if !known {
		r.log.Warn("unrecognized profile, no rules installed", "ip", ip, "profile", profile)
	}

	for _, c := range cmds {
		res, err := r.run.Run(ctx, c.Argv...)
		if err != nil {
			r.log.Error("rule command failed to run",
				"ip", ip,
				"phase", c.Phase,
				"rule", c.Rule,
				"error", err,
			)
			return fmt.Errorf("%s %s for %s: %w", c.Phase, c.Rule, ip, err)
		}
		if res.OK() {
			continue
		}

		attrs := []any{
			"ip", ip,
			"rule", c.Rule,
			"cmd", strings.Join(c.Argv, " "),
			"exit_code", res.ExitCode,
			"stderr", res.Stderr,
		}
		if c.Phase == Teardown {
			// The rule usually just wasn't there.
			r.log.Debug("rule not removed", attrs...)
		} else {
			r.log.Warn("rule not installed", attrs...)
		}
	}
	return nil
}

// ValidateIP returns an error wrapping ErrInvalidIP unless s is a dotted
// IPv4 address. IPv4-mapped IPv6 notation is rejected.
func ValidateIP(s string) error {
	ip := net.ParseIP(s)
	if ip == nil || ip.To4() == nil || strings.Contains(s, ":") {
		return fmt.Errorf("%w: %q", ErrInvalidIP, s)
	}
	return nil
}
