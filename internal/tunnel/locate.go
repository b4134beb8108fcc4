// Package tunnel inspects and configures the host side of the VPN tunnel:
// it finds the tunnel interface, probes kernel forwarding, installs the NAT
// masquerade rule via nftables and reads back installed policy rules.
package tunnel

import (
	"fmt"
	"net"
	"strings"
)

// InterfaceLister enumerates the host's network interfaces. net.Interfaces
// satisfies it; tests substitute a fixed list.
type InterfaceLister func() ([]net.Interface, error)

// Locator selects the active VPN tunnel interface by name-prefix
// convention. It performs a single enumeration per call; retrying until the
// interface appears is up to the caller.
type Locator struct {
	list     InterfaceLister
	primary  []string
	fallback []string
}

// NewLocator creates a Locator. primary prefixes are tried first (e.g.
// "tun"), fallback prefixes only when no interface matches a primary one.
// A nil list uses net.Interfaces.
func NewLocator(list InterfaceLister, primary, fallback []string) *Locator {
	if list == nil {
		list = net.Interfaces
	}
	return &Locator{
		list:     list,
		primary:  lowerAll(primary),
		fallback: lowerAll(fallback),
	}
}

// Locate returns the name of the first up, non-loopback interface whose
// name starts with a primary prefix, otherwise the first matching a fallback
// prefix. found is false when neither matches.
func (l *Locator) Locate() (name string, found bool, err error) {
	ifaces, err := l.list()
	if err != nil {
		return "", false, fmt.Errorf("listing interfaces: %w", err)
	}

	if name, ok := firstMatch(ifaces, l.primary); ok {
		return name, true, nil
	}
	if name, ok := firstMatch(ifaces, l.fallback); ok {
		return name, true, nil
	}
	return "", false, nil
}

// firstMatch returns the first active interface, in enumeration order, whose
// name has one of the given prefixes.
func firstMatch(ifaces []net.Interface, prefixes []string) (string, bool) {
	for _, iface := range ifaces {
		if !isActive(iface) {
			continue
		}
		name := strings.ToLower(iface.Name)
		for _, prefix := range prefixes {
			if prefix != "" && strings.HasPrefix(name, prefix) {
				return iface.Name, true
			}
		}
	}
	return "", false
}

// isActive reports whether the interface is up and not a loopback.
func isActive(iface net.Interface) bool {
	return iface.Flags&net.FlagUp != 0 && iface.Flags&net.FlagLoopback == 0
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		out = append(out, strings.ToLower(strings.TrimSpace(s)))
	}
	return out
}
