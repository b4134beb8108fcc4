//go:build linux

package tunnel

import (
	"fmt"

	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"
)

// RuleInspector reads installed IPv4 policy routing rules from the kernel.
// Listing rules needs no privileges.
type RuleInspector struct {
	list func(family int) ([]netlink.Rule, error)
}

// NewRuleInspector creates a RuleInspector backed by netlink.
func NewRuleInspector() *RuleInspector {
	return &RuleInspector{list: netlink.RuleList}
}

// RoutedSources returns the source addresses of host rules ("from <ip>")
// that send traffic to the given routing table.
func (r *RuleInspector) RoutedSources(table int) (map[string]bool, error) {
	rules, err := r.list(unix.AF_INET)
	if err != nil {
		return nil, fmt.Errorf("listing policy rules: %w", err)
	}

	sources := make(map[string]bool)
	for _, rule := range rules {
		if rule.Table != table || rule.Src == nil {
			continue
		}
		if ones, bits := rule.Src.Mask.Size(); ones != bits {
			continue
		}
		sources[rule.Src.IP.String()] = true
	}
	return sources, nil
}
