// Package policy translates device profiles into kernel routing-policy and
// firewall rules and reconciles them on the host.
package policy

import (
	"strings"
)

// Profile is a named policy bundle applied to one device.
type Profile string

// Known profiles.
const (
	// Normal routes the device through the default table with no filtering.
	Normal Profile = "Normal"
	// VPN routes the device's traffic through the VPN routing table.
	VPN Profile = "VPN"
	// Secure is VPN plus a block on forwarding into the local network.
	Secure Profile = "Secure"
)

// legacyAliases maps profile names found in older device files.
var legacyAliases = map[string]Profile{
	"sicher": Secure,
}

// Profiles returns the known profiles in display order.
func Profiles() []Profile {
	return []Profile{Normal, VPN, Secure}
}

// ParseProfile resolves s case-insensitively to a known profile.
func ParseProfile(s string) (Profile, bool) {
	key := strings.ToLower(strings.TrimSpace(s))
	for _, p := range Profiles() {
		if strings.ToLower(string(p)) == key {
			return p, true
		}
	}
	if p, ok := legacyAliases[key]; ok {
		return p, true
	}
	return "", false
}

// RuleKind identifies one kind of host rule managed per device.
type RuleKind int

const (
	// RoutingRule sends the device's traffic to the VPN routing table:
	// ip rule add from <ip> table <table>
	RoutingRule RuleKind = iota
	// ForwardBlock drops forwarded traffic from the device into the local
	// network, ahead of any broader FORWARD rules:
	// iptables -I FORWARD -s <ip> -d <net> -j DROP
	ForwardBlock
)

func (k RuleKind) String() string {
	switch k {
	case RoutingRule:
		return "routing-rule"
	case ForwardBlock:
		return "forward-block"
	default:
		return "unknown"
	}
}

// managedRules lists every rule kind in tear-down order. Tear-down always
// covers all of them, whatever profile the device had before.
var managedRules = []RuleKind{RoutingRule, ForwardBlock}

// profileRules is the desired rule set of each profile, in install order.
var profileRules = map[Profile][]RuleKind{
	Normal: nil,
	VPN:    {RoutingRule},
	Secure: {RoutingRule, ForwardBlock},
}

// Rules returns the rule kinds installed for p, in order.
func (p Profile) Rules() []RuleKind {
	return append([]RuleKind(nil), profileRules[p]...)
}

// Params are the host-wide values interpolated into every rule.
type Params struct {
	// Table is the VPN routing table ID.
	Table string
	// LocalNetwork is the LAN CIDR Secure devices are blocked from.
	LocalNetwork string
}

// deleteArgv returns the command removing rule k for ip.
func (k RuleKind) deleteArgv(ip string, p Params) []string {
	switch k {
	case RoutingRule:
		return []string{"ip", "rule", "del", "from", ip, "table", p.Table}
	case ForwardBlock:
		return []string{"iptables", "-D", "FORWARD", "-s", ip, "-d", p.LocalNetwork, "-j", "DROP"}
	}
	return nil
}

// installArgv returns the command installing rule k for ip.
func (k RuleKind) installArgv(ip string, p Params) []string {
	switch k {
	case RoutingRule:
		return []string{"ip", "rule", "add", "from", ip, "table", p.Table}
	case ForwardBlock:
		return []string{"iptables", "-I", "FORWARD", "-s", ip, "-d", p.LocalNetwork, "-j", "DROP"}
	}
	return nil
}

// Phase tells tear-down commands from install commands.
type Phase int

const (
	Teardown Phase = iota
	Install
)

func (p Phase) String() string {
	if p == Install {
		return "install"
	}
	return "teardown"
}

// Command is one step of a reconciliation.
type Command struct {
	Phase Phase
	Rule  RuleKind
	Argv  []string
}

// Plan returns the commands that move ip to profile: a delete for every
// managed rule kind, then an install for each rule of the profile. known is
// false for an unrecognised profile, whose plan is tear-down only.
func Plan(ip, profile string, params Params) (cmds []Command, known bool) {
	for _, k := range managedRules {
		cmds = append(cmds, Command{Phase: Teardown, Rule: k, Argv: k.deleteArgv(ip, params)})
	}

	p, known := ParseProfile(profile)
	if !known {
		return cmds, false
	}
	for _, k := range p.Rules() {
		cmds = append(cmds, Command{Phase: Install, Rule: k, Argv: k.installArgv(ip, params)})
	}
	return cmds, true
}
