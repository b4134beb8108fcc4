//go:build linux

package tunnel

import (
	"bytes"
	"fmt"
	"log/slog"

	"github.com/google/nftables"
	"github.com/google/nftables/expr"
)

const (
	// nftTableName is the nftables table name used by policygate.
	// The masquerade rule is scoped to this table so it doesn't interfere
	// with other firewall rules on the system.
	nftTableName = "policygate"

	nftChainName = "postrouting"
)

// NFTMasquerade manages the NAT masquerade rule for the VPN interface
// through nftables netlink, as an alternative to the iptables command line.
// It creates a dedicated "policygate" table with a postrouting NAT chain.
//
// Requires CAP_NET_ADMIN.
type NFTMasquerade struct {
	log *slog.Logger
}

// NewNFTMasquerade creates a new NFTMasquerade.
func NewNFTMasquerade(logger *slog.Logger) *NFTMasquerade {
	if logger == nil {
		logger = slog.Default()
	}
	return &NFTMasquerade{
		log: logger.With("component", "nat"),
	}
}

// Exists reports whether a masquerade rule for outIface is present in the
// policygate postrouting chain. A missing table or chain means no rule.
func (n *NFTMasquerade) Exists(outIface string) (bool, error) {
	c, err := nftables.New()
	if err != nil {
		return false, fmt.Errorf("connecting to nftables: %w", err)
	}

	table, chain, err := findChain(c)
	if err != nil {
		return false, err
	}
	if chain == nil {
		return false, nil
	}

	rules, err := c.GetRules(table, chain)
	if err != nil {
		return false, fmt.Errorf("listing rules of %s/%s: %w", nftTableName, nftChainName, err)
	}
	for _, r := range rules {
		if isMasqueradeFor(r.Exprs, outIface) {
			return true, nil
		}
	}
	return false, nil
}

// Add creates the policygate table and chain if needed and appends a rule
// equivalent to:
//
//	nft add table ip policygate
//	nft add chain ip policygate postrouting { type nat hook postrouting priority srcnat; }
//	nft add rule ip policygate postrouting oifname <outIface> masquerade
//
// Add does not check for an existing rule; call Exists first.
func (n *NFTMasquerade) Add(outIface string) error {
	c, err := nftables.New()
	if err != nil {
		return fmt.Errorf("connecting to nftables: %w", err)
	}

	table := c.AddTable(&nftables.Table{
		Family: nftables.TableFamilyIPv4,
		Name:   nftTableName,
	})

	chain := c.AddChain(&nftables.Chain{
		Name:     nftChainName,
		Table:    table,
		Type:     nftables.ChainTypeNAT,
		Hooknum:  nftables.ChainHookPostrouting,
		Priority: nftables.ChainPriorityNATSource,
	})

	c.AddRule(&nftables.Rule{
		Table: table,
		Chain: chain,
		Exprs: masqueradeExprs(outIface),
	})

	// Flush all buffered commands atomically.
	if err := c.Flush(); err != nil {
		return fmt.Errorf("applying nftables rules: %w", err)
	}

	n.log.Info("nftables masquerade rule added",
		"table", nftTableName,
		"out_iface", outIface,
	)
	return nil
}

// findChain looks up the policygate table and its postrouting chain. Both
// are nil when they have not been created yet.
func findChain(c *nftables.Conn) (*nftables.Table, *nftables.Chain, error) {
	chains, err := c.ListChainsOfTableFamily(nftables.TableFamilyIPv4)
	if err != nil {
		return nil, nil, fmt.Errorf("listing nftables chains: %w", err)
	}
	for _, ch := range chains {
		if ch.Table != nil && ch.Table.Name == nftTableName && ch.Name == nftChainName {
			return ch.Table, ch, nil
		}
	}
	return nil, nil, nil
}

// masqueradeExprs builds: meta oifname == <outIface> masquerade.
func masqueradeExprs(outIface string) []expr.Any {
	return []expr.Any{
		// Load output interface name into register 1.
		&expr.Meta{
			Key:      expr.MetaKeyOIFNAME,
			Register: 1,
		},
		// Compare with target interface name.
		&expr.Cmp{
			Op:       expr.CmpOpEq,
			Register: 1,
			Data:     ifname(outIface),
		},
		&expr.Masq{},
	}
}

// isMasqueradeFor reports whether exprs match an oifname comparison against
// outIface followed by a masquerade verdict.
func isMasqueradeFor(exprs []expr.Any, outIface string) bool {
	want := ifname(outIface)
	var oifLoaded, ifaceMatched bool
	for _, e := range exprs {
		switch v := e.(type) {
		case *expr.Meta:
			oifLoaded = v.Key == expr.MetaKeyOIFNAME
		case *expr.Cmp:
			if oifLoaded && v.Op == expr.CmpOpEq && bytes.Equal(padIfname(v.Data), want) {
				ifaceMatched = true
			}
		case *expr.Masq:
			return ifaceMatched
		}
	}
	return false
}

// ifname pads an interface name to 16 bytes (IFNAMSIZ) with null bytes for
// nftables comparison.
func ifname(name string) []byte {
	b := make([]byte, 16)
	copy(b, name)
	return b
}

// padIfname normalises a comparison operand read back from the kernel,
// which may or may not carry the trailing padding.
func padIfname(b []byte) []byte {
	if len(b) >= 16 {
		return b[:16]
	}
	p := make([]byte, 16)
	copy(p, b)
	return p
}
