package tunnel

import (
	"fmt"
	"net"
	"strings"
)

// SubnetInfo describes a local network subnet discovered on a host interface.
type SubnetInfo struct {
	CIDR      string // network CIDR, e.g. "192.168.178.0/24"
	Interface string // interface name, e.g. "eth0"
}

// virtualPrefixes are interface name prefixes for tunnel, container and
// bridge interfaces that never carry the gateway's LAN.
var virtualPrefixes = []string{
	"docker", "veth", "br-", "virbr", "lxc", "lxd",
	"cni", "flannel", "calico", "weave",
	"tun", "wg", "tailscale", "utun", "ppp",
	"podman", "cali", "vxlan",
}

// DiscoverLocalSubnets returns the IPv4 subnets of the host's physical
// interfaces. It is used to suggest a local_network when writing a fresh
// config file.
//
// It filters out:
//   - Loopback and down interfaces
//   - Link-local addresses (169.254.0.0/16)
//   - IPv6 addresses
//   - Host routes (/32)
//   - Tunnel and container interfaces (tun, wg, docker, veth, ...)
func DiscoverLocalSubnets(list InterfaceLister) ([]SubnetInfo, error) {
	if list == nil {
		list = net.Interfaces
	}
	ifaces, err := list()
	if err != nil {
		return nil, fmt.Errorf("listing interfaces: %w", err)
	}

	seen := make(map[string]bool)
	var results []SubnetInfo

	for _, iface := range ifaces {
		if shouldSkipInterface(iface) {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			ip, ipNet, err := net.ParseCIDR(addr.String())
			if err != nil {
				continue
			}
			ip4 := ip.To4()
			if ip4 == nil {
				continue
			}
			if ip4[0] == 169 && ip4[1] == 254 {
				continue
			}

			ones, bits := ipNet.Mask.Size()
			if ones == bits {
				continue
			}
			cidr := fmt.Sprintf("%s/%d", ip4.Mask(ipNet.Mask), ones)

			if seen[cidr] {
				continue
			}
			seen[cidr] = true

			results = append(results, SubnetInfo{
				CIDR:      cidr,
				Interface: iface.Name,
			})
		}
	}

	return results, nil
}

// shouldSkipInterface returns true if the interface should be excluded from
// subnet discovery (loopback, down, or virtual/tunnel interface).
func shouldSkipInterface(iface net.Interface) bool {
	if !isActive(iface) {
		return true
	}

	name := strings.ToLower(iface.Name)
	for _, prefix := range virtualPrefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}

	return false
}
