package tunnel

import (
	"fmt"
	"os"
	"strings"
)

// forwardingPath is the global IPv4 forwarding switch. It is world-readable,
// so probing it needs no privileges.
const forwardingPath = "/proc/sys/net/ipv4/ip_forward"

// ForwardingEnabled reports whether global IPv4 forwarding is on.
func ForwardingEnabled() (bool, error) {
	return readForwarding(forwardingPath)
}

func readForwarding(path string) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return false, fmt.Errorf("reading forwarding state: %w", err)
	}
	return strings.TrimSpace(string(data)) == "1", nil
}
