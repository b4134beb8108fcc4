//go:build !linux

package tunnel

import (
	"errors"
	"log/slog"
)

var errNoNFTables = errors.New("nftables is only available on linux")

// NFTMasquerade is unavailable off Linux; every method fails.
type NFTMasquerade struct{}

// NewNFTMasquerade creates a new NFTMasquerade.
func NewNFTMasquerade(logger *slog.Logger) *NFTMasquerade {
	return &NFTMasquerade{}
}

// Exists always fails on this platform.
func (n *NFTMasquerade) Exists(outIface string) (bool, error) { return false, errNoNFTables }

// Add always fails on this platform.
func (n *NFTMasquerade) Add(outIface string) error { return errNoNFTables }
