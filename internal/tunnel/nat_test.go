//go:build linux

package tunnel

import (
	"testing"

	"github.com/google/nftables/expr"
)

func TestMasqueradeExprs_matchOwnInterface(t *testing.T) {
	t.Parallel()

	exprs := masqueradeExprs("tun0")
	if !isMasqueradeFor(exprs, "tun0") {
		t.Error("rule built for tun0 not recognised")
	}
	if isMasqueradeFor(exprs, "tun1") {
		t.Error("rule built for tun0 matched tun1")
	}
}

func TestIsMasqueradeFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		exprs []expr.Any
		want  bool
	}{
		{
			name: "unpadded interface name from kernel",
			exprs: []expr.Any{
				&expr.Meta{Key: expr.MetaKeyOIFNAME, Register: 1},
				&expr.Cmp{Op: expr.CmpOpEq, Register: 1, Data: []byte("wg0\x00")},
				&expr.Masq{},
			},
			want: true,
		},
		{
			name: "input interface is not output interface",
			exprs: []expr.Any{
				&expr.Meta{Key: expr.MetaKeyIIFNAME, Register: 1},
				&expr.Cmp{Op: expr.CmpOpEq, Register: 1, Data: ifname("wg0")},
				&expr.Masq{},
			},
			want: false,
		},
		{
			name: "no masquerade verdict",
			exprs: []expr.Any{
				&expr.Meta{Key: expr.MetaKeyOIFNAME, Register: 1},
				&expr.Cmp{Op: expr.CmpOpEq, Register: 1, Data: ifname("wg0")},
			},
			want: false,
		},
		{
			name:  "masquerade without interface match",
			exprs: []expr.Any{&expr.Masq{}},
			want:  false,
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := isMasqueradeFor(tc.exprs, "wg0"); got != tc.want {
				t.Errorf("isMasqueradeFor() = %v, want %v", got, tc.want)
			}
		})
	}
}
