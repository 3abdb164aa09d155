package target

import "net/netip"

// Reserved and special-purpose IPv4 ranges that are never probed.
// The documentation ranges (192.0.2.0/24, 198.51.100.0/24,
// 203.0.113.0/24) are not excluded.
var reservedPrefixes = mustPrefixes(
	"0.0.0.0/8",          // "this network"
	"10.0.0.0/8",         // private
	"100.64.0.0/10",      // carrier-grade NAT
	"127.0.0.0/8",        // loopback
	"169.254.0.0/16",     // link-local
	"172.16.0.0/12",      // private
	"192.168.0.0/16",     // private
	"198.18.0.0/15",      // benchmarking
	"224.0.0.0/4",        // multicast
	"240.0.0.0/4",        // reserved
	"255.255.255.255/32", // broadcast
)

func mustPrefixes(specs ...string) []netip.Prefix {
	out := make([]netip.Prefix, len(specs))
	for i, s := range specs {
		out[i] = netip.MustParsePrefix(s)
	}
	return out
}

// IsRoutable reports whether an address may be probed. Sources apply
// this before an address ever reaches the pipeline, so excluded
// addresses never consume a rate token or a worker slot.
func IsRoutable(a Address) bool {
	ip := a.Netip()
	for _, p := range reservedPrefixes {
		if p.Contains(ip) {
			return false
		}
	}
	return true
}
