package discovery

import (
	"cmp"
	"net"
	"slices"
)

// SortIPsByPreference returns a sorted copy of ips, best bearer address
// first: IPv4, then routable IPv6, then link-local IPv6, then loopback.
func SortIPsByPreference(ips []net.IP) []net.IP {
	sorted := slices.Clone(ips)
	slices.SortStableFunc(sorted, func(a, b net.IP) int {
		return cmp.Compare(ipRank(a), ipRank(b))
	})
	return sorted
}

func ipRank(ip net.IP) int {
	switch {
	case ip.To16() == nil:
		return 5
	case ip.IsMulticast():
		return 4
	case ip.IsLoopback():
		return 3
	case ip.To4() != nil:
		return 0
	case ip.IsLinkLocalUnicast():
		return 2
	default:
		return 1
	}
}
