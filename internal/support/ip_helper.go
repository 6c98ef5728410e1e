package support

import (
	"fmt"
	"net"
)

// NormalizeIPv4 returns the canonical dotted-quad form of an IPv4 address,
// or "" when the input is not a valid IPv4 address.
func NormalizeIPv4(raw string) string {
	parsed := net.ParseIP(raw)
	if parsed == nil {
		return ""
	}
	v4 := parsed.To4()
	if v4 == nil {
		return ""
	}
	return v4.String()
}

// IPToUint32 converts an IPv4 address to its 32-bit representation.
// Non-IPv4 input maps to 0.
func IPToUint32(ip net.IP) uint32 {
	ip = ip.To4()
	if ip == nil {
		return 0
	}
	return uint32(ip[0])<<24 | uint32(ip[1])<<16 | uint32(ip[2])<<8 | uint32(ip[3])
}

// ParseCIDRv4 validates an IPv4 CIDR and returns its normalized form plus
// the inclusive 32-bit bounds of the network.
func ParseCIDRv4(raw string) (string, uint32, uint32, error) {
	_, ipnet, err := net.ParseCIDR(raw)
	if err != nil || ipnet == nil {
		return "", 0, 0, fmt.Errorf("parse cidr %q: invalid notation", raw)
	}

	base := ipnet.IP.To4()
	if base == nil {
		return "", 0, 0, fmt.Errorf("parse cidr %q: not an IPv4 network", raw)
	}

	ones, bits := ipnet.Mask.Size()
	if bits != 32 || ones < 0 || ones > 32 {
		return "", 0, 0, fmt.Errorf("parse cidr %q: invalid mask", raw)
	}

	start := IPToUint32(base.Mask(ipnet.Mask))
	hostCount := uint32(1) << uint32(bits-ones)
	end := start + hostCount - 1

	return ipnet.String(), start, end, nil
}

// IsReservedIPv4 reports whether the address is private, loopback,
// link-local or unspecified. Such addresses must never be blocked.
func IsReservedIPv4(raw string) bool {
	parsed := net.ParseIP(raw)
	if parsed == nil {
		return false
	}
	v4 := parsed.To4()
	if v4 == nil {
		return false
	}
	return v4.IsPrivate() || v4.IsLoopback() || v4.IsLinkLocalUnicast() || v4.IsUnspecified()
}
