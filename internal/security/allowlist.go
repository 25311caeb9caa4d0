package security

import (
	"net/netip"
	"strings"
)

// Allowed reports whether ip matches an entry. Entries are exact addresses
// or IPv4 prefixes at /8, /16 or /24; other prefix lengths never match.
func Allowed(entries []string, ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()

	for _, raw := range entries {
		entry := strings.TrimSpace(raw)
		if entry == "" {
			continue
		}
		if !strings.Contains(entry, "/") {
			if exact, err := netip.ParseAddr(entry); err == nil && exact.Unmap() == addr {
				return true
			}
			continue
		}

		prefix, err := netip.ParsePrefix(entry)
		if err != nil || !prefix.Addr().Is4() {
			continue
		}
		switch prefix.Bits() {
		case 8, 16, 24:
			if prefix.Masked().Contains(addr) {
				return true
			}
		case 32:
			if prefix.Addr() == addr {
				return true
			}
		}
	}
	return false
}
