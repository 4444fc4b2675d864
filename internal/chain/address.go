package chain

import "strings"

// ValidAddress reports whether addr starts with prefix and has length
// in [40, 65], the generic rule this spec uses in place of a
// chain-specific checksum. Adapted from the nhbchain RPC handlers'
// bech32-style address checks.
func ValidAddress(prefix, addr string) bool {
	if !strings.HasPrefix(addr, prefix) {
		return false
	}
	return len(addr) >= 40 && len(addr) <= 65
}
