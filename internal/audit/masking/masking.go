// Package masking redacts personal and payout data before it reaches
// audit metadata, risk rationales or logs.
package masking

import (
	"net/netip"
	"strings"
)

const maskToken = "****"

// MaskSecret keeps a Stripe-style prefix ("acct_") and the last four
// characters: acct_1ABCDEFGHWXYZ becomes acct_****WXYZ.
func MaskSecret(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}

	prefix, rest := "", value
	if i := strings.LastIndex(value, "_"); i >= 0 && i < len(value)-1 {
		prefix, rest = value[:i+1], value[i+1:]
	}
	if len(rest) <= 4 {
		return prefix + maskToken
	}
	return prefix + maskToken + rest[len(rest)-4:]
}

// MaskEmail keeps the first character of the local part and the domain.
func MaskEmail(value string) string {
	value = strings.TrimSpace(value)
	at := strings.LastIndex(value, "@")
	if at <= 0 {
		return MaskSecret(value)
	}
	return value[:1] + maskToken + value[at:]
}

// MaskIP keeps the network part of an address: the /24 of IPv4 and the
// /48 of IPv6. Unparsable input is fully masked.
func MaskIP(value string) string {
	addr, err := netip.ParseAddr(strings.TrimSpace(value))
	if err != nil {
		if strings.TrimSpace(value) == "" {
			return ""
		}
		return maskToken
	}
	addr = addr.Unmap()
	bits := 48
	if addr.Is4() {
		bits = 24
	}
	prefix, err := addr.Prefix(bits)
	if err != nil {
		return maskToken
	}
	return prefix.String()
}
