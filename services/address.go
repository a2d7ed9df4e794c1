package services

import (
	"encoding/hex"
	"regexp"
	"strings"

	"golang.org/x/crypto/sha3"
)

var addressPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// ValidateAddress checks the 42-character hex form. All-lower and all-upper addresses
// are accepted as is; mixed-case addresses must carry a valid EIP-55 checksum.
func ValidateAddress(address string) error {
	if !addressPattern.MatchString(address) {
		return newError(KindInvalidRecipient, "malformed wallet address %q", address)
	}
	body := address[2:]
	if body == strings.ToLower(body) || body == strings.ToUpper(body) {
		return nil
	}
	if ChecksumAddress(address) != address {
		return newError(KindInvalidRecipient, "bad EIP-55 checksum for %q", address)
	}
	return nil
}

// ChecksumAddress returns the EIP-55 mixed-case form of a 0x-prefixed hex address.
func ChecksumAddress(address string) string {
	lower := strings.ToLower(strings.TrimPrefix(address, "0x"))
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(lower))
	digest := hex.EncodeToString(h.Sum(nil))

	out := []byte(lower)
	for i, c := range out {
		if c >= 'a' && c <= 'f' && digest[i] >= '8' {
			out[i] = c - 32
		}
	}
	return "0x" + string(out)
}

// SameAddress compares two addresses case-insensitively.
func SameAddress(a, b string) bool {
	return strings.EqualFold(a, b)
}
