// Package identity parses caller addresses: 0x followed by 40 hex digits,
// rendered in the mixed-case checksum form.
package identity

import (
	"encoding/hex"
	"errors"
	"strings"

	"golang.org/x/crypto/sha3"
)

const addressHexLen = 40

var (
	// ErrInvalidAddress reports a value that is not 0x plus 40 hex digits.
	ErrInvalidAddress = errors.New("identity: invalid address")
	// ErrBadChecksum reports mixed-case input whose casing does not match its checksum.
	ErrBadChecksum = errors.New("identity: checksum mismatch")
)

// Parse validates raw and returns its checksummed form. All-lowercase and
// all-uppercase input is accepted as-is; mixed case must already carry a valid checksum.
func Parse(raw string) (string, error) {
	value := strings.TrimSpace(raw)
	if len(value) != addressHexLen+2 || !(strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X")) {
		return "", ErrInvalidAddress
	}
	digits := value[2:]
	if _, err := hex.DecodeString(digits); err != nil {
		return "", ErrInvalidAddress
	}
	sum := checksum(strings.ToLower(digits))
	if mixedCase(digits) && digits != sum {
		return "", ErrBadChecksum
	}
	return "0x" + sum, nil
}

func checksum(lower string) string {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(lower))
	digest := h.Sum(nil)

	out := []byte(lower)
	for i, c := range out {
		if c < 'a' || c > 'f' {
			continue
		}
		nibble := digest[i/2]
		if i%2 == 0 {
			nibble >>= 4
		}
		if nibble&0x0f >= 8 {
			out[i] = c - 'a' + 'A'
		}
	}
	return string(out)
}

func mixedCase(s string) bool {
	return strings.ToLower(s) != s && strings.ToUpper(s) != s
}
