// Package hexcodec provides fixed-width hex encoding, EIP-55 checksummed
// address formatting, and SQL identifier quoting/validation.
package hexcodec

import (
	"encoding/hex"
	"regexp"
	"strings"

	"golang.org/x/crypto/sha3"

	"github.com/hashledger/hashledger/apperr"
)

// Parse decodes hex, accepting an optional "0x" prefix. The input must have
// even length after the prefix is stripped.
func Parse(s string) ([]byte, error) {
	s = strings.TrimPrefix(s, "0x")
	s = strings.TrimPrefix(s, "0X")
	if len(s)%2 != 0 {
		return nil, apperr.New(400, apperr.CodeInvalidHex, "hex string has odd length")
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, apperr.Wrap(400, apperr.CodeInvalidHex, "invalid hex string", err)
	}
	return b, nil
}

// Emit returns lowercase hex for b, with "0x" prepended when withPrefix is true.
func Emit(b []byte, withPrefix bool) string {
	s := hex.EncodeToString(b)
	if withPrefix {
		return "0x" + s
	}
	return s
}

var identifierRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidIdentifier reports whether name is a safe bare SQL identifier.
func ValidIdentifier(name string) bool {
	return identifierRe.MatchString(name)
}

// QuoteIdentifier wraps name in double quotes, doubling any embedded double
// quote, per SQL identifier-quoting convention.
func QuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// ChecksumAddress applies EIP-55 mixed-case checksumming to a 20-byte
// address's lowercase hex form.
func ChecksumAddress(addr20 []byte) string {
	lower := hex.EncodeToString(addr20)
	digest := sha3.NewLegacyKeccak256()
	digest.Write([]byte(lower))
	hashed := digest.Sum(nil)

	out := make([]byte, len(lower))
	for i, c := range lower {
		if c >= 'a' && c <= 'f' {
			nibble := hashed[i/2]
			if i%2 == 0 {
				nibble >>= 4
			} else {
				nibble &= 0x0f
			}
			if nibble >= 8 {
				out[i] = byte(c) - 'a' + 'A'
				continue
			}
		}
		out[i] = byte(c)
	}
	return "0x" + string(out)
}

// ParseAddress validates and normalizes an address string (with or without
// 0x, any case) to raw 20 bytes.
func ParseAddress(s string) ([]byte, error) {
	b, err := Parse(s)
	if err != nil {
		return nil, err
	}
	if len(b) != 20 {
		return nil, apperr.New(400, apperr.CodeInvalidLength, "address must be 20 bytes")
	}
	return b, nil
}
