package model

import (
	"errors"
	"regexp"
	"strings"
)

// ErrInvalidAddress is returned for anything that is not a 48-bit MAC.
var ErrInvalidAddress = errors.New("invalid_mac_address")

var (
	rawMACPattern       = regexp.MustCompile(`^[0-9A-Fa-f]{12}$`)
	delimitedMACPattern = regexp.MustCompile(`^([0-9A-Fa-f]{2}[:-]){5}[0-9A-Fa-f]{2}$`)
)

// Address is a canonical device address: uppercase, colon delimited.
type Address string

// ParseAddress accepts "aabbccddeeff", "aa:bb:cc:dd:ee:ff" or "aa-bb-cc-dd-ee-ff"
// and returns the canonical form.
func ParseAddress(raw string) (Address, error) {
	s := strings.TrimSpace(raw)
	switch {
	case rawMACPattern.MatchString(s):
	case delimitedMACPattern.MatchString(s):
		if strings.Contains(s, ":") && strings.Contains(s, "-") {
			return "", ErrInvalidAddress
		}
		s = strings.NewReplacer(":", "", "-", "").Replace(s)
	default:
		return "", ErrInvalidAddress
	}

	s = strings.ToUpper(s)
	parts := make([]string, 0, 6)
	for i := 0; i < 12; i += 2 {
		parts = append(parts, s[i:i+2])
	}
	return Address(strings.Join(parts, ":")), nil
}

func (a Address) String() string {
	return string(a)
}
