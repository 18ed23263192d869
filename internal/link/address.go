package link

import (
	"fmt"
	"net"
)

// AddressSize is the length of a link-layer address in bytes.
const AddressSize = 6

// Address is a 6-byte link-layer (MAC) address.
//
// Equality is byte-exact, so Address can be used as a map key and compared
// with ==.
type Address [AddressSize]byte

// Broadcast is the reserved all-ones address that every peer accepts.
var Broadcast = Address{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}

// ParseAddress parses a textual MAC address.
//
// Both ':' and '-' separators are accepted, case-insensitively
// (e.g. "aa:bb:cc:00:00:01" or "AA-BB-CC-00-00-01").
//
// Returns:
//   - Address: Parsed address
//   - error: ErrInvalidAddress if the text is not a 6-byte MAC
func ParseAddress(s string) (Address, error) {
	hw, err := net.ParseMAC(s)
	if err != nil {
		return Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	if len(hw) != AddressSize {
		return Address{}, fmt.Errorf("%w: %q is not a 6-byte MAC", ErrInvalidAddress, s)
	}

	var a Address
	copy(a[:], hw)
	return a, nil
}

// MustParseAddress is like ParseAddress but panics on error.
// Intended for constants and tests.
func MustParseAddress(s string) Address {
	a, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}

// IsBroadcast reports whether a is the broadcast address.
func (a Address) IsBroadcast() bool {
	return a == Broadcast
}

// IsZero reports whether a is the all-zero address.
func (a Address) IsZero() bool {
	return a == Address{}
}

// String returns the address as upper-case, colon-separated hex
// (e.g. "AA:BB:CC:00:00:01").
func (a Address) String() string {
	return fmt.Sprintf("%02X:%02X:%02X:%02X:%02X:%02X", a[0], a[1], a[2], a[3], a[4], a[5])
}

// MarshalText implements encoding.TextMarshaler so addresses serialise as
// strings in JSON.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
