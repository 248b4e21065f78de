package sessionid

import (
	"encoding/hex"
	"errors"
)

// counterHexLen is the fixed width of the hex-encoded 8-byte counter
// prefix, chosen so an ID can always be split unambiguously into its
// counter and address parts without an escaping scheme.
const counterHexLen = 16

// ErrMalformed is returned when a string is not a well-formed ID.
var ErrMalformed = errors.New("sessionid: malformed id")

// Address is a serialized transport address, opaque to this package.
// Its concrete format (host:port, URL, etc.) is owned by the transport
// implementation.
type Address string

// ID is a session's opaque, round-trippable string identity: the
// hex-encoded time-based counter followed directly by the address.
type ID string

// New composes an ID from a counter and an address.
func New(counter uint64, addr Address) ID {
	buf := make([]byte, 8)
	for i := 0; i < 8; i++ {
		buf[7-i] = byte(counter)
		counter >>= 8
	}
	return ID(hex.EncodeToString(buf) + string(addr))
}

// Parse validates and splits s into its counter and address parts.
func Parse(s string) (counter uint64, addr Address, err error) {
	if len(s) < counterHexLen {
		return 0, "", ErrMalformed
	}
	raw, err := hex.DecodeString(s[:counterHexLen])
	if err != nil || len(raw) != 8 {
		return 0, "", ErrMalformed
	}
	for _, b := range raw {
		counter = counter<<8 | uint64(b)
	}
	return counter, Address(s[counterHexLen:]), nil
}

// Counter returns the time-based counter embedded in id.
func (id ID) Counter() (uint64, error) {
	c, _, err := Parse(string(id))
	return c, err
}

// Address returns the address embedded in id.
func (id ID) Address() (Address, error) {
	_, a, err := Parse(string(id))
	return a, err
}

// String returns id's textual form (ID is already a string type; this
// satisfies fmt.Stringer for consistent logging).
func (id ID) String() string {
	return string(id)
}
