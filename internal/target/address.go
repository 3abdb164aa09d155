// Package target provides address parsing, generation, filtering, and
// target expansion for the probing pipeline. Addresses are IPv4 only
// and held as 32-bit values so sources can enumerate and filter
// without allocating.
package target

import (
	"encoding/binary"
	"fmt"
	"net/netip"
	"strings"
)

// Address is an IPv4 host address held as its 32-bit numeric value.
type Address uint32

// ParseAddress parses a dotted-quad IPv4 address.
func ParseAddress(s string) (Address, error) {
	addr, err := netip.ParseAddr(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid address %q: %w", s, err)
	}
	if !addr.Is4() {
		return 0, fmt.Errorf("not an IPv4 address: %q", s)
	}
	return FromNetip(addr), nil
}

// FromNetip converts a netip address to its 32-bit form. The address
// must be IPv4.
func FromNetip(addr netip.Addr) Address {
	b := addr.As4()
	return Address(binary.BigEndian.Uint32(b[:]))
}

// Netip converts the address to its netip form.
func (a Address) Netip() netip.Addr {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(a))
	return netip.AddrFrom4(b)
}

// String renders the address in dotted-quad form.
func (a Address) String() string {
	return a.Netip().String()
}

// Target is a single (address, port) probe unit. Targets are created
// by the expander and consumed exactly once by one worker.
type Target struct {
	Addr Address
	Port uint16
}

// String renders the target as "address:port" for dialing.
func (t Target) String() string {
	return fmt.Sprintf("%s:%d", t.Addr, t.Port)
}
