package wire

import (
	"fmt"
	"net"
	"strconv"
)

// Authority is an (ip, port) pair, held in IPv4-in-IPv6 form
// internally. Equality ignores timestamp/services — two AddressItems
// with the same Authority are the same peer regardless of when they
// were last seen or what services they advertised.
type Authority struct {
	ip   [16]byte
	port uint16
}

// NewAuthority builds an Authority from a net.IP and port, normalising
// IPv4 addresses into their IPv4-in-IPv6 form.
func NewAuthority(ip net.IP, port uint16) Authority {
	var a Authority
	copy(a.ip[:], ip.To16())
	a.port = port
	return a
}

// ParseAuthority parses a "[host]:port" or "host:port" string.
func ParseAuthority(s string) (Authority, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return Authority{}, fmt.Errorf("parse authority %q: %w", s, err)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return Authority{}, fmt.Errorf("parse authority port %q: %w", s, err)
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return Authority{}, fmt.Errorf("parse authority host %q: invalid IP", host)
	}
	return NewAuthority(ip, uint16(port)), nil
}

// IP returns the address as a net.IP.
func (a Authority) IP() net.IP { return net.IP(a.ip[:]) }

// Port returns the TCP port.
func (a Authority) Port() uint16 { return a.port }

// IsIPv4 reports whether the address is an IPv4-mapped IPv6 address.
func (a Authority) IsIPv4() bool { return a.IP().To4() != nil }

// String renders "ip:port", with the IP in brackets only for IPv6
// (IPv4-mapped addresses render in dotted IPv4 form).
func (a Authority) String() string {
	return net.JoinHostPort(a.IP().String(), strconv.Itoa(int(a.port)))
}

// AddressItem is an Authority plus the metadata carried on the wire in
// an `addr`/`addrv2` message.
type AddressItem struct {
	Authority Authority
	Timestamp uint32
	Services  uint64
}

// Equal compares two items by Authority only (timestamp/services are
// not part of identity).
func (a AddressItem) Equal(other AddressItem) bool {
	return a.Authority == other.Authority
}
