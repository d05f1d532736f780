package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/libbitcoin/network/internal/errcode"
)

// Payload is the codec trait every concrete message type implements.
// Bodies beyond the handful below (handshake, keepalive, address
// exchange) are an external contract: callers that need other Bitcoin
// message types supply their own Payload implementations and Decoders.
type Payload interface {
	// Command returns the wire command string, e.g. "version".
	Command() string
	// Encode serialises the payload for the given negotiated version.
	Encode(version uint32) ([]byte, error)
}

// Decoder parses bytes into a Payload for a given negotiated version.
type Decoder func(version uint32, payload []byte) (Payload, error)

// VersionMessage is the handshake's initial message.
type VersionMessage struct {
	Value     uint32 // protocol version this side offers
	Services  uint64
	Timestamp int64
	Nonce     uint64
	UserAgent string
	StartHeight uint32
	Relay     bool
	relaySet  bool // true if the relay byte was present on the wire
}

func (VersionMessage) Command() string { return "version" }

// RelayPresent reports whether the BIP37 relay byte was present on the
// wire. The source tolerates its absence at version >= Bip37Version
// because mainline peers frequently omit it (§9 Open Questions); when
// absent, Relay defaults to true.
func (v VersionMessage) RelayPresent() bool { return v.relaySet }

const Bip37Version = 70001

func (v VersionMessage) Encode(uint32) ([]byte, error) {
	buf := make([]byte, 0, 4+8+8+8+1+len(v.UserAgent)+4+1)
	buf = appendUint32(buf, v.Value)
	buf = appendUint64(buf, v.Services)
	buf = appendUint64(buf, uint64(v.Timestamp))
	buf = appendUint64(buf, v.Nonce)
	buf = append(buf, byte(len(v.UserAgent)))
	buf = append(buf, v.UserAgent...)
	buf = appendUint32(buf, v.StartHeight)
	relay := byte(0)
	if v.Relay {
		relay = 1
	}
	buf = append(buf, relay)
	return buf, nil
}

func decodeVersion(version uint32, payload []byte) (Payload, error) {
	const minLen = 4 + 8 + 8 + 8 + 1 + 4
	if len(payload) < minLen {
		return nil, errcode.New(errcode.InvalidMessage)
	}
	var v VersionMessage
	off := 0
	v.Value = binary.LittleEndian.Uint32(payload[off:])
	off += 4
	v.Services = binary.LittleEndian.Uint64(payload[off:])
	off += 8
	v.Timestamp = int64(binary.LittleEndian.Uint64(payload[off:]))
	off += 8
	v.Nonce = binary.LittleEndian.Uint64(payload[off:])
	off += 8
	if off >= len(payload) {
		return nil, errcode.New(errcode.InvalidMessage)
	}
	uaLen := int(payload[off])
	off++
	if off+uaLen+4 > len(payload) {
		return nil, errcode.New(errcode.InvalidMessage)
	}
	v.UserAgent = string(payload[off : off+uaLen])
	off += uaLen
	v.StartHeight = binary.LittleEndian.Uint32(payload[off:])
	off += 4

	// BIP37 relay byte: tolerate its absence even at version >= Bip37Version.
	if off < len(payload) {
		v.relaySet = true
		v.Relay = payload[off] != 0
	} else {
		v.Relay = true
	}
	return v, nil
}

// VerackMessage has no body.
type VerackMessage struct{}

func (VerackMessage) Command() string                { return "verack" }
func (VerackMessage) Encode(uint32) ([]byte, error)   { return nil, nil }
func decodeVerack(uint32, []byte) (Payload, error)    { return VerackMessage{}, nil }

// PingMessage carries a nonce from BIP31 onward; pre-BIP31 peers send
// (and expect) an empty ping.
const Bip31Version = 60001

type PingMessage struct {
	Nonce    uint64
	NoncePresent bool
}

func (PingMessage) Command() string { return "ping" }

func (p PingMessage) Encode(version uint32) ([]byte, error) {
	if version < Bip31Version || !p.NoncePresent {
		return nil, nil
	}
	return appendUint64(nil, p.Nonce), nil
}

func decodePing(version uint32, payload []byte) (Payload, error) {
	if len(payload) < 8 {
		return PingMessage{}, nil
	}
	return PingMessage{Nonce: binary.LittleEndian.Uint64(payload), NoncePresent: true}, nil
}

// PongMessage always carries the nonce it is replying to.
type PongMessage struct {
	Nonce uint64
}

func (PongMessage) Command() string { return "pong" }
func (p PongMessage) Encode(uint32) ([]byte, error) {
	return appendUint64(nil, p.Nonce), nil
}
func decodePong(version uint32, payload []byte) (Payload, error) {
	if len(payload) < 8 {
		return nil, errcode.New(errcode.InvalidMessage)
	}
	return PongMessage{Nonce: binary.LittleEndian.Uint64(payload)}, nil
}

// GetAddrMessage has no body.
type GetAddrMessage struct{}

func (GetAddrMessage) Command() string              { return "getaddr" }
func (GetAddrMessage) Encode(uint32) ([]byte, error) { return nil, nil }
func decodeGetAddr(uint32, []byte) (Payload, error)  { return GetAddrMessage{}, nil }

// AddrMessage carries a relay batch of AddressItems.
type AddrMessage struct {
	Addresses []AddressItem
}

func (AddrMessage) Command() string { return "addr" }

func (m AddrMessage) Encode(uint32) ([]byte, error) {
	buf := appendVarInt(nil, uint64(len(m.Addresses)))
	for _, a := range m.Addresses {
		buf = appendUint32(buf, a.Timestamp)
		buf = appendUint64(buf, a.Services)
		buf = append(buf, a.Authority.IP()...)
		port := make([]byte, 2)
		binary.BigEndian.PutUint16(port, a.Authority.Port())
		buf = append(buf, port...)
	}
	return buf, nil
}

func decodeAddr(version uint32, payload []byte) (Payload, error) {
	count, off, err := readVarInt(payload)
	if err != nil {
		return nil, errcode.New(errcode.InvalidMessage)
	}
	const entrySize = 4 + 8 + 16 + 2
	if off+int(count)*entrySize > len(payload) {
		return nil, errcode.New(errcode.InvalidMessage)
	}
	items := make([]AddressItem, 0, count)
	for i := uint64(0); i < count; i++ {
		ts := binary.LittleEndian.Uint32(payload[off:])
		off += 4
		services := binary.LittleEndian.Uint64(payload[off:])
		off += 8
		ip := append([]byte(nil), payload[off:off+16]...)
		off += 16
		port := binary.BigEndian.Uint16(payload[off : off+2])
		off += 2
		items = append(items, AddressItem{
			Authority: NewAuthority(ip, port),
			Timestamp: ts,
			Services:  services,
		})
	}
	return AddrMessage{Addresses: items}, nil
}

// Codecs maps every MessageId this package knows about to its Decoder.
// The distributor (§4.5) consults this table by MessageId.
var Codecs = map[MessageId]Decoder{
	Version: decodeVersion,
	Verack:  decodeVerack,
	Ping:    decodePing,
	Pong:    decodePong,
	GetAddr: decodeGetAddr,
	Addr:    decodeAddr,
}

func appendUint32(buf []byte, v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return append(buf, b...)
}

func appendUint64(buf []byte, v uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, v)
	return append(buf, b...)
}

func appendVarInt(buf []byte, v uint64) []byte {
	switch {
	case v < 0xfd:
		return append(buf, byte(v))
	case v <= 0xffff:
		buf = append(buf, 0xfd)
		return appendUint16(buf, uint16(v))
	case v <= 0xffffffff:
		buf = append(buf, 0xfe)
		return appendUint32(buf, uint32(v))
	default:
		buf = append(buf, 0xff)
		return appendUint64(buf, v)
	}
}

func appendUint16(buf []byte, v uint16) []byte {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, v)
	return append(buf, b...)
}

func readVarInt(buf []byte) (uint64, int, error) {
	if len(buf) == 0 {
		return 0, 0, fmt.Errorf("empty varint")
	}
	switch buf[0] {
	case 0xfd:
		if len(buf) < 3 {
			return 0, 0, fmt.Errorf("truncated varint")
		}
		return uint64(binary.LittleEndian.Uint16(buf[1:])), 3, nil
	case 0xfe:
		if len(buf) < 5 {
			return 0, 0, fmt.Errorf("truncated varint")
		}
		return uint64(binary.LittleEndian.Uint32(buf[1:])), 5, nil
	case 0xff:
		if len(buf) < 9 {
			return 0, 0, fmt.Errorf("truncated varint")
		}
		return binary.LittleEndian.Uint64(buf[1:]), 9, nil
	default:
		return uint64(buf[0]), 1, nil
	}
}
