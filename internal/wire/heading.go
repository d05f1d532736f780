// Package wire implements the 24-byte frame header every channel
// speaks, the MessageId identifier space, and the small set of
// handshake/keepalive/address messages the protocol state machines in
// package protocol need to compile and test against. Bitcoin payload
// bodies beyond these are explicitly out of scope (see spec §1).
package wire

import (
	"crypto/sha256"
	"encoding/binary"

	"github.com/libbitcoin/network/internal/errcode"
)

// HeadingSize is the fixed wire size of a frame header: magic(4) +
// command(12) + payload_size(4) + checksum(4).
const HeadingSize = 24

// Pre-witness and witness-enabled payload ceilings (§6).
const (
	MaxPayloadPreWitness = 1_800_003
	MaxPayloadWitness    = 4_000_000
)

// MaximumPayload returns the ceiling payload_size a Heading may declare
// for the given negotiated protocol version and witness-serialization
// setting.
func MaximumPayload(version uint32, witnessEnabled bool) uint32 {
	if witnessEnabled && version >= BIP144Version {
		return MaxPayloadWitness
	}
	return MaxPayloadPreWitness
}

// BIP144Version is the protocol version at which witness-serialized
// blocks/transactions, and therefore the larger payload ceiling, become
// legal.
const BIP144Version = 70012

// MessageId identifies the payload type carried by a Heading's command
// field. Commands the peer sends that this library does not recognise
// decode to Unknown rather than erroring — unknown messages are
// silently ignorable, not malformed framing.
type MessageId int

const (
	Unknown MessageId = iota
	Version
	Verack
	Ping
	Pong
	GetAddr
	Addr
	AddrV2
	SendAddrV2
	Reject
	Alert
)

var commandToID = map[string]MessageId{
	"version":     Version,
	"verack":      Verack,
	"ping":        Ping,
	"pong":        Pong,
	"getaddr":     GetAddr,
	"addr":        Addr,
	"addrv2":      AddrV2,
	"sendaddrv2":  SendAddrV2,
	"reject":      Reject,
	"alert":       Alert,
}

var idToCommand = func() map[MessageId]string {
	m := make(map[MessageId]string, len(commandToID))
	for cmd, id := range commandToID {
		m[id] = cmd
	}
	return m
}()

// Command returns the ASCII command string for id, or "" for Unknown.
func (id MessageId) Command() string { return idToCommand[id] }

func (id MessageId) String() string {
	if s, ok := idToCommand[id]; ok {
		return s
	}
	return "unknown"
}

// CommandToID maps a wire command string to its MessageId, returning
// Unknown for anything this library does not decode.
func CommandToID(command string) MessageId {
	if id, ok := commandToID[command]; ok {
		return id
	}
	return Unknown
}

// Heading is the 24-byte frame prefix preceding every payload.
type Heading struct {
	Magic       uint32
	Command     [12]byte
	PayloadSize uint32
	Checksum    uint32
}

// CommandString returns Command with its NUL padding trimmed.
func (h Heading) CommandString() string {
	n := 0
	for n < len(h.Command) && h.Command[n] != 0 {
		n++
	}
	return string(h.Command[:n])
}

// ID resolves the heading's command to a MessageId.
func (h Heading) ID() MessageId { return CommandToID(h.CommandString()) }

// Encode serialises h into a fresh HeadingSize-byte little-endian
// buffer.
func (h Heading) Encode() []byte {
	buf := make([]byte, HeadingSize)
	binary.LittleEndian.PutUint32(buf[0:4], h.Magic)
	copy(buf[4:16], h.Command[:])
	binary.LittleEndian.PutUint32(buf[16:20], h.PayloadSize)
	binary.LittleEndian.PutUint32(buf[20:24], h.Checksum)
	return buf
}

// DecodeHeading parses a HeadingSize-byte buffer. It never fails on
// malformed input (magic/size validation is the proxy's job, per §4.4);
// it only panics if buf is short, which callers must not allow.
func DecodeHeading(buf []byte) Heading {
	var h Heading
	h.Magic = binary.LittleEndian.Uint32(buf[0:4])
	copy(h.Command[:], buf[4:16])
	h.PayloadSize = binary.LittleEndian.Uint32(buf[16:20])
	h.Checksum = binary.LittleEndian.Uint32(buf[20:24])
	return h
}

// NewHeading builds a Heading for command carrying len(payload) bytes,
// computing magic and checksum.
func NewHeading(magic uint32, command string, payload []byte) Heading {
	var h Heading
	h.Magic = magic
	copy(h.Command[:], command)
	h.PayloadSize = uint32(len(payload))
	h.Checksum = Checksum(payload)
	return h
}

// Checksum is the first 4 little-endian bytes of BitcoinHash(payload),
// i.e. double-SHA256.
func Checksum(payload []byte) uint32 {
	first := sha256.Sum256(payload)
	second := sha256.Sum256(first[:])
	return binary.LittleEndian.Uint32(second[0:4])
}

// ValidateMagic reports errcode.InvalidMagic when h.Magic does not
// match the channel's configured magic (P8).
func ValidateMagic(h Heading, configured uint32) error {
	if h.Magic != configured {
		return errcode.New(errcode.InvalidMagic)
	}
	return nil
}

// ValidatePayloadSize reports errcode.OversizedPayload when
// h.PayloadSize exceeds the negotiated ceiling (B1).
func ValidatePayloadSize(h Heading, ceiling uint32) error {
	if h.PayloadSize > ceiling {
		return errcode.New(errcode.OversizedPayload)
	}
	return nil
}

// ValidateChecksum reports errcode.InvalidChecksum when the payload's
// computed checksum does not match the heading's declared checksum.
func ValidateChecksum(h Heading, payload []byte) error {
	if Checksum(payload) != h.Checksum {
		return errcode.New(errcode.InvalidChecksum)
	}
	return nil
}
