// Package protocol implements the per-channel sub-state-machines
// attached to a channel after construction (§4.10): the version
// handshake, ping/pong keepalive, and one-shot address seeding.
//
// Protocols depend only on channel, wire, mailbox and errcode (plus,
// for seeding, a narrow AddressSaver interface) — never on session — so the
// Channel ↔ Protocol ↔ Session cycle the design notes (§9) describe
// never actually materialises as a Go import cycle: a protocol is
// handed everything it needs as constructor arguments instead of
// reaching back into its owning session.
package protocol

import (
	"github.com/libbitcoin/network/internal/errcode"
	"github.com/libbitcoin/network/internal/wire"
)

// Protocol is the public surface every concrete protocol exposes:
// Start runs on the channel strand once attached (after the channel
// has resumed); Stopping runs on the channel strand when the channel
// stops, releasing whatever the protocol was holding.
type Protocol interface {
	Start()
	Stopping(code errcode.Code)
}

// AddressSaver is the narrow slice of hosts.Pool that ProtocolSeed
// needs — just enough to save a peer's address batch, so protocol
// never has to know about file persistence or autosave scheduling.
// *hosts.Pool satisfies this directly.
type AddressSaver interface {
	SaveItems(items []wire.AddressItem, cb func(int))
}
