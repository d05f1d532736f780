package pubsub

import (
	"sync"

	"github.com/libbitcoin/network/internal/errcode"
	"github.com/libbitcoin/network/internal/wire"
)

// BroadcastValue is delivered to broadcaster subscribers: the message
// itself plus the identifier of the channel that originated it. Self-
// broadcast is never suppressed (S4) — discrimination, if wanted, is
// the subscriber's job via Sender.
type BroadcastValue struct {
	Message wire.Payload
	Sender  uint64
}

// Broadcaster fans one message out to many channels, keyed by channel
// identifier, per message type (§4.6). One Broadcaster belongs to a
// session/network instance and is shared by every channel it manages.
type Broadcaster struct {
	mu   sync.Mutex
	byID map[wire.MessageId]*Keyed[uint64, BroadcastValue]
}

// NewBroadcaster builds an empty, running Broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{byID: make(map[wire.MessageId]*Keyed[uint64, BroadcastValue])}
}

func (b *Broadcaster) registryFor(id wire.MessageId) *Keyed[uint64, BroadcastValue] {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.byID[id]
	if !ok {
		r = NewKeyed[uint64, BroadcastValue]()
		b.byID[id] = r
	}
	return r
}

// Subscribe registers handler under channelID for message type M.
func Subscribe[M wire.Payload](b *Broadcaster, channelID uint64, handler func(errcode.Code, M, uint64) bool) errcode.Code {
	var zero M
	id := wire.CommandToID(zero.Command())
	return b.registryFor(id).Subscribe(channelID, func(code errcode.Code, v BroadcastValue) bool {
		if code != errcode.Success {
			var z M
			return handler(code, z, v.Sender)
		}
		typed, ok := v.Message.(M)
		if !ok {
			return true
		}
		return handler(code, typed, v.Sender)
	})
}

// Unsubscribe removes channelID's subscription for message type M,
// notifying it with errcode.Desubscribed first.
func Unsubscribe[M wire.Payload](b *Broadcaster, channelID uint64) {
	var zero M
	id := wire.CommandToID(zero.Command())
	b.registryFor(id).Unsubscribe(channelID)
}

// Notify fans msg out to every channel subscribed to its type, tagging
// the notification with sender.
func (b *Broadcaster) Notify(msg wire.Payload, sender uint64) {
	id := wire.CommandToID(msg.Command())
	b.registryFor(id).Notify(errcode.Success, BroadcastValue{Message: msg, Sender: sender})
}

// Stop notifies every subscriber across every message type with (code,
// zero), and those message types' registries refuse further
// subscription. The Broadcaster itself records no stopped state, so a
// Subscribe for a message type that had no registry at stop time still
// succeeds.
func (b *Broadcaster) Stop(code errcode.Code) {
	b.mu.Lock()
	registries := make([]*Keyed[uint64, BroadcastValue], 0, len(b.byID))
	for _, r := range b.byID {
		registries = append(registries, r)
	}
	b.mu.Unlock()

	for _, r := range registries {
		r.Stop(code)
	}
}
