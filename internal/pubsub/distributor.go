package pubsub

import (
	"sync"

	"github.com/libbitcoin/network/internal/errcode"
	"github.com/libbitcoin/network/internal/wire"
)

// Distributor deserialises frames into typed messages and dispatches
// them to per-MessageId subscribers (§4.5). One Distributor belongs to
// exactly one channel; it is only ever driven from that channel's
// strand, so its internal map needs no locking of its own beyond what
// Subscriber already provides for safety against concurrent Stop.
type Distributor struct {
	mu    sync.Mutex
	byID  map[wire.MessageId]*Subscriber[wire.Payload]
	codec map[wire.MessageId]wire.Decoder
}

// NewDistributor builds a Distributor using codecs for deserialisation
// (typically wire.Codecs).
func NewDistributor(codecs map[wire.MessageId]wire.Decoder) *Distributor {
	return &Distributor{
		byID:  make(map[wire.MessageId]*Subscriber[wire.Payload]),
		codec: codecs,
	}
}

func (d *Distributor) subscriberFor(id wire.MessageId) *Subscriber[wire.Payload] {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.byID[id]
	if !ok {
		s = NewSubscriber[wire.Payload]()
		d.byID[id] = s
	}
	return s
}

// Subscribe registers handler for the payload type associated with id,
// typed via M. Callers normally use the package-level generic
// SubscribeMessage helper instead of calling this directly.
func (d *Distributor) Subscribe(id wire.MessageId, handler Handler[wire.Payload]) errcode.Code {
	return d.subscriberFor(id).Subscribe(handler)
}

// SubscribeMessage registers a strongly typed handler for message type
// M, looking up M's MessageId by constructing a zero M and asking its
// Command().
func SubscribeMessage[M wire.Payload](d *Distributor, handler func(errcode.Code, M) bool) errcode.Code {
	var zero M
	id := wire.CommandToID(zero.Command())
	return d.Subscribe(id, func(code errcode.Code, payload wire.Payload) bool {
		if code != errcode.Success {
			var z M
			return handler(code, z)
		}
		typed, ok := payload.(M)
		if !ok {
			return true
		}
		return handler(code, typed)
	})
}

// Notify deserialises raw using the codec registered for id at version,
// and dispatches to that id's subscribers. Per §4.5, deserialisation is
// skipped entirely when there are no subscribers (an important
// optimisation on the hot read-loop path), and a successful dispatch
// with zero subscribers still reports Success upward.
func (d *Distributor) Notify(id wire.MessageId, version uint32, raw []byte) errcode.Code {
	d.mu.Lock()
	sub, hasSub := d.byID[id]
	decode, hasCodec := d.codec[id]
	d.mu.Unlock()

	if !hasSub || sub.Count() == 0 {
		return errcode.Success
	}
	if !hasCodec {
		return errcode.Success
	}

	payload, err := decode(version, raw)
	if err != nil {
		return errcode.InvalidMessage
	}
	sub.Notify(errcode.Success, payload)
	return errcode.Success
}

// Stop notifies every per-id subscriber that exists at the time once
// with (code, nil); those subscribers refuse further subscription. The
// Distributor itself records no stopped state, so a Subscribe for a
// MessageId that had no subscriber at stop time still succeeds.
func (d *Distributor) Stop(code errcode.Code) {
	d.mu.Lock()
	subs := make([]*Subscriber[wire.Payload], 0, len(d.byID))
	for _, s := range d.byID {
		subs = append(subs, s)
	}
	d.mu.Unlock()

	for _, s := range subs {
		s.Stop(code)
	}
}
