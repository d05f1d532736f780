// Package channel implements the runtime object representing one live
// peer connection (§4.7): a Proxy plus inactivity/expiration deadlines,
// negotiated protocol state, and typed send/subscribe/attach.
package channel

import (
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/libbitcoin/network/internal/errcode"
	"github.com/libbitcoin/network/internal/mailbox"
	"github.com/libbitcoin/network/internal/proxy"
	"github.com/libbitcoin/network/internal/pubsub"
	"github.com/libbitcoin/network/internal/wire"
)

var nextIdentifier uint64

// Config carries the per-channel settings the spec assigns to §6:
// channel timeouts, identity, and protocol policy. ProtocolMaximum is
// the negotiated version the channel reports until the handshake sets
// another; the proxy reads the current value through its own
// proxy.Config.Version closure.
type Config struct {
	Magic              uint32
	ProtocolMaximum    uint32
	WitnessEnabled     bool
	ValidateChecksum   bool
	InactivityInterval time.Duration // 0 disables
	ExpirationInterval time.Duration // 0 disables
	Quiet              bool
}

// Channel wraps a Proxy and owns the negotiated handshake state, the
// inactivity/expiration deadlines, and the local message distributor.
// All mutable fields are only ever touched on strand.
type Channel struct {
	identifier uint64
	nonce      uint64

	strand *mailbox.Strand
	px     *proxy.Proxy
	dist   *pubsub.Distributor
	cfg    Config

	inactivity *mailbox.Deadline
	expiration *mailbox.Deadline

	mu                sync.Mutex
	negotiatedVersion uint32
	peerVersion       *wire.VersionMessage
	startHeight       uint64
	paused            bool

	stopOnce sync.Once
	stopped  bool
	stopCode errcode.Code
}

// New constructs a paused Channel atop px, dispatching received frames
// through dist. The caller (a Session or handshake protocol) must call
// Resume to enter the read loop.
func New(strand *mailbox.Strand, px *proxy.Proxy, dist *pubsub.Distributor, cfg Config) *Channel {
	c := &Channel{
		identifier:        atomic.AddUint64(&nextIdentifier, 1),
		nonce:             rand.Uint64(),
		strand:            strand,
		px:                px,
		dist:              dist,
		cfg:               cfg,
		negotiatedVersion: cfg.ProtocolMaximum,
		paused:            true,
	}
	c.inactivity = mailbox.NewDeadline(strand)
	c.expiration = mailbox.NewDeadline(strand)

	px.SetOnPayloadReceived(c.resetInactivity)
	px.SubscribeStop(c.onProxyStopped)

	return c
}

// Identifier is the broadcast subscription key assigned on construct.
func (c *Channel) Identifier() uint64 { return c.identifier }

// Strand returns the strand this channel (and its proxy, deadlines,
// and attached protocols) execute on. Protocols use it to bind their
// own deadlines without the channel exposing any other internals.
func (c *Channel) Strand() *mailbox.Strand { return c.strand }

// Nonce is the random value sent in this channel's version message, so
// the handshake can detect a loopback connection to self.
func (c *Channel) Nonce() uint64 { return c.nonce }

// Quiet reports whether this channel suppresses advertisement (true
// for outbound seed channels).
func (c *Channel) Quiet() bool { return c.cfg.Quiet }

// NegotiatedVersion returns the version agreed during handshake, or
// the configured protocol maximum before handshake completes.
func (c *Channel) NegotiatedVersion() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.negotiatedVersion
}

// SetNegotiatedVersion is writable only during handshake (ProtocolVersion).
func (c *Channel) SetNegotiatedVersion(v uint32) {
	c.mu.Lock()
	c.negotiatedVersion = v
	c.mu.Unlock()
}

// PeerVersion returns the peer's version message once the handshake has
// received it, or nil before that.
func (c *Channel) PeerVersion() *wire.VersionMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peerVersion
}

// SetPeerVersion records the peer's version message.
func (c *Channel) SetPeerVersion(v *wire.VersionMessage) {
	c.mu.Lock()
	c.peerVersion = v
	c.mu.Unlock()
}

// StartHeight returns the peer's last reported block height.
func (c *Channel) StartHeight() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.startHeight
}

// SetStartHeight records the peer's last reported block height.
func (c *Channel) SetStartHeight(h uint64) {
	c.mu.Lock()
	c.startHeight = h
	c.mu.Unlock()
}

// Backlog returns the proxy's queued-but-unwritten byte count.
func (c *Channel) Backlog() uint64 { return c.px.Backlog() }

// Resume restarts both deadlines and resumes the read loop. Must be
// called on the channel strand.
func (c *Channel) Resume() {
	c.mu.Lock()
	c.paused = false
	c.mu.Unlock()

	c.armExpiration()
	c.armInactivity()
	c.px.Resume()
}

// Pause stops both timers and pauses the read loop. Must be called on
// the channel strand.
func (c *Channel) Pause() {
	c.mu.Lock()
	c.paused = true
	c.mu.Unlock()

	c.inactivity.Stop()
	c.expiration.Stop()
	c.px.Pause()
}

func (c *Channel) armInactivity() {
	if c.cfg.InactivityInterval <= 0 {
		return
	}
	c.inactivity.Start(c.cfg.InactivityInterval, func(code errcode.Code) {
		if code != errcode.Success {
			return
		}
		c.Stop(errcode.ChannelInactive)
	})
}

func (c *Channel) armExpiration() {
	if c.cfg.ExpirationInterval <= 0 {
		return
	}
	c.expiration.Start(c.cfg.ExpirationInterval, func(code errcode.Code) {
		if code != errcode.Success {
			return
		}
		c.Stop(errcode.ChannelExpired)
	})
}

// resetInactivity is installed on the proxy as its onPayloadReceived
// hook (§4.7: "reset on every successful payload receipt").
func (c *Channel) resetInactivity() {
	c.mu.Lock()
	paused := c.paused
	c.mu.Unlock()
	if paused {
		return
	}
	c.armInactivity()
}

func (c *Channel) onProxyStopped(code errcode.Code) {
	c.Stop(code)
}

// Send serialises msg with the channel's negotiated_version and
// enqueues it via the proxy write queue, tagged with this channel's
// configured magic. Serialisation failure invokes handler with
// errcode.Unknown per §4.7.
func Send[M wire.Payload](c *Channel, msg M, handler func(error)) {
	version := c.NegotiatedVersion()
	body, err := msg.Encode(version)
	if err != nil {
		handler(errcode.New(errcode.Unknown))
		return
	}
	heading := wire.NewHeading(c.cfg.Magic, msg.Command(), body)
	framed := append(heading.Encode(), body...)
	c.px.Write(framed, handler)
}

// Subscribe registers a typed handler with the channel's local
// distributor.
func Subscribe[M wire.Payload](c *Channel, handler func(errcode.Code, M) bool) errcode.Code {
	return pubsub.SubscribeMessage(c.dist, handler)
}

// Attacher is implemented by every concrete protocol so Attach can
// construct it uniformly and register its teardown.
type Attacher interface {
	Stopping(code errcode.Code)
}

// Attach constructs protocol via build, then registers its Stopping
// method on the proxy's stop subscriber so the protocol's lifetime is
// tied to the channel's (§4.7, §4.10). Must be called on the channel
// strand.
func Attach[P Attacher](c *Channel, build func(*Channel) P) P {
	p := build(c)
	c.px.SubscribeStop(func(code errcode.Code) {
		p.Stopping(code)
	})
	return p
}

// Stop stops both timers, stops the proxy (which drains its write
// queue and releases attached protocols via the stop subscriber), and
// is idempotent — only the first code is ever recorded (P3).
func (c *Channel) Stop(code errcode.Code) {
	c.stopOnce.Do(func() {
		c.mu.Lock()
		c.stopped = true
		c.stopCode = code
		c.mu.Unlock()

		c.inactivity.Stop()
		c.expiration.Stop()
		c.px.Stop(code)
	})
}

// Stopped reports whether Stop has already been called, and with what
// code.
func (c *Channel) Stopped() (bool, errcode.Code) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped, c.stopCode
}

// SubscribeStop registers handler on the underlying proxy's stop
// subscriber (single-shot, fires immediately if already stopped).
func (c *Channel) SubscribeStop(handler func(errcode.Code)) {
	c.px.SubscribeStop(handler)
}
