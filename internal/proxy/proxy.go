// Package proxy implements the framed read loop and ordered write
// queue that sit directly atop a socket.Socket (§4.4). One Proxy
// belongs to exactly one channel.
package proxy

import (
	"sync/atomic"

	"github.com/libbitcoin/network/internal/errcode"
	"github.com/libbitcoin/network/internal/mailbox"
	"github.com/libbitcoin/network/internal/pubsub"
	"github.com/libbitcoin/network/internal/socket"
	"github.com/libbitcoin/network/internal/wire"
)

// Config supplies the negotiation-dependent knobs the read loop needs.
// Version and WitnessEnabled are read fresh on every heading, since a
// channel's negotiated_version is writable only during handshake and
// the proxy must not cache a stale ceiling.
type Config struct {
	Magic            uint32
	Version          func() uint32
	WitnessEnabled   func() bool
	ValidateChecksum bool
}

type writeItem struct {
	payload []byte
	handler func(error)
}

// Proxy owns one Socket: the framed read loop, the ordered write
// queue, and the stop subscriber every channel hangs its own teardown
// off of.
type Proxy struct {
	strand *mailbox.Strand
	sock   *socket.Socket
	dist   *pubsub.Distributor
	cfg    Config

	backlog int64 // atomic; queued-but-unwritten bytes
	total   int64 // atomic; cumulative bytes ever queued

	queue    []writeItem
	draining bool
	paused   bool

	stopSub  *pubsub.Subscriber[errcode.Code]
	stopped  bool
	stopCode errcode.Code

	onPayloadReceived func()

	headingBuf [wire.HeadingSize]byte
}

// New builds a Proxy bound to strand, wrapping sock, dispatching
// decoded frames into dist.
func New(strand *mailbox.Strand, sock *socket.Socket, dist *pubsub.Distributor, cfg Config) *Proxy {
	return &Proxy{
		strand:  strand,
		sock:    sock,
		dist:    dist,
		cfg:     cfg,
		stopSub: pubsub.NewSubscriber[errcode.Code](),
	}
}

// Backlog returns the queued-but-unwritten byte count.
func (p *Proxy) Backlog() uint64 { return uint64(atomic.LoadInt64(&p.backlog)) }

// Total returns the cumulative bytes ever queued for write.
func (p *Proxy) Total() uint64 { return uint64(atomic.LoadInt64(&p.total)) }

// SetOnPayloadReceived installs a hook run after every successfully
// framed payload, before dispatch — the owning channel uses it to
// reset its inactivity deadline (§4.7) without the proxy knowing
// anything about channels. Must be called before Resume.
func (p *Proxy) SetOnPayloadReceived(fn func()) {
	p.onPayloadReceived = fn
}

// SubscribeStop registers a single-shot handler fired once with the
// terminal stop code. If the proxy has already stopped, handler fires
// immediately with the recorded code.
func (p *Proxy) SubscribeStop(handler func(errcode.Code)) {
	p.strand.Dispatch(func() {
		if p.stopped {
			handler(p.stopCode)
			return
		}
		p.stopSub.Subscribe(func(code errcode.Code, _ errcode.Code) bool {
			handler(code)
			return false
		})
	})
}

// Resume enters (or re-enters) the read loop. Must be called on the
// proxy strand.
func (p *Proxy) Resume() {
	p.paused = false
	if !p.stopped {
		p.readHeading()
	}
}

// Pause suspends the read loop; an in-flight read still completes, but
// no further read is issued until Resume. Must be called on the proxy
// strand.
func (p *Proxy) Pause() {
	p.paused = true
}

func (p *Proxy) readHeading() {
	if p.stopped || p.paused {
		return
	}
	p.sock.Read(p.headingBuf[:], func(err error) {
		p.strand.Dispatch(func() { p.onHeading(err) })
	})
}

func (p *Proxy) onHeading(err error) {
	if p.stopped {
		return
	}
	if err != nil {
		code, _ := errcode.As(err)
		p.Stop(code)
		return
	}

	heading := wire.DecodeHeading(p.headingBuf[:])
	if verr := wire.ValidateMagic(heading, p.cfg.Magic); verr != nil {
		p.Stop(errcode.InvalidMagic)
		return
	}
	ceiling := wire.MaximumPayload(p.cfg.Version(), p.cfg.WitnessEnabled())
	if verr := wire.ValidatePayloadSize(heading, ceiling); verr != nil {
		p.Stop(errcode.OversizedPayload)
		return
	}

	payload := make([]byte, heading.PayloadSize)
	if len(payload) == 0 {
		p.onPayload(heading, payload, nil)
		return
	}
	p.sock.Read(payload, func(err error) {
		p.strand.Dispatch(func() { p.onPayload(heading, payload, err) })
	})
}

func (p *Proxy) onPayload(heading wire.Heading, payload []byte, err error) {
	if p.stopped {
		return
	}
	if err != nil {
		code, _ := errcode.As(err)
		p.Stop(code)
		return
	}

	if p.cfg.ValidateChecksum {
		if verr := wire.ValidateChecksum(heading, payload); verr != nil {
			p.Stop(errcode.InvalidChecksum)
			return
		}
	}

	if p.onPayloadReceived != nil {
		p.onPayloadReceived()
	}

	id := heading.ID()
	code := p.dist.Notify(id, p.cfg.Version(), payload)
	if code != errcode.Success {
		p.Stop(code)
		return
	}
	p.readHeading()
}

// Write enqueues payload for sending, invoking handler once it has
// been written (or the proxy stops). Only callable from the proxy
// strand. Writes are serialised in submission order (P2); handlers are
// always invoked in FIFO order even when a later write's completion
// races a stop.
func (p *Proxy) Write(payload []byte, handler func(error)) {
	if p.stopped {
		handler(errcode.New(errcode.ChannelStopped))
		return
	}
	n := int64(len(payload))
	atomic.AddInt64(&p.backlog, n)
	atomic.AddInt64(&p.total, n)

	wasEmpty := len(p.queue) == 0
	p.queue = append(p.queue, writeItem{payload: payload, handler: handler})
	if wasEmpty {
		p.drain()
	}
}

func (p *Proxy) drain() {
	if p.draining || len(p.queue) == 0 || p.stopped {
		return
	}
	p.draining = true
	head := p.queue[0]

	p.sock.Write(head.payload, func(err error) {
		p.strand.Dispatch(func() { p.onWritten(err) })
	})
}

func (p *Proxy) onWritten(err error) {
	p.draining = false
	if len(p.queue) == 0 {
		return
	}
	item := p.queue[0]
	p.queue = p.queue[1:]
	atomic.AddInt64(&p.backlog, -int64(len(item.payload)))

	if err != nil {
		code, _ := errcode.As(err)
		item.handler(err)
		p.Stop(code)
		return
	}
	item.handler(nil)

	if len(p.queue) > 0 && !p.stopped {
		p.drain()
	}
}

// Stop is idempotent (P3): the first call's code wins, the write queue
// is drained with errcode.ChannelStopped for each pending handler in
// FIFO order (S6), and the stop subscriber fires exactly once.
func (p *Proxy) Stop(code errcode.Code) {
	if p.stopped {
		return
	}
	p.stopped = true
	p.stopCode = code

	pending := p.queue
	p.queue = nil
	atomic.StoreInt64(&p.backlog, 0)

	p.sock.Stop()

	for _, item := range pending {
		item.handler(errcode.New(errcode.ChannelStopped))
	}

	p.stopSub.Notify(code, code)
	p.stopSub.Stop(code)
}
