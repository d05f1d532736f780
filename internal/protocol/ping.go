package protocol

import (
	"math/rand"
	"sync"
	"time"

	"github.com/libbitcoin/network/internal/channel"
	"github.com/libbitcoin/network/internal/errcode"
	"github.com/libbitcoin/network/internal/mailbox"
	"github.com/libbitcoin/network/internal/wire"
)

// Bip31Version is the version at and above which ping carries a nonce
// and a matching pong is expected; below it, ping is a bare keepalive.
const Bip31Version = wire.Bip31Version

// PingConfig carries the keepalive interval (channel_heartbeat_minutes).
type PingConfig struct {
	Interval time.Duration
}

// ProtocolPing sends a periodic ping and expects a matching pong
// within the same interval, for peers at or above Bip31Version;
// pre-BIP31 peers get a bare ping with no expected reply, per §4.10
// and §9.
type ProtocolPing struct {
	channel *channel.Channel
	cfg     PingConfig

	deadline *mailbox.Deadline

	mu          sync.Mutex
	outstanding bool
	nonce       uint64
}

// NewProtocolPing constructs the keepalive protocol for c.
func NewProtocolPing(c *channel.Channel, cfg PingConfig) *ProtocolPing {
	return &ProtocolPing{channel: c, cfg: cfg}
}

// Start subscribes to pong and schedules the first ping. Must be
// called on the channel strand, after the handshake completes.
func (p *ProtocolPing) Start() {
	channel.Subscribe(p.channel, p.onPong)
	p.deadline = mailbox.NewDeadline(p.channel.Strand())
	p.schedule()
}

func (p *ProtocolPing) schedule() {
	if p.cfg.Interval <= 0 {
		return
	}
	p.deadline.Start(p.cfg.Interval, func(code errcode.Code) {
		if code != errcode.Success {
			return
		}
		p.fire()
	})
}

func (p *ProtocolPing) fire() {
	p.mu.Lock()
	if p.outstanding && p.channel.NegotiatedVersion() >= Bip31Version {
		p.mu.Unlock()
		p.channel.Stop(errcode.ChannelTimeout)
		return
	}
	nonced := p.channel.NegotiatedVersion() >= Bip31Version
	p.nonce = rand.Uint64()
	p.outstanding = nonced
	nonce := p.nonce
	p.mu.Unlock()

	msg := wire.PingMessage{Nonce: nonce, NoncePresent: nonced}
	channel.Send(p.channel, msg, func(err error) {
		if err != nil {
			return
		}
		p.schedule()
	})
}

func (p *ProtocolPing) onPong(code errcode.Code, msg wire.PongMessage) bool {
	if code != errcode.Success {
		return false
	}
	p.mu.Lock()
	expected := p.nonce
	p.outstanding = false
	p.mu.Unlock()

	if msg.Nonce != expected {
		p.channel.Stop(errcode.ProtocolViolation)
		return false
	}
	return true
}

// Stopping satisfies protocol.Protocol by stopping the ping deadline,
// so no further ping fires once the channel has stopped.
func (p *ProtocolPing) Stopping(errcode.Code) {
	if p.deadline != nil {
		p.deadline.Stop()
	}
}
