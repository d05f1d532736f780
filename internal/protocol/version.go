package protocol

import (
	"sync"
	"time"

	"github.com/libbitcoin/network/internal/channel"
	"github.com/libbitcoin/network/internal/errcode"
	"github.com/libbitcoin/network/internal/mailbox"
	"github.com/libbitcoin/network/internal/wire"
)

// Bip37Version is the version at and above which VersionMessage's
// relay byte is expected; below it, Relay defaults to true (§9).
const Bip37Version = wire.Bip37Version

// VersionConfig carries the handshake's negotiation policy (§6 "Protocol
// policy" settings).
type VersionConfig struct {
	ProtocolMinimum  uint32
	ProtocolMaximum  uint32
	ServicesMinimum  uint64
	InvalidServices  uint64
	MaximumSkew      time.Duration
	HandshakeTimeout time.Duration
	UserAgent        string
	Services         uint64
	StartHeight      uint64
	EnableRelay      bool
	Now              func() time.Time
}

// ProtocolVersion implements the handshake state machine of §4.10:
// send local version, validate the peer's, exchange verack, then
// report completion exactly once.
type ProtocolVersion struct {
	channel *channel.Channel
	cfg     VersionConfig
	onDone  func(errcode.Code)

	deadline *mailbox.Deadline

	mu         sync.Mutex
	done       bool
	verackSent bool
	verackRecv bool
}

// NewProtocolVersion constructs (but does not start) the handshake
// protocol for c. onDone is invoked exactly once, on the channel
// strand, with Success once both verack messages have been observed,
// or with the terminal failure code otherwise.
func NewProtocolVersion(c *channel.Channel, cfg VersionConfig, onDone func(errcode.Code)) *ProtocolVersion {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &ProtocolVersion{channel: c, cfg: cfg, onDone: onDone}
}

// Start subscribes to version/verack and sends the local version
// message. Must be called on the channel strand.
func (p *ProtocolVersion) Start() {
	channel.Subscribe(p.channel, p.onVersion)
	channel.Subscribe(p.channel, p.onVerack)

	if p.deadline == nil {
		p.deadline = mailbox.NewDeadline(p.channel.Strand())
	}
	p.deadline.Start(p.cfg.HandshakeTimeout, func(code errcode.Code) {
		if code != errcode.Success {
			return
		}
		p.finish(errcode.OperationTimeout)
	})

	local := wire.VersionMessage{
		Value:       p.cfg.ProtocolMaximum,
		Services:    p.cfg.Services,
		Timestamp:   p.cfg.Now().Unix(),
		Nonce:       p.channel.Nonce(),
		UserAgent:   p.cfg.UserAgent,
		StartHeight: uint32(p.cfg.StartHeight),
		Relay:       p.cfg.EnableRelay,
	}
	channel.Send(p.channel, local, func(err error) {
		if err != nil {
			code, _ := errcode.As(err)
			p.finish(code)
		}
	})
}

func (p *ProtocolVersion) onVersion(code errcode.Code, msg wire.VersionMessage) bool {
	if code != errcode.Success {
		return false
	}
	if msg.Nonce == p.channel.Nonce() {
		p.finish(errcode.AddressInUse) // loopback
		return false
	}

	negotiated := p.cfg.ProtocolMaximum
	if msg.Value < negotiated {
		negotiated = msg.Value
	}
	if negotiated < p.cfg.ProtocolMinimum {
		p.finish(errcode.PeerUnsupported)
		return false
	}
	if msg.Services&p.cfg.ServicesMinimum != p.cfg.ServicesMinimum {
		p.finish(errcode.PeerInsufficient)
		return false
	}
	if p.cfg.InvalidServices != 0 && msg.Services&p.cfg.InvalidServices != 0 {
		p.finish(errcode.PeerUnsupported)
		return false
	}
	if p.cfg.MaximumSkew > 0 {
		skew := p.cfg.Now().Unix() - msg.Timestamp
		if skew < 0 {
			skew = -skew
		}
		if time.Duration(skew)*time.Second > p.cfg.MaximumSkew {
			p.finish(errcode.PeerTimestamp)
			return false
		}
	}

	peer := msg
	p.channel.SetPeerVersion(&peer)
	p.channel.SetNegotiatedVersion(negotiated)
	p.channel.SetStartHeight(uint64(msg.StartHeight))

	channel.Send(p.channel, wire.VerackMessage{}, func(err error) {
		if err != nil {
			code, _ := errcode.As(err)
			p.finish(code)
			return
		}
		p.mu.Lock()
		p.verackSent = true
		p.mu.Unlock()
		p.maybeComplete()
	})
	return false
}

func (p *ProtocolVersion) onVerack(code errcode.Code, _ wire.VerackMessage) bool {
	if code != errcode.Success {
		return false
	}
	p.mu.Lock()
	p.verackRecv = true
	p.mu.Unlock()
	p.maybeComplete()
	return false
}

func (p *ProtocolVersion) maybeComplete() {
	p.mu.Lock()
	ready := p.verackSent && p.verackRecv
	p.mu.Unlock()
	if ready {
		p.finish(errcode.Success)
	}
}

func (p *ProtocolVersion) finish(code errcode.Code) {
	p.mu.Lock()
	if p.done {
		p.mu.Unlock()
		return
	}
	p.done = true
	p.mu.Unlock()

	p.deadline.Stop()
	p.onDone(code)
}

// Stopping satisfies protocol.Protocol. If the handshake has not
// finished yet, it finishes it with code: the handshake deadline is
// stopped and onDone receives code. Once finished, it does nothing.
func (p *ProtocolVersion) Stopping(code errcode.Code) {
	p.finish(code)
}
