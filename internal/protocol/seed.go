package protocol

import (
	"sync"
	"time"

	"github.com/libbitcoin/network/internal/channel"
	"github.com/libbitcoin/network/internal/errcode"
	"github.com/libbitcoin/network/internal/mailbox"
	"github.com/libbitcoin/network/internal/wire"
)

// SeedConfig carries the one-shot address-exchange policy.
type SeedConfig struct {
	GerminationTimeout time.Duration // channel_germination
	Selfs              []wire.AddressItem
}

// ProtocolSeed implements the one-shot address exchange of §4.10: send
// get_address, wait for the reply, save what comes back, optionally
// advertise self, then stop the (quiet) channel with Success.
type ProtocolSeed struct {
	channel *channel.Channel
	cfg     SeedConfig
	pool    AddressSaver

	deadline *mailbox.Deadline

	mu           sync.Mutex
	done         bool
	sentGetAddr  bool
	receivedAddr bool
}

// NewProtocolSeed constructs the seed protocol for c, saving accepted
// addresses into pool.
func NewProtocolSeed(c *channel.Channel, cfg SeedConfig, pool AddressSaver) *ProtocolSeed {
	return &ProtocolSeed{channel: c, cfg: cfg, pool: pool}
}

// Start subscribes to addr, sends get_address and self, and arms the
// germination timeout. Must be called on the channel strand.
func (p *ProtocolSeed) Start() {
	channel.Subscribe(p.channel, p.onAddr)

	p.deadline = mailbox.NewDeadline(p.channel.Strand())
	p.deadline.Start(p.cfg.GerminationTimeout, func(code errcode.Code) {
		if code != errcode.Success {
			return
		}
		p.finish(errcode.SeedingUnsuccessful)
	})

	if len(p.cfg.Selfs) > 0 {
		channel.Send(p.channel, wire.AddrMessage{Addresses: p.cfg.Selfs}, func(error) {})
	}

	channel.Send(p.channel, wire.GetAddrMessage{}, func(err error) {
		if err != nil {
			code, _ := errcode.As(err)
			p.finish(code)
			return
		}
		p.mu.Lock()
		p.sentGetAddr = true
		p.mu.Unlock()
		p.maybeComplete()
	})
}

func (p *ProtocolSeed) onAddr(code errcode.Code, msg wire.AddrMessage) bool {
	if code != errcode.Success {
		return false
	}
	p.pool.SaveItems(msg.Addresses, func(int) {})

	p.mu.Lock()
	p.receivedAddr = true
	p.mu.Unlock()
	p.maybeComplete()
	return false
}

func (p *ProtocolSeed) maybeComplete() {
	p.mu.Lock()
	ready := p.sentGetAddr && p.receivedAddr
	p.mu.Unlock()
	if ready {
		p.finish(errcode.SeedingComplete)
	}
}

func (p *ProtocolSeed) finish(code errcode.Code) {
	p.mu.Lock()
	if p.done {
		p.mu.Unlock()
		return
	}
	p.done = true
	p.mu.Unlock()

	p.deadline.Stop()
	stopCode := errcode.Success
	if code != errcode.SeedingComplete {
		stopCode = code
	}
	p.channel.Stop(stopCode)
}

// Stopping satisfies protocol.Protocol.
func (p *ProtocolSeed) Stopping(code errcode.Code) {
	p.finish(code)
}
