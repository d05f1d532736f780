// Package network implements Net, the facade every Session attaches
// to (§4.11): it owns the broadcaster, the address pool, the shared
// mailbox pool, and the process-wide (but per-Net, per §9's guidance
// on global mutable state) suspended flag.
package network

import (
	"net"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/libbitcoin/network/internal/channel"
	"github.com/libbitcoin/network/internal/config"
	"github.com/libbitcoin/network/internal/errcode"
	"github.com/libbitcoin/network/internal/hosts"
	"github.com/libbitcoin/network/internal/mailbox"
	"github.com/libbitcoin/network/internal/metrics"
	"github.com/libbitcoin/network/internal/proxy"
	"github.com/libbitcoin/network/internal/pubsub"
	"github.com/libbitcoin/network/internal/socket"
	"github.com/libbitcoin/network/internal/wire"
)

// Net is the network facade: one strand shared by every session
// attached to it, the broadcaster every channel's distributor feeds
// into, the address pool, and a process-wide suspended flag that every
// Acceptor consults before accepting.
type Net struct {
	Strand      *mailbox.Strand
	Settings    config.Settings
	Broadcaster *pubsub.Broadcaster
	Pool        *hosts.Pool
	Logger      *zap.Logger
	Metrics     *metrics.Registry

	// ConnectLimiter throttles the outbound-connect path (§4.11):
	// Outbound.attemptBatch defers a slot rather than dialing once this
	// is exhausted.
	ConnectLimiter *rate.Limiter

	suspended int32
	pool      *mailbox.Pool
}

// New builds a Net bound to a fresh strand drawn from pool.
func New(pool *mailbox.Pool, settings config.Settings, logger *zap.Logger, registry *metrics.Registry) *Net {
	strand := pool.NewStrand("network")
	connectLimit := rate.Inf
	if settings.Address.RateLimit > 0 {
		connectLimit = rate.Limit(settings.Address.RateLimit)
	}
	n := &Net{
		Strand:         strand,
		Settings:       settings,
		Broadcaster:    pubsub.NewBroadcaster(),
		Logger:         logger,
		Metrics:        registry,
		ConnectLimiter: rate.NewLimiter(connectLimit, 1),
		pool:           pool,
	}
	n.Pool = hosts.New(strand, settings.Address.HostsFile, settings.Address.HostPoolCapacity, n.policy(), settings.Address.RateLimit)
	return n
}

func (n *Net) policy() hosts.Policy {
	return hosts.Policy{
		EnableIPv6:      n.Settings.Protocol.EnableIPv6,
		ServicesMinimum: n.Settings.Protocol.ServicesMinimum,
		InvalidServices: n.Settings.Protocol.InvalidServices,
		Peers:           authoritySet(n.Settings.Lists.Peers),
		Blacklist:       authoritySet(n.Settings.Lists.Blacklists),
		Whitelist:       authoritySet(n.Settings.Lists.Whitelists),
	}
}

func authoritySet(endpoints []string) map[wire.Authority]struct{} {
	out := make(map[wire.Authority]struct{}, len(endpoints))
	for _, ep := range endpoints {
		if a, err := wire.ParseAuthority(ep); err == nil {
			out[a] = struct{}{}
		}
	}
	return out
}

// SelfAddresses parses Settings.Lists.Selfs into address items a seed
// channel can advertise to its peer (§4.10's seed self-advertisement).
func (n *Net) SelfAddresses() []wire.AddressItem {
	items := make([]wire.AddressItem, 0, len(n.Settings.Lists.Selfs))
	for _, ep := range n.Settings.Lists.Selfs {
		a, err := wire.ParseAuthority(ep)
		if err != nil {
			continue
		}
		items = append(items, wire.AddressItem{
			Authority: a,
			Services:  n.Settings.Protocol.ServicesMaximum,
			Timestamp: uint32(0),
		})
	}
	return items
}

// Suspend causes every Acceptor attached to this Net to yield
// ServiceSuspended without touching its listener.
func (n *Net) Suspend() { atomic.StoreInt32(&n.suspended, 1) }

// Resume clears the suspended flag.
func (n *Net) Resume() { atomic.StoreInt32(&n.suspended, 0) }

// SuspendedFlag exposes the flag's address for transport.NewAcceptor.
func (n *Net) SuspendedFlag() *int32 { return &n.suspended }

// NewChannelStrand draws a fresh per-channel strand from the shared pool.
func (n *Net) NewChannelStrand(name string) *mailbox.Strand {
	return n.pool.NewStrand(name)
}

// NewChannel wraps conn in a Socket, Proxy and Distributor, and
// returns a paused Channel bound to a fresh strand, configured from
// Settings. quiet marks an outbound seed channel (§3).
func (n *Net) NewChannel(conn net.Conn, quiet bool) *channel.Channel {
	strand := n.NewChannelStrand("channel")
	sock := socket.New(strand, conn)
	dist := pubsub.NewDistributor(wire.Codecs)

	// c is assigned below; the proxy's Version closure reads through
	// this pointer so it always sees the channel's current
	// negotiated_version, not a snapshot taken before handshake.
	var c *channel.Channel

	px := proxy.New(strand, sock, dist, proxy.Config{
		Magic:            n.Settings.Identity.Identifier,
		Version:          func() uint32 { return c.NegotiatedVersion() },
		WitnessEnabled:   func() bool { return n.Settings.Protocol.EnableWitnessTx },
		ValidateChecksum: n.Settings.Protocol.ValidateChecksum,
	})

	c = channel.New(strand, px, dist, channel.Config{
		Magic:              n.Settings.Identity.Identifier,
		ProtocolMaximum:    n.Settings.Protocol.ProtocolMaximum,
		WitnessEnabled:     n.Settings.Protocol.EnableWitnessTx,
		ValidateChecksum:   n.Settings.Protocol.ValidateChecksum,
		InactivityInterval: n.Settings.Timeouts.ChannelInactivity,
		ExpirationInterval: n.Settings.Timeouts.ChannelExpiration,
		Quiet:              quiet,
	})

	if n.Metrics != nil {
		n.Metrics.Channels.Opened.Inc()
		n.Metrics.Channels.Active.Inc()
		c.SubscribeStop(func(code errcode.Code) {
			n.Metrics.Channels.Active.Dec()
			n.Metrics.Channels.Stopped.WithLabelValues(code.String()).Inc()
		})
	}

	return c
}
