// Package session implements the lifecycle of many channels (§4.11):
// accept, connect, retry, advertise. Session is the common base;
// Outbound/Inbound/Manual/Seed specialise it.
package session

import (
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/libbitcoin/network/internal/channel"
	"github.com/libbitcoin/network/internal/errcode"
	"github.com/libbitcoin/network/internal/network"
	"github.com/libbitcoin/network/internal/protocol"
	"github.com/libbitcoin/network/internal/transport"
)

// Session is attached to a Net; all of its methods run on the
// network's strand, per §4.11.
type Session struct {
	Net    *network.Net
	Logger *zap.Logger

	mu         sync.Mutex
	stopped    bool
	stopCode   errcode.Code
	stopSub    map[uuid.UUID]func(errcode.Code)
	acceptors  []*transport.Acceptor
	connectors []*transport.Connector
}

// NewSession builds a Session attached to net.
func NewSession(net *network.Net, logger *zap.Logger) *Session {
	return &Session{Net: net, Logger: logger, stopSub: make(map[uuid.UUID]func(errcode.Code))}
}

// SubscribeStop registers handler for session stop, keyed by an opaque
// token the caller can later pass to UnsubscribeClose.
func (s *Session) SubscribeStop(handler func(errcode.Code)) uuid.UUID {
	key := uuid.New()
	s.mu.Lock()
	if s.stopped {
		code := s.stopCode
		s.mu.Unlock()
		handler(code)
		return key
	}
	s.stopSub[key] = handler
	s.mu.Unlock()
	return key
}

// UnsubscribeClose removes a stop handler without invoking it.
func (s *Session) UnsubscribeClose(key uuid.UUID) {
	s.mu.Lock()
	delete(s.stopSub, key)
	s.mu.Unlock()
}

// Defer schedules cb after duration, or — if duration is zero — after
// a jittered retry_timeout uniformly distributed in [½, 1] of the
// configured value (§4.11).
func (s *Session) Defer(duration time.Duration, cb func()) {
	if duration <= 0 {
		base := s.Net.Settings.Timeouts.Retry
		half := base / 2
		duration = half + time.Duration(rand.Int63n(int64(half)+1))
	}
	time.AfterFunc(duration, func() {
		s.Net.Strand.Post(cb)
	})
}

// CreateAcceptor builds an Acceptor bound to the network strand,
// sharing the Net's suspended flag, and tracks it for automatic Stop
// when the session stops.
func (s *Session) CreateAcceptor() *transport.Acceptor {
	a := transport.NewAcceptor(s.Net.Strand, s.Net.SuspendedFlag())
	s.mu.Lock()
	s.acceptors = append(s.acceptors, a)
	s.mu.Unlock()
	return a
}

// CreateConnector builds a Connector timed out by seeding_timeout (if
// seed is true) or connect_timeout, and tracks it for automatic Stop.
func (s *Session) CreateConnector(seed bool) *transport.Connector {
	timeout := s.Net.Settings.Timeouts.Connect
	if seed {
		timeout = s.Net.Settings.Timeouts.Seeding
	}
	c := transport.NewConnector(s.Net.Strand, timeout)
	s.mu.Lock()
	s.connectors = append(s.connectors, c)
	s.mu.Unlock()
	return c
}

// Stop is idempotent: it stops every acceptor/connector created
// through this session, then fires every registered stop handler.
func (s *Session) Stop(code errcode.Code) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.stopCode = code
	acceptors := s.acceptors
	connectors := s.connectors
	handlers := s.stopSub
	s.stopSub = nil
	s.mu.Unlock()

	for _, a := range acceptors {
		a.Stop()
	}
	for _, c := range connectors {
		c.Stop()
	}
	for _, h := range handlers {
		h(code)
	}
}

// Stopped reports whether Stop has already been called.
func (s *Session) Stopped() (bool, errcode.Code) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped, s.stopCode
}

// StartChannel runs the common attach-handshake / attach-protocols
// sequence of §4.11: handshake first, then (for non-quiet channels)
// the full peer protocol set, invoking onStart once and registering
// onStop on the channel's stop subscriber.
func (s *Session) StartChannel(c *channel.Channel, onStart func(errcode.Code), onStop func(errcode.Code)) {
	c.SubscribeStop(onStop)

	c.Strand().Dispatch(func() {
		// The channel is constructed paused (§4.7): resume here, before
		// the handshake subscribes and sends, so its read loop is already
		// pumping when the peer's version/verack arrive.
		c.Resume()

		versionCfg := protocol.VersionConfig{
			ProtocolMinimum:  s.Net.Settings.Protocol.ProtocolMinimum,
			ProtocolMaximum:  s.Net.Settings.Protocol.ProtocolMaximum,
			ServicesMinimum:  s.Net.Settings.Protocol.ServicesMinimum,
			InvalidServices:  s.Net.Settings.Protocol.InvalidServices,
			MaximumSkew:      s.Net.Settings.Timeouts.MaximumSkew,
			HandshakeTimeout: s.Net.Settings.Timeouts.Handshake,
			UserAgent:        s.Net.Settings.Identity.UserAgent,
			EnableRelay:      s.Net.Settings.Protocol.EnableRelay,
		}

		handshake := channel.Attach(c, func(ch *channel.Channel) *protocol.ProtocolVersion {
			return protocol.NewProtocolVersion(ch, versionCfg, func(code errcode.Code) {
				if code != errcode.Success {
					// onStop (registered above) is the sole notification path
					// for failure; onStart only ever reports success.
					c.Stop(code)
					return
				}
				s.attachPeerProtocols(c)
				onStart(errcode.Success)
			})
		})
		handshake.Start()
	})
}

func (s *Session) attachPeerProtocols(c *channel.Channel) {
	if c.Quiet() {
		return
	}
	ping := channel.Attach(c, func(ch *channel.Channel) *protocol.ProtocolPing {
		return protocol.NewProtocolPing(ch, protocol.PingConfig{Interval: s.Net.Settings.Timeouts.ChannelHeartbeat})
	})
	ping.Start()
}
