package session

import (
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/libbitcoin/network/internal/channel"
	"github.com/libbitcoin/network/internal/errcode"
	"github.com/libbitcoin/network/internal/network"
	"github.com/libbitcoin/network/internal/protocol"
	"github.com/libbitcoin/network/internal/socket"
)

// Seed spawns one connector per configured seed endpoint when the
// pool is short of minimum_address_count, and completes once the
// pool reaches sufficiency or every seed channel has stopped (§4.11).
type Seed struct {
	*Session
	onComplete func(errcode.Code)

	remaining int32 // atomic; seed channels still outstanding
	done      int32 // atomic guard, 0/1
}

// NewSeed builds a seed session attached to net. onComplete fires
// exactly once: Success once minimum_address_count is reached,
// SeedingUnsuccessful once every seed channel has stopped without
// reaching it.
func NewSeed(net *network.Net, logger *zap.Logger, onComplete func(errcode.Code)) *Seed {
	return &Seed{Session: NewSession(net, logger), onComplete: onComplete}
}

// Start spawns one connector per seed, if the pool needs topping up.
func (s *Seed) Start(seeds []string) {
	if s.Net.Settings.Address.HostPoolCapacity <= 0 {
		s.finish(errcode.SeedingUnsuccessful)
		return
	}
	if s.Net.Pool.Count() >= s.Net.Settings.Address.MinimumAddressCount {
		s.finish(errcode.Success)
		return
	}
	if len(seeds) == 0 {
		s.finish(errcode.SeedingUnsuccessful)
		return
	}

	atomic.StoreInt32(&s.remaining, int32(len(seeds)))
	for _, endpoint := range seeds {
		s.connectSeed(endpoint)
	}
}

func (s *Seed) connectSeed(endpoint string) {
	connector := s.CreateConnector(true)
	connector.Start([]string{endpoint}, func(code errcode.Code, sock *socket.Socket) {
		if code != errcode.Success {
			s.seedDone()
			return
		}

		conn := sock.Conn()
		c := s.Net.NewChannel(conn, true) // quiet: seed channels suppress advertisement
		c.SubscribeStop(func(errcode.Code) {
			s.checkSufficiency()
			s.seedDone()
		})

		c.Strand().Dispatch(func() {
			// Resume before the handshake subscribes and sends, so the
			// read loop is already pumping when the peer's version/verack
			// arrive (§4.7).
			c.Resume()

			versionCfg := protocol.VersionConfig{
				ProtocolMinimum:  s.Net.Settings.Protocol.ProtocolMinimum,
				ProtocolMaximum:  s.Net.Settings.Protocol.ProtocolMaximum,
				ServicesMinimum:  s.Net.Settings.Protocol.ServicesMinimum,
				InvalidServices:  s.Net.Settings.Protocol.InvalidServices,
				MaximumSkew:      s.Net.Settings.Timeouts.MaximumSkew,
				HandshakeTimeout: s.Net.Settings.Timeouts.Handshake,
				UserAgent:        s.Net.Settings.Identity.UserAgent,
				EnableRelay:      false,
			}

			handshake := channel.Attach(c, func(ch *channel.Channel) *protocol.ProtocolVersion {
				return protocol.NewProtocolVersion(ch, versionCfg, func(hcode errcode.Code) {
					if hcode != errcode.Success {
						c.Stop(hcode)
						return
					}

					seeding := channel.Attach(c, func(ch *channel.Channel) *protocol.ProtocolSeed {
						return protocol.NewProtocolSeed(ch, protocol.SeedConfig{
							GerminationTimeout: s.Net.Settings.Timeouts.ChannelGermination,
							Selfs:              s.Net.SelfAddresses(),
						}, s.Net.Pool)
					})
					seeding.Start()
				})
			})
			handshake.Start()
		})
	})
}

func (s *Seed) checkSufficiency() {
	if s.Net.Pool.Count() >= s.Net.Settings.Address.MinimumAddressCount {
		s.finish(errcode.Success)
	}
}

func (s *Seed) seedDone() {
	if atomic.AddInt32(&s.remaining, -1) <= 0 {
		s.finish(errcode.SeedingUnsuccessful)
	}
}

func (s *Seed) finish(code errcode.Code) {
	if !atomic.CompareAndSwapInt32(&s.done, 0, 1) {
		return
	}
	s.Logger.Info("seeding finished", zap.String("code", code.String()), zap.Int("pool_size", s.Net.Pool.Count()))
	s.onComplete(code)
}
