package session

import (
	"go.uber.org/zap"

	"github.com/libbitcoin/network/internal/errcode"
	"github.com/libbitcoin/network/internal/network"
	"github.com/libbitcoin/network/internal/socket"
	"github.com/libbitcoin/network/internal/transport"
	"github.com/libbitcoin/network/internal/wire"
)

// Outbound maintains outbound_connections concurrent outbound slots
// (§4.11). Each slot runs pool.take → connector.connect → start_channel
// in a loop, restoring the address and retrying after a jittered delay
// on any failure.
type Outbound struct {
	*Session
}

// NewOutbound builds an outbound session attached to net.
func NewOutbound(net *network.Net, logger *zap.Logger) *Outbound {
	return &Outbound{Session: NewSession(net, logger)}
}

// Start launches one loop per configured outbound slot.
func (o *Outbound) Start() {
	slots := o.Net.Settings.Network.OutboundConnections
	for i := 0; i < slots; i++ {
		o.runSlot()
	}
}

func (o *Outbound) runSlot() {
	o.Net.Strand.Dispatch(func() {
		if stopped, _ := o.Stopped(); stopped {
			return
		}
		o.attemptBatch()
	})
}

// attemptBatch takes connect_batch_size addresses from the pool and
// races connectors against them in parallel; the first successful
// connection wins the slot, the rest are cancelled.
func (o *Outbound) attemptBatch() {
	batch := o.Net.Settings.Network.ConnectBatchSize
	if batch <= 0 {
		batch = 1
	}

	var won bool
	var connectors []*transport.Connector

	// pending counts batch members that have neither failed nor won;
	// the slot retries once, when the last of them fails with no winner.
	pending := batch
	failed := func() {
		pending--
		if pending == 0 && !won {
			o.retry()
		}
	}

	for i := 0; i < batch; i++ {
		o.Net.Pool.Take(func(code errcode.Code, item wire.AddressItem) {
			if code != errcode.Success {
				failed()
				return
			}
			if !o.Net.Pool.Reserve(item.Authority) {
				o.Net.Pool.Restore(item, func(errcode.Code) {})
				failed()
				return
			}
			if !o.Net.ConnectLimiter.Allow() {
				o.Net.Pool.Unreserve(item.Authority)
				o.Net.Pool.Restore(item, func(errcode.Code) {})
				failed()
				return
			}

			connector := o.CreateConnector(false)
			connectors = append(connectors, connector)

			connector.Start([]string{item.Authority.String()}, func(code errcode.Code, sock *socket.Socket) {
				if won {
					if sock != nil {
						sock.Stop()
					}
					o.Net.Pool.Unreserve(item.Authority)
					o.Net.Pool.Restore(item, func(errcode.Code) {})
					return
				}
				if code != errcode.Success {
					o.Net.Pool.Unreserve(item.Authority)
					o.Net.Pool.Restore(item, func(errcode.Code) {})
					failed()
					return
				}

				won = true
				for _, other := range connectors {
					if other != connector {
						other.Stop()
					}
				}

				conn := sock.Conn()
				c := o.Net.NewChannel(conn, false)
				active := false
				o.StartChannel(c, func(hcode errcode.Code) {
					// Failure is reported solely through onStop below; this
					// hook only ever fires with Success. StartChannel has
					// already resumed the channel's read loop.
					active = true
					if o.Net.Metrics != nil {
						o.Net.Metrics.Sessions.OutboundActive.Inc()
					}
				}, func(errcode.Code) {
					o.Net.Pool.Unreserve(item.Authority)
					o.Net.Pool.Restore(item, func(errcode.Code) {})
					if active && o.Net.Metrics != nil {
						o.Net.Metrics.Sessions.OutboundActive.Dec()
					}
					o.retry()
				})
			})
		})
	}
}

func (o *Outbound) retry() {
	o.Defer(0, o.runSlot)
}
