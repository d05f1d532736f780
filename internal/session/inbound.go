package session

import (
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/libbitcoin/network/internal/errcode"
	"github.com/libbitcoin/network/internal/network"
	"github.com/libbitcoin/network/internal/socket"
)

// Inbound starts one Acceptor per configured bind and loops
// acceptor.accept → admission checks → start_channel (§4.11).
type Inbound struct {
	*Session
	active int32 // atomic; current inbound connection count for admission
}

// NewInbound builds an inbound session attached to net.
func NewInbound(net *network.Net, logger *zap.Logger) *Inbound {
	return &Inbound{Session: NewSession(net, logger)}
}

// Start opens an acceptor for every configured bind endpoint.
func (i *Inbound) Start(binds []string) {
	for _, endpoint := range binds {
		i.startBind(endpoint)
	}
}

func (i *Inbound) startBind(endpoint string) {
	acceptor := i.CreateAcceptor()
	if code := acceptor.Start(endpoint); code != errcode.Success {
		i.Logger.Error("inbound bind failed", zap.String("endpoint", endpoint), zap.String("code", code.String()))
		return
	}
	i.Logger.Info("inbound listening", zap.String("endpoint", endpoint))
	i.acceptLoop(acceptor)
}

func (i *Inbound) acceptLoop(acceptor interface {
	Accept(func(errcode.Code, *socket.Socket))
}) {
	acceptor.Accept(func(code errcode.Code, sock *socket.Socket) {
		if stopped, _ := i.Stopped(); stopped {
			return
		}
		switch code {
		case errcode.Success:
			i.admit(sock)
			i.acceptLoop(acceptor)
		case errcode.ServiceSuspended:
			i.Defer(0, func() { i.acceptLoop(acceptor) })
		default:
			// listener error; do not tight-loop
			i.Logger.Warn("accept failed", zap.String("code", code.String()))
		}
	})
}

func (i *Inbound) admit(sock *socket.Socket) {
	limit := i.Net.Settings.Network.InboundConnections
	if limit > 0 && int(atomic.LoadInt32(&i.active)) >= limit {
		sock.Stop()
		return
	}

	auth := sock.Authority()
	policy := i.Net.Settings
	if !policy.Protocol.EnableLoopback && auth.IsIPv4() && auth.IP().IsLoopback() {
		sock.Stop()
		return
	}

	atomic.AddInt32(&i.active, 1)
	if i.Net.Metrics != nil {
		i.Net.Metrics.Sessions.InboundActive.Inc()
	}

	conn := sock.Conn()
	c := i.Net.NewChannel(conn, false)
	i.StartChannel(c, func(code errcode.Code) {
		// Failure is reported solely through onStop below. StartChannel
		// has already resumed the channel's read loop.
	}, func(errcode.Code) {
		i.release()
	})
}

func (i *Inbound) release() {
	atomic.AddInt32(&i.active, -1)
	if i.Net.Metrics != nil {
		i.Net.Metrics.Sessions.InboundActive.Dec()
	}
}
