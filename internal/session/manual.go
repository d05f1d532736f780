package session

import (
	"go.uber.org/zap"

	"github.com/libbitcoin/network/internal/errcode"
	"github.com/libbitcoin/network/internal/network"
	"github.com/libbitcoin/network/internal/socket"
)

// Manual owns one persistent connector per configured peer endpoint;
// on failure it defers and retries indefinitely (§4.11).
type Manual struct {
	*Session
}

// NewManual builds a manual-peer session attached to net.
func NewManual(net *network.Net, logger *zap.Logger) *Manual {
	return &Manual{Session: NewSession(net, logger)}
}

// Start launches one persistent loop per configured endpoint.
func (m *Manual) Start(peers []string) {
	for _, endpoint := range peers {
		m.connectLoop(endpoint)
	}
}

func (m *Manual) connectLoop(endpoint string) {
	if stopped, _ := m.Stopped(); stopped {
		return
	}
	connector := m.CreateConnector(false)
	connector.Start([]string{endpoint}, func(code errcode.Code, sock *socket.Socket) {
		if code != errcode.Success {
			m.Defer(0, func() { m.connectLoop(endpoint) })
			return
		}

		conn := sock.Conn()
		c := m.Net.NewChannel(conn, false)
		m.StartChannel(c, func(hcode errcode.Code) {
			// Failure is reported solely through onStop below. StartChannel
			// has already resumed the channel's read loop.
		}, func(errcode.Code) {
			m.Defer(0, func() { m.connectLoop(endpoint) })
		})
	})
}
