package transport

import (
	"time"

	"github.com/libbitcoin/network/internal/errcode"
	"github.com/libbitcoin/network/internal/mailbox"
	"github.com/libbitcoin/network/internal/socket"
)

// Connector performs a single outbound connect race against an overall
// timeout. Reusable across calls, but only one Start may be in flight
// at a time.
type Connector struct {
	strand  *mailbox.Strand
	timeout time.Duration

	running  bool
	deadline *mailbox.Deadline
}

// NewConnector builds a Connector bound to strand; timeout bounds each
// Start call (connect_timeout from settings, or seeding_timeout for a
// seed session's connectors).
func NewConnector(strand *mailbox.Strand, timeout time.Duration) *Connector {
	return &Connector{
		strand:   strand,
		timeout:  timeout,
		deadline: mailbox.NewDeadline(strand),
	}
}

// Start dials endpoints in sequence (first success wins), racing an
// overall timeout. cb receives (Success, socket) on connection,
// (code, stopped socket) on connect failure or timeout — the stopped
// socket is still handed back so the caller can recover the attempted
// address for pool bookkeeping. A second Start while one is already
// running returns OperationFailed immediately.
func (c *Connector) Start(endpoints []string, cb func(errcode.Code, *socket.Socket)) {
	if c.running {
		cb(errcode.OperationFailed, nil)
		return
	}
	c.running = true

	sock := socket.Empty(c.strand)
	var fired bool

	finish := func(code errcode.Code) {
		if fired {
			return
		}
		fired = true
		c.running = false
		c.deadline.Stop()
		cb(code, sock)
	}

	c.deadline.Start(c.timeout, func(code errcode.Code) {
		if code != errcode.Success {
			return // superseded by a connect completion, not a real expiry
		}
		sock.Stop()
		finish(errcode.OperationTimeout)
	})

	sock.Connect(endpoints, func(err error) {
		if err != nil {
			code, _ := errcode.As(err)
			finish(code)
			return
		}
		finish(errcode.Success)
	})
}

// Stop stops the connect timeout. It does not close the socket or
// abort a dial already in progress; that dial's completion is still
// delivered to the Start callback.
func (c *Connector) Stop() {
	c.deadline.Stop()
}
