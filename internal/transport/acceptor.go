// Package transport implements the strand-guarded socket factories
// that sit above socket.Socket: Acceptor (listen/accept) and Connector
// (resolve/connect with an overall timeout), per §4.8.
package transport

import (
	"net"
	"sync/atomic"

	"github.com/libbitcoin/network/internal/errcode"
	"github.com/libbitcoin/network/internal/mailbox"
	"github.com/libbitcoin/network/internal/socket"
)

// Acceptor owns one listening socket. Net's suspended flag is shared
// across every Acceptor in the process; Accept consults it before
// touching the listener so a suspended network never even attempts to
// drain its backlog.
type Acceptor struct {
	strand   *mailbox.Strand
	suspended *int32 // shared with Net; 0 = running, 1 = suspended

	listener net.Listener
	stopped  bool
}

// NewAcceptor builds an Acceptor bound to strand. suspended is the
// process-wide flag consulted on every Accept (§5: "a process-wide
// atomic; acceptors consult it on each accept").
func NewAcceptor(strand *mailbox.Strand, suspended *int32) *Acceptor {
	return &Acceptor{strand: strand, suspended: suspended}
}

// Start opens, binds and listens on endpoint ("host:port", or ":port"
// to bind all interfaces on both address families — Go's net package
// already clears IPV6_V6ONLY for a bare "tcp" listener on ":port",
// giving dual-stack behaviour without extra syscalls).
func (a *Acceptor) Start(endpoint string) errcode.Code {
	ln, err := net.Listen("tcp", endpoint)
	if err != nil {
		return errcode.ListenFailed
	}
	a.listener = ln
	return errcode.Success
}

// Accept consumes one pending inbound connection. One-shot: callers
// loop by calling Accept again from within cb. Must be called on the
// acceptor strand.
func (a *Acceptor) Accept(cb func(errcode.Code, *socket.Socket)) {
	if a.stopped {
		cb(errcode.ServiceStopped, nil)
		return
	}
	if atomic.LoadInt32(a.suspended) != 0 {
		cb(errcode.ServiceSuspended, nil)
		return
	}
	if a.listener == nil {
		cb(errcode.ListenFailed, nil)
		return
	}

	sock := socket.Empty(a.strand)
	sock.Accept(a.listener, func(err error) {
		if err != nil {
			code, _ := errcode.As(err)
			cb(code, nil)
			return
		}
		cb(errcode.Success, sock)
	})
}

// Stop closes the listener, cancelling any in-flight Accept. Idempotent.
func (a *Acceptor) Stop() {
	if a.stopped {
		return
	}
	a.stopped = true
	if a.listener != nil {
		_ = a.listener.Close()
	}
}
