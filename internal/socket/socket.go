// Package socket wraps a single net.Conn so every read, write, connect
// and accept completion is delivered as a continuation posted back to
// the socket's strand (§4.3).
package socket

import (
	"io"
	"net"
	"sync"
	"time"

	"github.com/libbitcoin/network/internal/errcode"
	"github.com/libbitcoin/network/internal/mailbox"
	"github.com/libbitcoin/network/internal/wire"
)

// Socket owns one TCP endpoint. All public methods are safe to call
// from any goroutine; their callbacks always run on strand.
type Socket struct {
	strand *mailbox.Strand

	mu        sync.Mutex
	conn      net.Conn
	stopped   bool
	authority wire.Authority
}

// New wraps an already-established net.Conn.
func New(strand *mailbox.Strand, conn net.Conn) *Socket {
	s := &Socket{strand: strand, conn: conn}
	if conn != nil {
		if a, err := authorityOf(conn.RemoteAddr()); err == nil {
			s.authority = a
		}
	}
	return s
}

// Empty constructs a Socket with no connection yet, for use with
// Connect.
func Empty(strand *mailbox.Strand) *Socket {
	return &Socket{strand: strand}
}

// Authority returns the remote endpoint recorded on success.
func (s *Socket) Authority() wire.Authority {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authority
}

// Conn exposes the underlying connection for transports (e.g. a
// listener) that need it directly; callers must still only touch it
// from the socket's strand.
func (s *Socket) Conn() net.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

// Connect dials endpoints in sequence, stopping at the first success,
// and records the remote authority.
func (s *Socket) Connect(endpoints []string, cb func(error)) {
	go func() {
		var lastErr error
		for _, ep := range endpoints {
			s.mu.Lock()
			stopped := s.stopped
			s.mu.Unlock()
			if stopped {
				s.strand.Post(func() { cb(errcode.New(errcode.OperationCanceled)) })
				return
			}

			conn, err := net.Dial("tcp", ep)
			if err != nil {
				lastErr = err
				continue
			}
			s.mu.Lock()
			s.conn = conn
			if a, aerr := authorityOf(conn.RemoteAddr()); aerr == nil {
				s.authority = a
			}
			s.mu.Unlock()
			s.strand.Post(func() { cb(nil) })
			return
		}
		if lastErr == nil {
			lastErr = errcode.New(errcode.ConnectFailed)
		}
		s.strand.Post(func() { cb(errcode.Wrap(errcode.ConnectFailed, lastErr)) })
	}()
}

// Accept consumes one pending inbound connection from listener.
func (s *Socket) Accept(listener net.Listener, cb func(error)) {
	go func() {
		conn, err := listener.Accept()
		if err != nil {
			s.strand.Post(func() { cb(errcode.Wrap(errcode.AcceptFailed, err)) })
			return
		}
		s.mu.Lock()
		s.conn = conn
		if a, aerr := authorityOf(conn.RemoteAddr()); aerr == nil {
			s.authority = a
		}
		s.mu.Unlock()
		s.strand.Post(func() { cb(nil) })
	}()
}

// Read reads exactly len(buf) bytes.
func (s *Socket) Read(buf []byte, cb func(error)) {
	conn := s.Conn()
	if conn == nil {
		s.strand.Post(func() { cb(errcode.New(errcode.BadStream)) })
		return
	}
	go func() {
		_, err := io.ReadFull(conn, buf)
		s.strand.Post(func() { cb(normalize(err)) })
	}()
}

// ReadSome reads at most len(buf) bytes, returning the count read.
func (s *Socket) ReadSome(buf []byte, cb func(n int, err error)) {
	conn := s.Conn()
	if conn == nil {
		s.strand.Post(func() { cb(0, errcode.New(errcode.BadStream)) })
		return
	}
	go func() {
		n, err := conn.Read(buf)
		s.strand.Post(func() { cb(n, normalize(err)) })
	}()
}

// Write writes exactly len(buf) bytes.
func (s *Socket) Write(buf []byte, cb func(error)) {
	conn := s.Conn()
	if conn == nil {
		s.strand.Post(func() { cb(errcode.New(errcode.BadStream)) })
		return
	}
	go func() {
		_, err := conn.Write(buf)
		s.strand.Post(func() { cb(normalize(err)) })
	}()
}

// Stop cancels outstanding I/O by closing the connection. Idempotent.
func (s *Socket) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	conn := s.conn
	s.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
}

// SetDeadline forwards to the underlying net.Conn if present; used by
// transports that need a bounded handshake/upgrade window before the
// socket has a permanent owner.
func (s *Socket) SetDeadline(t time.Time) {
	if conn := s.Conn(); conn != nil {
		_ = conn.SetDeadline(t)
	}
}

func normalize(err error) error {
	if err == nil {
		return nil
	}
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return errcode.Wrap(errcode.OperationTimeout, err)
	}
	if err == io.EOF {
		return errcode.Wrap(errcode.PeerDisconnect, err)
	}
	return errcode.Wrap(errcode.BadStream, err)
}

func authorityOf(addr net.Addr) (wire.Authority, error) {
	tcp, ok := addr.(*net.TCPAddr)
	if !ok {
		return wire.ParseAuthority(addr.String())
	}
	return wire.NewAuthority(tcp.IP, uint16(tcp.Port)), nil
}
