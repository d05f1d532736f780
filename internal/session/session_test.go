package session

import (
	"io"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/libbitcoin/network/internal/config"
	"github.com/libbitcoin/network/internal/errcode"
	"github.com/libbitcoin/network/internal/mailbox"
	"github.com/libbitcoin/network/internal/network"
	"github.com/libbitcoin/network/internal/socket"
	"github.com/libbitcoin/network/internal/wire"
)

// This file regression-tests the double-notification bug a maintainer
// review flagged in StartChannel and its callers (outbound/inbound/
// manual all delegate their handshake through StartChannel, so a fix
// there covers all three): onStart must report success only, onStop
// must be the sole failure path. A fake peer drives a real handshake
// over net.Pipe() and forces it to fail on a services mismatch.

const testMagic = 0xd9b4bef9

func testSettings(servicesMinimum uint64) config.Settings {
	var s config.Settings
	s.Network.InboundConnections = 2
	s.Network.OutboundConnections = 1
	s.Network.ConnectBatchSize = 1
	s.Timeouts.Handshake = 2 * time.Second
	s.Timeouts.Retry = 50 * time.Millisecond
	s.Protocol.ProtocolMinimum = 70001
	s.Protocol.ProtocolMaximum = 70016
	s.Protocol.ServicesMinimum = servicesMinimum
	s.Protocol.EnableLoopback = true
	s.Identity.Identifier = testMagic
	s.Identity.UserAgent = "/test:0.0/"
	return s
}

func newTestNet(t *testing.T, servicesMinimum uint64) *network.Net {
	t.Helper()
	pool := mailbox.NewPool(1)
	nw := network.New(pool, testSettings(servicesMinimum), zap.NewNop(), nil)
	t.Cleanup(func() { nw.Strand.Stop() })
	return nw
}

func readFrame(conn net.Conn) (wire.Heading, []byte, error) {
	var headingBuf [wire.HeadingSize]byte
	if _, err := io.ReadFull(conn, headingBuf[:]); err != nil {
		return wire.Heading{}, nil, err
	}
	heading := wire.DecodeHeading(headingBuf[:])
	if heading.PayloadSize == 0 {
		return heading, nil, nil
	}
	payload := make([]byte, heading.PayloadSize)
	if _, err := io.ReadFull(conn, payload); err != nil {
		return heading, nil, err
	}
	return heading, payload, nil
}

func writeFrame(conn net.Conn, magic uint32, msg wire.Payload) error {
	body, err := msg.Encode(0)
	if err != nil {
		return err
	}
	heading := wire.NewHeading(magic, msg.Command(), body)
	framed := append(heading.Encode(), body...)
	_, err = conn.Write(framed)
	return err
}

// waitForSettled polls read until it stops changing for a short
// stability window, or timeout elapses. Used in place of a single
// fixed sleep so a slow machine doesn't produce a false pass.
func waitForSettled(timeout time.Duration, read func() int32) int32 {
	deadline := time.Now().Add(timeout)
	last := read()
	stableSince := time.Now()
	for time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
		cur := read()
		if cur != last {
			last = cur
			stableSince = time.Now()
			continue
		}
		if time.Since(stableSince) > 40*time.Millisecond {
			return cur
		}
	}
	return read()
}

func TestStartChannelHandshakeFailureSignalsOnStopOnce(t *testing.T) {
	nw := newTestNet(t, 1) // require a services bit the fake peer won't advertise

	real, peer := net.Pipe()
	defer peer.Close()

	c := nw.NewChannel(real, false)
	s := NewSession(nw, zap.NewNop())

	var startCalls int32
	var stopCalls int32
	stopped := make(chan errcode.Code, 1)

	s.StartChannel(c, func(errcode.Code) {
		atomic.AddInt32(&startCalls, 1)
	}, func(code errcode.Code) {
		atomic.AddInt32(&stopCalls, 1)
		stopped <- code
	})

	go func() {
		if _, _, err := readFrame(peer); err != nil {
			return
		}
		_ = writeFrame(peer, testMagic, wire.VersionMessage{
			Value:    70016,
			Services: 0,
			Nonce:    0xabad1dea,
		})
	}()

	select {
	case code := <-stopped:
		if code != errcode.PeerInsufficient {
			t.Fatalf("stop code = %v, want PeerInsufficient", code)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("onStop never fired")
	}

	// The old bug called onStart(code) right after c.Stop(code) in the
	// very same synchronous call chain; a short settle window is
	// enough to let a regression land before asserting.
	time.Sleep(40 * time.Millisecond)

	if got := atomic.LoadInt32(&startCalls); got != 0 {
		t.Fatalf("onStart fired %d times on handshake failure, want 0 (onStop must be the sole failure path)", got)
	}
	if got := atomic.LoadInt32(&stopCalls); got != 1 {
		t.Fatalf("onStop fired %d times, want exactly 1 (double-fire regression)", got)
	}
}

func TestStartChannelHandshakeSuccessSignalsOnStartOnce(t *testing.T) {
	nw := newTestNet(t, 0)

	real, peer := net.Pipe()
	defer peer.Close()

	c := nw.NewChannel(real, false)
	s := NewSession(nw, zap.NewNop())

	started := make(chan errcode.Code, 1)
	var stopCalls int32

	s.StartChannel(c, func(code errcode.Code) {
		started <- code
	}, func(errcode.Code) {
		atomic.AddInt32(&stopCalls, 1)
	})

	go func() {
		if _, _, err := readFrame(peer); err != nil { // real's version
			return
		}
		if err := writeFrame(peer, testMagic, wire.VersionMessage{
			Value:    70016,
			Services: 0,
			Nonce:    0xdeadbeef,
		}); err != nil {
			return
		}
		if _, _, err := readFrame(peer); err != nil { // real's verack
			return
		}
		_ = writeFrame(peer, testMagic, wire.VerackMessage{})
	}()

	select {
	case code := <-started:
		if code != errcode.Success {
			t.Fatalf("onStart code = %v, want Success", code)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("onStart never fired")
	}

	time.Sleep(40 * time.Millisecond)
	if got := atomic.LoadInt32(&stopCalls); got != 0 {
		t.Fatalf("onStop fired %d times after a successful handshake, want 0", got)
	}

	c.Stop(errcode.Success)
}

func TestInboundAdmitHandshakeFailureReleasesExactlyOnce(t *testing.T) {
	nw := newTestNet(t, 1) // require a services bit the fake peer won't advertise

	i := NewInbound(nw, zap.NewNop())

	real, peer := net.Pipe()
	defer peer.Close()

	sock := socket.New(nw.Strand, real)

	go func() {
		if _, _, err := readFrame(peer); err != nil {
			return
		}
		_ = writeFrame(peer, testMagic, wire.VersionMessage{
			Value:    70016,
			Services: 0,
			Nonce:    0xc0ffee,
		})
	}()

	done := make(chan struct{})
	nw.Strand.Post(func() {
		i.admit(sock)
		close(done)
	})
	<-done

	got := waitForSettled(2*time.Second, func() int32 { return atomic.LoadInt32(&i.active) })
	if got != 0 {
		t.Fatalf("inbound admission counter settled at %d, want 0 (double-release regression defeats InboundConnections admission cap)", got)
	}
}
