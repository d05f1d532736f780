package proxy_test

import (
	"net"
	"testing"
	"time"

	"github.com/libbitcoin/network/internal/errcode"
	"github.com/libbitcoin/network/internal/mailbox"
	"github.com/libbitcoin/network/internal/proxy"
	"github.com/libbitcoin/network/internal/pubsub"
	"github.com/libbitcoin/network/internal/socket"
	"github.com/libbitcoin/network/internal/wire"
)

const testMagic = 0xd9b4bef9

func newTestProxy(t *testing.T, pool *mailbox.Pool, conn net.Conn, version uint32) (*proxy.Proxy, *pubsub.Distributor) {
	t.Helper()
	strand := pool.NewStrand("proxy-test")
	sock := socket.New(strand, conn)
	dist := pubsub.NewDistributor(wire.Codecs)
	px := proxy.New(strand, sock, dist, proxy.Config{
		Magic:            testMagic,
		Version:          func() uint32 { return version },
		WitnessEnabled:   func() bool { return false },
		ValidateChecksum: true,
	})
	return px, dist
}

func TestProxyWriteHandlersFireFIFO(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer serverConn.Close()
	pool := mailbox.NewPool(1)

	client, _ := newTestProxy(t, pool, clientConn, 70015)

	// Drain the raw peer side so the client's writes complete; this test
	// only exercises the write queue's FIFO ordering, not framing.
	go func() {
		buf := make([]byte, 4096)
		for {
			if _, err := serverConn.Read(buf); err != nil {
				return
			}
		}
	}()

	var order []int
	done := make(chan struct{})
	n := 5
	for i := 0; i < n; i++ {
		i := i
		payload := wire.NewHeading(testMagic, "ping", nil).Encode()
		client.Write(payload, func(err error) {
			order = append(order, i)
			if len(order) == n {
				close(done)
			}
		})
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for writes to complete")
	}
	for i, v := range order {
		if v != i {
			t.Fatalf("write completion order = %v, want 0..%d in order (P2)", order, n-1)
		}
	}
}

func TestProxyStopDrainsQueueWithChannelStopped(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer serverConn.Close()
	defer clientConn.Close()
	pool := mailbox.NewPool(1)

	client, _ := newTestProxy(t, pool, clientConn, 70015)

	// Nobody reads the server side, so the first write blocks in-flight;
	// queue a second behind it, then stop before either completes.
	results := make(chan error, 2)
	client.Write([]byte{1, 2, 3, 4}, func(err error) { results <- err })
	client.Write([]byte{5, 6, 7, 8}, func(err error) { results <- err })

	time.Sleep(20 * time.Millisecond) // let the first write block on the unread pipe
	done := make(chan struct{})
	client.Stop(errcode.ChannelStopped)
	close(done)
	<-done

	for i := 0; i < 2; i++ {
		select {
		case err := <-results:
			if code, ok := errcode.As(err); !ok || code != errcode.ChannelStopped {
				t.Fatalf("handler %d fired with %v, want ChannelStopped", i, err)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("handler %d never fired after Stop", i)
		}
	}
}

func TestProxyBacklogAccounting(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer serverConn.Close()
	defer clientConn.Close()
	pool := mailbox.NewPool(1)

	client, _ := newTestProxy(t, pool, clientConn, 70015)
	if client.Backlog() != 0 {
		t.Fatalf("Backlog() before any write = %d, want 0", client.Backlog())
	}

	done := make(chan struct{})
	client.Write([]byte{1, 2, 3, 4}, func(error) { close(done) })
	if client.Backlog() == 0 {
		t.Fatalf("Backlog() should be nonzero immediately after Write, before completion")
	}

	go func() {
		buf := make([]byte, 4)
		serverConn.Read(buf)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("write never completed")
	}
	if client.Backlog() != 0 {
		t.Fatalf("Backlog() after completion = %d, want 0", client.Backlog())
	}
	if client.Total() != 4 {
		t.Fatalf("Total() = %d, want 4", client.Total())
	}
}
