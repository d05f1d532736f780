package pubsub

import (
	"testing"

	"github.com/libbitcoin/network/internal/errcode"
	"github.com/libbitcoin/network/internal/wire"
)

func TestBroadcasterFansOutByMessageType(t *testing.T) {
	b := NewBroadcaster()
	var pings, pongs int
	Subscribe(b, 1, func(code errcode.Code, msg wire.PingMessage, sender uint64) bool { pings++; return true })
	Subscribe(b, 2, func(code errcode.Code, msg wire.PongMessage, sender uint64) bool { pongs++; return true })

	b.Notify(wire.PingMessage{Nonce: 1}, 1)
	b.Notify(wire.PongMessage{Nonce: 1}, 1)

	if pings != 1 || pongs != 1 {
		t.Fatalf("pings=%d pongs=%d, want 1 each", pings, pongs)
	}
}

func TestBroadcasterSelfBroadcastNotSuppressed(t *testing.T) {
	b := NewBroadcaster()
	const channelID = uint64(42)
	var gotSender uint64
	calls := 0
	Subscribe(b, channelID, func(code errcode.Code, msg wire.PingMessage, sender uint64) bool {
		calls++
		gotSender = sender
		return true
	})

	// Channel 42 broadcasts its own ping; per S4 it must still receive
	// its own message back (no self-suppression at this layer).
	b.Notify(wire.PingMessage{Nonce: 7}, channelID)

	if calls != 1 {
		t.Fatalf("calls = %d, want 1 (self-broadcast must not be suppressed)", calls)
	}
	if gotSender != channelID {
		t.Fatalf("sender = %d, want %d", gotSender, channelID)
	}
}

func TestBroadcasterUnsubscribe(t *testing.T) {
	b := NewBroadcaster()
	var desubscribed bool
	Subscribe(b, 1, func(code errcode.Code, msg wire.PingMessage, sender uint64) bool {
		if code == errcode.Desubscribed {
			desubscribed = true
		}
		return true
	})
	Unsubscribe[wire.PingMessage](b, 1)
	if !desubscribed {
		t.Fatalf("Unsubscribe should notify with Desubscribed before removing")
	}

	calls := 0
	Subscribe(b, 1, func(code errcode.Code, msg wire.PingMessage, sender uint64) bool { calls++; return true })
	b.Notify(wire.PingMessage{}, 1)
	if calls != 1 {
		t.Fatalf("resubscribed handler should receive the next notify, calls=%d", calls)
	}
}

func TestBroadcasterStopNotifiesAllTypes(t *testing.T) {
	b := NewBroadcaster()
	var pingCode, pongCode errcode.Code
	Subscribe(b, 1, func(code errcode.Code, msg wire.PingMessage, sender uint64) bool { pingCode = code; return true })
	Subscribe(b, 2, func(code errcode.Code, msg wire.PongMessage, sender uint64) bool { pongCode = code; return true })

	b.Stop(errcode.ServiceStopped)

	if pingCode != errcode.ServiceStopped || pongCode != errcode.ServiceStopped {
		t.Fatalf("pingCode=%v pongCode=%v, want both ServiceStopped", pingCode, pongCode)
	}
}
