package mailbox

import (
	"sync"
	"time"

	"github.com/libbitcoin/network/internal/errcode"
)

// Deadline is a cancellable one-shot timer bound to a strand: its
// handler always runs as a task posted to that strand, never directly
// from the time.Timer's own goroutine (§4.2).
type Deadline struct {
	strand *Strand

	mu      sync.Mutex
	timer   *time.Timer
	pending bool
	expires time.Time
	handler func(errcode.Code)
}

// NewDeadline binds a Deadline to strand. The Deadline does nothing
// until Start is called.
func NewDeadline(strand *Strand) *Deadline {
	return &Deadline{strand: strand}
}

// Start schedules handler to run after duration. A prior pending Start
// is cancelled first, with its own handler invoked with
// errcode.OperationCanceled. duration <= 0 disables the timer: handler
// is never invoked (B3).
func (d *Deadline) Start(duration time.Duration, handler func(errcode.Code)) {
	d.mu.Lock()
	d.supersedeLocked()
	if duration <= 0 {
		d.mu.Unlock()
		return
	}
	d.pending = true
	d.expires = time.Now().Add(duration)
	d.handler = handler
	d.timer = time.AfterFunc(duration, d.fire)
	d.mu.Unlock()
}

func (d *Deadline) fire() {
	d.mu.Lock()
	if !d.pending {
		d.mu.Unlock()
		return
	}
	handler := d.handler
	d.pending = false
	d.handler = nil
	d.mu.Unlock()

	d.strand.Post(func() {
		handler(errcode.Success)
	})
}

// Stop cancels a pending Start. Idempotent; does not notify the
// handler (§4.2: cancellation via Stop is silent, except that a
// fire already queued on the strand races ahead and still delivers
// Success).
func (d *Deadline) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.clearLocked()
}

// supersedeLocked cancels any pending timer and, if one was pending,
// posts its handler with errcode.OperationCanceled before Start
// installs the replacement. Must be called with d.mu held.
func (d *Deadline) supersedeLocked() {
	if !d.pending {
		return
	}
	handler := d.handler
	d.clearLocked()
	if handler != nil {
		d.strand.Post(func() {
			handler(errcode.OperationCanceled)
		})
	}
}

func (d *Deadline) clearLocked() {
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = nil
	d.pending = false
	d.handler = nil
}

// Remaining reports the time left before expiry, or zero if expired or
// never started.
func (d *Deadline) Remaining() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.pending {
		return 0
	}
	if left := time.Until(d.expires); left > 0 {
		return left
	}
	return 0
}
