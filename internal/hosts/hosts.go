// Package hosts implements the bounded address pool (§4.9): a FIFO
// ring buffer of AddressItems plus a reserved-authority set, file-
// backed across restarts, with policy filtering on load and save.
package hosts

import (
	"bufio"
	"fmt"
	"math/rand"
	"os"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/time/rate"

	"github.com/libbitcoin/network/internal/errcode"
	"github.com/libbitcoin/network/internal/mailbox"
	"github.com/libbitcoin/network/internal/wire"
)

// Pool is the strand-guarded address pool. All public methods post
// their continuation back to the owning strand, per §4.9.
type Pool struct {
	strand *mailbox.Strand
	path   string
	policy Policy

	mu       sync.Mutex
	buffer   []wire.AddressItem // FIFO ring; index 0 is oldest
	capacity int
	reserved map[wire.Authority]struct{}

	relayLimiter *rate.Limiter // throttles unsolicited addr relay into SaveItems
}

// New builds an empty Pool bound to strand, persisted at path, with
// capacity == host_pool_capacity and the given filtering policy.
// relayRate bounds how often an addr message's worth of items may be
// accepted (events/sec, 0 disables limiting).
func New(strand *mailbox.Strand, path string, capacity int, policy Policy, relayRate float64) *Pool {
	limit := rate.Inf
	if relayRate > 0 {
		limit = rate.Limit(relayRate)
	}
	return &Pool{
		strand:       strand,
		path:         path,
		policy:       policy,
		capacity:     capacity,
		reserved:     make(map[wire.Authority]struct{}),
		relayLimiter: rate.NewLimiter(limit, 1),
	}
}

// Load reads path (one `authority/timestamp/services` line per entry,
// §6), applying policy filtering, and posts completion to the strand.
// A missing file is not an error — the pool simply starts empty.
func (p *Pool) Load(cb func(errcode.Code)) {
	go func() {
		items, err := readAddressFile(p.path)
		if err != nil && !os.IsNotExist(err) {
			p.strand.Post(func() { cb(errcode.BadAlloc) })
			return
		}
		p.strand.Post(func() {
			p.mu.Lock()
			for _, item := range items {
				if ok, _ := p.policy.Admit(item); !ok {
					continue
				}
				p.pushLocked(item)
			}
			p.mu.Unlock()
			cb(errcode.Success)
		})
	}()
}

// Save rewrites path in full with the pool's current contents. An
// empty pool deletes the file, per §6.
func (p *Pool) Save(cb func(errcode.Code)) {
	p.mu.Lock()
	items := append([]wire.AddressItem(nil), p.buffer...)
	p.mu.Unlock()

	go func() {
		var err error
		if len(items) == 0 {
			err = os.Remove(p.path)
			if os.IsNotExist(err) {
				err = nil
			}
		} else {
			err = writeAddressFile(p.path, items)
		}
		code := errcode.Success
		if err != nil {
			code = errcode.BadAlloc
		}
		p.strand.Post(func() { cb(code) })
	}()
}

// Take pops the oldest non-reserved entry. AddressNotFound if the pool
// is drained of eligible entries.
func (p *Pool) Take(cb func(errcode.Code, wire.AddressItem)) {
	p.strand.Dispatch(func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		for i, item := range p.buffer {
			if _, reserved := p.reserved[item.Authority]; reserved {
				continue
			}
			p.buffer = append(p.buffer[:i:i], p.buffer[i+1:]...)
			cb(errcode.Success, item)
			return
		}
		cb(errcode.AddressNotFound, wire.AddressItem{})
	})
}

// Restore pushes item back, replacing a pre-existing matching entry if
// one is present.
func (p *Pool) Restore(item wire.AddressItem, cb func(errcode.Code)) {
	p.strand.Dispatch(func() {
		p.mu.Lock()
		for i, existing := range p.buffer {
			if existing.Authority == item.Authority {
				p.buffer[i] = item
				p.mu.Unlock()
				cb(errcode.Success)
				return
			}
		}
		p.pushLocked(item)
		p.mu.Unlock()
		cb(errcode.Success)
	})
}

// Fetch copies up to min(maxAddress, |pool|/n) items, n randomly
// chosen in [lower, upper), starting at a random index, for relay via
// an addr message.
func (p *Pool) Fetch(maxAddress, lower, upper int, cb func([]wire.AddressItem)) {
	p.strand.Dispatch(func() {
		p.mu.Lock()
		defer p.mu.Unlock()

		n := len(p.buffer)
		if n == 0 {
			cb(nil)
			return
		}
		if upper <= lower {
			upper = lower + 1
		}
		divisor := lower + rand.Intn(upper-lower)
		if divisor <= 0 {
			divisor = 1
		}
		count := n / divisor
		if count > maxAddress {
			count = maxAddress
		}
		if count <= 0 {
			cb(nil)
			return
		}

		start := rand.Intn(n)
		out := make([]wire.AddressItem, 0, count)
		for i := 0; i < count; i++ {
			out = append(out, p.buffer[(start+i)%n])
		}
		cb(out)
	})
}

// SaveItems persists an addr message's items: each item not reserved,
// not already pooled, and admitted by policy is pushed back. Returns
// the count accepted. A whole batch is dropped if relayRate is
// exceeded, throttling unsolicited address relay.
func (p *Pool) SaveItems(items []wire.AddressItem, cb func(int)) {
	p.strand.Dispatch(func() {
		if !p.relayLimiter.Allow() {
			cb(0)
			return
		}

		p.mu.Lock()
		defer p.mu.Unlock()

		accepted := 0
		for _, item := range items {
			if _, reserved := p.reserved[item.Authority]; reserved {
				continue
			}
			if p.containsLocked(item.Authority) {
				continue
			}
			if ok, _ := p.policy.Admit(item); !ok {
				continue
			}
			p.pushLocked(item)
			accepted++
		}
		cb(accepted)
	})
}

// Reserve inserts authority into the reserved set. False if already
// present (P4).
func (p *Pool) Reserve(authority wire.Authority) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.reserved[authority]; exists {
		return false
	}
	p.reserved[authority] = struct{}{}
	return true
}

// Unreserve removes authority. False if absent.
func (p *Pool) Unreserve(authority wire.Authority) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.reserved[authority]; !exists {
		return false
	}
	delete(p.reserved, authority)
	return true
}

// Count returns the current pool size (P5 observability).
func (p *Pool) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.buffer)
}

// ReservedCount returns the current reserved-set size.
func (p *Pool) ReservedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.reserved)
}

// pushLocked appends item, evicting the oldest entry if at capacity
// (B2). Caller holds p.mu.
func (p *Pool) pushLocked(item wire.AddressItem) {
	if p.capacity > 0 && len(p.buffer) >= p.capacity {
		p.buffer = p.buffer[1:]
	}
	p.buffer = append(p.buffer, item)
}

func (p *Pool) containsLocked(authority wire.Authority) bool {
	for _, existing := range p.buffer {
		if existing.Authority == authority {
			return true
		}
	}
	return false
}

func readAddressFile(path string) ([]wire.AddressItem, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var items []wire.AddressItem
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		item, err := parseAddressLine(line)
		if err != nil {
			continue
		}
		items = append(items, item)
	}
	return items, scanner.Err()
}

func writeAddressFile(path string, items []wire.AddressItem) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	for _, item := range items {
		fmt.Fprintf(w, "%s/%d/%d\n", item.Authority.String(), item.Timestamp, item.Services)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// parseAddressLine parses "authority/timestamp/services", where
// authority is "[ipv6-or-ipv4]:port". Missing fields default to zero.
func parseAddressLine(line string) (wire.AddressItem, error) {
	parts := strings.Split(line, "/")
	if len(parts) == 0 || parts[0] == "" {
		return wire.AddressItem{}, fmt.Errorf("empty address line")
	}
	authority, err := wire.ParseAuthority(parts[0])
	if err != nil {
		return wire.AddressItem{}, err
	}

	var timestamp uint64
	var services uint64
	if len(parts) > 1 && parts[1] != "" {
		timestamp, _ = strconv.ParseUint(parts[1], 10, 32)
	}
	if len(parts) > 2 && parts[2] != "" {
		services, _ = strconv.ParseUint(parts[2], 10, 64)
	}

	return wire.AddressItem{
		Authority: authority,
		Timestamp: uint32(timestamp),
		Services:  services,
	}, nil
}
