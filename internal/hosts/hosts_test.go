package hosts

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/libbitcoin/network/internal/errcode"
	"github.com/libbitcoin/network/internal/mailbox"
	"github.com/libbitcoin/network/internal/wire"
)

func newTestPool(t *testing.T, path string, capacity int) *Pool {
	t.Helper()
	pool := mailbox.NewPool(1)
	strand := pool.NewStrand("hosts-test")
	t.Cleanup(strand.Stop)
	return New(strand, path, capacity, Policy{EnableIPv6: true}, 0)
}

func TestPoolTakeRestoreRoundTrip(t *testing.T) {
	p := newTestPool(t, filepath.Join(t.TempDir(), "hosts.txt"), 10)
	item := wire.AddressItem{Authority: mustAuthority(t, "127.0.0.1:8333"), Services: 1}

	done := make(chan errcode.Code, 1)
	p.Restore(item, func(code errcode.Code) { done <- code })
	if code := <-done; code != errcode.Success {
		t.Fatalf("Restore = %v, want Success", code)
	}

	if n := p.Count(); n != 1 {
		t.Fatalf("Count() = %d, want 1", n)
	}

	taken := make(chan wire.AddressItem, 1)
	takenCode := make(chan errcode.Code, 1)
	p.Take(func(code errcode.Code, got wire.AddressItem) {
		takenCode <- code
		taken <- got
	})
	if code := <-takenCode; code != errcode.Success {
		t.Fatalf("Take = %v, want Success", code)
	}
	if got := <-taken; !got.Equal(item) {
		t.Fatalf("Take returned %+v, want %+v", got, item)
	}

	if n := p.Count(); n != 0 {
		t.Fatalf("Count() after Take = %d, want 0", n)
	}
}

func TestPoolTakeEmptyReturnsNotFound(t *testing.T) {
	p := newTestPool(t, filepath.Join(t.TempDir(), "hosts.txt"), 10)
	done := make(chan errcode.Code, 1)
	p.Take(func(code errcode.Code, _ wire.AddressItem) { done <- code })
	if code := <-done; code != errcode.AddressNotFound {
		t.Fatalf("Take(empty) = %v, want AddressNotFound", code)
	}
}

func TestPoolTakeSkipsReserved(t *testing.T) {
	p := newTestPool(t, filepath.Join(t.TempDir(), "hosts.txt"), 10)
	item := wire.AddressItem{Authority: mustAuthority(t, "127.0.0.1:8333")}

	restored := make(chan struct{})
	p.Restore(item, func(errcode.Code) { close(restored) })
	<-restored

	if !p.Reserve(item.Authority) {
		t.Fatalf("Reserve should succeed the first time")
	}
	if p.Reserve(item.Authority) {
		t.Fatalf("Reserve should fail when already reserved (P4)")
	}

	done := make(chan errcode.Code, 1)
	p.Take(func(code errcode.Code, _ wire.AddressItem) { done <- code })
	if code := <-done; code != errcode.AddressNotFound {
		t.Fatalf("Take should skip reserved entries, got %v", code)
	}

	if !p.Unreserve(item.Authority) {
		t.Fatalf("Unreserve should succeed while reserved")
	}
	if p.Unreserve(item.Authority) {
		t.Fatalf("Unreserve should fail once already absent")
	}
}

func TestPoolCapacityEvictsOldest(t *testing.T) {
	p := newTestPool(t, filepath.Join(t.TempDir(), "hosts.txt"), 2)
	items := []wire.AddressItem{
		{Authority: mustAuthority(t, "127.0.0.1:1")},
		{Authority: mustAuthority(t, "127.0.0.1:2")},
		{Authority: mustAuthority(t, "127.0.0.1:3")},
	}
	for _, item := range items {
		done := make(chan struct{})
		p.Restore(item, func(errcode.Code) { close(done) })
		<-done
	}

	if n := p.Count(); n != 2 {
		t.Fatalf("Count() = %d, want 2 (capacity enforced)", n)
	}

	// oldest (port 1) should have been evicted; draining should yield
	// ports 2 and 3 only.
	seen := map[uint16]bool{}
	for i := 0; i < 2; i++ {
		done := make(chan wire.AddressItem, 1)
		p.Take(func(_ errcode.Code, got wire.AddressItem) { done <- got })
		seen[(<-done).Authority.Port()] = true
	}
	if seen[1] {
		t.Fatalf("oldest entry (port 1) should have been evicted")
	}
	if !seen[2] || !seen[3] {
		t.Fatalf("expected ports 2 and 3 to survive eviction, got %v", seen)
	}
}

func TestPoolSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hosts.txt")
	p := newTestPool(t, path, 10)
	items := []wire.AddressItem{
		{Authority: mustAuthority(t, "127.0.0.1:8333"), Timestamp: 100, Services: 7},
		{Authority: mustAuthority(t, "127.0.0.1:8334"), Timestamp: 200, Services: 1},
	}
	for _, item := range items {
		done := make(chan struct{})
		p.Restore(item, func(errcode.Code) { close(done) })
		<-done
	}

	saved := make(chan errcode.Code, 1)
	p.Save(func(code errcode.Code) { saved <- code })
	if code := <-saved; code != errcode.Success {
		t.Fatalf("Save = %v, want Success", code)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected hosts file to exist after Save: %v", err)
	}

	p2 := newTestPool(t, path, 10)
	loaded := make(chan errcode.Code, 1)
	p2.Load(func(code errcode.Code) { loaded <- code })
	if code := <-loaded; code != errcode.Success {
		t.Fatalf("Load = %v, want Success", code)
	}
	if n := p2.Count(); n != 2 {
		t.Fatalf("Count() after Load = %d, want 2", n)
	}
}

func TestPoolSaveEmptyDeletesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hosts.txt")
	if err := os.WriteFile(path, []byte("127.0.0.1:8333/0/0\n"), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}
	p := newTestPool(t, path, 10)

	saved := make(chan errcode.Code, 1)
	p.Save(func(code errcode.Code) { saved <- code })
	if code := <-saved; code != errcode.Success {
		t.Fatalf("Save(empty) = %v, want Success", code)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected hosts file to be removed when pool is empty")
	}
}

func TestPoolLoadMissingFileIsNotAnError(t *testing.T) {
	p := newTestPool(t, filepath.Join(t.TempDir(), "does-not-exist.txt"), 10)
	loaded := make(chan errcode.Code, 1)
	p.Load(func(code errcode.Code) { loaded <- code })
	if code := <-loaded; code != errcode.Success {
		t.Fatalf("Load(missing file) = %v, want Success", code)
	}
	if n := p.Count(); n != 0 {
		t.Fatalf("Count() = %d, want 0", n)
	}
}

func TestPoolSaveItemsFiltersAndCounts(t *testing.T) {
	p := newTestPool(t, filepath.Join(t.TempDir(), "hosts.txt"), 10)
	good := wire.AddressItem{Authority: mustAuthority(t, "127.0.0.1:1")}
	bad := wire.AddressItem{} // zero authority, rejected by policy

	accepted := make(chan int, 1)
	p.SaveItems([]wire.AddressItem{good, bad}, func(n int) { accepted <- n })
	if n := <-accepted; n != 1 {
		t.Fatalf("SaveItems accepted = %d, want 1", n)
	}
}

func TestParseAddressLine(t *testing.T) {
	item, err := parseAddressLine("127.0.0.1:8333/1234/7")
	if err != nil {
		t.Fatalf("parseAddressLine: %v", err)
	}
	if item.Timestamp != 1234 || item.Services != 7 {
		t.Fatalf("parsed item = %+v, want timestamp=1234 services=7", item)
	}

	itemNoMeta, err := parseAddressLine("127.0.0.1:8333")
	if err != nil {
		t.Fatalf("parseAddressLine(no metadata): %v", err)
	}
	if itemNoMeta.Timestamp != 0 || itemNoMeta.Services != 0 {
		t.Fatalf("missing fields should default to zero, got %+v", itemNoMeta)
	}

	if _, err := parseAddressLine(""); err == nil {
		t.Fatalf("parseAddressLine(empty) should fail")
	}
}
