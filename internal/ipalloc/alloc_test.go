package ipalloc

import (
	"errors"
	"fmt"
	"net/netip"
	"sync"
	"testing"
)

func TestNextAvailable_SkipsUsed(t *testing.T) {
	used := map[string]struct{}{}
	for i := 2; i <= 6; i++ {
		used[fmt.Sprintf("10.5.0.%d", i)] = struct{}{}
	}

	got, err := NextAvailable("10.5.0.0/24", used)
	if err != nil {
		t.Fatalf("NextAvailable: %v", err)
	}
	if got != "10.5.0.7" {
		t.Errorf("NextAvailable = %q, want 10.5.0.7", got)
	}
}

func TestNextAvailable_EmptySubnetStartsAtSecondUsable(t *testing.T) {
	got, err := NextAvailable("10.8.0.0/24", nil)
	if err != nil {
		t.Fatalf("NextAvailable: %v", err)
	}
	if got != "10.8.0.2" {
		t.Errorf("NextAvailable = %q, want 10.8.0.2", got)
	}
}

func TestNextAvailable_HonorsPrefixLength(t *testing.T) {
	// /30 has usable hosts .1 (interface) and .2 only.
	got, err := NextAvailable("192.168.7.0/30", nil)
	if err != nil {
		t.Fatalf("NextAvailable /30: %v", err)
	}
	if got != "192.168.7.2" {
		t.Errorf("NextAvailable /30 = %q, want 192.168.7.2", got)
	}

	used := map[string]struct{}{"192.168.7.2": {}}
	if _, err := NextAvailable("192.168.7.0/30", used); !errors.Is(err, ErrAddressSpaceExhausted) {
		t.Errorf("full /30 = %v, want ErrAddressSpaceExhausted", err)
	}
}

func TestNextAvailable_WideSubnetCrossesOctet(t *testing.T) {
	used := map[string]struct{}{}
	for i := 2; i <= 255; i++ {
		used[fmt.Sprintf("10.9.0.%d", i)] = struct{}{}
	}

	got, err := NextAvailable("10.9.0.0/23", used)
	if err != nil {
		t.Fatalf("NextAvailable /23: %v", err)
	}
	if got != "10.9.1.0" {
		t.Errorf("NextAvailable /23 = %q, want 10.9.1.0", got)
	}
}

func TestNextAvailable_Exhausted(t *testing.T) {
	used := map[string]struct{}{}
	for i := 2; i <= 254; i++ {
		used[fmt.Sprintf("10.5.0.%d", i)] = struct{}{}
	}

	_, err := NextAvailable("10.5.0.0/24", used)
	if !errors.Is(err, ErrAddressSpaceExhausted) {
		t.Errorf("NextAvailable = %v, want ErrAddressSpaceExhausted", err)
	}
}

func TestNextAvailable_TooNarrow(t *testing.T) {
	for _, subnet := range []string{"10.5.0.0/31", "10.5.0.1/32"} {
		if _, err := NextAvailable(subnet, nil); !errors.Is(err, ErrAddressSpaceExhausted) {
			t.Errorf("NextAvailable(%s) = %v, want ErrAddressSpaceExhausted", subnet, err)
		}
	}
}

func TestNextAvailable_BadSubnet(t *testing.T) {
	if _, err := NextAvailable("not-a-subnet", nil); err == nil {
		t.Error("expected error for unparsable subnet")
	}
}

// Concurrent allocations against the same subnet must yield pairwise
// distinct addresses within the usable range when callers serialize via the
// per-interface lock.
func TestAllocator_ConcurrentAllocationsDistinct(t *testing.T) {
	const n = 50
	alloc := New()
	used := map[string]struct{}{}
	prefix := netip.MustParsePrefix("10.5.0.0/24")

	var wg sync.WaitGroup
	results := make(chan string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := alloc.Lock("wg0")
			defer unlock()
			addr, err := NextAvailable("10.5.0.0/24", used)
			if err != nil {
				t.Errorf("NextAvailable: %v", err)
				return
			}
			used[addr] = struct{}{}
			results <- addr
		}()
	}
	wg.Wait()
	close(results)

	seen := map[string]bool{}
	for addr := range results {
		if seen[addr] {
			t.Errorf("address %s allocated twice", addr)
		}
		seen[addr] = true
		if !prefix.Contains(netip.MustParseAddr(addr)) {
			t.Errorf("address %s outside subnet", addr)
		}
	}
	if len(seen) != n {
		t.Errorf("got %d distinct addresses, want %d", len(seen), n)
	}
}
