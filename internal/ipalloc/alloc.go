// Package ipalloc assigns peer addresses within an interface's subnet.
// Allocation for a given interface must be serialized: callers hold the
// interface's lock across the read-choose-write cycle so two concurrent
// allocations never return the same address.
package ipalloc

import (
	"errors"
	"fmt"
	"net/netip"
	"sync"
)

// ErrAddressSpaceExhausted is returned when every usable host address in the
// subnet is taken.
var ErrAddressSpaceExhausted = errors.New("address space exhausted")

// NextAvailable scans host addresses from the second usable address upward
// and returns the first one not present in used. The first usable address is
// reserved for the interface itself. The scan honors the subnet's real
// prefix length: /31 and /32 have no allocatable peer addresses.
func NextAvailable(subnet string, used map[string]struct{}) (string, error) {
	prefix, err := netip.ParsePrefix(subnet)
	if err != nil {
		return "", fmt.Errorf("parse subnet %q: %w", subnet, err)
	}
	prefix = prefix.Masked()

	if !prefix.Addr().Is4() {
		return "", fmt.Errorf("subnet %q: only IPv4 subnets are allocatable", subnet)
	}
	if prefix.Bits() >= 31 {
		return "", fmt.Errorf("subnet %q: %w", subnet, ErrAddressSpaceExhausted)
	}

	broadcast := lastAddr(prefix)

	// Network address, then the interface's own address, then candidates.
	addr := prefix.Addr().Next().Next()
	for addr.IsValid() && prefix.Contains(addr) && addr != broadcast {
		if _, taken := used[addr.String()]; !taken {
			return addr.String(), nil
		}
		addr = addr.Next()
	}
	return "", fmt.Errorf("subnet %q: %w", subnet, ErrAddressSpaceExhausted)
}

// lastAddr returns the highest address in the prefix (the IPv4 broadcast).
func lastAddr(prefix netip.Prefix) netip.Addr {
	raw := prefix.Addr().As4()
	hostBits := 32 - prefix.Bits()
	for i := 3; i >= 0 && hostBits > 0; i-- {
		if hostBits >= 8 {
			raw[i] = 0xff
			hostBits -= 8
		} else {
			raw[i] |= 0xff >> (8 - hostBits)
			hostBits = 0
		}
	}
	return netip.AddrFrom4(raw)
}

// Allocator provides per-interface allocation locks. The zero value is not
// usable; call New.
type Allocator struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates an Allocator.
func New() *Allocator {
	return &Allocator{locks: make(map[string]*sync.Mutex)}
}

// Lock acquires the allocation lock for the named interface and returns the
// release func. Callers must hold the lock from reading the used-address set
// until the new peer row is written.
func (a *Allocator) Lock(name string) func() {
	a.mu.Lock()
	l, ok := a.locks[name]
	if !ok {
		l = &sync.Mutex{}
		a.locks[name] = l
	}
	a.mu.Unlock()

	l.Lock()
	return l.Unlock
}
