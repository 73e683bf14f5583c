package ingest

import (
	"sync"

	"github.com/hbastian/fieldline-core/internal/device"
)

// addressIndex maps endpoint addresses to the input endpoints bound
// to them for one connector. Several endpoints may share an address
// (fan-in); a reading on that address updates every bound device.
//
// The index is rebuilt periodically from the database so endpoints
// added or removed while a worker is running take effect without a
// restart.
type addressIndex struct {
	mu      sync.RWMutex
	entries map[string][]device.ResolvedEndpoint
}

// newAddressIndex creates an empty index.
func newAddressIndex() *addressIndex {
	return &addressIndex{
		entries: make(map[string][]device.ResolvedEndpoint),
	}
}

// Replace swaps the index contents for a fresh endpoint listing and
// returns the addresses that were added and removed relative to the
// previous contents. The MQTT worker uses the diff to adjust its
// subscriptions.
func (idx *addressIndex) Replace(endpoints []device.ResolvedEndpoint) (added, removed []string) {
	next := make(map[string][]device.ResolvedEndpoint, len(endpoints))
	for _, ep := range endpoints {
		next[ep.Address] = append(next[ep.Address], ep)
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	for addr := range next {
		if _, ok := idx.entries[addr]; !ok {
			added = append(added, addr)
		}
	}
	for addr := range idx.entries {
		if _, ok := next[addr]; !ok {
			removed = append(removed, addr)
		}
	}

	idx.entries = next
	return added, removed
}

// Resolve returns the endpoints bound to an address. Resolution is
// exact string match only; an unknown address returns nil and the
// reading is dropped.
func (idx *addressIndex) Resolve(address string) []device.ResolvedEndpoint {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.entries[address]
}

// Addresses returns all indexed addresses.
func (idx *addressIndex) Addresses() []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	addrs := make([]string, 0, len(idx.entries))
	for addr := range idx.entries {
		addrs = append(addrs, addr)
	}
	return addrs
}

// Len returns the number of distinct addresses in the index.
func (idx *addressIndex) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.entries)
}
