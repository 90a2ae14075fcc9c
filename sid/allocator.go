// Package sid allocates stream identifiers (SIDs) for in-flight calls
// without a global atomic on the hot path. Contention-free "bands" of SID
// space are carved per host OS thread in the design this generalizes;
// Go's concurrency unit is the goroutine rather than the OS thread, so
// bands are claimed per-goroutine instead, keyed by goroutine identity.
package sid

import (
	"sync"
	"sync/atomic"

	"github.com/joeycumines/goroutineid"
)

// BandBits controls the width of each goroutine's private SID band,
// expressed as a power of two (2^BandBits values per band). The default of
// 20 (roughly one million SIDs per band) makes reuse within a single
// process lifetime physically impossible at any realistic call rate.
const BandBits = 20

const bandSize = uint64(1) << BandBits

// band is owned by exactly one goroutine at a time (the one whose id keys
// it in Allocator.bands); next is only ever mutated by that goroutine, so
// it is a plain field rather than an atomic one.
type band struct {
	next uint64
	end  uint64
}

// Allocator hands out dense, monotonically-increasing SIDs. Every value it
// returns is globally unique for the lifetime of any registered completion
// that still references it. The zero value is not usable; construct with
// NewAllocator.
type Allocator struct {
	blockCounter atomic.Uint64
	bands        sync.Map // int64 goroutine id -> *band
}

// NewAllocator constructs an Allocator with an empty band table.
func NewAllocator() *Allocator {
	return &Allocator{}
}

// Next returns a fresh SID. On the hot path (an already-claimed band with
// remaining capacity) this is a sync.Map load plus a non-atomic increment;
// no global atomic is touched. A new global atomic fetch-and-add against
// blockCounter only occurs once per 2^BandBits-sized band, amortized across
// 2^BandBits calls from the same goroutine.
func (a *Allocator) Next() uint64 {
	gid := goroutineid.Get()

	if v, ok := a.bands.Load(gid); ok {
		b := v.(*band)
		if b.next < b.end {
			v := b.next
			b.next++
			return v
		}
	}

	start := a.blockCounter.Add(bandSize) - bandSize
	b := &band{next: start + 1, end: start + bandSize}
	a.bands.Store(gid, b)
	return start
}

// Release drops this goroutine's cached band, if any. Callers do not need
// to call this in ordinary operation; it exists so long-lived worker pools
// can bound the band table's memory when a goroutine that allocated SIDs is
// about to exit and will never allocate again.
func (a *Allocator) Release() {
	a.bands.Delete(goroutineid.Get())
}
