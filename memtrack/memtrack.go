// Package memtrack decorates a devmem.Allocator with allocation accounting:
// outstanding bytes, allocations alive and the peak footprint. Real device
// allocators (cudart) expose none of this, so production code that wants
// leak detection or footprint reporting wraps its allocator here; the cost
// is a few atomic operations per allocation.
package memtrack

import (
	"sync/atomic"

	"github.com/accelgo/devmem"
)

// Stats is a snapshot of an Allocator's accounting.
type Stats struct {
	InUseBytes  int64 // bytes allocated and not yet freed
	AllocsAlive int64 // allocations handed out and not yet freed
	PeakBytes   int64 // high-water mark of InUseBytes
}

// Allocator forwards to an inner devmem.Allocator and counts what passes
// through. Safe for concurrent use if the inner allocator is.
type Allocator struct {
	inner devmem.Allocator

	inUse atomic.Int64
	alive atomic.Int64
	peak  atomic.Int64
}

// Wrap returns an accounting decorator around inner.
func Wrap(inner devmem.Allocator) *Allocator {
	return &Allocator{inner: inner}
}

// Allocate implements devmem.Allocator. On success the returned allocation
// is tracked until its Free.
func (a *Allocator) Allocate(byteSize int, stream devmem.Stream) (devmem.Allocation, error) {
	alloc, err := a.inner.Allocate(byteSize, stream)
	if err != nil {
		return nil, err
	}
	size := int64(alloc.Size())
	inUse := a.inUse.Add(size)
	a.alive.Add(1)
	for {
		peak := a.peak.Load()
		if inUse <= peak || a.peak.CompareAndSwap(peak, inUse) {
			break
		}
	}
	return &tracked{Allocation: alloc, owner: a}, nil
}

// Stats returns a snapshot of the accounting. The three counters are read
// independently; under concurrent allocation they may not be mutually
// consistent.
func (a *Allocator) Stats() Stats {
	return Stats{
		InUseBytes:  a.inUse.Load(),
		AllocsAlive: a.alive.Load(),
		PeakBytes:   a.peak.Load(),
	}
}

// tracked undoes the accounting on Free, exactly once even if the caller
// frees twice.
type tracked struct {
	devmem.Allocation
	owner *Allocator
	freed atomic.Bool
}

func (t *tracked) Free() error {
	if t.freed.Swap(true) {
		return nil
	}
	t.owner.inUse.Add(-int64(t.Allocation.Size()))
	t.owner.alive.Add(-1)
	return t.Allocation.Free()
}
