package devsim

import (
	"sync"
	"unsafe"

	"github.com/accelgo/devmem"
	"github.com/pkg/errors"
)

// slabAlignment matches the alignment real device allocators give out, so
// pointer arithmetic in tests behaves like it would on device memory.
const slabAlignment = 64

// ErrZeroSize is returned by Allocate for a zero byte request when the
// allocator was configured with ForbidZeroSize. By default zero byte
// requests succeed and yield an empty allocation.
var ErrZeroSize = errors.New("devsim: zero byte allocations are disabled")

// Request records the parameters of one Allocate call, as seen by the
// allocator, for test assertions.
type Request struct {
	Bytes  int
	Stream devmem.Stream
	Device devmem.DeviceID // device active when the request arrived
}

// Allocator is a host-backed, accounting devmem.Allocator. Each allocation
// is a 64-byte aligned host slab tagged with the device that was active and
// the stream that was given when it was made. Streams order nothing here --
// host calls already run in program order -- but the handles are recorded so
// tests can assert on them.
type Allocator struct {
	rt *Runtime

	mu             sync.Mutex
	capacity       int // 0 means unlimited
	inUseBytes     int
	peakBytes      int
	allocsAlive    int
	forbidZeroSize bool
	last           Request
	hasLast        bool
}

// NewAllocator returns an allocator drawing from rt for the active device.
func NewAllocator(rt *Runtime) *Allocator {
	return &Allocator{rt: rt}
}

// SetCapacity bounds the total outstanding bytes; requests beyond it fail
// with devmem.ErrOutOfMemory. A capacity of 0 (the default) is unlimited.
func (a *Allocator) SetCapacity(bytes int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.capacity = bytes
}

// SetForbidZeroSize makes zero byte requests fail with ErrZeroSize, to
// exercise callers against allocators that reject them.
func (a *Allocator) SetForbidZeroSize(forbid bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.forbidZeroSize = forbid
}

// Allocate implements devmem.Allocator.
func (a *Allocator) Allocate(byteSize int, stream devmem.Stream) (devmem.Allocation, error) {
	if byteSize < 0 {
		return nil, errors.Errorf("devsim: negative allocation size %d", byteSize)
	}
	device, err := a.rt.CurrentDevice()
	if err != nil {
		return nil, errors.WithMessage(err, "devsim: allocation needs the active device")
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if byteSize == 0 && a.forbidZeroSize {
		return nil, errors.WithStack(ErrZeroSize)
	}
	if a.capacity > 0 && a.inUseBytes+byteSize > a.capacity {
		return nil, errors.WithMessagef(devmem.ErrOutOfMemory,
			"devsim: %d bytes requested with %d of %d in use", byteSize, a.inUseBytes, a.capacity)
	}

	alloc := &allocation{owner: a, size: byteSize, stream: stream, device: device}
	if byteSize > 0 {
		alloc.slab, alloc.ptr = alignedSlab(byteSize)
	}
	a.inUseBytes += byteSize
	if a.inUseBytes > a.peakBytes {
		a.peakBytes = a.inUseBytes
	}
	a.allocsAlive++
	a.last = Request{Bytes: byteSize, Stream: stream, Device: device}
	a.hasLast = true
	return alloc, nil
}

// InUseBytes returns the bytes currently allocated and not yet freed.
func (a *Allocator) InUseBytes() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.inUseBytes
}

// PeakBytes returns the high-water mark of InUseBytes.
func (a *Allocator) PeakBytes() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.peakBytes
}

// AllocsAlive returns the number of allocations handed out and not yet
// freed.
func (a *Allocator) AllocsAlive() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.allocsAlive
}

// LastRequest returns the parameters of the most recent Allocate call, and
// whether there was one.
func (a *Allocator) LastRequest() (Request, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.last, a.hasLast
}

func (a *Allocator) release(alloc *allocation) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.inUseBytes -= alloc.size
	a.allocsAlive--
}

// allocation is one live slab. It keeps the backing slice referenced so the
// pointer handed out through Data stays valid until Free.
type allocation struct {
	owner  *Allocator
	slab   []byte
	ptr    unsafe.Pointer
	size   int
	stream devmem.Stream
	device devmem.DeviceID
	freed  bool
}

func (alloc *allocation) Data() unsafe.Pointer { return alloc.ptr }

func (alloc *allocation) Size() int { return alloc.size }

func (alloc *allocation) Free() error {
	if alloc.freed {
		return nil
	}
	alloc.freed = true
	alloc.owner.release(alloc)
	alloc.slab = nil
	alloc.ptr = nil
	return nil
}

// alignedSlab over-allocates by the alignment and returns both the backing
// slice and the first address inside it aligned to slabAlignment. Same
// strategy as an aligned malloc, minus the hidden original-pointer slot --
// the slice itself keeps the backing alive.
func alignedSlab(size int) ([]byte, unsafe.Pointer) {
	slab := make([]byte, size+slabAlignment)
	addr := uintptr(unsafe.Pointer(unsafe.SliceData(slab)))
	shift := uintptr(0)
	if rem := addr % slabAlignment; rem != 0 {
		shift = slabAlignment - rem
	}
	return slab, unsafe.Pointer(&slab[shift])
}
