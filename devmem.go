// Package devmem provides device-affine memory primitives for GPU-accelerated
// numerical code: a scoped "current device" guard (DeviceGuard) and an owning,
// typed, stream-ordered device memory buffer (Buffer).
//
// The package itself talks to the accelerator only through two narrow
// interfaces, Runtime (get/set the process-wide active device) and Allocator
// (stream-ordered allocation and release). Concrete implementations live in
// subpackages:
//
//   - cudart: bindings to the Nvidia CUDA runtime API (build with -tags cuda).
//   - devsim: a host-backed simulated runtime and allocator, used by the tests
//     and useful on machines without an accelerator.
//   - memtrack: an accounting decorator for any Allocator.
//
// The usual composition is a Buffer constructed inside a DeviceGuard scope:
//
//	rt, err := cudart.New()
//	if err != nil { ... }
//	buf, err := devmem.NewBuffer[float32](rt, cudart.NewAllocator(), 1, 1024, stream)
//	if err != nil { ... }
//	defer buf.Free()
//
// NewBuffer takes care of the guard internally: the allocation is issued while
// the target device is active, and the previously active device is restored
// before NewBuffer returns.
//
// # Device selection and goroutines
//
// The "currently active device" is state owned by the underlying runtime, not
// by this package. For CUDA it is kept per OS thread; a goroutine that needs
// device affinity must pin itself with runtime.LockOSThread and hold its own
// DeviceGuard. Guards on the same thread must be released in strict LIFO
// order; nothing here takes a lock over the runtime's selection state.
package devmem

import "unsafe"

// DeviceID names one accelerator among those visible to the process. It is an
// opaque ordinal, e.g. the CUDA device number; in general not guaranteed to be
// dense. Plain value type, no ownership semantics.
type DeviceID int

// Value returns the raw device ordinal.
func (id DeviceID) Value() int { return int(id) }

// Stream is an opaque handle to a device-side ordered command queue.
// Operations enqueued on the same stream execute on the device in issue
// order; across streams there is no ordering guarantee. For CUDA this is the
// cudaStream_t value.
type Stream uintptr

// DefaultStream is the runtime's default (null) stream.
const DefaultStream Stream = 0

// Runtime is the device-selection surface of an accelerator runtime.
//
// Both calls fail with an error matching ErrDevice (via errors.Is) when the
// underlying driver call fails; SetDevice with an unknown ordinal fails with
// an error matching ErrInvalidDevice.
type Runtime interface {
	// CurrentDevice returns the device currently active for the calling
	// thread.
	CurrentDevice() (DeviceID, error)

	// SetDevice makes the given device the active one for the calling
	// thread. All subsequent device-affine calls on this thread are issued
	// against it.
	SetDevice(DeviceID) error
}

// Allocation is one stream-ordered device memory allocation, exclusively
// owned by whoever holds it.
type Allocation interface {
	// Data returns the raw device pointer to the start of the allocation.
	// It may be nil for an empty (zero byte) allocation.
	Data() unsafe.Pointer

	// Size returns the allocation size in bytes.
	Size() int

	// Free releases the memory back to the allocator that produced it.
	// Release is ordered on whatever stream the allocator associates with
	// this allocation (for cudart, the stream the allocation was made on).
	// Free is idempotent; only the first call does work.
	Free() error
}

// Allocator hands out stream-ordered device memory on the device that is
// active at call time.
//
// Allocate either fully succeeds or fully fails; it never returns a partial
// or dangling Allocation alongside an error. Exhaustion of device memory is
// reported with an error matching ErrOutOfMemory. Whether a zero byte request
// succeeds (returning an empty Allocation) is allocator-defined.
type Allocator interface {
	Allocate(byteSize int, stream Stream) (Allocation, error)
}
