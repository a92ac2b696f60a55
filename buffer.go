package devmem

import (
	"runtime"
	"unsafe"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Buffer is an owning, typed handle to one stream-ordered device memory
// allocation. The element type T fixes the pointer type returned by Get and
// the byte size requested per element; the allocation itself is untyped
// device memory.
//
// A Buffer exclusively owns its allocation: they share a single lifetime and
// the allocation is released exactly once, by Free. Buffers must not be
// copied; pass the *Buffer around instead.
//
// The zero value Buffer[T]{} is a valid empty buffer: Get returns nil, Len
// is 0 and Free is a no-op. It is distinct from a buffer constructed with
// count 0, which holds a live (empty) allocation handle from the allocator.
type Buffer[T any] struct {
	wrapper *allocWrapper
}

// allocWrapper separates the allocation from the Buffer so the cleanup
// attached to the Buffer can inspect it after the Buffer itself is gone.
type allocWrapper struct {
	data Allocation
}

// NewBuffer allocates device memory for count elements of type T on the
// given device, ordered on stream.
//
// It switches the active device to dev with a transient DeviceGuard, issues
// the allocation while that guard is held, and restores the previously
// active device before returning -- on success and on failure alike. The
// allocation's lifetime is independent of the guard's: it stays valid until
// Free.
//
// Errors: a guard failure surfaces as an error matching ErrDevice (or
// ErrInvalidDevice), an allocator failure as the allocator's error, e.g.
// matching ErrOutOfMemory. In either case no buffer exists and nothing
// leaks: the deferred guard release restores the device during unwind, and
// the allocator's all-or-nothing contract rules out a dangling allocation.
//
// If a non-empty Buffer is garbage collected without Free, the device memory
// is leaked; a cleanup attached here logs the leak (it cannot safely free:
// pointers obtained from Get may still be in flight on a stream).
func NewBuffer[T any](rt Runtime, alloc Allocator, dev DeviceID, count int, stream Stream) (*Buffer[T], error) {
	if count < 0 {
		return nil, errors.Errorf("NewBuffer: element count must be non-negative, got %d", count)
	}
	var elem T
	byteSize := count * int(unsafe.Sizeof(elem))

	guard, err := NewDeviceGuard(rt, dev)
	if err != nil {
		return nil, errors.WithMessagef(err, "NewBuffer: device %d", dev.Value())
	}
	defer guard.Release()

	data, err := alloc.Allocate(byteSize, stream)
	if err != nil {
		return nil, errors.WithMessagef(err, "NewBuffer: allocating %d bytes (%d elements) on device %d", byteSize, count, dev.Value())
	}
	b := &Buffer[T]{wrapper: &allocWrapper{data: data}}
	runtime.AddCleanup(b, func(w *allocWrapper) {
		if w.data == nil {
			return // Correctly freed.
		}
		klog.Errorf("devmem.Buffer of %d bytes garbage collected without being freed -- device memory leaked", w.data.Size())
	}, b.wrapper)
	return b, nil
}

// Get returns a typed pointer to the start of the owned device memory, or
// nil for an empty buffer. Never fails.
//
// The pointer is a view only: the caller must not free through it and must
// not use it after the Buffer is freed. Whether it may be dereferenced on
// the host depends on the allocator (cudart memory is device-only; devsim
// memory is host-backed).
func (b *Buffer[T]) Get() *T {
	if b == nil || b.wrapper == nil || b.wrapper.data == nil {
		return nil
	}
	return (*T)(b.wrapper.data.Data())
}

// Data returns the raw device pointer, or nil for an empty buffer.
func (b *Buffer[T]) Data() unsafe.Pointer {
	if b == nil || b.wrapper == nil || b.wrapper.data == nil {
		return nil
	}
	return b.wrapper.data.Data()
}

// SizeBytes returns the size of the owned allocation in bytes.
func (b *Buffer[T]) SizeBytes() int {
	if b == nil || b.wrapper == nil || b.wrapper.data == nil {
		return 0
	}
	return b.wrapper.data.Size()
}

// Len returns the number of elements of type T the buffer holds.
func (b *Buffer[T]) Len() int {
	var elem T
	elemSize := int(unsafe.Sizeof(elem))
	if elemSize == 0 {
		return 0
	}
	return b.SizeBytes() / elemSize
}

// IsEmpty reports whether the buffer holds no allocation: true for the zero
// value and after Free, false for any constructed buffer -- including one
// constructed with count 0, which holds an empty but live allocation.
func (b *Buffer[T]) IsEmpty() bool {
	return b == nil || b.wrapper == nil || b.wrapper.data == nil
}

// Free releases the device memory back to the allocator that produced it.
// Release ordering follows the allocator's own stream-association contract.
// Free is idempotent and works on the zero value; only the first call on a
// non-empty buffer does anything.
func (b *Buffer[T]) Free() error {
	if b == nil || b.wrapper == nil || b.wrapper.data == nil {
		return nil
	}
	data := b.wrapper.data
	b.wrapper.data = nil
	return data.Free()
}
