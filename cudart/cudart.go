//go:build cuda

package cudart

/*
#cgo LDFLAGS: -lcudart
#include <cuda_runtime_api.h>
*/
import "C"
import (
	"unsafe"

	"github.com/accelgo/devmem"
	"github.com/pkg/errors"
)

// toError converts a cudaError_t to a Go error carrying the driver message,
// mapped onto the devmem error kinds. Returns nil on cudaSuccess.
func toError(code C.cudaError_t) error {
	if code == C.cudaSuccess {
		return nil
	}
	msg := C.GoString(C.cudaGetErrorString(code))
	switch code {
	case C.cudaErrorMemoryAllocation:
		return errors.WithMessagef(devmem.ErrOutOfMemory, "cuda: %s", msg)
	case C.cudaErrorInvalidDevice:
		return errors.WithMessagef(devmem.ErrInvalidDevice, "cuda: %s", msg)
	}
	return errors.WithMessagef(devmem.ErrDevice, "cuda error (code=%d): %s", int(code), msg)
}

func cStream(stream devmem.Stream) C.cudaStream_t {
	return C.cudaStream_t(unsafe.Pointer(uintptr(stream)))
}

// DeviceCount returns the number of CUDA devices visible to the process.
func DeviceCount() (int, error) {
	var n C.int
	if err := toError(C.cudaGetDeviceCount(&n)); err != nil {
		return 0, err
	}
	return int(n), nil
}

// Runtime is the CUDA device-selection surface. The active device is kept by
// the CUDA runtime per OS thread; Runtime itself is stateless.
type Runtime struct{}

// New returns the CUDA runtime after checking that at least one device is
// visible.
func New() (*Runtime, error) {
	n, err := DeviceCount()
	if err != nil {
		return nil, errors.WithMessage(err, "cudart: querying device count")
	}
	if n == 0 {
		return nil, errors.WithMessage(devmem.ErrDevice, "cudart: no CUDA devices visible")
	}
	return &Runtime{}, nil
}

// CurrentDevice implements devmem.Runtime over cudaGetDevice.
func (r *Runtime) CurrentDevice() (devmem.DeviceID, error) {
	var dev C.int
	if err := toError(C.cudaGetDevice(&dev)); err != nil {
		return 0, err
	}
	return devmem.DeviceID(dev), nil
}

// SetDevice implements devmem.Runtime over cudaSetDevice.
func (r *Runtime) SetDevice(id devmem.DeviceID) error {
	return toError(C.cudaSetDevice(C.int(id.Value())))
}

// Allocator hands out stream-ordered CUDA memory from the default memory
// pool of the device active at Allocate time.
type Allocator struct{}

// NewAllocator returns the cudaMallocAsync-backed allocator.
func NewAllocator() *Allocator { return &Allocator{} }

// Allocate implements devmem.Allocator over cudaMallocAsync. A zero byte
// request succeeds and yields an empty allocation (nil device pointer).
func (a *Allocator) Allocate(byteSize int, stream devmem.Stream) (devmem.Allocation, error) {
	if byteSize < 0 {
		return nil, errors.Errorf("cudart: negative allocation size %d", byteSize)
	}
	var ptr unsafe.Pointer
	if byteSize > 0 {
		if err := toError(C.cudaMallocAsync(&ptr, C.size_t(byteSize), cStream(stream))); err != nil {
			return nil, err
		}
	}
	return &allocation{ptr: ptr, size: byteSize, stream: stream}, nil
}

// allocation is one live cudaMallocAsync block. Free is ordered on the
// stream the block was allocated on.
type allocation struct {
	ptr    unsafe.Pointer
	size   int
	stream devmem.Stream
}

func (alloc *allocation) Data() unsafe.Pointer { return alloc.ptr }

func (alloc *allocation) Size() int { return alloc.size }

func (alloc *allocation) Free() error {
	if alloc.ptr == nil {
		return nil
	}
	err := toError(C.cudaFreeAsync(alloc.ptr, cStream(alloc.stream)))
	alloc.ptr = nil
	alloc.size = 0
	return err
}
