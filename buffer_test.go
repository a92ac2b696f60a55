package devmem_test

import (
	"testing"
	"unsafe"

	"github.com/accelgo/devmem"
	"github.com/accelgo/devmem/devsim"
	"github.com/chewxy/math32"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
)

// Device 0 active, 1024 elements of a 4-byte type on stream 7: the allocator
// must see exactly 4096 bytes on stream 7, and the active device stays 0
// throughout (guard target equals prior, restore is a no-op but still runs).
func TestBufferAllocationRequest(t *testing.T) {
	rt := devsim.NewRuntime(2)
	alloc := devsim.NewAllocator(rt)
	stream := devmem.Stream(7)

	buf, err := devmem.NewBuffer[float32](rt, alloc, 0, 1024, stream)
	require.NoError(t, err)
	defer func() { require.NoError(t, buf.Free()) }()

	req, ok := alloc.LastRequest()
	require.True(t, ok)
	require.Equal(t, 4096, req.Bytes)
	require.Equal(t, stream, req.Stream)
	require.Equal(t, devmem.DeviceID(0), req.Device)

	require.Equal(t, 4096, buf.SizeBytes())
	require.Equal(t, 1024, buf.Len())
	require.Equal(t, devmem.DeviceID(0), currentDevice(t, rt))
}

// Constructing on another device must allocate with that device active and
// restore the prior one before NewBuffer returns.
func TestBufferAllocatesOnTargetDevice(t *testing.T) {
	rt := devsim.NewRuntime(3)
	alloc := devsim.NewAllocator(rt)

	buf, err := devmem.NewBuffer[int64](rt, alloc, 2, 16, devmem.DefaultStream)
	require.NoError(t, err)
	defer func() { require.NoError(t, buf.Free()) }()

	req, ok := alloc.LastRequest()
	require.True(t, ok)
	require.Equal(t, devmem.DeviceID(2), req.Device)
	require.Equal(t, devmem.DeviceID(0), currentDevice(t, rt))
}

// Construct-then-free must leave the active device exactly as it was, for
// any target device.
func TestBufferRestoreInvariant(t *testing.T) {
	rt := devsim.NewRuntime(4)
	alloc := devsim.NewAllocator(rt)
	require.NoError(t, rt.SetDevice(1))

	for target := devmem.DeviceID(0); target.Value() < rt.DeviceCount(); target++ {
		buf, err := devmem.NewBuffer[byte](rt, alloc, target, 256, devmem.DefaultStream)
		require.NoError(t, err)
		require.NoError(t, buf.Free())
		require.Equal(t, devmem.DeviceID(1), currentDevice(t, rt))
	}
}

func TestBufferNoLeak(t *testing.T) {
	rt := devsim.NewRuntime(1)
	alloc := devsim.NewAllocator(rt)

	buf, err := devmem.NewBuffer[float64](rt, alloc, 0, 100, devmem.DefaultStream)
	require.NoError(t, err)
	require.Equal(t, 800, alloc.InUseBytes())
	require.Equal(t, 1, alloc.AllocsAlive())

	require.NoError(t, buf.Free())
	require.Equal(t, 0, alloc.InUseBytes())
	require.Equal(t, 0, alloc.AllocsAlive())

	// Free is idempotent.
	require.NoError(t, buf.Free())
	require.Equal(t, 0, alloc.AllocsAlive())
}

// A default-constructed buffer is empty; a size-0 constructed buffer holds a
// live empty allocation. Get must not crash on either.
func TestBufferEmptyVersusSizeZero(t *testing.T) {
	rt := devsim.NewRuntime(1)
	alloc := devsim.NewAllocator(rt)

	var empty devmem.Buffer[float32]
	require.True(t, empty.IsEmpty())
	require.Nil(t, empty.Get())
	require.Equal(t, 0, empty.Len())
	require.NoError(t, empty.Free())

	zero, err := devmem.NewBuffer[float32](rt, alloc, 0, 0, devmem.DefaultStream)
	require.NoError(t, err)
	require.False(t, zero.IsEmpty())
	require.Nil(t, zero.Get())
	require.Equal(t, 0, zero.Len())
	require.Equal(t, 1, alloc.AllocsAlive())
	require.NoError(t, zero.Free())
	require.True(t, zero.IsEmpty())
}

// Active device 0, size-0 request on device 1: no allocation failure by
// default, and the active device returns to 0. With zero-size requests
// forbidden (allocator-defined) the construction fails instead, still
// restoring device 0.
func TestBufferSizeZeroOnOtherDevice(t *testing.T) {
	rt := devsim.NewRuntime(2)
	alloc := devsim.NewAllocator(rt)

	buf, err := devmem.NewBuffer[float32](rt, alloc, 1, 0, devmem.DefaultStream)
	require.NoError(t, err)
	require.Equal(t, devmem.DeviceID(0), currentDevice(t, rt))
	require.NoError(t, buf.Free())

	alloc.SetForbidZeroSize(true)
	_, err = devmem.NewBuffer[float32](rt, alloc, 1, 0, devmem.DefaultStream)
	require.ErrorIs(t, err, devsim.ErrZeroSize)
	require.Equal(t, devmem.DeviceID(0), currentDevice(t, rt))
}

func TestBufferInvalidDevice(t *testing.T) {
	rt := devsim.NewRuntime(2)
	alloc := devsim.NewAllocator(rt)

	buf, err := devmem.NewBuffer[float32](rt, alloc, 9, 10, devmem.DefaultStream)
	require.Nil(t, buf)
	require.ErrorIs(t, err, devmem.ErrInvalidDevice)

	// Atomic failure: no allocation was attempted, no device switch stuck.
	require.Equal(t, 0, alloc.AllocsAlive())
	require.Equal(t, devmem.DeviceID(0), currentDevice(t, rt))
}

// Allocation failure (out of memory) must be distinct from the device error
// kind, and the guard must still restore during unwind.
func TestBufferOutOfMemory(t *testing.T) {
	rt := devsim.NewRuntime(2)
	alloc := devsim.NewAllocator(rt)
	alloc.SetCapacity(1024)
	require.NoError(t, rt.SetDevice(1))

	buf, err := devmem.NewBuffer[float64](rt, alloc, 0, 1000, devmem.DefaultStream)
	require.Nil(t, buf)
	require.ErrorIs(t, err, devmem.ErrOutOfMemory)
	require.NotErrorIs(t, err, devmem.ErrDevice)
	require.Equal(t, 0, alloc.InUseBytes())
	require.Equal(t, devmem.DeviceID(1), currentDevice(t, rt))
}

func TestBufferNegativeCount(t *testing.T) {
	rt := devsim.NewRuntime(1)
	alloc := devsim.NewAllocator(rt)

	_, err := devmem.NewBuffer[float32](rt, alloc, 0, -1, devmem.DefaultStream)
	require.Error(t, err)
	require.Equal(t, 0, alloc.AllocsAlive())
}

// devsim memory is host-backed, so the typed pointer from Get can be written
// and read directly here.
func TestBufferTypedAccess(t *testing.T) {
	rt := devsim.NewRuntime(1)
	alloc := devsim.NewAllocator(rt)

	const n = 64
	buf, err := devmem.NewBuffer[float32](rt, alloc, 0, n, devmem.DefaultStream)
	require.NoError(t, err)
	defer func() { require.NoError(t, buf.Free()) }()

	values := unsafe.Slice(buf.Get(), buf.Len())
	for i := range values {
		values[i] = math32.Sqrt(float32(i))
	}
	for i := range values {
		require.Equal(t, math32.Sqrt(float32(i)), values[i])
	}
}

// Half-precision elements: the byte size must follow the 2-byte storage
// type.
func TestBufferFloat16Elements(t *testing.T) {
	rt := devsim.NewRuntime(1)
	alloc := devsim.NewAllocator(rt)

	buf, err := devmem.NewBuffer[float16.Float16](rt, alloc, 0, 128, devmem.DefaultStream)
	require.NoError(t, err)
	defer func() { require.NoError(t, buf.Free()) }()

	require.Equal(t, 256, buf.SizeBytes())
	require.Equal(t, 128, buf.Len())

	values := unsafe.Slice(buf.Get(), buf.Len())
	values[0] = float16.Fromfloat32(1.5)
	require.Equal(t, float32(1.5), values[0].Float32())
}
