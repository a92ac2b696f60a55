// Package devsim implements devmem.Runtime and devmem.Allocator on plain
// host memory, simulating a machine with a configurable number of
// accelerators. It exists for tests and for development on machines without
// a GPU: the package tests of devmem run against it, and its allocator keeps
// the accounting (bytes in use, allocations alive, last request) that the
// real runtimes do not expose.
//
// Allocations are backed by 64-byte aligned host slabs, so pointers obtained
// from devmem.Buffer.Get may be dereferenced directly in tests.
package devsim

import (
	"sync"

	"github.com/accelgo/devmem"
	"github.com/pkg/errors"
)

// Runtime simulates the device-selection state of an accelerator runtime
// with a fixed number of devices. Unlike CUDA's per-thread selection, the
// simulated current device is a single value shared by all goroutines,
// guarded by a mutex; the save/restore discipline of devmem.DeviceGuard is
// what keeps it consistent.
type Runtime struct {
	mu      sync.Mutex
	count   int
	current devmem.DeviceID

	failNext error // returned (once) by the next runtime call, for tests
}

// NewRuntime returns a simulated runtime with deviceCount devices, numbered
// 0 to deviceCount-1, with device 0 active.
func NewRuntime(deviceCount int) *Runtime {
	return &Runtime{count: deviceCount}
}

// DeviceCount returns the number of simulated devices.
func (r *Runtime) DeviceCount() int { return r.count }

// CurrentDevice returns the currently active simulated device.
func (r *Runtime) CurrentDevice() (devmem.DeviceID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.takeInjectedFailure(); err != nil {
		return 0, errors.WithMessage(err, "devsim: querying active device")
	}
	return r.current, nil
}

// SetDevice makes id the active simulated device. An out-of-range ordinal
// fails with devmem.ErrInvalidDevice and leaves the active device unchanged.
func (r *Runtime) SetDevice(id devmem.DeviceID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.takeInjectedFailure(); err != nil {
		return errors.WithMessagef(err, "devsim: switching active device to %d", id.Value())
	}
	if id < 0 || int(id) >= r.count {
		return errors.WithMessagef(devmem.ErrInvalidDevice, "devsim: device %d not in [0, %d)", id.Value(), r.count)
	}
	r.current = id
	return nil
}

// FailNextCall makes the next CurrentDevice or SetDevice call fail with err
// (wrapped). Only that one call fails; later ones behave normally.
func (r *Runtime) FailNextCall(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failNext = err
}

func (r *Runtime) takeInjectedFailure() error {
	err := r.failNext
	r.failNext = nil
	return err
}
