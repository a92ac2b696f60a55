//go:build !cuda

package cudart

import (
	"github.com/accelgo/devmem"
	"github.com/pkg/errors"
)

// DeviceCount fails with ErrNotBuilt.
func DeviceCount() (int, error) {
	return 0, errors.WithStack(ErrNotBuilt)
}

// Runtime is a placeholder; without the cuda build tag it cannot be
// constructed.
type Runtime struct{}

// New fails with ErrNotBuilt.
func New() (*Runtime, error) {
	return nil, errors.WithStack(ErrNotBuilt)
}

func (r *Runtime) CurrentDevice() (devmem.DeviceID, error) {
	return 0, errors.WithStack(ErrNotBuilt)
}

func (r *Runtime) SetDevice(devmem.DeviceID) error {
	return errors.WithStack(ErrNotBuilt)
}

// Allocator is a placeholder; its Allocate always fails with ErrNotBuilt.
type Allocator struct{}

// NewAllocator returns the placeholder allocator.
func NewAllocator() *Allocator { return &Allocator{} }

func (a *Allocator) Allocate(byteSize int, stream devmem.Stream) (devmem.Allocation, error) {
	return nil, errors.WithStack(ErrNotBuilt)
}
