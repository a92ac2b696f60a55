package devmem

import "github.com/pkg/errors"

// Error kinds reported by Runtime and Allocator implementations. They are
// matched with errors.Is; implementations attach context with
// errors.WithMessagef or errors.Wrapf so the kind survives wrapping.
var (
	// ErrDevice is the kind for failures of device runtime calls (querying
	// or switching the active device, driver errors).
	ErrDevice = errors.New("device runtime call failed")

	// ErrInvalidDevice reports a device ordinal that does not name any
	// accelerator visible to the process. It matches ErrDevice too.
	ErrInvalidDevice = errors.WithMessage(ErrDevice, "invalid device ordinal")

	// ErrOutOfMemory is the kind for allocation failures due to exhausted
	// device memory.
	ErrOutOfMemory = errors.New("out of device memory")
)
