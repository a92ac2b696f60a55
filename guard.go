package devmem

import (
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// DeviceGuard temporarily switches the active device to a target, and
// restores the previously active device on Release. It is the scoped
// save/restore discipline for the runtime's process-wide (per-thread for
// CUDA) device-selection state:
//
//	guard, err := devmem.NewDeviceGuard(rt, device)
//	if err != nil { ... }
//	defer guard.Release()
//	// device-affine work here runs against `device`
//
// Guards on the same thread must be released in strict LIFO order, which the
// construct-then-defer pattern above gives naturally. A guard must not be
// copied: exactly one Release restores the saved device.
type DeviceGuard struct {
	rt       Runtime
	prev     DeviceID
	released bool
}

// NewDeviceGuard records the currently active device on rt and switches the
// active device to target.
//
// On failure (either the query or the switch) it returns a nil guard and an
// error matching ErrDevice; no restore is pending and the caller must not
// call Release. A failed switch leaves the active device as it was.
func NewDeviceGuard(rt Runtime, target DeviceID) (*DeviceGuard, error) {
	prev, err := rt.CurrentDevice()
	if err != nil {
		return nil, errors.WithMessage(err, "DeviceGuard: failed to query the active device")
	}
	if err = rt.SetDevice(target); err != nil {
		return nil, errors.WithMessagef(err, "DeviceGuard: failed to switch the active device to %d", target.Value())
	}
	return &DeviceGuard{rt: rt, prev: prev}, nil
}

// PreviousDevice returns the device that was active when the guard was
// created, the one Release restores.
func (g *DeviceGuard) PreviousDevice() DeviceID { return g.prev }

// Release restores the device that was active when the guard was created.
//
// Release never fails: it commonly runs deferred, during the unwind of some
// other failure, so a restore error is logged (klog) and swallowed rather
// than returned. Calling Release more than once is a no-op, as is calling it
// on a nil guard -- `defer guard.Release()` stays correct next to an early
// manual Release.
func (g *DeviceGuard) Release() {
	if g == nil || g.released {
		return
	}
	g.released = true
	if err := g.rt.SetDevice(g.prev); err != nil {
		klog.Errorf("DeviceGuard: failed to restore the active device to %d: %+v", g.prev.Value(), err)
	}
}
