// Package cudart implements devmem.Runtime and devmem.Allocator on the
// Nvidia CUDA runtime API: device selection via cudaGetDevice/cudaSetDevice
// and stream-ordered memory via cudaMallocAsync/cudaFreeAsync (CUDA 11.2+).
//
// The binding requires cgo and the CUDA toolkit, so it is compiled only with
// `-tags cuda`; without the tag every constructor fails with ErrNotBuilt and
// the package still compiles everywhere.
//
// CUDA keeps the active device per OS thread. Goroutines using this runtime
// with device affinity must pin themselves with runtime.LockOSThread for the
// duration of their devmem.DeviceGuard scopes.
package cudart

import "github.com/pkg/errors"

// ErrNotBuilt is returned by every entry point when the binary was built
// without the cuda build tag.
var ErrNotBuilt = errors.New("cudart: built without CUDA support (rebuild with -tags cuda)")
