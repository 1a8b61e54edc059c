package keymesh

import (
	"sync/atomic"

	"github.com/c360/keymesh/internal/runtime"
)

// handleRef holds an engine handle with the release discipline every
// wrapper in this package follows: operations read the handle atomically
// and fail when it is gone, and take hands the handle to exactly one
// closer. Engine handles start at 1, so zero doubles as the absent marker.
type handleRef struct {
	v atomic.Uint64
}

func (r *handleRef) set(h runtime.Handle) {
	r.v.Store(uint64(h))
}

// get returns the handle if the resource is still open.
func (r *handleRef) get() (runtime.Handle, bool) {
	h := r.v.Load()
	return runtime.Handle(h), h != 0
}

// take atomically clears the handle, returning it to the single caller
// that wins the race. All other callers (double close, close racing an
// operation) observe absence.
func (r *handleRef) take() (runtime.Handle, bool) {
	h := r.v.Swap(0)
	return runtime.Handle(h), h != 0
}

// valid reports whether the resource has not been released.
func (r *handleRef) valid() bool {
	return r.v.Load() != 0
}
