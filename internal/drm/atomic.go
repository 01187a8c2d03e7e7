package drm

import (
	"fmt"
	"runtime"
	"unsafe"
)

// AtomicRequest accumulates property assignments for one atomic commit.
// Properties are grouped per object in insertion order, as the kernel
// expects.
type AtomicRequest struct {
	objects []uint32
	props   map[uint32][]PropertyValue
	err     error
}

func NewAtomicRequest() *AtomicRequest {
	return &AtomicRequest{props: make(map[uint32][]PropertyValue)}
}

// Add sets prop on object obj. A zero property id means the driver does
// not expose the property; the request is then marked failed.
func (r *AtomicRequest) Add(obj, prop uint32, value uint64) {
	if r.err != nil {
		return
	}
	if prop == 0 {
		r.err = fmt.Errorf("object %d: missing property", obj)
		return
	}
	if _, ok := r.props[obj]; !ok {
		r.objects = append(r.objects, obj)
	}
	r.props[obj] = append(r.props[obj], PropertyValue{ID: prop, Value: value})
}

// Err reports the first failed Add.
func (r *AtomicRequest) Err() error { return r.err }

// Len returns the number of property assignments.
func (r *AtomicRequest) Len() int {
	n := 0
	for _, p := range r.props {
		n += len(p)
	}
	return n
}

// Value returns the value assigned to prop on obj, if any.
func (r *AtomicRequest) Value(obj, prop uint32) (uint64, bool) {
	for _, p := range r.props[obj] {
		if p.ID == prop {
			return p.Value, true
		}
	}
	return 0, false
}

// Flatten produces the four parallel arrays of struct drm_mode_atomic.
func (r *AtomicRequest) Flatten() (objs, counts, props []uint32, values []uint64) {
	for _, obj := range r.objects {
		pv := r.props[obj]
		objs = append(objs, obj)
		counts = append(counts, uint32(len(pv)))
		for _, p := range pv {
			props = append(props, p.ID)
			values = append(values, p.Value)
		}
	}
	return objs, counts, props, values
}

// AtomicCommit submits the request in one all-or-nothing call.
func (c *Card) AtomicCommit(r *AtomicRequest, flags uint32, userData uint64) error {
	if err := r.Err(); err != nil {
		return err
	}
	objs, counts, props, values := r.Flatten()
	req := &sysAtomic{
		flags:         flags,
		countObjs:     uint32(len(objs)),
		objsPtr:       ptr(objs),
		countPropsPtr: ptr(counts),
		propsPtr:      ptr(props),
		propValuesPtr: ptr(values),
		userData:      userData,
	}
	err := doIoctl(c.fd, "ATOMIC", ioctlModeAtomic, unsafe.Pointer(req))
	runtime.KeepAlive(objs)
	runtime.KeepAlive(counts)
	runtime.KeepAlive(props)
	runtime.KeepAlive(values)
	return err
}
