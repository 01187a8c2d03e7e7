package drm

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// To decode a hex ioctl code:
//
//	bits   meaning
//	31-30  00 - no parameters: _IO
//	       01 - write: _IOW
//	       10 - read: _IOR
//	       11 - read/write: _IOWR
//	29-16  size of arguments
//	15-8   ascii character unique to each driver ('d' for DRM)
//	7-0    function number
const (
	iocNone  = uint8(0x0)
	iocWrite = uint8(0x1)
	iocRead  = uint8(0x2)

	ioctlBase = 'd'
)

func newCode(typ uint8, sz uintptr, fn uint8) uint32 {
	if typ > iocWrite|iocRead {
		panic(fmt.Errorf("invalid ioctl code value: %d", typ))
	}
	if sz >= 1<<14 {
		panic(fmt.Errorf("invalid ioctl size value: %d", sz))
	}

	var code uint32
	code |= uint32(typ) << 30
	code |= uint32(sz) << 16
	code |= uint32(ioctlBase) << 8
	code |= uint32(fn)
	return code
}

func iowr(fn uint8, sz uintptr) uint32 { return newCode(iocRead|iocWrite, sz, fn) }
func iow(fn uint8, sz uintptr) uint32  { return newCode(iocWrite, sz, fn) }
func ioNone(fn uint8) uint32           { return newCode(iocNone, 0, fn) }

// IoctlError records which request failed. It unwraps to the unix.Errno
// returned by the kernel.
type IoctlError struct {
	Op  string
	Err error
}

func (e *IoctlError) Error() string { return e.Op + ": " + e.Err.Error() }
func (e *IoctlError) Unwrap() error { return e.Err }

// doIoctl retries on EINTR/EAGAIN like libdrm's drmIoctl.
func doIoctl(fd int, op string, code uint32, arg unsafe.Pointer) error {
	for {
		_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uintptr(code), uintptr(arg))
		switch errno {
		case 0:
			return nil
		case unix.EINTR, unix.EAGAIN:
			continue
		default:
			return &IoctlError{Op: op, Err: errno}
		}
	}
}

// ptr converts the address of the first element of a slice into the u64
// representation the kernel structs use for user pointers.
func ptr[T any](s []T) uint64 {
	if len(s) == 0 {
		return 0
	}
	return uint64(uintptr(unsafe.Pointer(&s[0])))
}
