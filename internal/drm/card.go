package drm

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"unsafe"

	"golang.org/x/sys/unix"
)

const driPath = "/dev/dri"

// Major device number of DRM character devices.
const Major = 226

// Card is an open DRM device node.
type Card struct {
	fd   int
	path string
}

// Version of the DRM driver behind a card
type Version struct {
	Major, Minor, Patch int32
	Name                string // Name of the driver (eg.: i915)
	Date                string
	Desc                string
}

// CardPath returns the node path of the n-th primary device.
func CardPath(n int) string {
	return filepath.Join(driPath, fmt.Sprintf("card%d", n))
}

// Open opens a card node directly. Compositors should obtain the fd from a
// session broker and use NewCard instead.
func Open(path string) (*Card, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, &os.PathError{Op: "open", Path: path, Err: err}
	}
	return &Card{fd: fd, path: path}, nil
}

// NewCard wraps an already open device fd.
func NewCard(fd int, path string) *Card {
	return &Card{fd: fd, path: path}
}

func (c *Card) Fd() int        { return c.fd }
func (c *Card) Path() string   { return c.path }
func (c *Card) String() string { return c.path }

// Close closes the fd. Cards obtained through a session broker must be
// closed through the broker instead.
func (c *Card) Close() error {
	if c.fd < 0 {
		return nil
	}
	err := unix.Close(c.fd)
	c.fd = -1
	return err
}

func (c *Card) Version() (Version, error) {
	v := &sysVersion{}
	if err := doIoctl(c.fd, "VERSION", ioctlVersion, unsafe.Pointer(v)); err != nil {
		return Version{}, err
	}

	var name, date, desc []byte
	if v.nameLen > 0 {
		name = make([]byte, v.nameLen)
		v.name = ptr(name)
	}
	if v.dateLen > 0 {
		date = make([]byte, v.dateLen)
		v.date = ptr(date)
	}
	if v.descLen > 0 {
		desc = make([]byte, v.descLen)
		v.desc = ptr(desc)
	}
	err := doIoctl(c.fd, "VERSION", ioctlVersion, unsafe.Pointer(v))
	runtime.KeepAlive(name)
	runtime.KeepAlive(date)
	runtime.KeepAlive(desc)
	if err != nil {
		return Version{}, err
	}

	return Version{
		Major: v.major,
		Minor: v.minor,
		Patch: v.patch,
		Name:  cString(name),
		Date:  cString(date),
		Desc:  cString(desc),
	}, nil
}

// GetCap returns the value of a device capability.
func (c *Card) GetCap(capability uint64) (uint64, error) {
	req := &sysGetCap{capability: capability}
	if err := doIoctl(c.fd, "GET_CAP", ioctlGetCap, unsafe.Pointer(req)); err != nil {
		return 0, err
	}
	return req.value, nil
}

// SetClientCap opts into a client capability such as universal planes or
// atomic mode-setting.
func (c *Card) SetClientCap(capability, value uint64) error {
	req := &sysGetCap{capability: capability, value: value}
	return doIoctl(c.fd, "SET_CLIENT_CAP", ioctlSetClientCap, unsafe.Pointer(req))
}

func (c *Card) SetMaster() error {
	return doIoctl(c.fd, "SET_MASTER", ioctlSetMaster, nil)
}

func (c *Card) DropMaster() error {
	return doIoctl(c.fd, "DROP_MASTER", ioctlDropMaster, nil)
}

// SetMasterFd and DropMasterFd operate on bare fds held by a session broker.
func SetMasterFd(fd int) error {
	return doIoctl(fd, "SET_MASTER", ioctlSetMaster, nil)
}

func DropMasterFd(fd int) error {
	return doIoctl(fd, "DROP_MASTER", ioctlDropMaster, nil)
}

// IsDRMDevice reports whether rdev is a DRM character device number.
func IsDRMDevice(rdev uint64) bool {
	return unix.Major(rdev) == Major
}

func cString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}
