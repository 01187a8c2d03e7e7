// Package backend drives displays through kernel mode setting. It owns the
// GPU resource registry, the per-display state machine, the commit paths and
// the scanout swapchains, and runs them from a single event loop.
package backend

import (
	"errors"
	"time"

	"github.com/bnema/waykms/internal/drm"
	"launchpad.net/gommap"
)

var (
	// ErrNoFreeImage is returned when every swap image is locked; the frame
	// is skipped.
	ErrNoFreeImage = errors.New("no free swap image")
	// ErrCommitInFlight is returned when a commit is requested for a CRTC
	// whose previous commit has not completed.
	ErrCommitInFlight = errors.New("commit already in flight")
	// ErrNoCRTC is returned when no free CRTC can drive a connector.
	ErrNoCRTC = errors.New("no free compatible CRTC")
	// ErrNoPlane is returned when no free primary plane fits a CRTC.
	ErrNoPlane = errors.New("no free compatible primary plane")
	// ErrInactive is returned when a commit is attempted while the session
	// does not own the device.
	ErrInactive = errors.New("session inactive")
)

// Device is the kernel mode-setting surface the backend needs. *drm.Card
// implements it.
type Device interface {
	Fd() int
	Path() string
	Close() error

	GetCap(capability uint64) (uint64, error)
	SetClientCap(capability, value uint64) error

	Resources() (*drm.Resources, error)
	Connector(id uint32) (*drm.Connector, error)
	Encoder(id uint32) (*drm.Encoder, error)
	Crtc(id uint32) (*drm.Crtc, error)
	PlaneResources() ([]uint32, error)
	Plane(id uint32) (*drm.Plane, error)

	ObjectProperties(objID, objType uint32) ([]drm.PropertyValue, error)
	Property(id uint32) (*drm.Property, error)
	PropertyBlob(id uint32) ([]byte, error)
	CreatePropertyBlob(data []byte) (uint32, error)
	DestroyPropertyBlob(id uint32) error

	AtomicCommit(r *drm.AtomicRequest, flags uint32, userData uint64) error
	SetConnectorProperty(connectorID, propID uint32, value uint64) error
	SetCrtc(crtcID, fbID, x, y uint32, connectors []uint32, mode *drm.ModeInfo) error
	PageFlip(crtcID, fbID, flags uint32, userData uint64) error
	SetCursor(crtcID, handle, width, height uint32) error

	CreateDumb(width, height, bpp uint32) (*drm.DumbBuffer, error)
	MapDumb(buf *drm.DumbBuffer) (gommap.MMap, error)
	UnmapDumb(m gommap.MMap) error
	DestroyDumb(handle uint32) error
	AddFB2(fb *drm.Framebuffer) (uint32, error)
	RemoveFB(id uint32) error

	ReadEvents(timeout time.Duration) ([]drm.Event, error)
}

var _ Device = (*drm.Card)(nil)

func newCardDevice(fd int, path string) Device {
	return drm.NewCard(fd, path)
}
