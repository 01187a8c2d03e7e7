package drm

import (
	"runtime"
	"unsafe"
)

// Plane is a scanout surface as reported by GETPLANE. Its type comes from
// the "type" property, not from this struct.
type Plane struct {
	ID            uint32
	CrtcID        uint32
	FbID          uint32
	PossibleCrtcs uint32
	GammaSize     uint32
	Formats       []uint32
}

// PlaneResources lists plane ids. Only meaningful after the universal
// planes client capability has been enabled.
func (c *Card) PlaneResources() ([]uint32, error) {
	for {
		res := &sysGetPlaneRes{}
		if err := doIoctl(c.fd, "GETPLANERESOURCES", ioctlModeGetPlaneResources, unsafe.Pointer(res)); err != nil {
			return nil, err
		}
		ids := make([]uint32, res.countPlanes)
		want := res.countPlanes
		res.planeIDPtr = ptr(ids)

		err := doIoctl(c.fd, "GETPLANERESOURCES", ioctlModeGetPlaneResources, unsafe.Pointer(res))
		runtime.KeepAlive(ids)
		if err != nil {
			return nil, err
		}
		if res.countPlanes > want {
			continue
		}
		return ids[:res.countPlanes], nil
	}
}

func (c *Card) Plane(id uint32) (*Plane, error) {
	p := &sysGetPlane{planeID: id}
	if err := doIoctl(c.fd, "GETPLANE", ioctlModeGetPlane, unsafe.Pointer(p)); err != nil {
		return nil, err
	}

	formats := make([]uint32, p.countFormatTypes)
	p.formatTypePtr = ptr(formats)
	err := doIoctl(c.fd, "GETPLANE", ioctlModeGetPlane, unsafe.Pointer(p))
	runtime.KeepAlive(formats)
	if err != nil {
		return nil, err
	}
	if int(p.countFormatTypes) < len(formats) {
		formats = formats[:p.countFormatTypes]
	}

	return &Plane{
		ID:            p.planeID,
		CrtcID:        p.crtcID,
		FbID:          p.fbID,
		PossibleCrtcs: p.possibleCrtcs,
		GammaSize:     p.gammaSize,
		Formats:       formats,
	}, nil
}
