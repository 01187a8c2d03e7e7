package drm

import (
	"unsafe"

	"launchpad.net/gommap"
)

// DumbBuffer is a CPU-mappable scanout buffer created with CREATE_DUMB.
type DumbBuffer struct {
	Width, Height, BPP uint32
	Handle             uint32
	Pitch              uint32
	Size               uint64
}

func (c *Card) CreateDumb(width, height, bpp uint32) (*DumbBuffer, error) {
	req := &sysCreateDumb{width: width, height: height, bpp: bpp}
	if err := doIoctl(c.fd, "CREATE_DUMB", ioctlModeCreateDumb, unsafe.Pointer(req)); err != nil {
		return nil, err
	}
	return &DumbBuffer{
		Width:  req.width,
		Height: req.height,
		BPP:    req.bpp,
		Handle: req.handle,
		Pitch:  req.pitch,
		Size:   req.size,
	}, nil
}

// MapDumb maps a dumb buffer into memory. The mapping must be released
// with UnmapDumb.
func (c *Card) MapDumb(buf *DumbBuffer) (gommap.MMap, error) {
	req := &sysMapDumb{handle: buf.Handle}
	if err := doIoctl(c.fd, "MAP_DUMB", ioctlModeMapDumb, unsafe.Pointer(req)); err != nil {
		return nil, err
	}
	return gommap.MapAt(0, uintptr(c.fd), int64(req.offset), int64(buf.Size),
		gommap.PROT_READ|gommap.PROT_WRITE, gommap.MAP_SHARED)
}

func (c *Card) UnmapDumb(m gommap.MMap) error {
	return m.UnsafeUnmap()
}

func (c *Card) DestroyDumb(handle uint32) error {
	req := &sysDestroyDumb{handle: handle}
	return doIoctl(c.fd, "DESTROY_DUMB", ioctlModeDestroyDumb, unsafe.Pointer(req))
}

// Framebuffer describes up to four planes of memory to wrap in a kernel
// framebuffer object.
type Framebuffer struct {
	Width, Height uint32
	Format        uint32
	Handles       [4]uint32
	Pitches       [4]uint32
	Offsets       [4]uint32
	Modifiers     [4]uint64
	Flags         uint32 // FBModifiers to pass Modifiers to the kernel
}

// AddFB2 creates a framebuffer object and returns its id.
func (c *Card) AddFB2(fb *Framebuffer) (uint32, error) {
	req := &sysFBCmd2{
		width:       fb.Width,
		height:      fb.Height,
		pixelFormat: fb.Format,
		flags:       fb.Flags,
		handles:     fb.Handles,
		pitches:     fb.Pitches,
		offsets:     fb.Offsets,
	}
	if fb.Flags&FBModifiers != 0 {
		req.modifier = fb.Modifiers
	}
	if err := doIoctl(c.fd, "ADDFB2", ioctlModeAddFB2, unsafe.Pointer(req)); err != nil {
		return 0, err
	}
	return req.fbID, nil
}

func (c *Card) RemoveFB(id uint32) error {
	fbID := id
	return doIoctl(c.fd, "RMFB", ioctlModeRmFB, unsafe.Pointer(&fbID))
}
