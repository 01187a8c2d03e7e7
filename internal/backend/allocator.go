package backend

import (
	"fmt"

	"github.com/bnema/waykms/internal/drm"
	"go.uber.org/multierr"
	"launchpad.net/gommap"
)

// Buffer is one scanout-capable memory object.
type Buffer struct {
	Width, Height uint32
	Format        uint32
	Modifier      uint64
	Handle        uint32
	Pitch         uint32
	Size          uint64

	dumb *drm.DumbBuffer
}

// allocator creates scanout buffers and wraps them in kernel framebuffers.
type allocator interface {
	allocate(width, height, format uint32, modifiers []uint64) (*Buffer, error)
	addFramebuffer(b *Buffer) (uint32, error)
	removeFramebuffer(id uint32) error
	mapBuffer(b *Buffer) (gommap.MMap, error)
	unmapBuffer(m gommap.MMap) error
	destroy(b *Buffer) error
}

// dumbAllocator uses CREATE_DUMB buffers. They are always linear, so a
// modifier list without LINEAR or INVALID cannot be satisfied.
type dumbAllocator struct {
	dev       Device
	modifiers bool // ADDFB2 may carry explicit modifiers
}

func newDumbAllocator(dev Device, modifiers bool) *dumbAllocator {
	return &dumbAllocator{dev: dev, modifiers: modifiers}
}

func (a *dumbAllocator) allocate(width, height, format uint32, modifiers []uint64) (*Buffer, error) {
	bpp := drm.FormatBPP(format)
	if bpp == 0 {
		return nil, fmt.Errorf("unsupported pixel format %s", drm.FormatName(format))
	}

	modifier := drm.ModInvalid
	if len(modifiers) > 0 {
		switch {
		case containsModifier(modifiers, drm.ModLinear):
			modifier = drm.ModLinear
		case containsModifier(modifiers, drm.ModInvalid):
		default:
			return nil, fmt.Errorf("dumb buffers cannot satisfy modifiers %#x", modifiers)
		}
	}

	dumb, err := a.dev.CreateDumb(width, height, bpp)
	if err != nil {
		return nil, fmt.Errorf("CREATE_DUMB %dx%d: %w", width, height, err)
	}
	b := &Buffer{
		Width:    width,
		Height:   height,
		Format:   format,
		Modifier: modifier,
		Handle:   dumb.Handle,
		Pitch:    dumb.Pitch,
		Size:     dumb.Size,
		dumb:     dumb,
	}

	// new dumb buffers have undefined contents; scan out black until drawn
	m, err := a.mapBuffer(b)
	if err != nil {
		a.dev.DestroyDumb(dumb.Handle)
		return nil, fmt.Errorf("failed to map buffer: %w", err)
	}
	clear(m)
	if err := a.unmapBuffer(m); err != nil {
		a.dev.DestroyDumb(dumb.Handle)
		return nil, err
	}
	return b, nil
}

// addFramebuffer creates the kernel framebuffer, passing the modifier when
// the driver supports it and retrying without when it is rejected.
func (a *dumbAllocator) addFramebuffer(b *Buffer) (uint32, error) {
	fb := &drm.Framebuffer{
		Width:   b.Width,
		Height:  b.Height,
		Format:  b.Format,
		Handles: [4]uint32{b.Handle},
		Pitches: [4]uint32{b.Pitch},
	}
	if a.modifiers && b.Modifier != drm.ModInvalid {
		withMods := *fb
		withMods.Flags = drm.FBModifiers
		withMods.Modifiers = [4]uint64{b.Modifier}
		id, err := a.dev.AddFB2(&withMods)
		if err == nil {
			return id, nil
		}
	}
	id, err := a.dev.AddFB2(fb)
	if err != nil {
		return 0, fmt.Errorf("ADDFB2: %w", err)
	}
	return id, nil
}

func (a *dumbAllocator) removeFramebuffer(id uint32) error {
	return a.dev.RemoveFB(id)
}

func (a *dumbAllocator) mapBuffer(b *Buffer) (gommap.MMap, error) {
	return a.dev.MapDumb(b.dumb)
}

func (a *dumbAllocator) unmapBuffer(m gommap.MMap) error {
	return a.dev.UnmapDumb(m)
}

func (a *dumbAllocator) destroy(b *Buffer) error {
	if b.dumb == nil {
		return nil
	}
	err := a.dev.DestroyDumb(b.Handle)
	b.dumb = nil
	return err
}

func containsModifier(mods []uint64, m uint64) bool {
	for _, v := range mods {
		if v == m {
			return true
		}
	}
	return false
}

// destroyBuffer removes a buffer's framebuffer and the buffer itself.
func destroyBuffer(a allocator, b *Buffer, fbID uint32) error {
	var errs error
	if fbID != 0 {
		errs = multierr.Append(errs, a.removeFramebuffer(fbID))
	}
	return multierr.Append(errs, a.destroy(b))
}
