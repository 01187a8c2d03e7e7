package backend

import (
	"fmt"

	"github.com/bnema/waykms/internal/logger"
	"go.uber.org/multierr"
	"launchpad.net/gommap"
)

type imageState int

const (
	imageFree imageState = iota
	imageLocked
	imageReleased
)

func (s imageState) String() string {
	switch s {
	case imageFree:
		return "free"
	case imageLocked:
		return "locked"
	case imageReleased:
		return "released"
	}
	return "unknown"
}

// SwapImage is one buffer of a swapchain. It is locked from acquire until the
// state that scanned it out has been retired.
type SwapImage struct {
	chain *Swapchain
	index int
	state imageState
	buf   *Buffer
	fbID  uint32
}

func (img *SwapImage) Index() int     { return img.index }
func (img *SwapImage) Width() uint32  { return img.buf.Width }
func (img *SwapImage) Height() uint32 { return img.buf.Height }
func (img *SwapImage) Format() uint32 { return img.buf.Format }
func (img *SwapImage) Pitch() uint32  { return img.buf.Pitch }

// Map maps the image for CPU drawing. Release the mapping with Unmap.
func (img *SwapImage) Map() (gommap.MMap, error) {
	return img.chain.alloc.mapBuffer(img.buf)
}

func (img *SwapImage) Unmap(m gommap.MMap) error {
	return img.chain.alloc.unmapBuffer(m)
}

// Swapchain is a fixed-capacity ring of scanout images. Images are allocated
// lazily up to capacity.
type Swapchain struct {
	alloc     allocator
	width     uint32
	height    uint32
	format    uint32
	modifiers []uint64
	capacity  int

	images  []*SwapImage
	free    []*SwapImage
	closing bool
}

func newSwapchain(alloc allocator, width, height, format uint32, modifiers []uint64, capacity int) (*Swapchain, error) {
	if capacity < 1 || capacity > 3 {
		return nil, fmt.Errorf("invalid swapchain capacity %d", capacity)
	}
	return &Swapchain{
		alloc:     alloc,
		width:     width,
		height:    height,
		format:    format,
		modifiers: modifiers,
		capacity:  capacity,
	}, nil
}

// acquire returns a free image and locks it, or ErrNoFreeImage.
func (s *Swapchain) acquire() (*SwapImage, error) {
	if s.closing {
		return nil, ErrNoFreeImage
	}
	if n := len(s.free); n > 0 {
		img := s.free[n-1]
		s.free = s.free[:n-1]
		img.state = imageLocked
		return img, nil
	}
	if len(s.images) >= s.capacity {
		return nil, ErrNoFreeImage
	}

	buf, err := s.allocate()
	if err != nil {
		return nil, err
	}
	img := &SwapImage{chain: s, index: len(s.images), state: imageLocked, buf: buf}
	s.images = append(s.images, img)
	return img, nil
}

func (s *Swapchain) allocate() (*Buffer, error) {
	buf, err := s.alloc.allocate(s.width, s.height, s.format, s.modifiers)
	if err == nil || len(s.modifiers) == 0 {
		return buf, err
	}
	logger.Debug("swapchain: modifier list rejected, retrying implicit", "modifiers", len(s.modifiers), "err", err)
	s.modifiers = nil
	return s.alloc.allocate(s.width, s.height, s.format, nil)
}

// framebuffer returns the image's kernel framebuffer id, creating it on
// first use.
func (s *Swapchain) framebuffer(img *SwapImage) (uint32, error) {
	if img.fbID != 0 {
		return img.fbID, nil
	}
	id, err := s.alloc.addFramebuffer(img.buf)
	if err != nil {
		return 0, err
	}
	img.fbID = id
	return id, nil
}

// release marks a locked image as no longer referenced by the hardware.
func (s *Swapchain) release(img *SwapImage) {
	if img.state == imageLocked {
		img.state = imageReleased
	}
}

// push returns an image to the free list. Images of a closing chain are
// destroyed instead.
func (s *Swapchain) push(img *SwapImage) {
	if img.state == imageFree {
		return
	}
	img.state = imageFree
	if s.closing {
		if err := destroyBuffer(s.alloc, img.buf, img.fbID); err != nil {
			logger.Warn("swapchain: failed to destroy image", "index", img.index, "err", err)
		}
		img.fbID = 0
		return
	}
	s.free = append(s.free, img)
}

// recycle releases and pushes an image in one step.
func (s *Swapchain) recycle(img *SwapImage) {
	s.release(img)
	s.push(img)
}

// locked counts images currently held by a render pass or the hardware.
func (s *Swapchain) locked() int {
	n := 0
	for _, img := range s.images {
		if img.state != imageFree {
			n++
		}
	}
	return n
}

func (s *Swapchain) Capacity() int { return s.capacity }

// destroy frees every image not locked. Locked images are destroyed when
// pushed back.
func (s *Swapchain) destroy() error {
	s.closing = true
	var errs error
	for _, img := range s.images {
		if img.state != imageFree {
			continue
		}
		errs = multierr.Append(errs, destroyBuffer(s.alloc, img.buf, img.fbID))
		img.fbID = 0
	}
	s.free = nil
	return errs
}
