package cmd

import (
	"encoding/binary"

	"github.com/bnema/waykms/internal/backend"
	"github.com/bnema/waykms/internal/drm"
	"github.com/bnema/waykms/internal/logger"
)

// patternPainter draws a scrolling colour band into every frame. It stands
// in for the compositor's renderer.
type patternPainter struct {
	frames map[string]int
}

func newPatternPainter() *patternPainter {
	return &patternPainter{frames: make(map[string]int)}
}

func (p *patternPainter) draw(d *backend.Display, img *backend.SwapImage) bool {
	m, err := img.Map()
	if err != nil {
		logger.Warn("failed to map swap image", "output", d.Name(), "err", err)
		return false
	}
	defer func() {
		if err := img.Unmap(m); err != nil {
			logger.Debug("failed to unmap swap image", "output", d.Name(), "err", err)
		}
	}()

	if !paintPattern(m, img.Format(), img.Width(), img.Height(), img.Pitch(), p.frames[d.Name()]) {
		logger.Debug("pattern does not support format", "output", d.Name(), "format", drm.FormatName(img.Format()))
		return false
	}
	p.frames[d.Name()]++
	return true
}

// packPixel encodes an 8-bit RGB colour in format f. The bool is false for
// formats the pattern cannot write.
func packPixel(f uint32, r, g, b byte) (uint32, bool) {
	switch f {
	case drm.FormatXRGB8888:
		return uint32(r)<<16 | uint32(g)<<8 | uint32(b), true
	case drm.FormatARGB8888:
		return 0xff<<24 | uint32(r)<<16 | uint32(g)<<8 | uint32(b), true
	case drm.FormatXBGR8888:
		return uint32(b)<<16 | uint32(g)<<8 | uint32(r), true
	case drm.FormatABGR8888:
		return 0xff<<24 | uint32(b)<<16 | uint32(g)<<8 | uint32(r), true
	case drm.FormatRGB565:
		return uint32(r>>3)<<11 | uint32(g>>2)<<5 | uint32(b>>3), true
	case drm.FormatXRGB2101010:
		return expand10(r)<<20 | expand10(g)<<10 | expand10(b), true
	}
	return 0, false
}

func expand10(c byte) uint32 {
	return uint32(c)<<2 | uint32(c)>>6
}

// paintPattern fills a buffer of format f. Each row's colour depends on its
// distance from a band that moves down by four rows per frame. Rows that do
// not fit in buf are left alone.
func paintPattern(buf []byte, f, width, height, pitch uint32, frame int) bool {
	if _, ok := packPixel(f, 0, 0, 0); !ok {
		return false
	}
	if height == 0 {
		return true
	}
	bpp := drm.FormatBPP(f) / 8
	band := uint32(frame*4) % height
	for y := uint32(0); y < height; y++ {
		off := uint64(y) * uint64(pitch)
		if off+uint64(width)*uint64(bpp) > uint64(len(buf)) {
			break
		}
		dist := (y + height - band) % height
		shade := byte(255 - dist*255/height)
		px, _ := packPixel(f, shade, shade/2, 255-shade)
		row := buf[off:]
		for x := uint32(0); x < width; x++ {
			if bpp == 2 {
				binary.LittleEndian.PutUint16(row[x*2:], uint16(px))
			} else {
				binary.LittleEndian.PutUint32(row[x*4:], px)
			}
		}
	}
	return true
}
