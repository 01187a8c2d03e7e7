package cmd

import (
	"encoding/binary"
	"testing"

	"github.com/bnema/waykms/internal/drm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPaintPattern(t *testing.T) {
	const w, h, pitch = 4, 8, 20
	buf := make([]byte, pitch*h)

	require.True(t, paintPattern(buf, drm.FormatXRGB8888, w, h, pitch, 0))
	first := binary.LittleEndian.Uint32(buf[0:])
	assert.Equal(t, uint32(0xff7f00), first, "the band row is fully red")
	assert.Equal(t, first, binary.LittleEndian.Uint32(buf[(w-1)*4:]), "rows are uniform")
	assert.Zero(t, buf[w*4], "pitch padding is untouched")

	paintPattern(buf, drm.FormatXRGB8888, w, h, pitch, 1)
	assert.Equal(t, uint32(0xff7f00), binary.LittleEndian.Uint32(buf[4*pitch:]), "the band moved four rows")
	assert.NotEqual(t, uint32(0xff7f00), binary.LittleEndian.Uint32(buf[0:]))
}

func TestPaintPatternRGB565(t *testing.T) {
	const w, h, pitch = 64, 4, 128
	buf := make([]byte, pitch*h)

	require.NotPanics(t, func() {
		assert.True(t, paintPattern(buf, drm.FormatRGB565, w, h, pitch, 0))
	})
	assert.Equal(t, uint16(0xfbe0), binary.LittleEndian.Uint16(buf[0:]))
	assert.Equal(t, uint16(0xfbe0), binary.LittleEndian.Uint16(buf[(w-1)*2:]))
}

func TestPackPixel(t *testing.T) {
	tests := []struct {
		format uint32
		want   uint32
	}{
		{drm.FormatXRGB8888, 0x00ff7f00},
		{drm.FormatARGB8888, 0xffff7f00},
		{drm.FormatXBGR8888, 0x00007fff},
		{drm.FormatABGR8888, 0xff007fff},
		{drm.FormatRGB565, 0xfbe0},
		{drm.FormatXRGB2101010, 0x3ff<<20 | 0x1fd<<10},
	}
	for _, tt := range tests {
		t.Run(drm.FormatName(tt.format), func(t *testing.T) {
			px, ok := packPixel(tt.format, 0xff, 0x7f, 0)
			require.True(t, ok)
			assert.Equal(t, tt.want, px)
		})
	}
}

func TestPaintPatternUnsupportedFormat(t *testing.T) {
	buf := make([]byte, 64)
	assert.False(t, paintPattern(buf, 0, 4, 4, 16, 0))
	assert.Equal(t, make([]byte, 64), buf)
}

func TestPaintPatternShortBuffer(t *testing.T) {
	buf := make([]byte, 40)
	assert.NotPanics(t, func() { paintPattern(buf, drm.FormatXRGB8888, 4, 8, 20, 0) })
}

func TestPaintPatternEmpty(t *testing.T) {
	assert.NotPanics(t, func() { paintPattern(nil, drm.FormatXRGB8888, 0, 0, 0, 3) })
}
