package drm

import "strings"

func fourcc(a, b, c, d byte) uint32 {
	return uint32(a) | uint32(b)<<8 | uint32(c)<<16 | uint32(d)<<24
}

// Pixel formats used for scanout.
var (
	FormatXRGB8888    = fourcc('X', 'R', '2', '4')
	FormatARGB8888    = fourcc('A', 'R', '2', '4')
	FormatXBGR8888    = fourcc('X', 'B', '2', '4')
	FormatABGR8888    = fourcc('A', 'B', '2', '4')
	FormatRGB565      = fourcc('R', 'G', '1', '6')
	FormatXRGB2101010 = fourcc('X', 'R', '3', '0')
)

// Format modifiers.
const (
	ModLinear  uint64 = 0
	ModInvalid uint64 = 0x00ffffffffffffff
)

var formatNames = map[string]uint32{
	"XRGB8888":    FormatXRGB8888,
	"ARGB8888":    FormatARGB8888,
	"XBGR8888":    FormatXBGR8888,
	"ABGR8888":    FormatABGR8888,
	"RGB565":      FormatRGB565,
	"XRGB2101010": FormatXRGB2101010,
}

// FormatByName resolves a format name such as "XRGB8888".
func FormatByName(name string) (uint32, bool) {
	f, ok := formatNames[strings.ToUpper(name)]
	return f, ok
}

// FormatName renders a fourcc code as its four characters.
func FormatName(f uint32) string {
	b := []byte{byte(f), byte(f >> 8), byte(f >> 16), byte(f >> 24)}
	return strings.TrimRight(string(b), " \x00")
}

// FormatBPP returns the bits per pixel of a single-plane format, or 0.
func FormatBPP(f uint32) uint32 {
	switch f {
	case FormatRGB565:
		return 16
	case FormatXRGB8888, FormatARGB8888, FormatXBGR8888, FormatABGR8888, FormatXRGB2101010:
		return 32
	}
	return 0
}
