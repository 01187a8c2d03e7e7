package drm

import (
	"fmt"
	"runtime"
	"unsafe"
)

// ModeInfo mirrors struct drm_mode_modeinfo. Its raw bytes are what the
// MODE_ID property blob carries.
type ModeInfo struct {
	Clock                                         uint32
	Hdisplay, HsyncStart, HsyncEnd, Htotal, Hskew uint16
	Vdisplay, VsyncStart, VsyncEnd, Vtotal, Vscan uint16

	Vrefresh uint32

	Flags uint32
	Type  uint32
	Name  [displayModeLen]uint8
}

// RefreshMHz computes the refresh rate in mHz from the mode timings.
func (m *ModeInfo) RefreshMHz() int {
	if m.Htotal == 0 || m.Vtotal == 0 {
		return int(m.Vrefresh) * 1000
	}
	refresh := (uint64(m.Clock)*1000000/uint64(m.Htotal) + uint64(m.Vtotal)/2) / uint64(m.Vtotal)
	if m.Flags&ModeFlagInterlace != 0 {
		refresh *= 2
	}
	if m.Flags&ModeFlagDblScan != 0 {
		refresh /= 2
	}
	if m.Vscan > 1 {
		refresh /= uint64(m.Vscan)
	}
	return int(refresh)
}

func (m *ModeInfo) Preferred() bool {
	return m.Type&ModeTypePreferred != 0
}

func (m *ModeInfo) ModeName() string {
	return cString(m.Name[:])
}

func (m *ModeInfo) String() string {
	return fmt.Sprintf("%dx%d@%.3f", m.Hdisplay, m.Vdisplay, float64(m.RefreshMHz())/1000)
}

// Bytes returns the raw kernel representation of the mode.
func (m *ModeInfo) Bytes() []byte {
	b := make([]byte, unsafe.Sizeof(*m))
	copy(b, unsafe.Slice((*byte)(unsafe.Pointer(m)), len(b)))
	return b
}

type (
	Resources struct {
		Fbs        []uint32
		Crtcs      []uint32
		Connectors []uint32
		Encoders   []uint32

		MinWidth, MaxWidth   uint32
		MinHeight, MaxHeight uint32
	}

	Connector struct {
		ID            uint32
		EncoderID     uint32
		Type          uint32
		TypeID        uint32
		Connection    uint32
		Width, Height uint32 // physical size in millimeters
		Subpixel      uint32

		Modes []ModeInfo

		Props      []uint32
		PropValues []uint64

		Encoders []uint32
	}

	Encoder struct {
		ID   uint32
		Type uint32

		CrtcID uint32

		PossibleCrtcs  uint32
		PossibleClones uint32
	}

	Crtc struct {
		ID       uint32
		BufferID uint32 // FB id to connect to 0 = disconnect

		X, Y          uint32 // Position on the framebuffer
		Width, Height uint32
		ModeValid     bool
		Mode          ModeInfo

		GammaSize int // Number of gamma stops
	}
)

var connectorTypeNames = []string{
	"Unknown", "VGA", "DVI-I", "DVI-D", "DVI-A", "Composite", "SVIDEO",
	"LVDS", "Component", "DIN", "DP", "HDMI-A", "HDMI-B", "TV", "eDP",
	"Virtual", "DSI", "DPI", "Writeback", "SPI", "USB",
}

// ConnectorTypeName returns the kernel name of a connector type.
func ConnectorTypeName(typ uint32) string {
	if int(typ) < len(connectorTypeNames) {
		return connectorTypeNames[typ]
	}
	return "Unknown"
}

// Name returns the connector name as the kernel and sysfs spell it,
// e.g. "HDMI-A-1".
func (c *Connector) Name() string {
	return fmt.Sprintf("%s-%d", ConnectorTypeName(c.Type), c.TypeID)
}

func (c *Card) Resources() (*Resources, error) {
	for {
		mres := &sysCardRes{}
		if err := doIoctl(c.fd, "GETRESOURCES", ioctlModeGetResources, unsafe.Pointer(mres)); err != nil {
			return nil, err
		}

		var (
			fbids        = make([]uint32, mres.countFbs)
			crtcids      = make([]uint32, mres.countCrtcs)
			connectorids = make([]uint32, mres.countConnectors)
			encoderids   = make([]uint32, mres.countEncoders)
		)
		counts := *mres
		mres.fbIDPtr = ptr(fbids)
		mres.crtcIDPtr = ptr(crtcids)
		mres.connectorIDPtr = ptr(connectorids)
		mres.encoderIDPtr = ptr(encoderids)

		err := doIoctl(c.fd, "GETRESOURCES", ioctlModeGetResources, unsafe.Pointer(mres))
		runtime.KeepAlive(fbids)
		runtime.KeepAlive(crtcids)
		runtime.KeepAlive(connectorids)
		runtime.KeepAlive(encoderids)
		if err != nil {
			return nil, err
		}

		// a connector may appear between the two calls (MST hot-plug)
		if mres.countFbs > counts.countFbs || mres.countCrtcs > counts.countCrtcs ||
			mres.countConnectors > counts.countConnectors || mres.countEncoders > counts.countEncoders {
			continue
		}

		return &Resources{
			Fbs:        fbids[:mres.countFbs],
			Crtcs:      crtcids[:mres.countCrtcs],
			Connectors: connectorids[:mres.countConnectors],
			Encoders:   encoderids[:mres.countEncoders],
			MinWidth:   mres.minWidth,
			MaxWidth:   mres.maxWidth,
			MinHeight:  mres.minHeight,
			MaxHeight:  mres.maxHeight,
		}, nil
	}
}

func (c *Card) Connector(id uint32) (*Connector, error) {
	for {
		conn := &sysGetConnector{connectorID: id}
		if err := doIoctl(c.fd, "GETCONNECTOR", ioctlModeGetConnector, unsafe.Pointer(conn)); err != nil {
			return nil, err
		}

		var (
			props      = make([]uint32, conn.countProps)
			propValues = make([]uint64, conn.countProps)
			modes      = make([]ModeInfo, conn.countModes)
			encoders   = make([]uint32, conn.countEncoders)
		)
		counts := *conn
		conn.propsPtr = ptr(props)
		conn.propValuesPtr = ptr(propValues)
		conn.modesPtr = ptr(modes)
		conn.encodersPtr = ptr(encoders)

		err := doIoctl(c.fd, "GETCONNECTOR", ioctlModeGetConnector, unsafe.Pointer(conn))
		runtime.KeepAlive(props)
		runtime.KeepAlive(propValues)
		runtime.KeepAlive(modes)
		runtime.KeepAlive(encoders)
		if err != nil {
			return nil, err
		}

		if conn.countModes > counts.countModes || conn.countProps > counts.countProps ||
			conn.countEncoders > counts.countEncoders {
			continue
		}

		return &Connector{
			ID:         conn.connectorID,
			EncoderID:  conn.encoderID,
			Type:       conn.connectorType,
			TypeID:     conn.connectorTypeID,
			Connection: conn.connection,
			Width:      conn.mmWidth,
			Height:     conn.mmHeight,
			// convert subpixel from kernel to userspace
			Subpixel:   conn.subpixel + 1,
			Modes:      modes[:conn.countModes],
			Props:      props[:conn.countProps],
			PropValues: propValues[:conn.countProps],
			Encoders:   encoders[:conn.countEncoders],
		}, nil
	}
}

func (c *Card) Encoder(id uint32) (*Encoder, error) {
	enc := &sysGetEncoder{encoderID: id}
	if err := doIoctl(c.fd, "GETENCODER", ioctlModeGetEncoder, unsafe.Pointer(enc)); err != nil {
		return nil, err
	}
	return &Encoder{
		ID:             enc.encoderID,
		Type:           enc.encoderType,
		CrtcID:         enc.crtcID,
		PossibleCrtcs:  enc.possibleCrtcs,
		PossibleClones: enc.possibleClones,
	}, nil
}

func (c *Card) Crtc(id uint32) (*Crtc, error) {
	crtc := &sysCrtc{crtcID: id}
	if err := doIoctl(c.fd, "GETCRTC", ioctlModeGetCrtc, unsafe.Pointer(crtc)); err != nil {
		return nil, err
	}
	return &Crtc{
		ID:        crtc.crtcID,
		BufferID:  crtc.fbID,
		X:         crtc.x,
		Y:         crtc.y,
		Width:     uint32(crtc.mode.Hdisplay),
		Height:    uint32(crtc.mode.Vdisplay),
		ModeValid: crtc.modeValid != 0,
		Mode:      crtc.mode,
		GammaSize: int(crtc.gammaSize),
	}, nil
}

// SetCrtc programs a CRTC with the legacy interface. A nil mode with no
// connectors disables the CRTC.
func (c *Card) SetCrtc(crtcID, fbID, x, y uint32, connectors []uint32, mode *ModeInfo) error {
	crtc := &sysCrtc{
		crtcID:           crtcID,
		fbID:             fbID,
		x:                x,
		y:                y,
		setConnectorsPtr: ptr(connectors),
		countConnectors:  uint32(len(connectors)),
	}
	if mode != nil {
		crtc.mode = *mode
		crtc.modeValid = 1
	}
	err := doIoctl(c.fd, "SETCRTC", ioctlModeSetCrtc, unsafe.Pointer(crtc))
	runtime.KeepAlive(connectors)
	return err
}

// PageFlip queues a legacy flip; with PageFlipEvent set the kernel reports
// completion through the event stream carrying userData.
func (c *Card) PageFlip(crtcID, fbID, flags uint32, userData uint64) error {
	req := &sysPageFlip{crtcID: crtcID, fbID: fbID, flags: flags, userData: userData}
	return doIoctl(c.fd, "PAGE_FLIP", ioctlModePageFlip, unsafe.Pointer(req))
}

const cursorBO = 0x01

// SetCursor sets the legacy cursor image; a zero handle hides it.
func (c *Card) SetCursor(crtcID, handle, width, height uint32) error {
	req := &sysCursor{flags: cursorBO, crtcID: crtcID, handle: handle, width: width, height: height}
	return doIoctl(c.fd, "CURSOR", ioctlModeCursor, unsafe.Pointer(req))
}
