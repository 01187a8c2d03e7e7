package drm

// Kernel structures, laid out exactly as in include/uapi/drm/drm.h and
// drm_mode.h. User pointers are carried as uint64.
type (
	sysVersion struct {
		major   int32
		minor   int32
		patch   int32
		nameLen uint64
		name    uint64
		dateLen uint64
		date    uint64
		descLen uint64
		desc    uint64
	}

	sysGetCap struct {
		capability uint64
		value      uint64
	}

	sysCardRes struct {
		fbIDPtr         uint64
		crtcIDPtr       uint64
		connectorIDPtr  uint64
		encoderIDPtr    uint64
		countFbs        uint32
		countCrtcs      uint32
		countConnectors uint32
		countEncoders   uint32
		minWidth        uint32
		maxWidth        uint32
		minHeight       uint32
		maxHeight       uint32
	}

	sysGetConnector struct {
		encodersPtr   uint64
		modesPtr      uint64
		propsPtr      uint64
		propValuesPtr uint64

		countModes    uint32
		countProps    uint32
		countEncoders uint32

		encoderID       uint32
		connectorID     uint32
		connectorType   uint32
		connectorTypeID uint32

		connection uint32
		mmWidth    uint32
		mmHeight   uint32
		subpixel   uint32
		pad        uint32
	}

	sysGetEncoder struct {
		encoderID      uint32
		encoderType    uint32
		crtcID         uint32
		possibleCrtcs  uint32
		possibleClones uint32
	}

	sysCrtc struct {
		setConnectorsPtr uint64
		countConnectors  uint32
		crtcID           uint32
		fbID             uint32
		x, y             uint32
		gammaSize        uint32
		modeValid        uint32
		mode             ModeInfo
	}

	sysCursor struct {
		flags  uint32
		crtcID uint32
		x, y   int32
		width  uint32
		height uint32
		handle uint32
	}

	sysGetProperty struct {
		valuesPtr      uint64
		enumBlobPtr    uint64
		propID         uint32
		flags          uint32
		name           [propNameLen]byte
		countValues    uint32
		countEnumBlobs uint32
	}

	sysConnectorSetProperty struct {
		value       uint64
		propID      uint32
		connectorID uint32
	}

	sysGetBlob struct {
		blobID uint32
		length uint32
		data   uint64
	}

	sysPageFlip struct {
		crtcID   uint32
		fbID     uint32
		flags    uint32
		reserved uint32
		userData uint64
	}

	sysCreateDumb struct {
		height uint32
		width  uint32
		bpp    uint32
		flags  uint32
		handle uint32
		pitch  uint32
		size   uint64
	}

	sysMapDumb struct {
		handle uint32
		pad    uint32
		offset uint64
	}

	sysDestroyDumb struct {
		handle uint32
	}

	sysGetPlaneRes struct {
		planeIDPtr  uint64
		countPlanes uint32
		pad         uint32
	}

	sysGetPlane struct {
		planeID          uint32
		crtcID           uint32
		fbID             uint32
		possibleCrtcs    uint32
		gammaSize        uint32
		countFormatTypes uint32
		formatTypePtr    uint64
	}

	sysFBCmd2 struct {
		fbID        uint32
		width       uint32
		height      uint32
		pixelFormat uint32
		flags       uint32
		handles     [4]uint32
		pitches     [4]uint32
		offsets     [4]uint32
		pad         uint32
		modifier    [4]uint64
	}

	sysObjGetProperties struct {
		propsPtr      uint64
		propValuesPtr uint64
		countProps    uint32
		objID         uint32
		objType       uint32
		pad           uint32
	}

	sysAtomic struct {
		flags         uint32
		countObjs     uint32
		objsPtr       uint64
		countPropsPtr uint64
		propsPtr      uint64
		propValuesPtr uint64
		reserved      uint64
		userData      uint64
	}

	sysCreateBlob struct {
		data   uint64
		length uint32
		blobID uint32
	}

	sysDestroyBlob struct {
		blobID uint32
	}
)

const (
	displayModeLen = 32
	propNameLen    = 32
)
