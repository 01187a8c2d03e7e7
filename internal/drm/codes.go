package drm

import "unsafe"

var (
	// DRM_IOWR(0x00, struct drm_version)
	ioctlVersion = iowr(0x00, unsafe.Sizeof(sysVersion{}))
	// DRM_IOWR(0x0c, struct drm_get_cap)
	ioctlGetCap = iowr(0x0c, unsafe.Sizeof(sysGetCap{}))
	// DRM_IOW(0x0d, struct drm_set_client_cap)
	ioctlSetClientCap = iow(0x0d, unsafe.Sizeof(sysGetCap{}))
	// DRM_IO(0x1e)
	ioctlSetMaster = ioNone(0x1e)
	// DRM_IO(0x1f)
	ioctlDropMaster = ioNone(0x1f)

	// DRM_IOWR(0xA0, struct drm_mode_card_res)
	ioctlModeGetResources = iowr(0xA0, unsafe.Sizeof(sysCardRes{}))
	// DRM_IOWR(0xA1, struct drm_mode_crtc)
	ioctlModeGetCrtc = iowr(0xA1, unsafe.Sizeof(sysCrtc{}))
	// DRM_IOWR(0xA2, struct drm_mode_crtc)
	ioctlModeSetCrtc = iowr(0xA2, unsafe.Sizeof(sysCrtc{}))
	// DRM_IOWR(0xA3, struct drm_mode_cursor)
	ioctlModeCursor = iowr(0xA3, unsafe.Sizeof(sysCursor{}))
	// DRM_IOWR(0xA6, struct drm_mode_get_encoder)
	ioctlModeGetEncoder = iowr(0xA6, unsafe.Sizeof(sysGetEncoder{}))
	// DRM_IOWR(0xA7, struct drm_mode_get_connector)
	ioctlModeGetConnector = iowr(0xA7, unsafe.Sizeof(sysGetConnector{}))
	// DRM_IOWR(0xAA, struct drm_mode_get_property)
	ioctlModeGetProperty = iowr(0xAA, unsafe.Sizeof(sysGetProperty{}))
	// DRM_IOWR(0xAB, struct drm_mode_connector_set_property)
	ioctlModeSetProperty = iowr(0xAB, unsafe.Sizeof(sysConnectorSetProperty{}))
	// DRM_IOWR(0xAC, struct drm_mode_get_blob)
	ioctlModeGetPropBlob = iowr(0xAC, unsafe.Sizeof(sysGetBlob{}))
	// DRM_IOWR(0xAF, unsigned int)
	ioctlModeRmFB = iowr(0xAF, unsafe.Sizeof(uint32(0)))
	// DRM_IOWR(0xB0, struct drm_mode_crtc_page_flip)
	ioctlModePageFlip = iowr(0xB0, unsafe.Sizeof(sysPageFlip{}))
	// DRM_IOWR(0xB2, struct drm_mode_create_dumb)
	ioctlModeCreateDumb = iowr(0xB2, unsafe.Sizeof(sysCreateDumb{}))
	// DRM_IOWR(0xB3, struct drm_mode_map_dumb)
	ioctlModeMapDumb = iowr(0xB3, unsafe.Sizeof(sysMapDumb{}))
	// DRM_IOWR(0xB4, struct drm_mode_destroy_dumb)
	ioctlModeDestroyDumb = iowr(0xB4, unsafe.Sizeof(sysDestroyDumb{}))
	// DRM_IOWR(0xB5, struct drm_mode_get_plane_res)
	ioctlModeGetPlaneResources = iowr(0xB5, unsafe.Sizeof(sysGetPlaneRes{}))
	// DRM_IOWR(0xB6, struct drm_mode_get_plane)
	ioctlModeGetPlane = iowr(0xB6, unsafe.Sizeof(sysGetPlane{}))
	// DRM_IOWR(0xB8, struct drm_mode_fb_cmd2)
	ioctlModeAddFB2 = iowr(0xB8, unsafe.Sizeof(sysFBCmd2{}))
	// DRM_IOWR(0xB9, struct drm_mode_obj_get_properties)
	ioctlModeObjGetProperties = iowr(0xB9, unsafe.Sizeof(sysObjGetProperties{}))
	// DRM_IOWR(0xBC, struct drm_mode_atomic)
	ioctlModeAtomic = iowr(0xBC, unsafe.Sizeof(sysAtomic{}))
	// DRM_IOWR(0xBD, struct drm_mode_create_blob)
	ioctlModeCreatePropBlob = iowr(0xBD, unsafe.Sizeof(sysCreateBlob{}))
	// DRM_IOWR(0xBE, struct drm_mode_destroy_blob)
	ioctlModeDestroyPropBlob = iowr(0xBE, unsafe.Sizeof(sysDestroyBlob{}))
)

// Capabilities queried with GET_CAP.
const (
	CapDumbBuffer         = 0x1
	CapVBlankHighCRTC     = 0x2
	CapDumbPreferredDepth = 0x3
	CapDumbPreferShadow   = 0x4
	CapPrime              = 0x5
	CapTimestampMonotonic = 0x6
	CapAsyncPageFlip      = 0x7
	CapCursorWidth        = 0x8
	CapCursorHeight       = 0x9
	CapAddFB2Modifiers    = 0x10
	CapCrtcInVBlankEvent  = 0x12

	PrimeCapImport = 0x1
	PrimeCapExport = 0x2
)

// Client capabilities set with SET_CLIENT_CAP.
const (
	ClientCapStereo3D        = 1
	ClientCapUniversalPlanes = 2
	ClientCapAtomic          = 3
)

// Mode object types.
const (
	ObjectCRTC      = 0xcccccccc
	ObjectConnector = 0xc0c0c0c0
	ObjectEncoder   = 0xe0e0e0e0
	ObjectMode      = 0xdededede
	ObjectProperty  = 0xb0b0b0b0
	ObjectFB        = 0xfbfbfbfb
	ObjectBlob      = 0xbbbbbbbb
	ObjectPlane     = 0xeeeeeeee
)

// Page flip and atomic commit flags.
const (
	PageFlipEvent = 0x01
	PageFlipAsync = 0x02

	AtomicTestOnly     = 0x0100
	AtomicNonblock     = 0x0200
	AtomicAllowModeset = 0x0400
)

// Connection status reported by GETCONNECTOR.
const (
	Connected         = 1
	Disconnected      = 2
	UnknownConnection = 3
)

// Values of the plane "type" property.
const (
	PlaneTypeOverlay = 0
	PlaneTypePrimary = 1
	PlaneTypeCursor  = 2
)

// Values of the connector "DPMS" property.
const (
	DPMSOn      = 0
	DPMSStandby = 1
	DPMSSuspend = 2
	DPMSOff     = 3
)

// AddFB2 flags.
const (
	FBInterlaced = 1 << 0
	FBModifiers  = 1 << 1
)

// Event types read from the device file.
const (
	EventVBlank       = 0x01
	EventFlipComplete = 0x02
	EventCrtcSequence = 0x03
)

// Mode flags and types.
const (
	ModeFlagInterlace = 1 << 4
	ModeFlagDblScan   = 1 << 5

	ModeTypePreferred = 1 << 3
	ModeTypeDriver    = 1 << 6
)
