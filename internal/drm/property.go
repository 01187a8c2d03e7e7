package drm

import (
	"encoding/binary"
	"fmt"
	"runtime"
	"unsafe"
)

// PropertyValue is one (property id, current value) pair of a mode object.
type PropertyValue struct {
	ID    uint32
	Value uint64
}

// Property describes a property id.
type Property struct {
	ID     uint32
	Name   string
	Flags  uint32
	Values []uint64
}

// Property flags.
const (
	PropPending   = 1 << 0
	PropRange     = 1 << 1
	PropImmutable = 1 << 2
	PropEnum      = 1 << 3
	PropBlob      = 1 << 4
	PropBitmask   = 1 << 5
)

// ObjectProperties returns the property ids and current values attached to
// a mode object.
func (c *Card) ObjectProperties(objID, objType uint32) ([]PropertyValue, error) {
	for {
		req := &sysObjGetProperties{objID: objID, objType: objType}
		if err := doIoctl(c.fd, "OBJ_GETPROPERTIES", ioctlModeObjGetProperties, unsafe.Pointer(req)); err != nil {
			return nil, err
		}

		ids := make([]uint32, req.countProps)
		values := make([]uint64, req.countProps)
		want := req.countProps
		req.propsPtr = ptr(ids)
		req.propValuesPtr = ptr(values)

		err := doIoctl(c.fd, "OBJ_GETPROPERTIES", ioctlModeObjGetProperties, unsafe.Pointer(req))
		runtime.KeepAlive(ids)
		runtime.KeepAlive(values)
		if err != nil {
			return nil, err
		}
		if req.countProps > want {
			continue
		}

		out := make([]PropertyValue, req.countProps)
		for i := range out {
			out[i] = PropertyValue{ID: ids[i], Value: values[i]}
		}
		return out, nil
	}
}

// Property fetches the name and flags of a property id.
func (c *Card) Property(id uint32) (*Property, error) {
	req := &sysGetProperty{propID: id}
	if err := doIoctl(c.fd, "GETPROPERTY", ioctlModeGetProperty, unsafe.Pointer(req)); err != nil {
		return nil, err
	}

	var values []uint64
	if req.flags&(PropRange|PropEnum|PropBitmask) != 0 && req.countValues > 0 {
		values = make([]uint64, req.countValues)
		req.valuesPtr = ptr(values)
		req.countEnumBlobs = 0
		err := doIoctl(c.fd, "GETPROPERTY", ioctlModeGetProperty, unsafe.Pointer(req))
		runtime.KeepAlive(values)
		if err != nil {
			return nil, err
		}
	}

	return &Property{
		ID:     req.propID,
		Name:   cString(req.name[:]),
		Flags:  req.flags,
		Values: values,
	}, nil
}

// PropertyBlob returns the contents of a blob property.
func (c *Card) PropertyBlob(id uint32) ([]byte, error) {
	req := &sysGetBlob{blobID: id}
	if err := doIoctl(c.fd, "GETPROPBLOB", ioctlModeGetPropBlob, unsafe.Pointer(req)); err != nil {
		return nil, err
	}
	data := make([]byte, req.length)
	req.data = ptr(data)
	err := doIoctl(c.fd, "GETPROPBLOB", ioctlModeGetPropBlob, unsafe.Pointer(req))
	runtime.KeepAlive(data)
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (c *Card) CreatePropertyBlob(data []byte) (uint32, error) {
	req := &sysCreateBlob{data: ptr(data), length: uint32(len(data))}
	err := doIoctl(c.fd, "CREATEPROPBLOB", ioctlModeCreatePropBlob, unsafe.Pointer(req))
	runtime.KeepAlive(data)
	if err != nil {
		return 0, err
	}
	return req.blobID, nil
}

func (c *Card) DestroyPropertyBlob(id uint32) error {
	req := &sysDestroyBlob{blobID: id}
	return doIoctl(c.fd, "DESTROYPROPBLOB", ioctlModeDestroyPropBlob, unsafe.Pointer(req))
}

// SetConnectorProperty is the legacy single-property setter, used for DPMS
// on drivers without atomic support.
func (c *Card) SetConnectorProperty(connectorID, propID uint32, value uint64) error {
	req := &sysConnectorSetProperty{value: value, propID: propID, connectorID: connectorID}
	return doIoctl(c.fd, "SETPROPERTY", ioctlModeSetProperty, unsafe.Pointer(req))
}

// IN_FORMATS blob layout (struct drm_format_modifier_blob).
const (
	formatBlobHeaderLen = 24
	formatModifierLen   = 24
)

// ParseFormatModifierBlob decodes an IN_FORMATS blob into a map from
// fourcc format to the modifiers supported with it.
func ParseFormatModifierBlob(blob []byte) (map[uint32][]uint64, error) {
	if len(blob) < formatBlobHeaderLen {
		return nil, fmt.Errorf("format blob too short: %d bytes", len(blob))
	}
	le := binary.LittleEndian
	countFormats := le.Uint32(blob[8:])
	formatsOffset := le.Uint32(blob[12:])
	countModifiers := le.Uint32(blob[16:])
	modifiersOffset := le.Uint32(blob[20:])

	formatsEnd := uint64(formatsOffset) + uint64(countFormats)*4
	modifiersEnd := uint64(modifiersOffset) + uint64(countModifiers)*formatModifierLen
	if formatsEnd > uint64(len(blob)) || modifiersEnd > uint64(len(blob)) {
		return nil, fmt.Errorf("format blob truncated")
	}

	formats := make([]uint32, countFormats)
	for i := range formats {
		formats[i] = le.Uint32(blob[formatsOffset+uint32(i)*4:])
	}

	out := make(map[uint32][]uint64, countFormats)
	for _, f := range formats {
		out[f] = nil
	}
	for i := uint32(0); i < countModifiers; i++ {
		m := blob[modifiersOffset+i*formatModifierLen:]
		mask := le.Uint64(m[0:])
		offset := le.Uint32(m[8:])
		modifier := le.Uint64(m[16:])
		for bit := uint32(0); bit < 64; bit++ {
			if mask&(1<<bit) == 0 {
				continue
			}
			idx := offset + bit
			if idx >= countFormats {
				break
			}
			out[formats[idx]] = append(out[formats[idx]], modifier)
		}
	}
	return out, nil
}
